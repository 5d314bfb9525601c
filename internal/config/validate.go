package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateOverDrive(); err != nil {
		return err
	}
	if err := c.validateDownload(); err != nil {
		return err
	}
	if err := c.validateAssembly(); err != nil {
		return err
	}
	if err := c.validateImport(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		return errors.New("paths.staging_dir must be set")
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return errors.New("paths.state_dir must be set")
	}
	if strings.TrimSpace(c.Library.DirFormat) == "" {
		return errors.New("library.dir_format must be set")
	}
	if !strings.Contains(c.Library.DirFormat, "@TITLE") {
		return errors.New("library.dir_format must contain @TITLE")
	}
	return nil
}

func (c *Config) validateOverDrive() error {
	if c.OverDrive.UserAgent == "" {
		return errors.New("overdrive.user_agent must be set")
	}
	if c.OverDrive.RequestTimeout <= 0 {
		return errors.New("overdrive.request_timeout must be positive")
	}
	if c.OverDrive.RetryAttempts < 1 {
		return errors.New("overdrive.retry_attempts must be at least 1")
	}
	return nil
}

func (c *Config) validateDownload() error {
	if c.Download.Workers < 1 {
		return errors.New("download.workers must be at least 1")
	}
	if c.Download.RetryAttempts < 1 {
		return errors.New("download.retry_attempts must be at least 1")
	}
	return nil
}

func (c *Config) validateAssembly() error {
	if c.Assembly.FFmpegBinary == "" {
		return errors.New("assembly.ffmpeg_binary must be set")
	}
	if c.Assembly.FFprobeBinary == "" {
		return errors.New("assembly.ffprobe_binary must be set")
	}
	if c.Assembly.DurationToleranceSeconds < 0 {
		return errors.New("assembly.duration_tolerance_seconds must not be negative")
	}
	switch c.Assembly.ChapterFallback {
	case ChapterFallbackAbort, ChapterFallbackPerPart:
	default:
		return fmt.Errorf("assembly.chapter_fallback must be %q or %q", ChapterFallbackAbort, ChapterFallbackPerPart)
	}
	return nil
}

func (c *Config) validateImport() error {
	if c.Import.Enabled && c.Import.Tool == "" {
		return errors.New("import.tool must be set when import.enabled is true")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format must be \"console\" or \"json\", got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not recognized", c.Logging.Level)
	}
	return nil
}
