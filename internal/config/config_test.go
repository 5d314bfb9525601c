package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"spool/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, path, exists, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatalf("expected exists=false for %s", path)
	}
	if cfg.OverDrive.UserAgent != "OverDrive Media Console" {
		t.Fatalf("unexpected default user agent: %q", cfg.OverDrive.UserAgent)
	}
	if cfg.Assembly.ChapterFallback != config.ChapterFallbackPerPart {
		t.Fatalf("unexpected default chapter fallback: %q", cfg.Assembly.ChapterFallback)
	}
}

func TestLoadOverridesAndExpandsPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
[paths]
staging_dir = "` + filepath.Join(dir, "staging") + `"

[download]
workers = 4

[assembly]
chapter_fallback = "abort"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to be detected")
	}
	if cfg.Download.Workers != 4 {
		t.Fatalf("override not applied: %d", cfg.Download.Workers)
	}
	if cfg.Assembly.ChapterFallback != config.ChapterFallbackAbort {
		t.Fatalf("override not applied: %q", cfg.Assembly.ChapterFallback)
	}
	if !filepath.IsAbs(cfg.Paths.StagingDir) {
		t.Fatalf("staging dir not absolute: %q", cfg.Paths.StagingDir)
	}
}

func TestLoadImportArgs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
[import]
enabled = true
tool = "beet"
args = [" add ", "", "--quiet"]
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Import.Args) != 2 || cfg.Import.Args[0] != "add" || cfg.Import.Args[1] != "--quiet" {
		t.Fatalf("args not normalized: %v", cfg.Import.Args)
	}

	// Absent args fall back to the non-interactive move import.
	defaults := config.Default()
	if len(defaults.Import.Args) != 2 || defaults.Import.Args[0] != "import" || defaults.Import.Args[1] != "-m" {
		t.Fatalf("default args = %v", defaults.Import.Args)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"zero_workers", func(c *config.Config) { c.Download.Workers = 0 }, "download.workers"},
		{"bad_fallback", func(c *config.Config) { c.Assembly.ChapterFallback = "skip" }, "chapter_fallback"},
		{"no_title_token", func(c *config.Config) { c.Library.DirFormat = "@AUTHOR" }, "@TITLE"},
		{"empty_user_agent", func(c *config.Config) { c.OverDrive.UserAgent = "" }, "user_agent"},
		{"negative_tolerance", func(c *config.Config) { c.Assembly.DurationToleranceSeconds = -1 }, "tolerance"},
		{"bad_log_format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestSampleConfigRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(config.SampleConfig()), 0o644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config should load cleanly: %v", err)
	}
}
