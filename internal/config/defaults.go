package config

const (
	defaultStagingDir     = "~/.local/share/spool/staging"
	defaultLibraryDir     = "~/audiobooks"
	defaultStateDir       = "~/.local/share/spool/state"
	defaultLogDir         = "~/.local/share/spool/logs"
	defaultUserAgent      = "OverDrive Media Console"
	defaultOMCVersion     = "1.2.0"
	defaultOSVersion      = "10.11.6"
	defaultRequestTimeout = 30
	defaultRetryAttempts  = 3
	defaultWorkers        = 2
	defaultAudioBitrate   = "64k"
	defaultToleranceSecs  = 2
	defaultDirFormat      = "@AUTHOR - @TITLE"
	defaultImportTool     = "beet"
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
)

// defaultImportArgs matches beets' non-interactive move import.
func defaultImportArgs() []string {
	return []string{"import", "-m"}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			LibraryDir: defaultLibraryDir,
			StateDir:   defaultStateDir,
			LogDir:     defaultLogDir,
		},
		OverDrive: OverDrive{
			UserAgent:      defaultUserAgent,
			OMCVersion:     defaultOMCVersion,
			OSVersion:      defaultOSVersion,
			RequestTimeout: defaultRequestTimeout,
			RetryAttempts:  defaultRetryAttempts,
		},
		Download: Download{
			Workers:       defaultWorkers,
			RetryAttempts: defaultRetryAttempts,
			ProgressBars:  true,
		},
		Assembly: Assembly{
			FFmpegBinary:             "ffmpeg",
			FFprobeBinary:            "ffprobe",
			AudioBitrate:             defaultAudioBitrate,
			DurationToleranceSeconds: defaultToleranceSecs,
			ChapterFallback:          ChapterFallbackPerPart,
		},
		Import: Import{
			Enabled: false,
			Tool:    defaultImportTool,
			Args:    defaultImportArgs(),
		},
		Library: Library{
			DirFormat: defaultDirFormat,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
