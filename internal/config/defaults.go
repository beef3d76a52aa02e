package config

const (
	defaultConfigPath = "~/.config/sentinel/config.toml"

	defaultFFmpeg          = "ffmpeg"
	defaultCaptureTimeout  = 10
	defaultPython          = "python3"
	defaultEngineScript    = "python/engine.py"
	defaultEngineTimeout   = 30
	defaultTolerance       = 0.4
	defaultAttempts        = 20
	defaultIntervalMillis  = 2000
	defaultMinImages       = 3
	defaultTickMillis      = 1000
	defaultReloadSeconds   = 10
	defaultCooldownSeconds = 300
	defaultEnrollTimeout   = 10
	defaultEnrollPoll      = 500
	defaultTelegramAPI     = "https://api.telegram.org"
	defaultPollTimeout     = 30
	defaultDataDir         = "~/.local/share/sentinel"
	defaultAdminBind       = "127.0.0.1:7490"

	MetricEuclidean = "euclidean"
	MetricCosine    = "cosine"

	OverflowDropOldest = "drop_oldest"
	OverflowRejectNew  = "reject_new"

	EnrollInProcess  = "inprocess"
	EnrollSubprocess = "subprocess"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Default returns a Config populated with the built-in defaults.
func Default() Config {
	return Config{
		Camera: Camera{
			FFmpeg:         defaultFFmpeg,
			TimeoutSeconds: defaultCaptureTimeout,
		},
		Engine: Engine{
			Python:             defaultPython,
			Script:             defaultEngineScript,
			Metric:             MetricEuclidean,
			ReadTimeoutSeconds: defaultEngineTimeout,
		},
		Recognition: Recognition{Tolerance: defaultTolerance},
		Capture: Capture{
			Attempts:       defaultAttempts,
			IntervalMillis: defaultIntervalMillis,
			MinImages:      defaultMinImages,
		},
		Sensing: Sensing{
			TickMillis:    defaultTickMillis,
			ReloadSeconds: defaultReloadSeconds,
			StartEnabled:  true,
		},
		Notify: Notify{CooldownSeconds: defaultCooldownSeconds},
		Review: Review{
			Overflow:             OverflowDropOldest,
			EnrollTimeoutSeconds: defaultEnrollTimeout,
			EnrollPollMillis:     defaultEnrollPoll,
			EnrollmentMode:       EnrollInProcess,
		},
		Telegram: Telegram{
			APIURL:             defaultTelegramAPI,
			PollTimeoutSeconds: defaultPollTimeout,
			RatePerSecond:      1,
			Burst:              5,
		},
		Store: Store{
			Driver:     DriverSQLite,
			SQLitePath: "sentinel.db",
		},
		Paths: Paths{
			DataDir:    defaultDataDir,
			TempDir:    "temp_unknown",
			DatasetDir: "dataset",
			LockFile:   "sentinel.lock",
		},
		Admin:   Admin{Bind: defaultAdminBind},
		Logging: Logging{Level: "info", Format: "auto"},
	}
}
