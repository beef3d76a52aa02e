package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Camera configures the single RTSP frame source.
type Camera struct {
	URL            string `toml:"url"`
	FFmpeg         string `toml:"ffmpeg"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Engine configures the embedding engine subprocess.
type Engine struct {
	Python             string `toml:"python"`
	Script             string `toml:"script"`
	Metric             string `toml:"metric"`
	ReadTimeoutSeconds int    `toml:"read_timeout_seconds"`
}

// Recognition holds the shared distance threshold.
type Recognition struct {
	Tolerance float64 `toml:"tolerance"`
}

// Capture configures the candidate capture session.
type Capture struct {
	Attempts       int `toml:"attempts"`
	IntervalMillis int `toml:"interval_ms"`
	MinImages      int `toml:"min_images"`
}

// Sensing configures the sensing loop cadence.
type Sensing struct {
	TickMillis    int  `toml:"tick_ms"`
	ReloadSeconds int  `toml:"reload_seconds"`
	StartEnabled  bool `toml:"start_enabled"`
}

// Notify configures known-identity notices.
type Notify struct {
	CooldownSeconds int `toml:"cooldown_seconds"`
}

// Review configures the review queue and enrollment confirmation.
type Review struct {
	MaxQueue             int    `toml:"max_queue"`
	Overflow             string `toml:"overflow"`
	EnrollTimeoutSeconds int    `toml:"enroll_timeout_seconds"`
	EnrollPollMillis     int    `toml:"enroll_poll_ms"`
	EnrollmentMode       string `toml:"enrollment_mode"`
}

// Telegram configures the review channel.
type Telegram struct {
	Token              string  `toml:"token"`
	ChatID             int64   `toml:"chat_id"`
	APIURL             string  `toml:"api_url"`
	PollTimeoutSeconds int     `toml:"poll_timeout_seconds"`
	RatePerSecond      float64 `toml:"rate_per_second"`
	Burst              int     `toml:"burst"`
}

// Store selects the embedding persistence backend.
type Store struct {
	Driver      string `toml:"driver"`
	SQLitePath  string `toml:"sqlite_path"`
	PostgresURL string `toml:"postgres_url"`
}

// Paths contains on-disk locations. Relative entries are resolved under DataDir.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	TempDir    string `toml:"temp_dir"`
	DatasetDir string `toml:"dataset_dir"`
	LockFile   string `toml:"lock_file"`
}

// Admin configures the local HTTP admin surface.
type Admin struct {
	Bind string `toml:"bind"`
}

// Logging configures zerolog output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config encapsulates all configuration values for sentinel.
type Config struct {
	Camera      Camera      `toml:"camera"`
	Engine      Engine      `toml:"engine"`
	Recognition Recognition `toml:"recognition"`
	Capture     Capture     `toml:"capture"`
	Sensing     Sensing     `toml:"sensing"`
	Notify      Notify      `toml:"notify"`
	Review      Review      `toml:"review"`
	Telegram    Telegram    `toml:"telegram"`
	Store       Store       `toml:"store"`
	Paths       Paths       `toml:"paths"`
	Admin       Admin       `toml:"admin"`
	Logging     Logging     `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load parses the configuration file at path (or the default location), applies
// environment overrides, normalizes paths and validates the result.
// A missing file is not an error; defaults are used instead.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		path = defaultConfigPath
	}
	expanded, err := expandPath(path)
	if err != nil {
		return "", false, err
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return expanded, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("config path %q is a directory", expanded)
	}
	return expanded, true, nil
}

// EnsureDirectories creates the holding and dataset directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.TempDir, c.Paths.DatasetDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func (c *Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Camera.TimeoutSeconds) * time.Second
}

func (c *Config) EngineReadTimeout() time.Duration {
	return time.Duration(c.Engine.ReadTimeoutSeconds) * time.Second
}

func (c *Config) CaptureInterval() time.Duration {
	return time.Duration(c.Capture.IntervalMillis) * time.Millisecond
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Sensing.TickMillis) * time.Millisecond
}

func (c *Config) ReloadInterval() time.Duration {
	return time.Duration(c.Sensing.ReloadSeconds) * time.Second
}

func (c *Config) NotifyCooldown() time.Duration {
	return time.Duration(c.Notify.CooldownSeconds) * time.Second
}

func (c *Config) EnrollTimeout() time.Duration {
	return time.Duration(c.Review.EnrollTimeoutSeconds) * time.Second
}

func (c *Config) EnrollPoll() time.Duration {
	return time.Duration(c.Review.EnrollPollMillis) * time.Millisecond
}

func (c *Config) TelegramPollTimeout() time.Duration {
	return time.Duration(c.Telegram.PollTimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}
