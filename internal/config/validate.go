package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRecognition(); err != nil {
		return err
	}
	if err := c.validateCapture(); err != nil {
		return err
	}
	if err := c.validateTiming(); err != nil {
		return err
	}
	if err := c.validateReview(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	return c.validateLogging()
}

// ValidateWatch adds the checks only the long-running daemon needs.
func (c *Config) ValidateWatch() error {
	if c.Telegram.Token == "" {
		return errors.New("telegram.token is required. Set SENTINEL_TELEGRAM_TOKEN or edit the config file")
	}
	if c.Telegram.ChatID == 0 {
		return errors.New("telegram.chat_id is required. Set SENTINEL_TELEGRAM_CHAT_ID or edit the config file")
	}
	if c.Camera.URL == "" {
		return errors.New("camera.url is required. Set SENTINEL_CAMERA_URL or edit the config file")
	}
	return nil
}

func (c *Config) validateRecognition() error {
	if c.Recognition.Tolerance <= 0 || c.Recognition.Tolerance > 2 {
		return errors.New("recognition.tolerance must be in (0, 2]")
	}
	switch c.Engine.Metric {
	case MetricEuclidean, MetricCosine:
	default:
		return fmt.Errorf("engine.metric %q is not supported (use %s or %s)", c.Engine.Metric, MetricEuclidean, MetricCosine)
	}
	return nil
}

func (c *Config) validateCapture() error {
	if c.Capture.Attempts < 1 {
		return errors.New("capture.attempts must be at least 1")
	}
	if c.Capture.MinImages < 1 {
		return errors.New("capture.min_images must be at least 1")
	}
	if c.Capture.MinImages > c.Capture.Attempts {
		return errors.New("capture.min_images cannot exceed capture.attempts")
	}
	return nil
}

func (c *Config) validateTiming() error {
	checks := []struct {
		key   string
		value int
	}{
		{"camera.timeout_seconds", c.Camera.TimeoutSeconds},
		{"engine.read_timeout_seconds", c.Engine.ReadTimeoutSeconds},
		{"capture.interval_ms", c.Capture.IntervalMillis},
		{"sensing.tick_ms", c.Sensing.TickMillis},
		{"sensing.reload_seconds", c.Sensing.ReloadSeconds},
		{"notify.cooldown_seconds", c.Notify.CooldownSeconds},
		{"review.enroll_timeout_seconds", c.Review.EnrollTimeoutSeconds},
		{"review.enroll_poll_ms", c.Review.EnrollPollMillis},
		{"telegram.poll_timeout_seconds", c.Telegram.PollTimeoutSeconds},
	}
	for _, check := range checks {
		if check.value <= 0 {
			return fmt.Errorf("%s must be positive", check.key)
		}
	}
	if c.Telegram.RatePerSecond <= 0 || c.Telegram.Burst < 1 {
		return errors.New("telegram.rate_per_second and telegram.burst must be positive")
	}
	return nil
}

func (c *Config) validateReview() error {
	if c.Review.MaxQueue < 0 {
		return errors.New("review.max_queue must be >= 0 (0 = unbounded)")
	}
	switch c.Review.Overflow {
	case OverflowDropOldest, OverflowRejectNew:
	default:
		return fmt.Errorf("review.overflow %q is not supported (use %s or %s)", c.Review.Overflow, OverflowDropOldest, OverflowRejectNew)
	}
	switch c.Review.EnrollmentMode {
	case EnrollInProcess, EnrollSubprocess:
	default:
		return fmt.Errorf("review.enrollment_mode %q is not supported (use %s or %s)", c.Review.EnrollmentMode, EnrollInProcess, EnrollSubprocess)
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path must be set for the sqlite driver")
		}
	case DriverPostgres:
		if c.Store.PostgresURL == "" {
			return errors.New("store.postgres_url must be set for the postgres driver (or DATABASE_URL / POSTGRES_HOST)")
		}
	default:
		return fmt.Errorf("store.driver %q is not supported (use %s or %s)", c.Store.Driver, DriverSQLite, DriverPostgres)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported (use auto, console or json)", c.Logging.Format)
	}
	return nil
}
