package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// applyEnv layers environment variables over file values.
func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv("SENTINEL_TELEGRAM_TOKEN"); ok && v != "" {
		c.Telegram.Token = v
	}
	if v, ok := os.LookupEnv("SENTINEL_TELEGRAM_CHAT_ID"); ok && v != "" {
		if id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			c.Telegram.ChatID = id
		}
	}
	if v, ok := os.LookupEnv("SENTINEL_CAMERA_URL"); ok && v != "" {
		c.Camera.URL = v
	}
	if v, ok := os.LookupEnv("DATABASE_URL"); ok && v != "" {
		c.Store.PostgresURL = v
	}
	// Compose the DSN from the discrete variables docker-compose setups export.
	if c.Store.PostgresURL == "" {
		if host := os.Getenv("POSTGRES_HOST"); host != "" {
			port := os.Getenv("POSTGRES_PORT")
			if port == "" {
				port = "5432"
			}
			c.Store.PostgresURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
				os.Getenv("POSTGRES_USER"), os.Getenv("POSTGRES_PASSWORD"), host, port, os.Getenv("POSTGRES_DB"))
		}
	}
}

func (c *Config) normalize() error {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.Engine.Metric = strings.ToLower(strings.TrimSpace(c.Engine.Metric))
	c.Review.Overflow = strings.ToLower(strings.TrimSpace(c.Review.Overflow))
	c.Review.EnrollmentMode = strings.ToLower(strings.TrimSpace(c.Review.EnrollmentMode))
	c.Telegram.APIURL = strings.TrimRight(strings.TrimSpace(c.Telegram.APIURL), "/")
	if c.Telegram.APIURL == "" {
		c.Telegram.APIURL = defaultTelegramAPI
	}
	c.Admin.Bind = strings.TrimSpace(c.Admin.Bind)
	if c.Admin.Bind == "" {
		c.Admin.Bind = defaultAdminBind
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	resolve := func(key string, value *string) error {
		v := strings.TrimSpace(*value)
		if v == "" {
			return fmt.Errorf("%s must be set", key)
		}
		if !strings.HasPrefix(v, "~") && !filepath.IsAbs(v) {
			v = filepath.Join(c.Paths.DataDir, v)
		}
		expanded, err := expandPath(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*value = expanded
		return nil
	}
	if err := resolve("paths.temp_dir", &c.Paths.TempDir); err != nil {
		return err
	}
	if err := resolve("paths.dataset_dir", &c.Paths.DatasetDir); err != nil {
		return err
	}
	if err := resolve("paths.lock_file", &c.Paths.LockFile); err != nil {
		return err
	}
	if c.Store.Driver == DriverSQLite {
		if err := resolve("store.sqlite_path", &c.Store.SQLitePath); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = "auto"
	}
}
