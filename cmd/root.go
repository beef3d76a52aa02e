package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/sentinel-watch/internal/config"
	"github.com/andresmejia3/sentinel-watch/internal/logging"
)

var (
	// cfg is the loaded configuration shared by subcommands
	cfg *config.Config
	// logger is built from cfg.Logging (or the --log-level override)
	logger zerolog.Logger

	configFlag   string
	logLevelFlag string
	// configPath is the resolved config file, passed on to regenerate subprocesses
	configPath string
)

// Version is the application version.
const Version = "0.1.0"

// exitError carries a specific process exit code back to Execute.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

var rootCmd = &cobra.Command{
	Use:     "sentinel",
	Short:   "Camera watcher that triages unknown faces through a Telegram reviewer",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional
		_ = godotenv.Load()

		loaded, path, exists, err := config.Load(configFlag)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		if exists {
			configPath = path
		}
		if logLevelFlag != "" {
			cfg.Logging.Level = logLevelFlag
		}
		logger = logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
		logger.Debug().Str("config", path).Bool("exists", exists).Msg("configuration loaded")
		return nil
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			stop()
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to config.toml (default ~/.config/sentinel/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Override logging.level (trace, debug, info, warn, error)")
}
