package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/sentinel-watch/internal/daemon"
	"github.com/andresmejia3/sentinel-watch/internal/logging"
	"github.com/andresmejia3/sentinel-watch/internal/utils"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the camera and send unknown faces to the Telegram reviewer",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := cfg.ValidateWatch(); err != nil {
			utils.ShowError("Configuration is incomplete for watch", err, nil)
			return err
		}
		if err := cfg.EnsureDirectories(); err != nil {
			utils.ShowError("Failed to create data directories", err, nil)
			return err
		}
		fmt.Fprintf(os.Stderr, "👁️  Sentinel %s watching %s (%s)\n", Version, cfg.Camera.URL,
			logging.Describe(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format}))
		return daemon.New(cfg, configPath, logger).Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
