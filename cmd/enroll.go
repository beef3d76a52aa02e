package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/sentinel-watch/internal/camera"
	"github.com/andresmejia3/sentinel-watch/internal/gallery"
	"github.com/andresmejia3/sentinel-watch/internal/logging"
	"github.com/andresmejia3/sentinel-watch/internal/utils"
)

var (
	enrollFromCamera bool
	enrollCount      int
	enrollInterval   time.Duration
)

var errNoFrames = errors.New("camera returned no frames")

var enrollCmd = &cobra.Command{
	Use:   "enroll <name> [image]...",
	Short: "Add images to an identity and regenerate its embeddings",
	Long: `Copies the given images into dataset/<name>/ and regenerates the identity.
With --from-camera, the images are instead grabbed from the configured camera,
--count frames spaced --interval apart.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if enrollFromCamera {
			return cobra.ExactArgs(1)(cmd, args)
		}
		return cobra.MinimumNArgs(2)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		cmd.SilenceErrors = true
		name, images := args[0], args[1:]

		if !enrollFromCamera {
			for _, img := range images {
				if _, err := os.Stat(img); err != nil {
					utils.ShowError("Input file does not exist", err, nil)
					return &exitError{code: 1, err: err}
				}
			}
		}
		if err := cfg.EnsureDirectories(); err != nil {
			utils.ShowError("Failed to create data directories", err, nil)
			return &exitError{code: 1, err: err}
		}

		g := newGallery()
		var (
			added []string
			err   error
		)
		if enrollFromCamera {
			added, err = enrollFromSource(cmd.Context(), g, name)
		} else {
			added, err = g.AddImages(name, images)
		}
		if err != nil {
			utils.ShowError(fmt.Sprintf("Failed to add images to %s", name), err, nil)
			return &exitError{code: 1, err: err}
		}
		fmt.Fprintf(os.Stderr, "📁 Added %d images to %s\n", len(added), name)

		return runRegenerate(cmd.Context(), name, true)
	},
}

func init() {
	enrollCmd.Flags().BoolVar(&enrollFromCamera, "from-camera", false, "Capture the images from the configured camera")
	enrollCmd.Flags().IntVar(&enrollCount, "count", 20, "Frames to capture with --from-camera")
	enrollCmd.Flags().DurationVar(&enrollInterval, "interval", 3*time.Second, "Pause between captures with --from-camera")
	rootCmd.AddCommand(enrollCmd)
}

func enrollFromSource(ctx context.Context, g *gallery.Gallery, name string) ([]string, error) {
	if cfg.Camera.URL == "" {
		return nil, errors.New("camera.url is not configured")
	}
	if enrollCount < 1 {
		return nil, fmt.Errorf("--count must be positive, got %d", enrollCount)
	}
	cam := camera.NewFFmpeg(cfg.Camera.URL, cfg.Camera.FFmpeg, cfg.CaptureTimeout(), logging.Component(logger, "camera"))
	fmt.Fprintf(os.Stderr, "📷 Capturing %d frames of %s every %s, look at the camera\n", enrollCount, name, enrollInterval)

	bar := progressbar.NewOptions(enrollCount,
		progressbar.OptionSetDescription("📷 Capturing "+name),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	return captureImages(ctx, cam, g, name, enrollCount, enrollInterval, func(attempt int) { _ = bar.Set(attempt) })
}

// captureImages grabs count frames from src into name's collection. Failed grabs are
// skipped; it fails only when ctx ends or no frame could be stored at all.
func captureImages(ctx context.Context, src camera.Source, g *gallery.Gallery, name string, count int, interval time.Duration, onAttempt func(attempt int)) ([]string, error) {
	var saved []string
	for attempt := 1; attempt <= count; attempt++ {
		if err := ctx.Err(); err != nil {
			return saved, err
		}
		if frame, ok := src.CaptureFrame(ctx); ok {
			path, err := g.SaveImage(name, frame.Data)
			if err != nil {
				return saved, err
			}
			saved = append(saved, path)
		} else {
			logger.Debug().Int("attempt", attempt).Msg("camera capture failed")
		}
		if onAttempt != nil {
			onAttempt(attempt)
		}
		if attempt < count && interval > 0 {
			select {
			case <-ctx.Done():
				return saved, ctx.Err()
			case <-time.After(interval):
			}
		}
	}
	if len(saved) == 0 {
		return nil, errNoFrames
	}
	return saved, nil
}
