package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/sentinel-watch/internal/enroll"
	"github.com/andresmejia3/sentinel-watch/internal/gallery"
	"github.com/andresmejia3/sentinel-watch/internal/logging"
	"github.com/andresmejia3/sentinel-watch/internal/utils"
)

var (
	regenerateQuiet       bool
	regenerateAll         bool
	regenerateMissingOnly bool
)

var regenerateCmd = &cobra.Command{
	Use:   "regenerate [name]",
	Short: "Rebuild the stored embeddings of one identity, or of every identity, from its images",
	Long: `Re-encodes every image in dataset/<name>/ and replaces the identity's stored embeddings.
With --all, every directory under dataset/ is processed; --missing-only skips identities
that already have stored embeddings.

Exit codes: 0 success, 2 no usable images (store untouched), 3 the store write failed.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if regenerateAll {
			return cobra.NoArgs(cmd, args)
		}
		if regenerateMissingOnly {
			return errors.New("--missing-only requires --all")
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		cmd.SilenceErrors = true
		if regenerateAll {
			return runRegenerateAll(cmd.Context(), regenerateMissingOnly, !regenerateQuiet)
		}
		return runRegenerate(cmd.Context(), args[0], !regenerateQuiet)
	},
}

func init() {
	regenerateCmd.Flags().BoolVarP(&regenerateQuiet, "quiet", "q", false, "Do not draw a progress bar")
	regenerateCmd.Flags().BoolVar(&regenerateAll, "all", false, "Regenerate every identity in the dataset directory")
	regenerateCmd.Flags().BoolVar(&regenerateMissingOnly, "missing-only", false, "With --all, skip identities that already have embeddings")
	rootCmd.AddCommand(regenerateCmd)
}

func runRegenerate(ctx context.Context, name string, progress bool) error {
	report, err := regenerate(ctx, name, progress)
	if err != nil {
		utils.ShowError(fmt.Sprintf("Failed to regenerate %s", name), err, nil)
		return &exitError{code: enroll.ExitCode(err), err: err}
	}
	fmt.Fprintf(os.Stderr, "✅ %s: %d embeddings from %d images (%d skipped) in %s\n",
		report.Name, report.Used, report.Images, report.Skipped, report.Duration.Round(time.Millisecond))
	return nil
}

// regenerate opens the store and engine for one run of the enroller.
func regenerate(ctx context.Context, name string, progress bool) (enroll.Report, error) {
	db, err := openStore(ctx)
	if err != nil {
		return enroll.Report{}, fmt.Errorf("%w: %v", enroll.ErrPersist, err)
	}
	defer db.Close()

	eng, err := newEngine()
	if err != nil {
		return enroll.Report{}, err
	}
	defer eng.Close()

	images := newGallery()
	var onProgress func(done, total int)
	if progress {
		paths, _ := images.Images(name)
		bar := progressbar.NewOptions(len(paths),
			progressbar.OptionSetDescription("🧬 Encoding "+name),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
		onProgress = func(done, _ int) { _ = bar.Set(done) }
	}

	e := enroll.New(images, eng, db, logging.Component(logger, "enroll"))
	return e.Regenerate(ctx, name, onProgress)
}

func runRegenerateAll(ctx context.Context, missingOnly, progress bool) error {
	db, err := openStore(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %v", enroll.ErrPersist, err)
		utils.ShowError("Failed to open the embedding store", err, nil)
		return &exitError{code: enroll.ExitPersist, err: err}
	}
	defer db.Close()

	eng, err := newEngine()
	if err != nil {
		utils.ShowError("Failed to start the face engine", err, nil)
		return &exitError{code: 1, err: err}
	}
	defer eng.Close()

	images := newGallery()
	reports, err := regenerateIdentities(ctx, images, enroll.New(images, eng, db, logging.Component(logger, "enroll")), missingOnly, progress)
	if len(reports) > 0 {
		rows := make([][]string, 0, len(reports))
		for _, r := range reports {
			rows = append(rows, []string{r.Name, strconv.Itoa(r.Used), strconv.Itoa(r.Images), strconv.Itoa(r.Skipped)})
		}
		fmt.Fprintln(os.Stderr, renderTable([]string{"NAME", "EMBEDDINGS", "IMAGES", "SKIPPED"}, rows, 2, 3, 4))
	}
	if err != nil {
		utils.ShowError("Some identities could not be regenerated", err, nil)
		return &exitError{code: enroll.ExitCode(err), err: err}
	}
	fmt.Fprintf(os.Stderr, "✅ Regenerated %d identities\n", len(reports))
	return nil
}

// regenerateIdentities runs the enroller over every identity directory of the gallery.
func regenerateIdentities(ctx context.Context, g *gallery.Gallery, e *enroll.Enroller, missingOnly, progress bool) ([]enroll.Report, error) {
	names, err := g.Identities()
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	if len(names) == 0 {
		return nil, nil
	}

	var onProgress func(name string, done, total int)
	if progress {
		var (
			bar     *progressbar.ProgressBar
			current string
		)
		onProgress = func(name string, done, total int) {
			if name != current {
				current = name
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetDescription("🧬 Encoding "+name),
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionShowCount(),
					progressbar.OptionClearOnFinish(),
				)
			}
			_ = bar.Set(done)
		}
	}
	return e.RegenerateAll(ctx, names, missingOnly, onProgress)
}
