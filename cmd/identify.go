package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/sentinel-watch/internal/engine"
	"github.com/andresmejia3/sentinel-watch/internal/logging"
	"github.com/andresmejia3/sentinel-watch/internal/matcher"
	"github.com/andresmejia3/sentinel-watch/internal/store"
	"github.com/andresmejia3/sentinel-watch/internal/types"
	"github.com/andresmejia3/sentinel-watch/internal/utils"
)

var identifyTolerance float64

var identifyCmd = &cobra.Command{
	Use:   "identify <image_path>",
	Short: "Classify the faces in one still image against the enrolled identities",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		tolerance := cfg.Recognition.Tolerance
		if cmd.Flags().Changed("tolerance") {
			tolerance = identifyTolerance
		}
		return runIdentify(cmd.Context(), args[0], tolerance)
	},
}

func init() {
	identifyCmd.Flags().Float64VarP(&identifyTolerance, "tolerance", "t", 0, "Match tolerance (default: recognition.tolerance)")
	rootCmd.AddCommand(identifyCmd)
}

func runIdentify(ctx context.Context, imagePath string, tolerance float64) error {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		utils.ShowError("Failed to read image file", err, nil)
		return err
	}

	db, err := openStore(ctx)
	if err != nil {
		utils.ShowError("Failed to open the embedding store", err, nil)
		return err
	}
	defer db.Close()
	snap, err := store.NewCache(db, logging.Component(logger, "cache")).Reload(ctx)
	if err != nil {
		utils.ShowError("Failed to load embeddings", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	eng, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	fmt.Fprintln(os.Stderr, "🔍 Analyzing faces...")
	boxes, embs, err := engine.Faces(ctx, eng, types.Frame{Data: data})
	if err != nil {
		utils.ShowError("AI processing failed", err, nil)
		return err
	}
	if len(boxes) == 0 {
		fmt.Println("❌ No faces detected in the provided image.")
		return nil
	}

	rows := make([][]string, 0, len(embs))
	for i, emb := range embs {
		res := matcher.Match(emb, snap, eng.Distance, tolerance)
		name, dist := "unknown", "-"
		if res.Known {
			name, dist = res.Name, fmt.Sprintf("%.3f", res.Distance)
		}
		b := boxes[i]
		rows = append(rows, []string{
			fmt.Sprint(i + 1),
			fmt.Sprintf("%dx%d @ (%d,%d)", b.Width(), b.Height(), b.Left, b.Top),
			name,
			dist,
		})
	}
	fmt.Printf("%d identities, %d embeddings, tolerance %.2f\n", snap.Identities, len(snap.Entries), tolerance)
	fmt.Println(renderTable([]string{"FACE", "BOX", "MATCH", "DISTANCE"}, rows, 1, 4))
	return nil
}
