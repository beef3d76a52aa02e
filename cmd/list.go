package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/sentinel-watch/internal/utils"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled identities with their embedding and image counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		ctx := cmd.Context()

		db, err := openStore(ctx)
		if err != nil {
			utils.ShowError("Failed to open the embedding store", err, nil)
			return err
		}
		defer db.Close()

		stats, err := db.Names(ctx)
		if err != nil {
			utils.ShowError("Failed to list identities", err, nil)
			return err
		}
		if len(stats) == 0 {
			fmt.Println("No identities enrolled yet.")
			return nil
		}

		images := newGallery()
		rows := make([][]string, 0, len(stats))
		for _, st := range stats {
			imgs, _ := images.Images(st.Name)
			rows = append(rows, []string{
				st.Name,
				strconv.Itoa(st.Count),
				strconv.Itoa(len(imgs)),
				st.UpdatedAt.Local().Format("2006-01-02 15:04"),
			})
		}
		fmt.Println(renderTable([]string{"NAME", "EMBEDDINGS", "IMAGES", "UPDATED"}, rows, 2, 3))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
