package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/sentinel-watch/internal/utils"
)

var (
	resetStore  bool
	resetImages bool
	resetYes    bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (embedding store, identity images, held candidates)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing EVERYTHING
		if !resetStore && !resetImages {
			resetStore = true
			resetImages = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetStore {
			if confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to delete every stored embedding (%s)?", cfg.Store.Driver)) {
				fmt.Println("🗑️  Clearing embedding store...")
				db, err := openStore(cmd.Context())
				if err != nil {
					utils.Die("Failed to open the embedding store", err, nil)
				}
				err = db.Reset(cmd.Context())
				db.Close()
				if err != nil {
					utils.Die("Failed to reset the embedding store", err, nil)
				}
			}
		}

		if resetImages {
			if confirm(reader, "⚠️  Are you sure you want to delete all identity images and held candidates?") {
				fmt.Println("🗑️  Clearing images...")
				if err := newGallery().Reset(); err != nil {
					fmt.Fprintf(os.Stderr, "⚠️  Failed to remove images: %v\n", err)
				}
			}
		}

		fmt.Println("✨ System Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetStore, "store", false, "Clear the embedding store")
	resetCmd.Flags().BoolVar(&resetImages, "images", false, "Clear dataset and temporary candidate images")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	if resetYes {
		return true
	}
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}
