package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/sentinel-watch/internal/admin"
	"github.com/andresmejia3/sentinel-watch/internal/triage"
)

var detectionCmd = &cobra.Command{
	Use:       "detection <on|off|status>",
	Short:     "Enable, disable or inspect detection on the running watch daemon",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"on", "off", "status"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if cfg.Admin.Bind == "" {
			return fmt.Errorf("admin.bind is empty; the daemon has no admin server")
		}
		client := admin.NewClient(cfg.Admin.Bind)
		ctx := cmd.Context()

		var (
			sum triage.Summary
			err error
		)
		switch args[0] {
		case "on":
			sum, err = client.SetDetection(ctx, true)
		case "off":
			sum, err = client.SetDetection(ctx, false)
		default:
			sum, err = client.Status(ctx)
		}
		if err != nil {
			return err
		}
		fmt.Println(renderSummary(sum))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(detectionCmd)
}

func renderSummary(sum triage.Summary) string {
	detection := "🟢 enabled"
	if !sum.Enabled {
		detection = "🔴 disabled"
	}
	review := "-"
	if sum.UnderReview != "" {
		review = fmt.Sprintf("%s (%s)", sum.UnderReview, strings.ToLower(string(sum.Phase)))
	}
	queued := "-"
	if len(sum.Queued) > 0 {
		queued = strings.Join(sum.Queued, ", ")
	}
	rows := [][]string{
		{"Detection", detection},
		{"Under review", review},
		{"Queued", queued},
		{"In flight", strconv.Itoa(sum.LiveBuffer)},
		{"Candidates today", strconv.Itoa(sum.TodayCount)},
	}
	return renderTable([]string{"FIELD", "VALUE"}, rows)
}
