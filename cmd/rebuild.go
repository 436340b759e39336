package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild summary.json by replaying the telemetry log",
	Long: `The rolling summary is a derived cache over the append-only log.
This command regenerates it from scratch, recovering from loss or corruption.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := appFromContext(cmd.Context())
		if err != nil {
			return err
		}

		summary, err := appInstance.Store.RebuildSummary()
		if err != nil {
			return fmt.Errorf("rebuild summary: %w", err)
		}

		fmt.Printf("Rebuilt summary from %d records: $%.4f total, %d tokens.\n",
			summary.TotalCalls, summary.TotalCostUSD, summary.TotalTokens.Total)
		return nil
	},
}
