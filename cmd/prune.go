package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pruneMaxAgeDays int

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete telemetry older than the retention window",
	Long: `Removes whole date directories strictly older than the retention
cutoff. The current day's directory is never removed. Running prune twice
produces the same end state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := appFromContext(cmd.Context())
		if err != nil {
			return err
		}

		days := pruneMaxAgeDays
		if days < 0 {
			days = appInstance.Config.RetentionDays
		}

		removed, err := appInstance.Store.EnforceRetention(days)
		if err != nil {
			return fmt.Errorf("enforce retention: %w", err)
		}
		fmt.Printf("Removed %d date director%s older than %d days.\n",
			removed, plural(removed, "y", "ies"), days)
		return nil
	},
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func init() {
	pruneCmd.Flags().IntVar(&pruneMaxAgeDays, "max-age-days", -1,
		"Retention window in days (defaults to LLM_RETENTION_DAYS)")
}
