package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"llmtrace/internal/app"
	"llmtrace/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "llmtrace",
	Short: "Usage and cost telemetry for LLM CLI tools",
	Long: `llmtrace records per-call token usage, cost and duration for AI CLI
tools into local date-partitioned JSONL storage, and answers cost queries
over that history.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		appInstance, err := app.NewApp(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize app: %w", err)
		}

		cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
		return nil
	},
	SilenceUsage: true,
}

type contextKey string

const appKey contextKey = "app"

// appFromContext retrieves the app wired up in PersistentPreRunE.
func appFromContext(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application instance not found in context")
	}
	return appInstance, nil
}

// Execute runs the root command. Storage or flag errors exit non-zero; an
// empty query result does not.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(costsCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(rebuildCmd)
}
