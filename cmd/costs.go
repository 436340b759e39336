package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"llmtrace/internal/analytics"
	"llmtrace/internal/storage"
)

var (
	costsJSON    bool
	costsDays    int
	costsProject string
	costsAgent   string
	costsStatus  string
	costsModel   string
	costsPath    string
)

var costsCmd = &cobra.Command{
	Use:   "costs",
	Short: "Show token spend over time",
	Long: `Aggregates stored telemetry over a date window and reports total cost
and tokens, grouped by model, agent and project. Records without a stored
cost are backfilled from cached model pricing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := appFromContext(cmd.Context())
		if err != nil {
			return err
		}

		aggregator := appInstance.Aggregator
		if costsPath != "" {
			// Query an explicit directory instead of the configured root.
			cfg := *appInstance.Config
			cfg.TelemetryDir = costsPath
			store, err := storage.NewLocalStore(&cfg)
			if err != nil {
				return fmt.Errorf("open telemetry dir %s: %w", costsPath, err)
			}
			aggregator = analytics.New(store, appInstance.Pricing)
		}

		filters := analytics.Filters{
			Project: costsProject,
			Agent:   costsAgent,
			Model:   costsModel,
			Status:  costsStatus,
		}

		report, err := aggregator.Report(costsDays, filters, time.Now())
		if err != nil {
			return fmt.Errorf("aggregate costs: %w", err)
		}

		if costsJSON {
			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return fmt.Errorf("encode report: %w", err)
			}
			fmt.Println(string(out))
			return nil
		}

		renderReport(report)
		return nil
	},
}

func renderReport(report *analytics.Report) {
	header := color.New(color.FgCyan, color.Bold)
	header.Println("Telemetry Cost Report")
	fmt.Printf("Window: %s -> %s (last %d days)\n",
		report.Window.Start.Format("2006-01-02"),
		report.Window.End.Format("2006-01-02"),
		report.Window.Days,
	)
	if len(report.Filters) > 0 {
		fmt.Print("Filters:")
		for _, key := range []string{"project", "agent", "model", "status"} {
			if value, ok := report.Filters[key]; ok {
				fmt.Printf(" %s=%s", key, value)
			}
		}
		fmt.Println()
	}

	if report.TotalCalls == 0 {
		color.Yellow("No telemetry records found for the selected window.")
		return
	}

	fmt.Printf("Total calls: %d\n", report.TotalCalls)
	fmt.Printf("Total cost:  $%.4f\n", report.TotalCostUSD)
	fmt.Printf("Tokens: input %d | output %d | total %d\n",
		report.TotalTokens.Input, report.TotalTokens.Output, report.TotalTokens.Total)

	renderSection("Cost by model", report.ByModel)
	renderSection("Cost by agent", report.ByAgent)
	renderSection("Cost by project", report.ByProject)
}

func renderSection(title string, rows []analytics.GroupRow) {
	fmt.Println()
	color.New(color.Bold).Println(title)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Name", "Calls", "Cost (USD)", "Tokens"})
	table.SetBorder(false)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT,
	})
	for _, row := range rows {
		table.Append([]string{
			row.Name,
			fmt.Sprintf("%d", row.Calls),
			fmt.Sprintf("$%.4f", row.CostUSD),
			fmt.Sprintf("%d", row.Tokens.Total),
		})
	}
	table.Render()
}

func init() {
	costsCmd.Flags().BoolVar(&costsJSON, "json", false, "Output a single JSON object instead of tables")
	costsCmd.Flags().IntVar(&costsDays, "days", 30, "Number of days to include")
	costsCmd.Flags().StringVar(&costsProject, "project", "", "Filter by project name")
	costsCmd.Flags().StringVar(&costsAgent, "agent", "", "Filter by agent name")
	costsCmd.Flags().StringVar(&costsStatus, "status", "", "Filter by outcome: success or failure")
	costsCmd.Flags().StringVar(&costsModel, "model", "", "Filter by model name")
	costsCmd.Flags().StringVar(&costsPath, "path", "", "Telemetry directory (defaults to config)")
}
