package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"edusync/internal/application"
	"edusync/internal/domain/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the audit trail",
}

var (
	queryUser     string
	queryRole     string
	queryAction   string
	queryResource string
	queryFailed   bool
	querySince    time.Duration
	queryLimit    int
	queryJSON     bool
)

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "List audit entries, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := audit.Filter{
			UserID:   queryUser,
			UserRole: queryRole,
			Action:   queryAction,
			Resource: queryResource,
			Limit:    queryLimit,
		}
		if queryFailed {
			failed := false
			filter.Success = &failed
		}
		if querySince > 0 {
			filter.From = time.Now().Add(-querySince)
		}

		return withApp(func(ctx context.Context, app *application.App) error {
			entries := app.Audit().Query(filter)
			if len(entries) == 0 {
				fmt.Println("(no matching entries)")
				return nil
			}

			if queryJSON {
				data, err := json.MarshalIndent(entries, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			for _, entry := range entries {
				outcome := "✓"
				if !entry.Success {
					outcome = "✗"
				}
				fmt.Printf("%s  %s  %-12s %-18s %-10s %s",
					entry.Timestamp.Format(time.RFC3339), outcome,
					entry.UserID, entry.Action, entry.Resource, entry.ResourceID)
				if entry.ErrorMessage != "" {
					fmt.Printf("  (%s)", entry.ErrorMessage)
				}
				fmt.Println()
			}
			return nil
		})
	},
}

var statsJSON bool

var auditStatsCmd = &cobra.Command{
	Use:   "stats [hour|day|week|month]",
	Short: "Aggregate audit activity over a lookback window",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		timeframe := audit.TimeframeDay
		if len(args) == 1 {
			timeframe = audit.Timeframe(args[0])
		}

		return withApp(func(ctx context.Context, app *application.App) error {
			stats, err := app.Audit().Stats(timeframe)
			if err != nil {
				return err
			}

			if statsJSON {
				data, err := json.MarshalIndent(stats, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("=== Audit Stats (%s) ===\n", stats.Timeframe)
			fmt.Printf("Window start : %s\n", stats.WindowStart.Format(time.RFC3339))
			fmt.Printf("Total actions: %d (%d ok, %d failed)\n",
				stats.TotalActions, stats.SuccessfulActions, stats.FailedActions)
			fmt.Printf("Unique users : %d\n", stats.UniqueUsers)
			fmt.Printf("Error rate   : %.1f%%\n", stats.ErrorRate*100)

			printBreakdown := func(title string, counts map[string]int) {
				if len(counts) == 0 {
					return
				}
				keys := make([]string, 0, len(counts))
				for k := range counts {
					keys = append(keys, k)
				}
				sort.Slice(keys, func(i, j int) bool { return counts[keys[i]] > counts[keys[j]] })
				fmt.Printf("\n--- %s ---\n", title)
				for _, k := range keys {
					fmt.Printf("  %-25s %d\n", k, counts[k])
				}
			}
			printBreakdown("By action", stats.ByAction)
			printBreakdown("By resource", stats.ByResource)
			printBreakdown("By role", stats.ByRole)
			return nil
		})
	},
}

var auditAnomaliesCmd = &cobra.Command{
	Use:   "anomalies",
	Short: "Detect suspicious activity patterns",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *application.App) error {
			anomalies := app.Audit().DetectAnomalies()
			if len(anomalies) == 0 {
				fmt.Println("No anomalies detected.")
				return nil
			}

			for _, a := range anomalies {
				fmt.Printf("[%s] %s: %s\n", a.Severity, a.Type, a.Description)
			}
			return nil
		})
	},
}

var exportOut string

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audit entries as CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := audit.Filter{
			UserID: queryUser,
			Action: queryAction,
		}
		if querySince > 0 {
			filter.From = time.Now().Add(-querySince)
		}

		return withApp(func(ctx context.Context, app *application.App) error {
			csvData, err := app.Audit().ExportCSV(filter)
			if err != nil {
				return err
			}

			if exportOut == "" {
				fmt.Print(csvData)
				return nil
			}
			if err := os.WriteFile(exportOut, []byte(csvData), 0600); err != nil {
				return err
			}
			fmt.Printf("✓ exported to %s\n", exportOut)
			return nil
		})
	},
}

var compactBefore time.Duration

var auditCompactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Delete persisted audit entries older than a cutoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *application.App) error {
			cutoff := time.Now().Add(-compactBefore)
			deleted, err := app.AuditSink().Compact(cutoff)
			if err != nil {
				return err
			}
			fmt.Printf("✓ deleted %d entries older than %s\n", deleted, cutoff.Format(time.RFC3339))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.AddCommand(auditQueryCmd)
	auditCmd.AddCommand(auditStatsCmd)
	auditCmd.AddCommand(auditAnomaliesCmd)
	auditCmd.AddCommand(auditExportCmd)
	auditCmd.AddCommand(auditCompactCmd)

	auditQueryCmd.Flags().StringVarP(&queryUser, "user", "u", "", "filter by user id")
	auditQueryCmd.Flags().StringVarP(&queryRole, "role", "r", "", "filter by user role")
	auditQueryCmd.Flags().StringVarP(&queryAction, "action", "a", "", "filter by action")
	auditQueryCmd.Flags().StringVar(&queryResource, "resource", "", "filter by resource")
	auditQueryCmd.Flags().BoolVar(&queryFailed, "failed", false, "only failed actions")
	auditQueryCmd.Flags().DurationVar(&querySince, "since", 0, "lookback window, e.g. 24h")
	auditQueryCmd.Flags().IntVarP(&queryLimit, "limit", "n", 50, "max entries to show")
	auditQueryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")

	auditStatsCmd.Flags().BoolVar(&statsJSON, "json", false, "output as JSON")

	auditExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default stdout)")
	auditExportCmd.Flags().StringVar(&queryUser, "user", "", "filter by user id")
	auditExportCmd.Flags().StringVar(&queryAction, "action", "", "filter by action")
	auditExportCmd.Flags().DurationVar(&querySince, "since", 0, "lookback window")

	auditCompactCmd.Flags().DurationVar(&compactBefore, "older-than", 30*24*time.Hour, "age cutoff")
}
