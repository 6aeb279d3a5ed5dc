package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"edusync/internal/application"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync core status",
	RunE:  runStatus,
}

var statusOutJSON bool

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusOutJSON, "json", false, "output as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, app *application.App) error {
		status := app.GetStatus()

		if statusOutJSON {
			data, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		busState := "○ single-process"
		if status.BusConnected {
			busState = "● connected"
		}
		encState := "off"
		if status.Encrypted {
			encState = "on"
		}

		fmt.Println("=== EduSync Status ===")
		fmt.Printf("Data dir   : %s\n", status.DataDir)
		fmt.Printf("Encryption : %s\n", encState)
		fmt.Printf("Change bus : %s\n", busState)
		fmt.Println()
		fmt.Printf("State keys : %d (%d persistent)\n", status.StateKeys, status.PersistentKeys)
		fmt.Printf("History    : %d changes\n", status.HistoryLength)
		fmt.Printf("Audit      : %d entries\n", status.AuditEntries)
		fmt.Printf("Storage    : %s\n", formatSize(status.StorageBytes))
		return nil
	})
}
