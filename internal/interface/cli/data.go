package cli

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Manage the data directory",
}

var (
	purgeForce   bool
	purgeKeepKey bool
)

var dataPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete all local data",
	Long: `Deletes everything under the data directory: the state database,
the audit database and, unless --keep-key is given, the encryption key.

Purging the key makes any encrypted entries in backups unreadable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := getDataDir()

		if _, err := os.Stat(dir); os.IsNotExist(err) {
			fmt.Println("Data directory does not exist.")
			return nil
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("failed to read directory: %w", err)
		}

		fmt.Printf("Data directory: %s\n\nWill delete:\n", dir)

		var toDelete []string
		for _, entry := range entries {
			name := entry.Name()
			if purgeKeepKey && name == "key.json" {
				continue
			}
			toDelete = append(toDelete, name)
			fmt.Printf("  - %s\n", name)
		}

		if len(toDelete) == 0 {
			fmt.Println("  (nothing to delete)")
			return nil
		}

		if !purgeForce {
			fmt.Print("\nReally delete? [y/N]: ")
			reader := bufio.NewReader(os.Stdin)
			response, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}

			response = strings.TrimSpace(strings.ToLower(response))
			if response != "y" && response != "yes" {
				fmt.Println("Cancelled.")
				return nil
			}
		}

		fmt.Println()
		for _, name := range toDelete {
			path := filepath.Join(dir, name)
			if err := os.RemoveAll(path); err != nil {
				fmt.Printf("  ✗ failed to delete %s: %v\n", name, err)
			} else {
				fmt.Printf("  ✓ deleted %s\n", name)
			}
		}

		remaining, _ := os.ReadDir(dir)
		if len(remaining) == 0 {
			if err := os.Remove(dir); err == nil {
				fmt.Printf("\nData directory removed: %s\n", dir)
			}
		}
		return nil
	},
}

var dataPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the data directory path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(getDataDir())
	},
}

var dataInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show data usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := getDataDir()

		if _, err := os.Stat(dir); os.IsNotExist(err) {
			fmt.Println("Data directory does not exist.")
			return nil
		}

		fmt.Printf("Data directory: %s\n\n", dir)

		entries, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("failed to read directory: %w", err)
		}

		var totalSize int64
		fmt.Println("Per-item size:")

		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())
			size, err := getDirSize(path)
			if err != nil {
				continue
			}
			totalSize += size
			fmt.Printf("  %-25s %s\n", entry.Name(), formatSize(size))
		}

		fmt.Printf("\nTotal: %s\n", formatSize(totalSize))
		return nil
	},
}

func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

func init() {
	rootCmd.AddCommand(dataCmd)

	dataCmd.AddCommand(dataPurgeCmd)
	dataCmd.AddCommand(dataPathCmd)
	dataCmd.AddCommand(dataInfoCmd)

	dataPurgeCmd.Flags().BoolVarP(&purgeForce, "force", "f", false, "delete without confirmation")
	dataPurgeCmd.Flags().BoolVar(&purgeKeepKey, "keep-key", false, "keep the encryption key")
}
