package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a setting",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Current Configuration ===")
	fmt.Println()

	defaults := []struct {
		key string
		def any
	}{
		{"data_dir", "~/.edusync"},
		{"store.sweep_interval", "30s"},
		{"store.encrypt", false},
		{"state.history_size", 500},
		{"validation.cache_ttl", "60s"},
		{"audit.max_entries", 1000},
		{"audit.persist_max", 500},
		{"redis.addr", "(disabled)"},
		{"redis.channel", "edusync:changes"},
		{"log_level", "info"},
	}

	for _, setting := range defaults {
		val := viper.Get(setting.key)
		if val == nil || val == "" || val == 0 {
			val = setting.def
		}
		fmt.Printf("  %-25s: %v\n", setting.key, val)
	}

	fmt.Println()
	fmt.Printf("Config file: %s\n", viper.ConfigFileUsed())
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	viper.Set(key, value)

	if err := viper.WriteConfig(); err != nil {
		// Create the config file if it does not exist yet
		if err := viper.SafeWriteConfig(); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
	}

	fmt.Printf("✓ %s = %s\n", key, value)
	return nil
}
