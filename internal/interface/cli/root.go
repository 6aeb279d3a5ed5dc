package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"edusync/internal/application"
)

var (
	cfgFile string
	dataDir string
	verbose bool

	version = "dev"
	commit  = "unknown"
	date    = "unknown"
	builtBy = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "edusync",
	Short: "Classroom state synchronization core",
	Long: `edusync keeps classroom application state validated, durable and
synchronized across processes, with a tamper-evident audit trail.

Getting started:
  edusync state set user:1 '{"id":"1","name":"Kim","role":"teacher",...}'
  edusync state get user:1
  edusync state watch 'user:*'
  edusync audit query --user 1
  edusync status`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets full version information.
func SetVersionInfo(v, c, d, b string) {
	version = v
	commit = c
	date = d
	builtBy = b
}

// GetVersionInfo returns full version information.
func GetVersionInfo() (ver, com, dat, built string) {
	return version, commit, date, builtBy
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "data directory (default ~/.edusync)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, "cannot locate home directory:", err)
			os.Exit(1)
		}

		viper.AddConfigPath(home + "/.edusync")
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("EDUSYNC")
	viper.AutomaticEnv()

	// Missing config file is fine, defaults apply
	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "using config file:", viper.ConfigFileUsed())
		}
	}
}

func getDataDir() string {
	return application.FromViper().DataDir
}

// withApp starts the application, runs fn, and shuts down cleanly.
func withApp(fn func(ctx context.Context, app *application.App) error) error {
	cfg := application.FromViper()
	if !verbose {
		cfg.LogLevel = "warn"
	}

	app, err := application.New(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer app.Stop()

	return fn(ctx, app)
}
