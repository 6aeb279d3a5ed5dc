package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"

	"edusync/internal/application"
	"edusync/internal/domain/state"
	"edusync/internal/infrastructure/snapshot"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and modify application state",
}

var (
	setUser       string
	setRole       string
	setPersistent bool
	setEncrypt    bool
	setTTL        time.Duration
	setNoValidate bool
)

var stateSetCmd = &cobra.Command{
	Use:   "set <key> <json-value>",
	Short: "Set a state value",
	Long: `Sets a state value. Keys with a user:, class: or assignment: prefix
are validated against the matching schema before the write; a failed
validation leaves existing state untouched.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]

		var value any
		if err := json.Unmarshal([]byte(args[1]), &value); err != nil {
			return fmt.Errorf("value is not valid JSON: %w", err)
		}

		opts := state.Options{
			Persistent: setPersistent,
			Encrypted:  setEncrypt,
			Validate:   !setNoValidate,
			UserID:     setUser,
			Role:       setRole,
		}
		if setTTL > 0 {
			opts.ExpiresAt = time.Now().Add(setTTL)
		}

		return withApp(func(ctx context.Context, app *application.App) error {
			if err := app.State().SetState(ctx, key, value, opts); err != nil {
				app.Audit().Log(setUser, setRole, "state_set", "state", key, nil, false, err.Error())
				return err
			}
			app.Audit().Log(setUser, setRole, "state_set", "state", key, nil, true, "")
			fmt.Printf("✓ %s\n", key)
			return nil
		})
	},
}

var stateGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a state value as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *application.App) error {
			value, err := app.State().GetState(args[0])
			if err != nil {
				return err
			}
			if value == nil {
				return fmt.Errorf("key not found: %s", args[0])
			}

			data, err := json.MarshalIndent(value, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		})
	},
}

var rmUser string

var stateRmCmd = &cobra.Command{
	Use:   "rm <key>",
	Short: "Remove a state value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *application.App) error {
			if err := app.State().RemoveState(ctx, args[0], rmUser); err != nil {
				return err
			}
			app.Audit().Log(rmUser, "", "state_remove", "state", args[0], nil, true, "")
			fmt.Printf("✓ removed %s\n", args[0])
			return nil
		})
	},
}

var stateKeysCmd = &cobra.Command{
	Use:   "keys [query]",
	Short: "List state keys, fuzzy-filtered by an optional query",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *application.App) error {
			keys, err := app.Store().Keys()
			if err != nil {
				return err
			}

			if len(args) == 1 {
				matches := fuzzy.Find(args[0], keys)
				for _, m := range matches {
					fmt.Println(keys[m.Index])
				}
				return nil
			}

			for _, key := range keys {
				fmt.Println(key)
			}
			return nil
		})
	},
}

var historyLimit int

var stateHistoryCmd = &cobra.Command{
	Use:   "history [key]",
	Short: "Show recent state changes, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := ""
		if len(args) == 1 {
			key = args[0]
		}

		return withApp(func(ctx context.Context, app *application.App) error {
			changes := app.State().History(key, historyLimit)
			if len(changes) == 0 {
				fmt.Println("(no history)")
				return nil
			}

			for _, change := range changes {
				origin := "local"
				if change.Remote {
					origin = "remote"
				}
				fmt.Printf("%s  %-6s  %-25s  %s  %s\n",
					change.Timestamp.Format(time.RFC3339),
					change.Action, change.Key, change.UserID, origin)
			}
			return nil
		})
	},
}

var (
	watchRegex     bool
	watchImmediate bool
)

var stateWatchCmd = &cobra.Command{
	Use:   "watch <pattern>",
	Short: "Stream state changes matching a pattern",
	Long: `Watches state changes. The pattern is an exact key, a prefix
pattern like "user:*", or with --regex a regular expression.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *application.App) error {
			handler := func(change *state.StateChange) {
				data, _ := json.Marshal(change.NewValue)
				fmt.Printf("%s  %-6s  %s  %s\n",
					change.Timestamp.Format("15:04:05"),
					change.Action, change.Key, string(data))
			}

			opts := state.SubscribeOptions{Immediate: watchImmediate}
			var id string
			if watchRegex {
				re, err := regexp.Compile(args[0])
				if err != nil {
					return fmt.Errorf("invalid pattern: %w", err)
				}
				id = app.State().SubscribeRegexp(re, handler, opts)
			} else {
				id = app.State().Subscribe(args[0], handler, opts)
			}
			defer app.State().Unsubscribe(id)

			fmt.Fprintf(os.Stderr, "watching %s (ctrl-c to stop)\n", args[0])

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig
			return nil
		})
	},
}

var exportUser string

var stateExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export state to a compressed snapshot file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *application.App) error {
			data, err := app.State().Export(exportUser)
			if err != nil {
				return err
			}
			if err := snapshot.WriteFile(args[0], data); err != nil {
				return err
			}
			app.Audit().Log(exportUser, "", "export", "state", args[0],
				map[string]any{"keys": len(data)}, true, "")
			fmt.Printf("✓ exported %d keys to %s\n", len(data), args[0])
			return nil
		})
	},
}

var importUser string

var stateImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import state from a snapshot file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *application.App) error {
			data, err := snapshot.ReadFile(args[0])
			if err != nil {
				return err
			}
			if err := app.State().Import(ctx, data, importUser); err != nil {
				return err
			}
			app.Audit().Log(importUser, "", "import", "state", args[0],
				map[string]any{"keys": len(data)}, true, "")
			fmt.Printf("✓ imported %d keys from %s\n", len(data), args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(stateCmd)

	stateCmd.AddCommand(stateSetCmd)
	stateCmd.AddCommand(stateGetCmd)
	stateCmd.AddCommand(stateRmCmd)
	stateCmd.AddCommand(stateKeysCmd)
	stateCmd.AddCommand(stateHistoryCmd)
	stateCmd.AddCommand(stateWatchCmd)
	stateCmd.AddCommand(stateExportCmd)
	stateCmd.AddCommand(stateImportCmd)

	stateSetCmd.Flags().StringVarP(&setUser, "user", "u", "", "acting user id")
	stateSetCmd.Flags().StringVarP(&setRole, "role", "r", "", "acting user role")
	stateSetCmd.Flags().BoolVarP(&setPersistent, "persistent", "p", false, "persist across restarts")
	stateSetCmd.Flags().BoolVarP(&setEncrypt, "encrypt", "e", false, "encrypt at rest")
	stateSetCmd.Flags().DurationVar(&setTTL, "ttl", 0, "expire after this duration")
	stateSetCmd.Flags().BoolVar(&setNoValidate, "no-validate", false, "skip schema validation")

	stateRmCmd.Flags().StringVarP(&rmUser, "user", "u", "", "acting user id")

	stateHistoryCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "max changes to show")

	stateWatchCmd.Flags().BoolVar(&watchRegex, "regex", false, "treat pattern as a regular expression")
	stateWatchCmd.Flags().BoolVar(&watchImmediate, "immediate", false, "replay current values on start")

	stateExportCmd.Flags().StringVarP(&exportUser, "user", "u", "", "restrict to entries owned by this user")
	stateImportCmd.Flags().StringVarP(&importUser, "user", "u", "", "acting user id")
}
