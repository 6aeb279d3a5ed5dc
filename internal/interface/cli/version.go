package cli

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE:  runVersion,
}

var (
	versionShort   bool
	versionOutJSON bool
)

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&versionShort, "short", "s", false, "print the version only")
	versionCmd.Flags().BoolVar(&versionOutJSON, "json", false, "output as JSON")
}

func runVersion(cmd *cobra.Command, args []string) error {
	v, c, d, b := GetVersionInfo()

	if versionShort {
		fmt.Println(v)
		return nil
	}

	if versionOutJSON {
		data, err := json.MarshalIndent(map[string]string{
			"version":  v,
			"commit":   c,
			"built":    d,
			"built_by": b,
			"go":       runtime.Version(),
			"platform": runtime.GOOS + "/" + runtime.GOARCH,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("edusync %s (commit %s, built %s by %s)\n", v, c, d, b)
	fmt.Printf("%s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	return nil
}
