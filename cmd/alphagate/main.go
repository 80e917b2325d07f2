// Command alphagate generates FastExpr alpha candidates behind a validation
// gate and serves validated candidates to simulation.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	verbose    bool
	logFormat  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "alphagate",
		Short:         "Validation-gated FastExpr alpha generation",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to alphagate.yaml (default: $ALPHAGATE_CONFIG or next to the executable)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log encoding: json or console (overrides config)")

	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the operator and field catalog",
	}
	catalogCmd.AddCommand(newCatalogImportCmd(opts), newCatalogStatsCmd(opts))

	root.AddCommand(
		newValidateCmd(opts),
		newRunCmd(opts),
		newServeCmd(opts),
		catalogCmd,
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "alphagate %s (commit=%s, built=%s)\n", version, commit, date)
		},
	}
}

// resolveConfigPath applies --config > ALPHAGATE_CONFIG > alphagate.yaml next
// to the executable. An empty result means built-in defaults.
func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv("ALPHAGATE_CONFIG"); env != "" {
		return env
	}
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "alphagate.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}
