// Command mergepilot is a thin CLI collaborator around the engine in
// internal/orchestrator: it loads a plan file, fills in config defaults
// via viper/cobra flags and environment variables, runs the
// orchestrator, and maps the resulting summary to the exit codes §6 of
// the specification this engine implements defines for wrapping hosts.
// It is explicitly a collaborator, not part of the core: this is the
// only place cobra, viper, and fsnotify are imported.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"

	"github.com/mergepilot-dev/mergepilot/internal/telemetry"
)

// Version information (set at build time).
var (
	Version = "dev"
	Build   = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "mergepilot",
	Short: "Runs a merge-train plan through the gate execution engine",
	Long: `mergepilot - merge-train execution engine CLI

Loads a plan (items, dependency graph, gates, policy), runs every
item's gates in dependency order under a bounded worker pool, decides
which items are eligible to merge, and writes a reproducible run
directory describing what happened.

Environment variables (MERGEPILOT_ prefix, e.g. MERGEPILOT_LOG_LEVEL)
override the corresponding flag when the flag is not explicitly set.`,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("mergepilot version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help()
	},
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
	rootCmd.AddCommand(newRunCommand())

	viper.SetEnvPrefix("MERGEPILOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if tp, err := telemetry.NewTracerProvider("mergepilot"); err == nil {
		otel.SetTracerProvider(tp)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
