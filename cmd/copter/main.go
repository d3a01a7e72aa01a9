// Package main implements the copter CLI.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"copter/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "copter",
	Short: "Test whether a crate breaks its reverse dependencies",
	Long:  `copter drives a candidate crate version through its reverse dependencies' build, check, and test steps before that version is published.`,
}

// main sets the command version, registers subcommands and persistent
// flags, and executes the root command. A non-zero exit is reserved for a
// run surfacing regressed cells; other failures use distinct codes that
// exitCodeFor derives from the error a subcommand returns.
func main() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().Bool("quiet", false, "suppress non-essential output")
	rootCmd.PersistentFlags().String("ui", "auto", "user interface (auto|on|off)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
