// Package main is the csa CLI: a thin wiring layer over the core packages
// (internal/session, internal/slotpool, internal/sandbox,
// internal/transport, internal/toolselect, internal/pipeline,
// internal/gc). Argument parsing, TOML schema validation, and terminal
// formatting are out of core scope (spec §1); this binary exists to
// exercise the wiring end to end, not to be a polished CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "csa:", err)
		os.Exit(exitCodeFor(err))
	}
}

var (
	flagCd          string
	flagGlobalCfg   string
	flagProjectCfg  string
	flagStateRoot   string
)

var rootCmd = &cobra.Command{
	Use:     "csa",
	Short:   "Meta-orchestrator for heterogeneous AI coding agents",
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagCd, "cd", "", "run as if invoked from this directory")
	rootCmd.PersistentFlags().StringVar(&flagGlobalCfg, "global-config", defaultGlobalConfigPath(), "path to the global config TOML")
	rootCmd.PersistentFlags().StringVar(&flagProjectCfg, "project-config", "csa.toml", "path to the project config TOML")
	rootCmd.PersistentFlags().StringVar(&flagStateRoot, "state-root", "", "override the state root directory (default: platform state dir)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(debateCmd)
	rootCmd.AddCommand(gcCmd)
}

func defaultGlobalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.config/csa/config.toml"
}
