package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Cloud job scheduler core: producer manager + scheduler engine",
	Long: `scheduler registers job definitions, matches them against resource
offers from an underlying cluster resource manager, and launches sharded
task instances on chosen worker nodes.

This binary wires the core (producer manager, scheduler engine, facade)
against a local bbolt-backed coordination store; a production deployment
swaps the driver for a real resource-manager SDK binding.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"scheduler version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("data-dir", "./scheduler-data", "Data directory for the coordination store")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON instead of console format")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(jobCmd)
}
