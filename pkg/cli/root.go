// Package cli implements the mocklet command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is injected during build
	Version = "dev"
	// Commit is injected during build
	Commit = "none"
	// BuildDate is injected during build
	BuildDate = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mocklet",
	Short: "mocklet is a declarative HTTP and WebSocket mock server",
	Long: `mocklet serves mock HTTP routes and WebSocket endpoints from a single
declarative JSON or YAML configuration file. Every request and connection is
announced as a lifecycle event, and the built-in telemetry observer turns
those events into trace spans exported to stdout or an OTLP collector.`,
	SilenceUsage:  true,
	SilenceErrors: true, // We handle errors in Execute()
}

// Execute runs the root command. It is called by main.main() exactly once.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	initServeCmd()
	initValidateCmd()
	initVersionCmd()
}
