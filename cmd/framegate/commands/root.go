// Package commands implements the framegate cobra command tree: framegate
// serve (the gateway's own entry point) and framegate version.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "framegate",
	Short: "Sentinel-framed SSE gateway for streaming LLM completions",
	Long: `framegate turns a raw model token stream into a disciplined,
client-consumable Server-Sent Events stream of sentinel-delimited JSON
frames, mid-stream tool calls, and a schema-validated final reply.

Examples:
  framegate serve --addr :8080 --config ./framegate.yaml
  framegate version`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}

// ConfigPath returns the --config flag value, empty if unset.
func ConfigPath() string {
	return configPath
}
