// Package cmd implements the mcpipe CLI using cobra.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var verbose bool

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "mcpipe",
	Short: "mcpipe — MCP transport runner",
	Long: "mcpipe bridges MCP clients and servers across transports:\n" +
		"run a remote server behind local stdio, expose any server over a\n" +
		"local HTTP bridge, or host a command in a local playground.",
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		setupLogging()
	},
}

// Execute runs the root command and exits on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupLogging sends all diagnostics to stderr. Stdout must stay clean: in
// stdio mode it is the protocol channel.
func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(bridgeCmd)
	rootCmd.AddCommand(playgroundCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statusCmd)
}
