package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mcpipe/mcpipe/internal/config"
	"github.com/mcpipe/mcpipe/internal/dependency"
)

var runConfigPath string

var runCmd = &cobra.Command{
	Use:   "run <server>",
	Short: "Run a configured server behind local stdio",
	Long: "Connects to the named server from the config file and relays\n" +
		"newline-delimited JSON-RPC between stdin/stdout and the server.\n" +
		"Point an MCP client's command at `mcpipe run <server>` to reach a\n" +
		"remote transport it does not speak natively.",
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "Config file path (default ~/.mcpipe/config.json)")
}

func runRun(_ *cobra.Command, args []string) error {
	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	container, err := dependency.New(cfg, args[0], dependency.ModeStdio)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return container.Runner().Run(ctx)
}
