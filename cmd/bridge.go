package cmd

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mcpipe/mcpipe/internal/config"
	"github.com/mcpipe/mcpipe/internal/dependency"
)

var (
	bridgeConfigPath string
	bridgeHost       string
	bridgePort       int
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge <server>",
	Short: "Expose a configured server over a local HTTP bridge",
	Long: "Connects to the named server and serves POST /mcp and GET /health\n" +
		"locally. HTTP callers get correlated JSON-RPC responses without\n" +
		"speaking the server's transport themselves.",
	Args: cobra.ExactArgs(1),
	RunE: runBridge,
}

func init() {
	bridgeCmd.Flags().StringVarP(&bridgeConfigPath, "config", "c", "", "Config file path (default ~/.mcpipe/config.json)")
	bridgeCmd.Flags().StringVar(&bridgeHost, "host", "", "Bridge listen host (overrides config)")
	bridgeCmd.Flags().IntVarP(&bridgePort, "port", "p", 0, "Bridge listen port (overrides config)")
}

func runBridge(_ *cobra.Command, args []string) error {
	cfg, err := config.Load(bridgeConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if bridgeHost != "" {
		cfg.Bridge.Host = bridgeHost
	}
	if bridgePort != 0 {
		cfg.Bridge.Port = bridgePort
	}

	container, err := dependency.New(cfg, args[0], dependency.ModeBridge)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Bridging %s on http://%s\n", args[0], net.JoinHostPort(cfg.Bridge.Host, fmt.Sprint(cfg.Bridge.Port)))
	return container.Runner().Run(ctx)
}
