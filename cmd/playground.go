package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mcpipe/mcpipe/internal/config"
	"github.com/mcpipe/mcpipe/internal/runner"
	"github.com/mcpipe/mcpipe/internal/transport"
)

var (
	playgroundConfigPath string
	playgroundHost       string
	playgroundPort       int
	playgroundTunnel     string
)

var playgroundCmd = &cobra.Command{
	Use:   "playground <server|command> [args...]",
	Short: "Host a server locally with an HTTP bridge and optional tunnel",
	Long: "Runs a server as a local subprocess and exposes it on the HTTP\n" +
		"bridge. The first argument is a configured server name, or an\n" +
		"arbitrary command to execute. With --tunnel, the session is also\n" +
		"relayed to a remote playground over WebSocket.",
	Args: cobra.MinimumNArgs(1),
	RunE: runPlayground,
}

func init() {
	playgroundCmd.Flags().StringVarP(&playgroundConfigPath, "config", "c", "", "Config file path (default ~/.mcpipe/config.json)")
	playgroundCmd.Flags().StringVar(&playgroundHost, "host", "", "Bridge listen host (overrides config)")
	playgroundCmd.Flags().IntVarP(&playgroundPort, "port", "p", 0, "Bridge listen port (overrides config)")
	playgroundCmd.Flags().StringVar(&playgroundTunnel, "tunnel", "", "Remote playground WebSocket URL")
}

func runPlayground(_ *cobra.Command, args []string) error {
	cfg, err := config.Load(playgroundConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if playgroundHost != "" {
		cfg.Bridge.Host = playgroundHost
	}
	if playgroundPort != 0 {
		cfg.Bridge.Port = playgroundPort
	}

	stdioCfg, hosted, err := playgroundTarget(cfg, args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// A factory-backed server runs in-process alongside the session.
	if hosted != nil {
		g.Go(func() error { return hosted.Serve(gctx) })
		// Give the hosted server a moment to come up before the
		// subprocess (or transport) dials it.
		time.Sleep(100 * time.Millisecond)
	}

	run, err := runner.New(runner.Options{
		Name: args[0],
		NewTransport: func(events transport.Events) (transport.Transport, error) {
			return transport.NewStdio(stdioCfg, events)
		},
		IdleTimeout:       cfg.Timeouts.Idle(),
		HeartbeatInterval: cfg.Timeouts.Heartbeat(),
		BridgeAddr:        net.JoinHostPort(cfg.Bridge.Host, fmt.Sprint(cfg.Bridge.Port)),
		BridgeTimeout:     cfg.Timeouts.Call(),
	})
	if err != nil {
		return err
	}

	if playgroundTunnel != "" {
		tunnel, err := runner.NewTunnel(playgroundTunnel, nil, run.Table(), run.Send, cfg.Timeouts.Call())
		if err != nil {
			return err
		}
		g.Go(func() error { return tunnel.Run(gctx) })
	}

	g.Go(func() error { return run.Run(gctx) })

	fmt.Printf("Playground serving %s on http://%s\n", args[0],
		net.JoinHostPort(cfg.Bridge.Host, fmt.Sprint(cfg.Bridge.Port)))

	if err := g.Wait(); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "playground error: %v\n", err)
		return err
	}
	return nil
}

// playgroundTarget resolves the positional args to a stdio command. A
// configured server name wins; anything else is treated as a literal
// command line. Factory entries additionally return the in-process handle.
func playgroundTarget(cfg *config.Config, args []string) (transport.StdioConfig, runner.Handle, error) {
	if sc, ok := cfg.Servers[args[0]]; ok && len(args) == 1 {
		switch sc.Kind() {
		case "stdio":
			return transport.StdioConfig{Command: sc.Command, Args: sc.Args, Env: sc.Env, Dir: sc.Dir}, nil, nil
		case "factory":
			f, err := runner.ResolveFactory(sc.Factory)
			if err != nil {
				return transport.StdioConfig{}, nil, err
			}
			handle, err := f(context.Background(), sc.FactoryCfg)
			if err != nil {
				return transport.StdioConfig{}, nil, fmt.Errorf("create server %q: %w", args[0], err)
			}
			cmd, _ := sc.FactoryCfg["command"].(string)
			if cmd == "" {
				return transport.StdioConfig{}, nil, fmt.Errorf("factory server %q needs factoryConfig.command for the playground", args[0])
			}
			return transport.StdioConfig{Command: cmd}, handle, nil
		default:
			return transport.StdioConfig{}, nil, fmt.Errorf("server %q is %s; the playground hosts local commands", args[0], sc.Kind())
		}
	}
	return transport.StdioConfig{Command: args[0], Args: args[1:]}, nil, nil
}
