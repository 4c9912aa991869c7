package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcpipe/mcpipe/internal/clients"
	"github.com/mcpipe/mcpipe/internal/config"
)

var installConfigPath string

var installCmd = &cobra.Command{
	Use:   "install <client> <server>",
	Short: "Add a configured server to an AI client's config",
	Long: "Writes an mcpServers entry into the client's own config file so\n" +
		"the client launches the server through `mcpipe run`. Known clients:\n" +
		"claude-desktop, claude-code, cursor, windsurf, goose, zed, codex.",
	Args: cobra.ExactArgs(2),
	RunE: runInstall,
}

func init() {
	installCmd.Flags().StringVarP(&installConfigPath, "config", "c", "", "Config file path (default ~/.mcpipe/config.json)")
}

func runInstall(_ *cobra.Command, args []string) error {
	clientName, serverName := args[0], args[1]

	client, err := clients.Lookup(clientName)
	if err != nil {
		return err
	}
	cfg, err := config.Load(installConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if _, ok := cfg.Servers[serverName]; !ok {
		return fmt.Errorf("server %q not found in %s", serverName, config.ConfigPath())
	}

	// The client always launches mcpipe, which owns the real connection
	// details. Remote transports and reconnect stay invisible to it.
	entry := clients.ServerEntry{
		Command: "mcpipe",
		Args:    []string{"run", serverName},
	}
	if err := clients.Install(client, serverName, entry); err != nil {
		return err
	}

	path, _ := client.ConfigPath()
	fmt.Printf("✓ Installed %s into %s (%s)\n", serverName, client.DisplayName, path)
	return nil
}
