package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/mcpipe/mcpipe/internal/clients"
	"github.com/mcpipe/mcpipe/internal/config"
)

var listConfigPath string

var listCmd = &cobra.Command{
	Use:   "list [client]",
	Short: "List configured servers, or the servers installed in a client",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVarP(&listConfigPath, "config", "c", "", "Config file path (default ~/.mcpipe/config.json)")
}

func runList(_ *cobra.Command, args []string) error {
	if len(args) == 1 {
		client, err := clients.Lookup(args[0])
		if err != nil {
			return err
		}
		names, err := clients.List(client)
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Printf("%s has no MCP servers configured\n", client.DisplayName)
			return nil
		}
		fmt.Printf("%s:\n", client.DisplayName)
		for _, n := range names {
			fmt.Printf("  %s\n", n)
		}
		return nil
	}

	cfg, err := config.Load(listConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if len(cfg.Servers) == 0 {
		fmt.Printf("No servers configured in %s\n", config.ConfigPath())
		return nil
	}
	fmt.Println("Configured servers:")
	for _, name := range sortedServerNames(cfg) {
		sc := cfg.Servers[name]
		switch sc.Kind() {
		case "stdio":
			fmt.Printf("  %-20s stdio    %s\n", name, sc.Command)
		case "http":
			fmt.Printf("  %-20s http     %s\n", name, sc.URL)
		case "factory":
			fmt.Printf("  %-20s factory  %s\n", name, sc.Factory)
		default:
			fmt.Printf("  %-20s invalid\n", name)
		}
	}
	return nil
}

func sortedServerNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Servers))
	for name := range cfg.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
