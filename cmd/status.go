package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcpipe/mcpipe/internal/clients"
	"github.com/mcpipe/mcpipe/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show mcpipe status",
	RunE:  runStatus,
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfgPath := config.ConfigPath()

	fmt.Println("mcpipe Status")
	fmt.Println()

	_, statErr := os.Stat(cfgPath)
	cfgMark := "✗"
	if statErr == nil {
		cfgMark = "✓"
	}
	fmt.Printf("Config:  %s %s\n", cfgPath, cfgMark)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  (could not load config: %v)\n", err)
		return nil
	}
	fmt.Printf("Servers: %d configured\n\n", len(cfg.Servers))

	fmt.Println("Clients:")
	for _, client := range clients.All() {
		path, err := client.ConfigPath()
		if err != nil {
			fmt.Printf("  %-16s (path unresolved: %v)\n", client.DisplayName, err)
			continue
		}
		if _, err := os.Stat(path); err != nil {
			fmt.Printf("  %-16s (not found)\n", client.DisplayName)
			continue
		}
		names, err := clients.List(client)
		if err != nil {
			fmt.Printf("  %-16s ✓ (unreadable: %v)\n", client.DisplayName, err)
			continue
		}
		fmt.Printf("  %-16s ✓ %d server(s)\n", client.DisplayName, len(names))
	}
	return nil
}
