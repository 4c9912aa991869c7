package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcpipe/mcpipe/internal/clients"
)

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <client> <server>",
	Short: "Remove a server from an AI client's config",
	Args:  cobra.ExactArgs(2),
	RunE:  runUninstall,
}

func runUninstall(_ *cobra.Command, args []string) error {
	client, err := clients.Lookup(args[0])
	if err != nil {
		return err
	}
	if err := clients.Uninstall(client, args[1]); err != nil {
		return err
	}
	fmt.Printf("✓ Removed %s from %s\n", args[1], client.DisplayName)
	return nil
}
