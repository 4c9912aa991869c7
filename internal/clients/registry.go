// Package clients manages MCP server entries in the config files of known
// AI clients. Each client stores a mcpServers map in its own file format;
// Install and Uninstall rewrite only that map and leave the rest of the
// file intact.
package clients

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
)

// Format is the on-disk encoding of a client's config file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// Client describes one known AI client.
type Client struct {
	// Name is the registry key, e.g. "claude-desktop".
	Name string
	// DisplayName is shown in CLI output.
	DisplayName string
	// Format of the config file.
	Format Format
	// path builds the config file path for the current platform.
	path func() (string, error)
}

// ConfigPath returns the client's config file path.
func (c Client) ConfigPath() (string, error) { return c.path() }

func homeRel(parts ...string) func() (string, error) {
	return func() (string, error) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		return filepath.Join(append([]string{home}, parts...)...), nil
	}
}

func claudeDesktopPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Claude", "claude_desktop_config.json"), nil
	case "windows":
		if dir := os.Getenv("APPDATA"); dir != "" {
			return filepath.Join(dir, "Claude", "claude_desktop_config.json"), nil
		}
		return filepath.Join(home, "AppData", "Roaming", "Claude", "claude_desktop_config.json"), nil
	default:
		return filepath.Join(home, ".config", "Claude", "claude_desktop_config.json"), nil
	}
}

var registry = map[string]Client{
	"claude-desktop": {
		Name:        "claude-desktop",
		DisplayName: "Claude Desktop",
		Format:      FormatJSON,
		path:        claudeDesktopPath,
	},
	"claude-code": {
		Name:        "claude-code",
		DisplayName: "Claude Code",
		Format:      FormatJSON,
		path:        homeRel(".claude.json"),
	},
	"cursor": {
		Name:        "cursor",
		DisplayName: "Cursor",
		Format:      FormatJSON,
		path:        homeRel(".cursor", "mcp.json"),
	},
	"windsurf": {
		Name:        "windsurf",
		DisplayName: "Windsurf",
		Format:      FormatJSON,
		path:        homeRel(".codeium", "windsurf", "mcp_config.json"),
	},
	"goose": {
		Name:        "goose",
		DisplayName: "Goose",
		Format:      FormatYAML,
		path:        homeRel(".config", "goose", "config.yaml"),
	},
	"zed": {
		Name:        "zed",
		DisplayName: "Zed",
		Format:      FormatJSON,
		path:        homeRel(".config", "zed", "settings.json"),
	},
	"codex": {
		Name:        "codex",
		DisplayName: "Codex CLI",
		Format:      FormatTOML,
		path:        homeRel(".codex", "config.toml"),
	},
}

// Lookup returns the client registered under name.
func Lookup(name string) (Client, error) {
	c, ok := registry[name]
	if !ok {
		return Client{}, fmt.Errorf("unknown client %q (known: %v)", name, Names())
	}
	return c, nil
}

// Names lists all registered client names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every registered client, sorted by name.
func All() []Client {
	out := make([]Client, 0, len(registry))
	for _, name := range Names() {
		out = append(out, registry[name])
	}
	return out
}
