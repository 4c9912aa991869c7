package clients

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ServerEntry is the shape written into a client's mcpServers map.
type ServerEntry struct {
	Command string            `json:"command,omitempty" yaml:"command,omitempty" toml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty" toml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`
	URL     string            `json:"url,omitempty" yaml:"url,omitempty" toml:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" toml:"headers,omitempty"`
}

const serversKey = "mcpServers"

// Install writes or replaces the named server entry in the client's config
// file, creating the file and its directory when missing. Unrelated keys in
// the file survive untouched.
func Install(client Client, name string, entry ServerEntry) error {
	path, err := client.ConfigPath()
	if err != nil {
		return err
	}
	doc, err := readDoc(path, client.Format)
	if err != nil {
		return err
	}

	servers, _ := doc[serversKey].(map[string]any)
	if servers == nil {
		servers = map[string]any{}
	}
	servers[name] = entryToMap(entry)
	doc[serversKey] = servers

	return writeDoc(path, client.Format, doc)
}

// Uninstall removes the named server entry. A missing file or entry is not
// an error; uninstall is idempotent.
func Uninstall(client Client, name string) error {
	path, err := client.ConfigPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	doc, err := readDoc(path, client.Format)
	if err != nil {
		return err
	}
	servers, _ := doc[serversKey].(map[string]any)
	if servers == nil {
		return nil
	}
	if _, ok := servers[name]; !ok {
		return nil
	}
	delete(servers, name)
	doc[serversKey] = servers
	return writeDoc(path, client.Format, doc)
}

// List returns the names of servers configured for the client, sorted. A
// missing file yields an empty list.
func List(client Client) ([]string, error) {
	path, err := client.ConfigPath()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	doc, err := readDoc(path, client.Format)
	if err != nil {
		return nil, err
	}
	servers, _ := doc[serversKey].(map[string]any)
	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func entryToMap(entry ServerEntry) map[string]any {
	m := map[string]any{}
	if entry.Command != "" {
		m["command"] = entry.Command
	}
	if len(entry.Args) > 0 {
		m["args"] = entry.Args
	}
	if len(entry.Env) > 0 {
		m["env"] = entry.Env
	}
	if entry.URL != "" {
		m["url"] = entry.URL
	}
	if len(entry.Headers) > 0 {
		m["headers"] = entry.Headers
	}
	return m
}

func readDoc(path string, format Format) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	doc := map[string]any{}
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &doc)
	case FormatYAML:
		err = yaml.Unmarshal(data, &doc)
	case FormatTOML:
		err = toml.Unmarshal(data, &doc)
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func writeDoc(path string, format Format, doc map[string]any) error {
	var (
		data []byte
		err  error
	)
	switch format {
	case FormatJSON:
		data, err = json.MarshalIndent(doc, "", "  ")
		if err == nil {
			data = append(data, '\n')
		}
	case FormatYAML:
		data, err = yaml.Marshal(doc)
	case FormatTOML:
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(doc)
		data = buf.Bytes()
	default:
		return fmt.Errorf("unsupported config format %q", format)
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
