package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/wangchen7722/eflycode-cli-sub002/internal/config"
)

// ServerConfig declares one MCP server. The name comes from the
// mcpServers map key, never from the entry body.
type ServerConfig struct {
	Name      string        `json:"-"`
	Transport TransportType `json:"transport,omitempty"`

	// stdio
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// http / sse
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Validate checks the entry and infers the transport when omitted:
// a command implies stdio, a url implies http.
func (c *ServerConfig) Validate() error {
	if c.Transport == "" {
		switch {
		case c.Command != "":
			c.Transport = TransportStdio
		case c.URL != "":
			c.Transport = TransportHTTP
		default:
			return fmt.Errorf("server %q: either command or url is required", c.Name)
		}
	}

	switch c.Transport {
	case TransportStdio:
		if c.Command == "" {
			return fmt.Errorf("server %q: command is required for stdio transport", c.Name)
		}
	case TransportHTTP, TransportSSE:
		if c.URL == "" {
			return fmt.Errorf("server %q: url is required for %s transport", c.Name, c.Transport)
		}
	default:
		return fmt.Errorf("server %q: unknown transport %q", c.Name, c.Transport)
	}

	return nil
}

// File is the parsed mcp.json. Entries stay unexpanded on disk;
// Servers returns the runtime view with ${NAME} references resolved.
type File struct {
	MCPServers map[string]*ServerConfig `json:"mcpServers"`
}

// LoadFile reads mcp.json. A missing file yields an empty File.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &File{MCPServers: map[string]*ServerConfig{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if f.MCPServers == nil {
		f.MCPServers = map[string]*ServerConfig{}
	}

	for name, cfg := range f.MCPServers {
		cfg.Name = name
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	return &f, nil
}

// Save writes the file atomically next to its final path.
func (f *File) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode servers: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write servers: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// Add registers a new server entry. Duplicate names are rejected so an
// add never silently clobbers an existing configuration.
func (f *File) Add(name string, cfg *ServerConfig) error {
	if name == "" {
		return fmt.Errorf("server name is required")
	}
	if _, exists := f.MCPServers[name]; exists {
		return fmt.Errorf("server %q already configured", name)
	}
	cfg.Name = name
	if err := cfg.Validate(); err != nil {
		return err
	}
	f.MCPServers[name] = cfg
	return nil
}

// Remove deletes a server entry, reporting whether it existed.
func (f *File) Remove(name string) bool {
	if _, exists := f.MCPServers[name]; !exists {
		return false
	}
	delete(f.MCPServers, name)
	return true
}

// Servers returns expanded copies of all entries sorted by name.
// Env values, header values, and the url run through ${NAME}
// expansion against the process environment.
func (f *File) Servers() []*ServerConfig {
	names := make([]string, 0, len(f.MCPServers))
	for name := range f.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)

	servers := make([]*ServerConfig, 0, len(names))
	for _, name := range names {
		src := f.MCPServers[name]
		cfg := &ServerConfig{
			Name:      name,
			Transport: src.Transport,
			Command:   src.Command,
			Args:      append([]string(nil), src.Args...),
			Env:       config.ExpandEnvMap(src.Env),
			URL:       config.ExpandEnv(src.URL),
			Headers:   config.ExpandEnvMap(src.Headers),
		}
		servers = append(servers, cfg)
	}
	return servers
}
