package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/wangchen7722/eflycode-cli-sub002/internal/checkpoint"
	"github.com/wangchen7722/eflycode-cli-sub002/internal/config"
	"github.com/wangchen7722/eflycode-cli-sub002/internal/mcp"
	"github.com/wangchen7722/eflycode-cli-sub002/internal/sessions"
)

// runInit handles the init command. It scaffolds the state directory
// without touching files that already exist.
func runInit(cmd *cobra.Command, workspace string) error {
	paths, err := config.NewPaths(workspace)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if err := os.MkdirAll(paths.StateDir(), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", paths.StateDir(), err)
	}

	if _, err := os.Stat(paths.ConfigFile()); err == nil {
		fmt.Fprintf(out, "%s already exists, leaving it untouched\n", paths.ConfigFile())
	} else {
		if err := config.DefaultConfig().Save(paths.ConfigFile()); err != nil {
			return err
		}
		fmt.Fprintf(out, "Created %s\n", paths.ConfigFile())
	}

	if _, err := os.Stat(paths.MCPFile()); err == nil {
		fmt.Fprintf(out, "%s already exists, leaving it untouched\n", paths.MCPFile())
	} else {
		empty := &mcp.File{MCPServers: map[string]*mcp.ServerConfig{}}
		if err := empty.Save(paths.MCPFile()); err != nil {
			return err
		}
		fmt.Fprintf(out, "Created %s\n", paths.MCPFile())
	}

	if err := os.MkdirAll(paths.ProjectSkills(), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", paths.ProjectSkills(), err)
	}

	fmt.Fprintln(out, "Workspace initialized. Set OPENAI_API_KEY and run \"eflycode\" to start.")
	return nil
}

// runMCPList handles mcp list.
func runMCPList(cmd *cobra.Command, workspace string) error {
	paths, err := config.NewPaths(workspace)
	if err != nil {
		return err
	}
	file, err := mcp.LoadFile(paths.MCPFile())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(file.MCPServers) == 0 {
		fmt.Fprintln(out, "No MCP servers configured.")
		return nil
	}
	names := make([]string, 0, len(file.MCPServers))
	for name := range file.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(out, "MCP servers:")
	for _, name := range names {
		// Entries are shown as stored, so ${VAR} secrets in urls and
		// headers stay unexpanded.
		s := file.MCPServers[name]
		target := s.URL
		if s.Transport == mcp.TransportStdio {
			target = strings.TrimSpace(s.Command + " " + strings.Join(s.Args, " "))
		}
		fmt.Fprintf(out, "  %s (%s) - %s\n", name, s.Transport, target)
	}
	return nil
}

type mcpAddOptions struct {
	name      string
	transport string
	command   string
	args      []string
	env       []string
	url       string
	headers   []string
}

// runMCPAdd handles mcp add.
func runMCPAdd(cmd *cobra.Command, workspace string, opts mcpAddOptions) error {
	paths, err := config.NewPaths(workspace)
	if err != nil {
		return err
	}
	file, err := mcp.LoadFile(paths.MCPFile())
	if err != nil {
		return err
	}

	env, err := parseKeyValues(opts.env)
	if err != nil {
		return err
	}
	headers, err := parseKeyValues(opts.headers)
	if err != nil {
		return err
	}

	server := &mcp.ServerConfig{
		Transport: mcp.TransportType(opts.transport),
		Command:   opts.command,
		Args:      opts.args,
		Env:       env,
		URL:       opts.url,
		Headers:   headers,
	}
	if err := file.Add(opts.name, server); err != nil {
		return err
	}
	if err := file.Save(paths.MCPFile()); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Added MCP server %q (%s)\n", opts.name, server.Transport)
	return nil
}

// runMCPRemove handles mcp remove.
func runMCPRemove(cmd *cobra.Command, workspace, name string) error {
	paths, err := config.NewPaths(workspace)
	if err != nil {
		return err
	}
	file, err := mcp.LoadFile(paths.MCPFile())
	if err != nil {
		return err
	}
	if !file.Remove(name) {
		return fmt.Errorf("server %q is not configured", name)
	}
	if err := file.Save(paths.MCPFile()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed MCP server %q\n", name)
	return nil
}

// runSessionList handles resume --list.
func runSessionList(cmd *cobra.Command, workspace string) error {
	paths, err := config.NewPaths(workspace)
	if err != nil {
		return err
	}
	store := sessions.NewFileStore(paths.SessionsDir())
	infos, err := store.ListRecent(cmd.Context(), 20)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No saved sessions.")
		return nil
	}
	fmt.Fprintln(out, "Recent sessions:")
	for _, info := range infos {
		preview := info.LastUserMessagePreview
		if preview == "" {
			preview = "(empty)"
		}
		fmt.Fprintf(out, "  %s  %s  %3d msgs  %s\n",
			info.ID, info.UpdatedAt.Local().Format("2006-01-02 15:04"), info.MessageCount, preview)
	}
	return nil
}

// runRestore handles the restore command. An empty name lists the
// available checkpoints instead of restoring.
func runRestore(cmd *cobra.Command, workspace, name string) error {
	paths, err := config.NewPaths(workspace)
	if err != nil {
		return err
	}
	store := checkpoint.NewStore(workspace, paths.HistoryDir(), paths.CheckpointsDir(), nil)
	out := cmd.OutOrStdout()

	if name == "" {
		all, err := store.List()
		if err != nil {
			return err
		}
		if len(all) == 0 {
			fmt.Fprintln(out, "No checkpoints recorded.")
			return nil
		}
		// Newest first reads naturally when picking a rollback target.
		sort.Slice(all, func(i, j int) bool {
			return all[i].Checkpoint.CreatedAt.After(all[j].Checkpoint.CreatedAt)
		})
		fmt.Fprintln(out, "Checkpoints:")
		for _, named := range all {
			cp := named.Checkpoint
			fmt.Fprintf(out, "  %s  %s  %s  %s\n",
				named.Name, cp.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				cp.ToolCall.Function.Name, shortHash(cp.CommitHash))
		}
		fmt.Fprintln(out, "\nRestore one with: eflycode restore <name>")
		return nil
	}

	named, err := store.Find(name)
	if err != nil {
		return err
	}
	if err := store.Restore(cmd.Context(), named.Checkpoint.CommitHash); err != nil {
		return err
	}
	fmt.Fprintf(out, "Restored workspace to %s (%s)\n", named.Name, shortHash(named.Checkpoint.CommitHash))
	return nil
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}

// parseKeyValues parses repeated KEY=VALUE flags into a map. A nil map
// is returned for no entries so empty fields stay out of mcp.json.
func parseKeyValues(items []string) (map[string]string, error) {
	if len(items) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(items))
	for _, item := range items {
		parts := strings.SplitN(item, "=", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
			return nil, fmt.Errorf("invalid value %q, expected key=value", item)
		}
		out[strings.TrimSpace(parts[0])] = parts[1]
	}
	return out, nil
}
