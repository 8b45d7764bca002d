package main

import (
	"github.com/spf13/cobra"
)

// buildInitCmd creates the "init" command.
func buildInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Scaffold the .eflycode state directory",
		Long: `Create ./.eflycode with a starter config.yaml and an empty mcp.json.

Existing files are left untouched, so init is safe to re-run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, workspaceFlag)
		},
	}
}

// buildMCPCmd creates the "mcp" command group.
func buildMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Manage MCP servers",
		Long: `Edit the MCP server list in .eflycode/mcp.json.

Configured servers are connected when an interactive session starts and
their tools appear to the agent under a <server>_ name prefix.`,
	}
	cmd.AddCommand(
		buildMCPListCmd(),
		buildMCPAddCmd(),
		buildMCPRemoveCmd(),
	)
	return cmd
}

func buildMCPListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured MCP servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCPList(cmd, workspaceFlag)
		},
	}
}

func buildMCPAddCmd() *cobra.Command {
	var (
		transport string
		command   string
		cmdArgs   []string
		envPairs  []string
		url       string
		headers   []string
	)
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add an MCP server",
		Long: `Add a server entry to .eflycode/mcp.json.

A --command implies the stdio transport and a --url implies http unless
--transport says otherwise. Environment values may reference ${VARS};
they are expanded at connect time, not stored expanded.

Examples:

  eflycode mcp add files --command npx --arg -y --arg @modelcontextprotocol/server-filesystem --arg .
  eflycode mcp add search --url https://mcp.example.com/sse --transport sse --header "Authorization=Bearer ${MCP_TOKEN}"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCPAdd(cmd, workspaceFlag, mcpAddOptions{
				name:      args[0],
				transport: transport,
				command:   command,
				args:      cmdArgs,
				env:       envPairs,
				url:       url,
				headers:   headers,
			})
		},
	}
	cmd.Flags().StringVar(&transport, "transport", "", "Transport: stdio, http, or sse (inferred when omitted)")
	cmd.Flags().StringVar(&command, "command", "", "Executable to spawn for stdio servers")
	cmd.Flags().StringArrayVar(&cmdArgs, "arg", nil, "Argument for the stdio command (repeatable)")
	cmd.Flags().StringArrayVar(&envPairs, "env", nil, "Environment entry KEY=VALUE for the stdio command (repeatable)")
	cmd.Flags().StringVar(&url, "url", "", "Endpoint URL for http or sse servers")
	cmd.Flags().StringArrayVar(&headers, "header", nil, "HTTP header KEY=VALUE (repeatable)")
	return cmd
}

func buildMCPRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove an MCP server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCPRemove(cmd, workspaceFlag, args[0])
		},
	}
}

// buildResumeCmd creates the "resume" command. Without an argument it
// reopens the most recent session; with one it reopens that session.
func buildResumeCmd() *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "resume [session_id]",
		Short: "Resume a previous session",
		Long: `Reopen a saved session and continue the conversation.

Without arguments the most recently updated session is resumed. Pass a
session id to pick one, or --list to see what is available.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				return runSessionList(cmd, workspaceFlag)
			}
			opts := sessionOptions{workspace: workspaceFlag, resumeLatest: true}
			if len(args) == 1 {
				opts.resumeID = args[0]
				opts.resumeLatest = false
			}
			return runSession(cmd, opts)
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "List recent sessions instead of resuming")
	return cmd
}

// buildRestoreCmd creates the "restore" command. Without an argument it
// lists checkpoints; with one it restores the workspace to it.
func buildRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore [checkpoint]",
		Short: "Roll the workspace back to a checkpoint",
		Long: `Restore workspace files from a checkpoint taken before a tool ran.

Without arguments the available checkpoints are listed, newest first.
Pass a checkpoint name or commit hash to restore it. Restoring only
touches tracked workspace files; the session transcript is unchanged.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return runRestore(cmd, workspaceFlag, name)
		},
	}
}
