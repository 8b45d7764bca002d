// Package main provides the CLI entry point for the eflycode coding agent.
//
// eflycode runs an interactive agent session in the terminal: user input
// goes through a turn loop that streams LLM output, executes tools with
// optional approval, and checkpoints the workspace before destructive
// tool calls.
//
// # Basic Usage
//
// Start an interactive session in the current workspace:
//
//	eflycode
//
// Scaffold the state directory:
//
//	eflycode init
//
// Resume a previous session or roll the workspace back:
//
//	eflycode resume
//	eflycode restore
//
// # Environment Variables
//
//   - OPENAI_API_KEY: OpenAI API key (default key source for openai models)
//   - ANTHROPIC_API_KEY: Anthropic API key for claude models
//
// A .env file in the working directory is loaded on startup when present.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/wangchen7722/eflycode-cli-sub002/internal/ui"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

// Persistent flags shared by every subcommand.
var (
	workspaceFlag string
	debugFlag     bool
)

func main() {
	// Default logging before config is loaded: text to stderr at Info.
	// The interactive session redirects logs to a per-session file so
	// they do not interleave with streamed output.
	level := slog.LevelInfo
	if debugRequested(os.Args[1:]) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()

	if err := rootCmd.Execute(); err != nil {
		// Ctrl-C at a prompt is a clean exit, not a failure.
		if errors.Is(err, ui.ErrInterrupted) {
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// debugRequested scans raw args for --debug before cobra parses them,
// so early startup logging honors the flag too.
func debugRequested(args []string) bool {
	for _, a := range args {
		if a == "--debug" {
			return true
		}
		if a == "--" {
			break
		}
	}
	return false
}

// buildRootCmd creates the root command with all subcommands attached.
// Running the bare binary starts an interactive session.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "eflycode",
		Short: "eflycode - Interactive coding agent for the terminal",
		Long: `eflycode runs an LLM-driven coding agent against your workspace.

The agent streams its replies, edits files and runs commands through
approved tools, and checkpoints the workspace before destructive tool
calls so any step can be rolled back with "eflycode restore".

State lives under ./.eflycode (config, sessions, checkpoints, logs).`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Args:    cobra.NoArgs,
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
		// Errors are reported once in main, with interrupt handling.
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, sessionOptions{workspace: workspaceFlag})
		},
	}
	rootCmd.PersistentFlags().StringVarP(&workspaceFlag, "workspace", "C", ".", "Workspace directory the agent operates on")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		buildInitCmd(),
		buildMCPCmd(),
		buildResumeCmd(),
		buildRestoreCmd(),
	)

	return rootCmd
}
