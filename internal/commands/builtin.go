package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/wangchen7722/eflycode-cli-sub002/internal/events"
)

// Deps connects the built-in commands to the runtime they steer. Nil
// fields degrade: /model without Select prints the list instead of
// prompting, and a nil Bus skips the change event.
type Deps struct {
	// ActiveModel returns the currently selected model name.
	ActiveModel func() string

	// Models returns the configured model names.
	Models func() []string

	// SetModel switches the active LLM configuration.
	SetModel func(ctx context.Context, name string) error

	// Select prompts the user to pick one option and returns its
	// index. An error means the user canceled.
	Select func(title string, options []string) (int, error)

	// Clear resets the transcript of the live session.
	Clear func()

	// Skills backs /skills.
	Skills SkillStore

	// Sessions backs /resume listings.
	Sessions SessionLister

	// Resume switches the live session to id.
	Resume func(ctx context.Context, id string) error

	// Bus receives config.llm.changed after a model switch.
	Bus *events.Bus
}

// RegisterBuiltins registers the built-in commands.
func RegisterBuiltins(r *Registry, deps Deps) {
	mustRegister := func(cmd *Command) {
		if err := r.Register(cmd); err != nil {
			panic(fmt.Sprintf("failed to register builtin command %q: %v", cmd.Name, err))
		}
	}

	mustRegister(&Command{
		Name:        "help",
		Aliases:     []string{"h", "?"},
		Description: "Show available commands",
		Usage:       "/help [command]",
		AcceptsArgs: true,
		Handler:     helpHandler(r),
	})

	mustRegister(&Command{
		Name:        "model",
		Description: "Show or change the active model",
		Usage:       "/model [model_name]",
		AcceptsArgs: true,
		Handler:     modelHandler(deps),
	})

	mustRegister(&Command{
		Name:        "clear",
		Aliases:     []string{"new"},
		Description: "Clear the conversation and start fresh",
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			if deps.Clear == nil {
				return &Result{Error: "No active session to clear"}, nil
			}
			deps.Clear()
			return &Result{Text: "Conversation cleared."}, nil
		},
	})

	mustRegister(&Command{
		Name:        "skills",
		Description: "List skills or toggle one",
		Usage:       "/skills [enable|disable <name>]",
		AcceptsArgs: true,
		Handler:     skillsHandler(deps),
	})

	mustRegister(&Command{
		Name:        "resume",
		Description: "List recent sessions or switch to one",
		Usage:       "/resume [session_id]",
		AcceptsArgs: true,
		Handler:     resumeHandler(deps),
	})
}

func modelHandler(deps Deps) Handler {
	return func(ctx context.Context, inv *Invocation) (*Result, error) {
		name := strings.TrimSpace(inv.Args)

		if name == "" {
			var models []string
			if deps.Models != nil {
				models = deps.Models()
			}
			active := ""
			if deps.ActiveModel != nil {
				active = deps.ActiveModel()
			}
			if len(models) == 0 {
				if active == "" {
					return &Result{Error: "No models configured"}, nil
				}
				return &Result{Text: "Current model: " + active}, nil
			}
			if deps.Select == nil {
				var sb strings.Builder
				fmt.Fprintf(&sb, "Current model: %s\n", active)
				sb.WriteString("Configured models:\n")
				for _, m := range models {
					marker := "  "
					if m == active {
						marker = "* "
					}
					fmt.Fprintf(&sb, "  %s%s\n", marker, m)
				}
				sb.WriteString("Use /model <name> to switch.")
				return &Result{Text: sb.String()}, nil
			}

			options := make([]string, len(models))
			for i, m := range models {
				if m == active {
					options[i] = m + " (current)"
				} else {
					options[i] = m
				}
			}
			idx, err := deps.Select("Select a model", options)
			if err != nil {
				// Canceled selection is not a failure.
				return &Result{Suppress: true}, nil
			}
			if idx < 0 || idx >= len(models) {
				return &Result{Error: "Invalid selection"}, nil
			}
			name = models[idx]
		}

		if deps.SetModel == nil {
			return &Result{Error: "Model switching is not available"}, nil
		}
		if err := deps.SetModel(ctx, name); err != nil {
			return &Result{Error: fmt.Sprintf("Cannot switch model: %v", err)}, nil
		}
		if deps.Bus != nil {
			e := events.New(events.ConfigLLMChanged)
			e.Model = name
			deps.Bus.Emit(e)
		}
		return &Result{Text: "Model changed to " + name}, nil
	}
}

func skillsHandler(deps Deps) Handler {
	return func(ctx context.Context, inv *Invocation) (*Result, error) {
		if deps.Skills == nil {
			return &Result{Error: "Skills are not available"}, nil
		}
		args := strings.Fields(inv.Args)

		if len(args) == 0 {
			rows := deps.Skills.List()
			if len(rows) == 0 {
				return &Result{Text: "No skills found. Add markdown files under the skills directories."}, nil
			}
			var sb strings.Builder
			sb.WriteString("Skills:\n")
			for _, row := range rows {
				state := " "
				if row.Disabled {
					state = "off"
				}
				fmt.Fprintf(&sb, "  [%-3s] %s (%s) - %s\n", state, row.Name, row.Source, row.Description)
			}
			sb.WriteString("Use /skills enable|disable <name> to toggle.")
			return &Result{Text: sb.String()}, nil
		}

		if len(args) != 2 {
			return &Result{Error: "Usage: /skills [enable|disable <name>]"}, nil
		}
		verb, name := strings.ToLower(args[0]), args[1]
		var disabled bool
		switch verb {
		case "enable":
			disabled = false
		case "disable":
			disabled = true
		default:
			return &Result{Error: "Usage: /skills [enable|disable <name>]"}, nil
		}
		if err := deps.Skills.SetDisabled(name, disabled); err != nil {
			return &Result{Error: fmt.Sprintf("Cannot update skill: %v", err)}, nil
		}
		if disabled {
			return &Result{Text: "Disabled skill " + name}, nil
		}
		return &Result{Text: "Enabled skill " + name}, nil
	}
}

func resumeHandler(deps Deps) Handler {
	return func(ctx context.Context, inv *Invocation) (*Result, error) {
		id := strings.TrimSpace(inv.Args)

		if id == "" {
			if deps.Sessions == nil {
				return &Result{Error: "Session history is not available"}, nil
			}
			rows, err := deps.Sessions.Recent(10)
			if err != nil {
				return &Result{Error: fmt.Sprintf("Cannot list sessions: %v", err)}, nil
			}
			if len(rows) == 0 {
				return &Result{Text: "No previous sessions."}, nil
			}
			var sb strings.Builder
			sb.WriteString("Recent sessions:\n")
			for _, row := range rows {
				preview := row.Preview
				if preview == "" {
					preview = "(empty)"
				}
				fmt.Fprintf(&sb, "  %s  %s  %s\n",
					row.ID, row.UpdatedAt.Format("2006-01-02 15:04"), preview)
			}
			sb.WriteString("Use /resume <session_id> to switch.")
			return &Result{Text: sb.String()}, nil
		}

		if deps.Resume == nil {
			return &Result{Error: "Resuming is not available"}, nil
		}
		if err := deps.Resume(ctx, id); err != nil {
			return &Result{Error: fmt.Sprintf("Cannot resume session: %v", err)}, nil
		}
		return &Result{Text: "Resumed session " + id}, nil
	}
}

func helpHandler(r *Registry) Handler {
	return func(ctx context.Context, inv *Invocation) (*Result, error) {
		if inv.Args != "" {
			cmdName := strings.ToLower(strings.TrimSpace(inv.Args))
			cmdName = strings.TrimPrefix(cmdName, "/")

			cmd, exists := r.Get(cmdName)
			if !exists {
				return &Result{
					Text: fmt.Sprintf("Unknown command: %s\n\nUse /help to see available commands.", cmdName),
				}, nil
			}

			var sb strings.Builder
			fmt.Fprintf(&sb, "/%s\n", cmd.Name)
			if cmd.Description != "" {
				sb.WriteString(cmd.Description + "\n")
			}
			if cmd.Usage != "" {
				fmt.Fprintf(&sb, "\nUsage: %s\n", cmd.Usage)
			}
			if len(cmd.Aliases) > 0 {
				aliases := make([]string, len(cmd.Aliases))
				for i, a := range cmd.Aliases {
					aliases[i] = "/" + a
				}
				fmt.Fprintf(&sb, "\nAliases: %s\n", strings.Join(aliases, ", "))
			}
			return &Result{Text: strings.TrimRight(sb.String(), "\n")}, nil
		}

		var sb strings.Builder
		sb.WriteString("Available commands:\n")
		for _, cmd := range r.ListVisible() {
			desc := cmd.Description
			if desc == "" {
				desc = "No description"
			}
			fmt.Fprintf(&sb, "  /%-8s %s\n", cmd.Name, desc)
		}
		sb.WriteString("Use /help <command> for details.")
		return &Result{Text: sb.String()}, nil
	}
}
