// Package commands provides slash command detection and routing for
// the composer. Lines starting with "/" are intercepted here before
// they can become model input.
package commands

import (
	"context"
	"time"
)

// Command is one registered slash command.
type Command struct {
	// Name is the command name without the leading slash.
	Name string `json:"name"`

	// Aliases are alternative names for the command.
	Aliases []string `json:"aliases,omitempty"`

	// Description is a short description of what the command does.
	Description string `json:"description,omitempty"`

	// Usage shows how to use the command.
	Usage string `json:"usage,omitempty"`

	// AcceptsArgs indicates if the command accepts arguments.
	AcceptsArgs bool `json:"accepts_args"`

	// Hidden hides the command from help listings.
	Hidden bool `json:"hidden,omitempty"`

	// Handler executes the command.
	Handler Handler `json:"-"`
}

// Handler processes a command invocation.
type Handler func(ctx context.Context, inv *Invocation) (*Result, error)

// Invocation is a parsed command invocation.
type Invocation struct {
	// Command is the matched command definition.
	Command *Command

	// Name is the actual name or alias used to invoke.
	Name string

	// Args is the text after the command name.
	Args string

	// RawText is the original composer line.
	RawText string
}

// Result is the output of a command execution.
type Result struct {
	// Text is printed to the user.
	Text string `json:"text,omitempty"`

	// Suppress indicates no output should be printed.
	Suppress bool `json:"suppress,omitempty"`

	// Error is set if the command failed in an expected way; it is
	// printed instead of Text.
	Error string `json:"error,omitempty"`
}

// SkillRow is the skill summary the /skills command renders.
type SkillRow struct {
	Name        string
	Description string
	Source      string
	Disabled    bool
}

// SkillStore exposes the skill set to /skills.
type SkillStore interface {
	List() []SkillRow
	SetDisabled(name string, disabled bool) error
}

// SessionRow is one entry in the /resume listing.
type SessionRow struct {
	ID        string
	Preview   string
	UpdatedAt time.Time
}

// SessionLister lists recent sessions for /resume.
type SessionLister interface {
	Recent(n int) ([]SessionRow, error)
}
