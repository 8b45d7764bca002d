package tools

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	defaultMaxReadBytes   = 200000
	defaultMaxOutputBytes = 50000
	defaultCommandTimeout = 60 * time.Second
	defaultMaxListEntries = 500
)

// Config controls the builtin tool set.
type Config struct {
	// Workspace is the directory file and command tools operate in.
	Workspace string
	// MaxReadBytes caps read_file output.
	MaxReadBytes int
	// MaxOutputBytes caps captured command output.
	MaxOutputBytes int
	// CommandTimeout bounds run_command when the model gives none.
	CommandTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxReadBytes <= 0 {
		c.MaxReadBytes = defaultMaxReadBytes
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = defaultMaxOutputBytes
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = defaultCommandTimeout
	}
	return c
}

// Builtins returns the builtin tool set in registration order.
func Builtins(cfg Config) []Tool {
	cfg = cfg.withDefaults()
	return []Tool{
		NewListFiles(cfg),
		NewReadFile(cfg),
		NewWriteFile(cfg),
		NewRunCommand(cfg),
		NewFinishTask(),
	}
}

// decodeArgs maps validated arguments onto a typed input struct.
func decodeArgs(args map[string]any, v any) error {
	payload, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return nil
}
