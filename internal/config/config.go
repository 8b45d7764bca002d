// Package config loads and validates the eflycode runtime
// configuration and owns the on-disk state layout.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure, persisted at
// <workspace>/.eflycode/config.yaml.
type Config struct {
	ActiveModel string          `yaml:"active_model"`
	Models      []ModelConfig   `yaml:"models"`
	Context     ContextConfig   `yaml:"context"`
	Approval    ApprovalConfig  `yaml:"approval"`
	Logging     LoggingConfig   `yaml:"logging"`
	Retention   RetentionConfig `yaml:"retention"`

	// LLMTimeout bounds one provider call. Zero means the default.
	LLMTimeout time.Duration `yaml:"llm_timeout"`
}

// ModelConfig describes one selectable model entry.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // openai | anthropic
	// APIKey is a literal key, a ${NAME} reference, or empty to fall
	// back to APIKeyEnv (default OPENAI_API_KEY).
	APIKey           string  `yaml:"api_key"`
	APIKeyEnv        string  `yaml:"api_key_env"`
	BaseURL          string  `yaml:"base_url"`
	Temperature      float32 `yaml:"temperature"`
	MaxTokens        int     `yaml:"max_tokens"`
	MaxContextLength int     `yaml:"max_context_length"`
}

// ContextConfig selects and tunes the context-window strategy.
type ContextConfig struct {
	Strategy string `yaml:"strategy"` // sliding_window | summarize
	// Size is the message-count cap for the sliding window.
	Size int `yaml:"size"`
	// Threshold is the fraction of the model context that triggers
	// summarization.
	Threshold float64 `yaml:"threshold"`
	// KeepRecent is how many trailing messages summarization retains.
	KeepRecent int `yaml:"keep_recent"`
	// SummarizerModel names the Models entry used for summaries;
	// empty uses the active model.
	SummarizerModel string `yaml:"summarizer_model"`
}

// ApprovalConfig controls tool approval prompting.
type ApprovalConfig struct {
	// AutoApprove skips interactive prompts for tools that request
	// approval.
	AutoApprove bool `yaml:"auto_approve"`
}

// LoggingConfig controls the slog setup.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

// RetentionConfig tunes the periodic cleanup of checkpoint sidecars
// and request logs.
type RetentionConfig struct {
	Enabled bool `yaml:"enabled"`
	// MaxAge prunes sidecars and logs older than this. Zero means the
	// default of 30 days.
	MaxAge time.Duration `yaml:"max_age"`
	// Schedule is a cron expression; empty means daily at 04:00.
	Schedule string `yaml:"schedule"`
}

const (
	DefaultLLMTimeout   = 60 * time.Second
	defaultWindowSize   = 40
	defaultThreshold    = 0.8
	defaultKeepRecent   = 10
	defaultRetentionAge = 30 * 24 * time.Hour
)

// StrategySlidingWindow and StrategySummarize are the valid
// Context.Strategy values.
const (
	StrategySlidingWindow = "sliding_window"
	StrategySummarize     = "summarize"
)

// ConfigError reports a malformed or unreadable config file. It is
// fatal at startup.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	cfg := &Config{
		ActiveModel: "gpt-4o-mini",
		Models: []ModelConfig{
			{
				Name:             "gpt-4o-mini",
				Provider:         "openai",
				APIKeyEnv:        "OPENAI_API_KEY",
				MaxContextLength: 128000,
			},
		},
	}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return cfg, nil
}

func parse(data []byte) (*Config, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var cfg Config
	if err := decoder.Decode(&cfg); err != nil {
		if err == io.EOF {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LLMTimeout == 0 {
		cfg.LLMTimeout = DefaultLLMTimeout
	}
	if cfg.Context.Strategy == "" {
		cfg.Context.Strategy = StrategySlidingWindow
	}
	if cfg.Context.Size == 0 {
		cfg.Context.Size = defaultWindowSize
	}
	if cfg.Context.Threshold == 0 {
		cfg.Context.Threshold = defaultThreshold
	}
	if cfg.Context.KeepRecent == 0 {
		cfg.Context.KeepRecent = defaultKeepRecent
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Retention.MaxAge == 0 {
		cfg.Retention.MaxAge = defaultRetentionAge
	}
	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = "0 4 * * *"
	}
	for i := range cfg.Models {
		m := &cfg.Models[i]
		if m.Provider == "" {
			m.Provider = "openai"
		}
		if m.APIKeyEnv == "" {
			m.APIKeyEnv = "OPENAI_API_KEY"
		}
		if m.MaxContextLength == 0 {
			m.MaxContextLength = 128000
		}
	}
	if cfg.ActiveModel == "" && len(cfg.Models) > 0 {
		cfg.ActiveModel = cfg.Models[0].Name
	}
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("at least one model entry is required")
	}
	seen := map[string]bool{}
	for _, m := range c.Models {
		if m.Name == "" {
			return fmt.Errorf("model entry with empty name")
		}
		if seen[m.Name] {
			return fmt.Errorf("duplicate model name %q", m.Name)
		}
		seen[m.Name] = true
		switch m.Provider {
		case "openai", "anthropic":
		default:
			return fmt.Errorf("model %q: unknown provider %q", m.Name, m.Provider)
		}
	}
	if !seen[c.ActiveModel] {
		return fmt.Errorf("active_model %q is not a configured model", c.ActiveModel)
	}
	switch c.Context.Strategy {
	case StrategySlidingWindow, StrategySummarize:
	default:
		return fmt.Errorf("context.strategy %q is not sliding_window or summarize", c.Context.Strategy)
	}
	if c.Context.Threshold <= 0 || c.Context.Threshold > 1 {
		return fmt.Errorf("context.threshold %v must be in (0, 1]", c.Context.Threshold)
	}
	if c.Context.SummarizerModel != "" && !seen[c.Context.SummarizerModel] {
		return fmt.Errorf("context.summarizer_model %q is not a configured model", c.Context.SummarizerModel)
	}
	return nil
}

// Model returns the entry named name.
func (c *Config) Model(name string) (ModelConfig, bool) {
	for _, m := range c.Models {
		if m.Name == name {
			return m, true
		}
	}
	return ModelConfig{}, false
}

// Active returns the currently selected model entry.
func (c *Config) Active() ModelConfig {
	m, _ := c.Model(c.ActiveModel)
	return m
}

// Save writes the config to path with a trailing newline.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
