// Package prompts loads and renders the prompt templates shipped with
// the binary. Templates are plain text/template files; a user override
// directory takes precedence over the embedded defaults.
package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"text/template"
)

//go:embed templates/*.md
var builtinFS embed.FS

// AgentTemplate names the system prompt template for the main agent
// role.
const AgentTemplate = "agent"

// Loader resolves template names to content, preferring files in the
// override directory over the embedded defaults.
type Loader struct {
	overrideDir string
}

// NewLoader returns a loader. overrideDir may be empty, in which case
// only embedded templates are served.
func NewLoader(overrideDir string) *Loader {
	return &Loader{overrideDir: overrideDir}
}

// Load returns the raw template text for name.
func (l *Loader) Load(name string) (string, error) {
	if l.overrideDir != "" {
		b, err := os.ReadFile(filepath.Join(l.overrideDir, name+".md"))
		if err == nil {
			return string(b), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("load template %s: %w", name, err)
		}
	}
	b, err := builtinFS.ReadFile("templates/" + name + ".md")
	if err != nil {
		return "", fmt.Errorf("unknown template %q", name)
	}
	return string(b), nil
}

// Render loads name and executes it with vars.
func (l *Loader) Render(name string, vars map[string]any) (string, error) {
	text, err := l.Load(name)
	if err != nil {
		return "", err
	}
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return buf.String(), nil
}
