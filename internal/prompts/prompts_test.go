package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRenderAgentTemplate(t *testing.T) {
	got, err := NewLoader("").Render(AgentTemplate, map[string]any{
		"Timestamp": "Mon, 24 Aug 2026 10:00:00 UTC",
		"Workspace": "/home/u/project",
		"OS":        "linux",
		"Model":     "gpt-4o",
		"Tools": []struct{ Name, Description string }{
			{Name: "read_file", Description: "Read a file"},
		},
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	for _, want := range []string{"/home/u/project", "linux", "gpt-4o", "- read_file: Read a file"} {
		if !strings.Contains(got, want) {
			t.Errorf("Render() missing %q", want)
		}
	}
}

func TestLoadUnknownTemplate(t *testing.T) {
	if _, err := NewLoader("").Load("nope"); err == nil {
		t.Fatal("Load() expected error for unknown template")
	}
}

func TestOverrideDirWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, AgentTemplate+".md")
	if err := os.WriteFile(path, []byte("custom {{.Model}}"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := NewLoader(dir).Render(AgentTemplate, map[string]any{"Model": "m1"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if got != "custom m1" {
		t.Errorf("Render() = %q, want override content", got)
	}
}

func TestOverrideMissFallsBack(t *testing.T) {
	got, err := NewLoader(t.TempDir()).Load(AgentTemplate)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !strings.Contains(got, "eflycode") {
		t.Errorf("Load() did not return the embedded default")
	}
}
