package skills

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/wangchen7722/eflycode-cli-sub002/internal/tools"
)

func scannedManager(t *testing.T) (*Manager, Config) {
	t.Helper()
	m, cfg := newTestManager(t)
	writeSkill(t, cfg.UserDir, "alpha", "first skill", "Use the <build> target & rerun.")
	writeSkill(t, cfg.UserDir, "beta", "second skill", "beta body")
	if _, err := m.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}
	return m, cfg
}

func TestActivateSkillDescriptorEnum(t *testing.T) {
	m, _ := scannedManager(t)
	if err := m.SetDisabled("beta", true); err != nil {
		t.Fatal(err)
	}

	desc := NewActivateSkill(m).Descriptor()
	if desc.Name != ActivateSkillName {
		t.Errorf("Name = %q", desc.Name)
	}
	var schema struct {
		Required   []string `json:"required"`
		Properties struct {
			SkillName struct {
				Enum []string `json:"enum"`
			} `json:"skill_name"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(desc.Parameters, &schema); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "skill_name" {
		t.Errorf("required = %v", schema.Required)
	}
	if len(schema.Properties.SkillName.Enum) != 1 || schema.Properties.SkillName.Enum[0] != "alpha" {
		t.Errorf("enum = %v, want [alpha]", schema.Properties.SkillName.Enum)
	}
}

func TestActivateSkillDescriptorWithoutSkills(t *testing.T) {
	m, _ := newTestManager(t)
	desc := NewActivateSkill(m).Descriptor()
	if strings.Contains(string(desc.Parameters), "enum") {
		t.Errorf("Parameters = %s, want no enum for empty set", desc.Parameters)
	}
}

func TestActivateSkillReturnsEscapedContent(t *testing.T) {
	m, _ := scannedManager(t)
	out, err := NewActivateSkill(m).Invoke(context.Background(), map[string]any{"skill_name": "alpha"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if !strings.HasPrefix(out, `<activated_skill name="alpha">`) {
		t.Errorf("Invoke() = %q, want activated_skill prefix", out)
	}
	if !strings.HasSuffix(out, "</activated_skill>") {
		t.Errorf("Invoke() = %q, want closing tag", out)
	}
	if !strings.Contains(out, "&lt;build&gt; target &amp; rerun") {
		t.Errorf("Invoke() = %q, want escaped body", out)
	}
}

func TestActivateSkillRejectsDisabledOrUnknown(t *testing.T) {
	m, _ := scannedManager(t)
	if err := m.SetDisabled("beta", true); err != nil {
		t.Fatal(err)
	}
	act := NewActivateSkill(m)
	ctx := context.Background()
	if _, err := act.Invoke(ctx, map[string]any{"skill_name": "beta"}); err == nil {
		t.Error("Invoke() expected error for disabled skill")
	}
	if _, err := act.Invoke(ctx, map[string]any{"skill_name": "ghost"}); err == nil {
		t.Error("Invoke() expected error for unknown skill")
	}
}

func TestActivateSkillThroughRegistry(t *testing.T) {
	m, cfg := newTestManager(t)
	reg := tools.NewRegistry()
	if err := reg.Register(NewActivateSkill(m)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// Registered before any skill existed; the enum appears once the
	// scan finds one and the registry revalidates against it.
	writeSkill(t, cfg.UserDir, "alpha", "first skill", "body")
	if _, err := m.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}

	out, err := reg.Invoke(context.Background(), ActivateSkillName, json.RawMessage(`{"skill_name":"alpha"}`))
	if err != nil {
		t.Fatalf("registry Invoke() error = %v", err)
	}
	if !strings.Contains(out, `name="alpha"`) {
		t.Errorf("Invoke() = %q", out)
	}
	if _, err := reg.Invoke(context.Background(), ActivateSkillName, json.RawMessage(`{"skill_name":"ghost"}`)); err == nil {
		t.Error("registry Invoke() expected enum rejection for unknown skill")
	}
}
