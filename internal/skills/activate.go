package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wangchen7722/eflycode-cli-sub002/pkg/models"
)

// ActivateSkillName is the registry name of the activation tool.
const ActivateSkillName = "activate_skill"

// xml.EscapeText also escapes newlines, which would mangle multi-line
// markdown bodies; replace just the markup characters.
var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

// ActivateSkill returns a skill's full instructions to the model. Its
// skill_name enum tracks the enabled set, so the advertised schema
// changes as skills are scanned or toggled; the registry reads
// descriptors live.
type ActivateSkill struct {
	manager *Manager
}

// NewActivateSkill builds the tool over the manager's live skill set.
func NewActivateSkill(m *Manager) *ActivateSkill {
	return &ActivateSkill{manager: m}
}

func (t *ActivateSkill) Descriptor() models.ToolDescriptor {
	prop := map[string]any{
		"type":        "string",
		"description": "Name of the skill to activate",
	}
	enabled := t.manager.Enabled()
	if len(enabled) > 0 {
		names := make([]string, len(enabled))
		for i, s := range enabled {
			names[i] = s.Name
		}
		prop["enum"] = names
	}
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"skill_name": prop},
		"required":   []string{"skill_name"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		payload = json.RawMessage(`{"type":"object"}`)
	}
	return models.ToolDescriptor{
		Name:        ActivateSkillName,
		Description: "Load a skill's full instructions into context before acting on it.",
		Permission:  models.PermissionRead,
		Parameters:  payload,
	}
}

func (t *ActivateSkill) Invoke(_ context.Context, args map[string]any) (string, error) {
	name, _ := args["skill_name"].(string)
	skill, ok := t.manager.Get(name)
	if !ok || skill.Disabled {
		return "", fmt.Errorf("unknown or disabled skill %q", name)
	}
	return fmt.Sprintf("<activated_skill name=\"%s\">\n%s\n</activated_skill>",
		xmlEscaper.Replace(skill.Name), xmlEscaper.Replace(skill.Content)), nil
}
