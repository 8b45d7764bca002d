package advisor

import (
	"context"
	"encoding/xml"
	"strings"

	"github.com/wangchen7722/eflycode-cli-sub002/pkg/models"
)

const skillsOpenTag = "<available_skills>"

const skillsInstruction = "When the user's request matches one of these skills, call the " +
	"activate_skill tool with the skill name before doing anything else."

// Skill is the subset of skill metadata rendered into the prompt.
type Skill struct {
	Name        string
	Description string
}

// SkillSource lists the skills currently enabled for activation.
type SkillSource interface {
	Available() []Skill
}

// SkillSourceFunc adapts a function to SkillSource.
type SkillSourceFunc func() []Skill

func (f SkillSourceFunc) Available() []Skill { return f() }

// Skills appends an <available_skills> block to the system message so
// the model knows what it can activate. The append is idempotent: a
// transcript that already carries the block, resumed sessions
// included, is left alone.
type Skills struct {
	Base
	source SkillSource
}

// NewSkills builds the advisor over a skill source, usually the
// skills manager.
func NewSkills(source SkillSource) *Skills {
	return &Skills{source: source}
}

func (a *Skills) Name() string { return "skills" }

func (a *Skills) BeforeCall(_ context.Context, req *models.LLMRequest) error {
	a.ensure(req)
	return nil
}

func (a *Skills) BeforeStream(_ context.Context, req *models.LLMRequest) error {
	a.ensure(req)
	return nil
}

func (a *Skills) ensure(req *models.LLMRequest) {
	skills := a.source.Available()
	if len(skills) == 0 {
		return
	}
	for _, m := range req.Messages {
		if m.Role == models.RoleSystem && strings.Contains(m.Content, skillsOpenTag) {
			return
		}
	}
	block := renderSkillsBlock(skills)
	if len(req.Messages) > 0 && req.Messages[0].Role == models.RoleSystem {
		req.Messages[0].Content += "\n\n" + block
		return
	}
	req.Messages = append([]models.Message{models.NewSystemMessage(block)}, req.Messages...)
}

func renderSkillsBlock(skills []Skill) string {
	var b strings.Builder
	b.WriteString(skillsOpenTag)
	b.WriteString("\n")
	for _, s := range skills {
		b.WriteString(`  <skill name="`)
		b.WriteString(escapeXML(s.Name))
		b.WriteString(`">`)
		b.WriteString(escapeXML(s.Description))
		b.WriteString("</skill>\n")
	}
	b.WriteString("</available_skills>\n\n")
	b.WriteString(skillsInstruction)
	return b.String()
}

func escapeXML(s string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return s
	}
	return b.String()
}
