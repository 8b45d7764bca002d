// Package skills discovers markdown skill files, tracks their enabled
// state across restarts, and exposes the activation tool the model
// uses to pull a skill's full instructions into context.
package skills

import (
	"sort"
	"time"
)

// Source indicates which directory a skill came from. Project skills
// override user skills of the same name.
type Source string

const (
	SourceUser    Source = "user"
	SourceProject Source = "project"
)

// Skill is one parsed markdown skill file.
type Skill struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Content     string    `json:"-"`
	FilePath    string    `json:"file_path"`
	Source      Source    `json:"source"`
	Disabled    bool      `json:"disabled,omitempty"`
	ModTime     time.Time `json:"mtime"`
}

// Changes summarizes one scan against the previous manifest.
type Changes struct {
	Added    []string
	Modified []string
	Removed  []string
}

// Empty reports whether the scan observed no differences.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Removed) == 0
}

func sortSkills(skills []Skill) {
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
}
