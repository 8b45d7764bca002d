package skills

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// frontMatterDelimiter opens and closes the YAML block at the top of a
// skill file.
const frontMatterDelimiter = "---"

type frontMatter struct {
	Description string `yaml:"description"`
}

// ParseFile reads one skill markdown file. The skill name is the file
// stem; the front-matter must carry at least a description.
func ParseFile(path string, source Source) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skill: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat skill: %w", err)
	}
	skill, err := Parse(data)
	if err != nil {
		return nil, err
	}
	base := filepath.Base(path)
	skill.Name = strings.TrimSuffix(base, filepath.Ext(base))
	skill.FilePath = path
	skill.Source = source
	skill.ModTime = info.ModTime()
	return skill, nil
}

// Parse splits front-matter from body and validates the metadata.
func Parse(data []byte) (*Skill, error) {
	meta, body, err := splitFrontMatter(data)
	if err != nil {
		return nil, err
	}
	var fm frontMatter
	if err := yaml.Unmarshal(meta, &fm); err != nil {
		return nil, fmt.Errorf("parse front-matter: %w", err)
	}
	if strings.TrimSpace(fm.Description) == "" {
		return nil, fmt.Errorf("skill description is required")
	}
	return &Skill{
		Description: strings.TrimSpace(fm.Description),
		Content:     strings.TrimSpace(string(body)),
	}, nil
}

// splitFrontMatter separates the YAML front-matter from the markdown
// body.
func splitFrontMatter(data []byte) (meta, body []byte, err error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	if !scanner.Scan() {
		return nil, nil, fmt.Errorf("empty file")
	}
	if strings.TrimSpace(scanner.Text()) != frontMatterDelimiter {
		return nil, nil, fmt.Errorf("missing opening front-matter delimiter")
	}

	var metaLines []string
	closed := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == frontMatterDelimiter {
			closed = true
			break
		}
		metaLines = append(metaLines, line)
	}
	if !closed {
		return nil, nil, fmt.Errorf("missing closing front-matter delimiter")
	}

	var bodyLines []string
	for scanner.Scan() {
		bodyLines = append(bodyLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan skill file: %w", err)
	}
	return []byte(strings.Join(metaLines, "\n")), []byte(strings.Join(bodyLines, "\n")), nil
}
