package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/wangchen7722/eflycode-cli-sub002/pkg/models"
)

// ListFiles lists directory entries inside the workspace.
type ListFiles struct {
	workspace string
}

// NewListFiles builds the tool from cfg.
func NewListFiles(cfg Config) *ListFiles {
	return &ListFiles{workspace: cfg.Workspace}
}

type listFilesArgs struct {
	Path       string `json:"path,omitempty" jsonschema:"description=Directory to list relative to the workspace; defaults to the workspace root"`
	Recursive  bool   `json:"recursive,omitempty" jsonschema:"description=Walk subdirectories"`
	MaxEntries int    `json:"max_entries,omitempty" jsonschema:"minimum=1,description=Cap on returned entries"`
}

func (t *ListFiles) Descriptor() models.ToolDescriptor {
	return models.ToolDescriptor{
		Name:        "list_files",
		Description: "List files in a workspace directory. Directories end with a slash.",
		Permission:  models.PermissionRead,
		Parameters:  reflectSchema(&listFilesArgs{}),
	}
}

func (t *ListFiles) Invoke(_ context.Context, args map[string]any) (string, error) {
	var in listFilesArgs
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	if in.Path == "" {
		in.Path = "."
	}
	max := in.MaxEntries
	if max <= 0 {
		max = defaultMaxListEntries
	}
	root, err := resolveInWorkspace(t.workspace, in.Path)
	if err != nil {
		return "", err
	}

	var entries []string
	truncated := false
	if in.Recursive {
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if path == root {
				return nil
			}
			name := d.Name()
			if d.IsDir() && (name == ".git" || name == ".eflycode") {
				return filepath.SkipDir
			}
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				return relErr
			}
			if len(entries) >= max {
				truncated = true
				return filepath.SkipAll
			}
			if d.IsDir() {
				rel += "/"
			}
			entries = append(entries, rel)
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("walk %s: %w", in.Path, err)
		}
	} else {
		dirEntries, readErr := os.ReadDir(root)
		if readErr != nil {
			return "", fmt.Errorf("list %s: %w", in.Path, readErr)
		}
		for _, e := range dirEntries {
			if len(entries) >= max {
				truncated = true
				break
			}
			name := e.Name()
			if e.IsDir() {
				name += "/"
			}
			entries = append(entries, name)
		}
	}

	if len(entries) == 0 {
		return fmt.Sprintf("%s is empty", in.Path), nil
	}
	out := strings.Join(entries, "\n")
	if truncated {
		out += fmt.Sprintf("\n...[truncated at %d entries]", max)
	}
	return out, nil
}
