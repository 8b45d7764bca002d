package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wangchen7722/eflycode-cli-sub002/pkg/models"
)

// WriteFile writes or appends workspace files, creating parent
// directories as needed.
type WriteFile struct {
	workspace string
}

// NewWriteFile builds the tool from cfg.
func NewWriteFile(cfg Config) *WriteFile {
	return &WriteFile{workspace: cfg.Workspace}
}

type writeFileArgs struct {
	Path    string `json:"path" jsonschema:"description=Path to write relative to the workspace"`
	Content string `json:"content" jsonschema:"description=Full file contents to write"`
	Append  bool   `json:"append,omitempty" jsonschema:"description=Append instead of overwrite"`
}

func (t *WriteFile) Descriptor() models.ToolDescriptor {
	return models.ToolDescriptor{
		Name:        "write_file",
		Description: "Write content to a workspace file. Overwrites unless append is set.",
		Permission:  models.PermissionWrite,
		Parameters:  reflectSchema(&writeFileArgs{}),
	}
}

func (t *WriteFile) Invoke(_ context.Context, args map[string]any) (string, error) {
	var in writeFileArgs
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	resolved, err := resolveInWorkspace(t.workspace, in.Path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", fmt.Errorf("create parent directory: %w", err)
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if in.Append {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	file, err := os.OpenFile(resolved, flags, 0o644)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", in.Path, err)
	}
	defer file.Close()
	n, err := file.WriteString(in.Content)
	if err != nil {
		return "", fmt.Errorf("write %s: %w", in.Path, err)
	}
	if in.Append {
		return fmt.Sprintf("Appended %d bytes to %s", n, in.Path), nil
	}
	return fmt.Sprintf("Wrote %d bytes to %s", n, in.Path), nil
}
