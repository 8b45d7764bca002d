package tools

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/wangchen7722/eflycode-cli-sub002/pkg/models"
)

// ReadFile reads workspace files with an optional offset and byte cap.
type ReadFile struct {
	workspace string
	maxBytes  int
}

// NewReadFile builds the tool from cfg.
func NewReadFile(cfg Config) *ReadFile {
	cfg = cfg.withDefaults()
	return &ReadFile{workspace: cfg.Workspace, maxBytes: cfg.MaxReadBytes}
}

type readFileArgs struct {
	Path     string `json:"path" jsonschema:"description=Path to the file relative to the workspace"`
	Offset   int64  `json:"offset,omitempty" jsonschema:"minimum=0,description=Byte offset to start reading from"`
	MaxBytes int    `json:"max_bytes,omitempty" jsonschema:"minimum=0,description=Maximum bytes to return"`
}

func (t *ReadFile) Descriptor() models.ToolDescriptor {
	return models.ToolDescriptor{
		Name:        "read_file",
		Description: "Read a file from the workspace. Large files are truncated; use offset to continue.",
		Permission:  models.PermissionRead,
		Parameters:  reflectSchema(&readFileArgs{}),
	}
}

func (t *ReadFile) Invoke(_ context.Context, args map[string]any) (string, error) {
	var in readFileArgs
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	resolved, err := resolveInWorkspace(t.workspace, in.Path)
	if err != nil {
		return "", err
	}
	file, err := os.Open(resolved)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", in.Path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", in.Path, err)
	}
	if in.Offset > 0 {
		if _, err := file.Seek(in.Offset, io.SeekStart); err != nil {
			return "", fmt.Errorf("seek %s: %w", in.Path, err)
		}
	}

	limit := t.maxBytes
	if in.MaxBytes > 0 && in.MaxBytes < limit {
		limit = in.MaxBytes
	}
	buf, err := io.ReadAll(io.LimitReader(file, int64(limit)))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", in.Path, err)
	}
	if info.Size() == 0 {
		return fmt.Sprintf("%s is empty", in.Path), nil
	}
	end := in.Offset + int64(len(buf))
	if end < info.Size() {
		return fmt.Sprintf("%s\n...[truncated: bytes %d-%d of %d]",
			string(buf), in.Offset, end, info.Size()), nil
	}
	return string(buf), nil
}
