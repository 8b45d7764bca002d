package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/wangchen7722/eflycode-cli-sub002/pkg/models"
)

// sidecarTimeFormat keeps names filesystem-safe on every platform, so
// colons become dashes.
const sidecarTimeFormat = "2006-01-02T15-04-05Z"

// Named is a checkpoint paired with its sidecar file name, the handle
// users pass to the restore command.
type Named struct {
	Name       string
	Checkpoint models.Checkpoint
}

// writeSidecar records the checkpoint as
// <UTC-time>-<target-or-unknown>-<tool>.json.
func (s *Store) writeSidecar(cp *models.Checkpoint) error {
	if err := os.MkdirAll(s.sidecarDir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("%s-%s-%s.json",
		cp.CreatedAt.UTC().Format(sidecarTimeFormat),
		targetFromArguments(cp.ToolCall.Function.Arguments),
		sanitizeComponent(cp.ToolCall.Function.Name),
	)
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.sidecarDir, name), data, 0o644)
}

// targetFromArguments digs the affected file out of the raw tool
// arguments. Unknown shapes fall back to "unknown".
func targetFromArguments(rawArgs string) string {
	var args map[string]any
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return "unknown"
	}
	for _, key := range []string{"path", "file_path", "filename", "file"} {
		if v, ok := args[key].(string); ok && v != "" {
			return sanitizeComponent(filepath.Base(v))
		}
	}
	return "unknown"
}

// sanitizeComponent keeps a file-name component portable.
func sanitizeComponent(s string) string {
	if s == "" {
		return "unknown"
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// List returns recorded checkpoints, newest first. The time-prefixed
// names make the lexicographic order chronological.
func (s *Store) List() ([]Named, error) {
	entries, err := os.ReadDir(s.sidecarDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Named
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.sidecarDir, entry.Name()))
		if err != nil {
			continue
		}
		var cp models.Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			continue
		}
		out = append(out, Named{
			Name:       strings.TrimSuffix(entry.Name(), ".json"),
			Checkpoint: cp,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name > out[j].Name })
	return out, nil
}

// Find resolves a checkpoint by sidecar name or commit hash prefix.
func (s *Store) Find(nameOrHash string) (*Named, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].Name == nameOrHash {
			return &all[i], nil
		}
	}
	for i := range all {
		if strings.HasPrefix(all[i].Checkpoint.CommitHash, nameOrHash) {
			return &all[i], nil
		}
	}
	return nil, fmt.Errorf("checkpoint %q not found", nameOrHash)
}

// PruneSidecars removes sidecars created before cutoff and reports how
// many were deleted. The shadow repo keeps its commits; pruning only
// trims the listing.
func (s *Store) PruneSidecars(cutoff time.Time) (int, error) {
	all, err := s.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, named := range all {
		if named.Checkpoint.CreatedAt.Before(cutoff) {
			path := filepath.Join(s.sidecarDir, named.Name+".json")
			if err := os.Remove(path); err != nil {
				s.logger.Warn("failed to prune checkpoint sidecar", "name", named.Name, "error", err)
				continue
			}
			removed++
		}
	}
	return removed, nil
}
