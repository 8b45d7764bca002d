package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wangchen7722/eflycode-cli-sub002/pkg/models"
)

// FileStore keeps one <uuid>.json per session in a directory. Writes
// go to a temp file in the same directory followed by a rename, so a
// crash never leaves a truncated transcript.
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir. The directory is created
// on first save.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save writes the session atomically.
func (s *FileStore) Save(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		return fmt.Errorf("session has no id")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", session.ID, err)
	}

	tmp, err := os.CreateTemp(s.dir, session.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write session %s: %w", session.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(session.ID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename session %s: %w", session.ID, err)
	}
	return nil
}

// Load reads one transcript by id.
func (s *FileStore) Load(ctx context.Context, id string) (*models.Session, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}
	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", id, err)
	}
	return &session, nil
}

// ListRecent returns up to limit sessions sorted by file mtime
// descending, with preview metadata.
func (s *FileStore) ListRecent(ctx context.Context, limit int) ([]SessionInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}

	type candidate struct {
		id    string
		mtime int64
	}
	var candidates []candidate
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{
			id:    strings.TrimSuffix(name, ".json"),
			mtime: info.ModTime().UnixNano(),
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].mtime > candidates[j].mtime
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	infos := make([]SessionInfo, 0, len(candidates))
	for _, c := range candidates {
		session, err := s.Load(ctx, c.id)
		if err != nil {
			continue // unreadable file, skip from listing
		}
		infos = append(infos, SessionInfo{
			ID:                     session.ID,
			UpdatedAt:              session.UpdatedAt,
			MessageCount:           len(session.Messages),
			LastUserMessagePreview: Preview(LastUserMessage(session.Messages)),
		})
	}
	return infos, nil
}
