// Package sessions persists conversation transcripts, one JSON file
// per session under the workspace state directory.
package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/wangchen7722/eflycode-cli-sub002/pkg/models"
)

// ErrNotFound is returned when a session id has no file.
var ErrNotFound = errors.New("session not found")

// PreviewLength caps the last-user-message preview in listings.
const PreviewLength = 200

// Store is the interface for session persistence. The orchestrator
// flushes after every step, so Save must be atomic.
type Store interface {
	Save(ctx context.Context, session *models.Session) error
	Load(ctx context.Context, id string) (*models.Session, error)
	ListRecent(ctx context.Context, limit int) ([]SessionInfo, error)
}

// SessionInfo is the preview metadata for session listings.
type SessionInfo struct {
	ID                     string    `json:"id"`
	UpdatedAt              time.Time `json:"updated_at"`
	MessageCount           int       `json:"message_count"`
	LastUserMessagePreview string    `json:"last_user_message_preview"`
}

// New creates a fresh session keyed by a new UUID.
func New(initialQuestion string) *models.Session {
	return &models.Session{
		ID:                  uuid.NewString(),
		InitialUserQuestion: initialQuestion,
		UpdatedAt:           time.Now().UTC(),
	}
}

// Preview truncates a message for listings.
func Preview(content string) string {
	runes := []rune(content)
	if len(runes) <= PreviewLength {
		return content
	}
	return string(runes[:PreviewLength])
}

// LastUserMessage returns the most recent user content, or "".
func LastUserMessage(msgs []models.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
