// Package sessions keeps per-session conversation history, serializes access
// to it, and persists snapshots.
package sessions

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Turn is one user/assistant exchange. Immutable once appended.
type Turn struct {
	User      string    `json:"human"`
	Assistant string    `json:"ai"`
	Tokens    int       `json:"tokens"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is the persisted form of a session's history.
type Snapshot struct {
	SessionID    string    `json:"session_id"`
	Turns        []Turn    `json:"messages"`
	TotalTokens  int       `json:"total_tokens"`
	MessageCount int       `json:"message_count"`
	SavedAt      time.Time `json:"saved_at"`
	Summary      string    `json:"summary"`
}

// SnapshotStore persists snapshots. Load returns nil, nil when none exists.
type SnapshotStore interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context, id string) (*Snapshot, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Snapshot, error)
	Close() error
}

// ErrInvalidID is returned for session ids that are empty, too long, or
// contain characters outside [A-Za-z0-9._-].
var ErrInvalidID = errors.New("invalid session id")

var idRe = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// ValidateID checks that id is usable as a store key and file name.
func ValidateID(id string) error {
	if !idRe.MatchString(id) || id == "." || id == ".." {
		return ErrInvalidID
	}
	return nil
}

// NewID returns a fresh server-generated session id.
func NewID() string {
	return uuid.NewString()
}
