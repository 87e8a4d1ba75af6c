// Package audit keeps a persistent trail of everything the engine decided
// and did: intake decisions, workflow run transitions, and alert outcomes.
// Entries are written by a bus subscriber, so the domain services never call
// the audit layer directly.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("audit entry not found")

// Entry is one recorded occurrence. SubjectKind and SubjectID identify the
// domain object the event was about, when one could be determined.
type Entry struct {
	ID          uuid.UUID              `db:"id" json:"id"`
	EventID     string                 `db:"event_id" json:"event_id"`
	EventType   string                 `db:"event_type" json:"event_type"`
	SubjectKind string                 `db:"subject_kind" json:"subject_kind,omitempty"`
	SubjectID   string                 `db:"subject_id" json:"subject_id,omitempty"`
	Detail      map[string]interface{} `db:"detail" json:"detail,omitempty"`
	RecordedAt  time.Time              `db:"recorded_at" json:"recorded_at"`
	CreatedAt   time.Time              `db:"created_at" json:"created_at"`
}

// Filter narrows a trail query. Zero values mean no constraint.
type Filter struct {
	EventType   string
	SubjectKind string
	SubjectID   string
}

type Repository interface {
	Create(ctx context.Context, e *Entry) error
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)
	Search(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error)
}
