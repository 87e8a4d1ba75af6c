package referral

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a case or decision does not exist.
var ErrNotFound = errors.New("not found")

type CaseRepository interface {
	Create(ctx context.Context, c *Case) error
	GetByID(ctx context.Context, id uuid.UUID) (*Case, error)
	List(ctx context.Context, limit, offset int) ([]*Case, int, error)
}

type DecisionRepository interface {
	Create(ctx context.Context, d *Decision) error
	LatestByCase(ctx context.Context, caseID uuid.UUID) (*Decision, error)
	ListByCase(ctx context.Context, caseID uuid.UUID, limit, offset int) ([]*Decision, int, error)
}
