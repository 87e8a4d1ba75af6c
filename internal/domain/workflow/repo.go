package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a workflow, run or rule does not exist.
var ErrNotFound = errors.New("not found")

type WorkflowRepository interface {
	Create(ctx context.Context, w *Workflow) error
	Update(ctx context.Context, w *Workflow) error
	GetByID(ctx context.Context, id uuid.UUID) (*Workflow, error)
	List(ctx context.Context, limit, offset int) ([]*Workflow, int, error)
	// ListActiveByTrigger returns active workflows bound to the event.
	ListActiveByTrigger(ctx context.Context, event string) ([]*Workflow, error)
	// RecordRun bumps the run counter and last-run timestamp.
	RecordRun(ctx context.Context, id uuid.UUID, at time.Time) error
}

type RunRepository interface {
	Create(ctx context.Context, r *Run) error
	Update(ctx context.Context, r *Run) error
	GetByID(ctx context.Context, id uuid.UUID) (*Run, error)
	ListByWorkflow(ctx context.Context, workflowID uuid.UUID, limit, offset int) ([]*Run, int, error)
	// Due returns waiting runs whose wake time has elapsed.
	Due(ctx context.Context, now time.Time, limit int) ([]*Run, error)
}

type AutomationRuleRepository interface {
	Create(ctx context.Context, r *AutomationRule) error
	Update(ctx context.Context, r *AutomationRule) error
	GetByID(ctx context.Context, id uuid.UUID) (*AutomationRule, error)
	List(ctx context.Context, limit, offset int) ([]*AutomationRule, int, error)
	// ListEnabledByTrigger returns enabled rules for the event, highest
	// priority first.
	ListEnabledByTrigger(ctx context.Context, event string) ([]*AutomationRule, error)
	// RecordTrigger bumps the trigger counter and last-triggered timestamp.
	RecordTrigger(ctx context.Context, id uuid.UUID, at time.Time) error
}
