package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Service struct {
	workflows WorkflowRepository
	runs      RunRepository
	rules     AutomationRuleRepository
	engine    *Engine
	log       zerolog.Logger
}

func NewService(workflows WorkflowRepository, runs RunRepository, rules AutomationRuleRepository, engine *Engine, log zerolog.Logger) *Service {
	return &Service{workflows: workflows, runs: runs, rules: rules, engine: engine, log: log}
}

func (s *Service) CreateWorkflow(ctx context.Context, w *Workflow) error {
	if w.Status == "" {
		w.Status = StatusDraft
	}
	if err := Validate(w); err != nil {
		return err
	}
	return s.workflows.Create(ctx, w)
}

func (s *Service) UpdateWorkflow(ctx context.Context, w *Workflow) error {
	if err := Validate(w); err != nil {
		return err
	}
	return s.workflows.Update(ctx, w)
}

func (s *Service) GetWorkflow(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	return s.workflows.GetByID(ctx, id)
}

func (s *Service) ListWorkflows(ctx context.Context, limit, offset int) ([]*Workflow, int, error) {
	return s.workflows.List(ctx, limit, offset)
}

// SetStatus transitions a workflow between draft, active and inactive.
// Activation re-validates the graph so a stale draft cannot go live broken.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, status Status) (*Workflow, error) {
	switch status {
	case StatusDraft, StatusActive, StatusInactive:
	default:
		return nil, fmt.Errorf("invalid workflow status: %s", status)
	}
	w, err := s.workflows.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if status == StatusActive {
		if err := Validate(w); err != nil {
			return nil, err
		}
	}
	w.Status = status
	if err := s.workflows.Update(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Trigger starts a run manually with the given context payload, bypassing
// the event bus. The workflow must be active.
func (s *Service) Trigger(ctx context.Context, id uuid.UUID, payload map[string]interface{}) (*Run, error) {
	w, err := s.workflows.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.engine.Start(ctx, w, payload)
}

func (s *Service) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	return s.runs.GetByID(ctx, id)
}

func (s *Service) ListRuns(ctx context.Context, workflowID uuid.UUID, limit, offset int) ([]*Run, int, error) {
	return s.runs.ListByWorkflow(ctx, workflowID, limit, offset)
}

func (s *Service) CreateRule(ctx context.Context, r *AutomationRule) error {
	if err := validateRule(r); err != nil {
		return err
	}
	return s.rules.Create(ctx, r)
}

func (s *Service) UpdateRule(ctx context.Context, r *AutomationRule) error {
	if err := validateRule(r); err != nil {
		return err
	}
	return s.rules.Update(ctx, r)
}

func (s *Service) GetRule(ctx context.Context, id uuid.UUID) (*AutomationRule, error) {
	return s.rules.GetByID(ctx, id)
}

func (s *Service) ListRules(ctx context.Context, limit, offset int) ([]*AutomationRule, int, error) {
	return s.rules.List(ctx, limit, offset)
}

func validateRule(r *AutomationRule) error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if r.TriggerEvent == "" {
		return fmt.Errorf("rule trigger_event is required")
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("rule needs at least one action")
	}
	for i, a := range r.Actions {
		if a.Collaborator == "" {
			return fmt.Errorf("rule action %d: collaborator is required", i)
		}
	}
	for i, p := range r.Predicates {
		if p.Field == "" {
			return fmt.Errorf("rule predicate %d: field is required", i)
		}
		if !validOp(p.Op) {
			return fmt.Errorf("rule predicate %d: unknown operator %q", i, p.Op)
		}
	}
	return nil
}
