package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type workflowRepoPG struct{ pool *pgxpool.Pool }

func NewWorkflowRepoPG(pool *pgxpool.Pool) WorkflowRepository {
	return &workflowRepoPG{pool: pool}
}

const workflowCols = `id, name, trigger_event, status, steps, run_count, last_run_at, created_at, updated_at`

func scanWorkflow(row pgx.Row) (*Workflow, error) {
	var w Workflow
	var stepsJSON []byte
	err := row.Scan(&w.ID, &w.Name, &w.TriggerEvent, &w.Status, &stepsJSON,
		&w.RunCount, &w.LastRunAt, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(stepsJSON, &w.Steps); err != nil {
		return nil, fmt.Errorf("decode workflow steps: %w", err)
	}
	return &w, nil
}

func (r *workflowRepoPG) Create(ctx context.Context, w *Workflow) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	stepsJSON, err := json.Marshal(w.Steps)
	if err != nil {
		return fmt.Errorf("encode workflow steps: %w", err)
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO workflow (id, name, trigger_event, status, steps)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at, updated_at`,
		w.ID, w.Name, w.TriggerEvent, w.Status, stepsJSON).
		Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

func (r *workflowRepoPG) Update(ctx context.Context, w *Workflow) error {
	stepsJSON, err := json.Marshal(w.Steps)
	if err != nil {
		return fmt.Errorf("encode workflow steps: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE workflow SET name=$2, trigger_event=$3, status=$4, steps=$5, updated_at=now()
		WHERE id=$1`,
		w.ID, w.Name, w.TriggerEvent, w.Status, stepsJSON)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *workflowRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	return scanWorkflow(r.pool.QueryRow(ctx, `SELECT `+workflowCols+` FROM workflow WHERE id = $1`, id))
}

func (r *workflowRepoPG) List(ctx context.Context, limit, offset int) ([]*Workflow, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM workflow`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count workflows: %w", err)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+workflowCols+` FROM workflow
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []*Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, w)
	}
	return out, total, rows.Err()
}

func (r *workflowRepoPG) ListActiveByTrigger(ctx context.Context, event string) ([]*Workflow, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+workflowCols+` FROM workflow
		WHERE status = $1 AND trigger_event = $2 ORDER BY created_at`, StatusActive, event)
	if err != nil {
		return nil, fmt.Errorf("list workflows by trigger: %w", err)
	}
	defer rows.Close()

	var out []*Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *workflowRepoPG) RecordRun(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE workflow SET run_count = run_count + 1, last_run_at = $2, updated_at = now()
		WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("record workflow run: %w", err)
	}
	return nil
}

type runRepoPG struct{ pool *pgxpool.Pool }

func NewRunRepoPG(pool *pgxpool.Pool) RunRepository {
	return &runRepoPG{pool: pool}
}

const runCols = `id, workflow_id, status, context, current_step_id, visited_steps, wake_at, error, created_at, updated_at`

func scanRun(row pgx.Row) (*Run, error) {
	var run Run
	var ctxJSON []byte
	err := row.Scan(&run.ID, &run.WorkflowID, &run.Status, &ctxJSON, &run.CurrentStepID,
		&run.VisitedSteps, &run.WakeAt, &run.Error, &run.CreatedAt, &run.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(ctxJSON, &run.Context); err != nil {
		return nil, fmt.Errorf("decode run context: %w", err)
	}
	return &run, nil
}

func (r *runRepoPG) Create(ctx context.Context, run *Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	ctxJSON, err := json.Marshal(run.Context)
	if err != nil {
		return fmt.Errorf("encode run context: %w", err)
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO workflow_run (id, workflow_id, status, context, current_step_id, visited_steps, wake_at, error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		run.ID, run.WorkflowID, run.Status, ctxJSON, run.CurrentStepID,
		run.VisitedSteps, run.WakeAt, run.Error).
		Scan(&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert workflow run: %w", err)
	}
	return nil
}

func (r *runRepoPG) Update(ctx context.Context, run *Run) error {
	ctxJSON, err := json.Marshal(run.Context)
	if err != nil {
		return fmt.Errorf("encode run context: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE workflow_run SET status=$2, context=$3, current_step_id=$4, visited_steps=$5,
			wake_at=$6, error=$7, updated_at=now()
		WHERE id=$1`,
		run.ID, run.Status, ctxJSON, run.CurrentStepID, run.VisitedSteps, run.WakeAt, run.Error)
	if err != nil {
		return fmt.Errorf("update workflow run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *runRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Run, error) {
	return scanRun(r.pool.QueryRow(ctx, `SELECT `+runCols+` FROM workflow_run WHERE id = $1`, id))
}

func (r *runRepoPG) ListByWorkflow(ctx context.Context, workflowID uuid.UUID, limit, offset int) ([]*Run, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM workflow_run WHERE workflow_id = $1`, workflowID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count workflow runs: %w", err)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+runCols+` FROM workflow_run
		WHERE workflow_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, workflowID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list workflow runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, run)
	}
	return out, total, rows.Err()
}

func (r *runRepoPG) Due(ctx context.Context, now time.Time, limit int) ([]*Run, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+runCols+` FROM workflow_run
		WHERE status = $1 AND wake_at <= $2 ORDER BY wake_at LIMIT $3`, RunWaiting, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type ruleRepoPG struct{ pool *pgxpool.Pool }

func NewAutomationRuleRepoPG(pool *pgxpool.Pool) AutomationRuleRepository {
	return &ruleRepoPG{pool: pool}
}

const ruleCols = `id, name, trigger_event, predicates, actions, priority, enabled, trigger_count, last_triggered, created_at`

func scanRule(row pgx.Row) (*AutomationRule, error) {
	var ar AutomationRule
	var predJSON, actJSON []byte
	err := row.Scan(&ar.ID, &ar.Name, &ar.TriggerEvent, &predJSON, &actJSON,
		&ar.Priority, &ar.Enabled, &ar.TriggerCount, &ar.LastTriggered, &ar.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(predJSON, &ar.Predicates); err != nil {
		return nil, fmt.Errorf("decode rule predicates: %w", err)
	}
	if err := json.Unmarshal(actJSON, &ar.Actions); err != nil {
		return nil, fmt.Errorf("decode rule actions: %w", err)
	}
	return &ar, nil
}

func (r *ruleRepoPG) Create(ctx context.Context, ar *AutomationRule) error {
	if ar.ID == uuid.Nil {
		ar.ID = uuid.New()
	}
	predJSON, err := json.Marshal(ar.Predicates)
	if err != nil {
		return fmt.Errorf("encode rule predicates: %w", err)
	}
	actJSON, err := json.Marshal(ar.Actions)
	if err != nil {
		return fmt.Errorf("encode rule actions: %w", err)
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO automation_rule (id, name, trigger_event, predicates, actions, priority, enabled)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		ar.ID, ar.Name, ar.TriggerEvent, predJSON, actJSON, ar.Priority, ar.Enabled).
		Scan(&ar.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert automation rule: %w", err)
	}
	return nil
}

func (r *ruleRepoPG) Update(ctx context.Context, ar *AutomationRule) error {
	predJSON, err := json.Marshal(ar.Predicates)
	if err != nil {
		return fmt.Errorf("encode rule predicates: %w", err)
	}
	actJSON, err := json.Marshal(ar.Actions)
	if err != nil {
		return fmt.Errorf("encode rule actions: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE automation_rule SET name=$2, trigger_event=$3, predicates=$4, actions=$5,
			priority=$6, enabled=$7
		WHERE id=$1`,
		ar.ID, ar.Name, ar.TriggerEvent, predJSON, actJSON, ar.Priority, ar.Enabled)
	if err != nil {
		return fmt.Errorf("update automation rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ruleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*AutomationRule, error) {
	return scanRule(r.pool.QueryRow(ctx, `SELECT `+ruleCols+` FROM automation_rule WHERE id = $1`, id))
}

func (r *ruleRepoPG) List(ctx context.Context, limit, offset int) ([]*AutomationRule, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM automation_rule`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count automation rules: %w", err)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+ruleCols+` FROM automation_rule
		ORDER BY priority DESC, created_at LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list automation rules: %w", err)
	}
	defer rows.Close()

	var out []*AutomationRule
	for rows.Next() {
		ar, err := scanRule(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, ar)
	}
	return out, total, rows.Err()
}

func (r *ruleRepoPG) ListEnabledByTrigger(ctx context.Context, event string) ([]*AutomationRule, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+ruleCols+` FROM automation_rule
		WHERE enabled AND trigger_event = $1 ORDER BY priority DESC, created_at`, event)
	if err != nil {
		return nil, fmt.Errorf("list automation rules by trigger: %w", err)
	}
	defer rows.Close()

	var out []*AutomationRule
	for rows.Next() {
		ar, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ar)
	}
	return out, rows.Err()
}

func (r *ruleRepoPG) RecordTrigger(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE automation_rule SET trigger_count = trigger_count + 1, last_triggered = $2
		WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("record rule trigger: %w", err)
	}
	return nil
}
