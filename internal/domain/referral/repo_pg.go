package referral

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type caseRepoPG struct{ pool *pgxpool.Pool }

func NewCaseRepoPG(pool *pgxpool.Pool) CaseRepository {
	return &caseRepoPG{pool: pool}
}

const caseCols = `id, patient_ref, diagnosis, insurance_provider, requested_services,
	urgency, episode_days, zip, distance_miles, source, source_rating, created_at`

func scanCase(row pgx.Row) (*Case, error) {
	var c Case
	err := row.Scan(&c.ID, &c.PatientRef, &c.Diagnosis, &c.InsuranceProvider, &c.RequestedServices,
		&c.Urgency, &c.EpisodeDays, &c.Zip, &c.DistanceMiles, &c.Source, &c.SourceRating, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &c, err
}

func (r *caseRepoPG) Create(ctx context.Context, c *Case) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO referral_case (id, patient_ref, diagnosis, insurance_provider, requested_services,
			urgency, episode_days, zip, distance_miles, source, source_rating)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at`,
		c.ID, c.PatientRef, c.Diagnosis, c.InsuranceProvider, c.RequestedServices,
		c.Urgency, c.EpisodeDays, c.Zip, c.DistanceMiles, c.Source, c.SourceRating).
		Scan(&c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert referral case: %w", err)
	}
	return nil
}

func (r *caseRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Case, error) {
	return scanCase(r.pool.QueryRow(ctx, `SELECT `+caseCols+` FROM referral_case WHERE id = $1`, id))
}

func (r *caseRepoPG) List(ctx context.Context, limit, offset int) ([]*Case, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM referral_case`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count referral cases: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT `+caseCols+` FROM referral_case
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list referral cases: %w", err)
	}
	defer rows.Close()

	var cases []*Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, 0, err
		}
		cases = append(cases, c)
	}
	return cases, total, rows.Err()
}

type decisionRepoPG struct{ pool *pgxpool.Pool }

func NewDecisionRepoPG(pool *pgxpool.Pool) DecisionRepository {
	return &decisionRepoPG{pool: pool}
}

const decisionCols = `id, case_id, action, reason, confidence, factors, next_steps,
	response_time, assigned_team, created_at`

func scanDecision(row pgx.Row) (*Decision, error) {
	var d Decision
	var factorsJSON []byte
	err := row.Scan(&d.ID, &d.CaseID, &d.Action, &d.Reason, &d.Confidence, &factorsJSON,
		&d.NextSteps, &d.ResponseTime, &d.AssignedTeam, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(factorsJSON, &d.Factors); err != nil {
		return nil, fmt.Errorf("decode decision factors: %w", err)
	}
	return &d, nil
}

func (r *decisionRepoPG) Create(ctx context.Context, d *Decision) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	factorsJSON, err := json.Marshal(d.Factors)
	if err != nil {
		return fmt.Errorf("encode decision factors: %w", err)
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO decision (id, case_id, action, reason, confidence, factors, next_steps,
			response_time, assigned_team)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at`,
		d.ID, d.CaseID, d.Action, d.Reason, d.Confidence, factorsJSON, d.NextSteps,
		d.ResponseTime, d.AssignedTeam).
		Scan(&d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

func (r *decisionRepoPG) LatestByCase(ctx context.Context, caseID uuid.UUID) (*Decision, error) {
	return scanDecision(r.pool.QueryRow(ctx, `SELECT `+decisionCols+` FROM decision
		WHERE case_id = $1 ORDER BY created_at DESC LIMIT 1`, caseID))
}

func (r *decisionRepoPG) ListByCase(ctx context.Context, caseID uuid.UUID, limit, offset int) ([]*Decision, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM decision WHERE case_id = $1`, caseID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count decisions: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT `+decisionCols+` FROM decision
		WHERE case_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, caseID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, 0, err
		}
		decisions = append(decisions, d)
	}
	return decisions, total, rows.Err()
}
