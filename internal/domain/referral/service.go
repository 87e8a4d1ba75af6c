package referral

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careroute/referral-engine/internal/platform/events"
	"github.com/careroute/referral-engine/internal/domain/rules"
)

// DecisionEngine scores a case against the active rule set and produces a
// decision. The engine never persists anything; the service owns storage and
// event publication.
type DecisionEngine interface {
	Decide(ctx context.Context, c *Case) (*Decision, error)
}

type Service struct {
	cases     CaseRepository
	decisions DecisionRepository
	engine    DecisionEngine
	bus       *events.Bus
	log       zerolog.Logger
}

func NewService(cases CaseRepository, decisions DecisionRepository, engine DecisionEngine, bus *events.Bus, log zerolog.Logger) *Service {
	return &Service{cases: cases, decisions: decisions, engine: engine, bus: bus, log: log}
}

func validateCase(c *Case) error {
	if c.PatientRef == "" {
		return fmt.Errorf("patient_ref is required")
	}
	if c.Diagnosis == "" {
		return fmt.Errorf("diagnosis is required")
	}
	if c.Urgency == "" {
		c.Urgency = rules.UrgencyRoutine
	}
	if !rules.ValidUrgency(c.Urgency) {
		return fmt.Errorf("invalid urgency: %s", c.Urgency)
	}
	if c.EpisodeDays < 0 {
		return fmt.Errorf("episode_days must not be negative")
	}
	if c.DistanceMiles < 0 {
		return fmt.Errorf("distance_miles must not be negative")
	}
	if c.SourceRating < 0 || c.SourceRating > 5 {
		return fmt.Errorf("source_rating must be between 0 and 5")
	}
	return nil
}

// Intake stores an inbound case, scores it and stores the resulting decision.
// The case survives even when scoring fails, so a later rescore can pick it
// back up.
func (s *Service) Intake(ctx context.Context, c *Case) (*Decision, error) {
	if err := validateCase(c); err != nil {
		return nil, err
	}
	if err := s.cases.Create(ctx, c); err != nil {
		return nil, err
	}
	s.bus.Publish(ctx, events.NewEvent(events.TypeReferralReceived, map[string]interface{}{
		"case_id": c.ID.String(),
		"urgency": string(c.Urgency),
		"source":  c.Source,
	}))

	d, err := s.decide(ctx, c)
	if err != nil {
		s.log.Error().Err(err).Str("case_id", c.ID.String()).Msg("intake scoring failed")
		return nil, fmt.Errorf("score case %s: %w", c.ID, err)
	}
	return d, nil
}

// Rescore runs the active rule set over an already stored case and records a
// new decision. Earlier decisions stay in place for audit.
func (s *Service) Rescore(ctx context.Context, caseID uuid.UUID) (*Decision, error) {
	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return s.decide(ctx, c)
}

func (s *Service) decide(ctx context.Context, c *Case) (*Decision, error) {
	d, err := s.engine.Decide(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := s.decisions.Create(ctx, d); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("case_id", c.ID.String()).
		Str("action", string(d.Action)).
		Float64("confidence", d.Confidence).
		Msg("decision recorded")

	payload := map[string]interface{}{
		"case_id":     c.ID.String(),
		"decision_id": d.ID.String(),
		"action":      string(d.Action),
		"confidence":  d.Confidence,
		"urgency":     string(c.Urgency),
	}
	s.bus.Publish(ctx, events.NewEvent(events.TypeDecisionMade, payload))
	switch d.Action {
	case ActionAccept:
		s.bus.Publish(ctx, events.NewEvent(events.TypeReferralAccepted, payload))
	case ActionReview:
		s.bus.Publish(ctx, events.NewEvent(events.TypeQAFlagRaised, payload))
	}
	return d, nil
}

func (s *Service) GetCase(ctx context.Context, id uuid.UUID) (*Case, error) {
	return s.cases.GetByID(ctx, id)
}

func (s *Service) ListCases(ctx context.Context, limit, offset int) ([]*Case, int, error) {
	return s.cases.List(ctx, limit, offset)
}

func (s *Service) LatestDecision(ctx context.Context, caseID uuid.UUID) (*Decision, error) {
	if _, err := s.cases.GetByID(ctx, caseID); err != nil {
		return nil, err
	}
	return s.decisions.LatestByCase(ctx, caseID)
}

func (s *Service) ListDecisions(ctx context.Context, caseID uuid.UUID, limit, offset int) ([]*Decision, int, error) {
	return s.decisions.ListByCase(ctx, caseID, limit, offset)
}
