package referral

import (
	"time"

	"github.com/google/uuid"

	"github.com/careroute/referral-engine/internal/domain/rules"
)

// Case is one inbound request to accept a patient for service. A case is
// immutable once scored; rescoring produces a new Decision, never a mutated
// case.
type Case struct {
	ID                uuid.UUID     `db:"id" json:"id"`
	PatientRef        string        `db:"patient_ref" json:"patient_ref"`
	Diagnosis         string        `db:"diagnosis" json:"diagnosis"`
	InsuranceProvider string        `db:"insurance_provider" json:"insurance_provider"`
	RequestedServices []string      `db:"requested_services" json:"requested_services"`
	Urgency           rules.Urgency `db:"urgency" json:"urgency"`
	EpisodeDays       int           `db:"episode_days" json:"episode_days"`
	Zip               string        `db:"zip" json:"zip"`
	DistanceMiles     float64       `db:"distance_miles" json:"distance_miles"`
	Source            string        `db:"source" json:"source"`
	SourceRating      float64       `db:"source_rating" json:"source_rating"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
}

// Action is the outcome of decisioning a case.
type Action string

const (
	ActionAccept Action = "accept"
	ActionReview Action = "review"
	ActionReject Action = "reject"
)

// Factors are the five normalized scores, tagged with the rule version that
// produced them. Notes records degraded scorers (missing input fields).
type Factors struct {
	Geographic  float64  `json:"geographic"`
	Insurance   float64  `json:"insurance"`
	Clinical    float64  `json:"clinical"`
	Capacity    float64  `json:"capacity"`
	Quality     float64  `json:"quality"`
	RuleVersion string   `json:"rule_version"`
	Notes       []string `json:"notes,omitempty"`
}

// Decision is the acceptance decision for a case. Produced once per scoring
// pass; superseded, never mutated.
type Decision struct {
	ID           uuid.UUID `db:"id" json:"id"`
	CaseID       uuid.UUID `db:"case_id" json:"case_id"`
	Action       Action    `db:"action" json:"action"`
	Reason       string    `db:"reason" json:"reason"`
	Confidence   float64   `db:"confidence" json:"confidence"`
	Factors      Factors   `db:"factors" json:"factors"`
	NextSteps    []string  `db:"next_steps" json:"next_steps"`
	ResponseTime string    `db:"response_time" json:"response_time"`
	AssignedTeam *string   `db:"assigned_team" json:"assigned_team,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
