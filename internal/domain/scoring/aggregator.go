package scoring

import (
	"fmt"
	"sort"

	"github.com/careroute/referral-engine/internal/domain/referral"
	"github.com/careroute/referral-engine/internal/domain/rules"
)

const (
	reasonHighConfidence = "high confidence match"
	reasonAcceptable     = "acceptable match"
	reasonModerate       = "moderate confidence"
	reasonReject         = "does not meet acceptance criteria"
	reasonStatOverride   = "stat referral requires clinical review"
)

// weakFactorThreshold marks a factor low enough to need a remediation step.
const weakFactorThreshold = 0.5

// Aggregate folds the factor scores into the final decision. Pure: the same
// factors, urgency and policy table always produce the same decision.
func Aggregate(c *referral.Case, f referral.Factors, cfg *rules.Config) *referral.Decision {
	conf := Confidence(f, cfg.Weights)
	policy := cfg.UrgencyPolicies[c.Urgency]

	var action referral.Action
	var reason string
	switch {
	case conf >= 0.8:
		action, reason = referral.ActionAccept, reasonHighConfidence
	case conf >= policy.ReviewThreshold:
		if policy.AutoAccept && c.Urgency != rules.UrgencyStat {
			action, reason = referral.ActionAccept, reasonAcceptable
		} else {
			action, reason = referral.ActionReview, reasonModerate
		}
	default:
		action, reason = referral.ActionReject, reasonReject
	}

	// Stat referrals are never auto-accepted; anything plausible goes to a
	// clinician instead.
	if c.Urgency == rules.UrgencyStat && conf >= 0.5 {
		action, reason = referral.ActionReview, reasonStatOverride
	}

	return &referral.Decision{
		CaseID:       c.ID,
		Action:       action,
		Reason:       reason,
		Confidence:   conf,
		Factors:      f,
		NextSteps:    nextSteps(action, c.Urgency, f),
		ResponseTime: responseTime(c.Urgency, action),
		AssignedTeam: assignedTeam(action, c.Urgency),
	}
}

// factorScore pairs a factor name with its score for weak-factor ordering.
type factorScore struct {
	name  string
	score float64
}

func sortedFactors(f referral.Factors) []factorScore {
	fs := []factorScore{
		{"geographic", f.Geographic},
		{"insurance", f.Insurance},
		{"clinical", f.Clinical},
		{"capacity", f.Capacity},
		{"quality", f.Quality},
	}
	sort.SliceStable(fs, func(i, j int) bool { return fs[i].score < fs[j].score })
	return fs
}

var remediationSteps = map[string]string{
	"geographic": "Confirm service area coverage and travel logistics",
	"insurance":  "Verify insurance eligibility and authorization",
	"clinical":   "Obtain clinical review of diagnosis and care plan",
	"capacity":   "Check team capacity before committing to start of care",
	"quality":    "Request additional documentation from referral source",
}

// nextSteps derives the recommended follow-ups from the action and the
// weakest factors. Deterministic for a given (action, urgency, factors).
func nextSteps(action referral.Action, urgency rules.Urgency, f referral.Factors) []string {
	var steps []string
	switch action {
	case referral.ActionAccept:
		if urgency == rules.UrgencyStat {
			steps = append(steps, "Expedite intake: notify on-call clinician immediately")
		}
		steps = append(steps, "Schedule start-of-care visit")
	case referral.ActionReview:
		for _, fs := range sortedFactors(f) {
			if fs.score < weakFactorThreshold {
				steps = append(steps, remediationSteps[fs.name])
			}
		}
		steps = append(steps, "Route to intake coordinator for manual review")
	case referral.ActionReject:
		steps = append(steps, "Send rejection notice to referral source")
		if f.Geographic < weakFactorThreshold {
			steps = append(steps, "Suggest alternative agency within the patient's service area")
		}
		if f.Insurance < weakFactorThreshold {
			steps = append(steps, "Suggest alternative agency contracted with the patient's payer")
		}
	}
	return steps
}

// responseTime is the committed turnaround label, keyed by urgency and
// whether the case was accepted.
func responseTime(urgency rules.Urgency, action referral.Action) string {
	type key struct {
		u        rules.Urgency
		accepted bool
	}
	table := map[key]string{
		{rules.UrgencyStat, true}:     "2 hours",
		{rules.UrgencyStat, false}:    "1 hour",
		{rules.UrgencyUrgent, true}:   "4 hours",
		{rules.UrgencyUrgent, false}:  "2 hours",
		{rules.UrgencyRoutine, true}:  "24 hours",
		{rules.UrgencyRoutine, false}: "8 hours",
	}
	if rt, ok := table[key{urgency, action == referral.ActionAccept}]; ok {
		return rt
	}
	return fmt.Sprintf("per %s policy", urgency)
}

func assignedTeam(action referral.Action, urgency rules.Urgency) *string {
	var team string
	switch {
	case action == referral.ActionReview && urgency == rules.UrgencyStat:
		team = "clinical_director"
	case action == referral.ActionReview:
		team = "qa_review"
	case action == referral.ActionAccept:
		team = "intake"
	default:
		return nil
	}
	return &team
}
