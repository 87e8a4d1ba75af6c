// Package rules holds the versioned acceptance rule configuration: the
// per-factor rule sections, the scoring weights, and the urgency policy
// table. A config is validated once at load and is immutable afterwards;
// invalid configs never reach the scorers.
package rules

import (
	"fmt"
	"math"
)

// Urgency classifies how quickly a referral must be handled.
type Urgency string

const (
	UrgencyRoutine Urgency = "routine"
	UrgencyUrgent  Urgency = "urgent"
	UrgencyStat    Urgency = "stat"
)

// ValidUrgency reports whether u is a known urgency tier.
func ValidUrgency(u Urgency) bool {
	switch u {
	case UrgencyRoutine, UrgencyUrgent, UrgencyStat:
		return true
	}
	return false
}

// GeographicRules bound how far a servicing site may be and which zip codes
// are preferred or refused outright.
type GeographicRules struct {
	MaxDistanceMiles float64  `json:"max_distance_miles"`
	PreferredZips    []string `json:"preferred_zips"`
	ExcludedZips     []string `json:"excluded_zips"`
}

// InsuranceRules match payer names against accepted and excluded substrings.
type InsuranceRules struct {
	AcceptedProviders []string `json:"accepted_providers"`
	ExcludedProviders []string `json:"excluded_providers"`
}

// ClinicalRules exclude diagnoses the agency cannot serve and cap episode
// length.
type ClinicalRules struct {
	ExcludedDiagnoses []string `json:"excluded_diagnoses"`
	MaxEpisodeDays    int      `json:"max_episode_days"`
}

// CapacityRules cap intake volume and control off-hours processing.
type CapacityRules struct {
	DailyCap          int      `json:"daily_cap"`
	WeeklyCap         int      `json:"weekly_cap"`
	WeekendProcessing bool     `json:"weekend_processing"`
	HolidayProcessing bool     `json:"holiday_processing"`
	Holidays          []string `json:"holidays"` // "2006-01-02" dates
}

// QualityRules gate on the referral source's historical rating.
type QualityRules struct {
	MinSourceRating  float64  `json:"min_source_rating"`
	PreferredSources []string `json:"preferred_sources"`
}

// Weights are the five factor weights. They must sum to 1.
type Weights struct {
	Geographic float64 `json:"geographic"`
	Insurance  float64 `json:"insurance"`
	Clinical   float64 `json:"clinical"`
	Capacity   float64 `json:"capacity"`
	Quality    float64 `json:"quality"`
}

// Sum returns the total of all five weights.
func (w Weights) Sum() float64 {
	return w.Geographic + w.Insurance + w.Clinical + w.Capacity + w.Quality
}

// UrgencyPolicy controls thresholding per urgency tier.
type UrgencyPolicy struct {
	AutoAccept      bool    `json:"auto_accept"`
	ReviewThreshold float64 `json:"review_threshold"`
}

// Config is one versioned rule configuration.
type Config struct {
	Version         string                    `json:"version"`
	Geographic      GeographicRules           `json:"geographic"`
	Insurance       InsuranceRules            `json:"insurance"`
	Clinical        ClinicalRules             `json:"clinical"`
	Capacity        CapacityRules             `json:"capacity"`
	Quality         QualityRules              `json:"quality"`
	Weights         Weights                   `json:"weights"`
	UrgencyPolicies map[Urgency]UrgencyPolicy `json:"urgency_policies"`
}

// weightEpsilon is the tolerance for the weight-sum check.
const weightEpsilon = 1e-6

// ConfigError describes why a rule configuration was rejected at load time.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid rule config: %s: %s", e.Field, e.Reason)
}

// Validate checks the configuration. Failures here are load-time failures;
// a config that passes never produces per-case configuration errors.
func (c *Config) Validate() error {
	if c.Version == "" {
		return &ConfigError{Field: "version", Reason: "is required"}
	}
	if sum := c.Weights.Sum(); math.Abs(sum-1.0) > weightEpsilon {
		return &ConfigError{Field: "weights", Reason: fmt.Sprintf("must sum to 1.0, got %g", sum)}
	}
	for _, w := range []struct {
		name string
		v    float64
	}{
		{"weights.geographic", c.Weights.Geographic},
		{"weights.insurance", c.Weights.Insurance},
		{"weights.clinical", c.Weights.Clinical},
		{"weights.capacity", c.Weights.Capacity},
		{"weights.quality", c.Weights.Quality},
	} {
		if w.v < 0 || w.v > 1 {
			return &ConfigError{Field: w.name, Reason: fmt.Sprintf("must be in [0,1], got %g", w.v)}
		}
	}
	if c.Geographic.MaxDistanceMiles <= 0 {
		return &ConfigError{Field: "geographic.max_distance_miles", Reason: "must be positive"}
	}
	if c.Clinical.MaxEpisodeDays <= 0 {
		return &ConfigError{Field: "clinical.max_episode_days", Reason: "must be positive"}
	}
	if c.Capacity.DailyCap <= 0 {
		return &ConfigError{Field: "capacity.daily_cap", Reason: "must be positive"}
	}
	if c.Quality.MinSourceRating < 0 || c.Quality.MinSourceRating > 5 {
		return &ConfigError{Field: "quality.min_source_rating", Reason: "must be in [0,5]"}
	}
	for _, u := range []Urgency{UrgencyRoutine, UrgencyUrgent, UrgencyStat} {
		p, ok := c.UrgencyPolicies[u]
		if !ok {
			return &ConfigError{Field: "urgency_policies", Reason: fmt.Sprintf("missing policy for %q", u)}
		}
		if p.ReviewThreshold < 0 || p.ReviewThreshold > 1 {
			return &ConfigError{
				Field:  fmt.Sprintf("urgency_policies.%s.review_threshold", u),
				Reason: fmt.Sprintf("must be in [0,1], got %g", p.ReviewThreshold),
			}
		}
	}
	return nil
}
