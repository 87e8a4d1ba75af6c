package scoring

import (
	"testing"
	"time"

	"github.com/careroute/referral-engine/internal/domain/referral"
	"github.com/careroute/referral-engine/internal/domain/rules"
)

func testConfig() *rules.Config {
	return &rules.Config{
		Version: "test-1",
		Geographic: rules.GeographicRules{
			MaxDistanceMiles: 25,
			PreferredZips:    []string{"30301", "30302"},
			ExcludedZips:     []string{"99999"},
		},
		Insurance: rules.InsuranceRules{
			AcceptedProviders: []string{"Medicare", "Medicaid", "Blue Cross", "Aetna", "Humana", "United"},
			ExcludedProviders: []string{"Denied Mutual"},
		},
		Clinical: rules.ClinicalRules{
			ExcludedDiagnoses: []string{"hospice appropriate"},
			MaxEpisodeDays:    60,
		},
		Capacity: rules.CapacityRules{
			DailyCap:          20,
			WeeklyCap:         100,
			WeekendProcessing: false,
			HolidayProcessing: false,
			Holidays:          []string{"2026-12-25"},
		},
		Quality: rules.QualityRules{
			MinSourceRating:  3.0,
			PreferredSources: []string{"Memorial"},
		},
		Weights: rules.Weights{
			Geographic: 0.2,
			Insurance:  0.25,
			Clinical:   0.25,
			Capacity:   0.15,
			Quality:    0.15,
		},
		UrgencyPolicies: map[rules.Urgency]rules.UrgencyPolicy{
			rules.UrgencyRoutine: {AutoAccept: false, ReviewThreshold: 0.65},
			rules.UrgencyUrgent:  {AutoAccept: true, ReviewThreshold: 0.6},
			rules.UrgencyStat:    {AutoAccept: false, ReviewThreshold: 0.5},
		},
	}
}

func testCase() *referral.Case {
	return &referral.Case{
		PatientRef:        "patient-001",
		Diagnosis:         "CHF exacerbation",
		InsuranceProvider: "Medicare Advantage",
		RequestedServices: []string{"skilled_nursing"},
		Urgency:           rules.UrgencyRoutine,
		EpisodeDays:       30,
		Zip:               "30301",
		DistanceMiles:     10,
		Source:            "Memorial Hospital",
		SourceRating:      4.5,
	}
}

// weekdayNoon is a Tuesday inside business hours.
var weekdayNoon = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func almostEqual(a, b float64) bool {
	const eps = 1e-9
	return a-b < eps && b-a < eps
}

func TestScoreGeographic(t *testing.T) {
	cfg := testConfig()
	tests := []struct {
		name     string
		zip      string
		distance float64
		want     float64
	}{
		{"preferred zip, near", "30301", 10, 0.8},     // 1.0 × (1 - 10/25×0.5)
		{"preferred zip, at max", "30301", 25, 0.5},   // floor of the distance penalty
		{"other zip, near", "30399", 10, 0.64},        // 0.8 × 0.8
		{"preferred zip, too far", "30301", 50, 0.3},  // 1.0 × 0.3
		{"other zip, too far", "30399", 50, 0.24},     // 0.8 × 0.3
		{"excluded zip", "99999", 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testCase()
			c.Zip = tt.zip
			c.DistanceMiles = tt.distance
			var notes []string
			got := ScoreGeographic(c, cfg, &notes)
			if !almostEqual(got, tt.want) {
				t.Errorf("score = %g, want %g", got, tt.want)
			}
		})
	}
}

func TestScoreGeographicMissingZip(t *testing.T) {
	c := testCase()
	c.Zip = ""
	var notes []string
	if got := ScoreGeographic(c, testConfig(), &notes); got != 0 {
		t.Errorf("score = %g, want 0", got)
	}
	if len(notes) != 1 {
		t.Errorf("notes = %v, want one degradation note", notes)
	}
}

func TestScoreInsurance(t *testing.T) {
	cfg := testConfig()
	tests := []struct {
		provider string
		want     float64
	}{
		{"Medicare Advantage", 1.0},
		{"Blue Cross PPO", 0.95},
		{"Aetna Select", 0.9},
		{"Humana Gold", 0.9},
		{"State Medicaid", 0.8},
		{"United Healthcare", 0.85},
		{"Unknown Payer", 0.3},
		{"Denied Mutual Plus", 0},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			c := testCase()
			c.InsuranceProvider = tt.provider
			var notes []string
			if got := ScoreInsurance(c, cfg, &notes); !almostEqual(got, tt.want) {
				t.Errorf("score = %g, want %g", got, tt.want)
			}
		})
	}
}

func TestScoreClinical(t *testing.T) {
	cfg := testConfig()
	tests := []struct {
		name      string
		diagnosis string
		days      int
		services  []string
		want      float64
	}{
		{"excluded diagnosis", "patient is hospice appropriate", 30, nil, 0},
		{"short episode bonus", "CHF", 30, nil, 0.88},              // 0.8 × 1.1
		{"mid-length, no bonus", "CHF", 45, nil, 0.8},
		{"over max, penalty wins", "CHF", 90, nil, 0.4},            // 0.8 × 0.5
		{"complex service", "CHF", 45, []string{"wound_care"}, 0.72}, // 0.8 × 0.9
		{"bonus and complex", "CHF", 20, []string{"iv_therapy"}, 0.792},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testCase()
			c.Diagnosis = tt.diagnosis
			c.EpisodeDays = tt.days
			c.RequestedServices = tt.services
			var notes []string
			if got := ScoreClinical(c, cfg, &notes); !almostEqual(got, tt.want) {
				t.Errorf("score = %g, want %g", got, tt.want)
			}
		})
	}
}

func TestScoreCapacity(t *testing.T) {
	cfg := testConfig()
	saturday := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	christmas := time.Date(2026, 12, 25, 12, 0, 0, 0, time.UTC)
	evening := time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		now     time.Time
		urgency rules.Urgency
		util    float64
		want    float64
	}{
		{"weekday business hours", weekdayNoon, rules.UrgencyRoutine, 0, 0.8},
		{"weekend disabled", saturday, rules.UrgencyRoutine, 0, 0.24},
		{"holiday disabled", christmas, rules.UrgencyRoutine, 0, 0.16},
		{"after hours routine", evening, rules.UrgencyRoutine, 0, 0.56},
		{"after hours stat skips penalty", evening, rules.UrgencyStat, 0, 0.96},
		{"urgent boost", weekdayNoon, rules.UrgencyUrgent, 0, 0.88},
		{"high utilization", weekdayNoon, rules.UrgencyRoutine, 0.95, 0.4},
		{"moderate utilization", weekdayNoon, rules.UrgencyRoutine, 0.75, 0.64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testCase()
			c.Urgency = tt.urgency
			snap := CapacitySnapshot{Now: tt.now, Utilization: tt.util}
			if got := ScoreCapacity(c, cfg, snap); !almostEqual(got, tt.want) {
				t.Errorf("score = %g, want %g", got, tt.want)
			}
		})
	}
}

func TestScoreQuality(t *testing.T) {
	cfg := testConfig()
	tests := []struct {
		name   string
		source string
		rating float64
		want   float64
	}{
		{"above minimum", "Community Clinic", 4.0, 0.8},
		{"below minimum scales", "Community Clinic", 2.0, 0.32}, // 0.8 × 2/5
		{"preferred source bonus", "Memorial Hospital", 4.5, 0.96},
		{"preferred but low rated", "Memorial Hospital", 2.0, 0.384},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testCase()
			c.Source = tt.source
			c.SourceRating = tt.rating
			var notes []string
			if got := ScoreQuality(c, cfg, &notes); !almostEqual(got, tt.want) {
				t.Errorf("score = %g, want %g", got, tt.want)
			}
		})
	}
}

func TestAllScoresInRange(t *testing.T) {
	cfg := testConfig()
	cases := []*referral.Case{
		testCase(),
		{},                                // everything missing
		{Zip: "99999", Diagnosis: "hospice appropriate"},
		{PatientRef: "x", Diagnosis: "CHF", InsuranceProvider: "Medicare",
			Urgency: rules.UrgencyStat, EpisodeDays: 500, Zip: "00000",
			DistanceMiles: 1000, Source: "Memorial", SourceRating: 5},
	}
	for _, c := range cases {
		f := ScoreAll(c, cfg, CapacitySnapshot{Now: weekdayNoon, Utilization: 0.99})
		for name, v := range map[string]float64{
			"geographic": f.Geographic,
			"insurance":  f.Insurance,
			"clinical":   f.Clinical,
			"capacity":   f.Capacity,
			"quality":    f.Quality,
		} {
			if v < 0 || v > 1 {
				t.Errorf("%s score %g out of [0,1] for case %+v", name, v, c)
			}
		}
		if f.RuleVersion != cfg.Version {
			t.Errorf("rule version = %q, want %q", f.RuleVersion, cfg.Version)
		}
	}
}
