// Package scoring turns a referral case into factor scores and a decision.
// The five factor scorers are pure functions over (case, rules, context); all
// I/O (capacity counters, the clock) is gathered up front by the Engine so
// the same inputs always score the same.
package scoring

import (
	"strings"
	"time"

	"github.com/careroute/referral-engine/internal/domain/referral"
	"github.com/careroute/referral-engine/internal/domain/rules"
)

// complexServices carry extra clinical overhead and discount the clinical
// score when requested.
var complexServices = map[string]bool{
	"iv_therapy": true,
	"wound_care": true,
	"ventilator": true,
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// ScoreGeographic scores distance and zip fit. Deny-listed zips score 0; a
// case past the service radius keeps only 30% of its base.
func ScoreGeographic(c *referral.Case, cfg *rules.Config, notes *[]string) float64 {
	if c.Zip == "" {
		*notes = append(*notes, "geographic: missing zip")
		return 0
	}
	for _, z := range cfg.Geographic.ExcludedZips {
		if c.Zip == z {
			return 0
		}
	}
	score := 0.8
	for _, z := range cfg.Geographic.PreferredZips {
		if c.Zip == z {
			score = 1.0
			break
		}
	}
	maxDist := cfg.Geographic.MaxDistanceMiles
	if c.DistanceMiles > maxDist {
		score *= 0.3
	} else {
		penalty := 1 - (c.DistanceMiles/maxDist)*0.5
		if penalty < 0.5 {
			penalty = 0.5
		}
		score *= penalty
	}
	return clamp01(score)
}

// ScoreInsurance rates the payer. Known payers have fixed tiers; an accepted
// but unlisted payer gets a generic score, an unknown payer scores low.
func ScoreInsurance(c *referral.Case, cfg *rules.Config, notes *[]string) float64 {
	if c.InsuranceProvider == "" {
		*notes = append(*notes, "insurance: missing provider")
		return 0
	}
	for _, excl := range cfg.Insurance.ExcludedProviders {
		if containsFold(c.InsuranceProvider, excl) {
			return 0
		}
	}
	accepted := false
	for _, acc := range cfg.Insurance.AcceptedProviders {
		if containsFold(c.InsuranceProvider, acc) {
			accepted = true
			break
		}
	}
	if !accepted {
		return 0.3
	}
	switch {
	case containsFold(c.InsuranceProvider, "medicare"):
		return 1.0
	case containsFold(c.InsuranceProvider, "blue cross"):
		return 0.95
	case containsFold(c.InsuranceProvider, "aetna"), containsFold(c.InsuranceProvider, "humana"):
		return 0.9
	case containsFold(c.InsuranceProvider, "medicaid"):
		return 0.8
	}
	return 0.85
}

// ScoreClinical scores diagnosis and episode fit. Excluded diagnoses score 0.
// The over-length penalty and the short-episode bonus are exclusive; the
// length check wins.
func ScoreClinical(c *referral.Case, cfg *rules.Config, notes *[]string) float64 {
	if c.Diagnosis == "" {
		*notes = append(*notes, "clinical: missing diagnosis")
		return 0
	}
	for _, excl := range cfg.Clinical.ExcludedDiagnoses {
		if containsFold(c.Diagnosis, excl) {
			return 0
		}
	}
	score := 0.8
	if c.EpisodeDays > cfg.Clinical.MaxEpisodeDays {
		score *= 0.5
	} else if c.EpisodeDays > 0 && c.EpisodeDays <= 30 {
		score *= 1.1
	}
	for _, svc := range c.RequestedServices {
		if complexServices[strings.ToLower(svc)] {
			score *= 0.9
			break
		}
	}
	return clamp01(score)
}

// CapacitySnapshot is the point-in-time intake load read before scoring. The
// counter read happens once per case so the score stays deterministic for the
// snapshot.
type CapacitySnapshot struct {
	Now         time.Time
	Utilization float64 // daily count / daily cap
}

// ScoreCapacity scores intake capacity at the time of the snapshot. Weekend
// and holiday penalties only apply when processing for those days is
// disabled; the urgency boost is applied after the business-hours penalty.
func ScoreCapacity(c *referral.Case, cfg *rules.Config, snap CapacitySnapshot) float64 {
	score := 0.8

	if isWeekend(snap.Now) && !cfg.Capacity.WeekendProcessing {
		score *= 0.3
	}
	if isHoliday(snap.Now, cfg.Capacity.Holidays) && !cfg.Capacity.HolidayProcessing {
		score *= 0.2
	}
	hour := snap.Now.Hour()
	if (hour < 8 || hour >= 17) && c.Urgency != rules.UrgencyStat {
		score *= 0.7
	}
	switch c.Urgency {
	case rules.UrgencyStat:
		score *= 1.2
	case rules.UrgencyUrgent:
		score *= 1.1
	}
	if snap.Utilization > 0.9 {
		score *= 0.5
	} else if snap.Utilization > 0.7 {
		score *= 0.8
	}
	return clamp01(score)
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func isHoliday(t time.Time, holidays []string) bool {
	day := t.Format("2006-01-02")
	for _, h := range holidays {
		if h == day {
			return true
		}
	}
	return false
}

// ScoreQuality scores the referral source's track record. A sub-minimum
// rating scales the base down proportionally; preferred sources earn a bonus.
func ScoreQuality(c *referral.Case, cfg *rules.Config, notes *[]string) float64 {
	if c.Source == "" {
		*notes = append(*notes, "quality: missing source")
		return 0
	}
	score := 0.8
	if c.SourceRating < cfg.Quality.MinSourceRating {
		score *= c.SourceRating / 5
	}
	for _, pref := range cfg.Quality.PreferredSources {
		if containsFold(c.Source, pref) {
			score *= 1.2
			break
		}
	}
	return clamp01(score)
}

// ScoreAll runs all five scorers and returns the factor set tagged with the
// rule version.
func ScoreAll(c *referral.Case, cfg *rules.Config, snap CapacitySnapshot) referral.Factors {
	var notes []string
	f := referral.Factors{
		Geographic:  ScoreGeographic(c, cfg, &notes),
		Insurance:   ScoreInsurance(c, cfg, &notes),
		Clinical:    ScoreClinical(c, cfg, &notes),
		Capacity:    ScoreCapacity(c, cfg, snap),
		Quality:     ScoreQuality(c, cfg, &notes),
		RuleVersion: cfg.Version,
		Notes:       notes,
	}
	return f
}

// Confidence is the weighted aggregate of the factor scores.
func Confidence(f referral.Factors, w rules.Weights) float64 {
	return f.Geographic*w.Geographic +
		f.Insurance*w.Insurance +
		f.Clinical*w.Clinical +
		f.Capacity*w.Capacity +
		f.Quality*w.Quality
}
