package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careroute/referral-engine/internal/domain/referral"
	"github.com/careroute/referral-engine/internal/domain/rules"
	"github.com/careroute/referral-engine/internal/platform/counter"
)

func newTestEngine(t *testing.T) (*Engine, counter.Store) {
	t.Helper()
	store, err := rules.NewStaticStore(testConfig())
	if err != nil {
		t.Fatalf("NewStaticStore: %v", err)
	}
	counts := counter.NewMemoryStore()
	eng := NewEngine(store, counts, zerolog.Nop()).
		WithClock(func() time.Time { return weekdayNoon })
	return eng, counts
}

func TestEngineDecideAccept(t *testing.T) {
	eng, counts := newTestEngine(t)
	ctx := context.Background()

	c := testCase()
	c.ID = uuid.New()
	d, err := eng.Decide(ctx, c)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Action != referral.ActionAccept {
		t.Fatalf("action = %s (confidence %g), want accept", d.Action, d.Confidence)
	}
	if d.CaseID != c.ID {
		t.Errorf("decision case id = %s, want %s", d.CaseID, c.ID)
	}
	if d.Factors.RuleVersion != "test-1" {
		t.Errorf("rule version = %q, want test-1", d.Factors.RuleVersion)
	}

	day, err := counts.Get(ctx, counter.DayKey(weekdayNoon))
	if err != nil || day != 1 {
		t.Errorf("daily counter = %d (%v), want 1", day, err)
	}
	week, err := counts.Get(ctx, counter.WeekKey(weekdayNoon))
	if err != nil || week != 1 {
		t.Errorf("weekly counter = %d (%v), want 1", week, err)
	}
}

func TestEngineOnlyCountsAccepted(t *testing.T) {
	eng, counts := newTestEngine(t)
	ctx := context.Background()

	c := testCase()
	c.ID = uuid.New()
	c.Diagnosis = "hospice appropriate"
	c.SourceRating = 2.0
	c.Source = "Community Clinic"
	d, err := eng.Decide(ctx, c)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Action == referral.ActionAccept {
		t.Fatalf("action = accept, want reject or review")
	}
	if day, _ := counts.Get(ctx, counter.DayKey(weekdayNoon)); day != 0 {
		t.Errorf("daily counter = %d, want 0", day)
	}
}

func TestEngineUtilizationPenalty(t *testing.T) {
	eng, counts := newTestEngine(t)
	ctx := context.Background()

	// Fill the day to 95% of the daily cap (20).
	for i := 0; i < 19; i++ {
		if _, err := counts.Incr(ctx, counter.DayKey(weekdayNoon)); err != nil {
			t.Fatalf("Incr: %v", err)
		}
	}

	c := testCase()
	c.ID = uuid.New()
	d, err := eng.Decide(ctx, c)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	// Base capacity 0.8 halves at >90% utilization.
	if !almostEqual(d.Factors.Capacity, 0.4) {
		t.Errorf("capacity factor = %g, want 0.4", d.Factors.Capacity)
	}
}

func TestEngineWeeklyCapDrivesUtilization(t *testing.T) {
	eng, counts := newTestEngine(t)
	ctx := context.Background()

	// An empty day but a week at 95% of the weekly cap (100): the weekly
	// ratio is the binding one.
	for i := 0; i < 95; i++ {
		if _, err := counts.Incr(ctx, counter.WeekKey(weekdayNoon)); err != nil {
			t.Fatalf("Incr: %v", err)
		}
	}

	c := testCase()
	c.ID = uuid.New()
	d, err := eng.Decide(ctx, c)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !almostEqual(d.Factors.Capacity, 0.4) {
		t.Errorf("capacity factor = %g, want 0.4 under weekly pressure", d.Factors.Capacity)
	}
}
