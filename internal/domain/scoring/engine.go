package scoring

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/careroute/referral-engine/internal/domain/referral"
	"github.com/careroute/referral-engine/internal/domain/rules"
	"github.com/careroute/referral-engine/internal/platform/counter"
)

// Engine wires the pure scorers to the live rule store and capacity counter.
// It implements referral.DecisionEngine.
type Engine struct {
	rules  RuleSource
	counts counter.Store
	now    func() time.Time
	log    zerolog.Logger
}

// RuleSource yields the active rule configuration. Satisfied by *rules.Store.
type RuleSource interface {
	Active() *rules.Config
}

func NewEngine(rules RuleSource, counts counter.Store, log zerolog.Logger) *Engine {
	return &Engine{rules: rules, counts: counts, now: time.Now, log: log}
}

// WithClock overrides the engine clock, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Decide scores the case against the active rules and a capacity snapshot.
// A counter read failure degrades to zero utilization rather than blocking
// the decision; the stale read only biases the capacity score.
func (e *Engine) Decide(ctx context.Context, c *referral.Case) (*referral.Decision, error) {
	cfg := e.rules.Active()
	now := e.now()

	// Utilization is the tighter of the daily and weekly cap ratios.
	snap := CapacitySnapshot{Now: now}
	dayCount, err := e.counts.Get(ctx, counter.DayKey(now))
	if err != nil {
		e.log.Warn().Err(err).Msg("capacity counter read failed, assuming zero utilization")
	} else if cfg.Capacity.DailyCap > 0 {
		snap.Utilization = float64(dayCount) / float64(cfg.Capacity.DailyCap)
	}
	weekCount, err := e.counts.Get(ctx, counter.WeekKey(now))
	if err != nil {
		e.log.Warn().Err(err).Msg("weekly capacity counter read failed")
	} else if cfg.Capacity.WeeklyCap > 0 {
		if weekly := float64(weekCount) / float64(cfg.Capacity.WeeklyCap); weekly > snap.Utilization {
			snap.Utilization = weekly
		}
	}

	f := ScoreAll(c, cfg, snap)
	d := Aggregate(c, f, cfg)

	if d.Action == referral.ActionAccept {
		if _, err := e.counts.Incr(ctx, counter.DayKey(now)); err != nil {
			e.log.Error().Err(err).Msg("daily capacity counter increment failed")
		}
		if _, err := e.counts.Incr(ctx, counter.WeekKey(now)); err != nil {
			e.log.Error().Err(err).Msg("weekly capacity counter increment failed")
		}
	}
	return d, nil
}
