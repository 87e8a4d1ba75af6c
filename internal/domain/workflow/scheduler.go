package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/careroute/referral-engine/internal/platform/events"
)

// dueBatchSize bounds how many waiting runs one tick resumes.
const dueBatchSize = 100

// Scheduler binds the engine to the outside world: it starts runs for
// trigger events, fires automation rules, and resumes waiting runs whose
// wake time has elapsed. Resumption is tick-driven so waiting runs survive
// process restarts.
type Scheduler struct {
	workflows WorkflowRepository
	runs      RunRepository
	rules     AutomationRuleRepository
	engine    *Engine
	invoker   ActionInvoker
	bus       *events.Bus
	tick      time.Duration
	log       zerolog.Logger
	now       func() time.Time

	unsubscribe func()
}

func NewScheduler(workflows WorkflowRepository, runs RunRepository, rules AutomationRuleRepository, engine *Engine, invoker ActionInvoker, bus *events.Bus, tick time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		workflows: workflows,
		runs:      runs,
		rules:     rules,
		engine:    engine,
		invoker:   invoker,
		bus:       bus,
		tick:      tick,
		log:       log,
		now:       time.Now,
	}
}

// Start subscribes to trigger events and begins the resume tick. It returns
// immediately; the tick loop stops when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.unsubscribe = s.bus.Subscribe("*", func(evtCtx context.Context, evt events.Event) {
		s.onEvent(evtCtx, evt)
	})

	go func() {
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.ResumeDue(ctx)
			}
		}
	}()
}

// Stop detaches the scheduler from the event bus.
func (s *Scheduler) Stop() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// onEvent starts bound workflows and fires automation rules for one event.
// Run lifecycle events are not triggers; binding a workflow to its own
// output would loop.
func (s *Scheduler) onEvent(ctx context.Context, evt events.Event) {
	if strings.HasPrefix(evt.Type, "run.") {
		return
	}

	wfs, err := s.workflows.ListActiveByTrigger(ctx, evt.Type)
	if err != nil {
		s.log.Error().Err(err).Str("event", evt.Type).Msg("trigger lookup failed")
	}
	for _, wf := range wfs {
		if _, err := s.engine.Start(ctx, wf, evt.Payload); err != nil {
			s.log.Error().Err(err).
				Str("workflow", wf.Name).
				Str("event", evt.Type).
				Msg("workflow start failed")
		}
	}

	s.fireRules(ctx, evt)
}

// fireRules evaluates automation rules for the event in priority order. A
// rule fires when every predicate holds; all its actions are invoked.
func (s *Scheduler) fireRules(ctx context.Context, evt events.Event) {
	rules, err := s.rules.ListEnabledByTrigger(ctx, evt.Type)
	if err != nil {
		s.log.Error().Err(err).Str("event", evt.Type).Msg("rule lookup failed")
		return
	}
	for _, rule := range rules {
		if !ruleMatches(rule, evt.Payload) {
			continue
		}
		for i, action := range rule.Actions {
			key := fmt.Sprintf("%s:%s:%d", rule.ID, evt.ID, i)
			if _, err := s.invoker.Invoke(ctx, action.Collaborator, action.Params, key); err != nil {
				s.log.Error().Err(err).
					Str("rule", rule.Name).
					Str("collaborator", action.Collaborator).
					Msg("automation rule action failed")
			}
		}
		if err := s.rules.RecordTrigger(ctx, rule.ID, s.now()); err != nil {
			s.log.Error().Err(err).Str("rule", rule.Name).Msg("record rule trigger failed")
		}
	}
}

func ruleMatches(rule *AutomationRule, payload map[string]interface{}) bool {
	for _, p := range rule.Predicates {
		if !p.Evaluate(payload) {
			return false
		}
	}
	return true
}

// ResumeDue resumes every waiting run whose wake time has passed. Exported
// so tests and operational tooling can drive a tick directly.
func (s *Scheduler) ResumeDue(ctx context.Context) {
	due, err := s.runs.Due(ctx, s.now(), dueBatchSize)
	if err != nil {
		s.log.Error().Err(err).Msg("due-run query failed")
		return
	}
	for _, run := range due {
		if err := s.engine.Resume(ctx, run.ID); err != nil {
			s.log.Error().Err(err).Str("run_id", run.ID.String()).Msg("run resume failed")
		}
	}
}
