package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careroute/referral-engine/internal/platform/events"
)

// ActionInvoker calls a named external collaborator (insurance verification,
// scheduling, AI scoring). The idempotency key is stable across retries of
// the same step so the collaborator can deduplicate side effects.
type ActionInvoker interface {
	Invoke(ctx context.Context, name string, params map[string]interface{}, idempotencyKey string) (map[string]interface{}, error)
}

// NotificationRequest is the hand-off from a notification step to the alert
// router. Delivery is fire-and-continue: the run advances once the router
// accepts the request.
type NotificationRequest struct {
	Template       string
	ApprovalLevel  string
	Urgency        string
	Context        map[string]interface{}
	IdempotencyKey string
}

// Notifier accepts a notification request for asynchronous delivery.
type Notifier interface {
	Notify(ctx context.Context, req NotificationRequest) error
}

const (
	defaultActionTimeout = 10 * time.Second
	defaultMaxRetries    = 3
	retryBaseDelay       = 200 * time.Millisecond
	retryMaxDelay        = 5 * time.Second

	// maxStepsPerResume bounds loop-back workflows so a bad graph cannot
	// spin a run forever inside one execution pass.
	maxStepsPerResume = 256
)

// Engine executes workflow runs. Delay steps suspend the run with a
// persisted wake time; a Scheduler tick resumes them, possibly in another
// process.
type Engine struct {
	workflows WorkflowRepository
	runs      RunRepository
	invoker   ActionInvoker
	notifier  Notifier
	bus       *events.Bus
	log       zerolog.Logger
	now       func() time.Time
}

func NewEngine(workflows WorkflowRepository, runs RunRepository, invoker ActionInvoker, notifier Notifier, bus *events.Bus, log zerolog.Logger) *Engine {
	return &Engine{
		workflows: workflows,
		runs:      runs,
		invoker:   invoker,
		notifier:  notifier,
		bus:       bus,
		log:       log,
		now:       time.Now,
	}
}

// WithClock overrides the engine clock, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Start creates a run for the workflow with the trigger payload as initial
// context and executes it until it completes, fails or suspends.
func (e *Engine) Start(ctx context.Context, wf *Workflow, trigger map[string]interface{}) (*Run, error) {
	if wf.Status != StatusActive {
		return nil, fmt.Errorf("workflow %s is %s, not active", wf.ID, wf.Status)
	}
	if len(wf.Steps) == 0 {
		return nil, &ConfigurationError{Workflow: wf.Name, Reason: "no steps"}
	}

	run := &Run{
		WorkflowID:    wf.ID,
		Status:        RunRunning,
		Context:       cloneContext(trigger),
		CurrentStepID: wf.Steps[0].ID,
	}
	if err := e.runs.Create(ctx, run); err != nil {
		return nil, err
	}
	if err := e.workflows.RecordRun(ctx, wf.ID, e.now()); err != nil {
		e.log.Error().Err(err).Str("workflow_id", wf.ID.String()).Msg("record run stats failed")
	}
	e.publishRun(ctx, events.TypeRunStarted, wf, run)

	e.execute(ctx, wf, run)
	return run, nil
}

// Resume picks a waiting run back up after its wake time. Runs that are not
// waiting, or not yet due, are left alone.
func (e *Engine) Resume(ctx context.Context, runID uuid.UUID) error {
	run, err := e.runs.GetByID(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != RunWaiting {
		return nil
	}
	if run.WakeAt != nil && run.WakeAt.After(e.now()) {
		return nil
	}
	wf, err := e.workflows.GetByID(ctx, run.WorkflowID)
	if err != nil {
		return err
	}

	// The run suspended on its current delay step; waking advances past it.
	step := wf.StepByID(run.CurrentStepID)
	if step == nil {
		e.fail(ctx, wf, run, fmt.Sprintf("unknown step %q", run.CurrentStepID))
		return nil
	}
	run.Status = RunRunning
	run.WakeAt = nil
	if step.Next == "" {
		e.complete(ctx, wf, run)
		return nil
	}
	run.CurrentStepID = step.Next
	if err := e.runs.Update(ctx, run); err != nil {
		return err
	}
	e.execute(ctx, wf, run)
	return nil
}

// execute drives the run until a terminal state or a suspension point.
// State is persisted after every transition, before any suspension.
func (e *Engine) execute(ctx context.Context, wf *Workflow, run *Run) {
	for steps := 0; steps < maxStepsPerResume; steps++ {
		step := wf.StepByID(run.CurrentStepID)
		if step == nil {
			e.fail(ctx, wf, run, fmt.Sprintf("unknown step %q", run.CurrentStepID))
			return
		}
		if run.Visited(step.ID) && !step.LoopBack {
			e.fail(ctx, wf, run, fmt.Sprintf("step %q revisited without loop_back tag", step.ID))
			return
		}
		run.VisitedSteps = append(run.VisitedSteps, step.ID)

		var next string
		switch step.Type {
		case StepCondition:
			matched := false
			for _, b := range step.Branches {
				if b.Predicate.Evaluate(run.Context) {
					next, matched = b.Next, true
					break
				}
			}
			if !matched {
				if step.Fallback == "" {
					e.fail(ctx, wf, run, fmt.Sprintf("condition step %q: no branch matched and no fallback", step.ID))
					return
				}
				next = step.Fallback
			}

		case StepAction:
			result, err := e.invokeAction(ctx, run, step)
			if err != nil {
				e.fail(ctx, wf, run, fmt.Sprintf("action step %q: %v", step.ID, err))
				return
			}
			run.Context[step.ID] = result
			next = step.Next

		case StepDelay:
			dur, err := time.ParseDuration(step.Delay.Duration)
			if err != nil {
				e.fail(ctx, wf, run, fmt.Sprintf("delay step %q: bad duration %q", step.ID, step.Delay.Duration))
				return
			}
			wake := e.now().Add(dur)
			run.Status = RunWaiting
			run.WakeAt = &wake
			if err := e.runs.Update(ctx, run); err != nil {
				e.log.Error().Err(err).Str("run_id", run.ID.String()).Msg("persist waiting run failed")
			}
			e.publishRun(ctx, events.TypeRunWaiting, wf, run)
			return

		case StepNotification:
			e.sendNotification(ctx, run, step)
			next = step.Next

		default:
			e.fail(ctx, wf, run, fmt.Sprintf("step %q: unknown type %q", step.ID, step.Type))
			return
		}

		if next == "" {
			e.complete(ctx, wf, run)
			return
		}
		run.CurrentStepID = next
		if err := e.runs.Update(ctx, run); err != nil {
			e.log.Error().Err(err).Str("run_id", run.ID.String()).Msg("persist run step failed")
		}
		e.publishRun(ctx, events.TypeRunStepped, wf, run)
	}
	e.fail(ctx, wf, run, fmt.Sprintf("exceeded %d steps in one pass", maxStepsPerResume))
}

// invokeAction calls the collaborator with a per-attempt timeout and bounded
// retries. The key (runId:stepId) stays fixed across attempts.
func (e *Engine) invokeAction(ctx context.Context, run *Run, step *Step) (map[string]interface{}, error) {
	timeout := defaultActionTimeout
	if step.Action.TimeoutSecs > 0 {
		timeout = time.Duration(step.Action.TimeoutSecs) * time.Second
	}
	retries := defaultMaxRetries
	if step.Action.MaxRetries > 0 {
		retries = step.Action.MaxRetries
	}
	key := fmt.Sprintf("%s:%s", run.ID, step.ID)

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, backoff(attempt)); err != nil {
				return nil, err
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err := e.invoker.Invoke(callCtx, step.Action.Collaborator, step.Action.Params, key)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err
		e.log.Warn().Err(err).
			Str("run_id", run.ID.String()).
			Str("collaborator", step.Action.Collaborator).
			Int("attempt", attempt+1).
			Msg("collaborator call failed")
	}
	return nil, fmt.Errorf("collaborator %q failed after %d attempts: %w", step.Action.Collaborator, retries+1, lastErr)
}

func (e *Engine) sendNotification(ctx context.Context, run *Run, step *Step) {
	urgency := step.Notify.Urgency
	if urgency == "" {
		if u, ok := run.Context["urgency"].(string); ok {
			urgency = u
		}
	}
	req := NotificationRequest{
		Template:       step.Notify.Template,
		ApprovalLevel:  step.Notify.ApprovalLevel,
		Urgency:        urgency,
		Context:        cloneContext(run.Context),
		IdempotencyKey: fmt.Sprintf("%s:%s", run.ID, step.ID),
	}
	outcome := map[string]interface{}{"accepted": true}
	if err := e.notifier.Notify(ctx, req); err != nil {
		// Delivery failure does not stop the run; the outcome is recorded
		// for audit.
		outcome["accepted"] = false
		outcome["error"] = err.Error()
		e.log.Error().Err(err).Str("run_id", run.ID.String()).Str("step", step.ID).
			Msg("notification hand-off failed")
	}
	run.Context[step.ID] = outcome
}

func (e *Engine) complete(ctx context.Context, wf *Workflow, run *Run) {
	run.Status = RunCompleted
	run.WakeAt = nil
	if err := e.runs.Update(ctx, run); err != nil {
		e.log.Error().Err(err).Str("run_id", run.ID.String()).Msg("persist completed run failed")
	}
	e.publishRun(ctx, events.TypeRunCompleted, wf, run)
}

func (e *Engine) fail(ctx context.Context, wf *Workflow, run *Run, reason string) {
	run.Status = RunFailed
	run.WakeAt = nil
	run.Error = reason
	if err := e.runs.Update(ctx, run); err != nil {
		e.log.Error().Err(err).Str("run_id", run.ID.String()).Msg("persist failed run failed")
	}
	e.log.Error().
		Str("run_id", run.ID.String()).
		Str("workflow", wf.Name).
		Str("reason", reason).
		Msg("workflow run failed")
	e.publishRun(ctx, events.TypeRunFailed, wf, run)
}

func (e *Engine) publishRun(ctx context.Context, eventType string, wf *Workflow, run *Run) {
	e.bus.Publish(ctx, events.NewEvent(eventType, map[string]interface{}{
		"run_id":      run.ID.String(),
		"workflow_id": wf.ID.String(),
		"workflow":    wf.Name,
		"status":      string(run.Status),
		"step_id":     run.CurrentStepID,
	}))
}

func backoff(attempt int) time.Duration {
	d := retryBaseDelay << (attempt - 1)
	if d > retryMaxDelay {
		return retryMaxDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
