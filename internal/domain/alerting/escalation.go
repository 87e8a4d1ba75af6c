package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// registration is one armed timer. The generation distinguishes it from any
// earlier timer for the same alert: a stale expiry that was queued behind the
// alert lock while the alert was re-armed carries the old generation and
// fires into nothing.
type registration struct {
	timer *time.Timer
	gen   uint64
}

// alertLock serializes one alert's firing against its acknowledgment. refs
// counts the goroutines holding or waiting on it; the map entry is removed
// when the count drops to zero, so the lock table stays bounded by the
// number of in-flight alerts.
type alertLock struct {
	mu   sync.Mutex
	refs int
}

// Escalator tracks one cancellable timer per pending alert. For each alert,
// a firing timer and an acknowledgment contend on that alert's lock, so
// exactly one order wins: an acknowledgment that gets there first disarms
// the timer and the late firing is a no-op, never the reverse. Alerts do not
// share locks, so acknowledging one alert never stalls another's escalation.
type Escalator struct {
	mu      sync.Mutex
	timers  map[uuid.UUID]registration
	locks   map[uuid.UUID]*alertLock
	nextGen uint64

	onFire func(ctx context.Context, alertID uuid.UUID)
	log    zerolog.Logger
}

func NewEscalator(log zerolog.Logger) *Escalator {
	return &Escalator{
		timers: make(map[uuid.UUID]registration),
		locks:  make(map[uuid.UUID]*alertLock),
		log:    log,
	}
}

func (e *Escalator) setHandler(fn func(ctx context.Context, alertID uuid.UUID)) {
	e.onFire = fn
}

func (e *Escalator) acquireLock(alertID uuid.UUID) *alertLock {
	e.mu.Lock()
	l, ok := e.locks[alertID]
	if !ok {
		l = &alertLock{}
		e.locks[alertID] = l
	}
	l.refs++
	e.mu.Unlock()

	l.mu.Lock()
	return l
}

func (e *Escalator) releaseLock(alertID uuid.UUID, l *alertLock) {
	l.mu.Unlock()

	e.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(e.locks, alertID)
	}
	e.mu.Unlock()
}

// Arm starts (or restarts) the escalation timer for an alert. Restarting
// bumps the generation, invalidating any expiry of the replaced timer that
// has not yet run.
func (e *Escalator) Arm(alertID uuid.UUID, window time.Duration) {
	e.mu.Lock()
	if reg, ok := e.timers[alertID]; ok {
		reg.timer.Stop()
	}
	e.nextGen++
	gen := e.nextGen
	e.timers[alertID] = registration{
		timer: time.AfterFunc(window, func() { e.fire(alertID, gen) }),
		gen:   gen,
	}
	e.mu.Unlock()

	e.log.Debug().
		Str("alert_id", alertID.String()).
		Dur("window", window).
		Msg("escalation timer armed")
}

// fire runs the escalation handler under the alert's lock. It consumes the
// registration only when the generation still matches: a timer that was
// disarmed, or replaced by a re-arm, between expiry and this call does
// nothing.
func (e *Escalator) fire(alertID uuid.UUID, gen uint64) {
	l := e.acquireLock(alertID)
	defer e.releaseLock(alertID, l)

	e.mu.Lock()
	reg, ok := e.timers[alertID]
	if ok && reg.gen == gen {
		delete(e.timers, alertID)
	}
	fn := e.onFire
	e.mu.Unlock()

	if !ok || reg.gen != gen || fn == nil {
		return
	}
	fn(context.Background(), alertID)
}

// Disarm cancels the alert's timer and runs fn under the alert's lock, so
// the acknowledgment it performs cannot interleave with that alert's firing
// timer.
func (e *Escalator) Disarm(alertID uuid.UUID, fn func() error) error {
	l := e.acquireLock(alertID)
	defer e.releaseLock(alertID, l)

	e.mu.Lock()
	if reg, ok := e.timers[alertID]; ok {
		reg.timer.Stop()
		delete(e.timers, alertID)
	}
	e.mu.Unlock()

	return fn()
}

// Armed reports whether the alert currently has a live timer.
func (e *Escalator) Armed(alertID uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.timers[alertID]
	return ok
}

// Stop cancels every timer, for shutdown.
func (e *Escalator) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, reg := range e.timers {
		reg.timer.Stop()
		delete(e.timers, id)
	}
}
