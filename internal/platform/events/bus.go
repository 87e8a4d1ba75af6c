// Package events provides the in-process publish/subscribe bus that carries
// trigger events and audit events between the intake pipeline, the workflow
// engine, and the alerting layer. Subscribers are registered explicitly so
// tests can run isolated buses; there is no package-level default.
package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Well-known event types.
const (
	TypeReferralReceived = "referral_received"
	TypeReferralAccepted = "referral_accepted"
	TypeQAFlagRaised     = "qa_flag_raised"
	TypeDecisionMade     = "decision.made"
	TypeRunStarted       = "run.started"
	TypeRunStepped       = "run.stepped"
	TypeRunWaiting       = "run.waiting"
	TypeRunCompleted     = "run.completed"
	TypeRunFailed        = "run.failed"
	TypeAlertCreated     = "alert.created"
	TypeAlertDelivered   = "alert.delivered"
	TypeAlertEscalated   = "alert.escalated"
)

// Event is a typed payload flowing through the bus.
type Event struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	OccurredAt time.Time              `json:"occurred_at"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// NewEvent constructs an event with a fresh ID and timestamp.
func NewEvent(eventType string, payload map[string]interface{}) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// HandlerFunc receives published events.
type HandlerFunc func(ctx context.Context, evt Event)

type subscription struct {
	id      uuid.UUID
	pattern string
	fn      HandlerFunc
}

// Bus dispatches events to registered subscribers. Dispatch is synchronous
// and in registration order; a panicking handler is recovered and logged so
// it cannot take down a publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	logger zerolog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{logger: logger}
}

// Subscribe registers a handler for events whose type matches pattern.
// Patterns can be exact ("run.failed"), prefix wildcards ("run.*"), or "*"
// for everything. The returned function removes the subscription.
func (b *Bus) Subscribe(pattern string, fn HandlerFunc) (unsubscribe func()) {
	sub := subscription{id: uuid.New(), pattern: pattern, fn: fn}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == sub.id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers the event to every matching subscriber.
func (b *Bus) Publish(ctx context.Context, evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		if !patternMatches(sub.pattern, evt.Type) {
			continue
		}
		b.dispatch(ctx, sub, evt)
	}
}

func (b *Bus) dispatch(ctx context.Context, sub subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("event_type", evt.Type).
				Str("event_id", evt.ID).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("event handler panicked")
		}
	}()
	sub.fn(ctx, evt)
}

// patternMatches reports whether an event type matches a subscription pattern.
func patternMatches(pattern, eventType string) bool {
	if pattern == "*" || pattern == eventType {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		return strings.HasPrefix(eventType, pattern[:len(pattern)-1])
	}
	return false
}
