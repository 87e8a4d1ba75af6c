package audit

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/careroute/referral-engine/internal/platform/events"
)

// subjectKeys maps payload fields to the kind of object they identify,
// checked in order so the most specific subject wins.
var subjectKeys = []struct {
	key  string
	kind string
}{
	{"case_id", "case"},
	{"decision_id", "decision"},
	{"run_id", "run"},
	{"workflow_id", "workflow"},
	{"rule_id", "rule"},
	{"alert_id", "alert"},
}

// Recorder subscribes to the event bus and persists every event as an audit
// entry. A write failure is logged and dropped; auditing never blocks or
// fails the operation that emitted the event.
type Recorder struct {
	repo        Repository
	log         zerolog.Logger
	unsubscribe func()
}

func NewRecorder(repo Repository, log zerolog.Logger) *Recorder {
	return &Recorder{repo: repo, log: log}
}

// Start attaches the recorder to the bus.
func (r *Recorder) Start(bus *events.Bus) {
	r.unsubscribe = bus.Subscribe("*", r.record)
}

// Stop detaches the recorder.
func (r *Recorder) Stop() {
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
}

func (r *Recorder) record(ctx context.Context, evt events.Event) {
	e := &Entry{
		EventID:    evt.ID,
		EventType:  evt.Type,
		Detail:     evt.Payload,
		RecordedAt: evt.OccurredAt,
	}
	e.SubjectKind, e.SubjectID = subjectOf(evt.Payload)

	if err := r.repo.Create(ctx, e); err != nil {
		r.log.Error().Err(err).
			Str("event_type", evt.Type).
			Str("event_id", evt.ID).
			Msg("audit write failed")
	}
}

func subjectOf(payload map[string]interface{}) (kind, id string) {
	for _, sk := range subjectKeys {
		if v, ok := payload[sk.key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return sk.kind, s
			}
		}
	}
	return "", ""
}
