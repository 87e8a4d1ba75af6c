// Package workflow runs configurable step graphs against trigger events.
// A workflow is a validated DAG of condition, action, delay and notification
// steps; each execution is a durable WorkflowRun that can suspend on delay
// steps and resume after a restart.
package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

type StepType string

const (
	StepCondition    StepType = "condition"
	StepAction       StepType = "action"
	StepDelay        StepType = "delay"
	StepNotification StepType = "notification"
)

// Predicate is one comparison against a dotted path into the run context.
type Predicate struct {
	Field string      `json:"field"`
	Op    string      `json:"op"`
	Value interface{} `json:"value,omitempty"`
}

// Branch routes a condition step: the first branch whose predicate holds
// selects the next step.
type Branch struct {
	Predicate Predicate `json:"predicate"`
	Next      string    `json:"next_step_id"`
}

// ActionConfig names an external collaborator call.
type ActionConfig struct {
	Collaborator string                 `json:"collaborator"`
	Params       map[string]interface{} `json:"params,omitempty"`
	TimeoutSecs  int                    `json:"timeout_secs,omitempty"`
	MaxRetries   int                    `json:"max_retries,omitempty"`
}

// DelayConfig suspends the run for a duration.
type DelayConfig struct {
	Duration string `json:"duration"` // parsed by time.ParseDuration
}

// NotifyConfig raises an alert through the notification router.
type NotifyConfig struct {
	Template      string `json:"template"`
	ApprovalLevel string `json:"approval_level"`
	Urgency       string `json:"urgency,omitempty"` // defaults to the context urgency
}

// Step is one node of the workflow graph. Condition steps route through
// Branches with a mandatory Fallback; the other types advance to Next, with
// an empty Next marking a terminal step. A step tagged LoopBack may be
// revisited within a run; any other revisit fails the run.
type Step struct {
	ID       string         `json:"id"`
	Name     string         `json:"name,omitempty"`
	Type     StepType       `json:"type"`
	Branches []Branch       `json:"branches,omitempty"`
	Fallback string         `json:"fallback,omitempty"`
	Action   *ActionConfig  `json:"action,omitempty"`
	Delay    *DelayConfig   `json:"delay,omitempty"`
	Notify   *NotifyConfig  `json:"notify,omitempty"`
	Next     string         `json:"next_step_id,omitempty"`
	LoopBack bool           `json:"loop_back,omitempty"`
}

// Workflow is a named step graph bound to a trigger event. The first step in
// Steps is the entry point.
type Workflow struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	Name         string     `db:"name" json:"name"`
	TriggerEvent string     `db:"trigger_event" json:"trigger_event"`
	Status       Status     `db:"status" json:"status"`
	Steps        []Step     `db:"steps" json:"steps"`
	RunCount     int64      `db:"run_count" json:"run_count"`
	LastRunAt    *time.Time `db:"last_run_at" json:"last_run_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// StepByID returns the step with the given id, or nil.
func (w *Workflow) StepByID(id string) *Step {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i]
		}
	}
	return nil
}

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunWaiting   RunStatus = "waiting"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is one durable execution of a workflow. CurrentStepID, Context and
// WakeAt are persisted before every suspension so a run survives restarts.
type Run struct {
	ID            uuid.UUID              `db:"id" json:"id"`
	WorkflowID    uuid.UUID              `db:"workflow_id" json:"workflow_id"`
	Status        RunStatus              `db:"status" json:"status"`
	Context       map[string]interface{} `db:"context" json:"context"`
	CurrentStepID string                 `db:"current_step_id" json:"current_step_id"`
	VisitedSteps  []string               `db:"visited_steps" json:"visited_steps"`
	WakeAt        *time.Time             `db:"wake_at" json:"wake_at,omitempty"`
	Error         string                 `db:"error" json:"error,omitempty"`
	CreatedAt     time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time              `db:"updated_at" json:"updated_at"`
}

// Visited reports whether the run has already executed the step.
func (r *Run) Visited(stepID string) bool {
	for _, v := range r.VisitedSteps {
		if v == stepID {
			return true
		}
	}
	return false
}

// AutomationRule is a one-shot condition→actions mapping outside any
// workflow graph. Rules for the same trigger fire in priority order
// (highest first).
type AutomationRule struct {
	ID            uuid.UUID    `db:"id" json:"id"`
	Name          string       `db:"name" json:"name"`
	TriggerEvent  string       `db:"trigger_event" json:"trigger_event"`
	Predicates    []Predicate  `db:"predicates" json:"predicates"` // all must hold
	Actions       []ActionConfig `db:"actions" json:"actions"`
	Priority      int          `db:"priority" json:"priority"`
	Enabled       bool         `db:"enabled" json:"enabled"`
	TriggerCount  int64        `db:"trigger_count" json:"trigger_count"`
	LastTriggered *time.Time   `db:"last_triggered" json:"last_triggered,omitempty"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
}

// ConfigurationError marks a defect in a workflow or rule definition. It is
// fatal at save/validation time; a run that still hits one fails safely.
type ConfigurationError struct {
	Workflow string
	Step     string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("workflow %q step %q: %s", e.Workflow, e.Step, e.Reason)
	}
	return fmt.Sprintf("workflow %q: %s", e.Workflow, e.Reason)
}

// cloneContext deep-copies a run context via JSON round-trip so concurrent
// runs never share mutable state.
func cloneContext(src map[string]interface{}) map[string]interface{} {
	if src == nil {
		return map[string]interface{}{}
	}
	raw, err := json.Marshal(src)
	if err != nil {
		return map[string]interface{}{}
	}
	dst := map[string]interface{}{}
	if err := json.Unmarshal(raw, &dst); err != nil {
		return map[string]interface{}{}
	}
	return dst
}
