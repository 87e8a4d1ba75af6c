package workflow

import (
	"fmt"
	"time"
)

// Validate checks the workflow definition so configuration defects fail at
// save time, never inside a run. It checks step configs, that every
// referenced step exists, that condition steps carry a fallback, and that
// the graph has no cycle through steps not tagged as loop-backs.
func Validate(w *Workflow) error {
	if w.Name == "" {
		return &ConfigurationError{Workflow: w.Name, Reason: "name is required"}
	}
	if w.TriggerEvent == "" {
		return &ConfigurationError{Workflow: w.Name, Reason: "trigger_event is required"}
	}
	if len(w.Steps) == 0 {
		return &ConfigurationError{Workflow: w.Name, Reason: "at least one step is required"}
	}

	byID := make(map[string]*Step, len(w.Steps))
	for i := range w.Steps {
		s := &w.Steps[i]
		if s.ID == "" {
			return &ConfigurationError{Workflow: w.Name, Reason: "step with empty id"}
		}
		if _, dup := byID[s.ID]; dup {
			return &ConfigurationError{Workflow: w.Name, Step: s.ID, Reason: "duplicate step id"}
		}
		byID[s.ID] = s
	}

	for i := range w.Steps {
		if err := validateStep(w, &w.Steps[i], byID); err != nil {
			return err
		}
	}
	return checkCycles(w, byID)
}

func validateStep(w *Workflow, s *Step, byID map[string]*Step) error {
	fail := func(reason string) error {
		return &ConfigurationError{Workflow: w.Name, Step: s.ID, Reason: reason}
	}
	ref := func(id, what string) error {
		if id == "" {
			return nil
		}
		if _, ok := byID[id]; !ok {
			return fail(fmt.Sprintf("%s references unknown step %q", what, id))
		}
		return nil
	}

	switch s.Type {
	case StepCondition:
		if len(s.Branches) == 0 {
			return fail("condition step needs at least one branch")
		}
		if s.Fallback == "" {
			return fail("condition step needs a fallback branch")
		}
		for i, b := range s.Branches {
			if b.Predicate.Field == "" {
				return fail(fmt.Sprintf("branch %d: predicate field is required", i))
			}
			if !validOp(b.Predicate.Op) {
				return fail(fmt.Sprintf("branch %d: unknown operator %q", i, b.Predicate.Op))
			}
			if b.Next == "" {
				return fail(fmt.Sprintf("branch %d: next_step_id is required", i))
			}
			if err := ref(b.Next, fmt.Sprintf("branch %d", i)); err != nil {
				return err
			}
		}
		if err := ref(s.Fallback, "fallback"); err != nil {
			return err
		}
	case StepAction:
		if s.Action == nil || s.Action.Collaborator == "" {
			return fail("action step needs a collaborator name")
		}
		if err := ref(s.Next, "next_step_id"); err != nil {
			return err
		}
	case StepDelay:
		if s.Delay == nil || s.Delay.Duration == "" {
			return fail("delay step needs a duration")
		}
		if d, err := time.ParseDuration(s.Delay.Duration); err != nil || d <= 0 {
			return fail(fmt.Sprintf("invalid delay duration %q", s.Delay.Duration))
		}
		if err := ref(s.Next, "next_step_id"); err != nil {
			return err
		}
	case StepNotification:
		if s.Notify == nil || s.Notify.Template == "" {
			return fail("notification step needs a template")
		}
		if s.Notify.ApprovalLevel == "" {
			return fail("notification step needs an approval level")
		}
		if err := ref(s.Next, "next_step_id"); err != nil {
			return err
		}
	default:
		return fail(fmt.Sprintf("unknown step type %q", s.Type))
	}
	return nil
}

// edges lists the possible successors of a step.
func edges(s *Step) []string {
	var out []string
	if s.Type == StepCondition {
		for _, b := range s.Branches {
			out = append(out, b.Next)
		}
		out = append(out, s.Fallback)
		return out
	}
	if s.Next != "" {
		out = append(out, s.Next)
	}
	return out
}

// checkCycles walks the graph from the entry step. A back edge is only legal
// when its target step is tagged LoopBack.
func checkCycles(w *Workflow, byID map[string]*Step) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(w.Steps))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, next := range edges(byID[id]) {
			switch color[next] {
			case white:
				if err := visit(next); err != nil {
					return err
				}
			case gray:
				if !byID[next].LoopBack {
					return &ConfigurationError{
						Workflow: w.Name, Step: id,
						Reason: fmt.Sprintf("cycle back to step %q, which is not tagged loop_back", next),
					}
				}
			}
		}
		color[id] = black
		return nil
	}
	return visit(w.Steps[0].ID)
}
