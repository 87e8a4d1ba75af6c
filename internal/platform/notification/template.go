package notification

import (
	"fmt"
	"strings"
	"sync"
)

// Template defines a reusable notification template.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      "referral-accepted",
			Name:    "Referral Accepted",
			Subject: "Referral {{case_id}} accepted",
			Body:    "Referral {{case_id}} was accepted with confidence {{confidence}}. Next step: {{next_step}}.",
		},
		{
			ID:      "referral-review",
			Name:    "Referral Needs Review",
			Subject: "Referral {{case_id}} needs review",
			Body:    "Referral {{case_id}} scored {{confidence}} and requires manual review. Weakest factor: {{weakest_factor}}.",
		},
		{
			ID:      "referral-rejected",
			Name:    "Referral Rejected",
			Subject: "Referral {{case_id}} rejected",
			Body:    "Referral {{case_id}} was rejected: {{reason}}.",
		},
		{
			ID:      "qa-flag",
			Name:    "Quality Flag Raised",
			Subject: "QA flag on case {{case_id}}",
			Body:    "A quality flag was raised on case {{case_id}}: {{summary}}. Risk score: {{risk_score}}.",
		},
		{
			ID:      "escalation-notice",
			Name:    "Escalation Notice",
			Subject: "ESCALATED: unacknowledged alert on case {{case_id}}",
			Body:    "Alert {{alert_id}} on case {{case_id}} was not acknowledged within {{window}} and has been escalated to {{tier}}.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}
