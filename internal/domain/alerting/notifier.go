package alerting

import (
	"context"

	"github.com/careroute/referral-engine/internal/domain/rules"
	"github.com/careroute/referral-engine/internal/domain/workflow"
)

// WorkflowNotifier adapts the router to the workflow engine's notification
// step contract.
type WorkflowNotifier struct {
	router *Router
}

func NewWorkflowNotifier(router *Router) *WorkflowNotifier {
	return &WorkflowNotifier{router: router}
}

func (n *WorkflowNotifier) Notify(ctx context.Context, req workflow.NotificationRequest) error {
	urgency := rules.Urgency(req.Urgency)
	if !rules.ValidUrgency(urgency) {
		urgency = rules.UrgencyRoutine
	}
	a := &Alert{
		Template:       req.Template,
		ApprovalLevel:  ApprovalLevel(req.ApprovalLevel),
		Urgency:        urgency,
		Context:        req.Context,
		IdempotencyKey: req.IdempotencyKey,
	}
	if risk, ok := req.Context["risk_score"].(float64); ok {
		a.RiskScore = &risk
	} else if conf, ok := req.Context["confidence"].(float64); ok {
		a.RiskScore = &conf
	}
	return n.router.Raise(ctx, a)
}
