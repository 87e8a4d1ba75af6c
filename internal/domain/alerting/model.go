// Package alerting routes alerts to recipients over notification channels
// and escalates the ones nobody acknowledges in time.
package alerting

import (
	"time"

	"github.com/google/uuid"

	"github.com/careroute/referral-engine/internal/domain/rules"
	"github.com/careroute/referral-engine/internal/platform/notification"
)

// ApprovalLevel is the review tier an alert is addressed to.
type ApprovalLevel string

const (
	LevelQARN             ApprovalLevel = "qa_rn"
	LevelClinicalDirector ApprovalLevel = "clinical_director"
	LevelBoth             ApprovalLevel = "both"
)

func ValidApprovalLevel(l ApprovalLevel) bool {
	switch l {
	case LevelQARN, LevelClinicalDirector, LevelBoth:
		return true
	}
	return false
}

// NextLevel returns the approval tier above l. Both is the ceiling.
func NextLevel(l ApprovalLevel) ApprovalLevel {
	switch l {
	case LevelQARN:
		return LevelClinicalDirector
	default:
		return LevelBoth
	}
}

// RoleCompliance is the last-resort recipient group, added for stat alerts,
// low risk scores and escalations.
const RoleCompliance = "compliance"

type AlertStatus string

const (
	AlertPending      AlertStatus = "pending"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertEscalated    AlertStatus = "escalated"
)

// Alert is one request for human attention. Created once; only its status
// and escalation tier ever change.
type Alert struct {
	ID             uuid.UUID              `db:"id" json:"id"`
	Template       string                 `db:"template" json:"template"`
	ApprovalLevel  ApprovalLevel          `db:"approval_level" json:"approval_level"`
	Urgency        rules.Urgency          `db:"urgency" json:"urgency"`
	RiskScore      *float64               `db:"risk_score" json:"risk_score,omitempty"`
	Context        map[string]interface{} `db:"context" json:"context"`
	Status         AlertStatus            `db:"status" json:"status"`
	EscalationTier int                    `db:"escalation_tier" json:"escalation_tier"`
	IdempotencyKey string                 `db:"idempotency_key" json:"idempotency_key,omitempty"`
	AcknowledgedBy string                 `db:"acknowledged_by" json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time             `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time              `db:"updated_at" json:"updated_at"`
}

// Recipient is a registered alert receiver, matched to alerts by role.
type Recipient struct {
	ID               uuid.UUID            `db:"id" json:"id"`
	Name             string               `db:"name" json:"name"`
	Role             string               `db:"role" json:"role"` // qa_rn, clinical_director, compliance
	PreferredChannel notification.Channel `db:"preferred_channel" json:"preferred_channel"`
	Email            string               `db:"email" json:"email,omitempty"`
	Phone            string               `db:"phone" json:"phone,omitempty"`
	PushToken        string               `db:"push_token" json:"push_token,omitempty"`
	WebhookURL       string               `db:"webhook_url" json:"webhook_url,omitempty"`
	Active           bool                 `db:"active" json:"active"`
	CreatedAt        time.Time            `db:"created_at" json:"created_at"`
}

// AddressFor returns the recipient's address on a channel, or "" if the
// recipient cannot be reached there.
func (r *Recipient) AddressFor(ch notification.Channel) string {
	switch ch {
	case notification.ChannelEmail:
		return r.Email
	case notification.ChannelSMS:
		return r.Phone
	case notification.ChannelPush:
		return r.PushToken
	case notification.ChannelWebhook:
		return r.WebhookURL
	}
	return ""
}

type DeliveryStatus string

const (
	DeliveryAccepted DeliveryStatus = "accepted"
	DeliveryFailed   DeliveryStatus = "failed"
)

// Delivery records one (alert, recipient, channel) send outcome. At most one
// accepted delivery ever exists per key.
type Delivery struct {
	ID          uuid.UUID            `db:"id" json:"id"`
	AlertID     uuid.UUID            `db:"alert_id" json:"alert_id"`
	RecipientID uuid.UUID            `db:"recipient_id" json:"recipient_id"`
	Channel     notification.Channel `db:"channel" json:"channel"`
	Status      DeliveryStatus       `db:"status" json:"status"`
	Attempts    int                  `db:"attempts" json:"attempts"`
	TransportID string               `db:"transport_id" json:"transport_id,omitempty"`
	Error       string               `db:"error" json:"error,omitempty"`
	CreatedAt   time.Time            `db:"created_at" json:"created_at"`
}

// UrgencyConfig is the per-tier delivery policy.
type UrgencyConfig struct {
	Channels         []notification.Channel `json:"channels"`
	EscalationWindow time.Duration          `json:"escalation_window"`
	RetryAttempts    int                    `json:"retry_attempts"`
}

// DefaultUrgencyConfigs is the delivery policy table used unless overridden
// at construction.
func DefaultUrgencyConfigs() map[rules.Urgency]UrgencyConfig {
	return map[rules.Urgency]UrgencyConfig{
		rules.UrgencyStat: {
			Channels:         []notification.Channel{notification.ChannelSMS, notification.ChannelPush, notification.ChannelEmail, notification.ChannelWebhook},
			EscalationWindow: 15 * time.Minute,
			RetryAttempts:    3,
		},
		rules.UrgencyUrgent: {
			Channels:         []notification.Channel{notification.ChannelSMS, notification.ChannelEmail},
			EscalationWindow: time.Hour,
			RetryAttempts:    2,
		},
		rules.UrgencyRoutine: {
			Channels:         []notification.Channel{notification.ChannelEmail},
			EscalationWindow: 4 * time.Hour,
			RetryAttempts:    1,
		},
	}
}

// riskThreshold is the AI/quality score below which the compliance group is
// copied on the alert.
const riskThreshold = 0.5
