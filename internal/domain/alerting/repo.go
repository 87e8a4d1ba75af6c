package alerting

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/careroute/referral-engine/internal/platform/notification"
)

// ErrNotFound is returned when an alert, recipient or delivery is missing.
var ErrNotFound = errors.New("not found")

type AlertRepository interface {
	Create(ctx context.Context, a *Alert) error
	Update(ctx context.Context, a *Alert) error
	GetByID(ctx context.Context, id uuid.UUID) (*Alert, error)
	List(ctx context.Context, status AlertStatus, limit, offset int) ([]*Alert, int, error)
	// Pending returns alerts still awaiting acknowledgment, oldest first.
	Pending(ctx context.Context, limit int) ([]*Alert, error)
}

type RecipientRepository interface {
	Create(ctx context.Context, r *Recipient) error
	Update(ctx context.Context, r *Recipient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Recipient, error)
	List(ctx context.Context, limit, offset int) ([]*Recipient, int, error)
	// ListActiveByRoles returns active recipients holding any of the roles.
	ListActiveByRoles(ctx context.Context, roles []string) ([]*Recipient, error)
}

type DeliveryRepository interface {
	Create(ctx context.Context, d *Delivery) error
	ListByAlert(ctx context.Context, alertID uuid.UUID) ([]*Delivery, error)
	// HasAccepted reports whether an accepted delivery already exists for
	// the (alert, recipient, channel) key.
	HasAccepted(ctx context.Context, alertID, recipientID uuid.UUID, ch notification.Channel) (bool, error)
}
