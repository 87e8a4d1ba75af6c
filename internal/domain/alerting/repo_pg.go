package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careroute/referral-engine/internal/platform/notification"
)

type alertRepoPG struct{ pool *pgxpool.Pool }

func NewAlertRepoPG(pool *pgxpool.Pool) AlertRepository {
	return &alertRepoPG{pool: pool}
}

const alertCols = `id, template, approval_level, urgency, risk_score, context, status,
	escalation_tier, idempotency_key, acknowledged_by, acknowledged_at, created_at, updated_at`

func scanAlert(row pgx.Row) (*Alert, error) {
	var a Alert
	var ctxJSON []byte
	err := row.Scan(&a.ID, &a.Template, &a.ApprovalLevel, &a.Urgency, &a.RiskScore, &ctxJSON,
		&a.Status, &a.EscalationTier, &a.IdempotencyKey, &a.AcknowledgedBy, &a.AcknowledgedAt,
		&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(ctxJSON, &a.Context); err != nil {
		return nil, fmt.Errorf("decode alert context: %w", err)
	}
	return &a, nil
}

func (r *alertRepoPG) Create(ctx context.Context, a *Alert) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	ctxJSON, err := json.Marshal(a.Context)
	if err != nil {
		return fmt.Errorf("encode alert context: %w", err)
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO alert (id, template, approval_level, urgency, risk_score, context, status,
			escalation_tier, idempotency_key, acknowledged_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		a.ID, a.Template, a.ApprovalLevel, a.Urgency, a.RiskScore, ctxJSON, a.Status,
		a.EscalationTier, a.IdempotencyKey, a.AcknowledgedBy).
		Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (r *alertRepoPG) Update(ctx context.Context, a *Alert) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE alert SET status=$2, escalation_tier=$3, approval_level=$4,
			acknowledged_by=$5, acknowledged_at=$6, updated_at=now()
		WHERE id=$1`,
		a.ID, a.Status, a.EscalationTier, a.ApprovalLevel, a.AcknowledgedBy, a.AcknowledgedAt)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *alertRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Alert, error) {
	return scanAlert(r.pool.QueryRow(ctx, `SELECT `+alertCols+` FROM alert WHERE id = $1`, id))
}

func (r *alertRepoPG) List(ctx context.Context, status AlertStatus, limit, offset int) ([]*Alert, int, error) {
	where := ``
	args := []interface{}{limit, offset}
	if status != "" {
		where = ` WHERE status = $3`
		args = append(args, status)
	}
	var total int
	countArgs := args[2:]
	countWhere := ``
	if status != "" {
		countWhere = ` WHERE status = $1`
	}
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM alert`+countWhere, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count alerts: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT `+alertCols+` FROM alert`+where+`
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func (r *alertRepoPG) Pending(ctx context.Context, limit int) ([]*Alert, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+alertCols+` FROM alert
		WHERE status = $1 ORDER BY created_at LIMIT $2`, AlertPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending alerts: %w", err)
	}
	defer rows.Close()

	var out []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type recipientRepoPG struct{ pool *pgxpool.Pool }

func NewRecipientRepoPG(pool *pgxpool.Pool) RecipientRepository {
	return &recipientRepoPG{pool: pool}
}

const recipientCols = `id, name, role, preferred_channel, email, phone, push_token, webhook_url, active, created_at`

func scanRecipient(row pgx.Row) (*Recipient, error) {
	var rc Recipient
	err := row.Scan(&rc.ID, &rc.Name, &rc.Role, &rc.PreferredChannel, &rc.Email, &rc.Phone,
		&rc.PushToken, &rc.WebhookURL, &rc.Active, &rc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &rc, err
}

func (r *recipientRepoPG) Create(ctx context.Context, rc *Recipient) error {
	if rc.ID == uuid.Nil {
		rc.ID = uuid.New()
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO recipient (id, name, role, preferred_channel, email, phone, push_token, webhook_url, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at`,
		rc.ID, rc.Name, rc.Role, rc.PreferredChannel, rc.Email, rc.Phone, rc.PushToken,
		rc.WebhookURL, rc.Active).
		Scan(&rc.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert recipient: %w", err)
	}
	return nil
}

func (r *recipientRepoPG) Update(ctx context.Context, rc *Recipient) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE recipient SET name=$2, role=$3, preferred_channel=$4, email=$5, phone=$6,
			push_token=$7, webhook_url=$8, active=$9
		WHERE id=$1`,
		rc.ID, rc.Name, rc.Role, rc.PreferredChannel, rc.Email, rc.Phone, rc.PushToken,
		rc.WebhookURL, rc.Active)
	if err != nil {
		return fmt.Errorf("update recipient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *recipientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Recipient, error) {
	return scanRecipient(r.pool.QueryRow(ctx, `SELECT `+recipientCols+` FROM recipient WHERE id = $1`, id))
}

func (r *recipientRepoPG) List(ctx context.Context, limit, offset int) ([]*Recipient, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM recipient`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count recipients: %w", err)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+recipientCols+` FROM recipient
		ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	var out []*Recipient
	for rows.Next() {
		rc, err := scanRecipient(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rc)
	}
	return out, total, rows.Err()
}

func (r *recipientRepoPG) ListActiveByRoles(ctx context.Context, roles []string) ([]*Recipient, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+recipientCols+` FROM recipient
		WHERE active AND role = ANY($1) ORDER BY name`, roles)
	if err != nil {
		return nil, fmt.Errorf("list recipients by role: %w", err)
	}
	defer rows.Close()

	var out []*Recipient
	for rows.Next() {
		rc, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

type deliveryRepoPG struct{ pool *pgxpool.Pool }

func NewDeliveryRepoPG(pool *pgxpool.Pool) DeliveryRepository {
	return &deliveryRepoPG{pool: pool}
}

func (r *deliveryRepoPG) Create(ctx context.Context, d *Delivery) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO delivery (id, alert_id, recipient_id, channel, status, attempts, transport_id, error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at`,
		d.ID, d.AlertID, d.RecipientID, d.Channel, d.Status, d.Attempts, d.TransportID, d.Error).
		Scan(&d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

func (r *deliveryRepoPG) ListByAlert(ctx context.Context, alertID uuid.UUID) ([]*Delivery, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, alert_id, recipient_id, channel, status, attempts, transport_id, error, created_at
		FROM delivery WHERE alert_id = $1 ORDER BY created_at`, alertID)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var out []*Delivery
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.ID, &d.AlertID, &d.RecipientID, &d.Channel, &d.Status,
			&d.Attempts, &d.TransportID, &d.Error, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (r *deliveryRepoPG) HasAccepted(ctx context.Context, alertID, recipientID uuid.UUID, ch notification.Channel) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM delivery
			WHERE alert_id = $1 AND recipient_id = $2 AND channel = $3 AND status = $4
		)`, alertID, recipientID, ch, DeliveryAccepted).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check accepted delivery: %w", err)
	}
	return exists, nil
}
