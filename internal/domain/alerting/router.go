package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careroute/referral-engine/internal/domain/rules"
	"github.com/careroute/referral-engine/internal/platform/events"
	"github.com/careroute/referral-engine/internal/platform/notification"
)

const (
	sendRetryBase = 100 * time.Millisecond
	sendRetryCap  = 2 * time.Second
)

// Router resolves an alert's recipients, fans deliveries out across channels
// with bounded parallelism, and arms the escalation timer. Sends are
// idempotent per (alert, recipient, channel): a key that already has an
// accepted delivery is never sent again.
type Router struct {
	alerts      AlertRepository
	recipients  RecipientRepository
	deliveries  DeliveryRepository
	transports  *notification.Registry
	templates   *notification.TemplateEngine
	escalator   *Escalator
	bus         *events.Bus
	log         zerolog.Logger
	parallelism int
	configs     map[rules.Urgency]UrgencyConfig
	now         func() time.Time
}

func NewRouter(alerts AlertRepository, recipients RecipientRepository, deliveries DeliveryRepository,
	transports *notification.Registry, templates *notification.TemplateEngine, escalator *Escalator,
	bus *events.Bus, parallelism int, log zerolog.Logger) *Router {
	if parallelism < 1 {
		parallelism = 1
	}
	r := &Router{
		alerts:      alerts,
		recipients:  recipients,
		deliveries:  deliveries,
		transports:  transports,
		templates:   templates,
		escalator:   escalator,
		bus:         bus,
		log:         log,
		parallelism: parallelism,
		configs:     DefaultUrgencyConfigs(),
		now:         time.Now,
	}
	escalator.setHandler(r.escalate)
	return r
}

// WithConfigs overrides the urgency policy table.
func (r *Router) WithConfigs(cfgs map[rules.Urgency]UrgencyConfig) *Router {
	r.configs = cfgs
	return r
}

// Raise persists a new alert, arms its escalation timer and hands delivery
// off to the background. It returns as soon as the alert is accepted; slow
// transports never block the caller.
func (r *Router) Raise(ctx context.Context, a *Alert) error {
	if !ValidApprovalLevel(a.ApprovalLevel) {
		return fmt.Errorf("invalid approval level: %s", a.ApprovalLevel)
	}
	if !rules.ValidUrgency(a.Urgency) {
		return fmt.Errorf("invalid urgency: %s", a.Urgency)
	}
	a.Status = AlertPending
	if err := r.alerts.Create(ctx, a); err != nil {
		return err
	}
	r.bus.Publish(ctx, events.NewEvent(events.TypeAlertCreated, map[string]interface{}{
		"alert_id":       a.ID.String(),
		"urgency":        string(a.Urgency),
		"approval_level": string(a.ApprovalLevel),
	}))

	cfg := r.configFor(a.Urgency)
	r.escalator.Arm(a.ID, cfg.EscalationWindow)
	// Delivery outlives the request; the caller's context must not cancel it.
	go r.dispatch(context.Background(), a, cfg)
	return nil
}

// Acknowledge marks the alert handled and atomically disarms its escalation
// timer: an acknowledged alert is never escalated afterwards.
func (r *Router) Acknowledge(ctx context.Context, alertID uuid.UUID, by string) (*Alert, error) {
	var out *Alert
	err := r.escalator.Disarm(alertID, func() error {
		a, err := r.alerts.GetByID(ctx, alertID)
		if err != nil {
			return err
		}
		if a.Status == AlertAcknowledged {
			out = a
			return nil
		}
		now := r.now()
		a.Status = AlertAcknowledged
		a.AcknowledgedBy = by
		a.AcknowledgedAt = &now
		if err := r.alerts.Update(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

func (r *Router) configFor(u rules.Urgency) UrgencyConfig {
	if cfg, ok := r.configs[u]; ok {
		return cfg
	}
	return r.configs[rules.UrgencyRoutine]
}

// resolveRoles maps the alert's effective approval level to recipient roles,
// copying compliance for stat urgency, low risk scores and escalated alerts.
func resolveRoles(a *Alert) []string {
	level := a.ApprovalLevel
	for i := 0; i < a.EscalationTier; i++ {
		level = NextLevel(level)
	}

	var roles []string
	switch level {
	case LevelQARN:
		roles = []string{string(LevelQARN)}
	case LevelClinicalDirector:
		roles = []string{string(LevelClinicalDirector)}
	case LevelBoth:
		roles = []string{string(LevelQARN), string(LevelClinicalDirector)}
	}
	if a.Urgency == rules.UrgencyStat ||
		(a.RiskScore != nil && *a.RiskScore < riskThreshold) ||
		a.EscalationTier > 0 {
		roles = append(roles, RoleCompliance)
	}
	return roles
}

// dispatch fans the alert out to every resolved recipient. Each (recipient,
// channel) send runs independently; one failure never blocks the rest.
func (r *Router) dispatch(ctx context.Context, a *Alert, cfg UrgencyConfig) {
	roles := resolveRoles(a)
	recips, err := r.recipients.ListActiveByRoles(ctx, roles)
	if err != nil {
		r.log.Error().Err(err).Str("alert_id", a.ID.String()).Msg("recipient resolution failed")
		return
	}
	if len(recips) == 0 {
		r.log.Error().Str("alert_id", a.ID.String()).Strs("roles", roles).
			Msg("no recipients resolved for alert")
		return
	}

	subject, body := r.render(a)

	sem := make(chan struct{}, r.parallelism)
	var wg sync.WaitGroup
	for _, recip := range recips {
		for _, ch := range r.channelsFor(a, recip, cfg) {
			recip, ch := recip, ch
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				r.send(ctx, a, recip, ch, subject, body, cfg.RetryAttempts)
			}()
		}
	}
	wg.Wait()
}

// channelsFor picks the delivery channels for one recipient: every
// configured channel for stat alerts, otherwise the preferred channel when
// it is configured, else the first configured channel.
func (r *Router) channelsFor(a *Alert, recip *Recipient, cfg UrgencyConfig) []notification.Channel {
	if a.Urgency == rules.UrgencyStat {
		return cfg.Channels
	}
	for _, ch := range cfg.Channels {
		if ch == recip.PreferredChannel {
			return []notification.Channel{ch}
		}
	}
	if len(cfg.Channels) > 0 {
		return cfg.Channels[:1]
	}
	return nil
}

func (r *Router) render(a *Alert) (subject, body string) {
	data := map[string]string{
		"urgency":        string(a.Urgency),
		"approval_level": string(a.ApprovalLevel),
	}
	for k, v := range a.Context {
		if s, ok := v.(string); ok {
			data[k] = s
		} else {
			data[k] = fmt.Sprintf("%v", v)
		}
	}
	subject, body, err := r.templates.Render(a.Template, data)
	if err != nil {
		r.log.Warn().Err(err).Str("template", a.Template).Msg("template render failed")
		subject = fmt.Sprintf("[%s] referral alert", a.Urgency)
		body = fmt.Sprintf("Alert %s requires %s review.", a.ID, a.ApprovalLevel)
	}
	return subject, body
}

// send delivers to one (recipient, channel) with bounded retries. The
// delivery row records the outcome either way.
func (r *Router) send(ctx context.Context, a *Alert, recip *Recipient, ch notification.Channel, subject, body string, retries int) {
	done, err := r.deliveries.HasAccepted(ctx, a.ID, recip.ID, ch)
	if err != nil {
		r.log.Error().Err(err).Msg("delivery dedupe check failed")
	}
	if done {
		return
	}

	addr := recip.AddressFor(ch)
	if addr == "" {
		r.recordDelivery(ctx, a, recip, ch, 0, notification.Receipt{}, fmt.Errorf("recipient has no %s address", ch))
		return
	}

	msg := notification.Message{
		Channel:        ch,
		Recipient:      addr,
		Subject:        subject,
		Body:           body,
		IdempotencyKey: fmt.Sprintf("%s:%s:%s", a.ID, recip.ID, ch),
	}

	var receipt notification.Receipt
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if sleepErr := sleepCtx(ctx, sendBackoff(attempt)); sleepErr != nil {
				lastErr = sleepErr
				break
			}
		}
		attempts++
		receipt, lastErr = r.transports.Send(ctx, msg)
		if lastErr == nil && receipt.Accepted {
			break
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("transport did not accept message")
		}
	}
	r.recordDelivery(ctx, a, recip, ch, attempts, receipt, lastErr)
}

func (r *Router) recordDelivery(ctx context.Context, a *Alert, recip *Recipient, ch notification.Channel, attempts int, receipt notification.Receipt, sendErr error) {
	d := &Delivery{
		AlertID:     a.ID,
		RecipientID: recip.ID,
		Channel:     ch,
		Attempts:    attempts,
		TransportID: receipt.TransportID,
	}
	if sendErr == nil && receipt.Accepted {
		d.Status = DeliveryAccepted
	} else {
		d.Status = DeliveryFailed
		if sendErr != nil {
			d.Error = sendErr.Error()
		}
		r.log.Error().Err(sendErr).
			Str("alert_id", a.ID.String()).
			Str("recipient", recip.Name).
			Str("channel", string(ch)).
			Msg("alert delivery failed")
	}
	if err := r.deliveries.Create(ctx, d); err != nil {
		r.log.Error().Err(err).Msg("record delivery failed")
		return
	}
	if d.Status == DeliveryAccepted {
		r.bus.Publish(ctx, events.NewEvent(events.TypeAlertDelivered, map[string]interface{}{
			"alert_id":     a.ID.String(),
			"recipient_id": recip.ID.String(),
			"channel":      string(ch),
		}))
	}
}

// escalate is the escalation timer callback: promote the alert one approval
// tier and re-dispatch. Runs under the escalator's per-alert arbitration, so
// it never races an acknowledgment.
func (r *Router) escalate(ctx context.Context, alertID uuid.UUID) {
	a, err := r.alerts.GetByID(ctx, alertID)
	if err != nil {
		r.log.Error().Err(err).Str("alert_id", alertID.String()).Msg("escalation load failed")
		return
	}
	if a.Status == AlertAcknowledged {
		return
	}
	a.Status = AlertEscalated
	a.EscalationTier++
	if err := r.alerts.Update(ctx, a); err != nil {
		r.log.Error().Err(err).Str("alert_id", alertID.String()).Msg("escalation update failed")
		return
	}
	r.bus.Publish(ctx, events.NewEvent(events.TypeAlertEscalated, map[string]interface{}{
		"alert_id": a.ID.String(),
		"tier":     a.EscalationTier,
	}))
	r.log.Warn().
		Str("alert_id", a.ID.String()).
		Int("tier", a.EscalationTier).
		Msg("alert escalated")

	cfg := r.configFor(a.Urgency)
	r.dispatch(ctx, a, cfg)

	level := a.ApprovalLevel
	for i := 0; i < a.EscalationTier; i++ {
		level = NextLevel(level)
	}
	if level != LevelBoth {
		r.escalator.Arm(a.ID, cfg.EscalationWindow)
	}
}

// RearmPending re-creates escalation timers for alerts that were still
// pending when the process last stopped, so a restart never strands an
// unacknowledged alert.
func (r *Router) RearmPending(ctx context.Context) error {
	pending, err := r.alerts.Pending(ctx, 1000)
	if err != nil {
		return err
	}
	now := r.now()
	for _, a := range pending {
		cfg := r.configFor(a.Urgency)
		remaining := cfg.EscalationWindow - now.Sub(a.UpdatedAt)
		if remaining < time.Second {
			remaining = time.Second
		}
		r.escalator.Arm(a.ID, remaining)
	}
	if len(pending) > 0 {
		r.log.Info().Int("count", len(pending)).Msg("re-armed escalation timers for pending alerts")
	}
	return nil
}

func sendBackoff(attempt int) time.Duration {
	d := sendRetryBase << (attempt - 1)
	if d > sendRetryCap {
		return sendRetryCap
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
