package alerting

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careroute/referral-engine/internal/domain/rules"
	"github.com/careroute/referral-engine/internal/platform/events"
	"github.com/careroute/referral-engine/internal/platform/notification"
)

type mockAlertRepo struct {
	mu     sync.Mutex
	alerts map[uuid.UUID]*Alert
}

func newMockAlertRepo() *mockAlertRepo {
	return &mockAlertRepo{alerts: make(map[uuid.UUID]*Alert)}
}

func (m *mockAlertRepo) Create(_ context.Context, a *Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	cp := *a
	m.alerts[a.ID] = &cp
	return nil
}

func (m *mockAlertRepo) Update(_ context.Context, a *Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[a.ID]; !ok {
		return ErrNotFound
	}
	cp := *a
	m.alerts[a.ID] = &cp
	return nil
}

func (m *mockAlertRepo) GetByID(_ context.Context, id uuid.UUID) (*Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockAlertRepo) List(_ context.Context, status AlertStatus, limit, offset int) ([]*Alert, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Alert
	for _, a := range m.alerts {
		if status == "" || a.Status == status {
			out = append(out, a)
		}
	}
	return out, len(out), nil
}

func (m *mockAlertRepo) Pending(_ context.Context, limit int) ([]*Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Alert
	for _, a := range m.alerts {
		if a.Status == AlertPending {
			out = append(out, a)
		}
	}
	return out, nil
}

type mockRecipientRepo struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*Recipient
}

func newMockRecipientRepo() *mockRecipientRepo {
	return &mockRecipientRepo{byID: make(map[uuid.UUID]*Recipient)}
}

func (m *mockRecipientRepo) Create(_ context.Context, r *Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	m.byID[r.ID] = r
	return nil
}

func (m *mockRecipientRepo) Update(_ context.Context, r *Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[r.ID]; !ok {
		return ErrNotFound
	}
	m.byID[r.ID] = r
	return nil
}

func (m *mockRecipientRepo) GetByID(_ context.Context, id uuid.UUID) (*Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

func (m *mockRecipientRepo) List(_ context.Context, limit, offset int) ([]*Recipient, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Recipient
	for _, r := range m.byID {
		out = append(out, r)
	}
	return out, len(out), nil
}

func (m *mockRecipientRepo) ListActiveByRoles(_ context.Context, roles []string) ([]*Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Recipient
	for _, r := range m.byID {
		if !r.Active {
			continue
		}
		for _, role := range roles {
			if r.Role == role {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}

type mockDeliveryRepo struct {
	mu         sync.Mutex
	deliveries []*Delivery
}

func (m *mockDeliveryRepo) Create(_ context.Context, d *Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	m.deliveries = append(m.deliveries, d)
	return nil
}

func (m *mockDeliveryRepo) ListByAlert(_ context.Context, alertID uuid.UUID) ([]*Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Delivery
	for _, d := range m.deliveries {
		if d.AlertID == alertID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockDeliveryRepo) HasAccepted(_ context.Context, alertID, recipientID uuid.UUID, ch notification.Channel) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.deliveries {
		if d.AlertID == alertID && d.RecipientID == recipientID && d.Channel == ch && d.Status == DeliveryAccepted {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockDeliveryRepo) accepted(alertID uuid.UUID) []*Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Delivery
	for _, d := range m.deliveries {
		if d.AlertID == alertID && d.Status == DeliveryAccepted {
			out = append(out, d)
		}
	}
	return out
}

type routerFixture struct {
	router     *Router
	alerts     *mockAlertRepo
	recipients *mockRecipientRepo
	deliveries *mockDeliveryRepo
	transport  *notification.MockTransport
	escalator  *Escalator
	bus        *events.Bus
}

// testConfigs mirrors the default policy with windows short enough to fire
// inside a test.
func testConfigs(window time.Duration) map[rules.Urgency]UrgencyConfig {
	return map[rules.Urgency]UrgencyConfig{
		rules.UrgencyStat: {
			Channels:         []notification.Channel{notification.ChannelSMS, notification.ChannelEmail},
			EscalationWindow: window,
			RetryAttempts:    3,
		},
		rules.UrgencyUrgent: {
			Channels:         []notification.Channel{notification.ChannelSMS, notification.ChannelEmail},
			EscalationWindow: window,
			RetryAttempts:    2,
		},
		rules.UrgencyRoutine: {
			Channels:         []notification.Channel{notification.ChannelEmail},
			EscalationWindow: window,
			RetryAttempts:    1,
		},
	}
}

func newRouterFixture(t *testing.T, window time.Duration) *routerFixture {
	t.Helper()
	f := &routerFixture{
		alerts:     newMockAlertRepo(),
		recipients: newMockRecipientRepo(),
		deliveries: &mockDeliveryRepo{},
		transport:  notification.NewMockTransport(),
		escalator:  NewEscalator(zerolog.Nop()),
		bus:        events.NewBus(zerolog.Nop()),
	}
	t.Cleanup(f.escalator.Stop)

	registry := notification.NewRegistry()
	registry.Register(notification.ChannelEmail, f.transport)
	registry.Register(notification.ChannelSMS, f.transport)

	f.router = NewRouter(f.alerts, f.recipients, f.deliveries, registry,
		notification.NewTemplateEngine(), f.escalator, f.bus, 4, zerolog.Nop()).
		WithConfigs(testConfigs(window))
	return f
}

func (f *routerFixture) addRecipient(t *testing.T, name, role string, preferred notification.Channel) *Recipient {
	t.Helper()
	r := &Recipient{
		Name:             name,
		Role:             role,
		PreferredChannel: preferred,
		Email:            name + "@example.org",
		Phone:            "+15550100",
		Active:           true,
	}
	if err := f.recipients.Create(context.Background(), r); err != nil {
		t.Fatalf("create recipient: %v", err)
	}
	return r
}

// waitAccepted polls until the alert has exactly want accepted deliveries.
// Raise hands delivery off to the background, so tests must wait for it.
func (f *routerFixture) waitAccepted(t *testing.T, alertID uuid.UUID, want int) []*Delivery {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(f.deliveries.accepted(alertID)) < want {
		if time.Now().After(deadline) {
			t.Fatalf("accepted deliveries = %d, want %d", len(f.deliveries.accepted(alertID)), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	accepted := f.deliveries.accepted(alertID)
	if len(accepted) != want {
		t.Fatalf("accepted deliveries = %d, want %d", len(accepted), want)
	}
	return accepted
}

func (f *routerFixture) waitRecords(t *testing.T, alertID uuid.UUID, want int) []*Delivery {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		all, _ := f.deliveries.ListByAlert(context.Background(), alertID)
		if len(all) >= want {
			return all
		}
		if time.Now().After(deadline) {
			t.Fatalf("delivery records = %d, want %d", len(all), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func routineAlert() *Alert {
	return &Alert{
		Template:      "referral-review",
		ApprovalLevel: LevelQARN,
		Urgency:       rules.UrgencyRoutine,
		Context:       map[string]interface{}{"patient_ref": "patient-001"},
	}
}

func TestRaiseDeliversToPreferredChannel(t *testing.T) {
	f := newRouterFixture(t, time.Hour)
	f.addRecipient(t, "qa-nurse", string(LevelQARN), notification.ChannelEmail)
	// Wrong role: must not receive anything.
	f.addRecipient(t, "director", string(LevelClinicalDirector), notification.ChannelEmail)

	a := routineAlert()
	if err := f.router.Raise(context.Background(), a); err != nil {
		t.Fatalf("Raise: %v", err)
	}
	if a.Status != AlertPending {
		t.Errorf("status = %s, want pending", a.Status)
	}
	accepted := f.waitAccepted(t, a.ID, 1)
	if accepted[0].Channel != notification.ChannelEmail {
		t.Errorf("channel = %s, want email", accepted[0].Channel)
	}
	if !f.escalator.Armed(a.ID) {
		t.Error("escalation timer not armed")
	}
}

func TestRaiseStatUsesAllChannelsAndCompliance(t *testing.T) {
	f := newRouterFixture(t, time.Hour)
	f.addRecipient(t, "qa-nurse", string(LevelQARN), notification.ChannelEmail)
	f.addRecipient(t, "compliance-officer", RoleCompliance, notification.ChannelEmail)

	a := routineAlert()
	a.Urgency = rules.UrgencyStat
	if err := f.router.Raise(context.Background(), a); err != nil {
		t.Fatalf("Raise: %v", err)
	}
	// 2 recipients × 2 configured channels.
	f.waitAccepted(t, a.ID, 4)
}

func TestRaiseLowRiskAddsCompliance(t *testing.T) {
	f := newRouterFixture(t, time.Hour)
	f.addRecipient(t, "qa-nurse", string(LevelQARN), notification.ChannelEmail)
	f.addRecipient(t, "compliance-officer", RoleCompliance, notification.ChannelEmail)

	a := routineAlert()
	risk := 0.3
	a.RiskScore = &risk
	if err := f.router.Raise(context.Background(), a); err != nil {
		t.Fatalf("Raise: %v", err)
	}
	f.waitAccepted(t, a.ID, 2) // qa + compliance
}

func TestSendRetriesTransientFailures(t *testing.T) {
	f := newRouterFixture(t, time.Hour)
	recip := f.addRecipient(t, "qa-nurse", string(LevelQARN), notification.ChannelEmail)

	a := routineAlert()
	a.ID = uuid.New()
	key := fmt.Sprintf("%s:%s:%s", a.ID, recip.ID, notification.ChannelEmail)
	f.transport.FailFirst(key, 1)

	if err := f.router.Raise(context.Background(), a); err != nil {
		t.Fatalf("Raise: %v", err)
	}
	accepted := f.waitAccepted(t, a.ID, 1)
	if accepted[0].Attempts != 2 {
		t.Errorf("attempts = %d, want 2", accepted[0].Attempts)
	}
}

// slowTransport delays every send, standing in for a sluggish provider.
type slowTransport struct {
	delay time.Duration
	inner *notification.MockTransport
}

func (s *slowTransport) Send(ctx context.Context, msg notification.Message) (notification.Receipt, error) {
	time.Sleep(s.delay)
	return s.inner.Send(ctx, msg)
}

func TestRaiseReturnsBeforeDeliveryCompletes(t *testing.T) {
	f := newRouterFixture(t, time.Hour)
	slow := &slowTransport{delay: 300 * time.Millisecond, inner: f.transport}
	registry := notification.NewRegistry()
	registry.Register(notification.ChannelEmail, slow)
	router := NewRouter(f.alerts, f.recipients, f.deliveries, registry,
		notification.NewTemplateEngine(), f.escalator, f.bus, 4, zerolog.Nop()).
		WithConfigs(testConfigs(time.Hour))
	f.addRecipient(t, "qa-nurse", string(LevelQARN), notification.ChannelEmail)

	a := routineAlert()
	start := time.Now()
	if err := router.Raise(context.Background(), a); err != nil {
		t.Fatalf("Raise: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("Raise blocked on delivery for %v", elapsed)
	}
	if !f.escalator.Armed(a.ID) {
		t.Error("escalation timer not armed at raise time")
	}
	if got := len(f.deliveries.accepted(a.ID)); got != 0 {
		t.Fatalf("deliveries landed before the transport finished: %d", got)
	}
	f.waitAccepted(t, a.ID, 1)
}

func TestSendNeverDuplicatesAcceptedDelivery(t *testing.T) {
	f := newRouterFixture(t, time.Hour)
	f.addRecipient(t, "qa-nurse", string(LevelQARN), notification.ChannelEmail)

	a := routineAlert()
	if err := f.router.Raise(context.Background(), a); err != nil {
		t.Fatalf("Raise: %v", err)
	}
	f.waitAccepted(t, a.ID, 1)

	// Re-dispatch the same alert; the accepted key must be skipped.
	f.router.dispatch(context.Background(), a, f.router.configFor(a.Urgency))

	if got := len(f.deliveries.accepted(a.ID)); got != 1 {
		t.Fatalf("accepted deliveries = %d, want 1", got)
	}
	if f.transport.CallCount() != 1 {
		t.Errorf("transport sends = %d, want 1", f.transport.CallCount())
	}
}

func TestDeliveryFailureRecordedNotFatal(t *testing.T) {
	f := newRouterFixture(t, time.Hour)
	f.addRecipient(t, "qa-nurse", string(LevelQARN), notification.ChannelEmail)
	f.addRecipient(t, "qa-nurse-2", string(LevelQARN), notification.ChannelSMS)
	f.transport.ShouldFail = true

	a := routineAlert()
	if err := f.router.Raise(context.Background(), a); err != nil {
		t.Fatalf("Raise: %v", err)
	}
	all := f.waitRecords(t, a.ID, 2)
	for _, d := range all {
		if d.Status != DeliveryFailed {
			t.Errorf("delivery status = %s, want failed", d.Status)
		}
		if d.Error == "" {
			t.Error("failed delivery should carry the error")
		}
	}
}

func TestAcknowledgeDisarmsTimer(t *testing.T) {
	f := newRouterFixture(t, 50*time.Millisecond)
	f.addRecipient(t, "qa-nurse", string(LevelQARN), notification.ChannelEmail)
	f.addRecipient(t, "director", string(LevelClinicalDirector), notification.ChannelEmail)

	a := routineAlert()
	if err := f.router.Raise(context.Background(), a); err != nil {
		t.Fatalf("Raise: %v", err)
	}
	got, err := f.router.Acknowledge(context.Background(), a.ID, "nurse-1")
	if err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if got.Status != AlertAcknowledged || got.AcknowledgedBy != "nurse-1" {
		t.Fatalf("alert = %+v, want acknowledged by nurse-1", got)
	}
	if f.escalator.Armed(a.ID) {
		t.Error("timer still armed after acknowledgment")
	}

	// Wait past the window: no escalation may happen.
	time.Sleep(120 * time.Millisecond)
	final, _ := f.alerts.GetByID(context.Background(), a.ID)
	if final.Status != AlertAcknowledged {
		t.Errorf("status = %s, want acknowledged", final.Status)
	}
	if final.EscalationTier != 0 {
		t.Errorf("tier = %d, want 0", final.EscalationTier)
	}
}

func TestEscalationPromotesTier(t *testing.T) {
	f := newRouterFixture(t, 40*time.Millisecond)
	f.addRecipient(t, "qa-nurse", string(LevelQARN), notification.ChannelEmail)
	f.addRecipient(t, "director", string(LevelClinicalDirector), notification.ChannelEmail)
	f.addRecipient(t, "compliance-officer", RoleCompliance, notification.ChannelEmail)

	done := make(chan struct{}, 4)
	f.bus.Subscribe(events.TypeAlertEscalated, func(_ context.Context, _ events.Event) {
		done <- struct{}{}
	})

	a := routineAlert()
	if err := f.router.Raise(context.Background(), a); err != nil {
		t.Fatalf("Raise: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("escalation never fired")
	}

	got, _ := f.alerts.GetByID(context.Background(), a.ID)
	if got.Status != AlertEscalated {
		t.Fatalf("status = %s, want escalated", got.Status)
	}
	if got.EscalationTier != 1 {
		t.Fatalf("tier = %d, want 1", got.EscalationTier)
	}

	// Tier 1 on a qa_rn alert targets the clinical director plus compliance.
	// The re-dispatch runs in the timer goroutine, so poll briefly.
	deadline := time.Now().Add(time.Second)
	for {
		var directorHit, complianceHit bool
		for _, d := range f.deliveries.accepted(a.ID) {
			r, _ := f.recipients.GetByID(context.Background(), d.RecipientID)
			switch r.Role {
			case string(LevelClinicalDirector):
				directorHit = true
			case RoleCompliance:
				complianceHit = true
			}
		}
		if directorHit && complianceHit {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("escalated dispatch missing tiers: director=%v compliance=%v", directorHit, complianceHit)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEscalationTimerFiresAtMostOnce(t *testing.T) {
	f := newRouterFixture(t, 30*time.Millisecond)
	f.addRecipient(t, "qa-nurse", string(LevelQARN), notification.ChannelEmail)
	f.addRecipient(t, "director", string(LevelClinicalDirector), notification.ChannelEmail)
	f.addRecipient(t, "compliance-officer", RoleCompliance, notification.ChannelEmail)

	a := routineAlert()
	a.ApprovalLevel = LevelClinicalDirector // one tier below the ceiling
	if err := f.router.Raise(context.Background(), a); err != nil {
		t.Fatalf("Raise: %v", err)
	}
	time.Sleep(150 * time.Millisecond)

	got, _ := f.alerts.GetByID(context.Background(), a.ID)
	// clinical_director escalates once to both; the ceiling is never re-armed.
	if got.EscalationTier != 1 {
		t.Errorf("tier = %d, want 1", got.EscalationTier)
	}
	if f.escalator.Armed(a.ID) {
		t.Error("timer re-armed past the top tier")
	}
}
