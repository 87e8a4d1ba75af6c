package notification

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTemplateEngine_Render(t *testing.T) {
	e := NewTemplateEngine()
	subject, body, err := e.Render("referral-review", map[string]string{
		"case_id":        "REF-42",
		"confidence":     "0.61",
		"weakest_factor": "insurance",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subject != "Referral REF-42 needs review" {
		t.Errorf("unexpected subject %q", subject)
	}
	if !strings.Contains(body, "0.61") || !strings.Contains(body, "insurance") {
		t.Errorf("unexpected body %q", body)
	}
}

func TestTemplateEngine_UnknownTemplate(t *testing.T) {
	e := NewTemplateEngine()
	if _, _, err := e.Render("nope", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestTemplateEngine_MissingKeysLeftAsIs(t *testing.T) {
	e := NewTemplateEngine()
	subject, _, err := e.Render("qa-flag", map[string]string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(subject, "{{case_id}}") {
		t.Errorf("expected unfilled placeholder preserved, got %q", subject)
	}
}

func TestRegistry_RoutesByChannel(t *testing.T) {
	reg := NewRegistry()
	email := NewMockTransport()
	sms := NewMockTransport()
	reg.Register(ChannelEmail, email)
	reg.Register(ChannelSMS, sms)

	_, err := reg.Send(context.Background(), Message{Channel: ChannelSMS, Recipient: "+1555", Body: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if email.CallCount() != 0 || sms.CallCount() != 1 {
		t.Fatalf("expected SMS transport to receive the call (email=%d sms=%d)", email.CallCount(), sms.CallCount())
	}
}

func TestRegistry_UnknownChannel(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Send(context.Background(), Message{Channel: ChannelPush})
	if err != ErrNoTransport {
		t.Fatalf("expected ErrNoTransport, got %v", err)
	}
}

func TestMockTransport_FailFirst(t *testing.T) {
	m := NewMockTransport()
	m.FailFirst("key-1", 2)
	msg := Message{Channel: ChannelEmail, IdempotencyKey: "key-1"}

	for i := 0; i < 2; i++ {
		if _, err := m.Send(context.Background(), msg); err == nil {
			t.Fatalf("attempt %d: expected failure", i+1)
		}
	}
	r, err := m.Send(context.Background(), msg)
	if err != nil || !r.Accepted {
		t.Fatalf("expected third attempt to succeed, got %v", err)
	}
}

func TestWebhookTransport_SignsAndDelivers(t *testing.T) {
	var gotSig, gotKey string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotKey = r.Header.Get("X-Idempotency-Key")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := NewWebhookTransport("s3cret", srv.Client())
	r, err := tr.Send(context.Background(), Message{
		Channel:        ChannelWebhook,
		Recipient:      srv.URL,
		Subject:        "hello",
		Body:           "world",
		IdempotencyKey: "alert:rcpt:webhook",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Accepted {
		t.Fatal("expected accepted receipt")
	}
	if gotKey != "alert:rcpt:webhook" {
		t.Errorf("expected idempotency key header, got %q", gotKey)
	}
	sig, ok := strings.CutPrefix(gotSig, "sha256=")
	if !ok {
		t.Fatalf("expected sha256= signature prefix, got %q", gotSig)
	}
	if !VerifySignature(gotBody, "s3cret", sig) {
		t.Error("signature did not verify against delivered payload")
	}
}

func TestWebhookTransport_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := NewWebhookTransport("s3cret", srv.Client())
	if _, err := tr.Send(context.Background(), Message{Channel: ChannelWebhook, Recipient: srv.URL}); err == nil {
		t.Fatal("expected error on 502")
	}
}
