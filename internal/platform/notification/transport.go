// Package notification provides the channel transports the alert router fans
// out over: email, SMS, push, and signed webhooks. Transports implement a
// single call contract; delivery policy (retries, idempotency, escalation)
// lives with the router in the alerting domain.
package notification

import (
	"context"
	"errors"
	"sync"
)

// Channel identifies a delivery channel.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelPush    Channel = "push"
	ChannelWebhook Channel = "webhook"
)

// ValidChannel reports whether c is a known channel.
func ValidChannel(c Channel) bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelWebhook:
		return true
	}
	return false
}

// Message is one rendered notification bound for one recipient address.
type Message struct {
	Channel        Channel
	Recipient      string // channel-specific address: email, phone, device token, URL
	Subject        string
	Body           string
	IdempotencyKey string
}

// Receipt is the transport's acknowledgment of a send.
type Receipt struct {
	Accepted    bool   `json:"accepted"`
	TransportID string `json:"transport_id,omitempty"`
}

// Transport delivers messages over a single channel.
type Transport interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}

// ErrNoTransport is returned when no transport is registered for a channel.
var ErrNoTransport = errors.New("no transport registered for channel")

// Registry maps channels to transports.
type Registry struct {
	mu         sync.RWMutex
	transports map[Channel]Transport
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{transports: make(map[Channel]Transport)}
}

// Register binds a transport to a channel, replacing any previous binding.
func (r *Registry) Register(ch Channel, t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[ch] = t
}

// Send routes the message to the transport registered for its channel.
func (r *Registry) Send(ctx context.Context, msg Message) (Receipt, error) {
	r.mu.RLock()
	t, ok := r.transports[msg.Channel]
	r.mu.RUnlock()
	if !ok {
		return Receipt{}, ErrNoTransport
	}
	return t.Send(ctx, msg)
}

// Channels returns the channels that currently have a transport.
func (r *Registry) Channels() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Channel, 0, len(r.transports))
	for ch := range r.transports {
		out = append(out, ch)
	}
	return out
}
