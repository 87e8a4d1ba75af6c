package notification

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// MockTransport is a test double for Transport. It records every call and can
// be configured to fail the first N sends per idempotency key, which is how
// the router's retry behavior is exercised.
type MockTransport struct {
	mu           sync.Mutex
	calls        []Message
	failuresLeft map[string]int
	ShouldFail   bool
	FailError    string
}

// NewMockTransport creates a MockTransport that accepts everything.
func NewMockTransport() *MockTransport {
	return &MockTransport{failuresLeft: make(map[string]int)}
}

// FailFirst makes the next n sends carrying the given idempotency key fail.
func (m *MockTransport) FailFirst(idempotencyKey string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failuresLeft[idempotencyKey] = n
}

// Send records the call and optionally returns an error.
func (m *MockTransport) Send(_ context.Context, msg Message) (Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, msg)

	if left := m.failuresLeft[msg.IdempotencyKey]; left > 0 {
		m.failuresLeft[msg.IdempotencyKey] = left - 1
		return Receipt{}, errors.New("transient transport failure")
	}
	if m.ShouldFail {
		msgErr := m.FailError
		if msgErr == "" {
			msgErr = "transport failure"
		}
		return Receipt{}, errors.New(msgErr)
	}
	return Receipt{Accepted: true, TransportID: uuid.New().String()}, nil
}

// Calls returns a copy of recorded messages.
func (m *MockTransport) Calls() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of recorded sends.
func (m *MockTransport) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
