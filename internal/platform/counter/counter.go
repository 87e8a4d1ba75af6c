// Package counter tracks referral intake volume: daily and weekly totals and
// per-staff caseloads. The capacity scorer reads utilization from here, and
// the intake pipeline increments it once per accepted case, so the store must
// increment atomically under concurrent scoring.
package counter

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store is the atomic counter backend. Keys are opaque strings produced by
// the key helpers below.
type Store interface {
	// Incr atomically increments the key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// Get returns the current value of the key (0 when absent).
	Get(ctx context.Context, key string) (int64, error)
}

// DayKey returns the counter key for the given day.
func DayKey(t time.Time) string {
	return "referrals:day:" + t.UTC().Format("2006-01-02")
}

// WeekKey returns the counter key for the ISO week containing t.
func WeekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("referrals:week:%d-%02d", year, week)
}

// MemoryStore is a process-local Store for single-instance deployments and
// tests.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[string]int64)}
}

func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[key]++
	return s.counts[key], nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key], nil
}
