package counter

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_IncrAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	v, err := s.Incr(ctx, "k")
	if err != nil || v != 1 {
		t.Fatalf("expected 1, got %d (%v)", v, err)
	}
	v, _ = s.Incr(ctx, "k")
	if v != 2 {
		t.Fatalf("expected 2, got %d", v)
	}
	got, _ := s.Get(ctx, "k")
	if got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	missing, _ := s.Get(ctx, "absent")
	if missing != 0 {
		t.Fatalf("expected 0 for absent key, got %d", missing)
	}
}

func TestMemoryStore_ConcurrentIncrements(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const workers = 50
	const perWorker = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				s.Incr(ctx, "shared")
			}
		}()
	}
	wg.Wait()

	got, _ := s.Get(ctx, "shared")
	if got != workers*perWorker {
		t.Fatalf("expected %d, got %d: lost increments", workers*perWorker, got)
	}
}

func TestKeyHelpers(t *testing.T) {
	ts := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	if got := DayKey(ts); got != "referrals:day:2026-03-04" {
		t.Errorf("unexpected day key %q", got)
	}
	if got := WeekKey(ts); got != "referrals:week:2026-10" {
		t.Errorf("unexpected week key %q", got)
	}
}

func TestDayKey_DistinctDays(t *testing.T) {
	a := DayKey(time.Date(2026, 3, 4, 23, 59, 0, 0, time.UTC))
	b := DayKey(time.Date(2026, 3, 5, 0, 1, 0, 0, time.UTC))
	if a == b {
		t.Fatal("expected distinct keys for distinct days")
	}
}
