package core_test

import (
	"MarginLedger/internal/core"
	"MarginLedger/internal/observability"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeCommandLog struct {
	seen    map[string]bool
	lookups int
	err     error
}

func newFakeCommandLog() *fakeCommandLog {
	return &fakeCommandLog{seen: make(map[string]bool)}
}

func (f *fakeCommandLog) IsDuplicate(_ context.Context, kind, id string) (bool, error) {
	f.lookups++
	if f.err != nil {
		return false, f.err
	}
	return f.seen[kind+":"+id], nil
}

func (f *fakeCommandLog) Record(_ context.Context, kind, id string) error {
	f.seen[kind+":"+id] = true
	return nil
}

func TestIdempotencyLRU_Eviction(t *testing.T) {
	lru := core.NewIdempotencyLRU(3)
	for i := 0; i < 5; i++ {
		lru.Add(fmt.Sprintf("k%d", i))
	}
	if lru.Size() != 3 {
		t.Errorf("size: got %d, want 3", lru.Size())
	}
	if lru.Evictions() != 2 {
		t.Errorf("evictions: got %d, want 2", lru.Evictions())
	}
	if lru.Contains("k0") || lru.Contains("k1") {
		t.Error("oldest keys should be evicted")
	}
	if !lru.Contains("k4") {
		t.Error("newest key missing")
	}
}

func TestIdempotencyLRU_ContainsPromotes(t *testing.T) {
	lru := core.NewIdempotencyLRU(2)
	lru.Add("a")
	lru.Add("b")
	lru.Contains("a")
	lru.Add("c")

	if !lru.Contains("a") {
		t.Error("promoted key was evicted")
	}
	if lru.Contains("b") {
		t.Error("least recently used key should be evicted")
	}
}

func TestIdempotencyChecker_TwoTiers(t *testing.T) {
	ctx := context.Background()
	log := newFakeCommandLog()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	ic := core.NewIdempotencyChecker(16, log, metrics)

	if dup, err := ic.IsDuplicate(ctx, "settle", "c1"); err != nil || dup {
		t.Fatalf("fresh: got dup=%v err=%v", dup, err)
	}
	if err := ic.MarkProcessed(ctx, "settle", "c1"); err != nil {
		t.Fatal(err)
	}

	lookups := log.lookups
	if dup, _ := ic.IsDuplicate(ctx, "settle", "c1"); !dup {
		t.Error("processed command not detected")
	}
	if log.lookups != lookups {
		t.Error("LRU hit should not reach the command log")
	}

	// Known only to the durable tier, as after a restart.
	log.seen["deposit:c2"] = true
	if dup, _ := ic.IsDuplicate(ctx, "deposit", "c2"); !dup {
		t.Error("tier 2 duplicate not detected")
	}
	if !ic.LRU().Contains("deposit:c2") {
		t.Error("tier 2 hit should populate the LRU")
	}

	if got := promtest.ToFloat64(metrics.CommandDuplicates.WithLabelValues("settle", "lru")); got != 1 {
		t.Errorf("lru duplicates: got %v, want 1", got)
	}
	if got := promtest.ToFloat64(metrics.CommandDuplicates.WithLabelValues("deposit", "postgres")); got != 1 {
		t.Errorf("postgres duplicates: got %v, want 1", got)
	}
}

func TestIdempotencyChecker_Tier2ErrorSurfaces(t *testing.T) {
	log := newFakeCommandLog()
	log.err = errors.New("connection refused")
	ic := core.NewIdempotencyChecker(16, log, nil)

	if _, err := ic.IsDuplicate(context.Background(), "settle", "c1"); err == nil {
		t.Error("expected tier 2 error to surface")
	}
}

func TestIdempotencyChecker_Warm(t *testing.T) {
	ic := core.NewIdempotencyChecker(16, nil, nil)
	ic.Warm([]string{"settle:a", "deposit:b"})

	if dup, _ := ic.IsDuplicate(context.Background(), "deposit", "b"); !dup {
		t.Error("warmed key not detected")
	}
	if dup, _ := ic.IsDuplicate(context.Background(), "settle", "b"); dup {
		t.Error("kinds must not collide")
	}
}
