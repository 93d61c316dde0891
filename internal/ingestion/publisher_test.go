package ingestion_test

import (
	"MarginLedger/internal/event"
	"MarginLedger/internal/ingestion"
	"MarginLedger/internal/observability"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func zerologNop() zerolog.Logger { return zerolog.Nop() }

type recordingSink struct {
	mu   sync.Mutex
	msgs [][]byte
	fail bool
}

func (s *recordingSink) Name() string { return "test" }
func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) Publish(_ context.Context, _ event.Envelope, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("broker down")
	}
	s.msgs = append(s.msgs, data)
	return nil
}

func runPublisher(t *testing.T, sink *recordingSink, envs ...event.Envelope) *observability.Metrics {
	t.Helper()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	in := make(chan event.Envelope, len(envs))
	for _, env := range envs {
		in <- env
	}
	close(in)

	pub := ingestion.NewOutboundPublisher(sink, in, metrics, zerologNop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pub.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return metrics
}

func TestOutboundPublisher_EncodesEnvelope(t *testing.T) {
	owner := uuid.New()
	env := event.NewEnvelope(3, owner, time.Unix(1_700_000_000, 0).UTC(), &event.CollateralDeposited{
		Denomination: "USDT", Amount: 10, BalanceAfter: 10,
	})
	env.Hash[0] = 0xab

	sink := &recordingSink{}
	metrics := runPublisher(t, sink, env)

	if len(sink.msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(sink.msgs))
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(sink.msgs[0], &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["event_type"] != "CollateralDeposited" {
		t.Errorf("event_type: got %v", decoded["event_type"])
	}
	if decoded["owner"] != owner.String() {
		t.Errorf("owner: got %v", decoded["owner"])
	}
	if h, _ := decoded["hash"].(string); len(h) != 64 || h[:2] != "ab" {
		t.Errorf("hash should be hex: got %v", decoded["hash"])
	}
	if got := promtest.ToFloat64(metrics.EventsPublished.WithLabelValues("test", "CollateralDeposited")); got != 1 {
		t.Errorf("published metric: got %v, want 1", got)
	}
}

func TestOutboundPublisher_CountsFailures(t *testing.T) {
	env := event.NewEnvelope(0, uuid.New(), time.Now(), &event.AccountOpened{})
	sink := &recordingSink{fail: true}
	metrics := runPublisher(t, sink, env, env)

	if got := promtest.ToFloat64(metrics.PublishErrors.WithLabelValues("test")); got != 2 {
		t.Errorf("errors: got %v, want 2", got)
	}
}
