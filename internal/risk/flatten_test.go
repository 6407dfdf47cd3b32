package risk_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/atlas-desktop/atlas-bridge/internal/eventstore"
	"github.com/atlas-desktop/atlas-bridge/internal/readmodel"
	"github.com/atlas-desktop/atlas-bridge/internal/risk"
	"github.com/atlas-desktop/atlas-bridge/pkg/types"
	"go.uber.org/zap"
)

func TestNewSchedulerRejectsMalformedTime(t *testing.T) {
	logger := zap.NewNop()
	store, err := eventstore.New(logger, filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	defer store.Close()
	proj := readmodel.New(logger, store)
	gate := risk.NewGate(logger, store, proj, types.RiskLimitsConfig{}, time.UTC)

	_, err = risk.NewScheduler(logger, store, proj, gate, "not-a-time", time.UTC,
		func(ctx context.Context, symbol string) error { return nil },
		func(ctx context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected error for malformed flatten time")
	}
}

func TestNewSchedulerAcceptsHHMM(t *testing.T) {
	logger := zap.NewNop()
	store, err := eventstore.New(logger, filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	defer store.Close()
	proj := readmodel.New(logger, store)
	gate := risk.NewGate(logger, store, proj, types.RiskLimitsConfig{}, time.UTC)

	sched, err := risk.NewScheduler(logger, store, proj, gate, "15:55", time.UTC,
		func(ctx context.Context, symbol string) error { return nil },
		func(ctx context.Context) error { return nil })
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	if sched == nil {
		t.Fatal("scheduler is nil")
	}

	sched.Start(context.Background())
	sched.Stop()
}
