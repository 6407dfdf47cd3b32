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

func newGate(t *testing.T, limits types.RiskLimitsConfig) *risk.Gate {
	t.Helper()
	logger := zap.NewNop()
	store, err := eventstore.New(logger, filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	proj := readmodel.New(logger, store)
	if err := proj.Hydrate(context.Background()); err != nil {
		t.Fatalf("hydrate: %v", err)
	}

	tz, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return risk.NewGate(logger, store, proj, limits, tz)
}

func TestCheckRiskAllowsWithinLimits(t *testing.T) {
	gate := newGate(t, types.RiskLimitsConfig{MaxDailyTrades: 5})

	result := gate.CheckRisk(risk.OrderIntent{Symbol: "BTC/USDT", Side: types.SideBuy, Qty: dec("1"), Entry: dec("100")})
	if !result.Allowed {
		t.Fatalf("expected order allowed, got reason %q", result.Reason)
	}
}

func TestRecordTradeLocksOnDailyLossBreach(t *testing.T) {
	gate := newGate(t, types.RiskLimitsConfig{MaxDailyLossPct: dec("0.03"), MaxDailyTrades: 100})

	gate.RecordTrade(context.Background(), dec("-400"), dec("10000")) // 4% loss, exceeds 3%

	result := gate.CheckRisk(risk.OrderIntent{Symbol: "BTC/USDT", Side: types.SideBuy, Qty: dec("1"), Entry: dec("100")})
	if result.Allowed {
		t.Fatal("expected session locked after daily loss breach")
	}
	if result.Reason != "daily_loss_exceeded" {
		t.Errorf("Reason = %q, want daily_loss_exceeded", result.Reason)
	}

	snap := gate.Snapshot()
	if !snap.Locked || snap.LockReason != "daily_loss_exceeded" {
		t.Errorf("snapshot = %+v, want locked with daily_loss_exceeded", snap)
	}
}

func TestRecordTradeLocksOnConsecutiveLosses(t *testing.T) {
	gate := newGate(t, types.RiskLimitsConfig{ConsecutiveLossLimit: 2, MaxDailyTrades: 100})

	gate.RecordTrade(context.Background(), dec("-10"), dec("10000"))
	gate.RecordTrade(context.Background(), dec("-10"), dec("10000"))

	snap := gate.Snapshot()
	if !snap.Locked || snap.LockReason != "consecutive_losses_exceeded" {
		t.Errorf("snapshot = %+v, want locked with consecutive_losses_exceeded", snap)
	}
}

func TestRecordTradeResetsConsecutiveLossesOnWin(t *testing.T) {
	gate := newGate(t, types.RiskLimitsConfig{ConsecutiveLossLimit: 2, MaxDailyTrades: 100})

	gate.RecordTrade(context.Background(), dec("-10"), dec("10000"))
	gate.RecordTrade(context.Background(), dec("10"), dec("10000"))
	gate.RecordTrade(context.Background(), dec("-10"), dec("10000"))

	if gate.Snapshot().Locked {
		t.Fatal("session should not be locked: a win reset the consecutive-loss streak")
	}
}

func TestCheckRiskVetoesAtMaxDailyTrades(t *testing.T) {
	gate := newGate(t, types.RiskLimitsConfig{MaxDailyTrades: 1})

	gate.RecordTrade(context.Background(), dec("10"), dec("10000"))

	result := gate.CheckRisk(risk.OrderIntent{Symbol: "BTC/USDT", Side: types.SideBuy, Qty: dec("1"), Entry: dec("100")})
	if result.Allowed {
		t.Fatal("expected veto at max daily trades")
	}
	if result.Reason != "max_daily_trades_exceeded" {
		t.Errorf("Reason = %q, want max_daily_trades_exceeded", result.Reason)
	}
}

func TestUnlockReopensSession(t *testing.T) {
	gate := newGate(t, types.RiskLimitsConfig{MaxDailyLossPct: dec("0.01"), MaxDailyTrades: 100})
	gate.RecordTrade(context.Background(), dec("-200"), dec("10000"))
	if !gate.Snapshot().Locked {
		t.Fatal("expected session locked")
	}

	gate.Unlock()
	if gate.Snapshot().Locked {
		t.Fatal("expected session unlocked after manual override")
	}
}
