package risk

import (
	"context"
	"sync"
	"time"

	"github.com/atlas-desktop/atlas-bridge/internal/eventstore"
	"github.com/atlas-desktop/atlas-bridge/internal/readmodel"
	"github.com/atlas-desktop/atlas-bridge/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderIntent is the pre-trade request funneled through check_risk.
type OrderIntent struct {
	Symbol string
	Side   types.BridgeSide
	Qty    decimal.Decimal
	Entry  decimal.Decimal
}

// CheckResult is check_risk's return value.
type CheckResult struct {
	Allowed  bool
	Reason   string
	Warnings []string
}

// Gate owns the session state machine and funnels every order
// submission through check_risk before it reaches the broker session.
// The session mutex serializes every session mutation. There is no
// date-rollover timer: rollover is applied lazily, at the start of the
// next CheckRisk or RecordTrade call after the date changes.
type Gate struct {
	logger *zap.Logger
	store  *eventstore.Store
	proj   *readmodel.Projection
	tz     *time.Location

	mu      sync.Mutex
	session types.Session
}

// NewGate constructs a Gate with the given risk limits, initializing
// a fresh open session for "today" in tz.
func NewGate(logger *zap.Logger, store *eventstore.Store, proj *readmodel.Projection, limits types.RiskLimitsConfig, tz *time.Location) *Gate {
	g := &Gate{
		logger: logger.Named("risk-gate"),
		store:  store,
		proj:   proj,
		tz:     tz,
	}
	g.session = types.Session{
		Date:   time.Now().In(tz).Format("2006-01-02"),
		Limits: limits,
	}
	return g
}

// CheckRisk is the pre-trade veto. Every order submission must funnel
// through this call.
func (g *Gate) CheckRisk(intent OrderIntent) CheckResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rolloverIfNeededLocked()

	if g.session.Locked {
		reason := g.session.LockReason
		if reason == "" {
			reason = "SessionLocked"
		}
		return CheckResult{Allowed: false, Reason: reason}
	}

	if g.session.TradeCount >= g.session.Limits.MaxDailyTrades && g.session.Limits.MaxDailyTrades > 0 {
		return CheckResult{Allowed: false, Reason: "max_daily_trades_exceeded"}
	}

	return CheckResult{Allowed: true}
}

// RecordTrade updates realized P&L and consecutive-loss tracking after
// a trade closes, and applies the daily-loss / consecutive-loss
// lockout transitions.
func (g *Gate) RecordTrade(ctx context.Context, realizedPnL, equity decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rolloverIfNeededLocked()

	g.session.RealizedPnL = g.session.RealizedPnL.Add(realizedPnL)
	g.session.TradeCount++
	if realizedPnL.IsNegative() {
		g.session.ConsecutiveLosses++
	} else {
		g.session.ConsecutiveLosses = 0
	}

	if !g.session.Locked && !equity.IsZero() {
		lossPct := g.session.RealizedPnL.Neg().Div(equity)
		if g.session.RealizedPnL.IsNegative() && lossPct.GreaterThan(g.session.Limits.MaxDailyLossPct) {
			g.lockLocked(ctx, "daily_loss_exceeded")
			return
		}
	}
	if !g.session.Locked && g.session.Limits.ConsecutiveLossLimit > 0 &&
		g.session.ConsecutiveLosses >= g.session.Limits.ConsecutiveLossLimit {
		g.lockLocked(ctx, "consecutive_losses_exceeded")
	}
}

func (g *Gate) lockLocked(ctx context.Context, reason string) {
	g.session.Locked = true
	g.session.LockReason = reason
	g.logger.Warn("session locked", zap.String("reason", reason))
	if g.store != nil {
		_, _ = g.store.Append(ctx, types.EventSessionLocked, map[string]interface{}{
			"reason": reason,
			"date":   g.session.Date,
		})
	}
}

// Unlock explicitly re-opens a locked session (manual override).
func (g *Gate) Unlock() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.session.Locked = false
	g.session.LockReason = ""
}

// Snapshot returns a copy of the current session state.
func (g *Gate) Snapshot() types.Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session
}

// rolloverIfNeededLocked resets the session to a fresh `open` state
// when the calendar date has changed in the configured timezone.
// Caller must hold g.mu.
func (g *Gate) rolloverIfNeededLocked() {
	today := time.Now().In(g.tz).Format("2006-01-02")
	if today == g.session.Date {
		return
	}
	limits := g.session.Limits
	g.session = types.Session{
		Date:   today,
		Limits: limits,
	}
	g.logger.Info("session rolled over", zap.String("date", today))
}
