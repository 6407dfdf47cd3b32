// Package readmodel hydrates in-memory order/position/system-state
// projections by event replay, then keeps them current from a live
// event-store subscription. Projection is a pure function
// (state, event) -> state.
package readmodel

import (
	"context"
	"sync"
	"time"

	"github.com/atlas-desktop/atlas-bridge/internal/eventstore"
	"github.com/atlas-desktop/atlas-bridge/pkg/types"
	"github.com/atlas-desktop/atlas-bridge/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderPlacedPayload is the payload of an EventOrderPlaced event.
type OrderPlacedPayload struct {
	OrderID             string          `json:"orderId"`
	Symbol              string          `json:"symbol"`
	Side                types.BridgeSide `json:"side"`
	OriginalQty         decimal.Decimal `json:"originalQty"`
	ParentCorrelationID string          `json:"parentCorrelationId,omitempty"`
	OCAGroup            string          `json:"ocaGroup,omitempty"`
}

// ExecutionReceivedPayload is the payload of an EventExecutionReceived
// event — one fill against an order, which also feeds position netting.
type ExecutionReceivedPayload struct {
	OrderID  string          `json:"orderId"`
	Symbol   string          `json:"symbol"`
	Side     types.BridgeSide `json:"side"`
	Shares   decimal.Decimal `json:"shares"`
	Price    decimal.Decimal `json:"price"`
	StopHint decimal.Decimal `json:"stopHint,omitempty"` // used for MFE/giveback tracking only
}

// OrderStatusChangedPayload is the payload of an
// EventOrderStatusChanged event.
type OrderStatusChangedPayload struct {
	OrderID string                 `json:"orderId"`
	Status  types.BridgeOrderStatus `json:"status"`
}

// Projection holds the hydrated read models: orders by id, positions
// by symbol, and basic system state. One RWMutex guards all maps and
// reads take its read lock;
// events are applied in sequence order by a single applier goroutine.
type Projection struct {
	logger *zap.Logger
	store  *eventstore.Store

	mu        sync.RWMutex
	orders    map[string]*types.BridgeOrder
	positions map[string]*types.BridgePosition

	lastAppliedSeq int64

	cancel func()
}

// New constructs a Projection bound to an event store. Call Hydrate
// then Run to begin live projection.
func New(logger *zap.Logger, store *eventstore.Store) *Projection {
	return &Projection{
		logger:    logger.Named("read-model"),
		store:     store,
		orders:    make(map[string]*types.BridgeOrder),
		positions: make(map[string]*types.BridgePosition),
	}
}

// Hydrate replays the full event log from sequence 0 and applies every
// event, in order, before returning.
func (p *Projection) Hydrate(ctx context.Context) error {
	events, err := p.store.Replay(ctx, 0)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ev := range events {
		p.apply(ev)
	}
	return nil
}

// Run attaches a live subscriber from the point Hydrate left off and
// applies events as they arrive, until ctx is cancelled.
func (p *Projection) Run(ctx context.Context) error {
	ch, cancel, err := p.store.Subscribe(ctx, p.lastAppliedSeq+1)
	if err != nil {
		return err
	}
	p.cancel = cancel

	go func() {
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				p.mu.Lock()
				p.apply(ev)
				p.mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Stop detaches the live subscriber.
func (p *Projection) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

// apply is the pure (state, event) -> state transition. Caller must
// hold p.mu for writing.
func (p *Projection) apply(ev types.BridgeEvent) {
	if ev.SequenceID <= p.lastAppliedSeq {
		return // already applied; replay/subscribe backfill can overlap
	}

	switch ev.Type {
	case types.EventOrderPlaced:
		var payload OrderPlacedPayload
		if err := unmarshalPayload(ev.Payload, &payload); err != nil {
			p.logger.Error("bad OrderPlaced payload", zap.Error(err))
			break
		}
		p.orders[payload.OrderID] = &types.BridgeOrder{
			OrderID:             payload.OrderID,
			Symbol:              payload.Symbol,
			Side:                payload.Side,
			OriginalQty:         payload.OriginalQty,
			Status:              types.BridgeOrderSubmitted,
			LastUpdated:         ev.Timestamp,
			ParentCorrelationID: payload.ParentCorrelationID,
			OCAGroup:            payload.OCAGroup,
		}

	case types.EventExecutionReceived:
		var payload ExecutionReceivedPayload
		if err := unmarshalPayload(ev.Payload, &payload); err != nil {
			p.logger.Error("bad ExecutionReceived payload", zap.Error(err))
			break
		}
		p.applyExecution(payload, ev.Timestamp)

	case types.EventOrderStatusChanged:
		var payload OrderStatusChangedPayload
		if err := unmarshalPayload(ev.Payload, &payload); err != nil {
			p.logger.Error("bad OrderStatusChanged payload", zap.Error(err))
			break
		}
		if o, ok := p.orders[payload.OrderID]; ok {
			o.Status = payload.Status
			o.LastUpdated = ev.Timestamp
		}
	}

	p.lastAppliedSeq = ev.SequenceID
}

// applyExecution updates the order's fill state and runs the position
// netting algorithm from spec.md section 4.3.
func (p *Projection) applyExecution(payload ExecutionReceivedPayload, ts time.Time) {
	if o, ok := p.orders[payload.OrderID]; ok {
		totalFilled := o.FilledQty.Add(payload.Shares)
		if totalFilled.GreaterThan(o.OriginalQty) {
			totalFilled = o.OriginalQty
		}
		if totalFilled.GreaterThan(decimal.Zero) {
			o.AvgPrice = weightedAverage(o.FilledQty, o.AvgPrice, payload.Shares, payload.Price)
		}
		o.FilledQty = totalFilled
		if o.FilledQty.Equal(o.OriginalQty) {
			o.Status = types.BridgeOrderFilled
		} else if o.FilledQty.GreaterThan(decimal.Zero) {
			o.Status = types.BridgeOrderPartial
		}
		o.LastUpdated = ts
	}

	p.netPosition(payload.Symbol, payload.Side, payload.Shares, payload.Price, ts)
}

// netPosition implements the position-netting algorithm exactly as
// specified in spec.md section 4.3: same-side fills weighted-average
// into the position; opposing-side fills close the overlapping
// quantity into realized_pnl, flip sign re-basing avg_price to the
// execution price, and an exact close resets avg_price to zero with
// any residual starting a fresh position at the execution price.
func (p *Projection) netPosition(symbol string, side types.BridgeSide, shares, price decimal.Decimal, ts time.Time) {
	pos, ok := p.positions[symbol]
	if !ok {
		pos = &types.BridgePosition{Symbol: symbol}
		p.positions[symbol] = pos
	}

	signedShares := shares
	if side == types.SideSell {
		signedShares = shares.Neg()
	}

	switch {
	case pos.SignedQty.IsZero() || sameSign(pos.SignedQty, signedShares):
		newQty := pos.SignedQty.Add(signedShares)
		pos.AvgPrice = weightedAverage(pos.SignedQty.Abs(), pos.AvgPrice, shares, price)
		pos.SignedQty = newQty

	default:
		wasLong := pos.SignedQty.GreaterThan(decimal.Zero)
		closing := decimal.Min(shares, pos.SignedQty.Abs())

		var closingPnL decimal.Decimal
		if wasLong {
			closingPnL = closing.Mul(price.Sub(pos.AvgPrice))
		} else {
			closingPnL = closing.Mul(pos.AvgPrice.Sub(price))
		}
		pos.RealizedPnL = pos.RealizedPnL.Add(closingPnL)

		newQty := pos.SignedQty.Add(signedShares)
		residual := shares.Sub(closing)

		switch {
		case newQty.IsZero():
			pos.AvgPrice = decimal.Zero
		case !sameSign(pos.SignedQty, newQty):
			// sign flipped: residual starts a fresh position at execution price
			pos.AvgPrice = price
		}
		pos.SignedQty = newQty
		_ = residual // residual quantity is already reflected in newQty
	}

	pos.UpdatedAt = ts
}

func sameSign(a, b decimal.Decimal) bool {
	if a.IsZero() || b.IsZero() {
		return true
	}
	return a.IsPositive() == b.IsPositive()
}

func weightedAverage(oldQty, oldAvg, addQty, addPrice decimal.Decimal) decimal.Decimal {
	totalQty := oldQty.Add(addQty)
	if totalQty.IsZero() {
		return decimal.Zero
	}
	return oldQty.Mul(oldAvg).Add(addQty.Mul(addPrice)).Div(totalQty)
}

// Order returns a copy of the order read model by id.
func (p *Projection) Order(orderID string) (types.BridgeOrder, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	o, ok := p.orders[orderID]
	if !ok {
		return types.BridgeOrder{}, false
	}
	return *o, true
}

// Position returns a copy of the position read model by symbol.
func (p *Projection) Position(symbol string) (types.BridgePosition, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return types.BridgePosition{}, false
	}
	return *pos, true
}

// AllPositions returns a snapshot of every open (non-flat) position.
func (p *Projection) AllPositions() []types.BridgePosition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.BridgePosition, 0, len(p.positions))
	for _, pos := range p.positions {
		if !pos.SignedQty.IsZero() {
			out = append(out, *pos)
		}
	}
	return out
}

// AllOrders returns a snapshot of every tracked order.
func (p *Projection) AllOrders() []types.BridgeOrder {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.BridgeOrder, 0, len(p.orders))
	for _, o := range p.orders {
		out = append(out, *o)
	}
	return out
}

// CloseRMultiple computes the r_multiple for a closed trade,
// centralizing the computation per the Open Question decision in
// DESIGN.md: it is never recomputed downstream.
func CloseRMultiple(entry, stop, exit decimal.Decimal, isLong bool) decimal.Decimal {
	return utils.RMultiple(entry, stop, exit, isLong)
}
