package orchestrator

import (
	"context"
	"net/http"
	"time"

	"github.com/atlas-desktop/atlas-bridge/internal/dispatcher"
	"github.com/atlas-desktop/atlas-bridge/internal/readmodel"
	"github.com/atlas-desktop/atlas-bridge/internal/risk"
	"github.com/atlas-desktop/atlas-bridge/internal/stream"
	"github.com/atlas-desktop/atlas-bridge/pkg/apierr"
	"github.com/atlas-desktop/atlas-bridge/pkg/types"
	"github.com/atlas-desktop/atlas-bridge/pkg/utils"
	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// registerActions binds every agent-callable operation to the
// dispatcher registry, which also backs the MCP tool surface
// one-for-one through internal/mcpsession.
func (b *Bridge) registerActions() {
	b.Registry.Register(dispatcher.Action{
		Name:        "get_status",
		Description: "Report bridge liveness, broker connectivity, and session summary.",
		Class:       dispatcher.ClassGlobal,
		Lite:        true,
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{
				"status":         "ok",
				"brokerConnected": b.Session.Connected(),
				"session":        b.RiskGate.Snapshot(),
			}, nil
		},
	})

	b.Registry.Register(dispatcher.Action{
		Name:        "get_positions",
		Description: "List every open (non-flat) position the read model tracks.",
		Class:       dispatcher.ClassGlobal,
		Lite:        true,
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return b.Projection.AllPositions(), nil
		},
	})

	b.Registry.Register(dispatcher.Action{
		Name:        "get_orders",
		Description: "List every order the read model has observed.",
		Class:       dispatcher.ClassGlobal,
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return b.Projection.AllOrders(), nil
		},
	})

	b.Registry.Register(dispatcher.Action{
		Name:        "check_risk",
		Description: "Evaluate a candidate order against the pre-trade risk veto without submitting it.",
		Class:       dispatcher.ClassOrders,
		Params: []dispatcher.ParamSpec{
			{Name: "symbol", Kind: dispatcher.ParamString, Required: true},
			{Name: "side", Kind: dispatcher.ParamString, Required: true},
			{Name: "qty", Kind: dispatcher.ParamNumber, Required: true},
			{Name: "entry", Kind: dispatcher.ParamNumber, Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			intent, err := intentFromParams(params)
			if err != nil {
				return nil, err
			}
			return b.RiskGate.CheckRisk(intent), nil
		},
	})

	b.Registry.Register(dispatcher.Action{
		Name:        "place_order",
		Description: "Submit an order, subject to the pre-trade risk veto.",
		Class:       dispatcher.ClassOrders,
		Params: []dispatcher.ParamSpec{
			{Name: "symbol", Kind: dispatcher.ParamString, Required: true},
			{Name: "side", Kind: dispatcher.ParamString, Required: true},
			{Name: "qty", Kind: dispatcher.ParamNumber, Required: true},
			{Name: "entry", Kind: dispatcher.ParamNumber, Required: true},
		},
		Handler: b.handlePlaceOrder,
	})

	b.Registry.Register(dispatcher.Action{
		Name:        "subscribe",
		Description: "Open a broker subscription (realTimeBars, accountUpdates, marketDepth, quoteSnapshot).",
		Class:       dispatcher.ClassGlobal,
		Params: []dispatcher.ParamSpec{
			{Name: "kind", Kind: dispatcher.ParamString, Required: true},
			{Name: "payload", Kind: dispatcher.ParamObject, Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			payload, _ := params["payload"].(map[string]interface{})
			id, err := b.Subs.Subscribe(types.SubscriptionKind(params["kind"].(string)), payload)
			if err != nil {
				return nil, err
			}
			return map[string]string{"id": id}, nil
		},
	})

	b.Registry.Register(dispatcher.Action{
		Name:        "unsubscribe",
		Description: "Close a broker subscription by id.",
		Class:       dispatcher.ClassGlobal,
		Params: []dispatcher.ParamSpec{
			{Name: "id", Kind: dispatcher.ParamString, Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return nil, b.Subs.Unsubscribe(params["id"].(string))
		},
	})

	b.Registry.Register(dispatcher.Action{
		Name:        "get_buffer",
		Description: "Return the most recent n bars buffered for a subscription.",
		Class:       dispatcher.ClassGlobal,
		Params: []dispatcher.ParamSpec{
			{Name: "id", Kind: dispatcher.ParamString, Required: true},
			{Name: "n", Kind: dispatcher.ParamNumber, Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return b.Subs.GetBuffer(params["id"].(string), int(numberParam(params, "n")))
		},
	})

	b.Registry.Register(dispatcher.Action{
		Name:        "list_subscriptions",
		Description: "List every live broker subscription.",
		Class:       dispatcher.ClassGlobal,
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return b.Subs.List(), nil
		},
	})

	b.Registry.Register(dispatcher.Action{
		Name:        "evaluate",
		Description: "Build a feature vector for a symbol and score it through the LLM ensemble.",
		Class:       dispatcher.ClassEvals,
		Params: []dispatcher.ParamSpec{
			{Name: "symbol", Kind: dispatcher.ParamString, Required: true},
			{Name: "direction", Kind: dispatcher.ParamString, Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			symbol := params["symbol"].(string)
			direction := types.BridgeSide(params["direction"].(string))
			vector, regime := b.Features.Build(ctx, symbol, time.Now())
			return b.Evaluator.Evaluate(ctx, utils.GenerateID("eval"), symbol, direction, vector, regime)
		},
	})

	b.Registry.Register(dispatcher.Action{
		Name:        "get_weights",
		Description: "Return the currently active ensemble weight set, optionally for a named regime.",
		Class:       dispatcher.ClassCollab,
		Lite:        true,
		Params: []dispatcher.ParamSpec{
			{Name: "regime", Kind: dispatcher.ParamString, Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			regime, _ := params["regime"].(string)
			if regime == "" {
				regime = string(types.RegimeNormal)
			}
			return b.Weights.Active(types.Regime(regime)), nil
		},
	})

	b.Registry.Register(dispatcher.Action{
		Name:        "get_sla",
		Description: "Report bridge/broker/tunnel availability percentages over the standard SLA windows.",
		Class:       dispatcher.ClassCollab,
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return b.Sampler.Report(ctx)
		},
	})

	b.Registry.Register(dispatcher.Action{
		Name:        "get_outages",
		Description: "List availability outages detected since a given RFC3339 timestamp.",
		Class:       dispatcher.ClassCollab,
		Params: []dispatcher.ParamSpec{
			{Name: "since", Kind: dispatcher.ParamString, Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			since, err := time.Parse(time.RFC3339, params["since"].(string))
			if err != nil {
				return nil, apierr.WithField("since", "must be RFC3339")
			}
			return b.Sampler.Outages(ctx, since)
		},
	})
}

func (b *Bridge) handlePlaceOrder(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	intent, err := intentFromParams(params)
	if err != nil {
		return nil, err
	}

	check := b.RiskGate.CheckRisk(intent)
	if !check.Allowed {
		return nil, apierr.New(apierr.RiskVeto, check.Reason)
	}

	orderID := utils.GenerateID("order")
	seq, err := b.Store.Append(ctx, types.EventOrderPlaced, readmodel.OrderPlacedPayload{
		OrderID:     orderID,
		Symbol:      intent.Symbol,
		Side:        intent.Side,
		OriginalQty: intent.Qty,
	})
	if err != nil {
		return nil, apierr.Wrap(apierr.Storage, "append order placed event", err)
	}

	if _, err := b.Session.Submit(map[string]interface{}{
		"kind":    "placeOrder",
		"orderId": orderID,
		"symbol":  intent.Symbol,
		"side":    intent.Side,
		"qty":     intent.Qty,
	}, b.gatewayOrderHandlers(orderID)); err != nil {
		b.logger.Warn("order logged but not yet submitted to gateway", zap.String("orderId", orderID), zap.Error(err))
	}

	_, _ = b.Stream.Publish(stream.ChannelOrderFilled, map[string]interface{}{
		"orderId": orderID,
		"symbol":  intent.Symbol,
		"side":    intent.Side,
		"qty":     intent.Qty,
	})

	return map[string]interface{}{"orderId": orderID, "sequenceId": seq}, nil
}

func intentFromParams(params map[string]interface{}) (risk.OrderIntent, error) {
	symbol, _ := params["symbol"].(string)
	side, _ := params["side"].(string)
	if symbol == "" {
		return risk.OrderIntent{}, apierr.WithField("symbol", "required")
	}
	if side != string(types.SideBuy) && side != string(types.SideSell) {
		return risk.OrderIntent{}, apierr.WithField("side", "must be BUY or SELL")
	}
	return risk.OrderIntent{
		Symbol: symbol,
		Side:   types.BridgeSide(side),
		Qty:    decimal.NewFromFloat(numberParam(params, "qty")),
		Entry:  decimal.NewFromFloat(numberParam(params, "entry")),
	}, nil
}

func numberParam(params map[string]interface{}, name string) float64 {
	switch v := params[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func writeJSONDoc(w http.ResponseWriter, doc map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}
