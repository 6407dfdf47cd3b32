package orchestrator

import (
	"context"

	"github.com/atlas-desktop/atlas-bridge/internal/broker"
	"github.com/atlas-desktop/atlas-bridge/internal/readmodel"
	"github.com/atlas-desktop/atlas-bridge/pkg/types"
	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// fillPayload is the gateway's wire shape for an "execution" event.
type fillPayload struct {
	Symbol string  `mapstructure:"symbol"`
	Side   string  `mapstructure:"side"`
	Shares float64 `mapstructure:"shares"`
	Price  float64 `mapstructure:"price"`
}

// statusPayload is the gateway's wire shape for an "orderStatus" event.
type statusPayload struct {
	Status string `mapstructure:"status"`
}

// gatewayOrderHandlers turns one order's inbound gateway events into
// durable ExecutionReceived / OrderStatusChanged events, keeping the
// event store the single source of truth the read model replays from.
// Handlers run for the lifetime of the order, well past the request
// that placed it, so they append against context.Background rather
// than the dispatch request's context.
func (b *Bridge) gatewayOrderHandlers(orderID string) broker.Handlers {
	return broker.Handlers{
		OnEvent: func(reqID int64, ev broker.Event) {
			switch ev.Kind {
			case "execution":
				var fill fillPayload
				if err := mapstructure.Decode(ev.Payload, &fill); err != nil {
					b.logger.Error("decode gateway execution payload", zap.String("orderId", orderID), zap.Error(err))
					return
				}
				_, err := b.Store.Append(context.Background(), types.EventExecutionReceived, readmodel.ExecutionReceivedPayload{
					OrderID: orderID,
					Symbol:  fill.Symbol,
					Side:    types.BridgeSide(fill.Side),
					Shares:  decimal.NewFromFloat(fill.Shares),
					Price:   decimal.NewFromFloat(fill.Price),
				})
				if err != nil {
					b.logger.Error("append execution received event", zap.String("orderId", orderID), zap.Error(err))
				}

			case "orderStatus":
				var st statusPayload
				if err := mapstructure.Decode(ev.Payload, &st); err != nil {
					b.logger.Error("decode gateway order status payload", zap.String("orderId", orderID), zap.Error(err))
					return
				}
				_, err := b.Store.Append(context.Background(), types.EventOrderStatusChanged, readmodel.OrderStatusChangedPayload{
					OrderID: orderID,
					Status:  types.BridgeOrderStatus(st.Status),
				})
				if err != nil {
					b.logger.Error("append order status changed event", zap.String("orderId", orderID), zap.Error(err))
				}
			}
		},
		OnError: func(reqID int64, code broker.EventCode, msg string) {
			b.logger.Warn("gateway rejected order", zap.String("orderId", orderID), zap.Int64("reqId", reqID), zap.Int("code", int(code)), zap.String("message", msg))
			_, err := b.Store.Append(context.Background(), types.EventOrderStatusChanged, readmodel.OrderStatusChangedPayload{
				OrderID: orderID,
				Status:  types.BridgeOrderRejected,
			})
			if err != nil {
				b.logger.Error("append order rejected event", zap.String("orderId", orderID), zap.Error(err))
			}
		},
	}
}
