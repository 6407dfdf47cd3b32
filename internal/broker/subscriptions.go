package broker

import (
	"context"
	"sync"

	"github.com/atlas-desktop/atlas-bridge/pkg/apierr"
	"github.com/atlas-desktop/atlas-bridge/pkg/types"
	"github.com/atlas-desktop/atlas-bridge/pkg/utils"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
)

const (
	defaultMaxSubscriptions = 50
	defaultBarBufferCap     = 300
)

// dedupKey identifies a subscription by (kind, symbol, exchange) so
// re-subscribing to the same thing is idempotent.
type dedupKey struct {
	kind     types.SubscriptionKind
	symbol   string
	exchange string
}

// entry is the registry's internal record for one subscription.
type entry struct {
	sub    types.BridgeSubscription
	key    dedupKey
	bufPos int
}

// Registry tracks live broker subscriptions, deduplicates by
// (kind, symbol, exchange), buffers streaming bars in bounded ring
// buffers, and resurrects every subscription with a fresh reqId after
// a broker reconnect while keeping the client-facing id stable.
type Registry struct {
	logger  *zap.Logger
	session *Session

	mu      sync.Mutex
	byID    map[string]*entry
	byKey   map[dedupKey]string // dedupKey -> client-facing id
	maxSubs int
	bufCap  int
}

// NewRegistry constructs a Registry bound to session and wires itself
// to resurrect subscriptions on reconnect.
func NewRegistry(logger *zap.Logger, session *Session) *Registry {
	r := &Registry{
		logger:  logger.Named("subscription-registry"),
		session: session,
		byID:    make(map[string]*entry),
		byKey:   make(map[dedupKey]string),
		maxSubs: defaultMaxSubscriptions,
		bufCap:  defaultBarBufferCap,
	}
	session.OnReconnect(func(ctx context.Context) { r.resurrectAll() })
	return r
}

// Subscribe registers a new subscription, or returns the existing id
// if one already exists for the same (kind, symbol, exchange) — idempotent per
// spec.md section 4.2's single-client edge case.
func (r *Registry) Subscribe(kind types.SubscriptionKind, payload map[string]interface{}) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := dedupKeyFrom(kind, payload)
	if existingID, ok := r.byKey[key]; ok {
		return existingID, nil
	}

	if len(r.byID) >= r.maxSubs {
		return "", apierr.New(apierr.Validation, "too many subscriptions")
	}

	id := utils.GenerateID("sub")
	reqID, err := r.requestSubscription(id, kind, payload)
	if err != nil {
		return "", err
	}

	e := &entry{
		sub: types.BridgeSubscription{
			ID:      id,
			ReqID:   reqID,
			Kind:    kind,
			Payload: payload,
			Buffer:  make([]types.OHLCV, 0, r.bufCap),
		},
		key: key,
	}
	r.byID[id] = e
	r.byKey[key] = id

	r.logger.Info("subscribed", zap.String("id", id), zap.String("kind", string(kind)), zap.Int64("reqId", reqID))
	return id, nil
}

// Unsubscribe removes a subscription by client-facing id.
func (r *Registry) Unsubscribe(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return apierr.New(apierr.Validation, "unknown subscription id")
	}
	r.session.Cancel(e.sub.ReqID)
	delete(r.byID, id)
	delete(r.byKey, e.key)
	return nil
}

// GetBuffer returns up to the last n buffered bars for a subscription.
func (r *Registry) GetBuffer(id string, n int) ([]types.OHLCV, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return nil, apierr.New(apierr.Validation, "unknown subscription id")
	}
	buf := e.sub.Buffer
	if n > 0 && n < len(buf) {
		buf = buf[len(buf)-n:]
	}
	out := make([]types.OHLCV, len(buf))
	copy(out, buf)
	return out, nil
}

// List returns a consistent snapshot of all live subscriptions.
func (r *Registry) List() []types.BridgeSubscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.BridgeSubscription, 0, len(r.byID))
	for _, e := range r.byID {
		out = append(out, e.sub)
	}
	return out
}

// PushBar appends a bar to a subscription's ring buffer, evicting the
// oldest entry once the buffer reaches its cap.
func (r *Registry) PushBar(id string, bar types.OHLCV) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return
	}
	if len(e.sub.Buffer) >= r.bufCap {
		e.sub.Buffer = append(e.sub.Buffer[1:], bar)
	} else {
		e.sub.Buffer = append(e.sub.Buffer, bar)
	}
}

// resurrectAll re-establishes every subscription with a fresh reqId,
// keeping each client-facing id stable. Invoked by the broker session
// after a reconnect completes; the session already accepts Submit calls
// from other callers while it runs.
func (r *Registry) resurrectAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, e := range r.byID {
		newReqID, err := r.requestSubscription(id, e.sub.Kind, e.sub.Payload)
		if err != nil {
			r.logger.Error("failed to resurrect subscription", zap.String("id", id), zap.Error(err))
			continue
		}
		e.sub.ReqID = newReqID
		r.logger.Info("resurrected subscription", zap.String("id", id), zap.Int64("reqId", newReqID))
	}
}

// requestSubscription submits the subscription frame and returns the
// reqId the session actually allocated for it. It must not allocate a
// reqId of its own — Submit already does that internally, and the
// value returned here is the one recorded against the subscription and
// later passed to Cancel, so it has to match what went out on the wire.
func (r *Registry) requestSubscription(id string, kind types.SubscriptionKind, payload map[string]interface{}) (int64, error) {
	ticket, err := r.session.Submit(map[string]interface{}{
		"kind":    kind,
		"payload": payload,
	}, r.handlersFor(id, kind))
	if err != nil {
		return 0, err
	}
	return ticket.ReqID, nil
}

// handlersFor builds the event callbacks for one subscription. Only
// realTimeBars subscriptions produce bar events; every other kind gets
// no handlers, matching the gateway's own event shape per kind.
func (r *Registry) handlersFor(id string, kind types.SubscriptionKind) Handlers {
	if kind != types.SubRealTimeBars {
		return Handlers{}
	}
	return Handlers{
		OnEvent: func(reqID int64, ev Event) {
			bar, err := decodeBar(ev.Payload)
			if err != nil {
				r.logger.Warn("failed to decode bar event", zap.String("id", id), zap.Error(err))
				return
			}
			r.PushBar(id, bar)
		},
	}
}

func decodeBar(payload map[string]interface{}) (types.OHLCV, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return types.OHLCV{}, err
	}
	var bar types.OHLCV
	if err := json.Unmarshal(raw, &bar); err != nil {
		return types.OHLCV{}, err
	}
	return bar, nil
}

func dedupKeyFrom(kind types.SubscriptionKind, payload map[string]interface{}) dedupKey {
	symbol, _ := payload["symbol"].(string)
	exchange, _ := payload["exchange"].(string)
	return dedupKey{kind: kind, symbol: symbol, exchange: exchange}
}
