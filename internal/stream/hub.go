// Package stream implements the outbound WebSocket broadcast: a fixed
// set of named channels sharing one monotonic sequence counter, with
// best-effort per-subscriber delivery.
package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/atlas-desktop/atlas-bridge/internal/metrics"
	"github.com/atlas-desktop/atlas-bridge/pkg/apierr"
	"github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
)

// Channel is one of the fixed outbound topics. Subscribing to any
// other name is rejected.
type Channel string

const (
	ChannelEvalCreated     Channel = "eval_created"
	ChannelJournalPosted   Channel = "journal_posted"
	ChannelOrderFilled     Channel = "order_filled"
	ChannelExecution       Channel = "execution"
	ChannelPositionUpdate  Channel = "position_update"
	ChannelSessionEvent    Channel = "session_event"
	ChannelRegimeShift     Channel = "regime_shift"
	ChannelRiskAlert       Channel = "risk_alert"
)

var validChannels = map[Channel]bool{
	ChannelEvalCreated:    true,
	ChannelJournalPosted:  true,
	ChannelOrderFilled:    true,
	ChannelExecution:      true,
	ChannelPositionUpdate: true,
	ChannelSessionEvent:   true,
	ChannelRegimeShift:    true,
	ChannelRiskAlert:      true,
}

// IsValidChannel reports whether name is one of the fixed channels.
func IsValidChannel(name string) bool {
	return validChannels[Channel(name)]
}

// Envelope wraps every outbound message with the single shared
// sequence counter, so clients can detect gaps and request replay
// regardless of which channel a message arrived on.
type Envelope struct {
	SequenceID int64       `json:"sequenceId"`
	Channel    Channel     `json:"channel"`
	Timestamp  int64       `json:"timestamp"`
	Data       interface{} `json:"data"`
}

const clientSendBuffer = 256

// Client is one subscribed WebSocket connection.
type Client struct {
	id       string
	conn     *websocket.Conn
	send     chan []byte
	hub      *Hub
	mu       sync.RWMutex
	channels map[Channel]bool
}

// Hub fans out envelopes to subscribed clients. The sequence counter
// is allocated exactly once per Publish call, even if no client is
// currently subscribed to that channel.
type Hub struct {
	logger  *zap.Logger
	mu      sync.RWMutex
	clients map[*Client]bool
	byChan  map[Channel]map[*Client]bool
	seq     atomic.Int64
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:  logger.Named("stream"),
		clients: make(map[*Client]bool),
		byChan:  make(map[Channel]map[*Client]bool),
	}
}

// NewClient wraps a websocket connection as a Hub-registered client.
func (h *Hub) NewClient(id string, conn *websocket.Conn) *Client {
	c := &Client{id: id, conn: conn, send: make(chan []byte, clientSendBuffer), hub: h, channels: make(map[Channel]bool)}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	metrics.StreamClients.Inc()
	return c
}

// Remove unregisters a client from the hub and every channel it was
// subscribed to.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	for ch := range c.channels {
		if subs, ok := h.byChan[ch]; ok {
			delete(subs, c)
			if len(subs) == 0 {
				delete(h.byChan, ch)
			}
		}
	}
	close(c.send)
	metrics.StreamClients.Dec()
}

// Subscribe attaches a client to a channel, rejecting unknown
// channel names.
func (h *Hub) Subscribe(c *Client, channel string) error {
	if !IsValidChannel(channel) {
		return apierr.New(apierr.Validation, "unknown channel: "+channel)
	}
	ch := Channel(channel)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.byChan[ch] == nil {
		h.byChan[ch] = make(map[*Client]bool)
	}
	h.byChan[ch][c] = true

	c.mu.Lock()
	c.channels[ch] = true
	c.mu.Unlock()

	return nil
}

// Unsubscribe detaches a client from a channel.
func (h *Hub) Unsubscribe(c *Client, channel string) {
	ch := Channel(channel)

	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.byChan[ch]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.byChan, ch)
		}
	}

	c.mu.Lock()
	delete(c.channels, ch)
	c.mu.Unlock()
}

// Publish allocates the next sequence id and broadcasts data to every
// subscriber of channel. Delivery is best-effort: a subscriber whose
// send buffer is full simply misses this message, per spec.md 4.8 —
// the sequence id is still allocated, so the gap is detectable.
func (h *Hub) Publish(channel Channel, data interface{}) (int64, error) {
	seq := h.seq.Add(1)

	env := Envelope{
		SequenceID: seq,
		Channel:    channel,
		Timestamp:  time.Now().UnixMilli(),
		Data:       data,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return seq, apierr.Wrap(apierr.Validation, "marshal outbound envelope", err)
	}

	metrics.StreamPublished.WithLabelValues(string(channel)).Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.byChan[channel] {
		select {
		case c.send <- body:
		default:
			h.logger.Warn("subscriber buffer full, dropping message",
				zap.String("client", c.id), zap.String("channel", string(channel)), zap.Int64("sequenceId", seq))
		}
	}
	return seq, nil
}

// CurrentSequence returns the most recently allocated sequence id,
// for clients bootstrapping a replay-from-gap request.
func (h *Hub) CurrentSequence() int64 {
	return h.seq.Load()
}
