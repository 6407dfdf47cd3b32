// Package broker maintains the single TCP session to the upstream
// broker gateway: connect/handshake, request-id allocation, event
// demultiplexing, and reconnect with backoff.
package broker

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atlas-desktop/atlas-bridge/pkg/apierr"
	"go.uber.org/zap"
)

// EventCode classifies a gateway pseudo-event error code as fatal or
// swallowable. Codes below 2000 are informational/non-fatal per the
// gateway protocol contract; codes at or above 2000 are fatal to the
// originating reqId.
type EventCode int

const nonFatalCodeCeiling = 2000

// IsNonFatal reports whether code is a warning/informational code
// that must be logged but not terminate the ticket.
func (c EventCode) IsNonFatal() bool { return int(c) < nonFatalCodeCeiling }

// Event is one inbound message from the gateway, keyed by the reqId
// that originated it (0 for unsolicited/broadcast events).
type Event struct {
	ReqID   int64
	Kind    string
	Code    EventCode
	Message string
	Payload map[string]interface{}
	Done    bool // terminal event for this reqId (snapshotEnd, historicalDataEnd, ...)
}

// Handlers is the callback surface a caller supplies to Submit.
type Handlers struct {
	OnEvent    func(reqID int64, ev Event)
	OnComplete func(reqID int64)
	OnError    func(reqID int64, code EventCode, msg string)
}

// Ticket represents one in-flight request/response exchange.
type Ticket struct {
	ReqID    int64
	handlers Handlers
}

// Config configures the broker session.
type Config struct {
	Host               string
	Port               int
	ClientID           int
	MinProtocolVersion int
	DialTimeout        time.Duration
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	MaxReconnectTries  int // 0 = unlimited
}

// DefaultConfig returns sensible defaults for Config.
func DefaultConfig() Config {
	return Config{
		MinProtocolVersion: 1,
		DialTimeout:        10 * time.Second,
		InitialBackoff:     500 * time.Millisecond,
		MaxBackoff:         30 * time.Second,
		MaxReconnectTries:  0,
	}
}

// Session is the singleton TCP session to the broker gateway.
type Session struct {
	logger *zap.Logger
	config Config

	mu         sync.RWMutex
	conn       net.Conn
	reader     *bufio.Reader
	connected  bool
	reqCounter atomic.Int64

	tickets map[int64]*Ticket

	onReconnect []func(ctx context.Context)

	sendMu sync.Mutex // serializes writes to conn

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSession constructs a Session. It does not connect.
func NewSession(logger *zap.Logger, config Config) *Session {
	return &Session{
		logger:  logger.Named("broker-session"),
		config:  config,
		tickets: make(map[int64]*Ticket),
	}
}

// Connect dials the gateway, performs the version handshake, and
// starts the read loop. On success the reqId counter resets to zero
// for this session, per the reconnect algorithm.
func (s *Session) Connect(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	dialer := net.Dialer{Timeout: s.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return apierr.Wrap(apierr.Transient, "connect refused", err)
	}

	version, err := handshake(conn, s.config.ClientID)
	if err != nil {
		conn.Close()
		return apierr.Wrap(apierr.Transient, "handshake failed", err)
	}
	if version < s.config.MinProtocolVersion {
		conn.Close()
		return apierr.New(apierr.Fatal, fmt.Sprintf(
			"gateway protocol version %d below configured minimum %d", version, s.config.MinProtocolVersion))
	}

	s.mu.Lock()
	s.conn = conn
	s.reader = bufio.NewReader(conn)
	s.connected = true
	s.reqCounter.Store(0)
	s.tickets = make(map[int64]*Ticket)
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.readLoop(runCtx)

	s.logger.Info("connected to gateway", zap.String("addr", addr), zap.Int("protocolVersion", version))
	return nil
}

// AllocateReqID returns a strictly increasing request id, never
// reused within the current session.
func (s *Session) AllocateReqID() int64 {
	return s.reqCounter.Add(1)
}

// Submit sends a framed request and registers handlers for the
// asynchronous events it produces. Fails immediately with
// Disconnected if the session is not currently connected.
func (s *Session) Submit(payload map[string]interface{}, handlers Handlers) (*Ticket, error) {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	if !connected {
		return nil, apierr.New(apierr.Disconnected, "broker session is not connected")
	}

	reqID := s.AllocateReqID()
	ticket := &Ticket{ReqID: reqID, handlers: handlers}

	s.mu.Lock()
	s.tickets[reqID] = ticket
	s.mu.Unlock()

	frame, err := encodeFrame(reqID, payload)
	if err != nil {
		return nil, apierr.Wrap(apierr.Validation, "encode request", err)
	}

	s.sendMu.Lock()
	_, werr := s.conn.Write(frame)
	s.sendMu.Unlock()
	if werr != nil {
		return nil, apierr.Wrap(apierr.Transient, "write request", werr)
	}

	return ticket, nil
}

// Cancel removes a pending ticket so later events for reqID are
// ignored. It acts locally only: no cancel frame is sent to the gateway.
func (s *Session) Cancel(reqID int64) {
	s.mu.Lock()
	delete(s.tickets, reqID)
	s.mu.Unlock()
}

// OnReconnect registers a callback invoked after a successful
// reconnect so subscribers can resurrect subscriptions. The session
// already reports Connected and accepts Submit calls from other
// callers while the callbacks run.
func (s *Session) OnReconnect(cb func(ctx context.Context)) {
	s.mu.Lock()
	s.onReconnect = append(s.onReconnect, cb)
	s.mu.Unlock()
}

// Connected reports whether the session currently has a live TCP
// connection.
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Disconnect closes the underlying connection and stops the read loop.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.connected = false
	conn := s.conn
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if conn != nil {
		conn.Close()
	}
	s.wg.Wait()
}

func (s *Session) readLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev, err := decodeFrame(s.reader)
		if err != nil {
			s.logger.Warn("gateway read failed, will reconnect", zap.Error(err))
			s.handleDisconnect(ctx)
			return
		}
		s.dispatch(ev)
	}
}

func (s *Session) dispatch(ev Event) {
	s.mu.RLock()
	ticket, ok := s.tickets[ev.ReqID]
	s.mu.RUnlock()
	if !ok {
		return
	}

	if ev.Code != 0 && !ev.Code.IsNonFatal() {
		if ticket.handlers.OnError != nil {
			ticket.handlers.OnError(ev.ReqID, ev.Code, ev.Message)
		}
		s.mu.Lock()
		delete(s.tickets, ev.ReqID)
		s.mu.Unlock()
		return
	}
	if ev.Code != 0 {
		s.logger.Debug("non-fatal gateway code swallowed", zap.Int64("reqId", ev.ReqID), zap.Int("code", int(ev.Code)))
	}

	if ticket.handlers.OnEvent != nil {
		ticket.handlers.OnEvent(ev.ReqID, ev)
	}
	if ev.Done {
		if ticket.handlers.OnComplete != nil {
			ticket.handlers.OnComplete(ev.ReqID)
		}
		s.mu.Lock()
		delete(s.tickets, ev.ReqID)
		s.mu.Unlock()
	}
}

func (s *Session) handleDisconnect(ctx context.Context) {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()

	backoff := s.config.InitialBackoff
	attempt := 0
	for {
		attempt++
		if s.config.MaxReconnectTries > 0 && attempt > s.config.MaxReconnectTries {
			s.logger.Error("giving up reconnecting to gateway", zap.Int("attempts", attempt-1))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		if err := s.Connect(context.Background()); err != nil {
			s.logger.Warn("reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			backoff *= 2
			if backoff > s.config.MaxBackoff {
				backoff = s.config.MaxBackoff
			}
			continue
		}

		s.mu.RLock()
		callbacks := append([]func(ctx context.Context){}, s.onReconnect...)
		s.mu.RUnlock()
		for _, cb := range callbacks {
			cb(context.Background())
		}
		return
	}
}

func handshake(conn net.Conn, clientID int) (int, error) {
	hello := make([]byte, 8)
	binary.BigEndian.PutUint32(hello[0:4], uint32(clientID))
	binary.BigEndian.PutUint32(hello[4:8], uint32(protocolVersion))
	if _, err := conn.Write(hello); err != nil {
		return 0, err
	}
	resp := make([]byte, 4)
	if _, err := conn.Read(resp); err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint32(resp)), nil
}

const protocolVersion = 7
