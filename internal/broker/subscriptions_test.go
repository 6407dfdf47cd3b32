package broker

import (
	"context"
	"encoding/binary"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/atlas-desktop/atlas-bridge/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func dialAddr(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return host, port
}

func connectedSession(t *testing.T, addr string) *Session {
	t.Helper()
	host, port := dialAddr(t, addr)
	session := NewSession(zap.NewNop(), Config{
		Host:               host,
		Port:               port,
		DialTimeout:        2 * time.Second,
		MinProtocolVersion: 1,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := session.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(session.Disconnect)
	return session
}

// TestSubscribeReportsTheSessionsOwnReqID guards against allocating a
// reqId for the subscription record separately from the one Submit
// sends on the wire: only one reqId may ever be consumed per Subscribe.
func TestSubscribeReportsTheSessionsOwnReqID(t *testing.T) {
	addr := fixtureGateway(t)
	session := connectedSession(t, addr)

	reg := NewRegistry(zap.NewNop(), session)
	id, err := reg.Subscribe(types.SubAccountUpdates, map[string]interface{}{"symbol": "AAPL"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	subs := reg.List()
	if len(subs) != 1 || subs[0].ID != id {
		t.Fatalf("expected one subscription with id %q, got %+v", id, subs)
	}
	wireReqID := subs[0].ReqID

	if next := session.AllocateReqID(); next != wireReqID+1 {
		t.Errorf("expected exactly one reqId consumed by Subscribe, session reqId counter at %d after subscription reqId %d", next, wireReqID)
	}
}

func barFixtureGateway(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		hello := make([]byte, 8)
		if _, err := conn.Read(hello); err != nil {
			return
		}
		resp := make([]byte, 4)
		binary.BigEndian.PutUint32(resp, uint32(protocolVersion))
		if _, err := conn.Write(resp); err != nil {
			return
		}

		reqBuf := make([]byte, 4)
		if _, err := conn.Read(reqBuf); err != nil {
			return
		}
		bodyLen := binary.BigEndian.Uint32(reqBuf)
		body := make([]byte, bodyLen)
		if _, err := conn.Read(body); err != nil {
			return
		}

		frame, err := encodeFrame(1, map[string]interface{}{
			"timestamp": "2026-01-01T09:30:00Z",
			"open":      "100.00",
			"high":      "101.00",
			"low":       "99.50",
			"close":     "100.50",
			"volume":    "1200",
		})
		if err != nil {
			return
		}
		conn.Write(frame)
	}()

	return ln.Addr().String()
}

// TestRealTimeBarsRouteIntoBuffer confirms an inbound bar event on a
// realTimeBars subscription lands in the ring buffer get_buffer reads.
func TestRealTimeBarsRouteIntoBuffer(t *testing.T) {
	addr := barFixtureGateway(t)
	session := connectedSession(t, addr)

	reg := NewRegistry(zap.NewNop(), session)
	id, err := reg.Subscribe(types.SubRealTimeBars, map[string]interface{}{"symbol": "AAPL"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	var buf []types.OHLCV
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		buf, err = reg.GetBuffer(id, 0)
		if err != nil {
			t.Fatalf("GetBuffer: %v", err)
		}
		if len(buf) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if len(buf) != 1 {
		t.Fatalf("expected one buffered bar, got %d", len(buf))
	}
	if !buf[0].Close.Equal(decimal.RequireFromString("100.50")) {
		t.Errorf("Close = %s, want 100.50", buf[0].Close)
	}
}

// TestSubscribeIsIdempotentByDedupKey confirms re-subscribing to the
// same (kind, symbol, exchange) returns the existing id rather than
// consuming a second reqId.
func TestSubscribeIsIdempotentByDedupKey(t *testing.T) {
	addr := fixtureGateway(t)
	session := connectedSession(t, addr)

	reg := NewRegistry(zap.NewNop(), session)
	payload := map[string]interface{}{"symbol": "AAPL"}

	id1, err := reg.Subscribe(types.SubMarketDepth, payload)
	if err != nil {
		t.Fatalf("first Subscribe: %v", err)
	}
	id2, err := reg.Subscribe(types.SubMarketDepth, payload)
	if err != nil {
		t.Fatalf("second Subscribe: %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected idempotent subscribe to return the same id, got %q and %q", id1, id2)
	}
}
