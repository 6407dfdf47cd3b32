package broker

import (
	"context"
	"encoding/binary"
	"net"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fixtureGateway accepts one connection, performs the handshake, reads
// one request, then writes back a single frame addressed to reqId 1,
// the first id a freshly connected session allocates.
func fixtureGateway(t *testing.T) string {
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

		frame, err := encodeFrame(1, map[string]interface{}{"status": "ok"})
		if err != nil {
			return
		}
		conn.Write(frame)
	}()

	return ln.Addr().String()
}

func TestSessionConnectAndSubmit(t *testing.T) {
	addr := fixtureGateway(t)
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}

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
	defer session.Disconnect()

	if !session.Connected() {
		t.Fatal("session reports not connected after successful Connect")
	}

	done := make(chan Event, 1)
	_, err = session.Submit(map[string]interface{}{"action": "subscribe"}, Handlers{
		OnEvent: func(reqID int64, ev Event) { done <- ev },
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case ev := <-done:
		if ev.Payload["status"] != "ok" {
			t.Errorf("Payload[status] = %v, want ok", ev.Payload["status"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fixture response")
	}
}

func TestSubmitFailsWhenDisconnected(t *testing.T) {
	session := NewSession(zap.NewNop(), DefaultConfig())

	_, err := session.Submit(map[string]interface{}{"action": "subscribe"}, Handlers{})
	if err == nil {
		t.Fatal("expected Submit on a never-connected session to fail")
	}
}
