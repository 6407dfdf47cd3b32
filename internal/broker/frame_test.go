package broker

import (
	"bufio"
	"bytes"
	"testing"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	frame, err := encodeFrame(42, map[string]interface{}{"symbol": "BTC/USDT"})
	if err != nil {
		t.Fatalf("encodeFrame: %v", err)
	}

	ev, err := decodeFrame(bufio.NewReader(bytes.NewReader(frame)))
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}

	if ev.ReqID != 42 {
		t.Errorf("ReqID = %d, want 42", ev.ReqID)
	}
	if got := ev.Payload["symbol"]; got != "BTC/USDT" {
		t.Errorf("Payload[symbol] = %v, want BTC/USDT", got)
	}
}

func TestEventCodeIsNonFatal(t *testing.T) {
	cases := []struct {
		code EventCode
		want bool
	}{
		{1999, true},
		{2000, false},
		{2100, false},
		{0, true},
	}
	for _, tc := range cases {
		if got := tc.code.IsNonFatal(); got != tc.want {
			t.Errorf("EventCode(%d).IsNonFatal() = %v, want %v", tc.code, got, tc.want)
		}
	}
}
