package broker

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/segmentio/encoding/json"
)

// wireEvent is the on-wire shape of one gateway frame: a 4-byte
// big-endian length prefix followed by a JSON body.
type wireEvent struct {
	ReqID   int64                  `json:"reqId"`
	Kind    string                 `json:"kind"`
	Code    int                    `json:"code,omitempty"`
	Message string                 `json:"message,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	Done    bool                   `json:"done,omitempty"`
}

func encodeFrame(reqID int64, payload map[string]interface{}) ([]byte, error) {
	body, err := json.Marshal(struct {
		ReqID   int64                  `json:"reqId"`
		Payload map[string]interface{} `json:"payload"`
	}{ReqID: reqID, Payload: payload})
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(body)))
	copy(frame[4:], body)
	return frame, nil
}

func decodeFrame(r *bufio.Reader) (Event, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Event{}, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Event{}, err
	}

	var w wireEvent
	if err := json.Unmarshal(body, &w); err != nil {
		return Event{}, err
	}

	return Event{
		ReqID:   w.ReqID,
		Kind:    w.Kind,
		Code:    EventCode(w.Code),
		Message: w.Message,
		Payload: w.Payload,
		Done:    w.Done,
	}, nil
}
