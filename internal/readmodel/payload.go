package readmodel

import "github.com/segmentio/encoding/json"

func unmarshalPayload(raw []byte, dst interface{}) error {
	return json.Unmarshal(raw, dst)
}
