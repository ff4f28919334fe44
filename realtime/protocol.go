package realtime

import (
	"encoding/json"

	"github.com/bytedance/sonic"
)

// Envelope is the wire frame exchanged over the websocket in both
// directions: an event name plus an event-specific payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func decodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := sonic.ConfigStd.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func encodeEnvelope(event string, data any) ([]byte, error) {
	raw, err := sonic.ConfigStd.Marshal(data)
	if err != nil {
		return nil, err
	}
	return sonic.ConfigStd.Marshal(Envelope{Event: event, Data: raw})
}

func decodeData(env Envelope, v any) error {
	return sonic.ConfigStd.Unmarshal(env.Data, v)
}
