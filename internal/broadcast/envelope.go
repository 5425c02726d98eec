// Package broadcast fans pub/sub messages out to WebSocket subscribers.
package broadcast

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope types carried on the broadcast channels.
const (
	TypeOpportunity = "opportunity"
	TypeRiskAlert   = "risk_alert"
	TypeRaw         = "raw"
)

// Envelope is the typed pub/sub message: {"type": ..., "payload": ...}.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode wraps v in an envelope of the given type.
func Encode(typ string, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", typ, err)
	}
	return json.Marshal(Envelope{Type: typ, Payload: payload})
}

// Normalize turns any channel message into an envelope. A JSON object with a string
// "type" and a "payload" is kept as is; anything else becomes a "raw" envelope whose
// payload is the message itself, or the message as a JSON string when it is not JSON.
func Normalize(data []byte) Envelope {
	var env struct {
		Type    *string         `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	trimmed := bytes.TrimSpace(data)
	if err := json.Unmarshal(trimmed, &env); err == nil && env.Type != nil && *env.Type != "" && len(env.Payload) > 0 {
		return Envelope{Type: *env.Type, Payload: env.Payload}
	}

	if json.Valid(trimmed) && len(trimmed) > 0 {
		return Envelope{Type: TypeRaw, Payload: json.RawMessage(append([]byte(nil), trimmed...))}
	}
	quoted, _ := json.Marshal(string(data))
	return Envelope{Type: TypeRaw, Payload: quoted}
}
