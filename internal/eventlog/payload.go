package eventlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/newthinker/tickflow/internal/core"
)

// PayloadKey is the single field carrying the JSON-encoded record.
const PayloadKey = "payload"

// EncodePayload wraps v as the canonical message value map.
func EncodePayload(v any) (map[string]string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return map[string]string{PayloadKey: string(data)}, nil
}

// DecodePayload unmarshals the payload field of msg into v.
func DecodePayload(msg Message, v any) error {
	raw, ok := msg.Values[PayloadKey]
	if !ok || raw == "" {
		return core.WrapError(core.ErrMalformedPayload, fmt.Errorf("message %s has no %q field", msg.ID, PayloadKey))
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return core.WrapError(core.ErrMalformedPayload, fmt.Errorf("message %s: %w", msg.ID, err))
	}
	return nil
}

// AddRecord encodes v and appends it to stream. A positive maxLen trims approximately.
func AddRecord(ctx context.Context, log Log, stream string, v any, maxLen int64) (string, error) {
	values, err := EncodePayload(v)
	if err != nil {
		return "", err
	}
	return log.Add(ctx, stream, values, AddOptions{MaxLen: maxLen, Approx: maxLen > 0})
}
