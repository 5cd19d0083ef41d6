package task

import (
	"encoding/json"
	"fmt"
)

// Payload is the transportable form of a callable and its arguments. The
// in-container runner decodes it, resolves the named handler, and invokes it.
type Payload struct {
	InvocationID string          `json:"invocation_id"`
	TaskName     string          `json:"task_name"`
	Args         json.RawMessage `json:"args,omitempty"`
}

// ResultEnvelope is the serialized outcome written to the result store by the
// remote run. Exactly one of Value or the FAILED exit path exists per run.
type ResultEnvelope struct {
	InvocationID string          `json:"invocation_id"`
	Value        json.RawMessage `json:"value"`
}

// EncodePayload serializes the payload for one invocation.
func EncodePayload(inv *Invocation) ([]byte, error) {
	if inv.TaskName == "" {
		return nil, fmt.Errorf("task name is empty")
	}
	if len(inv.Args) > 0 && !json.Valid(inv.Args) {
		return nil, fmt.Errorf("args are not valid JSON")
	}
	return json.Marshal(Payload{
		InvocationID: inv.ID,
		TaskName:     inv.TaskName,
		Args:         inv.Args,
	})
}

// DecodePayload is the inverse of EncodePayload.
func DecodePayload(b []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if p.TaskName == "" {
		return nil, fmt.Errorf("decode payload: task name is empty")
	}
	return &p, nil
}

// EncodeResult serializes a handler return value into a result envelope.
func EncodeResult(invocationID string, value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal result value: %w", err)
	}
	return json.Marshal(ResultEnvelope{
		InvocationID: invocationID,
		Value:        raw,
	})
}

// DecodeResult deserializes a result envelope fetched from the result store.
func DecodeResult(b []byte) (*ResultEnvelope, error) {
	var env ResultEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode result envelope: %w", err)
	}
	if env.InvocationID == "" {
		return nil, fmt.Errorf("decode result envelope: missing invocation id")
	}
	return &env, nil
}
