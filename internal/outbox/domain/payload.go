package domain

import (
	"encoding/json"
	"fmt"

	"github.com/allisson/outboxd/internal/errors"
)

// Payload is the event envelope written to the outbox: the procedure input and the
// output it produced.
type Payload struct {
	Input  json.RawMessage `json:"input"`
	Output json.RawMessage `json:"output"`
}

// NewPayload serializes input and output into an envelope.
func NewPayload(input, output any) (Payload, error) {
	in, err := marshalValue(input)
	if err != nil {
		return Payload{}, errors.Wrap(ErrPayloadNotJSON, fmt.Sprintf("input: %v", err))
	}
	out, err := marshalValue(output)
	if err != nil {
		return Payload{}, errors.Wrap(ErrPayloadNotJSON, fmt.Sprintf("output: %v", err))
	}
	return Payload{Input: in, Output: out}, nil
}

// ParsePayload decodes a stored envelope.
func ParsePayload(raw json.RawMessage) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, errors.Wrap(ErrPayloadNotJSON, err.Error())
	}
	if len(p.Input) == 0 {
		p.Input = json.RawMessage("null")
	}
	if len(p.Output) == 0 {
		p.Output = json.RawMessage("null")
	}
	return p, nil
}

// Marshal returns the JSON encoding of the envelope.
func (p Payload) Marshal() (json.RawMessage, error) {
	if len(p.Input) == 0 {
		p.Input = json.RawMessage("null")
	}
	if len(p.Output) == 0 {
		p.Output = json.RawMessage("null")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(ErrPayloadNotJSON, err.Error())
	}
	return b, nil
}

// DecodeInput unmarshals the input into v.
func (p Payload) DecodeInput(v any) error {
	if err := json.Unmarshal(p.Input, v); err != nil {
		return errors.Wrap(ErrPayloadNotJSON, fmt.Sprintf("decode input: %v", err))
	}
	return nil
}

// DecodeOutput unmarshals the output into v.
func (p Payload) DecodeOutput(v any) error {
	if err := json.Unmarshal(p.Output, v); err != nil {
		return errors.Wrap(ErrPayloadNotJSON, fmt.Sprintf("decode output: %v", err))
	}
	return nil
}

func marshalValue(v any) (json.RawMessage, error) {
	switch t := v.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if !json.Valid(t) {
			return nil, fmt.Errorf("invalid raw JSON")
		}
		return t, nil
	default:
		return json.Marshal(v)
	}
}
