package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyPayload     = errors.New("payload is required")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrInvalidEventType = errors.New("invalid event type")
	ErrMissingType      = errors.New("objectType is required")
	ErrMissingKey       = errors.New("objectKey is required")
)

// Parse decodes and validates a single payload.
func Parse(body []byte) (*Payload, error) {
	p, err := Decode(body)
	if err != nil {
		return nil, err
	}
	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Decode reads a payload without checking its fields. Numbers in data are
// kept as json.Number so the receiver can map them by target field kind.
func Decode(body []byte) (*Payload, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ErrEmptyPayload
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var p Payload
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return &p, nil
}

// ParseBatch splits a JSON array into raw items. Each item is parsed on its
// own so one malformed entry does not reject the whole batch.
func ParseBatch(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ErrEmptyPayload
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(items) == 0 {
		return nil, ErrEmptyPayload
	}
	return items, nil
}

// Validate checks the envelope fields. It normalizes EventType to its
// canonical spelling.
func Validate(p *Payload) error {
	et, err := ParseEventType(p.EventType)
	if err != nil {
		return err
	}
	p.EventType = string(et)
	if strings.TrimSpace(p.ObjectType) == "" {
		return ErrMissingType
	}
	if strings.TrimSpace(p.ObjectKey) == "" {
		return ErrMissingKey
	}
	return nil
}
