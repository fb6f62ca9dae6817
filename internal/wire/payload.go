// Package wire defines the JSON payload exchanged between the webhook sender
// and the sync receiver.
package wire

import (
	"fmt"
	"strings"
)

// EventType classifies a change carried by a payload.
type EventType string

const (
	EventCreated  EventType = "Created"
	EventModified EventType = "Modified"
	EventDeleted  EventType = "Deleted"
	EventTest     EventType = "Test"
)

var eventTypes = []EventType{EventCreated, EventModified, EventDeleted, EventTest}

// ParseEventType matches s against the known event types, ignoring case.
func ParseEventType(s string) (EventType, error) {
	for _, et := range eventTypes {
		if strings.EqualFold(string(et), strings.TrimSpace(s)) {
			return et, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrInvalidEventType, s)
}

// Payload is the body of a webhook request and of a sync call.
// Data is nil for Deleted events and serializes as null.
type Payload struct {
	EventType   string         `json:"eventType"`
	ObjectType  string         `json:"objectType"`
	ObjectKey   string         `json:"objectKey"`
	Timestamp   string         `json:"timestamp"`
	TriggerRule string         `json:"triggerRule"`
	Data        map[string]any `json:"data"`
}

// Event returns the parsed event type.
func (p *Payload) Event() (EventType, error) {
	return ParseEventType(p.EventType)
}
