package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/erp/mobilesync/internal/domain/offline"
)

// Event names on the wire
const (
	EventDataUpdate   = "data-update"
	EventUserActivity = "user-activity"
	EventMessage      = "message"
)

// Message is the envelope of every frame in both directions.
type Message struct {
	Event     string          `json:"event"`
	Channel   string          `json:"channel,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// UserActivity is reported to the server for presence and audit.
type UserActivity struct {
	Action     string         `json:"action"`
	EntityType string         `json:"entityType,omitempty"`
	EntityID   string         `json:"entityId,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// DecodeDataUpdate extracts a data-update payload from msg.
func DecodeDataUpdate(msg Message) (offline.DataUpdate, error) {
	var u offline.DataUpdate
	if msg.Event != EventDataUpdate {
		return u, fmt.Errorf("unexpected event %q", msg.Event)
	}
	if err := json.Unmarshal(msg.Payload, &u); err != nil {
		return u, fmt.Errorf("decoding data update: %w", err)
	}
	return u, u.Validate()
}

func newMessage(event, channel string, payload any, now time.Time) (Message, error) {
	msg := Message{Event: event, Channel: channel, Timestamp: now}
	if payload == nil {
		return msg, nil
	}
	switch p := payload.(type) {
	case json.RawMessage:
		msg.Payload = p
	case []byte:
		msg.Payload = p
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return msg, fmt.Errorf("encoding %s payload: %w", event, err)
		}
		msg.Payload = data
	}
	return msg, nil
}
