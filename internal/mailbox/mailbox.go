// Package mailbox implements per-recipient message files with at-most-once
// delivery: every message is consumed by exactly one poller, and order
// within an inbox is insertion order.
package mailbox

import (
	"encoding/json"
	"strings"
)

// Type classifies a message. The set is closed; senders must pick one.
type Type string

const (
	TypeText             Type = "text"
	TypeIdleNotification Type = "idle_notification"
	TypeShutdownRequest  Type = "shutdown_request"
	TypeTaskAssignment   Type = "task_assignment"
	TypeStatusQuery      Type = "status_query"
	TypeStatusReply      Type = "status_reply"
)

// Valid reports whether the type is a known value.
func (t Type) Valid() bool {
	switch t {
	case TypeText, TypeIdleNotification, TypeShutdownRequest,
		TypeTaskAssignment, TypeStatusQuery, TypeStatusReply:
		return true
	}
	return false
}

// Message is one inbox entry.
type Message struct {
	ID        string          `json:"id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp string          `json:"timestamp"`
	Read      bool            `json:"read"`
}

// PayloadText renders the payload for display: JSON strings unwrap to their
// verbatim text, anything else stays compact JSON.
func (m *Message) PayloadText() string {
	var s string
	if err := json.Unmarshal(m.Payload, &s); err == nil {
		return s
	}
	return string(m.Payload)
}

// Inbox is the stored per-recipient document.
type Inbox struct {
	Messages []Message `json:"messages"`
}

// Payload converts caller input into a stored payload: text that parses as
// JSON is preserved structurally, anything else is stored verbatim as a
// JSON string.
func Payload(text string) json.RawMessage {
	trimmed := strings.TrimSpace(text)
	if trimmed != "" && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	encoded, err := json.Marshal(text)
	if err != nil {
		return json.RawMessage(`""`)
	}
	return json.RawMessage(encoded)
}
