package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Outbound message types.
const (
	TypeAuthenticate = "authenticate"
	TypeChatMessage  = "chat.message"
	TypeGetHistory   = "get_history"
	TypePing         = "ping"
)

// Inbound message types. Some of them are emitted locally by the channel
// itself (connection.*, authentication.failed).
const (
	EventConnectionEstablished = "connection.established"
	EventConnectionClosed      = "connection.closed"
	EventConnectionError       = "connection.error"
	EventReconnectFailed       = "connection.reconnect_failed"
	EventAuthSuccess           = "authentication.success"
	EventAuthFailed            = "authentication.failed"
	EventChatHistory           = "chat.history"
	EventChatResponse          = "chat.response"
	EventTyping                = "ai.typing"
	EventActionFeedback        = "action.feedback"
	EventActionCompleted       = "ai.action.completed"
	EventActionFailed          = "ai.action.failed"
	EventError                 = "error"
	EventPong                  = "pong"

	EventBookingCreated   = "calendar.booking.created"
	EventBookingUpdated   = "calendar.booking.updated"
	EventBookingCancelled = "calendar.booking.cancelled"

	// Wildcard receives every event.
	Wildcard = "*"
)

var errMissingType = errors.New("message has no type")

// Event is one message as delivered to handlers: its type tag and the full
// JSON object it arrived in.
type Event struct {
	Type    string
	Payload json.RawMessage
}

// Decode unmarshals the full payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s: %w", e.Type, err)
	}
	return nil
}

// ParseEvent reads the type tag from a raw frame.
func ParseEvent(data []byte) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Event{}, err
	}
	if head.Type == "" {
		return Event{}, errMissingType
	}
	return Event{Type: head.Type, Payload: append(json.RawMessage(nil), data...)}, nil
}

// NewEvent builds an event for locally emitted notifications.
func NewEvent(typ string, payload map[string]any) Event {
	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body["type"] = typ
	b, err := json.Marshal(body)
	if err != nil {
		b = []byte(fmt.Sprintf(`{"type":%q}`, typ))
	}
	return Event{Type: typ, Payload: b}
}

type authenticateMsg struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type chatMessageMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type getHistoryMsg struct {
	Type  string `json:"type"`
	Limit int    `json:"limit"`
}

type pingMsg struct {
	Type string `json:"type"`
}

// Inbound payloads.

type ResponseMetadata struct {
	ProcessingTimeMS *float64        `json:"processing_time_ms,omitempty"`
	Entities         json.RawMessage `json:"entities,omitempty"`
	ActionsCount     *int            `json:"actions_count,omitempty"`
}

type ChatResponse struct {
	AIMessageID ID              `json:"ai_message_id"`
	Message     string          `json:"message"`
	Timestamp   string          `json:"timestamp"`
	SessionID   ID              `json:"session_id,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// DecodeMetadata returns nil when the response carries no metadata.
func (r ChatResponse) DecodeMetadata() (*ResponseMetadata, error) {
	raw := bytes.TrimSpace(r.Metadata)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var md ResponseMetadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	return &md, nil
}

type Typing struct {
	Status Flag `json:"status"`
}

type ActionFeedback struct {
	ActionID ID              `json:"action_id"`
	Status   string          `json:"status"`
	Message  string          `json:"message"`
	Result   json.RawMessage `json:"result,omitempty"`
}

type ActionCompleted struct {
	ActionID   ID              `json:"action_id"`
	ActionType string          `json:"action_type"`
	Result     json.RawMessage `json:"result,omitempty"`
}

type ActionFailed struct {
	ActionID   ID     `json:"action_id"`
	ActionType string `json:"action_type"`
	Error      string `json:"error"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

type AuthSuccess struct {
	SessionID ID `json:"session_id,omitempty"`
	UserID    ID `json:"user_id,omitempty"`
}

type ConnectionClosed struct {
	Code     int    `json:"code"`
	Reason   string `json:"reason"`
	WasClean bool   `json:"was_clean"`
}

// ID is an opaque identifier. The server sends ids as strings or numbers;
// both become the same string. Any other JSON value reads as empty.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	var v any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return err
	}
	switch t := v.(type) {
	case string:
		*id = ID(t)
	case json.Number:
		*id = ID(t.String())
	default:
		*id = ""
	}
	return nil
}

func (id ID) String() string { return string(id) }

// Flag is a boolean that also accepts "true"/"false" strings and numbers.
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case nil:
		*f = false
	case bool:
		*f = Flag(t)
	case float64:
		*f = t != 0
	case string:
		if parsed, err := strconv.ParseBool(t); err == nil {
			*f = Flag(parsed)
		} else {
			*f = t != ""
		}
	default:
		*f = true
	}
	return nil
}
