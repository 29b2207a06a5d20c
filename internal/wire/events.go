// ABOUTME: Inbound socket protocol: envelope plus one typed variant per event kind.
// ABOUTME: Decode is exhaustive so dispatch on new event kinds fails loudly, not silently.

package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/helio-ai/console/internal/notify"
)

// ErrUnknownEvent is returned by Decode for an event kind this client does not speak.
var ErrUnknownEvent = errors.New("unknown event kind")

// EventKind identifies an inbound event on the realtime socket.
type EventKind string

const (
	EventConnected          EventKind = "connection_established"
	EventAuthError          EventKind = "auth_error"
	EventNewMessage         EventKind = "new_message"
	EventAgentResponse      EventKind = "agent_response"
	EventTypingStart        EventKind = "typing_start"
	EventTypingStop         EventKind = "typing_stop"
	EventConversationUpdate EventKind = "conversation_update"
	EventNotification       EventKind = "notification"
)

// Role identifies the author side of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message is an immutable chat message. Created when the user submits the
// composer or when the socket delivers an inbound event; never mutated.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id,omitempty"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Envelope is the raw shape of every inbound socket frame. Data carries the
// kind-specific payload and is decoded into one of the Event variants below.
type Envelope struct {
	Type           EventKind       `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	UserID         string          `json:"user_id,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	Timestamp      time.Time       `json:"timestamp,omitempty"`
}

// Event is the decoded, strongly-typed form of an inbound envelope.
type Event interface {
	Kind() EventKind
}

// ConnectedEvent acknowledges a successful authenticated handshake.
type ConnectedEvent struct {
	SessionID string    `json:"session_id"`
	At        time.Time `json:"-"`
}

func (ConnectedEvent) Kind() EventKind { return EventConnected }

// AuthErrorEvent is the server's explicit authentication rejection. The
// connection it arrives on is torn down and never retried.
type AuthErrorEvent struct {
	Reason string `json:"reason"`
}

func (AuthErrorEvent) Kind() EventKind { return EventAuthError }

// MessageEvent delivers a message authored by a (human) user in the conversation.
type MessageEvent struct {
	Message Message
}

func (MessageEvent) Kind() EventKind { return EventNewMessage }

// AgentResponseEvent delivers a message authored by the AI agent.
type AgentResponseEvent struct {
	Message Message
}

func (AgentResponseEvent) Kind() EventKind { return EventAgentResponse }

// TypingEvent signals a remote participant starting or stopping typing.
type TypingEvent struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	DisplayName    string    `json:"display_name,omitempty"`
	Role           Role      `json:"role,omitempty"`
	Started        bool      `json:"-"`
	At             time.Time `json:"-"`
}

func (e TypingEvent) Kind() EventKind {
	if e.Started {
		return EventTypingStart
	}
	return EventTypingStop
}

// ConversationUpdateEvent signals server-side conversation metadata changes.
type ConversationUpdateEvent struct {
	ConversationID string    `json:"conversation_id"`
	Status         string    `json:"status,omitempty"`
	Title          string    `json:"title,omitempty"`
	UpdatedAt      time.Time `json:"-"`
}

func (ConversationUpdateEvent) Kind() EventKind { return EventConversationUpdate }

// NotificationEvent is a generic severity-tagged notice for the user.
type NotificationEvent struct {
	Severity notify.Severity `json:"severity"`
	Message  string          `json:"message"`
	At       time.Time       `json:"-"`
}

func (NotificationEvent) Kind() EventKind { return EventNotification }

// Decode turns a raw envelope into its typed variant. Fields missing from the
// payload are backfilled from the envelope so callers never consult both.
func Decode(env Envelope) (Event, error) {
	switch env.Type {
	case EventConnected:
		var ev ConnectedEvent
		if err := unmarshalData(env.Data, &ev); err != nil {
			return nil, err
		}
		ev.At = env.Timestamp
		return ev, nil

	case EventAuthError:
		var ev AuthErrorEvent
		if err := unmarshalData(env.Data, &ev); err != nil {
			return nil, err
		}
		return ev, nil

	case EventNewMessage, EventAgentResponse:
		var msg Message
		if err := unmarshalData(env.Data, &msg); err != nil {
			return nil, err
		}
		if msg.ConversationID == "" {
			msg.ConversationID = env.ConversationID
		}
		if msg.SenderID == "" {
			msg.SenderID = env.UserID
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = env.Timestamp
		}
		if env.Type == EventAgentResponse {
			if msg.Role == "" {
				msg.Role = RoleAgent
			}
			return AgentResponseEvent{Message: msg}, nil
		}
		if msg.Role == "" {
			msg.Role = RoleUser
		}
		return MessageEvent{Message: msg}, nil

	case EventTypingStart, EventTypingStop:
		var ev TypingEvent
		if err := unmarshalData(env.Data, &ev); err != nil {
			return nil, err
		}
		if ev.ConversationID == "" {
			ev.ConversationID = env.ConversationID
		}
		if ev.UserID == "" {
			ev.UserID = env.UserID
		}
		ev.Started = env.Type == EventTypingStart
		ev.At = env.Timestamp
		return ev, nil

	case EventConversationUpdate:
		var ev ConversationUpdateEvent
		if err := unmarshalData(env.Data, &ev); err != nil {
			return nil, err
		}
		if ev.ConversationID == "" {
			ev.ConversationID = env.ConversationID
		}
		ev.UpdatedAt = env.Timestamp
		return ev, nil

	case EventNotification:
		var ev NotificationEvent
		if err := unmarshalData(env.Data, &ev); err != nil {
			return nil, err
		}
		if ev.Severity == "" {
			ev.Severity = notify.SeverityInfo
		}
		ev.At = env.Timestamp
		return ev, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}

// unmarshalData decodes the envelope payload, treating an absent payload as empty.
func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding event payload: %w", err)
	}
	return nil
}
