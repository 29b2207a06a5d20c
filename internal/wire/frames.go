// ABOUTME: Outbound socket protocol: one constructor per control frame.
// ABOUTME: Frames are fire-and-forget; the server stamps authoritative timestamps.

package wire

import "time"

// FrameType identifies an outbound control frame.
type FrameType string

const (
	FrameJoin        FrameType = "join_conversation"
	FrameLeave       FrameType = "leave_conversation"
	FrameSend        FrameType = "send_message"
	FrameTypingStart FrameType = "typing_start"
	FrameTypingStop  FrameType = "typing_stop"
)

// Frame is the shape of every outbound socket frame.
type Frame struct {
	Type           FrameType `json:"type"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Message        *Message  `json:"message,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// JoinFrame subscribes the session to a conversation's events.
func JoinFrame(conversationID string) Frame {
	return Frame{Type: FrameJoin, ConversationID: conversationID, Timestamp: time.Now().UTC()}
}

// LeaveFrame unsubscribes the session from a conversation's events.
func LeaveFrame(conversationID string) Frame {
	return Frame{Type: FrameLeave, ConversationID: conversationID, Timestamp: time.Now().UTC()}
}

// SendFrame transmits a chat message. The frame timestamp is when the client
// handed the message to the transport, not the message's display time.
func SendFrame(msg Message) Frame {
	return Frame{
		Type:           FrameSend,
		ConversationID: msg.ConversationID,
		Message:        &msg,
		Timestamp:      time.Now().UTC(),
	}
}

// TypingFrame broadcasts a typing start or stop signal for a conversation.
func TypingFrame(conversationID string, started bool) Frame {
	t := FrameTypingStop
	if started {
		t = FrameTypingStart
	}
	return Frame{Type: t, ConversationID: conversationID, Timestamp: time.Now().UTC()}
}
