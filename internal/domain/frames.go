package domain

import (
	"encoding/json"
	"strconv"
	"time"
)

// Frame types on the wire.
const (
	FrameConnectionEstablished = "connection_established"
	FrameError                 = "error"
	FrameChatMessage           = "chat_message"
	FrameTyping                = "typing"
)

// Inbound is a decoded client frame: one of ChatMessageFrame, TypingFrame,
// MalformedFrame or UnknownFrame.
type Inbound interface {
	inbound()
}

// ChatMessageFrame carries untrimmed message text.
type ChatMessageFrame struct {
	Text string
}

type TypingFrame struct {
	IsTyping bool
}

// MalformedFrame is a frame that could not be decoded.
type MalformedFrame struct {
	Reason string
}

// UnknownFrame is a well-formed frame the gateway does not handle.
type UnknownFrame struct {
	Type string
}

func (ChatMessageFrame) inbound() {}
func (TypingFrame) inbound()      {}
func (MalformedFrame) inbound()   {}
func (UnknownFrame) inbound()     {}

// DecodeInbound decodes a client frame. A frame with a missing or
// unrecognised type counts as a chat message when it has a message field.
func DecodeInbound(data []byte) Inbound {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return MalformedFrame{Reason: "Invalid JSON"}
	}

	var frameType string
	if raw, ok := fields["type"]; ok {
		if err := json.Unmarshal(raw, &frameType); err != nil {
			return MalformedFrame{Reason: "type must be a string"}
		}
	}

	switch frameType {
	case FrameChatMessage:
		return decodeChat(fields)
	case FrameTyping:
		var isTyping bool
		if raw, ok := fields["is_typing"]; ok {
			if err := json.Unmarshal(raw, &isTyping); err != nil {
				return MalformedFrame{Reason: "is_typing must be a boolean"}
			}
		}
		return TypingFrame{IsTyping: isTyping}
	default:
		if _, ok := fields["message"]; ok {
			return decodeChat(fields)
		}
		return UnknownFrame{Type: frameType}
	}
}

func decodeChat(fields map[string]json.RawMessage) Inbound {
	var text string
	if raw, ok := fields["message"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &text); err != nil {
			return MalformedFrame{Reason: "message must be a string"}
		}
	}
	return ChatMessageFrame{Text: text}
}

// Outbound frames.

type ConnectionEstablishedFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ChatMessageOut struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	MessageID string `json:"message_id"`
	CreatedAt string `json:"created_at"`
}

type TypingOut struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

func NewConnectionEstablished() *ConnectionEstablishedFrame {
	return &ConnectionEstablishedFrame{Type: FrameConnectionEstablished, Message: "Connected to chat"}
}

func NewErrorFrame(message string) *ErrorFrame {
	return &ErrorFrame{Type: FrameError, Message: message}
}

// NewChatMessageOut renders a persisted message for broadcast. The id is sent
// as a decimal string; snowflake ids exceed what float64 clients can hold.
func NewChatMessageOut(m *Message) *ChatMessageOut {
	out := &ChatMessageOut{
		Type:      FrameChatMessage,
		Message:   m.Content,
		Username:  m.SenderName,
		MessageID: strconv.FormatInt(m.ID, 10),
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if m.SenderID != nil {
		out.UserID = *m.SenderID
	}
	return out
}

func NewTypingOut(e PresenceEvent) *TypingOut {
	return &TypingOut{
		Type:     FrameTyping,
		UserID:   e.UserID,
		Username: e.Username,
		IsTyping: e.IsTyping,
	}
}

// Encode marshals an outbound frame once so it can be shared by every recipient.
func Encode(frame interface{}) ([]byte, error) {
	return json.Marshal(frame)
}
