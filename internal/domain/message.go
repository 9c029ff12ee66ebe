package domain

import "time"

// Message is a persisted chat entry. ID and CreatedAt are assigned by the
// message store; SenderID is nil once the sender has been deleted.
type Message struct {
	ID         int64     `json:"id"`
	RoomID     string    `json:"room_id"`
	SenderID   *string   `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// Before reports whether m sorts before o in canonical history order.
func (m *Message) Before(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

// PresenceEvent is a transient typing indicator. It is never persisted.
type PresenceEvent struct {
	UserID   string
	Username string
	RoomID   string
	IsTyping bool
}
