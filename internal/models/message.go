package models

import "time"

// MessageKind distinguishes the two message shapes in a room's log.
type MessageKind string

const (
	// MessageKindOption is a menu-driven message carrying a conversation
	// state transition.
	MessageKindOption MessageKind = "option"
	// MessageKindFreetext is an unstructured user-typed message.
	MessageKindFreetext MessageKind = "freetext"
)

// MessageStatus tracks delivery acknowledgement of a message.
type MessageStatus string

const (
	MessageStatusSent MessageStatus = "sent"
	MessageStatusSeen MessageStatus = "seen"
)

// ChatMessage is one entry in a room's append-only log. The numeric primary
// key provides append order within a room; MessageID is the stable public
// identity used by clients (deletion, acknowledgement).
type ChatMessage struct {
	ID          uint          `gorm:"primaryKey" json:"-"`
	MessageID   string        `gorm:"size:36;not null;uniqueIndex" json:"id"`
	RoomID      string        `gorm:"size:36;not null;index" json:"room_id"`
	SenderID    string        `gorm:"size:64;not null;index" json:"sender_id"`
	SenderRole  SenderRole    `gorm:"size:16;not null" json:"sender_role"`
	Kind        MessageKind   `gorm:"size:16;not null" json:"kind"`
	OptionID    string        `gorm:"size:64" json:"option_id,omitempty"`
	OptionLabel string        `gorm:"size:255" json:"option_label,omitempty"`
	NextState   string        `gorm:"size:64" json:"next_state,omitempty"`
	Body        string        `gorm:"type:text" json:"body,omitempty"`
	Status      MessageStatus `gorm:"size:16;not null;default:sent" json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"-"`
}

// Preview returns the text snapshot stored on the room as last_message.
func (m ChatMessage) Preview() string {
	if m.Kind == MessageKindOption {
		return m.OptionLabel
	}
	return m.Body
}
