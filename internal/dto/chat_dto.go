package dto

import (
	"encoding/json"
	"time"

	"github.com/kiraya-in/kiraya-api/internal/models"
)

// Client-to-server event names understood by the chat gateway.
const (
	EventJoin          = "join"
	EventSend          = "send"
	EventMarkRead      = "mark_read"
	EventDeleteMessage = "delete_message"
	EventTyping        = "typing"
	EventLeave         = "leave"
	EventGetPresence   = "get_presence"
)

// Server-to-client event names emitted by the chat gateway.
const (
	EventInitialData    = "initial_data"
	EventUserJoined     = "user_joined"
	EventNewMessage     = "new_message"
	EventUnreadStatus   = "unread_status"
	EventGlobalUnread   = "global_unread"
	EventMessageDeleted = "message_deleted"
	EventUserTyping     = "user_typing"
	EventPresence       = "presence"
	EventError          = "error"
)

// ClientFrame is the envelope for every frame a client sends over the
// websocket. Payload is decoded per event.
type ClientFrame struct {
	Event   string          `json:"event" validate:"required"`
	Payload json.RawMessage `json:"payload"`
}

// ServerFrame is the envelope for every frame the gateway emits.
type ServerFrame struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

// JoinPayload asks the gateway to join the connection to a room.
type JoinPayload struct {
	RoomID string `json:"room_id" validate:"required,max=36"`
}

// SendPayload carries a new chat message. Option messages must name the
// selected option and the resulting conversation state; freetext messages
// carry a body of at most 500 characters after trimming.
type SendPayload struct {
	RoomID      string `json:"room_id" validate:"required,max=36"`
	Kind        string `json:"kind" validate:"required,oneof=option freetext"`
	OptionID    string `json:"option_id" validate:"required_if=Kind option,max=64"`
	OptionLabel string `json:"option_label" validate:"required_if=Kind option,max=255"`
	NextState   string `json:"next_state" validate:"required_if=Kind option,max=64"`
	Body        string `json:"body" validate:"max=2000"`
}

// MarkReadPayload acknowledges the latest message in a room.
type MarkReadPayload struct {
	RoomID string `json:"room_id" validate:"required,max=36"`
}

// DeleteMessagePayload removes one of the sender's own messages.
type DeleteMessagePayload struct {
	RoomID    string `json:"room_id" validate:"required,max=36"`
	MessageID string `json:"message_id" validate:"required,max=36"`
}

// TypingPayload fans a typing indicator out to the room.
type TypingPayload struct {
	RoomID   string `json:"room_id" validate:"required,max=36"`
	IsTyping bool   `json:"is_typing"`
}

// LeavePayload detaches the connection from a room.
type LeavePayload struct {
	RoomID string `json:"room_id" validate:"required,max=36"`
}

// GetPresencePayload requests a presence snapshot for a room.
type GetPresencePayload struct {
	RoomID string `json:"room_id" validate:"required,max=36"`
}

// MessageResponse is the serialized representation of one log entry.
type MessageResponse struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"room_id"`
	SenderID    string    `json:"sender_id"`
	SenderRole  string    `json:"sender_role"`
	Kind        string    `json:"kind"`
	OptionID    string    `json:"option_id,omitempty"`
	OptionLabel string    `json:"option_label,omitempty"`
	NextState   string    `json:"next_state,omitempty"`
	Body        string    `json:"body,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewMessageResponse converts a model into a DTO.
func NewMessageResponse(message models.ChatMessage) MessageResponse {
	return MessageResponse{
		ID:          message.MessageID,
		RoomID:      message.RoomID,
		SenderID:    message.SenderID,
		SenderRole:  string(message.SenderRole),
		Kind:        string(message.Kind),
		OptionID:    message.OptionID,
		OptionLabel: message.OptionLabel,
		NextState:   message.NextState,
		Body:        message.Body,
		Status:      string(message.Status),
		CreatedAt:   message.CreatedAt,
	}
}

// NewMessageResponseSlice converts a slice of models into DTOs.
func NewMessageResponseSlice(messages []models.ChatMessage) []MessageResponse {
	out := make([]MessageResponse, 0, len(messages))
	for _, message := range messages {
		out = append(out, NewMessageResponse(message))
	}
	return out
}

// InitialData hydrates a freshly joined connection with the room's history,
// conversation state and a presence snapshot.
type InitialData struct {
	Room       RoomResponse      `json:"room"`
	Messages   []MessageResponse `json:"messages"`
	State      string            `json:"state"`
	Role       string            `json:"role"`
	Presence   map[string]bool   `json:"presence"`
	UnreadByID map[string]bool   `json:"unread"`
}

// UserJoined announces a participant joining the room.
type UserJoined struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

// UnreadStatus reports, per participant, whether the room's latest message
// is still unacknowledged by them.
type UnreadStatus struct {
	RoomID string          `json:"room_id"`
	Unread map[string]bool `json:"unread"`
}

// GlobalUnread is the per-user badge count of rooms with an outstanding
// unread flag, delivered on the personal channel.
type GlobalUnread struct {
	UserID string `json:"user_id"`
	Count  int64  `json:"count"`
}

// MessageDeleted announces removal of a message together with the room's
// recomputed last-message snapshot (nil when the log is now empty).
type MessageDeleted struct {
	RoomID      string           `json:"room_id"`
	MessageID   string           `json:"message_id"`
	LastMessage *MessageResponse `json:"last_message"`
}

// UserTyping fans out a typing indicator.
type UserTyping struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// PresenceUpdate reports the online flag for every participant of a room.
type PresenceUpdate struct {
	RoomID string          `json:"room_id"`
	Online map[string]bool `json:"online"`
}

// ErrorReply is returned to the requesting connection only; failed
// operations are never broadcast to other participants.
type ErrorReply struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ChatHistoryQuery represents query filters for retrieving chat history.
type ChatHistoryQuery struct {
	RoomID string `query:"room_id" validate:"required,max=36"`
}
