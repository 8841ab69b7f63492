package dto

import (
	"time"

	"github.com/kiraya-in/kiraya-api/internal/models"
)

// CreateRoomRequest opens (or returns) the room for a listing inquiry. The
// inquirer is taken from the authenticated identity, never from the payload.
type CreateRoomRequest struct {
	ListingID    string `json:"listing_id" validate:"required,max=64"`
	OwnerID      string `json:"owner_id" validate:"required,max=64"`
	ListingTitle string `json:"listing_title" validate:"max=255"`
}

// RoomResponse is the serialized representation of a chat room.
type RoomResponse struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	ListingID         string     `json:"listing_id"`
	OwnerID           string     `json:"owner_id"`
	InquirerID        string     `json:"inquirer_id"`
	Status            string     `json:"status"`
	HasMessages       bool       `json:"has_messages"`
	CurrentState      string     `json:"current_state"`
	LastMessage       string     `json:"last_message,omitempty"`
	LastMessageSender string     `json:"last_message_sender,omitempty"`
	LastMessageAt     *time.Time `json:"last_message_at,omitempty"`
	ReadBy            []string   `json:"read_by"`
	FirstMessageAt    *time.Time `json:"first_message_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// NewRoomResponse converts a room model into a DTO.
func NewRoomResponse(room models.ChatRoom) RoomResponse {
	readBy := make([]string, 0, 2)
	for id := range room.ReadBySet() {
		readBy = append(readBy, id)
	}

	return RoomResponse{
		ID:                room.ID,
		Name:              room.Name,
		ListingID:         room.ListingID,
		OwnerID:           room.OwnerID,
		InquirerID:        room.InquirerID,
		Status:            string(room.Status),
		HasMessages:       room.HasMessages,
		CurrentState:      room.CurrentState,
		LastMessage:       room.LastMessage,
		LastMessageSender: room.LastMessageSender,
		LastMessageAt:     room.LastMessageAt,
		ReadBy:            readBy,
		FirstMessageAt:    room.FirstMessageAt,
		CreatedAt:         room.CreatedAt,
		UpdatedAt:         room.UpdatedAt,
	}
}

// NewRoomResponseSlice converts a slice of room models into DTOs.
func NewRoomResponseSlice(rooms []models.ChatRoom) []RoomResponse {
	out := make([]RoomResponse, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, NewRoomResponse(room))
	}
	return out
}

// CreateRoomResponse reports the room behind a create call and whether it
// already existed.
type CreateRoomResponse struct {
	RoomID      string `json:"room_id"`
	IsNew       bool   `json:"is_new"`
	Status      string `json:"status"`
	HasMessages bool   `json:"has_messages"`
}

// CheckRoomResponse reports whether a non-cancelled room already exists for
// the listing and the requesting inquirer.
type CheckRoomResponse struct {
	Exists      bool   `json:"exists"`
	RoomID      string `json:"room_id,omitempty"`
	Status      string `json:"status,omitempty"`
	HasMessages bool   `json:"has_messages,omitempty"`
}

// Pagination describes the page window of a list response.
type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int64 `json:"pages"`
}

// RoomListResponse is a page of a user's rooms, most recent activity first.
type RoomListResponse struct {
	Rooms      []RoomResponse `json:"rooms"`
	Pagination Pagination     `json:"pagination"`
}

// RoomStatsResponse summarises a user's conversations.
type RoomStatsResponse struct {
	TotalRooms          int64            `json:"total_rooms"`
	ActiveConversations int64            `json:"active_conversations"`
	ByStatus            map[string]int64 `json:"by_status"`
}

// CleanupResponse reports the result of a manual sweep.
type CleanupResponse struct {
	RoomsDeleted int64     `json:"rooms_deleted"`
	Timestamp    time.Time `json:"timestamp"`
}
