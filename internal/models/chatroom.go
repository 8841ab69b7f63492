package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// RoomStatus is the lifecycle state of a chat room.
type RoomStatus string

const (
	RoomStatusPending   RoomStatus = "pending"
	RoomStatusActive    RoomStatus = "active"
	RoomStatusCancelled RoomStatus = "cancelled"
	RoomStatusExpired   RoomStatus = "expired"
)

// ChatRoom is a two-party conversation scoped to a single listing. At most one
// non-cancelled room may exist per (listing, owner, inquirer) triple; the
// partial unique index enforces that at the store level.
type ChatRoom struct {
	ID                string         `gorm:"primaryKey;size:36" json:"id"`
	Name              string         `gorm:"size:255;not null" json:"name"`
	ListingID         string         `gorm:"size:64;not null;index:idx_chat_rooms_listing_status,priority:1;uniqueIndex:uniq_chat_rooms_triple,priority:1,where:status <> 'cancelled'" json:"listing_id"`
	OwnerID           string         `gorm:"size:64;not null;index;uniqueIndex:uniq_chat_rooms_triple,priority:2" json:"owner_id"`
	InquirerID        string         `gorm:"size:64;not null;index;uniqueIndex:uniq_chat_rooms_triple,priority:3" json:"inquirer_id"`
	Status            RoomStatus     `gorm:"size:16;not null;default:pending;index:idx_chat_rooms_listing_status,priority:2" json:"status"`
	HasMessages       bool           `gorm:"not null;default:false" json:"has_messages"`
	CurrentState      string         `gorm:"size:64;not null;default:START" json:"current_state"`
	LastMessage       string         `gorm:"type:text" json:"last_message"`
	LastMessageSender string         `gorm:"size:64" json:"last_message_sender"`
	LastMessageAt     *time.Time     `json:"last_message_at"`
	ReadBy            datatypes.JSON `gorm:"type:json" json:"read_by"`
	FirstMessageAt    *time.Time     `json:"first_message_at"`
	IsDeleted         bool           `gorm:"not null;default:false" json:"is_deleted"`
	DeletedAt         *time.Time     `json:"deleted_at"`
	DeleteExpiresAt   *time.Time     `json:"delete_expires_at"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `gorm:"index" json:"updated_at"`
}

// SenderRole identifies which side of the conversation a participant is on.
type SenderRole string

const (
	RoleOwner    SenderRole = "owner"
	RoleInquirer SenderRole = "inquirer"
)

// IsParticipant reports whether the user belongs to this room.
func (r ChatRoom) IsParticipant(userID string) bool {
	return userID != "" && (userID == r.OwnerID || userID == r.InquirerID)
}

// RoleOf resolves a participant's role from the explicit owner/inquirer
// columns. Roles are never inferred from participant ordering.
func (r ChatRoom) RoleOf(userID string) (SenderRole, bool) {
	switch userID {
	case r.OwnerID:
		return RoleOwner, true
	case r.InquirerID:
		return RoleInquirer, true
	default:
		return "", false
	}
}

// OtherParticipant returns the id of the participant opposite to userID.
func (r ChatRoom) OtherParticipant(userID string) string {
	if userID == r.OwnerID {
		return r.InquirerID
	}
	return r.OwnerID
}

// Participants returns both participant ids.
func (r ChatRoom) Participants() []string {
	return []string{r.OwnerID, r.InquirerID}
}

// ReadBySet decodes the read_by column into a set of user ids.
func (r ChatRoom) ReadBySet() map[string]struct{} {
	set := make(map[string]struct{})
	if len(r.ReadBy) == 0 {
		return set
	}

	var ids []string
	if err := json.Unmarshal(r.ReadBy, &ids); err != nil {
		return set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// HasRead reports whether the user has acknowledged the latest message.
func (r ChatRoom) HasRead(userID string) bool {
	_, ok := r.ReadBySet()[userID]
	return ok
}

// EncodeReadBy serialises a list of user ids for the read_by column.
func EncodeReadBy(ids []string) datatypes.JSON {
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(raw)
}
