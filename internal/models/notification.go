package models

import (
	"time"

	"gorm.io/datatypes"
)

// Notification is an in-app notification row targeted to a single user.
type Notification struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	UserID    string            `gorm:"size:64;not null;index" json:"user_id"`
	Type      string            `gorm:"size:64;not null" json:"type"`
	Title     string            `gorm:"size:255" json:"title"`
	Message   string            `gorm:"type:text" json:"message"`
	Data      datatypes.JSONMap `gorm:"type:json" json:"data"`
	Read      bool              `gorm:"not null;default:false" json:"read"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// PushToken is a device push token registered by a user.
type PushToken struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"size:64;not null;index" json:"user_id"`
	Token     string    `gorm:"size:255;not null;uniqueIndex" json:"token"`
	Platform  string    `gorm:"size:16" json:"platform"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NotificationPrefs holds a user's notification switches. Both the global
// switch and the chat switch must be on for a chat push to go out.
type NotificationPrefs struct {
	UserID       string    `gorm:"primaryKey;size:64" json:"user_id"`
	Enabled      bool      `gorm:"not null;default:true" json:"enabled"`
	ChatMessages bool      `gorm:"not null;default:true" json:"chat_messages"`
	UpdatedAt    time.Time `json:"updated_at"`
}
