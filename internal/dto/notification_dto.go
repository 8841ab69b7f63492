package dto

import (
	"time"

	"github.com/kiraya-in/kiraya-api/internal/models"
)

// NotificationResponse represents notification data returned to clients.
type NotificationResponse struct {
	ID        uint              `json:"id"`
	UserID    string            `json:"user_id"`
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Data      map[string]string `json:"data,omitempty"`
	Read      bool              `json:"read"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewNotificationResponse converts a notification model to a DTO.
func NewNotificationResponse(model models.Notification) NotificationResponse {
	response := NotificationResponse{
		ID:        model.ID,
		UserID:    model.UserID,
		Type:      model.Type,
		Title:     model.Title,
		Message:   model.Message,
		Read:      model.Read,
		CreatedAt: model.CreatedAt,
	}
	if model.Data != nil {
		response.Data = make(map[string]string)
		for key, value := range model.Data {
			if str, ok := value.(string); ok {
				response.Data[key] = str
			}
		}
	}
	return response
}

// NewNotificationResponseSlice converts a slice to DTOs.
func NewNotificationResponseSlice(items []models.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewNotificationResponse(item))
	}
	return out
}

// RegisterPushTokenRequest registers a device token for the caller.
type RegisterPushTokenRequest struct {
	Token    string `json:"token" validate:"required,max=255"`
	Platform string `json:"platform" validate:"omitempty,oneof=ios android web"`
}

// RemovePushTokenRequest unregisters a device token.
type RemovePushTokenRequest struct {
	Token string `json:"token" validate:"required,max=255"`
}

// UpdatePrefsRequest flips the caller's notification switches.
type UpdatePrefsRequest struct {
	Enabled      *bool `json:"enabled"`
	ChatMessages *bool `json:"chat_messages"`
}
