package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/kiraya-in/kiraya-api/internal/models"
)

// MessageRepository persists the append-only per-room message log. Append
// order is the numeric primary key, not wall-clock reconciliation.
type MessageRepository interface {
	Append(ctx context.Context, message *models.ChatMessage) error
	ListByRoom(ctx context.Context, roomID string) ([]models.ChatMessage, error)
	FindByMessageID(ctx context.Context, roomID, messageID string) (models.ChatMessage, error)
	Delete(ctx context.Context, roomID, messageID string) error
	LatestByRoom(ctx context.Context, roomID string) (models.ChatMessage, error)
	MarkSeen(ctx context.Context, roomID, readerID string) error
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository constructs a message repository backed by GORM.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Append(ctx context.Context, message *models.ChatMessage) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *messageRepository) ListByRoom(ctx context.Context, roomID string) ([]models.ChatMessage, error) {
	var messages []models.ChatMessage
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *messageRepository) FindByMessageID(ctx context.Context, roomID, messageID string) (models.ChatMessage, error) {
	var message models.ChatMessage
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND message_id = ?", roomID, messageID).
		First(&message).Error
	if err != nil {
		return models.ChatMessage{}, err
	}
	return message, nil
}

func (r *messageRepository) Delete(ctx context.Context, roomID, messageID string) error {
	return r.db.WithContext(ctx).
		Where("room_id = ? AND message_id = ?", roomID, messageID).
		Delete(&models.ChatMessage{}).Error
}

func (r *messageRepository) LatestByRoom(ctx context.Context, roomID string) (models.ChatMessage, error) {
	var message models.ChatMessage
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("id DESC").
		First(&message).Error
	if err != nil {
		return models.ChatMessage{}, err
	}
	return message, nil
}

// MarkSeen flips messages from the other participant to seen once the reader
// acknowledges the room.
func (r *messageRepository) MarkSeen(ctx context.Context, roomID, readerID string) error {
	return r.db.WithContext(ctx).
		Model(&models.ChatMessage{}).
		Where("room_id = ? AND sender_id <> ? AND status = ?", roomID, readerID, models.MessageStatusSent).
		Update("status", models.MessageStatusSeen).Error
}
