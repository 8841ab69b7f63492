package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kiraya-in/kiraya-api/internal/models"
)

// NotificationRepository handles persistence for notifications, device push
// tokens and per-user notification preferences.
type NotificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Notification, error)
	MarkRead(ctx context.Context, id uint, userID string) (models.Notification, error)
	RegisterToken(ctx context.Context, token *models.PushToken) error
	RemoveToken(ctx context.Context, userID, token string) error
	TokensForUser(ctx context.Context, userID string) ([]models.PushToken, error)
	PrefsFor(ctx context.Context, userID string) (models.NotificationPrefs, error)
	UpsertPrefs(ctx context.Context, prefs *models.NotificationPrefs) error
}

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository constructs a repository backed by GORM.
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

func (r *notificationRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var notifications []models.Notification
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&notifications).Error
	if err != nil {
		return nil, err
	}

	return notifications, nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, id uint, userID string) (models.Notification, error) {
	var notification models.Notification
	if err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&notification).Error; err != nil {
		return models.Notification{}, err
	}

	if notification.Read {
		return notification, nil
	}

	notification.Read = true
	if err := r.db.WithContext(ctx).Save(&notification).Error; err != nil {
		return models.Notification{}, err
	}

	return notification, nil
}

func (r *notificationRepository) RegisterToken(ctx context.Context, token *models.PushToken) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "token"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id", "platform", "updated_at"}),
		}).
		Create(token).Error
}

func (r *notificationRepository) RemoveToken(ctx context.Context, userID, token string) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND token = ?", userID, token).
		Delete(&models.PushToken{}).Error
}

func (r *notificationRepository) TokensForUser(ctx context.Context, userID string) ([]models.PushToken, error) {
	var tokens []models.PushToken
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&tokens).Error; err != nil {
		return nil, err
	}
	return tokens, nil
}

// PrefsFor returns the stored preferences, or the defaults (everything
// enabled) when the user never changed them.
func (r *notificationRepository) PrefsFor(ctx context.Context, userID string) (models.NotificationPrefs, error) {
	var prefs models.NotificationPrefs
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&prefs).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.NotificationPrefs{UserID: userID, Enabled: true, ChatMessages: true}, nil
		}
		return models.NotificationPrefs{}, err
	}
	return prefs, nil
}

func (r *notificationRepository) UpsertPrefs(ctx context.Context, prefs *models.NotificationPrefs) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"enabled", "chat_messages", "updated_at"}),
		}).
		Create(prefs).Error
}
