package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/kiraya-in/kiraya-api/internal/models"
)

// RoomStats aggregates a user's conversations for the stats endpoint.
type RoomStats struct {
	Total        int64
	ActiveRecent int64
	ByStatus     map[string]int64
}

// ChatRoomRepository persists chat rooms and owns the uniqueness invariant:
// the partial unique index on (listing_id, owner_id, inquirer_id) guarantees
// at most one non-cancelled room per triple.
type ChatRoomRepository interface {
	Create(ctx context.Context, room *models.ChatRoom) error
	FindByID(ctx context.Context, id string) (models.ChatRoom, error)
	FindTriple(ctx context.Context, listingID, ownerID, inquirerID string) (models.ChatRoom, error)
	FindByListingInquirer(ctx context.Context, listingID, inquirerID string) (models.ChatRoom, error)
	ListForUser(ctx context.Context, userID string, page, limit int) ([]models.ChatRoom, int64, error)
	ListAllForUser(ctx context.Context, userID string) ([]models.ChatRoom, error)
	Activate(ctx context.Context, id string, at time.Time) error
	UpdateStatus(ctx context.Context, id string, status models.RoomStatus) error
	SetLastMessage(ctx context.Context, id, preview, senderID string, at time.Time) error
	ClearLastMessage(ctx context.Context, id string) error
	SetReadBy(ctx context.Context, id string, readers []string) error
	SetConversationState(ctx context.Context, id, state string) error
	SoftDelete(ctx context.Context, id string, at time.Time, grace time.Duration) error
	DeleteStalePending(ctx context.Context, cutoff time.Time) (int64, error)
	PurgeSoftDeleted(ctx context.Context, now time.Time) (int64, error)
	ExpireForListing(ctx context.Context, listingID string) (int64, error)
	StatsForUser(ctx context.Context, userID string) (RoomStats, error)
}

type chatRoomRepository struct {
	db *gorm.DB
}

// NewChatRoomRepository constructs a chat room repository backed by GORM.
func NewChatRoomRepository(db *gorm.DB) ChatRoomRepository {
	return &chatRoomRepository{db: db}
}

func (r *chatRoomRepository) Create(ctx context.Context, room *models.ChatRoom) error {
	return r.db.WithContext(ctx).Create(room).Error
}

func (r *chatRoomRepository) FindByID(ctx context.Context, id string) (models.ChatRoom, error) {
	var room models.ChatRoom
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&room).Error; err != nil {
		return models.ChatRoom{}, err
	}
	return room, nil
}

func (r *chatRoomRepository) FindTriple(ctx context.Context, listingID, ownerID, inquirerID string) (models.ChatRoom, error) {
	var room models.ChatRoom
	err := r.db.WithContext(ctx).
		Where("listing_id = ? AND owner_id = ? AND inquirer_id = ? AND status <> ?", listingID, ownerID, inquirerID, models.RoomStatusCancelled).
		First(&room).Error
	if err != nil {
		return models.ChatRoom{}, err
	}
	return room, nil
}

func (r *chatRoomRepository) FindByListingInquirer(ctx context.Context, listingID, inquirerID string) (models.ChatRoom, error) {
	var room models.ChatRoom
	err := r.db.WithContext(ctx).
		Where("listing_id = ? AND inquirer_id = ? AND status <> ?", listingID, inquirerID, models.RoomStatusCancelled).
		First(&room).Error
	if err != nil {
		return models.ChatRoom{}, err
	}
	return room, nil
}

func (r *chatRoomRepository) participantScope(ctx context.Context, userID string) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&models.ChatRoom{}).
		Where("(owner_id = ? OR inquirer_id = ?) AND status <> ? AND is_deleted = ?", userID, userID, models.RoomStatusCancelled, false)
}

func (r *chatRoomRepository) ListForUser(ctx context.Context, userID string, page, limit int) ([]models.ChatRoom, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if page <= 0 {
		page = 1
	}

	var total int64
	if err := r.participantScope(ctx, userID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rooms []models.ChatRoom
	err := r.participantScope(ctx, userID).
		Order("updated_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&rooms).Error
	if err != nil {
		return nil, 0, err
	}

	return rooms, total, nil
}

func (r *chatRoomRepository) ListAllForUser(ctx context.Context, userID string) ([]models.ChatRoom, error) {
	var rooms []models.ChatRoom
	if err := r.participantScope(ctx, userID).Order("updated_at DESC").Find(&rooms).Error; err != nil {
		return nil, err
	}
	return rooms, nil
}

// Activate is the idempotent pending->active transition. The guard on the
// current status keeps first_message_at stable across repeated calls.
func (r *chatRoomRepository) Activate(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.ChatRoom{}).
		Where("id = ? AND status = ?", id, models.RoomStatusPending).
		Updates(map[string]interface{}{
			"status":           models.RoomStatusActive,
			"has_messages":     true,
			"first_message_at": at,
		}).Error
}

func (r *chatRoomRepository) UpdateStatus(ctx context.Context, id string, status models.RoomStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.ChatRoom{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (r *chatRoomRepository) SetLastMessage(ctx context.Context, id, preview, senderID string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.ChatRoom{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_message":        preview,
			"last_message_sender": senderID,
			"last_message_at":     at,
			"has_messages":        true,
		}).Error
}

func (r *chatRoomRepository) ClearLastMessage(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&models.ChatRoom{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_message":        "",
			"last_message_sender": "",
			"last_message_at":     nil,
		}).Error
}

func (r *chatRoomRepository) SetReadBy(ctx context.Context, id string, readers []string) error {
	return r.db.WithContext(ctx).
		Model(&models.ChatRoom{}).
		Where("id = ?", id).
		Update("read_by", models.EncodeReadBy(readers)).Error
}

func (r *chatRoomRepository) SetConversationState(ctx context.Context, id, state string) error {
	return r.db.WithContext(ctx).
		Model(&models.ChatRoom{}).
		Where("id = ?", id).
		Update("current_state", state).Error
}

func (r *chatRoomRepository) SoftDelete(ctx context.Context, id string, at time.Time, grace time.Duration) error {
	expires := at.Add(grace)
	return r.db.WithContext(ctx).
		Model(&models.ChatRoom{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_deleted":        true,
			"deleted_at":        at,
			"delete_expires_at": expires,
		}).Error
}

// DeleteStalePending removes abandoned pending rooms together with their
// message logs in one transaction.
func (r *chatRoomRepository) DeleteStalePending(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		err := tx.Model(&models.ChatRoom{}).
			Where("status = ? AND has_messages = ? AND created_at < ?", models.RoomStatusPending, false, cutoff).
			Pluck("id", &ids).Error
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		if err := tx.Where("room_id IN ?", ids).Delete(&models.ChatMessage{}).Error; err != nil {
			return err
		}

		result := tx.Where("id IN ?", ids).Delete(&models.ChatRoom{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected
		return nil
	})
	return deleted, err
}

// PurgeSoftDeleted permanently removes rooms whose soft-delete grace window
// has elapsed, cascading to their message logs.
func (r *chatRoomRepository) PurgeSoftDeleted(ctx context.Context, now time.Time) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		err := tx.Model(&models.ChatRoom{}).
			Where("is_deleted = ? AND delete_expires_at < ?", true, now).
			Pluck("id", &ids).Error
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		if err := tx.Where("room_id IN ?", ids).Delete(&models.ChatMessage{}).Error; err != nil {
			return err
		}

		result := tx.Where("id IN ?", ids).Delete(&models.ChatRoom{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected
		return nil
	})
	return deleted, err
}

// ExpireForListing cascades a listing deletion onto its rooms.
func (r *chatRoomRepository) ExpireForListing(ctx context.Context, listingID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.ChatRoom{}).
		Where("listing_id = ? AND status IN ?", listingID, []models.RoomStatus{models.RoomStatusPending, models.RoomStatusActive}).
		Update("status", models.RoomStatusExpired)
	return result.RowsAffected, result.Error
}

func (r *chatRoomRepository) StatsForUser(ctx context.Context, userID string) (RoomStats, error) {
	stats := RoomStats{ByStatus: make(map[string]int64)}

	if err := r.participantScope(ctx, userID).Count(&stats.Total).Error; err != nil {
		return RoomStats{}, err
	}

	type statusCount struct {
		Status string
		Count  int64
	}
	var counts []statusCount
	err := r.participantScope(ctx, userID).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return RoomStats{}, err
	}
	for _, row := range counts {
		stats.ByStatus[row.Status] = row.Count
	}

	weekAgo := time.Now().Add(-7 * 24 * time.Hour)
	err = r.db.WithContext(ctx).
		Model(&models.ChatRoom{}).
		Where("(owner_id = ? OR inquirer_id = ?) AND status = ? AND updated_at >= ?", userID, userID, models.RoomStatusActive, weekAgo).
		Count(&stats.ActiveRecent).Error
	if err != nil {
		return RoomStats{}, err
	}

	return stats, nil
}
