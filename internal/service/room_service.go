package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/kiraya-in/kiraya-api/internal/dto"
	"github.com/kiraya-in/kiraya-api/internal/models"
	"github.com/kiraya-in/kiraya-api/internal/observability"
	"github.com/kiraya-in/kiraya-api/internal/repository"
)

const defaultRoomName = "Listing inquiry"

// RoomService is the room registry: it owns the chat-room lifecycle, the
// one-room-per-triple invariant and the cleanup sweeps.
type RoomService interface {
	FindOrCreateRoom(ctx context.Context, inquirerID string, payload dto.CreateRoomRequest) (dto.CreateRoomResponse, error)
	CheckRoom(ctx context.Context, listingID, inquirerID string) (dto.CheckRoomResponse, error)
	GetRoom(ctx context.Context, roomID, requesterID string) (dto.RoomResponse, error)
	Room(ctx context.Context, roomID string) (models.ChatRoom, error)
	ListRooms(ctx context.Context, userID string, page, limit int) (dto.RoomListResponse, error)
	Stats(ctx context.Context, userID string) (dto.RoomStatsResponse, error)
	Cancel(ctx context.Context, roomID, requesterID string) error
	Delete(ctx context.Context, roomID, requesterID string) error
	ActivateOnFirstMessage(ctx context.Context, roomID string) error
	MarkRead(ctx context.Context, roomID, userID string) (models.ChatRoom, error)
	UnreadRoomCount(ctx context.Context, userID string) (int64, error)
	ExpireForListing(ctx context.Context, listingID string) (int64, error)
	CleanupPendingRooms(ctx context.Context) (int64, error)
	PurgeDeletedRooms(ctx context.Context) (int64, error)
}

type roomService struct {
	rooms        repository.ChatRoomRepository
	validator    *validator.Validate
	logger       zerolog.Logger
	tracer       trace.Tracer
	pendingAge   time.Duration
	deletedGrace time.Duration
	now          func() time.Time
}

// NewRoomService constructs the room registry service.
func NewRoomService(rooms repository.ChatRoomRepository, validate *validator.Validate, pendingAge, deletedGrace time.Duration, logger zerolog.Logger) RoomService {
	if pendingAge <= 0 {
		pendingAge = 24 * time.Hour
	}
	if deletedGrace <= 0 {
		deletedGrace = 72 * time.Hour
	}

	return &roomService{
		rooms:        rooms,
		validator:    validate,
		logger:       logger.With().Str("component", "room_service").Logger(),
		tracer:       otel.Tracer("github.com/kiraya-in/kiraya-api/internal/service/room"),
		pendingAge:   pendingAge,
		deletedGrace: deletedGrace,
		now:          time.Now,
	}
}

// FindOrCreateRoom returns the existing non-cancelled room for the triple or
// creates one in pending state. Two concurrent calls for the same triple may
// both attempt the insert; the partial unique index rejects the loser, which
// refetches and returns the winner's room instead of surfacing a conflict.
func (s *roomService) FindOrCreateRoom(ctx context.Context, inquirerID string, payload dto.CreateRoomRequest) (dto.CreateRoomResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.CreateRoomResponse{}, err
	}

	if inquirerID == "" || inquirerID == payload.OwnerID {
		return dto.CreateRoomResponse{}, ErrInvalidRequest
	}

	spanCtx, span := s.tracer.Start(ctx, "room.find_or_create", trace.WithAttributes(
		attribute.String("room.listing_id", payload.ListingID),
		attribute.String("room.inquirer_id", inquirerID),
	))
	defer span.End()

	if existing, err := s.rooms.FindTriple(spanCtx, payload.ListingID, payload.OwnerID, inquirerID); err == nil {
		return dto.CreateRoomResponse{
			RoomID:      existing.ID,
			IsNew:       false,
			Status:      string(existing.Status),
			HasMessages: existing.HasMessages,
		}, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		span.RecordError(err)
		return dto.CreateRoomResponse{}, err
	}

	name := strings.TrimSpace(payload.ListingTitle)
	if name == "" {
		name = defaultRoomName
	}

	room := models.ChatRoom{
		ID:         uuid.NewString(),
		Name:       name,
		ListingID:  payload.ListingID,
		OwnerID:    payload.OwnerID,
		InquirerID: inquirerID,
		Status:     models.RoomStatusPending,
		ReadBy:     models.EncodeReadBy(nil),
	}

	if err := s.rooms.Create(spanCtx, &room); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			existing, findErr := s.rooms.FindTriple(spanCtx, payload.ListingID, payload.OwnerID, inquirerID)
			if findErr != nil {
				span.RecordError(findErr)
				return dto.CreateRoomResponse{}, findErr
			}
			return dto.CreateRoomResponse{
				RoomID:      existing.ID,
				IsNew:       false,
				Status:      string(existing.Status),
				HasMessages: existing.HasMessages,
			}, nil
		}
		span.RecordError(err)
		return dto.CreateRoomResponse{}, err
	}

	s.logger.Info().Str("room_id", room.ID).Str("listing_id", room.ListingID).Msg("pending chat room created")

	return dto.CreateRoomResponse{
		RoomID:      room.ID,
		IsNew:       true,
		Status:      string(room.Status),
		HasMessages: false,
	}, nil
}

func (s *roomService) CheckRoom(ctx context.Context, listingID, inquirerID string) (dto.CheckRoomResponse, error) {
	if strings.TrimSpace(listingID) == "" {
		return dto.CheckRoomResponse{}, ErrInvalidRequest
	}

	room, err := s.rooms.FindByListingInquirer(ctx, listingID, inquirerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.CheckRoomResponse{Exists: false}, nil
		}
		return dto.CheckRoomResponse{}, err
	}

	return dto.CheckRoomResponse{
		Exists:      true,
		RoomID:      room.ID,
		Status:      string(room.Status),
		HasMessages: room.HasMessages,
	}, nil
}

func (s *roomService) GetRoom(ctx context.Context, roomID, requesterID string) (dto.RoomResponse, error) {
	room, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return dto.RoomResponse{}, err
	}

	if !room.IsParticipant(requesterID) {
		return dto.RoomResponse{}, ErrForbidden
	}

	return dto.NewRoomResponse(room), nil
}

// Room loads the raw room model for internal callers that need the full
// participant and read-set view rather than the API shape.
func (s *roomService) Room(ctx context.Context, roomID string) (models.ChatRoom, error) {
	return s.loadRoom(ctx, roomID)
}

func (s *roomService) ListRooms(ctx context.Context, userID string, page, limit int) (dto.RoomListResponse, error) {
	rooms, total, err := s.rooms.ListForUser(ctx, userID, page, limit)
	if err != nil {
		return dto.RoomListResponse{}, err
	}

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if page <= 0 {
		page = 1
	}

	pages := total / int64(limit)
	if total%int64(limit) != 0 {
		pages++
	}

	return dto.RoomListResponse{
		Rooms: dto.NewRoomResponseSlice(rooms),
		Pagination: dto.Pagination{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: pages,
		},
	}, nil
}

func (s *roomService) Stats(ctx context.Context, userID string) (dto.RoomStatsResponse, error) {
	stats, err := s.rooms.StatsForUser(ctx, userID)
	if err != nil {
		return dto.RoomStatsResponse{}, err
	}

	return dto.RoomStatsResponse{
		TotalRooms:          stats.Total,
		ActiveConversations: stats.ActiveRecent,
		ByStatus:            stats.ByStatus,
	}, nil
}

// Cancel marks the room cancelled. Non-participants get ErrNotFound rather
// than ErrForbidden so the call does not reveal whether the room exists.
func (s *roomService) Cancel(ctx context.Context, roomID, requesterID string) error {
	room, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return err
	}

	if !room.IsParticipant(requesterID) {
		return ErrNotFound
	}

	if err := s.rooms.UpdateStatus(ctx, room.ID, models.RoomStatusCancelled); err != nil {
		return err
	}

	s.logger.Info().Str("room_id", room.ID).Str("user_id", requesterID).Msg("chat room cancelled")
	return nil
}

// Delete soft-deletes the room; a later purge sweep removes it for good once
// the grace window has elapsed.
func (s *roomService) Delete(ctx context.Context, roomID, requesterID string) error {
	room, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return err
	}

	if !room.IsParticipant(requesterID) {
		return ErrNotFound
	}

	return s.rooms.SoftDelete(ctx, room.ID, s.now(), s.deletedGrace)
}

// ActivateOnFirstMessage performs the idempotent pending->active transition.
// Repeated calls leave first_message_at untouched.
func (s *roomService) ActivateOnFirstMessage(ctx context.Context, roomID string) error {
	return s.rooms.Activate(ctx, roomID, s.now())
}

// MarkRead adds the user to the room's read set and flips their pending
// messages to seen. Returns the updated room for unread recomputation.
func (s *roomService) MarkRead(ctx context.Context, roomID, userID string) (models.ChatRoom, error) {
	room, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return models.ChatRoom{}, err
	}

	if !room.IsParticipant(userID) {
		return models.ChatRoom{}, ErrForbidden
	}

	readers := room.ReadBySet()
	if _, already := readers[userID]; already {
		return room, nil
	}

	ids := make([]string, 0, len(readers)+1)
	for id := range readers {
		ids = append(ids, id)
	}
	ids = append(ids, userID)

	if err := s.rooms.SetReadBy(ctx, room.ID, ids); err != nil {
		return models.ChatRoom{}, err
	}

	room.ReadBy = models.EncodeReadBy(ids)
	return room, nil
}

// UnreadRoomCount is the user's global badge: the number of their rooms whose
// latest message they have not acknowledged.
func (s *roomService) UnreadRoomCount(ctx context.Context, userID string) (int64, error) {
	rooms, err := s.rooms.ListAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	var count int64
	for _, room := range rooms {
		if !room.HasMessages || room.LastMessageSender == userID {
			continue
		}
		if !room.HasRead(userID) {
			count++
		}
	}
	return count, nil
}

// ExpireForListing cascades a listing deletion onto its open rooms.
func (s *roomService) ExpireForListing(ctx context.Context, listingID string) (int64, error) {
	expired, err := s.rooms.ExpireForListing(ctx, listingID)
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		s.logger.Info().Str("listing_id", listingID).Int64("rooms", expired).Msg("rooms expired with listing")
	}
	return expired, nil
}

// CleanupPendingRooms deletes rooms that never received a message within the
// pending window, cascading to their message logs. It is invoked by an
// external scheduler or the admin endpoint, never by an embedded timer.
func (s *roomService) CleanupPendingRooms(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.pendingAge)
	deleted, err := s.rooms.DeleteStalePending(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		observability.RoomSweepDeleted().WithLabelValues("pending").Add(float64(deleted))
		s.logger.Info().Int64("rooms", deleted).Msg("stale pending rooms removed")
	}
	return deleted, nil
}

// PurgeDeletedRooms permanently removes soft-deleted rooms past their grace
// window.
func (s *roomService) PurgeDeletedRooms(ctx context.Context) (int64, error) {
	deleted, err := s.rooms.PurgeSoftDeleted(ctx, s.now())
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		observability.RoomSweepDeleted().WithLabelValues("purge").Add(float64(deleted))
		s.logger.Info().Int64("rooms", deleted).Msg("soft-deleted rooms purged")
	}
	return deleted, nil
}

func (s *roomService) loadRoom(ctx context.Context, roomID string) (models.ChatRoom, error) {
	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ChatRoom{}, ErrNotFound
		}
		return models.ChatRoom{}, err
	}
	if room.IsDeleted {
		return models.ChatRoom{}, ErrNotFound
	}
	return room, nil
}
