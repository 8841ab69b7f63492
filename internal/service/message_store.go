package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
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

const freetextMaxLen = 500

// MessageStore owns the append-only per-room message log: validated appends,
// full-log hydration and sender-only deletion. Appends also maintain the
// room's last-message snapshot, read set and conversation state.
type MessageStore interface {
	Append(ctx context.Context, room models.ChatRoom, senderID string, payload dto.SendPayload) (models.ChatMessage, models.ChatRoom, error)
	History(ctx context.Context, roomID string) ([]models.ChatMessage, string, error)
	DeleteOwn(ctx context.Context, roomID, messageID, requesterID string) (*models.ChatMessage, error)
	MarkSeen(ctx context.Context, roomID, readerID string) error
}

type messageStore struct {
	messages  repository.MessageRepository
	rooms     repository.ChatRoomRepository
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewMessageStore constructs the message store.
func NewMessageStore(messages repository.MessageRepository, rooms repository.ChatRoomRepository, logger zerolog.Logger) MessageStore {
	return &messageStore{
		messages:  messages,
		rooms:     rooms,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "message_store").Logger(),
		tracer:    otel.Tracer("github.com/kiraya-in/kiraya-api/internal/service/message"),
		now:       time.Now,
	}
}

// Append validates the message shape, writes it to the log and updates the
// room snapshot. The read set resets to just the sender: everyone else now
// has an unacknowledged latest message.
func (s *messageStore) Append(ctx context.Context, room models.ChatRoom, senderID string, payload dto.SendPayload) (models.ChatMessage, models.ChatRoom, error) {
	role, ok := room.RoleOf(senderID)
	if !ok {
		return models.ChatMessage{}, models.ChatRoom{}, ErrForbidden
	}

	message := models.ChatMessage{
		MessageID:  uuid.NewString(),
		RoomID:     room.ID,
		SenderID:   senderID,
		SenderRole: role,
		Kind:       models.MessageKind(payload.Kind),
		Status:     models.MessageStatusSent,
	}

	switch message.Kind {
	case models.MessageKindOption:
		message.OptionID = strings.TrimSpace(payload.OptionID)
		message.OptionLabel = strings.TrimSpace(payload.OptionLabel)
		message.NextState = strings.TrimSpace(payload.NextState)
		if message.OptionID == "" || message.OptionLabel == "" || message.NextState == "" {
			return models.ChatMessage{}, models.ChatRoom{}, ErrValidation
		}
	case models.MessageKindFreetext:
		body := strings.TrimSpace(s.sanitizer.Sanitize(payload.Body))
		if body == "" || len([]rune(body)) > freetextMaxLen {
			return models.ChatMessage{}, models.ChatRoom{}, ErrValidation
		}
		message.Body = body
	default:
		return models.ChatMessage{}, models.ChatRoom{}, ErrValidation
	}

	spanCtx, span := s.tracer.Start(ctx, "message.append", trace.WithAttributes(
		attribute.String("chat.room_id", room.ID),
		attribute.String("chat.kind", string(message.Kind)),
	))
	defer span.End()

	if err := s.messages.Append(spanCtx, &message); err != nil {
		span.RecordError(err)
		return models.ChatMessage{}, models.ChatRoom{}, err
	}

	at := message.CreatedAt
	if at.IsZero() {
		at = s.now()
	}

	preview := message.Preview()
	if err := s.rooms.SetLastMessage(spanCtx, room.ID, preview, senderID, at); err != nil {
		span.RecordError(err)
		return models.ChatMessage{}, models.ChatRoom{}, err
	}

	if err := s.rooms.SetReadBy(spanCtx, room.ID, []string{senderID}); err != nil {
		span.RecordError(err)
		return models.ChatMessage{}, models.ChatRoom{}, err
	}

	room.LastMessage = preview
	room.LastMessageSender = senderID
	room.LastMessageAt = &at
	room.HasMessages = true
	room.ReadBy = models.EncodeReadBy([]string{senderID})

	if message.Kind == models.MessageKindOption {
		if err := s.rooms.SetConversationState(spanCtx, room.ID, message.NextState); err != nil {
			span.RecordError(err)
			return models.ChatMessage{}, models.ChatRoom{}, err
		}
		room.CurrentState = message.NextState
	}

	observability.ChatMessages().WithLabelValues(string(message.Kind)).Inc()

	return message, room, nil
}

// History returns the full ordered log plus the room's conversation state.
// Chat volume per room is bounded (two-party, listing-scoped), so a full
// replay is acceptable.
func (s *messageStore) History(ctx context.Context, roomID string) ([]models.ChatMessage, string, error) {
	messages, err := s.messages.ListByRoom(ctx, roomID)
	if err != nil {
		return nil, "", err
	}

	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrNotFound
		}
		return nil, "", err
	}

	return messages, room.CurrentState, nil
}

// DeleteOwn removes a message authored by the requester and recomputes the
// room's last-message snapshot. Returns the new tail, or nil when the log is
// now empty.
func (s *messageStore) DeleteOwn(ctx context.Context, roomID, messageID, requesterID string) (*models.ChatMessage, error) {
	message, err := s.messages.FindByMessageID(ctx, roomID, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if message.SenderID != requesterID {
		return nil, ErrNotMessageSender
	}

	if err := s.messages.Delete(ctx, roomID, messageID); err != nil {
		return nil, err
	}

	tail, err := s.messages.LatestByRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := s.rooms.ClearLastMessage(ctx, roomID); err != nil {
				return nil, err
			}
			return nil, nil
		}
		return nil, err
	}

	if err := s.rooms.SetLastMessage(ctx, roomID, tail.Preview(), tail.SenderID, tail.CreatedAt); err != nil {
		return nil, err
	}

	return &tail, nil
}

// MarkSeen flips the other side's messages to seen once the reader
// acknowledges the room.
func (s *messageStore) MarkSeen(ctx context.Context, roomID, readerID string) error {
	return s.messages.MarkSeen(ctx, roomID, readerID)
}
