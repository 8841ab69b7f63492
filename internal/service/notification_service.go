package service

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/kiraya-in/kiraya-api/internal/dto"
	"github.com/kiraya-in/kiraya-api/internal/models"
	"github.com/kiraya-in/kiraya-api/internal/observability"
	"github.com/kiraya-in/kiraya-api/internal/repository"
	"github.com/kiraya-in/kiraya-api/pkg/push"
)

const pushBodyLimit = 100

// RoomPresence is the slice of presence the dispatcher needs: whether a
// participant currently has the room open on a live connection.
type RoomPresence interface {
	IsInRoom(userID, roomID string) bool
}

// NotificationService decides, per recipient, whether a chat event warrants
// a push notification, and manages the in-app inbox, device tokens and
// preferences. Push delivery itself is best effort: failures are logged and
// never fail the originating send.
type NotificationService interface {
	ShouldNotify(ctx context.Context, participantID, senderID string, room models.ChatRoom) bool
	NotifyNewMessage(ctx context.Context, room models.ChatRoom, message models.ChatMessage, senderName string)
	List(ctx context.Context, userID string, limit, offset int) ([]dto.NotificationResponse, error)
	MarkRead(ctx context.Context, id uint, userID string) (dto.NotificationResponse, error)
	RegisterToken(ctx context.Context, userID string, payload dto.RegisterPushTokenRequest) error
	RemoveToken(ctx context.Context, userID string, payload dto.RemovePushTokenRequest) error
	UpdatePrefs(ctx context.Context, userID string, payload dto.UpdatePrefsRequest) error
}

type notificationService struct {
	repo      repository.NotificationRepository
	presence  RoomPresence
	sender    push.Sender
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// NewNotificationService constructs the notification dispatcher.
func NewNotificationService(repo repository.NotificationRepository, presence RoomPresence, sender push.Sender, validate *validator.Validate, logger zerolog.Logger) NotificationService {
	return &notificationService{
		repo:      repo,
		presence:  presence,
		sender:    sender,
		validator: validate,
		logger:    logger.With().Str("component", "notification_service").Logger(),
		tracer:    otel.Tracer("github.com/kiraya-in/kiraya-api/internal/service/notification"),
	}
}

// ShouldNotify is true iff the participant is not the sender, does not have
// the room open on a live connection, and their preferences allow chat
// pushes.
func (s *notificationService) ShouldNotify(ctx context.Context, participantID, senderID string, room models.ChatRoom) bool {
	if participantID == senderID {
		return false
	}

	if s.presence != nil && s.presence.IsInRoom(participantID, room.ID) {
		observability.NotificationsDecided().WithLabelValues("skipped_online").Inc()
		return false
	}

	prefs, err := s.repo.PrefsFor(ctx, participantID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", participantID).Msg("failed to load notification prefs, defaulting to allow")
		prefs = models.NotificationPrefs{Enabled: true, ChatMessages: true}
	}

	if !prefs.Enabled || !prefs.ChatMessages {
		observability.NotificationsDecided().WithLabelValues("skipped_prefs").Inc()
		return false
	}

	observability.NotificationsDecided().WithLabelValues("notify").Inc()
	return true
}

// NotifyNewMessage records an inbox entry and hands a push to the provider
// for every participant that ShouldNotify selects.
func (s *notificationService) NotifyNewMessage(ctx context.Context, room models.ChatRoom, message models.ChatMessage, senderName string) {
	spanCtx, span := s.tracer.Start(ctx, "notifications.chat_message", trace.WithAttributes(
		attribute.String("chat.room_id", room.ID),
		attribute.String("chat.sender_id", message.SenderID),
	))
	defer span.End()

	title := strings.TrimSpace(senderName)
	if title == "" {
		title = "New message"
	}
	body := truncateBody(message.Preview())

	data := map[string]string{
		"type":    "chat_message",
		"room_id": room.ID,
		"sender":  message.SenderID,
	}

	for _, participantID := range room.Participants() {
		if !s.ShouldNotify(spanCtx, participantID, message.SenderID, room) {
			continue
		}

		record := models.Notification{
			UserID:  participantID,
			Type:    "chat_message",
			Title:   title,
			Message: body,
			Data:    datatypes.JSONMap{"room_id": room.ID, "sender": message.SenderID},
		}
		if err := s.repo.Create(spanCtx, &record); err != nil {
			s.logger.Warn().Err(err).Str("user_id", participantID).Msg("failed to persist notification")
		}

		s.pushTo(spanCtx, participantID, title, body, data)
	}
}

func (s *notificationService) pushTo(ctx context.Context, userID, title, body string, data map[string]string) {
	if s.sender == nil {
		return
	}

	tokens, err := s.repo.TokensForUser(ctx, userID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to load push tokens")
		return
	}
	if len(tokens) == 0 {
		return
	}

	messages := make([]push.Message, 0, len(tokens))
	for _, token := range tokens {
		messages = append(messages, push.Message{
			Token: token.Token,
			Title: title,
			Body:  body,
			Data:  data,
			Badge: 1,
		})
	}

	tickets, err := s.sender.Send(ctx, messages)
	if err != nil {
		// Chat delivery over the live channel already succeeded; a failed
		// push must never fail the originating send.
		observability.NotificationsDelivered().WithLabelValues("error").Inc()
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("push delivery failed")
		return
	}

	observability.NotificationsDelivered().WithLabelValues("ok").Add(float64(len(tickets)))
}

func (s *notificationService) List(ctx context.Context, userID string, limit, offset int) ([]dto.NotificationResponse, error) {
	notifications, err := s.repo.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return dto.NewNotificationResponseSlice(notifications), nil
}

func (s *notificationService) MarkRead(ctx context.Context, id uint, userID string) (dto.NotificationResponse, error) {
	notification, err := s.repo.MarkRead(ctx, id, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.NotificationResponse{}, ErrNotFound
		}
		return dto.NotificationResponse{}, err
	}
	return dto.NewNotificationResponse(notification), nil
}

func (s *notificationService) RegisterToken(ctx context.Context, userID string, payload dto.RegisterPushTokenRequest) error {
	if err := s.validator.Struct(payload); err != nil {
		return err
	}

	token := models.PushToken{
		UserID:   userID,
		Token:    strings.TrimSpace(payload.Token),
		Platform: payload.Platform,
	}
	return s.repo.RegisterToken(ctx, &token)
}

func (s *notificationService) RemoveToken(ctx context.Context, userID string, payload dto.RemovePushTokenRequest) error {
	if err := s.validator.Struct(payload); err != nil {
		return err
	}
	return s.repo.RemoveToken(ctx, userID, strings.TrimSpace(payload.Token))
}

func (s *notificationService) UpdatePrefs(ctx context.Context, userID string, payload dto.UpdatePrefsRequest) error {
	prefs, err := s.repo.PrefsFor(ctx, userID)
	if err != nil {
		return err
	}

	prefs.UserID = userID
	if payload.Enabled != nil {
		prefs.Enabled = *payload.Enabled
	}
	if payload.ChatMessages != nil {
		prefs.ChatMessages = *payload.ChatMessages
	}

	return s.repo.UpsertPrefs(ctx, &prefs)
}

func truncateBody(body string) string {
	runes := []rune(body)
	if len(runes) <= pushBodyLimit {
		return body
	}
	return string(runes[:pushBodyLimit]) + "…"
}
