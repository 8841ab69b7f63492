package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kiraya-in/kiraya-api/internal/dto"
	"github.com/kiraya-in/kiraya-api/internal/models"
	"github.com/kiraya-in/kiraya-api/internal/observability"
)

const (
	defaultBadgeTTL    = 30 * time.Minute
	chatSendBufferSize = 32
)

// ChatGatewayConfig tunes the gateway's fan-out channels and caches.
// ChannelBase prefixes the redis channel, the badge cache keys and the NATS
// subject; empty disables cross-node fan-out. BadgeTTL bounds how long a
// cached unread badge may serve connection greetings before it is recomputed.
type ChatGatewayConfig struct {
	ChannelBase string
	BadgeTTL    time.Duration
}

// ChatConnectionOptions wraps metadata extracted during the HTTP upgrade.
type ChatConnectionOptions struct {
	UserID        string
	UserName      string
	CorrelationID string
	Context       context.Context
}

// ChatGateway owns the websocket surface of the chat subsystem: it decodes
// client frames, dispatches them to the room registry and message store, and
// fans results out room-wide or per user. Failed operations produce an error
// reply to the requesting connection only.
type ChatGateway interface {
	ServeConnection(conn *websocket.Conn, opts ChatConnectionOptions)
	History(ctx context.Context, query dto.ChatHistoryQuery, requesterID string) ([]dto.MessageResponse, string, error)
	Start(ctx context.Context)
}

type chatGateway struct {
	rooms         RoomService
	store         MessageStore
	presence      *PresenceTracker
	limiter       *RateLimiter
	notifications NotificationService
	redis         *redis.Client
	redisStream   string
	badgeCache    string
	badgeTTL      time.Duration
	nats          *nats.Conn
	natsSubject   string
	validator     *validator.Validate
	logger        zerolog.Logger
	tracer        trace.Tracer
	hub           *chatHub
	nodeID        string
}

// gatewayEvent is the cross-node fan-out envelope. A room event replays to
// every local client joined to the room; a user event replays on the user's
// personal channel. Source suppresses the echo on the publishing node.
type gatewayEvent struct {
	Source string          `json:"source"`
	RoomID string          `json:"room_id,omitempty"`
	UserID string          `json:"user_id,omitempty"`
	Frame  dto.ServerFrame `json:"frame"`
	SentAt time.Time       `json:"sent_at"`
}

// NewChatGateway creates the websocket chat gateway.
func NewChatGateway(rooms RoomService, store MessageStore, presence *PresenceTracker, limiter *RateLimiter, notifications NotificationService, redisClient *redis.Client, gatewayCfg ChatGatewayConfig, natsConn *nats.Conn, validate *validator.Validate, logger zerolog.Logger) ChatGateway {
	streamChannel := ""
	badgeCache := ""
	natsSubject := ""
	if gatewayCfg.ChannelBase != "" {
		streamChannel = gatewayCfg.ChannelBase + ":chat"
		badgeCache = gatewayCfg.ChannelBase + ":chat:badge"
		natsSubject = strings.ReplaceAll(gatewayCfg.ChannelBase, ":", ".") + ".chat"
	}
	badgeTTL := gatewayCfg.BadgeTTL
	if badgeTTL <= 0 {
		badgeTTL = defaultBadgeTTL
	}

	return &chatGateway{
		rooms:         rooms,
		store:         store,
		presence:      presence,
		limiter:       limiter,
		notifications: notifications,
		redis:         redisClient,
		redisStream:   streamChannel,
		badgeCache:    badgeCache,
		badgeTTL:      badgeTTL,
		nats:          natsConn,
		natsSubject:   natsSubject,
		validator:     validate,
		logger:        logger.With().Str("component", "chat_gateway").Logger(),
		tracer:        otel.Tracer("github.com/kiraya-in/kiraya-api/internal/service/chat"),
		hub:           newChatHub(logger),
		nodeID:        uuid.NewString(),
	}
}

func (g *chatGateway) Start(ctx context.Context) {
	if g.redis != nil && g.redisStream != "" {
		go g.consumeRedis(ctx)
	}
	if g.nats != nil && g.natsSubject != "" {
		go g.consumeNATS(ctx)
	}
}

func (g *chatGateway) ServeConnection(conn *websocket.Conn, opts ChatConnectionOptions) {
	baseCtx := opts.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	client := &chatClient{
		conn:        conn,
		connID:      uuid.NewString(),
		userID:      opts.UserID,
		userName:    opts.UserName,
		correlation: opts.CorrelationID,
		send:        make(chan dto.ServerFrame, chatSendBufferSize),
		joined:      make(map[string]struct{}),
		gateway:     g,
		closed:      make(chan struct{}),
		baseCtx:     baseCtx,
	}

	g.hub.register(client)
	g.presence.MarkOnline(client.userID, client.connID)
	observability.ChatConnections().Inc()

	// Greet the connection with the badge count so every device converges
	// without waiting for the next message.
	if count, ok := g.fetchBadge(baseCtx, client.userID); ok {
		client.enqueue(dto.ServerFrame{Event: dto.EventGlobalUnread, Payload: dto.GlobalUnread{UserID: client.userID, Count: count}})
	} else if count, err := g.rooms.UnreadRoomCount(baseCtx, client.userID); err == nil {
		g.cacheBadge(baseCtx, client.userID, count)
		client.enqueue(dto.ServerFrame{Event: dto.EventGlobalUnread, Payload: dto.GlobalUnread{UserID: client.userID, Count: count}})
	}

	go client.writer()
	client.reader()
}

// History serves the REST mirror of join hydration: the full ordered log plus
// the room's conversation state.
func (g *chatGateway) History(ctx context.Context, query dto.ChatHistoryQuery, requesterID string) ([]dto.MessageResponse, string, error) {
	if err := g.validator.Struct(query); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrValidation, err)
	}

	room, err := g.rooms.Room(ctx, query.RoomID)
	if err != nil {
		return nil, "", err
	}
	if !room.IsParticipant(requesterID) {
		return nil, "", ErrForbidden
	}

	messages, state, err := g.store.History(ctx, query.RoomID)
	if err != nil {
		return nil, "", err
	}
	return dto.NewMessageResponseSlice(messages), state, nil
}

func (g *chatGateway) dispatch(ctx context.Context, client *chatClient, frame dto.ClientFrame) error {
	switch frame.Event {
	case dto.EventJoin:
		return g.handleJoin(ctx, client, frame.Payload)
	case dto.EventSend:
		return g.handleSend(ctx, client, frame.Payload)
	case dto.EventMarkRead:
		return g.handleMarkRead(ctx, client, frame.Payload)
	case dto.EventDeleteMessage:
		return g.handleDeleteMessage(ctx, client, frame.Payload)
	case dto.EventTyping:
		return g.handleTyping(ctx, client, frame.Payload)
	case dto.EventLeave:
		return g.handleLeave(ctx, client, frame.Payload)
	case dto.EventGetPresence:
		return g.handleGetPresence(ctx, client, frame.Payload)
	default:
		return fmt.Errorf("%w: unknown event %q", ErrInvalidRequest, frame.Event)
	}
}

func (g *chatGateway) decode(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing payload", ErrInvalidRequest)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := g.validator.Struct(out); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func (g *chatGateway) handleJoin(ctx context.Context, client *chatClient, raw json.RawMessage) error {
	var payload dto.JoinPayload
	if err := g.decode(raw, &payload); err != nil {
		return err
	}

	room, err := g.rooms.Room(ctx, payload.RoomID)
	if err != nil {
		return err
	}
	if !room.IsParticipant(client.userID) {
		return ErrForbidden
	}

	g.presence.JoinRoom(client.userID, client.connID, room.ID)
	g.hub.joinRoom(client, room.ID)

	messages, state, err := g.store.History(ctx, room.ID)
	if err != nil {
		return err
	}

	role, _ := room.RoleOf(client.userID)
	client.enqueue(dto.ServerFrame{Event: dto.EventInitialData, Payload: dto.InitialData{
		Room:       dto.NewRoomResponse(room),
		Messages:   dto.NewMessageResponseSlice(messages),
		State:      state,
		Role:       string(role),
		Presence:   g.presence.StatusFor(room, client.userID),
		UnreadByID: unreadByParticipant(room),
	}})

	joined := dto.ServerFrame{Event: dto.EventUserJoined, Payload: dto.UserJoined{RoomID: room.ID, UserID: client.userID}}
	g.hub.broadcastRoom(room.ID, joined, client)
	g.publishRoom(ctx, room.ID, joined)
	g.broadcastPresence(ctx, room, client)
	return nil
}

func (g *chatGateway) handleSend(ctx context.Context, client *chatClient, raw json.RawMessage) error {
	var payload dto.SendPayload
	if err := g.decode(raw, &payload); err != nil {
		return err
	}

	if !g.limiter.Allow(client.userID) {
		observability.ChatRateLimited().Inc()
		return ErrRateLimited
	}

	room, err := g.rooms.Room(ctx, payload.RoomID)
	if err != nil {
		return err
	}
	if !room.IsParticipant(client.userID) {
		return ErrForbidden
	}
	if room.Status == models.RoomStatusCancelled || room.Status == models.RoomStatusExpired {
		return fmt.Errorf("%w: room is %s", ErrInvalidRequest, room.Status)
	}

	attrs := []attribute.KeyValue{
		attribute.String("chat.room_id", room.ID),
		attribute.String("chat.sender_id", client.userID),
		attribute.String("chat.kind", payload.Kind),
	}
	if client.correlation != "" {
		attrs = append(attrs, attribute.String("correlation_id", client.correlation))
	}
	spanCtx, span := g.tracer.Start(ctx, "chat.send", trace.WithAttributes(attrs...))
	defer span.End()

	if !room.HasMessages {
		if err := g.rooms.ActivateOnFirstMessage(spanCtx, room.ID); err != nil {
			span.RecordError(err)
			return err
		}
		if room.Status == models.RoomStatusPending {
			room.Status = models.RoomStatusActive
		}
	}

	message, updated, err := g.store.Append(spanCtx, room, client.userID, payload)
	if err != nil {
		span.RecordError(err)
		return err
	}

	response := dto.NewMessageResponse(message)
	newMessage := dto.ServerFrame{Event: dto.EventNewMessage, Payload: response}
	g.hub.broadcastRoom(updated.ID, newMessage, nil)
	g.publishRoom(spanCtx, updated.ID, newMessage)

	unread := dto.ServerFrame{Event: dto.EventUnreadStatus, Payload: dto.UnreadStatus{RoomID: updated.ID, Unread: unreadByParticipant(updated)}}
	g.hub.broadcastRoom(updated.ID, unread, nil)
	g.publishRoom(spanCtx, updated.ID, unread)

	other := updated.OtherParticipant(client.userID)
	if other != "" {
		g.refreshBadge(spanCtx, other)
	}

	go g.notifications.NotifyNewMessage(context.WithoutCancel(spanCtx), updated, message, client.userName)
	return nil
}

func (g *chatGateway) handleMarkRead(ctx context.Context, client *chatClient, raw json.RawMessage) error {
	var payload dto.MarkReadPayload
	if err := g.decode(raw, &payload); err != nil {
		return err
	}

	room, err := g.rooms.MarkRead(ctx, payload.RoomID, client.userID)
	if err != nil {
		return err
	}
	if err := g.store.MarkSeen(ctx, room.ID, client.userID); err != nil {
		return err
	}

	unread := dto.ServerFrame{Event: dto.EventUnreadStatus, Payload: dto.UnreadStatus{RoomID: room.ID, Unread: unreadByParticipant(room)}}
	g.hub.broadcastRoom(room.ID, unread, nil)
	g.publishRoom(ctx, room.ID, unread)

	g.refreshBadge(ctx, client.userID)
	return nil
}

func (g *chatGateway) handleDeleteMessage(ctx context.Context, client *chatClient, raw json.RawMessage) error {
	var payload dto.DeleteMessagePayload
	if err := g.decode(raw, &payload); err != nil {
		return err
	}

	room, err := g.rooms.Room(ctx, payload.RoomID)
	if err != nil {
		return err
	}
	if !room.IsParticipant(client.userID) {
		return ErrForbidden
	}

	tail, err := g.store.DeleteOwn(ctx, room.ID, payload.MessageID, client.userID)
	if err != nil {
		return err
	}

	deleted := dto.MessageDeleted{RoomID: room.ID, MessageID: payload.MessageID}
	if tail != nil {
		response := dto.NewMessageResponse(*tail)
		deleted.LastMessage = &response
	}
	frame := dto.ServerFrame{Event: dto.EventMessageDeleted, Payload: deleted}
	g.hub.broadcastRoom(room.ID, frame, nil)
	g.publishRoom(ctx, room.ID, frame)
	return nil
}

func (g *chatGateway) handleTyping(ctx context.Context, client *chatClient, raw json.RawMessage) error {
	var payload dto.TypingPayload
	if err := g.decode(raw, &payload); err != nil {
		return err
	}

	if !g.presence.IsInRoom(client.userID, payload.RoomID) {
		return ErrForbidden
	}

	frame := dto.ServerFrame{Event: dto.EventUserTyping, Payload: dto.UserTyping{RoomID: payload.RoomID, UserID: client.userID, IsTyping: payload.IsTyping}}
	g.hub.broadcastRoom(payload.RoomID, frame, client)
	g.publishRoom(ctx, payload.RoomID, frame)
	return nil
}

func (g *chatGateway) handleLeave(ctx context.Context, client *chatClient, raw json.RawMessage) error {
	var payload dto.LeavePayload
	if err := g.decode(raw, &payload); err != nil {
		return err
	}

	g.presence.LeaveRoom(client.userID, payload.RoomID)
	g.hub.leaveRoom(client, payload.RoomID)

	room, err := g.rooms.Room(ctx, payload.RoomID)
	if err != nil {
		// Room may have been cleaned up underneath the connection; there is
		// nobody left to inform.
		return nil
	}
	g.broadcastPresence(ctx, room, nil)
	return nil
}

func (g *chatGateway) handleGetPresence(ctx context.Context, client *chatClient, raw json.RawMessage) error {
	var payload dto.GetPresencePayload
	if err := g.decode(raw, &payload); err != nil {
		return err
	}

	room, err := g.rooms.Room(ctx, payload.RoomID)
	if err != nil {
		return err
	}
	if !room.IsParticipant(client.userID) {
		return ErrForbidden
	}

	client.enqueue(dto.ServerFrame{Event: dto.EventPresence, Payload: dto.PresenceUpdate{RoomID: room.ID, Online: g.presence.StatusFor(room, client.userID)}})
	return nil
}

// handleDisconnect runs leave side effects for every room the connection had
// joined. A stale connection whose user already reconnected elsewhere is
// ignored.
func (g *chatGateway) handleDisconnect(client *chatClient) {
	ctx := context.Background()

	userID, joinedRooms := g.presence.Disconnect(client.connID)
	g.hub.unregister(client)
	if userID == "" {
		return
	}

	for _, roomID := range joinedRooms {
		room, err := g.rooms.Room(ctx, roomID)
		if err != nil {
			continue
		}
		g.broadcastPresence(ctx, room, nil)
	}
}

// broadcastPresence pushes the room's current online map to every joined
// client and mirrors it cross-node.
func (g *chatGateway) broadcastPresence(ctx context.Context, room models.ChatRoom, except *chatClient) {
	frame := dto.ServerFrame{Event: dto.EventPresence, Payload: dto.PresenceUpdate{RoomID: room.ID, Online: g.presence.StatusFor(room, "")}}
	g.hub.broadcastRoom(room.ID, frame, except)
	g.publishRoom(ctx, room.ID, frame)
}

// refreshBadge recomputes the user's global unread count, caches it and
// pushes it on the personal channel across all nodes.
func (g *chatGateway) refreshBadge(ctx context.Context, userID string) {
	count, err := g.rooms.UnreadRoomCount(ctx, userID)
	if err != nil {
		g.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to recompute unread badge")
		return
	}

	g.cacheBadge(ctx, userID, count)
	frame := dto.ServerFrame{Event: dto.EventGlobalUnread, Payload: dto.GlobalUnread{UserID: userID, Count: count}}
	g.hub.sendUser(userID, frame)
	g.publishUser(ctx, userID, frame)
}

func (g *chatGateway) cacheBadge(ctx context.Context, userID string, count int64) {
	if g.redis == nil || g.badgeCache == "" {
		return
	}

	key := fmt.Sprintf("%s:%s", g.badgeCache, userID)
	if err := g.redis.Set(ctx, key, count, g.badgeTTL).Err(); err != nil {
		g.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to cache unread badge")
	}
}

func (g *chatGateway) fetchBadge(ctx context.Context, userID string) (int64, bool) {
	if g.redis == nil || g.badgeCache == "" {
		return 0, false
	}

	key := fmt.Sprintf("%s:%s", g.badgeCache, userID)
	result, err := g.redis.Get(ctx, key).Result()
	if err != nil {
		return 0, false
	}

	count, err := strconv.ParseInt(result, 10, 64)
	if err != nil {
		return 0, false
	}
	return count, true
}

func (g *chatGateway) publishRoom(ctx context.Context, roomID string, frame dto.ServerFrame) {
	g.publish(ctx, gatewayEvent{Source: g.nodeID, RoomID: roomID, Frame: frame, SentAt: time.Now().UTC()})
}

func (g *chatGateway) publishUser(ctx context.Context, userID string, frame dto.ServerFrame) {
	g.publish(ctx, gatewayEvent{Source: g.nodeID, UserID: userID, Frame: frame, SentAt: time.Now().UTC()})
}

func (g *chatGateway) publish(ctx context.Context, event gatewayEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		g.logger.Warn().Err(err).Msg("failed to marshal chat event")
		return
	}

	if g.redis != nil && g.redisStream != "" {
		if err := g.redis.Publish(ctx, g.redisStream, payload).Err(); err != nil {
			g.logger.Warn().Err(err).Msg("failed to publish chat event to redis")
		}
	}

	if g.nats != nil && g.natsSubject != "" {
		if err := g.nats.Publish(g.natsSubject, payload); err != nil {
			g.logger.Warn().Err(err).Msg("failed to publish chat event to nats")
		}
	}
}

func (g *chatGateway) consumeRedis(ctx context.Context) {
	pubsub := g.redis.Subscribe(ctx, g.redisStream)
	defer func() {
		_ = pubsub.Close()
	}()
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			g.logger.Error().Err(err).Msg("chat redis subscription closed")
			return
		}
		g.handleEvent([]byte(msg.Payload))
	}
}

func (g *chatGateway) consumeNATS(ctx context.Context) {
	sub, err := g.nats.QueueSubscribe(g.natsSubject, "kiraya-chat", func(msg *nats.Msg) {
		g.handleEvent(msg.Data)
	})
	if err != nil {
		g.logger.Error().Err(err).Msg("failed to subscribe to nats chat subject")
		return
	}
	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			g.logger.Warn().Err(err).Msg("failed to drain chat nats subscription")
		}
	}()
}

// handleEvent replays a cross-node event to local clients. Events published
// by this node already reached local clients directly.
func (g *chatGateway) handleEvent(data []byte) {
	var event gatewayEvent
	if err := json.Unmarshal(data, &event); err != nil {
		g.logger.Warn().Err(err).Msg("invalid chat event")
		return
	}

	if event.Source == g.nodeID {
		return
	}

	switch {
	case event.RoomID != "":
		g.hub.broadcastRoom(event.RoomID, event.Frame, nil)
	case event.UserID != "":
		g.hub.sendUser(event.UserID, event.Frame)
	}
}

// unreadByParticipant reports, per participant, whether the room's latest
// message is still unacknowledged by them. The sender of the latest message
// is never unread.
func unreadByParticipant(room models.ChatRoom) map[string]bool {
	unread := make(map[string]bool, 2)
	for _, participant := range room.Participants() {
		unread[participant] = room.HasMessages &&
			room.LastMessageSender != participant &&
			!room.HasRead(participant)
	}
	return unread
}

// errorReply maps a dispatch error onto the reply code sent back to the
// requesting connection.
func errorReply(err error) (string, string) {
	var verr validator.ValidationErrors
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited", "too many messages, slow down"
	case errors.Is(err, ErrValidation), errors.As(err, &verr):
		return "validation_error", err.Error()
	case errors.Is(err, ErrNotMessageSender), errors.Is(err, ErrForbidden):
		return "forbidden", err.Error()
	case errors.Is(err, ErrNotFound):
		return "not_found", err.Error()
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request", err.Error()
	default:
		return "internal_error", "something went wrong"
	}
}
