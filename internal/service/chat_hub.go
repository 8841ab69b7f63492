package service

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/kiraya-in/kiraya-api/internal/dto"
	"github.com/kiraya-in/kiraya-api/internal/observability"
)

// chatHub tracks live websocket clients two ways: per room for room-scoped
// fan-out, and per user for the personal channel (badge counts reach every
// device a user has connected, regardless of which rooms those devices
// joined).
type chatHub struct {
	mu    sync.RWMutex
	rooms map[string]map[*chatClient]struct{}
	users map[string]map[*chatClient]struct{}
	log   zerolog.Logger
}

func newChatHub(logger zerolog.Logger) *chatHub {
	return &chatHub{
		rooms: make(map[string]map[*chatClient]struct{}),
		users: make(map[string]map[*chatClient]struct{}),
		log:   logger.With().Str("component", "chat_hub").Logger(),
	}
}

func (h *chatHub) register(client *chatClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.users[client.userID]; !exists {
		h.users[client.userID] = make(map[*chatClient]struct{})
	}
	h.users[client.userID][client] = struct{}{}
	h.log.Debug().Str("user_id", client.userID).Str("conn_id", client.connID).Msg("chat client connected")
}

func (h *chatHub) unregister(client *chatClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for roomID := range client.joined {
		if clients, ok := h.rooms[roomID]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	client.joined = make(map[string]struct{})

	if clients, ok := h.users[client.userID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.users, client.userID)
		}
	}
	h.log.Debug().Str("user_id", client.userID).Str("conn_id", client.connID).Msg("chat client disconnected")
}

func (h *chatHub) joinRoom(client *chatClient, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.rooms[roomID]; !exists {
		h.rooms[roomID] = make(map[*chatClient]struct{})
	}
	h.rooms[roomID][client] = struct{}{}
	client.joined[roomID] = struct{}{}
}

func (h *chatHub) leaveRoom(client *chatClient, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(client.joined, roomID)
	if clients, ok := h.rooms[roomID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// broadcastRoom fans a frame out to every client joined to the room, except
// the optional originator. Slow clients are skipped rather than blocking the
// hub.
func (h *chatHub) broadcastRoom(roomID string, frame dto.ServerFrame, except *chatClient) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[roomID] {
		if client == except {
			continue
		}
		select {
		case client.send <- frame:
		default:
			h.log.Warn().Str("room_id", roomID).Str("user_id", client.userID).Str("event", frame.Event).Msg("dropping chat frame for slow client")
		}
	}
	observability.ChatBroadcasts().WithLabelValues(frame.Event).Inc()
}

// sendUser delivers a frame on the user's personal channel.
func (h *chatHub) sendUser(userID string, frame dto.ServerFrame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.users[userID] {
		select {
		case client.send <- frame:
		default:
			h.log.Warn().Str("user_id", userID).Str("event", frame.Event).Msg("dropping personal frame for slow client")
		}
	}
}

type chatClient struct {
	conn        *websocket.Conn
	connID      string
	userID      string
	userName    string
	correlation string
	send        chan dto.ServerFrame
	joined      map[string]struct{} // guarded by hub.mu
	gateway     *chatGateway
	closed      chan struct{}
	once        sync.Once
	baseCtx     context.Context
}

func (c *chatClient) enqueue(frame dto.ServerFrame) {
	select {
	case <-c.closed:
	case c.send <- frame:
	default:
		c.gateway.logger.Warn().Str("user_id", c.userID).Str("event", frame.Event).Msg("sender queue full, dropping frame")
	}
}

func (c *chatClient) reader() {
	defer c.close()

	connCtx := c.baseCtx
	if connCtx == nil {
		connCtx = context.Background()
	}

	for {
		var frame dto.ClientFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			c.gateway.logger.Debug().Err(err).Str("user_id", c.userID).Msg("chat read loop ended")
			return
		}

		if err := c.gateway.dispatch(connCtx, c, frame); err != nil {
			code, message := errorReply(err)
			c.enqueue(dto.ServerFrame{Event: dto.EventError, Payload: dto.ErrorReply{Code: code, Message: message}})
		}

		select {
		case <-c.closed:
			return
		default:
		}
	}
}

func (c *chatClient) writer() {
	defer c.close()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				c.gateway.logger.Debug().Err(err).Str("user_id", c.userID).Msg("chat write loop terminated")
				return
			}
		case <-time.After(30 * time.Second):
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.gateway.logger.Debug().Err(err).Str("user_id", c.userID).Msg("chat ping failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}

// close tears the connection down exactly once. Disconnect cleanup runs the
// same side effects an explicit leave would, for every room the connection
// had joined.
func (c *chatClient) close() {
	c.once.Do(func() {
		close(c.closed)
		c.gateway.handleDisconnect(c)
		_ = c.conn.Close()
	})
}
