package handler

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/kiraya-in/kiraya-api/internal/dto"
	"github.com/kiraya-in/kiraya-api/internal/middleware"
	"github.com/kiraya-in/kiraya-api/internal/service"
	"github.com/kiraya-in/kiraya-api/internal/utils"
)

// ChatHandler wires the websocket upgrade and the REST history endpoint.
type ChatHandler struct {
	gateway service.ChatGateway
	logger  zerolog.Logger
}

// NewChatHandler creates a chat handler instance.
func NewChatHandler(gateway service.ChatGateway, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		gateway: gateway,
		logger:  logger.With().Str("component", "chat_handler").Logger(),
	}
}

// Register binds chat routes under the provided router group.
func (h *ChatHandler) Register(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			ctx := c.UserContext()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
			c.Locals("request_ctx", ctx)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get("/ws", websocket.New(h.handleConnection))
	router.Get("/history", h.history)
}

func (h *ChatHandler) handleConnection(conn *websocket.Conn) {
	userID := websocketLocalString(conn, "user_id")
	if userID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusUnauthorized, "user id missing"))
		_ = conn.Close()
		return
	}

	correlation := websocketLocalString(conn, "correlation_id")
	baseCtx, _ := conn.Locals("request_ctx").(context.Context)

	opts := service.ChatConnectionOptions{
		UserID:        userID,
		UserName:      websocketLocalString(conn, "user_name"),
		CorrelationID: correlation,
		Context:       baseCtx,
	}

	h.logger.Info().Str("user_id", userID).Msg("chat websocket connected")
	h.gateway.ServeConnection(conn, opts)
	h.logger.Info().Str("user_id", userID).Msg("chat websocket disconnected")
}

func (h *ChatHandler) history(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	query := dto.ChatHistoryQuery{RoomID: c.Query("room_id")}

	messages, state, err := h.gateway.History(requestContext(c), query, userID)
	if err != nil {
		status := statusForError(err)
		if status == fiber.StatusInternalServerError {
			h.logger.Error().Err(err).Msg("history request failed")
			return utils.SendError(c, status, "something went wrong")
		}
		return utils.SendError(c, status, err.Error())
	}

	return utils.SendSuccess(c, "chat history", fiber.Map{
		"messages": messages,
		"state":    state,
	})
}

func websocketLocalString(conn *websocket.Conn, key string) string {
	if value := conn.Locals(key); value != nil {
		if str, ok := value.(string); ok {
			return strings.TrimSpace(str)
		}
	}
	return ""
}
