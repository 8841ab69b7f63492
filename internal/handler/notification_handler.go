package handler

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/kiraya-in/kiraya-api/internal/dto"
	"github.com/kiraya-in/kiraya-api/internal/service"
	"github.com/kiraya-in/kiraya-api/internal/utils"
)

// NotificationHandler manages the notification inbox, push tokens and
// preferences.
type NotificationHandler struct {
	service service.NotificationService
	logger  zerolog.Logger
}

// NewNotificationHandler constructs a handler instance.
func NewNotificationHandler(notificationService service.NotificationService, logger zerolog.Logger) *NotificationHandler {
	return &NotificationHandler{
		service: notificationService,
		logger:  logger.With().Str("component", "notification_handler").Logger(),
	}
}

// Register binds the notification routes.
func (h *NotificationHandler) Register(router fiber.Router) {
	router.Get("/", h.list)
	router.Patch("/:id/read", h.markRead)
	router.Post("/tokens", h.registerToken)
	router.Delete("/tokens", h.removeToken)
	router.Patch("/preferences", h.updatePrefs)
}

func (h *NotificationHandler) list(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}
	offset, err := parseQueryInt(c, "offset")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid offset")
	}

	notifications, err := h.service.List(requestContext(c), userID, limit, offset)
	if err != nil {
		return h.fail(c, err)
	}
	return utils.SendSuccess(c, "notifications", notifications)
}

func (h *NotificationHandler) markRead(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid notification id")
	}

	notification, err := h.service.MarkRead(requestContext(c), uint(id), userID)
	if err != nil {
		return h.fail(c, err)
	}
	return utils.SendSuccess(c, "notification read", notification)
}

func (h *NotificationHandler) registerToken(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	var payload dto.RegisterPushTokenRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.service.RegisterToken(requestContext(c), userID, payload); err != nil {
		return h.fail(c, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "push token registered", nil)
}

func (h *NotificationHandler) removeToken(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	var payload dto.RemovePushTokenRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.service.RemoveToken(requestContext(c), userID, payload); err != nil {
		return h.fail(c, err)
	}
	return utils.SendSuccess(c, "push token removed", nil)
}

func (h *NotificationHandler) updatePrefs(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	var payload dto.UpdatePrefsRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.service.UpdatePrefs(requestContext(c), userID, payload); err != nil {
		return h.fail(c, err)
	}
	return utils.SendSuccess(c, "preferences updated", nil)
}

func (h *NotificationHandler) fail(c *fiber.Ctx, err error) error {
	status := statusForError(err)
	if status == fiber.StatusInternalServerError {
		h.logger.Error().Err(err).Msg("notification request failed")
		return utils.SendError(c, status, "something went wrong")
	}
	return utils.SendError(c, status, err.Error())
}
