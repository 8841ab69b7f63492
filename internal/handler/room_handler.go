package handler

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/kiraya-in/kiraya-api/internal/dto"
	"github.com/kiraya-in/kiraya-api/internal/middleware"
	"github.com/kiraya-in/kiraya-api/internal/service"
	"github.com/kiraya-in/kiraya-api/internal/utils"
)

// RoomHandler exposes the room registry over REST.
type RoomHandler struct {
	service service.RoomService
	logger  zerolog.Logger
}

// NewRoomHandler creates a room handler instance.
func NewRoomHandler(roomService service.RoomService, logger zerolog.Logger) *RoomHandler {
	return &RoomHandler{
		service: roomService,
		logger:  logger.With().Str("component", "room_handler").Logger(),
	}
}

// Register binds the room routes under the provided router group.
func (h *RoomHandler) Register(router fiber.Router, createLimit fiber.Handler) {
	if createLimit != nil {
		router.Post("/", createLimit, h.create)
	} else {
		router.Post("/", h.create)
	}
	router.Get("/", h.list)
	router.Get("/check", h.check)
	router.Get("/stats", h.stats)
	router.Get("/:id", h.get)
	router.Patch("/:id/cancel", h.cancel)
	router.Delete("/:id", h.remove)
}

// RegisterAdmin binds the operational sweep routes. Callers gate these with
// the admin role.
func (h *RoomHandler) RegisterAdmin(router fiber.Router) {
	router.Post("/cleanup", h.cleanup)
	router.Post("/purge", h.purge)
	router.Post("/listings/:listingId/expire", h.expireListing)
}

func (h *RoomHandler) create(c *fiber.Ctx) error {
	inquirerID := userIDFromContext(c)
	if inquirerID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	var payload dto.CreateRoomRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	response, err := h.service.FindOrCreateRoom(requestContext(c), inquirerID, payload)
	if err != nil {
		return h.fail(c, err)
	}

	status := fiber.StatusOK
	message := "room found"
	if response.IsNew {
		status = fiber.StatusCreated
		message = "room created"
	}
	return utils.SendSuccessWithStatus(c, status, message, response)
}

func (h *RoomHandler) list(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	page, err := parseQueryInt(c, "page")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid page")
	}
	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	response, err := h.service.ListRooms(requestContext(c), userID, page, limit)
	if err != nil {
		return h.fail(c, err)
	}
	return utils.SendSuccess(c, "rooms", response)
}

func (h *RoomHandler) check(c *fiber.Ctx) error {
	inquirerID := userIDFromContext(c)
	if inquirerID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	listingID := strings.TrimSpace(c.Query("listing_id"))
	if listingID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "listing_id required")
	}

	response, err := h.service.CheckRoom(requestContext(c), listingID, inquirerID)
	if err != nil {
		return h.fail(c, err)
	}
	return utils.SendSuccess(c, "room check", response)
}

func (h *RoomHandler) stats(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	response, err := h.service.Stats(requestContext(c), userID)
	if err != nil {
		return h.fail(c, err)
	}
	return utils.SendSuccess(c, "room stats", response)
}

func (h *RoomHandler) get(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	response, err := h.service.GetRoom(requestContext(c), c.Params("id"), userID)
	if err != nil {
		return h.fail(c, err)
	}
	return utils.SendSuccess(c, "room", response)
}

func (h *RoomHandler) cancel(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	if err := h.service.Cancel(requestContext(c), c.Params("id"), userID); err != nil {
		return h.fail(c, err)
	}
	return utils.SendSuccess(c, "room cancelled", nil)
}

func (h *RoomHandler) remove(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	if err := h.service.Delete(requestContext(c), c.Params("id"), userID); err != nil {
		return h.fail(c, err)
	}
	return utils.SendSuccess(c, "room deleted", nil)
}

func (h *RoomHandler) cleanup(c *fiber.Ctx) error {
	deleted, err := h.service.CleanupPendingRooms(requestContext(c))
	if err != nil {
		return h.fail(c, err)
	}
	return utils.SendSuccess(c, "stale pending rooms removed", dto.CleanupResponse{
		RoomsDeleted: deleted,
		Timestamp:    time.Now().UTC(),
	})
}

func (h *RoomHandler) purge(c *fiber.Ctx) error {
	deleted, err := h.service.PurgeDeletedRooms(requestContext(c))
	if err != nil {
		return h.fail(c, err)
	}
	return utils.SendSuccess(c, "soft-deleted rooms purged", dto.CleanupResponse{
		RoomsDeleted: deleted,
		Timestamp:    time.Now().UTC(),
	})
}

func (h *RoomHandler) expireListing(c *fiber.Ctx) error {
	expired, err := h.service.ExpireForListing(requestContext(c), c.Params("listingId"))
	if err != nil {
		return h.fail(c, err)
	}
	return utils.SendSuccess(c, "listing rooms expired", dto.CleanupResponse{
		RoomsDeleted: expired,
		Timestamp:    time.Now().UTC(),
	})
}

func (h *RoomHandler) fail(c *fiber.Ctx, err error) error {
	status := statusForError(err)
	if status == fiber.StatusInternalServerError {
		h.logger.Error().Err(err).Str("correlation_id", middleware.GetCorrelationID(c)).Msg("room request failed")
		return utils.SendError(c, status, "something went wrong")
	}
	return utils.SendError(c, status, err.Error())
}
