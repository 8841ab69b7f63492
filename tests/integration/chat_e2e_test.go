package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kiraya-in/kiraya-api/internal/config"
	"github.com/kiraya-in/kiraya-api/internal/dto"
	"github.com/kiraya-in/kiraya-api/internal/handler"
	"github.com/kiraya-in/kiraya-api/internal/middleware"
	"github.com/kiraya-in/kiraya-api/internal/models"
	"github.com/kiraya-in/kiraya-api/internal/repository"
	"github.com/kiraya-in/kiraya-api/internal/router"
	"github.com/kiraya-in/kiraya-api/internal/service"
	"github.com/kiraya-in/kiraya-api/pkg/push"
)

type integrationPushSender struct{}

func (integrationPushSender) Send(_ context.Context, messages []push.Message) ([]push.Ticket, error) {
	return make([]push.Ticket, len(messages)), nil
}

func setupChatApp(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.ChatRoom{},
		&models.ChatMessage{},
		&models.Notification{},
		&models.PushToken{},
		&models.NotificationPrefs{},
	))

	validate := validator.New(validator.WithRequiredStructEnabled())
	logger := zerolog.New(io.Discard)

	roomRepo := repository.NewChatRoomRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	presence := service.NewPresenceTracker()
	limiter := service.NewRateLimiter(30, time.Minute)

	roomService := service.NewRoomService(roomRepo, validate, 24*time.Hour, 72*time.Hour, logger)
	store := service.NewMessageStore(messageRepo, roomRepo, logger)
	notificationService := service.NewNotificationService(notificationRepo, presence, integrationPushSender{}, validate, logger)
	gateway := service.NewChatGateway(roomService, store, presence, limiter, notificationService, nil, service.ChatGatewayConfig{}, nil, validate, logger)

	app := fiber.New()
	middleware.Register(app, middleware.Config{Logger: &logger})

	router.Register(app, config.Config{AppName: "Kiraya API", AppEnv: "test", JWTSecret: "secret"}, router.Dependencies{
		ChatHandler:         handler.NewChatHandler(gateway, logger),
		RoomHandler:         handler.NewRoomHandler(roomService, logger),
		NotificationHandler: handler.NewNotificationHandler(notificationService, logger),
		JWTMiddleware: func(c *fiber.Ctx) error {
			userID := c.Get("X-Test-User")
			if userID == "" {
				userID = "inquirer-1"
			}
			c.Locals("user_id", userID)
			c.Locals("user_name", userID)
			if strings.HasPrefix(userID, "ops") {
				c.Locals("user_role", "admin")
			}
			return c.Next()
		},
	})

	return app, db
}

func decode[T any](t *testing.T, resp *http.Response, target *T) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target))
}

func doJSON(t *testing.T, app *fiber.App, method, path, user string, payload interface{}) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}

	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestRoomLifecycleEndToEnd(t *testing.T) {
	app, _ := setupChatApp(t)

	// Step 1: inquirer opens a room for a listing
	resp := doJSON(t, app, http.MethodPost, "/api/v2/chat/rooms", "inquirer-1", map[string]interface{}{
		"listing_id":    "listing-1",
		"owner_id":      "owner-1",
		"listing_title": "2BHK near metro",
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var created struct {
		Success bool                   `json:"success"`
		Data    dto.CreateRoomResponse `json:"data"`
	}
	decode(t, resp, &created)
	require.True(t, created.Success)
	require.True(t, created.Data.IsNew)
	require.Equal(t, "pending", created.Data.Status)
	roomID := created.Data.RoomID

	// Step 2: the same inquiry resolves to the existing room
	resp = doJSON(t, app, http.MethodPost, "/api/v2/chat/rooms", "inquirer-1", map[string]interface{}{
		"listing_id": "listing-1",
		"owner_id":   "owner-1",
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var found struct {
		Data dto.CreateRoomResponse `json:"data"`
	}
	decode(t, resp, &found)
	require.False(t, found.Data.IsNew)
	require.Equal(t, roomID, found.Data.RoomID)

	// Step 3: check endpoint reports the open inquiry
	resp = doJSON(t, app, http.MethodGet, "/api/v2/chat/rooms/check?listing_id=listing-1", "inquirer-1", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var check struct {
		Data dto.CheckRoomResponse `json:"data"`
	}
	decode(t, resp, &check)
	require.True(t, check.Data.Exists)
	require.Equal(t, roomID, check.Data.RoomID)

	// Step 4: both participants see the room in their lists
	for _, user := range []string{"inquirer-1", "owner-1"} {
		resp = doJSON(t, app, http.MethodGet, "/api/v2/chat/rooms?page=1&limit=10", user, nil)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)

		var list struct {
			Data dto.RoomListResponse `json:"data"`
		}
		decode(t, resp, &list)
		require.Len(t, list.Data.Rooms, 1)
		require.Equal(t, int64(1), list.Data.Pagination.Total)
	}

	// Step 5: the room detail carries the initial conversation state
	resp = doJSON(t, app, http.MethodGet, "/api/v2/chat/rooms/"+roomID, "owner-1", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var room struct {
		Data dto.RoomResponse `json:"data"`
	}
	decode(t, resp, &room)
	require.Equal(t, "START", room.Data.CurrentState)
	require.False(t, room.Data.HasMessages)

	// Step 6: history starts empty
	resp = doJSON(t, app, http.MethodGet, "/api/v2/chat/history?room_id="+roomID, "owner-1", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var history struct {
		Data struct {
			Messages []dto.MessageResponse `json:"messages"`
			State    string                `json:"state"`
		} `json:"data"`
	}
	decode(t, resp, &history)
	require.Empty(t, history.Data.Messages)

	// Step 7: a stranger cannot read the room
	resp = doJSON(t, app, http.MethodGet, "/api/v2/chat/rooms/"+roomID, "stranger", nil)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp = doJSON(t, app, http.MethodGet, "/api/v2/chat/history?room_id="+roomID, "stranger", nil)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	// Step 8: owner cancels, the room disappears from lists
	resp = doJSON(t, app, http.MethodPatch, "/api/v2/chat/rooms/"+roomID+"/cancel", "owner-1", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = doJSON(t, app, http.MethodGet, "/api/v2/chat/rooms?page=1&limit=10", "inquirer-1", nil)
	var emptied struct {
		Data dto.RoomListResponse `json:"data"`
	}
	decode(t, resp, &emptied)
	require.Empty(t, emptied.Data.Rooms)

	// Step 9: a cancelled inquiry can be reopened as a fresh room
	resp = doJSON(t, app, http.MethodPost, "/api/v2/chat/rooms", "inquirer-1", map[string]interface{}{
		"listing_id": "listing-1",
		"owner_id":   "owner-1",
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var reopened struct {
		Data dto.CreateRoomResponse `json:"data"`
	}
	decode(t, resp, &reopened)
	require.True(t, reopened.Data.IsNew)
	require.NotEqual(t, roomID, reopened.Data.RoomID)
}

func TestAdminSweepsEndToEnd(t *testing.T) {
	app, db := setupChatApp(t)

	resp := doJSON(t, app, http.MethodPost, "/api/v2/chat/rooms", "inquirer-1", map[string]interface{}{
		"listing_id": "listing-9",
		"owner_id":   "owner-9",
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var created struct {
		Data dto.CreateRoomResponse `json:"data"`
	}
	decode(t, resp, &created)

	// Backdate the pending room past the cleanup cutoff.
	require.NoError(t, db.Model(&models.ChatRoom{}).
		Where("id = ?", created.Data.RoomID).
		Update("created_at", time.Now().Add(-48*time.Hour)).Error)

	resp = doJSON(t, app, http.MethodPost, "/api/v2/chat/admin/cleanup", "ops-1", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var cleanup struct {
		Data dto.CleanupResponse `json:"data"`
	}
	decode(t, resp, &cleanup)
	require.Equal(t, int64(1), cleanup.Data.RoomsDeleted)

	// Non-admin callers are rejected before the handler runs.
	denied := doJSON(t, app, http.MethodPost, "/api/v2/chat/admin/cleanup", "inquirer-1", nil)
	require.Equal(t, fiber.StatusForbidden, denied.StatusCode)
}

func TestNotificationInboxEndToEnd(t *testing.T) {
	app, db := setupChatApp(t)

	// Seed an inbox entry the way the chat gateway does.
	require.NoError(t, db.Create(&models.Notification{
		UserID:  "owner-1",
		Type:    "chat_message",
		Title:   "Asha",
		Message: "Is the flat still available?",
	}).Error)

	resp := doJSON(t, app, http.MethodGet, "/api/v2/notifications?limit=10&offset=0", "owner-1", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var inbox struct {
		Data []dto.NotificationResponse `json:"data"`
	}
	decode(t, resp, &inbox)
	require.Len(t, inbox.Data, 1)
	require.False(t, inbox.Data[0].Read)

	resp = doJSON(t, app, http.MethodPatch, "/api/v2/notifications/1/read", "owner-1", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var marked struct {
		Data dto.NotificationResponse `json:"data"`
	}
	decode(t, resp, &marked)
	require.True(t, marked.Data.Read)

	// A wrong id is a plain 404, and so is someone else's notification.
	resp = doJSON(t, app, http.MethodPatch, "/api/v2/notifications/999/read", "owner-1", nil)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	resp = doJSON(t, app, http.MethodPatch, "/api/v2/notifications/1/read", "inquirer-1", nil)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	// Token registration and preference updates round-trip.
	resp = doJSON(t, app, http.MethodPost, "/api/v2/notifications/tokens", "owner-1", map[string]interface{}{
		"token":    "ExponentPushToken[abc]",
		"platform": "android",
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp = doJSON(t, app, http.MethodPatch, "/api/v2/notifications/preferences", "owner-1", map[string]interface{}{
		"chat_messages": false,
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var prefs models.NotificationPrefs
	require.NoError(t, db.Where("user_id = ?", "owner-1").First(&prefs).Error)
	require.True(t, prefs.Enabled)
	require.False(t, prefs.ChatMessages)
}
