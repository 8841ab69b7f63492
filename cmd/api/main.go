package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/kiraya-in/kiraya-api/internal/config"
	"github.com/kiraya-in/kiraya-api/internal/database"
	"github.com/kiraya-in/kiraya-api/internal/handler"
	"github.com/kiraya-in/kiraya-api/internal/middleware"
	"github.com/kiraya-in/kiraya-api/internal/models"
	"github.com/kiraya-in/kiraya-api/internal/repository"
	"github.com/kiraya-in/kiraya-api/internal/router"
	"github.com/kiraya-in/kiraya-api/internal/service"
	"github.com/kiraya-in/kiraya-api/pkg/push"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.ChatRoom{},
		&models.ChatMessage{},
		&models.Notification{},
		&models.PushToken{},
		&models.NotificationPrefs{},
	); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName)
	if err != nil {
		logger.Warn().Err(err).Msg("nats unavailable, cross-node fan-out degraded to redis only")
	} else {
		defer natsConn.Close()
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	roomRepo := repository.NewChatRoomRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	presence := service.NewPresenceTracker()
	limiter := service.NewRateLimiter(cfg.ChatRateLimit, cfg.ChatRateWindow)
	expo := push.NewExpoClient(push.ExpoConfig{
		APIURL:      cfg.PushAPIURL,
		AccessToken: cfg.PushAccessToken,
	}, logger)

	roomService := service.NewRoomService(roomRepo, validate, cfg.PendingRoomMaxAge, cfg.DeletedRoomGrace, logger)
	messageStore := service.NewMessageStore(messageRepo, roomRepo, logger)
	notificationService := service.NewNotificationService(notificationRepo, presence, expo, validate, logger)
	gateway := service.NewChatGateway(roomService, messageStore, presence, limiter, notificationService, redisClient, service.ChatGatewayConfig{
		ChannelBase: cfg.EventChannelBase,
		BadgeTTL:    cfg.BadgeCacheTTL,
	}, natsConn, validate, logger)

	chatHandler := handler.NewChatHandler(gateway, logger)
	roomHandler := handler.NewRoomHandler(roomService, logger)
	notificationHandler := handler.NewNotificationHandler(notificationService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigins: cfg.CORSAllowOrigins})
	router.Register(app, cfg, router.Dependencies{
		ChatHandler:         chatHandler,
		RoomHandler:         roomHandler,
		NotificationHandler: notificationHandler,
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
		RoomCreateLimit:     middleware.RateLimit("room-create", cfg.RoomCreateLimit, cfg.RoomCreateWindow),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gateway.Start(ctx)
	go runSweeps(ctx, roomService, limiter, logger)

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}

// runSweeps periodically removes stale pending rooms, purges soft-deleted
// rooms past their grace window and evicts idle rate limiter entries.
func runSweeps(ctx context.Context, rooms service.RoomService, limiter *service.RateLimiter, logger zerolog.Logger) {
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()

	limiterTicker := time.NewTicker(5 * time.Minute)
	defer limiterTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-limiterTicker.C:
			limiter.Sweep()
		case <-ticker.C:
			if _, err := rooms.CleanupPendingRooms(ctx); err != nil {
				logger.Error().Err(err).Msg("pending room sweep failed")
			}
			if _, err := rooms.PurgeDeletedRooms(ctx); err != nil {
				logger.Error().Err(err).Msg("deleted room purge failed")
			}
		}
	}
}
