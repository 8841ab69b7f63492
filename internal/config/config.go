package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName           string
	AppEnv            string
	AppPort           string
	DatabaseURL       string
	RedisURL          string
	NATSURL           string
	JWTSecret         string
	EventChannelBase  string
	ChatRateLimit     int
	ChatRateWindow    time.Duration
	RoomCreateLimit   int
	RoomCreateWindow  time.Duration
	PendingRoomMaxAge time.Duration
	DeletedRoomGrace  time.Duration
	PushAPIURL        string
	PushAccessToken   string
	BadgeCacheTTL     time.Duration
	CORSAllowOrigins  string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("KIRAYA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Kiraya API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("event.channel_base", "kiraya")
	v.SetDefault("chat.rate_limit", 10)
	v.SetDefault("chat.rate_window", "60s")
	v.SetDefault("room.create_limit", 10)
	v.SetDefault("room.create_window", "15m")
	v.SetDefault("room.pending_max_age", "24h")
	v.SetDefault("room.deleted_grace", "72h")
	v.SetDefault("push.api_url", "https://exp.host/--/api/v2/push/send")
	v.SetDefault("chat.badge_cache_ttl", "30m")
	v.SetDefault("cors.allow_origins", "*")

	rateWindow, err := time.ParseDuration(v.GetString("chat.rate_window"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid chat rate window: %w", err)
	}

	createWindow, err := time.ParseDuration(v.GetString("room.create_window"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid room create window: %w", err)
	}

	pendingMaxAge, err := time.ParseDuration(v.GetString("room.pending_max_age"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid pending room max age: %w", err)
	}

	deletedGrace, err := time.ParseDuration(v.GetString("room.deleted_grace"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid deleted room grace window: %w", err)
	}

	badgeTTL, err := time.ParseDuration(v.GetString("chat.badge_cache_ttl"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid badge cache ttl: %w", err)
	}

	cfg := Config{
		AppName:           v.GetString("app.name"),
		AppEnv:            v.GetString("app.env"),
		AppPort:           v.GetString("app.port"),
		DatabaseURL:       v.GetString("database.url"),
		RedisURL:          v.GetString("redis.url"),
		NATSURL:           v.GetString("nats.url"),
		JWTSecret:         v.GetString("jwt.secret"),
		EventChannelBase:  v.GetString("event.channel_base"),
		ChatRateLimit:     v.GetInt("chat.rate_limit"),
		ChatRateWindow:    rateWindow,
		RoomCreateLimit:   v.GetInt("room.create_limit"),
		RoomCreateWindow:  createWindow,
		PendingRoomMaxAge: pendingMaxAge,
		DeletedRoomGrace:  deletedGrace,
		PushAPIURL:        v.GetString("push.api_url"),
		PushAccessToken:   v.GetString("push.access_token"),
		BadgeCacheTTL:     badgeTTL,
		CORSAllowOrigins:  v.GetString("cors.allow_origins"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.ChatRateLimit <= 0 {
		cfg.ChatRateLimit = 10
	}

	if cfg.RoomCreateLimit <= 0 {
		cfg.RoomCreateLimit = 10
	}

	return cfg, nil
}
