package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Chat gateway
	GatewayBaseURL string
	GatewayToken   string

	// VATSIM API
	VatsimBaseURL string

	// Notification worker
	NotifyInterval  time.Duration
	NotifyBatchSize int

	// Channel cleanup
	CleanupInterval time.Duration
	ChannelGrace    time.Duration
	ChannelMaxAge   time.Duration

	// Selection session
	SessionTTL time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitApply   int

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.GatewayBaseURL = os.Getenv("GATEWAY_BASE_URL")
	if cfg.GatewayBaseURL == "" {
		missing = append(missing, "GATEWAY_BASE_URL")
	}

	cfg.GatewayToken = os.Getenv("GATEWAY_TOKEN")
	if cfg.GatewayToken == "" {
		missing = append(missing, "GATEWAY_TOKEN")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.VatsimBaseURL = getEnvString("VATSIM_BASE_URL", "https://api.vatsim.net")
	cfg.NotifyInterval = getEnvDuration("NOTIFY_INTERVAL", 15*time.Second)
	cfg.NotifyBatchSize = getEnvInt("NOTIFY_BATCH_SIZE", 20)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 10*time.Minute)
	cfg.ChannelGrace = getEnvDuration("CHANNEL_GRACE", 1*time.Hour)
	cfg.ChannelMaxAge = getEnvDuration("CHANNEL_MAX_AGE", 24*time.Hour)
	cfg.SessionTTL = getEnvDuration("SESSION_TTL", 5*time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitApply = getEnvInt("RATE_LIMIT_APPLY", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
