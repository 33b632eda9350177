package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// MinRefreshInterval はリフレッシュ間隔の下限。
// 相場サービスへの過剰なアクセスを避けるため、これより短い設定は切り上げる。
const MinRefreshInterval = 60 * time.Second

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Market
	MarketBaseURL   string
	DefaultServerID int
	FetchTimeout    time.Duration
	// MarketCallInterval は相場サービスへの連続呼び出しの最低間隔。
	MarketCallInterval time.Duration

	// Monitor
	RefreshInterval  time.Duration
	TickInterval     time.Duration
	RateLimitBackoff time.Duration
	LockoutDuration  time.Duration

	// History
	HistoryRetentionDays int

	// Notifier
	TelegramBotToken string
	TelegramChatID   int64
	AlertFreeze      time.Duration

	// Rate Limit
	RateLimitGeneral int

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
// REFRESH_INTERVALが下限（60秒）未満の場合は拒否せず下限に切り上げる。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.MarketBaseURL = os.Getenv("MARKET_BASE_URL")
	if cfg.MarketBaseURL == "" {
		missing = append(missing, "MARKET_BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DefaultServerID = getEnvInt("DEFAULT_SERVER_ID", -1)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 15*time.Second)
	cfg.MarketCallInterval = getEnvDuration("MARKET_CALL_INTERVAL", 3*time.Second)
	cfg.RefreshInterval = getEnvDuration("REFRESH_INTERVAL", 5*time.Minute)
	cfg.TickInterval = getEnvDuration("TICK_INTERVAL", 1*time.Second)
	cfg.RateLimitBackoff = getEnvDuration("RATE_LIMIT_BACKOFF", 5*time.Minute)
	cfg.LockoutDuration = getEnvDuration("LOCKOUT_DURATION", 30*time.Minute)
	cfg.HistoryRetentionDays = getEnvInt("HISTORY_RETENTION_DAYS", 30)
	cfg.TelegramBotToken = getEnvString("TELEGRAM_BOT_TOKEN", "")
	cfg.TelegramChatID = getEnvInt64("TELEGRAM_CHAT_ID", 0)
	cfg.AlertFreeze = getEnvDuration("ALERT_FREEZE", 1*time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	// リフレッシュ間隔は下限にクランプする（設定エラーは拒否ではなく補正）
	if cfg.RefreshInterval < MinRefreshInterval {
		cfg.RefreshInterval = MinRefreshInterval
	}

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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
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
