// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// セッションの保存方式
const (
	SessionStrategyJWT      = "jwt"
	SessionStrategyDatabase = "database"
)

// ErrDatabaseURLRequired はDB接続が必要な操作でDATABASE_URLが未設定の場合に返される。
var ErrDatabaseURLRequired = errors.New("DATABASE_URL is required")

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database（SESSION_STRATEGY=databaseとmigrate/pruneでのみ必須）
	DatabaseURL string

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session
	SessionSecret        string
	SessionStrategy      string
	SessionPruneAfter    time.Duration
	SessionPruneInterval time.Duration // 0ならpruneは1回だけ実行して終了する

	// Backend
	BackendAPIURL string
	AuthTimeout   time.Duration

	// Outbound HTTP
	OutboundTimeout      time.Duration
	OutboundAllowPrivate bool

	// Rate Limit（req/min）
	RateLimitGeneral int
	RateLimitSignIn  int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// LoadDotEnv はpathの.envファイルを読み込む。ファイルがなければ何もしない。
// 既に設定済みの環境変数は上書きしない。
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	require := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.GoogleClientID = require("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = require("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = require("GOOGLE_REDIRECT_URL")
	cfg.SessionSecret = require("SESSION_SECRET")
	cfg.BaseURL = require("BASE_URL")

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.SessionStrategy = strings.ToLower(getEnvString("SESSION_STRATEGY", SessionStrategyJWT))
	if cfg.SessionStrategy == SessionStrategyDatabase && cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	switch cfg.SessionStrategy {
	case SessionStrategyJWT, SessionStrategyDatabase:
	default:
		return nil, fmt.Errorf("invalid SESSION_STRATEGY %q: must be %q or %q", cfg.SessionStrategy, SessionStrategyJWT, SessionStrategyDatabase)
	}

	// Optional fields with defaults
	cfg.SessionPruneAfter = getEnvDuration("SESSION_PRUNE_AFTER", 24*time.Hour)
	cfg.SessionPruneInterval = getEnvDuration("SESSION_PRUNE_INTERVAL", 0)
	cfg.BackendAPIURL = getEnvString("BACKEND_API_URL", "https://alldramaz.com/api")
	cfg.AuthTimeout = getEnvDuration("AUTH_TIMEOUT", 10*time.Second)
	cfg.OutboundTimeout = getEnvDuration("OUTBOUND_TIMEOUT", 15*time.Second)
	cfg.OutboundAllowPrivate = getEnvBool("OUTBOUND_ALLOW_PRIVATE", false)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSignIn = getEnvInt("RATE_LIMIT_SIGNIN", 10)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", cfg.BaseURL)

	return cfg, nil
}

// RequireDatabase はDB接続が必要なコマンド向けにDATABASE_URLの設定を確認する。
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return ErrDatabaseURLRequired
	}
	return nil
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
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
