package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Credential Provider
	IDPBaseURL     string
	IDPAPIKey      string
	IDPMaxRPS      int           // Credential Providerへの送信レート上限（req/sec）
	RefreshTimeout time.Duration // トークンリフレッシュ1回あたりのタイムアウト

	// Session
	SessionSecret  string
	SessionHardTTL time.Duration // 発行からの絶対上限。トークン側の期限に関わらず無効化する

	// Rate Limit
	RateLimitAuth   int           // authクラスのウィンドウあたり上限
	RateLimitAPI    int           // apiクラスのウィンドウあたり上限
	RateLimitWindow time.Duration // 固定ウィンドウ長

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

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

	cfg.IDPBaseURL = os.Getenv("IDP_BASE_URL")
	if cfg.IDPBaseURL == "" {
		missing = append(missing, "IDP_BASE_URL")
	}

	cfg.IDPAPIKey = os.Getenv("IDP_API_KEY")
	if cfg.IDPAPIKey == "" {
		missing = append(missing, "IDP_API_KEY")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SessionHardTTL = getEnvDuration("SESSION_HARD_TTL", 24*time.Hour)
	cfg.RefreshTimeout = getEnvDuration("REFRESH_TIMEOUT", 5*time.Second)
	cfg.IDPMaxRPS = getEnvInt("IDP_MAX_RPS", 10)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 5)
	cfg.RateLimitAPI = getEnvInt("RATE_LIMIT_API", 30)
	cfg.RateLimitWindow = getEnvDuration("RATE_LIMIT_WINDOW", 60*time.Second)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
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
