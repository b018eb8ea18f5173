package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// REST API
	APIBaseURL           string
	DigestToken          string
	RequestTimeout       time.Duration
	RequestRetryLimit    int
	RequestRatePerSecond float64
	RequestRateBurst     int

	// Storage
	StatePath   string
	DatabaseURL string

	// Server
	ServerPort string
	BaseURL    string

	// Session
	SessionMaxAge int

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string

	// Rate Limit
	RateLimitGeneral int

	// Digest
	DigestFrequency  string
	DigestRecipients []string
	DigestEmailFrom  string
	ResendAPIKey     string
	DigestInterval   time.Duration

	// Ingest
	SourcesFile  string
	FetchTimeout time.Duration
	FetchMaxSize int64

	// Logging
	LogLevel string
	// 期限切れのストレージエントリを削除する間隔
	PurgeInterval time.Duration
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.APIBaseURL = strings.TrimSpace(os.Getenv("API_BASE_URL"))
	if cfg.APIBaseURL == "" {
		missing = append(missing, "API_BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DigestToken = getEnvString("DIGEST_TOKEN", "")
	cfg.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", 15*time.Second)
	cfg.RequestRetryLimit = getEnvInt("REQUEST_RETRY_LIMIT", 3)
	cfg.RequestRatePerSecond = getEnvFloat("REQUEST_RATE_PER_SECOND", 10)
	cfg.RequestRateBurst = getEnvInt("REQUEST_RATE_BURST", 20)
	cfg.StatePath = getEnvString("STATE_PATH", defaultStatePath())
	cfg.DatabaseURL = getEnvString("DATABASE_URL", "")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:8080")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 604800)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.DigestFrequency = getEnvString("DIGEST_FREQUENCY", "weekly")
	cfg.DigestRecipients = getEnvList("DIGEST_RECIPIENTS")
	cfg.DigestEmailFrom = getEnvString("DIGEST_EMAIL_FROM", "Customer Voice <digest@customervoice.local>")
	cfg.ResendAPIKey = getEnvString("RESEND_API_KEY", "")
	cfg.DigestInterval = getEnvDuration("DIGEST_INTERVAL", 24*time.Hour)
	cfg.SourcesFile = getEnvString("SOURCES_FILE", "sources.yaml")
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.PurgeInterval = getEnvDuration("PURGE_INTERVAL", time.Hour)

	return cfg, nil
}

// defaultStatePath はCLIの状態ファイルの既定パスを返す。
func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return "customervoice-state.db"
	}
	return filepath.Join(dir, "customervoice", "state.db")
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

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
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

// getEnvList はカンマ区切りの環境変数を空要素を除いたスライスとして返す。
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
