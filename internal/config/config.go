package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds location-service configuration.
type Config struct {
	AppEnv   string // APP_ENV
	AppHost  string // APP_HOST
	HTTPPort string // APP_PORT or HTTP_PORT
	LogLevel string // LOG_LEVEL

	// PostgreSQL
	DB struct {
		Host     string
		Port     string
		User     string
		Password string
		Database string
		SSLMode  string
	}

	// WebSocket
	WSReadBufferSize  int
	WSWriteBufferSize int
	WSMaxMessageSize  int64
	WSViewerQueue     int // per-viewer send buffer; overflow detaches the viewer

	// Session lifecycle
	SessionMinDuration time.Duration // smallest accepted share duration
	SessionMaxDuration time.Duration // largest accepted share duration
	SessionGracePeriod time.Duration // terminal sessions stay visible this long

	// Identity provider (external): tokens are verified against this URL.
	// AUTH_STATIC_TOKENS ("token:user,token2:user2") replaces it in dev.
	IdentityProviderURL string
	AuthStaticTokens    string

	// Base URLs returned in CreateSession responses.
	WSBaseURL    string // e.g. wss://track.example.com
	ShareBaseURL string // e.g. https://track.example.com/live
}

// Load loads config from environment (.env if present).
func Load() (*Config, error) {
	_ = godotenv.Load()

	readBuf, _ := strconv.Atoi(getEnv("WS_READ_BUFFER_SIZE", "4096"))
	writeBuf, _ := strconv.Atoi(getEnv("WS_WRITE_BUFFER_SIZE", "4096"))
	maxMsg, _ := strconv.ParseInt(getEnv("WS_MAX_MESSAGE_SIZE", "4096"), 10, 64)
	queue, _ := strconv.Atoi(getEnv("WS_VIEWER_QUEUE", "64"))
	minDur, err := time.ParseDuration(getEnv("SESSION_MIN_DURATION", "1m"))
	if err != nil {
		return nil, fmt.Errorf("config: SESSION_MIN_DURATION: %w", err)
	}
	maxDur, err := time.ParseDuration(getEnv("SESSION_MAX_DURATION", "120m"))
	if err != nil {
		return nil, fmt.Errorf("config: SESSION_MAX_DURATION: %w", err)
	}
	grace, err := time.ParseDuration(getEnv("SESSION_GRACE_PERIOD", "5m"))
	if err != nil {
		return nil, fmt.Errorf("config: SESSION_GRACE_PERIOD: %w", err)
	}

	cfg := &Config{
		AppEnv:              getEnv("APP_ENV", "development"),
		AppHost:             getEnv("APP_HOST", "0.0.0.0"),
		HTTPPort:            firstEnv("APP_PORT", "HTTP_PORT", "8080"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		WSReadBufferSize:    readBuf,
		WSWriteBufferSize:   writeBuf,
		WSMaxMessageSize:    maxMsg,
		WSViewerQueue:       queue,
		SessionMinDuration:  minDur,
		SessionMaxDuration:  maxDur,
		SessionGracePeriod:  grace,
		IdentityProviderURL: getEnv("IDENTITY_PROVIDER_URL", ""),
		AuthStaticTokens:    getEnv("AUTH_STATIC_TOKENS", ""),
		WSBaseURL:           getEnv("WS_BASE_URL", ""),
		ShareBaseURL:        getEnv("SHARE_BASE_URL", ""),
	}
	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnv("DB_PORT", "5432")
	cfg.DB.User = getEnv("DB_USER", "postgres")
	cfg.DB.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.DB.Database = getEnv("DB_DATABASE", "location_service")
	cfg.DB.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg, nil
}

// Validate checks required fields and production safety.
func (c *Config) Validate() error {
	if c.DB.Host == "" {
		return errors.New("config: DB_HOST is required")
	}
	if c.DB.User == "" {
		return errors.New("config: DB_USER is required")
	}
	if c.DB.Database == "" {
		return errors.New("config: DB_DATABASE is required")
	}
	if c.AppEnv == "production" && c.DB.Password == "" {
		return errors.New("config: in production DB_PASSWORD is required")
	}
	if c.AppEnv == "production" && c.IdentityProviderURL == "" {
		return errors.New("config: in production IDENTITY_PROVIDER_URL is required")
	}
	if c.SessionMinDuration <= 0 || c.SessionMaxDuration < c.SessionMinDuration {
		return errors.New("config: session duration bounds are inconsistent")
	}
	if c.SessionGracePeriod < 0 {
		return errors.New("config: SESSION_GRACE_PERIOD must not be negative")
	}
	if c.WSViewerQueue <= 0 {
		return errors.New("config: WS_VIEWER_QUEUE must be positive")
	}
	return nil
}

// DSN returns the PostgreSQL connection string for GORM.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Database, c.DB.SSLMode)
}

// DatabaseURL returns the postgres URL for golang-migrate.
func (c *Config) DatabaseURL() string {
	pass := url.QueryEscape(c.DB.Password)
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DB.User, pass, c.DB.Host, c.DB.Port, c.DB.Database, c.DB.SSLMode)
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return c.AppHost + ":" + c.HTTPPort
}

func firstEnv(keysAndDef ...string) string {
	if len(keysAndDef) == 0 {
		return ""
	}
	def := keysAndDef[len(keysAndDef)-1]
	keys := keysAndDef[:len(keysAndDef)-1]
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
