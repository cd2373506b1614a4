package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string

	// Upstream clinic backend API
	BackendBaseURL  string
	BackendWSURL    string
	RequestTimeout  time.Duration
	DownloadTimeout time.Duration

	// Portal session store
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	SessionTTL    time.Duration
	SessionSecret string

	// Audit log database
	DatabaseURL string

	// Notification delivery
	NotifySource          string // "poll" or "stream"
	NotifyPollInterval    time.Duration
	NotifyBackoffAfter    int
	NotifyBackoffInterval time.Duration

	// Per-IP limit on unauthenticated auth attempts; zero disables it
	LoginRate  float64
	LoginBurst int

	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		BackendBaseURL:  strings.TrimRight(getEnv("BACKEND_BASE_URL", "http://localhost:8000/api"), "/"),
		BackendWSURL:    getEnv("BACKEND_WS_URL", "ws://localhost:8000/ws/notifications/"),
		RequestTimeout:  getEnvAsDuration("REQUEST_TIMEOUT", 5*time.Second),
		DownloadTimeout: getEnvAsDuration("DOWNLOAD_TIMEOUT", 30*time.Second),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		SessionTTL:    getEnvAsDuration("SESSION_TTL", 12*time.Hour),
		SessionSecret: getEnv("SESSION_SECRET", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		NotifySource:          strings.ToLower(strings.TrimSpace(getEnv("NOTIFY_SOURCE", "poll"))),
		NotifyPollInterval:    getEnvAsDuration("NOTIFY_POLL_INTERVAL", time.Minute),
		NotifyBackoffAfter:    getEnvAsInt("NOTIFY_BACKOFF_AFTER", 3),
		NotifyBackoffInterval: getEnvAsDuration("NOTIFY_BACKOFF_INTERVAL", 5*time.Minute),

		LoginRate:  getEnvAsFloat("LOGIN_RATE", 1),
		LoginBurst: getEnvAsInt("LOGIN_BURST", 5),

		CORSAllowedOrigins: splitAndTrim(getEnv("CORS_ALLOWED_ORIGINS", "")),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
