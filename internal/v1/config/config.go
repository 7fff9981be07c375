package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration
type Config struct {
	// Required variables
	SupabaseURL string
	DatabaseURL string
	Port        string

	// Optional variables with defaults
	GoEnv         string
	LogLevel      string
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	SupabaseAnonKey string
	SkipAuth        bool
	DevelopmentMode bool
	AllowedOrigins  string

	// WebSocket timings
	HeartbeatInterval time.Duration
	ConnectionTimeout time.Duration
	AuthTimeout       time.Duration

	// Rate Limits
	RateLimitWsIp       string
	RateLimitWsMessages string

	// Tracing (optional; empty disables span export)
	OtelCollectorAddr string
}

// ValidateEnv validates all required environment variables and returns a Config object
// Returns an error if any required variable is missing or invalid
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	cfg.SkipAuth = os.Getenv("SKIP_AUTH") == "true"

	// Required: SUPABASE_URL (valid URL), unless auth is skipped
	cfg.SupabaseURL = os.Getenv("SUPABASE_URL")
	if cfg.SupabaseURL == "" {
		if !cfg.SkipAuth {
			errors = append(errors, "SUPABASE_URL is required")
		}
	} else if u, err := url.Parse(cfg.SupabaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errors = append(errors, fmt.Sprintf("SUPABASE_URL must be a valid URL (got '%s')", cfg.SupabaseURL))
	}
	cfg.SupabaseAnonKey = os.Getenv("SUPABASE_ANON_KEY")

	// Required: DATABASE_URL (postgres connection string)
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errors = append(errors, "DATABASE_URL is required")
	} else if !strings.HasPrefix(cfg.DatabaseURL, "postgres://") && !strings.HasPrefix(cfg.DatabaseURL, "postgresql://") {
		errors = append(errors, fmt.Sprintf("DATABASE_URL must be a postgres:// URL (got '%s')", redactSecret(cfg.DatabaseURL)))
	}

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errors = append(errors, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			// Default to localhost:6379 if not specified
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// WebSocket timings
	cfg.HeartbeatInterval = getDurationOrDefault("WS_HEARTBEAT_INTERVAL", 30*time.Second, &errors)
	cfg.ConnectionTimeout = getDurationOrDefault("WS_CONNECTION_TIMEOUT", 60*time.Second, &errors)
	cfg.AuthTimeout = getDurationOrDefault("AUTH_TIMEOUT", 30*time.Second, &errors)

	// Rate Limits (Defaults: M = Minute, H = Hour)
	cfg.RateLimitWsIp = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitWsMessages = getEnvOrDefault("RATE_LIMIT_WS_MESSAGES", "10-S")

	// Optional: OTEL_COLLECTOR_ADDR (host:port of an OTLP gRPC collector)
	cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")
	if cfg.OtelCollectorAddr != "" && !isValidHostPort(cfg.OtelCollectorAddr) {
		errors = append(errors, fmt.Sprintf("OTEL_COLLECTOR_ADDR must be in format 'host:port' (got '%s')", cfg.OtelCollectorAddr))
	}

	// If there are validation errors, return them
	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	// Log validated configuration (with secrets redacted)
	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	// Validate port is a number
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	// Validate host is not empty
	if parts[0] == "" {
		return false
	}

	return true
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"supabase_url", cfg.SupabaseURL,
		"database_url", redactSecret(cfg.DatabaseURL),
		"port", cfg.Port,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"skip_auth", cfg.SkipAuth,
		"development_mode", cfg.DevelopmentMode,
		"heartbeat_interval", cfg.HeartbeatInterval,
		"connection_timeout", cfg.ConnectionTimeout,
		"auth_timeout", cfg.AuthTimeout,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getDurationOrDefault parses a duration variable, collecting an error on bad input
func getDurationOrDefault(key string, defaultValue time.Duration, errors *[]string) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		*errors = append(*errors, fmt.Sprintf("%s must be a positive duration like '30s' (got '%s')", key, value))
		return defaultValue
	}
	return d
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
