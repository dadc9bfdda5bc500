package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration for the dice arena server.
type Config struct {
	// Required variables
	Port string

	// JWT verification. Either JWKSUrl (asymmetric) or JWTSecret (symmetric
	// fallback) must be set; both may be set, in which case JWKS is tried
	// first and the shared secret is the fallback path.
	JWKSUrl      string
	JWTSecret    string
	JWTIssuer    string
	JWTAudience  string

	// Optional variables with defaults
	GoEnv           string
	LogLevel        string
	RedisEnabled    bool
	RedisAddr       string
	RedisPassword   string
	SkipAuth        bool
	DevelopmentMode bool
	AllowedOrigins  string

	// Rate limits
	RateLimitApiGlobal    string
	RateLimitApiPublic    string
	RateLimitApiRooms     string
	RateLimitWsIp         string
	RateLimitWsUser       string
	ChatMinIntervalMs     int
	ReactionWindowMs      int
	ReactionMaxPerWindow  int
	ShoutCooldownSec      int

	// Room/session tuning
	RoomIdleGraceSec     int
	AfkTimeoutSec        int
	AfkWarningSec        int
	StartingCountdownSec int
	MaxPlayers           int
	MinPlayers           int
	JoinRequestTTLSec    int
	HeartbeatIntervalSec int
	HeartbeatMissedMax   int

	// Tracing
	OtelCollectorAddr string
	ServiceName       string
}

// ValidateEnv validates all required environment variables and returns a Config object.
// Returns an error if any required variable is missing or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errs = append(errs, "PORT is required")
	} else if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.JWKSUrl = os.Getenv("JWKS_URL")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.JWTIssuer = os.Getenv("JWT_ISSUER")
	cfg.JWTAudience = getEnvOrDefault("JWT_AUDIENCE", "dice-arena")
	if cfg.JWKSUrl == "" && cfg.JWTSecret == "" {
		errs = append(errs, "either JWKS_URL or JWT_SECRET must be set")
	}
	if cfg.JWTSecret != "" && len(cfg.JWTSecret) < 32 {
		errs = append(errs, fmt.Sprintf("JWT_SECRET must be at least 32 characters (got %d)", len(cfg.JWTSecret)))
	}

	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.SkipAuth = os.Getenv("SKIP_AUTH") == "true"
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	cfg.RateLimitApiGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")
	cfg.RateLimitApiPublic = getEnvOrDefault("RATE_LIMIT_API_PUBLIC", "100-M")
	cfg.RateLimitApiRooms = getEnvOrDefault("RATE_LIMIT_API_ROOMS", "100-M")
	cfg.RateLimitWsIp = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitWsUser = getEnvOrDefault("RATE_LIMIT_WS_USER", "10-M")

	cfg.ChatMinIntervalMs = getEnvIntOrDefault("CHAT_MIN_INTERVAL_MS", 1000)
	cfg.ReactionWindowMs = getEnvIntOrDefault("REACTION_WINDOW_MS", 1000)
	cfg.ReactionMaxPerWindow = getEnvIntOrDefault("REACTION_MAX_PER_WINDOW", 5)
	cfg.ShoutCooldownSec = getEnvIntOrDefault("SHOUT_COOLDOWN_SEC", 30)

	cfg.RoomIdleGraceSec = getEnvIntOrDefault("ROOM_IDLE_GRACE_SEC", 300)
	cfg.AfkTimeoutSec = getEnvIntOrDefault("AFK_TIMEOUT_SEC", 30)
	cfg.AfkWarningSec = getEnvIntOrDefault("AFK_WARNING_SEC", 20)
	cfg.StartingCountdownSec = getEnvIntOrDefault("STARTING_COUNTDOWN_SEC", 3)
	cfg.MaxPlayers = getEnvIntOrDefault("MAX_PLAYERS", 6)
	cfg.MinPlayers = getEnvIntOrDefault("MIN_PLAYERS", 2)
	if cfg.AfkWarningSec >= cfg.AfkTimeoutSec {
		errs = append(errs, fmt.Sprintf("AFK_WARNING_SEC (%d) must be less than AFK_TIMEOUT_SEC (%d)", cfg.AfkWarningSec, cfg.AfkTimeoutSec))
	}
	cfg.JoinRequestTTLSec = getEnvIntOrDefault("JOIN_REQUEST_TTL_SEC", 120)
	cfg.HeartbeatIntervalSec = getEnvIntOrDefault("HEARTBEAT_INTERVAL_SEC", 30)
	cfg.HeartbeatMissedMax = getEnvIntOrDefault("HEARTBEAT_MISSED_MAX", 2)

	cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")
	cfg.ServiceName = getEnvOrDefault("SERVICE_NAME", "dice-arena")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}
	return parts[0] != ""
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated")
	slog.Info("configuration",
		"jwt_secret", redactSecret(cfg.JWTSecret),
		"jwks_url", cfg.JWKSUrl,
		"port", cfg.Port,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"rate_limit_api_global", cfg.RateLimitApiGlobal,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 8 characters.
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
