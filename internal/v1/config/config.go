package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration
type Config struct {
	// Required variables
	BackAddrs []string
	Port      string

	// Optional variables with defaults
	GoEnv    string
	LogLevel string

	// Redis backs the distributed rate limiter store
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Token validation
	AuthDomain      string
	AuthAudience    string
	SkipAuth        bool
	DevelopmentMode bool
	AllowedOrigins  string

	// Admin REST service (optional; queries degrade when unset)
	AdminAPIURL   string
	AdminAPIToken string

	// Embeddable website probe
	EmbedDomainAllowlist []string

	// Trace export (disabled when OtelCollectorAddr is empty)
	OtelCollectorAddr string
	OtelInsecure      bool

	// Shared space stream watchdog
	WatchdogTimeout time.Duration

	// Client batch emitter
	BatchFlushInterval time.Duration
	BatchMaxSize       int

	// Rate Limits
	RateLimitAPIGlobal string
	RateLimitAPIPublic string
	RateLimitAPIAdmin  string
	RateLimitWsIP      string
	RateLimitWsUser    string
}

// ValidateEnv validates all required environment variables and returns a Config object
// Returns an error if any required variable is missing or invalid
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: BACK_ADDRS (comma-separated host:port list, at least one)
	backAddrs := os.Getenv("BACK_ADDRS")
	if backAddrs == "" {
		errors = append(errors, "BACK_ADDRS is required")
	} else {
		for _, addr := range strings.Split(backAddrs, ",") {
			addr = strings.TrimSpace(addr)
			if addr == "" {
				continue
			}
			if !isValidHostPort(addr) {
				errors = append(errors, fmt.Sprintf("BACK_ADDRS entries must be in format 'host:port' (got '%s')", addr))
				continue
			}
			cfg.BackAddrs = append(cfg.BackAddrs, addr)
		}
		if len(cfg.BackAddrs) == 0 && backAddrs != "" {
			errors = append(errors, "BACK_ADDRS must contain at least one 'host:port' entry")
		}
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

	// Token validation: domain and audience are required unless auth is skipped
	cfg.SkipAuth = os.Getenv("SKIP_AUTH") == "true"
	cfg.AuthDomain = os.Getenv("AUTH_DOMAIN")
	cfg.AuthAudience = os.Getenv("AUTH_AUDIENCE")
	if !cfg.SkipAuth {
		if cfg.AuthDomain == "" {
			errors = append(errors, "AUTH_DOMAIN is required unless SKIP_AUTH=true")
		}
		if cfg.AuthAudience == "" {
			errors = append(errors, "AUTH_AUDIENCE is required unless SKIP_AUTH=true")
		}
	}

	// Conditional: ADMIN_API_TOKEN (required if ADMIN_API_URL is set)
	cfg.AdminAPIURL = strings.TrimSuffix(os.Getenv("ADMIN_API_URL"), "/")
	if cfg.AdminAPIURL != "" {
		cfg.AdminAPIToken = os.Getenv("ADMIN_API_TOKEN")
		if cfg.AdminAPIToken == "" {
			errors = append(errors, "ADMIN_API_TOKEN is required when ADMIN_API_URL is set")
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

	// Optional: EMBED_DOMAIN_ALLOWLIST (comma-separated substrings)
	if allowlist := os.Getenv("EMBED_DOMAIN_ALLOWLIST"); allowlist != "" {
		for _, entry := range strings.Split(allowlist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.EmbedDomainAllowlist = append(cfg.EmbedDomainAllowlist, entry)
			}
		}
	}

	// Optional: OTEL_COLLECTOR_ADDR (trace export stays off when unset)
	if addr := os.Getenv("OTEL_COLLECTOR_ADDR"); addr != "" {
		if !isValidHostPort(addr) {
			errors = append(errors, fmt.Sprintf("OTEL_COLLECTOR_ADDR must be in format 'host:port' (got '%s')", addr))
		} else {
			cfg.OtelCollectorAddr = addr
		}
		cfg.OtelInsecure = os.Getenv("OTEL_INSECURE") == "true"
	}

	// Optional: SPACE_WATCHDOG_SECONDS (defaults to 60)
	watchdogSeconds, err := parsePositiveInt(getEnvOrDefault("SPACE_WATCHDOG_SECONDS", "60"))
	if err != nil {
		errors = append(errors, fmt.Sprintf("SPACE_WATCHDOG_SECONDS must be a positive integer: %v", err))
	} else {
		cfg.WatchdogTimeout = time.Duration(watchdogSeconds) * time.Second
	}

	// Optional: BATCH_FLUSH_MS (defaults to 100) and BATCH_MAX_SIZE (defaults to 20)
	flushMs, err := parsePositiveInt(getEnvOrDefault("BATCH_FLUSH_MS", "100"))
	if err != nil {
		errors = append(errors, fmt.Sprintf("BATCH_FLUSH_MS must be a positive integer: %v", err))
	} else {
		cfg.BatchFlushInterval = time.Duration(flushMs) * time.Millisecond
	}
	cfg.BatchMaxSize, err = parsePositiveInt(getEnvOrDefault("BATCH_MAX_SIZE", "20"))
	if err != nil {
		errors = append(errors, fmt.Sprintf("BATCH_MAX_SIZE must be a positive integer: %v", err))
	}

	// Rate Limits (Defaults: M = Minute, H = Hour)
	cfg.RateLimitAPIGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")
	cfg.RateLimitAPIPublic = getEnvOrDefault("RATE_LIMIT_API_PUBLIC", "100-M")
	cfg.RateLimitAPIAdmin = getEnvOrDefault("RATE_LIMIT_API_ADMIN", "100-M")
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitWsUser = getEnvOrDefault("RATE_LIMIT_WS_USER", "10-M")

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

func parsePositiveInt(value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("got %d", n)
	}
	return n, nil
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"back_addrs", cfg.BackAddrs,
		"port", cfg.Port,
		"auth_domain", cfg.AuthDomain,
		"skip_auth", cfg.SkipAuth,
		"admin_api_url", cfg.AdminAPIURL,
		"admin_api_token", redactSecret(cfg.AdminAPIToken),
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"watchdog_timeout", cfg.WatchdogTimeout,
		"batch_flush_interval", cfg.BatchFlushInterval,
		"batch_max_size", cfg.BatchMaxSize,
		"rate_limit_api_global", cfg.RateLimitAPIGlobal,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
