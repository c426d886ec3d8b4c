package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration shared by the cluster and
// room processes. Command-line flags (spec.md §6) take precedence over these
// values where both exist; Config supplies the pieces that only make sense as
// environment/deployment settings (catalog address, Redis mirror, tracing).
type Config struct {
	// CatalogAddr is the nameserver this process broadcasts discovery
	// beacons to, "host:port" (spec.md §4.4/§4.5, nameserver).
	CatalogAddr string

	// RedisEnabled mirrors the last beacon sent per project into Redis, for
	// test/debug observability of the otherwise fire-and-forget UDP path.
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	GoEnv    string
	LogLevel string

	// OtelCollectorAddr is the OTLP/gRPC collector tracing spans are
	// exported to. Empty disables tracing.
	OtelCollectorAddr string

	// RateLimitCommandsPerClient bounds how many commands per minute a
	// single client connection may send (spec.md §6, transport hardening;
	// explicitly not anti-cheat).
	RateLimitCommandsPerClient string
}

// ValidateEnv validates environment configuration and returns a Config.
// Every field here is optional with a sane default: unlike the teacher's
// JWT/SFU variables, nothing in this deployment is load-bearing enough to
// fail startup over, so this never returns an error, mirroring the fact
// that the source program takes all of its required settings as CLI flags
// instead (spec.md §6).
func ValidateEnv() *Config {
	cfg := &Config{}

	cfg.CatalogAddr = getEnvOrDefault("CATALOG_ADDR", "catalog.cse.nd.edu:9097")

	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = getEnvOrDefault("REDIS_ADDR", "localhost:6379")
		if !isValidHostPort(cfg.RedisAddr) {
			slog.Warn("REDIS_ADDR is malformed, disabling catalog mirror", "addr", cfg.RedisAddr)
			cfg.RedisEnabled = false
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")
	cfg.RateLimitCommandsPerClient = getEnvOrDefault("RATE_LIMIT_COMMANDS", "120-M")

	logValidatedConfig(cfg)
	return cfg
}

// isValidHostPort checks if a string is in the format "host:port".
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
	slog.Info("environment configuration validated",
		"catalog_addr", cfg.CatalogAddr,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"otel_collector_addr", cfg.OtelCollectorAddr,
		"rate_limit_commands", cfg.RateLimitCommandsPerClient,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// ValidatePort checks a --port flag the same way the teacher validated PORT.
func ValidatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535 (got %d)", port)
	}
	return nil
}
