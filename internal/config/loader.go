package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix  = "LADDER_"
	envFileKey = "LADDER_CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if LADDER_CONFIG is set
//  3. env (prefix LADDER_)
func Load() (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv(envFileKey); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// LADDER_PAGE_SIZE -> page_size; underscores are kept to match the flat koanf tags.
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}
	// The path to the file itself is not a config key.
	k.Delete("config")

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	if c.Addr == "" {
		return invalid("addr must not be empty")
	}
	switch c.Role {
	case RoleAll, RoleRanking, RoleNotifier:
	default:
		return invalid("unknown role %q", c.Role)
	}
	for name, b := range map[string]string{"bus_backend": c.BusBackend, "directory_backend": c.DirectoryBackend} {
		if b != BackendMemory && b != BackendRedis {
			return invalid("unknown %s %q", name, b)
		}
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return invalid("unknown log_format %q", c.LogFormat)
	}
	if c.PageSize <= 0 {
		return invalid("page_size must be positive, got %d", c.PageSize)
	}
	if c.NeighborhoodRadius <= 0 {
		return invalid("neighborhood_radius must be positive, got %d", c.NeighborhoodRadius)
	}
	if c.QueryTimeoutMS <= 0 || c.ProbeTimeoutMS <= 0 {
		return invalid("query_timeout_ms and probe_timeout_ms must be positive")
	}
	if c.HeartbeatIntervalMS <= 0 {
		return invalid("heartbeat_interval_ms must be positive, got %d", c.HeartbeatIntervalMS)
	}
	if c.HeartbeatTimeoutMS <= c.HeartbeatIntervalMS {
		return invalid("heartbeat_timeout_ms (%d) must exceed heartbeat_interval_ms (%d)",
			c.HeartbeatTimeoutMS, c.HeartbeatIntervalMS)
	}
	if c.OutboxSize <= 0 || c.FanoutQueueSize <= 0 || c.FanoutWorkers <= 0 || c.DedupeSize <= 0 {
		return invalid("outbox_size, fanout_queue_size, fanout_workers and dedupe_size must be positive")
	}
	if c.Role != RoleAll && c.BusBackend != BackendRedis {
		return invalid("role %q needs bus_backend=redis to reach the other half", c.Role)
	}
	if (c.BusBackend == BackendRedis || c.DirectoryBackend == BackendRedis) && c.RedisAddr == "" {
		return invalid("redis_addr must be set for the redis backend")
	}
	return nil
}
