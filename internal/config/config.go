// Package config defines service configuration structures and loading hooks.
//
// Values are layered defaults -> YAML file -> environment, see Load.
package config

import "time"

// Process roles.
const (
	RoleAll      = "all"
	RoleRanking  = "ranking"
	RoleNotifier = "notifier"
)

// Backends for the event bus and the online directory.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// Role selects which halves run in this process: all, ranking or notifier.
	Role string `koanf:"role"`

	// PageSize is the fixed size of rank pages.
	PageSize int `koanf:"page_size"`
	// NeighborhoodRadius is the window radius for neighborhood queries.
	NeighborhoodRadius int `koanf:"neighborhood_radius"`
	// QueryTimeoutMS bounds each index query.
	QueryTimeoutMS int `koanf:"query_timeout_ms"`

	HeartbeatIntervalMS int `koanf:"heartbeat_interval_ms"`
	HeartbeatTimeoutMS  int `koanf:"heartbeat_timeout_ms"`
	// OutboxSize bounds queued pushes per connection.
	OutboxSize int `koanf:"outbox_size"`

	// FanoutQueueSize bounds the score update events awaiting publication.
	FanoutQueueSize int `koanf:"fanout_queue_size"`
	FanoutWorkers   int `koanf:"fanout_workers"`
	// DedupeSize sets how many recent message ids the subscriber remembers.
	DedupeSize int `koanf:"dedupe_size"`

	BusBackend       string `koanf:"bus_backend"`
	DirectoryBackend string `koanf:"directory_backend"`
	RedisAddr        string `koanf:"redis_addr"`
	RedisDB          int    `koanf:"redis_db"`
	// ProbeTimeoutMS bounds the startup bus round-trip check.
	ProbeTimeoutMS int `koanf:"probe_timeout_ms"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":9080",
		Role:                RoleAll,
		PageSize:            100,
		NeighborhoodRadius:  5,
		QueryTimeoutMS:      2000,
		HeartbeatIntervalMS: 10_000,
		HeartbeatTimeoutMS:  30_000,
		OutboxSize:          64,
		FanoutQueueSize:     10_000,
		FanoutWorkers:       4,
		DedupeSize:          100_000,
		BusBackend:          BackendMemory,
		DirectoryBackend:    BackendMemory,
		RedisAddr:           "localhost:6379",
		RedisDB:             0,
		ProbeTimeoutMS:      3000,
	}
}

// QueryTimeout returns QueryTimeoutMS as a duration.
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutMS) * time.Millisecond
}

// HeartbeatInterval returns HeartbeatIntervalMS as a duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMS) * time.Millisecond
}

// HeartbeatTimeout returns HeartbeatTimeoutMS as a duration.
func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutMS) * time.Millisecond
}

// ProbeTimeout returns ProbeTimeoutMS as a duration.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutMS) * time.Millisecond
}

// RunsRanking reports whether this process serves score updates and queries.
func (c *Config) RunsRanking() bool { return c.Role == RoleAll || c.Role == RoleRanking }

// RunsNotifier reports whether this process holds client connections.
func (c *Config) RunsNotifier() bool { return c.Role == RoleAll || c.Role == RoleNotifier }
