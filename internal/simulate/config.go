// Package simulate drives a running leaderboard with simulated players: each
// holds a websocket, answers heartbeats, and submits random scores.
package simulate

import (
	"errors"
	"sync/atomic"
	"time"
)

// ErrInvalidConfig is returned for unusable simulator settings.
var ErrInvalidConfig = errors.New("invalid simulator config")

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL        string        // Base URL of the service
	Users          int           // Number of simulated players
	Duration       time.Duration // How long players keep submitting
	UpdateInterval time.Duration // Mean delay between one player's submissions
	MaxScore       int64         // Scores are drawn from [0, MaxScore]
	Timeout        time.Duration // HTTP request timeout
	Verbose        bool          // Log every notification
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return errors.Join(ErrInvalidConfig, errors.New("base url is required"))
	case c.Users < 1:
		return errors.Join(ErrInvalidConfig, errors.New("users must be positive"))
	case c.Duration <= 0:
		return errors.Join(ErrInvalidConfig, errors.New("duration must be positive"))
	case c.UpdateInterval <= 0:
		return errors.Join(ErrInvalidConfig, errors.New("update interval must be positive"))
	case c.MaxScore < 0:
		return errors.Join(ErrInvalidConfig, errors.New("max score must not be negative"))
	case c.Timeout <= 0:
		return errors.Join(ErrInvalidConfig, errors.New("timeout must be positive"))
	}
	return nil
}

// Stats holds run counters. Fields are updated concurrently.
type Stats struct {
	Connected     atomic.Int64
	Submitted     atomic.Int64
	Failed        atomic.Int64
	Unranked      atomic.Int64
	Notifications atomic.Int64
	Heartbeats    atomic.Int64
}
