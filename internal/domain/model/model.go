// Package model contains domain models passed between layers.
package model

import "time"

// Unranked is returned in place of a rank when the user could not be ranked.
// It is distinct from every valid 1-based rank.
const Unranked = -1

// LeaderboardEntry is one row of a rank page or neighborhood window.
type LeaderboardEntry struct {
	UserID string `json:"userId"`
	Score  int64  `json:"score"`
	// Rank is 1-based in ascending score order.
	Rank int `json:"rank"`
}

// AffectedUser is a user whose rank moved because someone else's score changed.
type AffectedUser struct {
	UserID string `json:"userId"`
	// NewRank is 1-based.
	NewRank  int   `json:"newRank"`
	NewScore int64 `json:"newScore"`
}

// ScoreUpdateEvent is produced by one accepted score update.
type ScoreUpdateEvent struct {
	OriginUserID  string
	OriginScore   int64
	OriginRank    int
	AffectedUsers []AffectedUser
	At            time.Time
}

// Notification is the per-recipient message carried over the event bus.
type Notification struct {
	MessageID    string    `json:"messageId"`
	Version      int       `json:"version"`
	UserID       string    `json:"userId"`
	OriginUserID string    `json:"originUserId"`
	NewRank      int       `json:"newRank"`
	NewScore     int64     `json:"newScore"`
	SentAt       time.Time `json:"sentAt"`
	// Probe marks the startup self-test message; subscribers never deliver it.
	Probe bool `json:"probe,omitempty"`
}
