// Package repository implements the ordered score index backing the
// leaderboard.
package repository

import "context"

// Order selects the traversal direction of a rank range.
type Order int

const (
	// Ascending walks from the lowest composite key upwards.
	Ascending Order = iota
	// Descending walks from the highest composite key downwards.
	Descending
)

// Entry is one ranked element of the index. Rank is the 0-based position in
// ascending key order.
type Entry struct {
	UserID string
	Key    CompositeKey
	Rank   int
}

// UpsertResult describes the key transition produced by an upsert.
// Previous is BaselineKey when Existed is false.
type UpsertResult struct {
	Previous CompositeKey
	Existed  bool
	Key      CompositeKey
}

// Store is the ordered score index.
//
// Upsert swaps the user's key atomically and reports the key it replaced, so
// every result is a real transition even when writes to one user race. Which
// racing write lands last is not defined.
type Store interface {
	// Upsert inserts or replaces userID's entry with a fresh key for score.
	Upsert(ctx context.Context, userID string, score int64) (UpsertResult, error)

	// KeyOf returns the current key of userID; ok is false for unknown users.
	KeyOf(ctx context.Context, userID string) (key CompositeKey, ok bool, err error)

	// RankOf returns the 0-based ascending rank of userID; ok is false for
	// unknown users.
	RankOf(ctx context.Context, userID string) (rank int, ok bool, err error)

	// Lookup returns userID's key and rank read under one snapshot; ok is
	// false for unknown users.
	Lookup(ctx context.Context, userID string) (entry Entry, ok bool, err error)

	// RangeByRank returns entries in positions [start, stop] of the given
	// order. Bounds are clamped to the populated range.
	RangeByRank(ctx context.Context, start, stop int, order Order) ([]Entry, error)

	// RangeByKey returns the users whose key lies in the closed interval
	// between lo and hi, in ascending key order. lo and hi may be given in
	// either order.
	RangeByKey(ctx context.Context, lo, hi CompositeKey) ([]string, error)

	// Count returns the number of ranked users.
	Count(ctx context.Context) int
}
