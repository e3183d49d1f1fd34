// Package ranking implements score updates, rank queries, and the
// affected-user delta produced by each update.
package ranking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/okian/ladder/internal/adapters/repository"
	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/pkg/logger"
	"github.com/okian/ladder/pkg/metrics"
)

const (
	defaultPageSize     = 100
	defaultRadius       = 5
	defaultQueryTimeout = 2 * time.Second
)

// Emitter receives score update events. Emit must not block on delivery.
type Emitter interface {
	Emit(ctx context.Context, ev model.ScoreUpdateEvent)
}

type nopEmitter struct{}

func (nopEmitter) Emit(context.Context, model.ScoreUpdateEvent) {}

// Engine owns score-update semantics over a repository.Store.
//
// Writes to the same user are not serialized. The store swaps each key
// atomically and reports the key it replaced, so every affected set is
// computed over a real (previous, current) transition; ranks read afterwards
// may already include later writes.
type Engine struct {
	store   repository.Store
	emitter Emitter
	log     logger.Logger
	audit   logger.Logger
	now     func() time.Time

	pageSize     int
	radius       int
	queryTimeout time.Duration
}

// New creates an Engine over store.
func New(store repository.Store, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		emitter:      nopEmitter{},
		now:          time.Now,
		pageSize:     defaultPageSize,
		radius:       defaultRadius,
		queryTimeout: defaultQueryTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.Get().Named("ranking")
	}
	e.audit = e.log.Named("audit")
	return e
}

// PageSize returns the fixed page size.
func (e *Engine) PageSize() int { return e.pageSize }

func (e *Engine) query(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.queryTimeout)
}

func unavailable(err error) error {
	if errors.Is(err, repository.ErrEmptyUserID) {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// SetUserScore records score for userID and returns its new 1-based rank, or
// model.Unranked if the rank could not be read back. Index write failures are
// returned and never retried: a retry would draw a new tiebreak.
// Notification of affected users never fails the call.
func (e *Engine) SetUserScore(ctx context.Context, userID string, score int64) (int, error) {
	if userID == "" {
		return model.Unranked, fmt.Errorf("%w: empty user id", ErrInvalidInput)
	}

	qctx, cancel := e.query(ctx)
	defer cancel()

	res, err := e.store.Upsert(qctx, userID, score)
	if err != nil {
		metrics.RecordErrorByComponent("ranking", "upsert")
		return model.Unranked, unavailable(err)
	}
	metrics.RecordScoreUpdate()

	rank, ok, err := e.store.RankOf(qctx, userID)
	if err != nil || !ok {
		metrics.RecordScoreUnranked()
		e.log.Warn(ctx, "score accepted but rank unavailable",
			logger.String("user_id", userID), logger.Int64("score", score), logger.Error(err))
		e.audit.Info(ctx, "score submitted",
			logger.String("user_id", userID), logger.Int64("score", score), logger.Int("rank", model.Unranked))
		return model.Unranked, nil
	}
	display := rank + 1
	e.audit.Info(ctx, "score submitted",
		logger.String("user_id", userID), logger.Int64("score", score), logger.Int("rank", display))

	affected, err := e.affectedBy(qctx, userID, res)
	if err != nil {
		e.log.Warn(ctx, "affected users not computed",
			logger.String("user_id", userID), logger.Error(err))
		return display, nil
	}
	metrics.RecordAffectedUsers(len(affected))
	if len(affected) > 0 {
		e.emitter.Emit(context.WithoutCancel(ctx), model.ScoreUpdateEvent{
			OriginUserID:  userID,
			OriginScore:   score,
			OriginRank:    display,
			AffectedUsers: affected,
			At:            e.now(),
		})
	}
	return display, nil
}

// affectedBy returns every other user whose key lies in the closed interval
// spanned by the transition, with its current rank. An unchanged primary score
// moves nobody. Users that vanish between the range read and the rank read
// are skipped.
func (e *Engine) affectedBy(ctx context.Context, userID string, res repository.UpsertResult) ([]model.AffectedUser, error) {
	if res.Previous.Score == res.Key.Score {
		return nil, nil
	}
	lo, hi := repository.Bounds(res.Previous, res.Key)
	ids, err := e.store.RangeByKey(ctx, lo, hi)
	if err != nil {
		return nil, err
	}

	out := make([]model.AffectedUser, 0, len(ids))
	for _, id := range ids {
		if id == userID {
			continue
		}
		entry, ok, err := e.store.Lookup(ctx, id)
		if err != nil {
			return out, err
		}
		if !ok {
			continue
		}
		out = append(out, model.AffectedUser{UserID: id, NewRank: entry.Rank + 1, NewScore: entry.Key.Score})
	}
	return out, nil
}

// GetRankPage returns 1-based page pageIndex, highest score first. Pages past
// the end are empty.
func (e *Engine) GetRankPage(ctx context.Context, pageIndex int) ([]model.LeaderboardEntry, error) {
	if pageIndex < 1 {
		return nil, fmt.Errorf("%w: page index %d, must be >= 1", ErrInvalidInput, pageIndex)
	}
	if pageIndex-1 > (math.MaxInt-e.pageSize)/e.pageSize {
		return []model.LeaderboardEntry{}, nil
	}
	start := (pageIndex - 1) * e.pageSize
	stop := start + e.pageSize - 1

	qctx, cancel := e.query(ctx)
	defer cancel()
	entries, err := e.store.RangeByRank(qctx, start, stop, repository.Descending)
	if err != nil {
		return nil, unavailable(err)
	}
	return toModel(entries), nil
}

// GetUserRank returns the 1-based rank of userID or ErrNotFound.
func (e *Engine) GetUserRank(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: empty user id", ErrInvalidInput)
	}
	qctx, cancel := e.query(ctx)
	defer cancel()
	rank, ok, err := e.store.RankOf(qctx, userID)
	if err != nil {
		return 0, unavailable(err)
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	return rank + 1, nil
}

// GetUserNeighborhood returns the users at ascending ranks
// [rank-radius, rank+radius-1], clamped at zero, highest score first.
// An unknown user yields an empty window.
func (e *Engine) GetUserNeighborhood(ctx context.Context, userID string) ([]model.LeaderboardEntry, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrInvalidInput)
	}
	qctx, cancel := e.query(ctx)
	defer cancel()

	rank, ok, err := e.store.RankOf(qctx, userID)
	if err != nil {
		return nil, unavailable(err)
	}
	if !ok {
		return []model.LeaderboardEntry{}, nil
	}
	start := max(rank-e.radius, 0)
	stop := rank + e.radius - 1

	entries, err := e.store.RangeByRank(qctx, start, stop, repository.Ascending)
	if err != nil {
		return nil, unavailable(err)
	}
	slices.Reverse(entries)
	return toModel(entries), nil
}

func toModel(entries []repository.Entry) []model.LeaderboardEntry {
	out := make([]model.LeaderboardEntry, len(entries))
	for i, en := range entries {
		out[i] = model.LeaderboardEntry{UserID: en.UserID, Score: en.Key.Score, Rank: en.Rank + 1}
	}
	return out
}
