package ranking_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/okian/ladder/internal/adapters/repository"
	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/internal/domain/ranking"
	"github.com/okian/ladder/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init(logger.WithOutput(io.Discard))
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []model.ScoreUpdateEvent
}

func (r *recordingEmitter) Emit(_ context.Context, ev model.ScoreUpdateEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingEmitter) Events() []model.ScoreUpdateEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ScoreUpdateEvent(nil), r.events...)
}

// unrankableStore accepts writes but never reports a rank.
type unrankableStore struct {
	repository.Store
}

func (unrankableStore) RankOf(context.Context, string) (int, bool, error) { return 0, false, nil }

// brokenStore fails every write.
type brokenStore struct {
	repository.Store
}

func (brokenStore) Upsert(context.Context, string, int64) (repository.UpsertResult, error) {
	return repository.UpsertResult{}, repository.ErrUnavailable
}

func newEngine(t *testing.T, opts ...ranking.Option) (*ranking.Engine, *recordingEmitter) {
	t.Helper()
	store := repository.NewTreapStore(context.Background(), repository.WithSeed(7))
	t.Cleanup(func() { _ = store.Close() })
	em := &recordingEmitter{}
	return ranking.New(store, append([]ranking.Option{ranking.WithEmitter(em)}, opts...)...), em
}

func affectedIDs(ev model.ScoreUpdateEvent) []string {
	ids := make([]string, 0, len(ev.AffectedUsers))
	for _, a := range ev.AffectedUsers {
		ids = append(ids, a.UserID)
	}
	return ids
}

func TestEngine_SetUserScore(t *testing.T) {
	Convey("Given u1 at 10, u2 at 12 and u3 at 20", t, func() {
		ctx := context.Background()
		e, em := newEngine(t)
		for _, u := range []struct {
			id    string
			score int64
		}{{"u1", 10}, {"u2", 12}, {"u3", 20}} {
			_, err := e.SetUserScore(ctx, u.id, u.score)
			So(err, ShouldBeNil)
		}
		before := len(em.Events())

		Convey("When u1 moves to 15", func() {
			rank, err := e.SetUserScore(ctx, "u1", 15)
			So(err, ShouldBeNil)

			Convey("Then u1's rank reflects having passed u2", func() {
				So(rank, ShouldEqual, 2)
				u2, err := e.GetUserRank(ctx, "u2")
				So(err, ShouldBeNil)
				So(u2, ShouldEqual, 1)
			})

			Convey("Then exactly u2 is affected, with its updated rank", func() {
				events := em.Events()[before:]
				So(events, ShouldHaveLength, 1)
				So(events[0].OriginUserID, ShouldEqual, "u1")
				So(events[0].OriginRank, ShouldEqual, 2)
				So(events[0].AffectedUsers, ShouldResemble, []model.AffectedUser{
					{UserID: "u2", NewRank: 1, NewScore: 12},
				})
			})
		})

		Convey("When u3 drops to 11", func() {
			rank, err := e.SetUserScore(ctx, "u3", 11)
			So(err, ShouldBeNil)

			Convey("Then the users it fell past are affected", func() {
				So(rank, ShouldEqual, 2)
				events := em.Events()[before:]
				So(events, ShouldHaveLength, 1)
				So(affectedIDs(events[0]), ShouldResemble, []string{"u2"})
				So(events[0].AffectedUsers[0].NewRank, ShouldEqual, 3)
			})
		})

		Convey("When u1 resubmits an unchanged score", func() {
			_, err := e.SetUserScore(ctx, "u1", 10)
			So(err, ShouldBeNil)

			Convey("Then nobody is notified", func() {
				So(em.Events()[before:], ShouldBeEmpty)
			})
		})

		Convey("When a new user submits a negative score", func() {
			rank, err := e.SetUserScore(ctx, "u4", -1)
			So(err, ShouldBeNil)

			Convey("Then it ranks first from the bottom and moves nobody", func() {
				So(rank, ShouldEqual, 1)
				So(em.Events()[before:], ShouldBeEmpty)
			})
		})

		Convey("When a new user enters above everyone", func() {
			rank, err := e.SetUserScore(ctx, "u5", 100)
			So(err, ShouldBeNil)

			Convey("Then everyone between the baseline and its key is affected", func() {
				So(rank, ShouldEqual, 4)
				events := em.Events()[before:]
				So(events, ShouldHaveLength, 1)
				So(affectedIDs(events[0]), ShouldResemble, []string{"u1", "u2", "u3"})
			})
		})

		Convey("When the user id is empty", func() {
			rank, err := e.SetUserScore(ctx, "", 5)

			Convey("Then it is rejected before any write", func() {
				So(errors.Is(err, ranking.ErrInvalidInput), ShouldBeTrue)
				So(rank, ShouldEqual, model.Unranked)
			})
		})
	})
}

func TestEngine_AffectedSetBoundaries(t *testing.T) {
	Convey("Given users at scores 10, 20, 20 and 30", t, func() {
		ctx := context.Background()
		e, em := newEngine(t)
		for _, u := range []struct {
			id    string
			score int64
		}{{"a", 10}, {"b", 20}, {"c", 20}, {"d", 30}, {"mover", 20}} {
			_, err := e.SetUserScore(ctx, u.id, u.score)
			So(err, ShouldBeNil)
		}
		before := len(em.Events())

		Convey("When mover climbs from 20 to exactly 30", func() {
			_, err := e.SetUserScore(ctx, "mover", 30)
			So(err, ShouldBeNil)

			Convey("Then the older holder of 30 is inside the closed interval", func() {
				events := em.Events()[before:]
				So(events, ShouldHaveLength, 1)
				So(affectedIDs(events[0]), ShouldResemble, []string{"d"})
			})
		})

		Convey("When mover drops from 20 to exactly 10", func() {
			_, err := e.SetUserScore(ctx, "mover", 10)
			So(err, ShouldBeNil)

			Convey("Then the older holders of 20 are passed and 10 is not", func() {
				events := em.Events()[before:]
				So(events, ShouldHaveLength, 1)
				So(affectedIDs(events[0]), ShouldResemble, []string{"b", "c"})
			})
		})
	})
}

func TestEngine_RankConsistency(t *testing.T) {
	Convey("Given a populated leaderboard", t, func() {
		ctx := context.Background()
		e, _ := newEngine(t)
		scores := map[string]int64{}
		for i := 0; i < 40; i++ {
			id := fmt.Sprintf("user-%02d", i)
			s := int64((i * 37) % 11)
			scores[id] = s
			_, err := e.SetUserScore(ctx, id, s)
			So(err, ShouldBeNil)
		}

		Convey("Then each rank equals one plus the number of lower keys", func() {
			page, err := e.GetRankPage(ctx, 1)
			So(err, ShouldBeNil)
			So(page, ShouldHaveLength, 40)
			for i, entry := range page {
				// page is descending, so 39-i users sort below entry
				So(entry.Rank, ShouldEqual, 40-i)
				rank, err := e.GetUserRank(ctx, entry.UserID)
				So(err, ShouldBeNil)
				So(rank, ShouldEqual, entry.Rank)
				So(entry.Score, ShouldEqual, scores[entry.UserID])
			}
		})
	})
}

func TestEngine_GetRankPage(t *testing.T) {
	Convey("Given 25 users and a page size of 10", t, func() {
		ctx := context.Background()
		e, _ := newEngine(t, ranking.WithPageSize(10))
		wide, _ := newEngine(t, ranking.WithPageSize(20))
		for i := 0; i < 25; i++ {
			id := fmt.Sprintf("p%02d", i)
			_, err := e.SetUserScore(ctx, id, int64(i%7))
			So(err, ShouldBeNil)
			_, err = wide.SetUserScore(ctx, id, int64(i%7))
			So(err, ShouldBeNil)
		}

		Convey("Then consecutive pages are disjoint and contiguous", func() {
			p1, err := e.GetRankPage(ctx, 1)
			So(err, ShouldBeNil)
			p2, err := e.GetRankPage(ctx, 2)
			So(err, ShouldBeNil)
			combined, err := wide.GetRankPage(ctx, 1)
			So(err, ShouldBeNil)

			So(p1, ShouldHaveLength, 10)
			So(p2, ShouldHaveLength, 10)
			So(append(p1, p2...), ShouldResemble, combined)
		})

		Convey("Then pages are ordered by descending score", func() {
			p1, err := e.GetRankPage(ctx, 1)
			So(err, ShouldBeNil)
			for i := 1; i < len(p1); i++ {
				So(p1[i-1].Score, ShouldBeGreaterThanOrEqualTo, p1[i].Score)
			}
		})

		Convey("Then the last page is short and pages past it are empty", func() {
			p3, err := e.GetRankPage(ctx, 3)
			So(err, ShouldBeNil)
			So(p3, ShouldHaveLength, 5)
			p9, err := e.GetRankPage(ctx, 9)
			So(err, ShouldBeNil)
			So(p9, ShouldBeEmpty)
			huge, err := e.GetRankPage(ctx, int(^uint(0)>>1))
			So(err, ShouldBeNil)
			So(huge, ShouldBeEmpty)
		})

		Convey("Then page indices below one are rejected", func() {
			for _, p := range []int{0, -1} {
				_, err := e.GetRankPage(ctx, p)
				So(errors.Is(err, ranking.ErrInvalidInput), ShouldBeTrue)
			}
		})
	})
}

func TestEngine_GetUserNeighborhood(t *testing.T) {
	Convey("Given 20 users with distinct scores", t, func() {
		ctx := context.Background()
		e, _ := newEngine(t)
		for i := 0; i < 20; i++ {
			// user n<i> sits at 0-based ascending rank i
			_, err := e.SetUserScore(ctx, fmt.Sprintf("n%d", i), int64(i*10))
			So(err, ShouldBeNil)
		}

		Convey("When asking around the user at rank 10", func() {
			window, err := e.GetUserNeighborhood(ctx, "n10")
			So(err, ShouldBeNil)

			Convey("Then ranks 5 to 14 are returned, highest first", func() {
				So(window, ShouldHaveLength, 10)
				So(window[0].UserID, ShouldEqual, "n14")
				So(window[9].UserID, ShouldEqual, "n5")
				So(window[9].Rank, ShouldEqual, 6)
			})
		})

		Convey("When asking around the user at rank 2", func() {
			window, err := e.GetUserNeighborhood(ctx, "n2")
			So(err, ShouldBeNil)

			Convey("Then the window is clamped at rank 0", func() {
				So(window, ShouldHaveLength, 7)
				So(window[0].UserID, ShouldEqual, "n6")
				So(window[6].UserID, ShouldEqual, "n0")
			})
		})

		Convey("When the user is unknown", func() {
			window, err := e.GetUserNeighborhood(ctx, "ghost")

			Convey("Then the window is empty, not an error", func() {
				So(err, ShouldBeNil)
				So(window, ShouldBeEmpty)
			})
		})
	})
}

func TestEngine_Failures(t *testing.T) {
	Convey("Given an engine", t, func() {
		ctx := context.Background()

		Convey("When the user is unknown", func() {
			e, _ := newEngine(t)
			_, err := e.GetUserRank(ctx, "ghost")

			Convey("Then the rank is not found", func() {
				So(errors.Is(err, ranking.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When the caller's context is already cancelled", func() {
			e, _ := newEngine(t)
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := e.GetRankPage(cctx, 1)

			Convey("Then a retryable failure is surfaced", func() {
				So(errors.Is(err, ranking.ErrUnavailable), ShouldBeTrue)
			})
		})

		Convey("When the index rejects the write", func() {
			e := ranking.New(brokenStore{})
			rank, err := e.SetUserScore(ctx, "u1", 3)

			Convey("Then the failure is returned, not swallowed", func() {
				So(errors.Is(err, ranking.ErrUnavailable), ShouldBeTrue)
				So(rank, ShouldEqual, model.Unranked)
			})
		})

		Convey("When the rank cannot be read back", func() {
			store := repository.NewTreapStore(ctx)
			defer func() { _ = store.Close() }()
			em := &recordingEmitter{}
			e := ranking.New(unrankableStore{Store: store}, ranking.WithEmitter(em))
			rank, err := e.SetUserScore(ctx, "u1", 3)

			Convey("Then the unranked sentinel is returned without error", func() {
				So(err, ShouldBeNil)
				So(rank, ShouldEqual, model.Unranked)
				So(em.Events(), ShouldBeEmpty)
			})
		})
	})
}
