package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *TreapStore {
	t.Helper()
	s := NewTreapStore(context.Background(), WithSeed(42))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCompositeKey_ScoreDominatesAtExtremes(t *testing.T) {
	cases := []struct {
		lowScore, highScore int64
		lowSeq, highSeq     uint64
	}{
		{10, 11, math.MaxUint64, 0},
		{10, 11, 0, math.MaxUint64},
		{math.MinInt64, math.MinInt64 + 1, math.MaxUint64, 0},
		{math.MaxInt64 - 1, math.MaxInt64, math.MaxUint64, 0},
		{-1, 0, math.MaxUint64, 0},
	}
	for _, tc := range cases {
		lo := NewKey(tc.lowScore, tc.lowSeq)
		hi := NewKey(tc.highScore, tc.highSeq)
		if !lo.Less(hi) {
			t.Errorf("expected %+v < %+v", lo, hi)
		}
		if hi.Less(lo) {
			t.Errorf("expected %+v not < %+v", hi, lo)
		}
	}
}

func TestCompositeKey_SeqBreaksTies(t *testing.T) {
	a := NewKey(50, 1)
	b := NewKey(50, 2)
	if !a.Less(b) {
		t.Errorf("expected older write to sort first")
	}
	if a.Compare(a) != 0 {
		t.Errorf("expected key to equal itself")
	}
	lo, hi := Bounds(b, a)
	if lo != a || hi != b {
		t.Errorf("expected Bounds to normalize, got %+v %+v", lo, hi)
	}
}

func TestTreapStore_UpsertReportsTransition(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.Upsert(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Existed {
		t.Error("expected first upsert to report a new entry")
	}
	if first.Previous != BaselineKey {
		t.Errorf("expected baseline previous key, got %+v", first.Previous)
	}

	second, err := s.Upsert(ctx, "u1", 15)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.Existed || second.Previous != first.Key {
		t.Errorf("expected previous %+v, got %+v (existed=%v)", first.Key, second.Previous, second.Existed)
	}
	if second.Key.Score != 15 || second.Key.Seq <= first.Key.Seq {
		t.Errorf("unexpected new key %+v", second.Key)
	}
	if c := s.Count(ctx); c != 1 {
		t.Errorf("expected count 1, got %d", c)
	}

	key, ok, err := s.KeyOf(ctx, "u1")
	if err != nil || !ok || key != second.Key {
		t.Errorf("KeyOf returned %+v %v %v", key, ok, err)
	}
}

func TestTreapStore_UpsertRejectsEmptyUser(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Upsert(context.Background(), "", 1); !errors.Is(err, ErrEmptyUserID) {
		t.Errorf("expected ErrEmptyUserID, got %v", err)
	}
}

func TestTreapStore_RankOf(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, u := range []struct {
		id    string
		score int64
	}{{"a", 30}, {"b", 10}, {"c", 20}, {"d", 20}} {
		if _, err := s.Upsert(ctx, u.id, u.score); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	// b(10) < c(20,older) < d(20,newer) < a(30)
	want := map[string]int{"b": 0, "c": 1, "d": 2, "a": 3}
	for id, rank := range want {
		got, ok, err := s.RankOf(ctx, id)
		if err != nil || !ok {
			t.Fatalf("RankOf(%s) = %d %v %v", id, got, ok, err)
		}
		if got != rank {
			t.Errorf("RankOf(%s): expected %d, got %d", id, rank, got)
		}
	}

	if _, ok, err := s.RankOf(ctx, "missing"); ok || err != nil {
		t.Errorf("expected absent rank without error, got ok=%v err=%v", ok, err)
	}

	e, ok, err := s.Lookup(ctx, "d")
	if err != nil || !ok {
		t.Fatalf("Lookup(d) = %+v %v %v", e, ok, err)
	}
	if e.Rank != 2 || e.Key.Score != 20 {
		t.Errorf("Lookup(d): expected rank 2 score 20, got %+v", e)
	}
	if _, ok, _ := s.Lookup(ctx, "missing"); ok {
		t.Error("expected Lookup of unknown user to be absent")
	}
}

func TestTreapStore_RangeByRankClamps(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		if _, err := s.Upsert(ctx, fmt.Sprintf("u%d", i), int64(i*10)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	asc, err := s.RangeByRank(ctx, -3, 100, Ascending)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(asc) != 5 || asc[0].UserID != "u0" || asc[4].UserID != "u4" {
		t.Errorf("unexpected ascending range %+v", asc)
	}
	for i, e := range asc {
		if e.Rank != i {
			t.Errorf("position %d carries rank %d", i, e.Rank)
		}
	}

	desc, err := s.RangeByRank(ctx, 0, 1, Descending)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(desc) != 2 || desc[0].UserID != "u4" || desc[1].UserID != "u3" {
		t.Errorf("unexpected descending range %+v", desc)
	}
	if desc[0].Rank != 4 {
		t.Errorf("expected ascending rank 4 on top entry, got %d", desc[0].Rank)
	}

	empty, err := s.RangeByRank(ctx, 10, 20, Descending)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", empty)
	}

	inverted, err := s.RangeByRank(ctx, 3, 1, Ascending)
	if err != nil || len(inverted) != 0 {
		t.Errorf("expected empty range for inverted bounds, got %+v %v", inverted, err)
	}
}

func TestTreapStore_RangeByKeyIsClosed(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ka, _ := s.Upsert(ctx, "a", 10)
	kb, _ := s.Upsert(ctx, "b", 12)
	kc, _ := s.Upsert(ctx, "c", 14)
	_, _ = s.Upsert(ctx, "d", 20)

	ids, err := s.RangeByKey(ctx, ka.Key, kc.Key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fmt.Sprint(ids) != "[a b c]" {
		t.Errorf("expected both endpoints included, got %v", ids)
	}

	reversed, err := s.RangeByKey(ctx, kc.Key, ka.Key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fmt.Sprint(reversed) != fmt.Sprint(ids) {
		t.Errorf("expected bounds in either order to agree, got %v", reversed)
	}

	single, err := s.RangeByKey(ctx, kb.Key, kb.Key)
	if err != nil || fmt.Sprint(single) != "[b]" {
		t.Errorf("expected degenerate interval to hold b, got %v %v", single, err)
	}
}

func TestTreapStore_CancelledContextIsUnavailable(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Upsert(ctx, "u1", 1); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Upsert: expected ErrUnavailable, got %v", err)
	}
	if _, _, err := s.RankOf(ctx, "u1"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("RankOf: expected ErrUnavailable, got %v", err)
	}
	if _, err := s.RangeByRank(ctx, 0, 1, Ascending); !errors.Is(err, ErrUnavailable) {
		t.Errorf("RangeByRank: expected ErrUnavailable, got %v", err)
	}
	if _, err := s.RangeByKey(ctx, BaselineKey, BaselineKey); !errors.Is(err, ErrUnavailable) {
		t.Errorf("RangeByKey: expected ErrUnavailable, got %v", err)
	}
}

// TestTreapStore_MatchesSortedModel replays random writes against a sorted
// slice and checks every rank and range.
func TestTreapStore_MatchesSortedModel(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	rng := rand.New(rand.NewPCG(7, 7))
	model := map[string]CompositeKey{}

	for i := 0; i < 2000; i++ {
		id := fmt.Sprintf("user-%d", rng.IntN(300))
		res, err := s.Upsert(ctx, id, int64(rng.IntN(50)))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		model[id] = res.Key
	}

	ids := make([]string, 0, len(model))
	for id := range model {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return model[ids[i]].Less(model[ids[j]]) })

	if s.Count(ctx) != len(ids) {
		t.Fatalf("expected %d entries, got %d", len(ids), s.Count(ctx))
	}
	for want, id := range ids {
		got, ok, err := s.RankOf(ctx, id)
		if err != nil || !ok || got != want {
			t.Fatalf("RankOf(%s): expected %d, got %d (ok=%v err=%v)", id, want, got, ok, err)
		}
	}

	all, err := s.RangeByRank(ctx, 0, len(ids)-1, Ascending)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, e := range all {
		if e.UserID != ids[i] {
			t.Fatalf("position %d: expected %s, got %s", i, ids[i], e.UserID)
		}
	}

	lo, hi := model[ids[10]], model[ids[40]]
	between, err := s.RangeByKey(ctx, hi, lo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fmt.Sprint(between) != fmt.Sprint(ids[10:41]) {
		t.Errorf("unexpected key range %v", between)
	}
}

func TestTreapStore_ConcurrentUpserts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("g%d-u%d", g, i%50)
				if _, err := s.Upsert(ctx, id, int64(i)); err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
				_, _, _ = s.RankOf(ctx, id)
			}
		}(g)
	}
	wg.Wait()

	if c := s.Count(ctx); c != 8*50 {
		t.Errorf("expected %d entries, got %d", 8*50, c)
	}
	all, _ := s.RangeByRank(ctx, 0, s.Count(ctx), Ascending)
	for i := 1; i < len(all); i++ {
		if !all[i-1].Key.Less(all[i].Key) {
			t.Fatalf("order violated at %d: %+v !< %+v", i, all[i-1].Key, all[i].Key)
		}
	}
}

func BenchmarkTreapStore_UpsertFixed(b *testing.B) {
	ctx := context.Background()
	s := NewTreapStore(ctx, WithSeed(1))
	defer func() { _ = s.Close() }()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = s.Upsert(ctx, fmt.Sprintf("user-%d", i%100_000), int64(i%1000))
	}
}

func BenchmarkTreapStore_RankOfFixed(b *testing.B) {
	ctx := context.Background()
	s := NewTreapStore(ctx, WithSeed(1))
	defer func() { _ = s.Close() }()
	for i := 0; i < 100_000; i++ {
		_, _ = s.Upsert(ctx, fmt.Sprintf("user-%d", i), int64(i%1000))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = s.RankOf(ctx, fmt.Sprintf("user-%d", i%100_000))
	}
}
