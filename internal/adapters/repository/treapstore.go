package repository

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/okian/ladder/pkg/metrics"
)

// Treap-based, in-memory Store implementation.
//
// Ordering: composite key ASC, then userID ASC. Keys are unique because every
// write draws a fresh sequence number, so the userID tiebreak only keeps the
// comparator total. Subtree sizes make rank and range-by-rank O(log n).

const defaultMetricsUpdateInterval = 5 * time.Second

// treap node
type node struct {
	id    string
	key   CompositeKey
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less returns true if (aKey, aID) sorts before (bKey, bID).
func less(aKey CompositeKey, aID string, bKey CompositeKey, bID string) bool {
	if c := aKey.Compare(bKey); c != 0 {
		return c < 0
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	t2 := x.right
	x.right = y
	y.left = t2
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	t2 := y.left
	y.left = x
	x.right = t2
	fix(x)
	fix(y)
	return y
}

func insert(n, nd *node) *node {
	if n == nil {
		return nd
	}
	if less(nd.key, nd.id, n.key, n.id) {
		n.left = insert(n.left, nd)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, nd)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id string, key CompositeKey) *node {
	if n == nil {
		return nil
	}
	if key == n.key && id == n.id {
		// Rotate the higher-priority child up until the node is a leaf.
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, key)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, key)
		}
	} else if less(key, id, n.key, n.id) {
		n.left = deleteNode(n.left, id, key)
	} else {
		n.right = deleteNode(n.right, id, key)
	}
	fix(n)
	return n
}

// rankOf counts the nodes sorting before (key, id). Returns -1 if absent.
func rankOf(n *node, id string, key CompositeKey) int {
	rank := 0
	for n != nil {
		switch {
		case key == n.key && id == n.id:
			return rank + nsize(n.left)
		case less(key, id, n.key, n.id):
			n = n.left
		default:
			rank += nsize(n.left) + 1
			n = n.right
		}
	}
	return -1
}

// collectRange appends, in ascending order, the nodes at positions [lo, hi].
// offset is the position of the leftmost node of the subtree.
func collectRange(n *node, offset, lo, hi int, out *[]Entry) {
	if n == nil {
		return
	}
	pos := offset + nsize(n.left)
	if lo < pos {
		collectRange(n.left, offset, lo, hi, out)
	}
	if pos >= lo && pos <= hi {
		*out = append(*out, Entry{UserID: n.id, Key: n.key, Rank: pos})
	}
	if hi > pos {
		collectRange(n.right, pos+1, lo, hi, out)
	}
}

// collectKeys appends, in ascending order, the ids whose key is in [lo, hi].
func collectKeys(n *node, lo, hi CompositeKey, out *[]string) {
	if n == nil {
		return
	}
	if n.key.Less(lo) {
		collectKeys(n.right, lo, hi, out)
		return
	}
	if hi.Less(n.key) {
		collectKeys(n.left, lo, hi, out)
		return
	}
	collectKeys(n.left, lo, hi, out)
	*out = append(*out, n.id)
	collectKeys(n.right, lo, hi, out)
}

// TreapStore is an in-memory Store. Writers for different users contend on
// one mutex held only for the O(log n) tree mutation.
type TreapStore struct {
	mu   sync.RWMutex
	root *node
	byID map[string]CompositeKey
	seq  uint64
	rng  *rand.Rand
	seed uint64

	metricsUpdateInterval time.Duration

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewTreapStore constructs a treap store with configuration options.
func NewTreapStore(ctx context.Context, opts ...Option) *TreapStore {
	s := &TreapStore{
		byID:                  make(map[string]CompositeKey),
		seed:                  uint64(time.Now().UnixNano()),
		metricsUpdateInterval: defaultMetricsUpdateInterval,
		stopChan:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.rng = rand.New(rand.NewPCG(s.seed, s.seed^0x9e3779b97f4a7c15)) //nolint:gosec // treap priorities, not security

	metrics.UpdateIndexEntries(0)
	s.startMetricsUpdater(ctx)
	return s
}

// Close stops the background metrics goroutine.
func (s *TreapStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}

// checkContext maps an expired or cancelled context to ErrUnavailable.
func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		metrics.RecordErrorByComponent("repository", "timeout")
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// Upsert implements Store.Upsert with O(log n) expected time.
func (s *TreapStore) Upsert(ctx context.Context, userID string, score int64) (UpsertResult, error) {
	start := time.Now()
	defer func() {
		metrics.RecordIndexUpdateLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if userID == "" {
		return UpsertResult{}, ErrEmptyUserID
	}
	if err := checkContext(ctx); err != nil {
		return UpsertResult{}, err
	}

	s.mu.Lock()
	s.seq++
	res := UpsertResult{Previous: BaselineKey, Key: NewKey(score, s.seq)}
	if old, ok := s.byID[userID]; ok {
		res.Previous = old
		res.Existed = true
		s.root = deleteNode(s.root, userID, old)
	}
	s.byID[userID] = res.Key
	s.root = insert(s.root, &node{id: userID, key: res.Key, prio: s.rng.Uint64(), size: 1})
	count := len(s.byID)
	s.mu.Unlock()

	if !res.Existed {
		metrics.UpdateIndexEntries(count)
	}
	return res, nil
}

// KeyOf implements Store.KeyOf.
func (s *TreapStore) KeyOf(ctx context.Context, userID string) (CompositeKey, bool, error) {
	if err := checkContext(ctx); err != nil {
		return CompositeKey{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.byID[userID]
	return key, ok, nil
}

// RankOf implements Store.RankOf in O(log n).
func (s *TreapStore) RankOf(ctx context.Context, userID string) (int, bool, error) {
	start := time.Now()
	defer func() {
		metrics.RecordIndexQueryLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if err := checkContext(ctx); err != nil {
		return 0, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.byID[userID]
	if !ok {
		return 0, false, nil
	}
	rank := rankOf(s.root, userID, key)
	if rank < 0 {
		return 0, false, nil
	}
	return rank, true, nil
}

// Lookup implements Store.Lookup.
func (s *TreapStore) Lookup(ctx context.Context, userID string) (Entry, bool, error) {
	if err := checkContext(ctx); err != nil {
		return Entry{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.byID[userID]
	if !ok {
		return Entry{}, false, nil
	}
	rank := rankOf(s.root, userID, key)
	if rank < 0 {
		return Entry{}, false, nil
	}
	return Entry{UserID: userID, Key: key, Rank: rank}, true, nil
}

// RangeByRank implements Store.RangeByRank in O(log n + k).
func (s *TreapStore) RangeByRank(ctx context.Context, start, stop int, order Order) ([]Entry, error) {
	began := time.Now()
	defer func() {
		metrics.RecordIndexQueryLatency(float64(time.Since(began).Microseconds()) / 1000)
	}()

	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := nsize(s.root)
	out := []Entry{}
	if start < 0 {
		start = 0
	}
	if stop > n-1 {
		stop = n - 1
	}
	if n == 0 || start > stop {
		return out, nil
	}

	lo, hi := start, stop
	if order == Descending {
		lo, hi = n-1-stop, n-1-start
	}
	out = make([]Entry, 0, hi-lo+1)
	collectRange(s.root, 0, lo, hi, &out)

	if order == Descending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

// RangeByKey implements Store.RangeByKey.
func (s *TreapStore) RangeByKey(ctx context.Context, lo, hi CompositeKey) ([]string, error) {
	began := time.Now()
	defer func() {
		metrics.RecordIndexQueryLatency(float64(time.Since(began).Microseconds()) / 1000)
	}()

	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	lo, hi = Bounds(lo, hi)

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []string{}
	collectKeys(s.root, lo, hi, &out)
	return out, nil
}

// Count returns the number of ranked users.
func (s *TreapStore) Count(ctx context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// startMetricsUpdater starts a background goroutine that refreshes index gauges.
func (s *TreapStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				metrics.UpdateIndexEntries(s.Count(ctx))
			}
		}
	}()
}
