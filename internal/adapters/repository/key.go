package repository

// CompositeKey is the sort key of a leaderboard entry. Keys order by Score
// first and by Seq only when scores are equal.
//
// Seq is a logical write sequence, not a wall-clock timestamp. Because the two
// terms are compared independently, the tiebreak can never carry into the
// score term, whatever their magnitudes. A uint64 sequence advanced once per
// write lasts about 584 years at one billion writes per second.
type CompositeKey struct {
	Score int64  `json:"score"`
	Seq   uint64 `json:"seq"`
}

// BaselineKey is the key a user is treated as holding before its first
// submission: score zero, older than every real write.
var BaselineKey = CompositeKey{}

// NewKey builds a key from a primary score and a write sequence.
func NewKey(score int64, seq uint64) CompositeKey {
	return CompositeKey{Score: score, Seq: seq}
}

// Compare returns -1, 0 or +1 as k sorts before, equal to, or after o.
func (k CompositeKey) Compare(o CompositeKey) int {
	switch {
	case k.Score < o.Score:
		return -1
	case k.Score > o.Score:
		return 1
	case k.Seq < o.Seq:
		return -1
	case k.Seq > o.Seq:
		return 1
	default:
		return 0
	}
}

// Less reports whether k sorts strictly before o.
func (k CompositeKey) Less(o CompositeKey) bool { return k.Compare(o) < 0 }

// Bounds returns (min, max) of two keys.
func Bounds(a, b CompositeKey) (CompositeKey, CompositeKey) {
	if b.Less(a) {
		return b, a
	}
	return a, b
}
