package presence

import (
	"sync"
	"sync/atomic"
	"time"
)

// Push kinds sent to clients.
const (
	KindMessage   = "message"
	KindHeartbeat = "heartbeat"
)

// Push is one server-to-client frame.
type Push struct {
	Kind    string `json:"kind"`
	Payload any    `json:"payload"`
}

// Conn is the transport side of a session. Send writes one frame and may
// block up to the transport's write deadline.
type Conn interface {
	Send(p Push) error
	Close() error
}

// Session is one live connection of a user.
type Session struct {
	ID     string
	UserID string

	conn          Conn
	outbox        chan Push
	lastHeartbeat atomic.Int64 // unix nanos
	done          chan struct{}
	closeOnce     sync.Once
}

// Done is closed when the session is disconnected or evicted.
func (s *Session) Done() <-chan struct{} { return s.done }

// LastHeartbeat returns the time of the last liveness signal.
func (s *Session) LastHeartbeat() time.Time {
	return time.Unix(0, s.lastHeartbeat.Load())
}

func (s *Session) touch(now time.Time) { s.lastHeartbeat.Store(now.UnixNano()) }

// offer queues p without blocking; false means the outbox is full.
func (s *Session) offer(p Push) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.outbox <- p:
		return true
	default:
		return false
	}
}

// markClosed closes done once; it reports whether this call closed it.
func (s *Session) markClosed() bool {
	closed := false
	s.closeOnce.Do(func() {
		close(s.done)
		closed = true
	})
	return closed
}
