// Package presence tracks which users hold a live, heartbeat-verified
// connection and pushes messages to them.
//
// A user may hold several connections; it stays online while at least one of
// them is registered. All registry mutation happens under one mutex. The
// shared Directory is written only on a user's first connect and last
// disconnect, and never while that mutex is held.
package presence

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/ladder/pkg/logger"
	"github.com/okian/ladder/pkg/metrics"
)

const (
	defaultInterval   = 10 * time.Second
	defaultTimeout    = 3 * defaultInterval
	defaultOutboxSize = 64
)

// Tracker is the authoritative registry of live sessions.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*Session
	byUser   map[string]map[string]*Session
	closed   bool

	dir        Directory
	interval   time.Duration
	timeout    time.Duration
	outboxSize int
	now        func() time.Time
	log        logger.Logger

	wg sync.WaitGroup
}

// NewTracker creates a Tracker. Without WithDirectory it keeps a private
// MemoryDirectory.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		sessions:   make(map[string]*Session),
		byUser:     make(map[string]map[string]*Session),
		interval:   defaultInterval,
		timeout:    defaultTimeout,
		outboxSize: defaultOutboxSize,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.dir == nil {
		t.dir = NewMemoryDirectory()
	}
	if t.log == nil {
		t.log = logger.Get().Named("presence")
	}
	return t
}

// Directory returns the shared online-set the tracker writes to.
func (t *Tracker) Directory() Directory { return t.dir }

// Connect registers conn for userID and starts its writer. The connection
// counts as a heartbeat.
func (t *Tracker) Connect(ctx context.Context, userID string, conn Conn) (*Session, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	s := &Session{
		ID:     uuid.NewString(),
		UserID: userID,
		conn:   conn,
		outbox: make(chan Push, t.outboxSize),
		done:   make(chan struct{}),
	}
	s.touch(t.now())

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	t.sessions[s.ID] = s
	conns, ok := t.byUser[userID]
	if !ok {
		conns = make(map[string]*Session)
		t.byUser[userID] = conns
	}
	conns[s.ID] = s
	t.wg.Add(1)
	t.reportLocked()
	t.mu.Unlock()

	go t.writeLoop(s)
	if !ok {
		t.syncDirectory(ctx, userID, true)
	}

	t.log.Debug(ctx, "session connected",
		logger.String("user_id", userID), logger.String("session_id", s.ID))
	return s, nil
}

// Disconnect removes s and closes its connection. It is safe to call more
// than once and after eviction.
func (t *Tracker) Disconnect(ctx context.Context, s *Session) {
	removed, last := t.remove(s)
	if removed {
		_ = s.conn.Close()
		t.log.Debug(ctx, "session disconnected",
			logger.String("user_id", s.UserID), logger.String("session_id", s.ID))
	}
	if last {
		t.syncDirectory(ctx, s.UserID, false)
	}
}

// remove unregisters s and marks it closed under the lock. It reports whether
// this call did the removal and whether s was the user's last session.
func (t *Tracker) remove(s *Session) (removed, last bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(s)
}

func (t *Tracker) removeLocked(s *Session) (removed, last bool) {
	if _, ok := t.sessions[s.ID]; !ok {
		return false, false
	}
	delete(t.sessions, s.ID)
	if conns := t.byUser[s.UserID]; conns != nil {
		delete(conns, s.ID)
		if len(conns) == 0 {
			delete(t.byUser, s.UserID)
			last = true
		}
	}
	s.markClosed()
	t.reportLocked()
	return true, last
}

// syncDirectory writes online for userID to the directory outside the
// registry lock. Writes for one user may land out of order, so after each
// write the registry is consulted again and the write repeated until the
// directory matches it.
func (t *Tracker) syncDirectory(ctx context.Context, userID string, online bool) {
	for {
		var err error
		if online {
			err = t.dir.Add(ctx, userID)
		} else {
			err = t.dir.Remove(ctx, userID)
		}
		if err != nil {
			metrics.RecordErrorByComponent("presence", "directory_sync")
			t.log.Warn(ctx, "online directory update failed",
				logger.String("user_id", userID), logger.Bool("online", online), logger.Error(err))
			return
		}

		t.mu.Lock()
		want := len(t.byUser[userID]) > 0
		t.mu.Unlock()
		if want == online {
			return
		}
		online = want
	}
}

// Heartbeat records a liveness signal from the client side of s.
func (t *Tracker) Heartbeat(s *Session) {
	s.touch(t.now())
	metrics.RecordPresenceHeartbeat()
}

// Ping queues a heartbeat push on every session. Sessions with a full outbox
// are skipped.
func (t *Tracker) Ping(ctx context.Context) {
	p := Push{Kind: KindHeartbeat, Payload: t.now().UnixMilli()}
	for _, s := range t.snapshot() {
		if !s.offer(p) {
			metrics.RecordOutboxDropped()
		}
	}
}

// Sweep evicts every session silent for longer than the timeout and returns
// how many it evicted. Eviction removes the user from the registry before the
// connection is closed; the directory follows once the lock is released.
func (t *Tracker) Sweep(ctx context.Context) int {
	now := t.now()
	var evicted []*Session
	var offline []string

	t.mu.Lock()
	for _, s := range t.sessions {
		if now.Sub(s.LastHeartbeat()) > t.timeout {
			evicted = append(evicted, s)
		}
	}
	for _, s := range evicted {
		if _, last := t.removeLocked(s); last {
			offline = append(offline, s.UserID)
		}
	}
	t.mu.Unlock()

	for _, s := range evicted {
		_ = s.conn.Close()
		metrics.RecordPresenceEviction()
		t.log.Info(ctx, "session evicted after heartbeat timeout",
			logger.String("user_id", s.UserID),
			logger.String("session_id", s.ID),
			logger.Duration("silent_for", now.Sub(s.LastHeartbeat())))
	}
	for _, userID := range offline {
		t.syncDirectory(ctx, userID, false)
	}
	return len(evicted)
}

// Run pings and sweeps on the heartbeat interval until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Ping(ctx)
			t.Sweep(ctx)
		}
	}
}

// IsOnline reports whether userID holds at least one live session.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byUser[userID]) > 0
}

// ListOnline returns the online user ids in sorted order.
func (t *Tracker) ListOnline() []string {
	t.mu.Lock()
	out := make([]string, 0, len(t.byUser))
	for u := range t.byUser {
		out = append(out, u)
	}
	t.mu.Unlock()
	slices.Sort(out)
	return out
}

// Deliver queues payload as a message push on every session of userID and
// returns how many sessions accepted it. Full outboxes drop the push.
func (t *Tracker) Deliver(ctx context.Context, userID string, payload any) int {
	t.mu.Lock()
	targets := make([]*Session, 0, len(t.byUser[userID]))
	for _, s := range t.byUser[userID] {
		targets = append(targets, s)
	}
	t.mu.Unlock()

	p := Push{Kind: KindMessage, Payload: payload}
	accepted := 0
	for _, s := range targets {
		if s.offer(p) {
			accepted++
			continue
		}
		metrics.RecordOutboxDropped()
		t.log.Debug(ctx, "outbox full, push dropped",
			logger.String("user_id", userID), logger.String("session_id", s.ID))
	}
	return accepted
}

// LastSeen returns the latest liveness signal across the sessions of userID.
func (t *Tracker) LastSeen(userID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var latest time.Time
	for _, s := range t.byUser[userID] {
		if hb := s.LastHeartbeat(); hb.After(latest) {
			latest = hb
		}
	}
	return latest, len(t.byUser[userID]) > 0
}

// Stats returns the number of sessions and of online users.
func (t *Tracker) Stats() (sessions, users int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions), len(t.byUser)
}

// Close disconnects every session and waits for the writers to exit.
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	for _, s := range t.snapshot() {
		t.Disconnect(ctx, s)
	}
	t.wg.Wait()
	return nil
}

func (t *Tracker) snapshot() []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	return out
}

func (t *Tracker) reportLocked() {
	metrics.UpdatePresence(len(t.sessions), len(t.byUser))
}

// writeLoop drains the outbox of s onto its connection. A failed write tears
// the session down.
func (t *Tracker) writeLoop(s *Session) {
	defer t.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case p := <-s.outbox:
			if err := s.conn.Send(p); err != nil {
				t.log.Debug(context.Background(), "push write failed",
					logger.String("user_id", s.UserID), logger.String("session_id", s.ID), logger.Error(err))
				t.Disconnect(context.Background(), s)
				return
			}
			if p.Kind == KindMessage {
				metrics.RecordNotificationDelivered()
			}
		}
	}
}
