package simulate

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/okian/ladder/pkg/logger"
)

const (
	pongFrame   = "pong"
	percentBase = 100
)

// Run connects cfg.Users players and lets them play for cfg.Duration. It
// returns the collected counters once every player has disconnected.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.Get().Named("simulate")
	c := newClient(cfg.BaseURL, cfg.Timeout)

	if err := c.health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	log.Info(ctx, "starting simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("users", cfg.Users),
		logger.Duration("duration", cfg.Duration),
		logger.Duration("updateInterval", cfg.UpdateInterval))

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	stats := &Stats{}
	var wg sync.WaitGroup
	for i := range cfg.Users {
		wg.Add(1)
		p := &player{id: "player-" + strconv.Itoa(i), cfg: cfg, client: c, stats: stats, log: log}
		go func() {
			defer wg.Done()
			p.play(runCtx)
		}()
	}
	wg.Wait()

	top, err := c.page(ctx, 1)
	if err != nil {
		log.Warn(ctx, "leaderboard fetch failed", logger.Error(err))
	} else if len(top) > 0 {
		log.Info(ctx, "leaderboard leader",
			logger.String("userId", top[0].UserID), logger.Int64("score", top[0].Score), logger.Int("rank", top[0].Rank))
	}
	report(ctx, log, stats)
	return stats, nil
}

type player struct {
	id     string
	cfg    *Config
	client *client
	stats  *Stats
	log    logger.Logger
}

func (p *player) play(ctx context.Context) {
	conn, err := p.client.dial(p.id)
	if err != nil {
		p.stats.Failed.Add(1)
		p.log.Warn(ctx, "websocket dial failed", logger.String("userId", p.id), logger.Error(err))
		return
	}
	p.stats.Connected.Add(1)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		p.read(ctx, conn)
	}()

	closed := readDone
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			<-readDone
			return
		case <-time.After(jitter(p.cfg.UpdateInterval)):
			p.submit(ctx)
		case <-closed:
			p.log.Debug(ctx, "connection closed by server", logger.String("userId", p.id))
			// Keep submitting; an offline player still competes.
			closed = nil
		}
	}
}

func (p *player) submit(ctx context.Context) {
	score := rand.Int64N(p.cfg.MaxScore + 1)
	rank, err := p.client.setScore(ctx, p.id, score)
	if err != nil {
		if ctx.Err() == nil {
			p.stats.Failed.Add(1)
			p.log.Warn(ctx, "score submission failed", logger.String("userId", p.id), logger.Error(err))
		}
		return
	}
	p.stats.Submitted.Add(1)
	if rank < 1 {
		p.stats.Unranked.Add(1)
	}
}

// read answers heartbeats and counts notifications until the socket closes.
func (p *player) read(ctx context.Context, conn *websocket.Conn) {
	for {
		var f Frame
		if err := websocket.JSON.Receive(conn, &f); err != nil {
			return
		}
		switch f.Kind {
		case "heartbeat":
			p.stats.Heartbeats.Add(1)
			if err := websocket.Message.Send(conn, pongFrame); err != nil {
				return
			}
		case "message":
			p.stats.Notifications.Add(1)
			if p.cfg.Verbose {
				p.log.Info(ctx, "notification", logger.String("userId", p.id), logger.String("payload", string(f.Payload)))
			}
		}
	}
}

// jitter returns a delay uniform in [d/2, 3d/2).
func jitter(d time.Duration) time.Duration {
	return d/2 + rand.N(d)
}

func report(ctx context.Context, log logger.Logger, s *Stats) {
	submitted := s.Submitted.Load()
	var successRate float64
	if total := submitted + s.Failed.Load(); total > 0 {
		successRate = float64(submitted) / float64(total) * percentBase
	}
	log.Info(ctx, "final statistics",
		logger.Int64("connected", s.Connected.Load()),
		logger.Int64("submitted", submitted),
		logger.Int64("failed", s.Failed.Load()),
		logger.Int64("unranked", s.Unranked.Load()),
		logger.Int64("notifications", s.Notifications.Load()),
		logger.Int64("heartbeats", s.Heartbeats.Load()),
		logger.Float64("successRate", successRate))
}
