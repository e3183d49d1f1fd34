// Package service assembles the leaderboard components for a process role
// and exposes them over HTTP.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/okian/ladder/internal/adapters/http/api"
	"github.com/okian/ladder/internal/adapters/mq/bus"
	"github.com/okian/ladder/internal/adapters/mq/fanout"
	"github.com/okian/ladder/internal/adapters/mq/queue"
	"github.com/okian/ladder/internal/adapters/mq/worker"
	"github.com/okian/ladder/internal/adapters/presence"
	"github.com/okian/ladder/internal/adapters/repository"
	"github.com/okian/ladder/internal/adapters/ws"
	"github.com/okian/ladder/internal/config"
	"github.com/okian/ladder/internal/domain/dedupe"
	"github.com/okian/ladder/internal/domain/ranking"
	"github.com/okian/ladder/pkg/logger"
	"github.com/okian/ladder/pkg/metrics"
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("service already started")

// Service owns the components a process runs.
type Service struct {
	mu  sync.RWMutex
	cfg *config.Config
	log logger.Logger

	redis     *redis.Client
	ownsRedis bool

	// ranking half
	store     *repository.TreapStore
	engine    *ranking.Engine
	queue     *queue.InMemoryQueue
	pool      *worker.Pool
	publisher *fanout.Publisher

	// notifier half
	tracker    *presence.Tracker
	gateway    *ws.Gateway
	subscriber *fanout.Subscriber

	bus bus.Bus

	cancel      context.CancelFunc
	trackerDone chan struct{}
	started     bool
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRedisClient uses client instead of dialing cfg.RedisAddr. The caller
// keeps ownership of it.
func WithRedisClient(client *redis.Client) Option {
	return func(s *Service) { s.redis = client }
}

// New constructs a Service for cfg.
func New(cfg *config.Config, opts ...Option) *Service {
	s := &Service{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("service")
	}
	return s
}

func (s *Service) needsRedis() bool {
	return s.cfg.BusBackend == config.BackendRedis || s.cfg.DirectoryBackend == config.BackendRedis
}

// Start builds and starts the components for the configured role. The bus
// is probed before anything is served; a failed probe fails Start.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	if err := s.start(ctx, runCtx); err != nil {
		s.teardown(ctx)
		return err
	}
	s.started = true
	s.log.Info(ctx, "leaderboard service started",
		logger.String("role", s.cfg.Role),
		logger.String("bus", s.cfg.BusBackend),
		logger.String("directory", s.cfg.DirectoryBackend),
	)
	return nil
}

func (s *Service) start(ctx, runCtx context.Context) error {
	if s.needsRedis() && s.redis == nil {
		s.redis = redis.NewClient(&redis.Options{Addr: s.cfg.RedisAddr, DB: s.cfg.RedisDB})
		s.ownsRedis = true
		if err := s.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis %s: %w", s.cfg.RedisAddr, err)
		}
	}

	busOpts := []bus.Option{bus.WithLogger(s.log.Named("bus"))}
	if s.cfg.BusBackend == config.BackendRedis {
		s.bus = bus.NewRedisBus(s.redis, busOpts...)
	} else {
		s.bus = bus.NewMemoryBus(busOpts...)
	}
	if err := bus.Probe(ctx, s.bus, s.cfg.ProbeTimeout()); err != nil {
		return fmt.Errorf("bus probe: %w", err)
	}

	var dir presence.Directory
	if s.cfg.DirectoryBackend == config.BackendRedis {
		dir = presence.NewRedisDirectory(s.redis, presence.DefaultOnlineKey)
	} else {
		dir = presence.NewMemoryDirectory()
	}

	if s.cfg.RunsNotifier() {
		s.tracker = presence.NewTracker(
			presence.WithDirectory(dir),
			presence.WithHeartbeat(s.cfg.HeartbeatInterval(), s.cfg.HeartbeatTimeout()),
			presence.WithOutboxSize(s.cfg.OutboxSize),
			presence.WithLogger(s.log.Named("presence")),
		)
		s.trackerDone = make(chan struct{})
		go func() {
			defer close(s.trackerDone)
			s.tracker.Run(runCtx)
		}()
		s.gateway = ws.NewGateway(s.tracker, ws.WithLogger(s.log.Named("ws")))
		s.subscriber = fanout.NewSubscriber(s.bus, s.tracker,
			fanout.WithDeduper(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.cfg.DedupeSize))),
			fanout.WithSubscriberLogger(s.log.Named("fanout.subscriber")),
		)
		if err := s.subscriber.Start(runCtx); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	if s.cfg.RunsRanking() {
		s.store = repository.NewTreapStore(runCtx)
		s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.cfg.FanoutQueueSize))
		pubOpts := []fanout.PublisherOption{fanout.WithPublisherLogger(s.log.Named("fanout.publisher"))}
		// A memory directory is only meaningful when the tracker shares this process.
		if s.cfg.DirectoryBackend == config.BackendRedis || s.cfg.RunsNotifier() {
			pubOpts = append(pubOpts, fanout.WithOnlineFilter(dir))
		}
		s.publisher = fanout.NewPublisher(s.queue, s.bus, pubOpts...)
		s.pool = worker.NewPool(s.cfg.FanoutWorkers, s.queue, worker.HandlerFunc(s.publisher.Handle))
		s.pool.Start(runCtx)
		s.engine = ranking.New(s.store,
			ranking.WithEmitter(s.publisher),
			ranking.WithPageSize(s.cfg.PageSize),
			ranking.WithNeighborhoodRadius(s.cfg.NeighborhoodRadius),
			ranking.WithQueryTimeout(s.cfg.QueryTimeout()),
			ranking.WithLogger(s.log.Named("ranking")),
		)
	}
	return nil
}

// Stop shuts the components down: intake first, connections last.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.log.Info(ctx, "stopping leaderboard service...")
	s.teardown(ctx)
	s.started = false
	s.log.Info(ctx, "leaderboard service stopped")
}

func (s *Service) teardown(ctx context.Context) {
	if s.pool != nil {
		if err := s.pool.Shutdown(ctx); err != nil {
			s.log.Warn(ctx, "fanout pool did not drain", logger.Error(err))
		}
	}
	if s.subscriber != nil {
		_ = s.subscriber.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.trackerDone != nil {
		<-s.trackerDone
	}
	if s.tracker != nil {
		_ = s.tracker.Close(ctx)
	}
	if s.bus != nil {
		_ = s.bus.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
	if s.redis != nil && s.ownsRedis {
		_ = s.redis.Close()
	}
}

// Handler returns the HTTP routes for the configured role. It must be called
// after Start.
func (s *Service) Handler() http.Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	opts := []api.Option{api.WithStats(s)}
	if s.engine != nil {
		opts = append(opts, api.WithLeaderboard(s.engine))
	}
	if s.gateway != nil {
		opts = append(opts, api.WithWebsocket(s.gateway.Handler()))
	}
	return api.NewServer(opts...).Router()
}

// Engine returns the ranking engine, nil for a notifier-only process.
func (s *Service) Engine() *ranking.Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// Tracker returns the presence tracker, nil for a ranking-only process.
func (s *Service) Tracker() *presence.Tracker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracker
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]any{
		"started": s.started,
		"role":    s.cfg.Role,
	}
	if !s.started {
		return stats
	}
	if s.store != nil {
		users := s.store.Count(ctx)
		stats["rankedUsers"] = users
		stats["fanoutQueueLength"] = s.queue.Len(ctx)
		stats["fanoutWorkers"] = s.pool.Size()
		metrics.UpdateIndexEntries(users)
	}
	if s.tracker != nil {
		sessions, users := s.tracker.Stats()
		stats["sessions"] = sessions
		stats["onlineUsers"] = users
	}
	return stats
}
