// Package api registers the leaderboard HTTP routes.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/ladder/internal/adapters/http/swagger"
	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/pkg/logger"
	"github.com/okian/ladder/pkg/metrics"
)

// Leaderboard is the ranking surface the handlers call.
type Leaderboard interface {
	SetUserScore(ctx context.Context, userID string, score int64) (int, error)
	GetRankPage(ctx context.Context, pageIndex int) ([]model.LeaderboardEntry, error)
	GetUserRank(ctx context.Context, userID string) (int, error)
	GetUserNeighborhood(ctx context.Context, userID string) ([]model.LeaderboardEntry, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	board     Leaderboard
	stats     StatsProvider
	websocket http.Handler
	log       logger.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLeaderboard enables the /score routes.
func WithLeaderboard(b Leaderboard) Option {
	return func(s *Server) { s.board = b }
}

// WithStats enables GET /stats.
func WithStats(p StatsProvider) Option {
	return func(s *Server) { s.stats = p }
}

// WithWebsocket mounts h at /ws.
func WithWebsocket(h http.Handler) Option {
	return func(s *Server) { s.websocket = h }
}

// NewServer creates a Server. Routes for parts that were not supplied are not
// registered, so a notifier-only process serves only /ws and the probes.
func NewServer(opts ...Option) *Server {
	s := &Server{log: logger.Get().Named("api")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(MetricsMiddleware)

	r.HandleFunc("/health/health", handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	swagger.Register(r)
	if s.stats != nil {
		r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	}
	if s.board != nil {
		// user-self must be registered before the {pageId} pattern.
		r.HandleFunc("/score/rank/user-self", s.handleUserSelfRank).Methods(http.MethodGet)
		r.HandleFunc("/score/rank/user/{userId}", s.handleNeighborhood).Methods(http.MethodGet)
		r.HandleFunc("/score/rank/{pageId}", s.handleRankPage).Methods(http.MethodGet)
		r.HandleFunc("/score/user/{userId}/{score}", s.handleSetScore).Methods(http.MethodPut)
	}
	if s.websocket != nil {
		r.Handle("/ws", s.websocket).Methods(http.MethodGet)
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, NewKind("api.route", ErrNotFound))
	})
	return r
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusOf(err)
	writeJSON(w, status, errorResponse{Code: code, Message: err.Error()})
}
