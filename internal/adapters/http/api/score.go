package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/okian/ladder/pkg/logger"
)

type rankResponse struct {
	Rank int `json:"rank"`
}

// handleSetScore handles PUT /score/user/{userId}/{score}.
func (s *Server) handleSetScore(w http.ResponseWriter, r *http.Request) {
	const op = "api.set_user_score"
	vars := mux.Vars(r)
	userID := strings.TrimSpace(vars["userId"])
	if userID == "" {
		writeError(w, WrapKind(op, ErrBadRequest, fmt.Errorf("missing userId")))
		return
	}
	score, err := strconv.ParseInt(vars["score"], 10, 64)
	if err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, fmt.Errorf("score must be an integer: %w", err)))
		return
	}

	rank, err := s.board.SetUserScore(r.Context(), userID, score)
	if err != nil {
		s.log.Warn(r.Context(), "score update failed", logger.String("user_id", userID), logger.Error(err))
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, rankResponse{Rank: rank})
}

// handleRankPage handles GET /score/rank/{pageId}.
func (s *Server) handleRankPage(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_rank_page"
	page, err := strconv.Atoi(mux.Vars(r)["pageId"])
	if err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, fmt.Errorf("pageId must be an integer: %w", err)))
		return
	}
	entries, err := s.board.GetRankPage(r.Context(), page)
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleUserSelfRank handles GET /score/rank/user-self?userId=.
func (s *Server) handleUserSelfRank(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_user_rank"
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		writeError(w, WrapKind(op, ErrBadRequest, fmt.Errorf("missing userId")))
		return
	}
	rank, err := s.board.GetUserRank(r.Context(), userID)
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, rankResponse{Rank: rank})
}

// handleNeighborhood handles GET /score/rank/user/{userId}.
func (s *Server) handleNeighborhood(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_user_neighborhood"
	userID := strings.TrimSpace(mux.Vars(r)["userId"])
	if userID == "" {
		writeError(w, WrapKind(op, ErrBadRequest, fmt.Errorf("missing userId")))
		return
	}
	entries, err := s.board.GetUserNeighborhood(r.Context(), userID)
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
