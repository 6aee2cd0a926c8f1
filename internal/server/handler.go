package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"

	"github.com/Teresaloving/PlantQuest/internal/models"
)

// StaleHeader is set when the served board predates a failed refresh.
const StaleHeader = "X-Leaderboard-Stale"

// Board is the leaderboard source the handler serves from.
// *leaderboard.Refresher satisfies it.
type Board interface {
	Board() models.Loadable[models.Leaderboard]
	Refresh(ctx context.Context) (models.Loadable[models.Leaderboard], error)
}

type Handler struct {
	Board        Board
	RefreshToken string

	now func() time.Time
}

func NewHandler(board Board) *Handler {
	return &Handler{Board: board, now: time.Now}
}

// SetRefreshToken requires a bearer token on POST /api/refresh.
func (h *Handler) SetRefreshToken(token string) {
	h.RefreshToken = token
}

func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

// current writes an error and returns false when there is nothing to serve.
func (h *Handler) current(w http.ResponseWriter) (models.Leaderboard, bool) {
	lb := h.Board.Board()
	board, ok := lb.Get()
	if !ok {
		msg := "leaderboard not loaded yet"
		if lb.Err != nil {
			msg = "leaderboard unavailable: " + lb.Err.Error()
		}
		http.Error(w, msg, http.StatusServiceUnavailable)
		return board, false
	}
	if lb.State == models.Failed {
		w.Header().Set(StaleHeader, "true")
	}
	return board, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Leaderboard serves the ranked board. ?limit=N trims the entries.
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	board, ok := h.current(w)
	if !ok {
		return
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		if n < len(board.Entries) {
			board.Entries = board.Entries[:n]
		}
	}
	writeJSON(w, board)
}

// Entry serves one participant's row and rank.
func (h *Handler) Entry(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["address"]
	if !common.IsHexAddress(raw) {
		http.Error(w, "invalid address", http.StatusBadRequest)
		return
	}
	board, ok := h.current(w)
	if !ok {
		return
	}
	entry, ok := board.Rank(common.HexToAddress(raw))
	if !ok {
		http.Error(w, "participant not found", http.StatusNotFound)
		return
	}
	writeJSON(w, entry)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	board, ok := h.current(w)
	if !ok {
		return
	}
	writeJSON(w, board.Stats)
}

func (h *Handler) Quest(w http.ResponseWriter, r *http.Request) {
	board, ok := h.current(w)
	if !ok {
		return
	}
	writeJSON(w, models.NewQuestInfo(board, h.now()))
}

// Refresh rebuilds the board now and serves the result.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	lb, err := h.Board.Refresh(r.Context())
	if err != nil {
		slog.Warn("manual refresh failed", "error", err)
		http.Error(w, "refresh failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	board, ok := lb.Get()
	if !ok {
		http.Error(w, "leaderboard not loaded yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, board)
}
