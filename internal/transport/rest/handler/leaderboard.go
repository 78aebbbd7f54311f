package handler

import (
	"net/http"
	"strconv"

	"flipfocus/internal/cache"
	"flipfocus/internal/transport/rest/middleware"
)

// LeaderboardHandler serves the focus-minutes leaderboard
type LeaderboardHandler struct {
	leaderboard cache.LeaderboardCache
}

// NewLeaderboardHandler creates a new leaderboard handler
func NewLeaderboardHandler(leaderboard cache.LeaderboardCache) *LeaderboardHandler {
	return &LeaderboardHandler{leaderboard: leaderboard}
}

// Top handles GET /v1/leaderboard?limit=20
func (h *LeaderboardHandler) Top(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	entries, err := h.leaderboard.GetTop(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"leaderboard": entries})
}

// Rank handles GET /v1/leaderboard/rank, returning the caller's 1-indexed
// position. Rank is -1 for a user with no focus minutes yet.
func (h *LeaderboardHandler) Rank(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	rank, err := h.leaderboard.GetRank(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"userId": userID, "rank": rank})
}
