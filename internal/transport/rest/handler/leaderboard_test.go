package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"flipfocus/internal/cache"
	"flipfocus/internal/transport/rest/middleware"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLeaderboard struct {
	ranks map[string]int64
	top   []cache.LeaderboardEntry
}

func (s *stubLeaderboard) AddMinutes(ctx context.Context, userID string, minutes int) error {
	return nil
}

func (s *stubLeaderboard) GetTop(ctx context.Context, limit int) ([]cache.LeaderboardEntry, error) {
	if limit < len(s.top) {
		return s.top[:limit], nil
	}
	return s.top, nil
}

func (s *stubLeaderboard) GetRank(ctx context.Context, userID string) (int64, error) {
	if r, ok := s.ranks[userID]; ok {
		return r, nil
	}
	return -1, nil
}

func authedRequest(method, target, userID string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	ctx := context.WithValue(req.Context(), middleware.UserIDKey, userID)
	return req.WithContext(ctx)
}

func TestLeaderboardRankReturnsCallerPosition(t *testing.T) {
	h := NewLeaderboardHandler(&stubLeaderboard{ranks: map[string]int64{"u_1": 3}})

	rec := httptest.NewRecorder()
	h.Rank(rec, authedRequest(http.MethodGet, "/v1/leaderboard/rank", "u_1"))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		UserID string `json:"userId"`
		Rank   int64  `json:"rank"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "u_1", body.UserID)
	assert.EqualValues(t, 3, body.Rank)
}

func TestLeaderboardRankUnrankedUser(t *testing.T) {
	h := NewLeaderboardHandler(&stubLeaderboard{})

	rec := httptest.NewRecorder()
	h.Rank(rec, authedRequest(http.MethodGet, "/v1/leaderboard/rank", "u_new"))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Rank int64 `json:"rank"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, -1, body.Rank)
}

func TestLeaderboardTopHonorsLimit(t *testing.T) {
	lb := &stubLeaderboard{top: []cache.LeaderboardEntry{
		{UserID: "u_1", Minutes: 120, Rank: 1},
		{UserID: "u_2", Minutes: 90, Rank: 2},
	}}
	h := NewLeaderboardHandler(lb)

	rec := httptest.NewRecorder()
	h.Top(rec, httptest.NewRequest(http.MethodGet, "/v1/leaderboard?limit=1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Leaderboard []cache.LeaderboardEntry `json:"leaderboard"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Leaderboard, 1)
}
