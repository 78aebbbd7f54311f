package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"flipfocus/internal/service"
	"flipfocus/internal/transport/rest/middleware"
)

// JoinRequestHandler exposes the join-request relay: staging a join intent
// from a notification tap, checking it, cancelling it, and consuming it into
// an actual join.
type JoinRequestHandler struct {
	relay *service.JoinRelay
	coord *service.Coordinator
}

// NewJoinRequestHandler creates a new join-request handler
func NewJoinRequestHandler(relay *service.JoinRelay, coord *service.Coordinator) *JoinRequestHandler {
	return &JoinRequestHandler{relay: relay, coord: coord}
}

// StageRequest is the body for staging a join intent
type StageRequest struct {
	SessionID        string `json:"sessionId"`
	SessionOwnerName string `json:"sessionOwnerName"`
}

// Stage handles POST /v1/join-requests
func (h *JoinRequestHandler) Stage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req StageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.relay.SetJoinSession(r.Context(), userID, req.SessionID, req.SessionOwnerName)
	if errors.Is(err, service.ErrFirstSessionRequired) {
		writeError(w, http.StatusPreconditionFailed, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"status": "pending"})
}

// Pending handles GET /v1/join-requests/pending
func (h *JoinRequestHandler) Pending(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	req := h.relay.Pending(userID)
	if req == nil {
		writeError(w, http.StatusNotFound, "no pending join request")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// Cancel handles DELETE /v1/join-requests
func (h *JoinRequestHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	h.relay.Cancel(userID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// Consume handles POST /v1/join-requests/consume: it atomically takes the
// pending intent and hands it to the coordinator's join. The relay is idle
// again afterwards regardless of how the join goes.
func (h *JoinRequestHandler) Consume(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	username := middleware.GetUsername(r.Context())

	req := h.relay.Consume(userID)
	if req == nil {
		writeError(w, http.StatusGone, "join request expired or missing")
		return
	}

	session, err := h.coord.JoinSession(r.Context(), req.SessionID, userID, username)
	if err != nil {
		writeJoinError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}
