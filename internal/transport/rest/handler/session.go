package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"flipfocus/internal/model"
	"flipfocus/internal/service"
	"flipfocus/internal/transport/rest/middleware"

	"github.com/gorilla/mux"
)

// SessionHandler handles live-session endpoints
type SessionHandler struct {
	coord *service.Coordinator
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(coord *service.Coordinator) *SessionHandler {
	return &SessionHandler{coord: coord}
}

// BroadcastRequest carries one client's local countdown state. On the first
// broadcast of a new session id the creation fields matter; afterwards only
// the tick fields do.
type BroadcastRequest struct {
	RemainingSeconds int                     `json:"remainingSeconds"`
	IsPaused         bool                    `json:"isPaused"`
	Status           model.ParticipantStatus `json:"status,omitempty"`

	// Creation fields, ignored once the session exists.
	TargetDuration int       `json:"targetDuration,omitempty"`
	StartTime      time.Time `json:"startTime,omitempty"`
	AllowPauses    bool      `json:"allowPauses,omitempty"`
	MaxPauses      int       `json:"maxPauses,omitempty"`
	BuildingID     string    `json:"buildingId,omitempty"`
	BuildingName   string    `json:"buildingName,omitempty"`
	Latitude       float64   `json:"latitude,omitempty"`
	Longitude      float64   `json:"longitude,omitempty"`
}

// Broadcast handles POST /v1/sessions/{sessionId}/broadcast
//
// Always 202: broadcast is best-effort and the client's local timer stays
// authoritative for its own UI whether or not the store write lands.
func (h *SessionHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	userID := middleware.GetUserID(r.Context())
	username := middleware.GetUsername(r.Context())

	var req BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	status := req.Status
	if status == "" {
		status = model.StatusActive
	}

	local := &model.LiveSession{
		ID:                sessionID,
		StarterID:         userID,
		StarterUsername:   username,
		StartTime:         req.StartTime,
		TargetDuration:    req.TargetDuration,
		RemainingSeconds:  req.RemainingSeconds,
		IsPaused:          req.IsPaused,
		AllowPauses:       req.AllowPauses,
		MaxPauses:         req.MaxPauses,
		ParticipantStatus: map[string]model.ParticipantStatus{userID: status},
		BuildingID:        req.BuildingID,
		BuildingName:      req.BuildingName,
		Latitude:          req.Latitude,
		Longitude:         req.Longitude,
	}

	h.coord.BroadcastState(r.Context(), userID, local)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// Join handles POST /v1/sessions/{sessionId}/join
func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	userID := middleware.GetUserID(r.Context())
	username := middleware.GetUsername(r.Context())

	session, err := h.coord.JoinSession(r.Context(), sessionID, userID, username)
	if err != nil {
		writeJoinError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// UpdateStatusRequest is the body for PUT .../status
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus handles PUT /v1/sessions/{sessionId}/status
func (h *SessionHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	userID := middleware.GetUserID(r.Context())

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	status := model.ParseStatus(req.Status)
	if err := h.coord.UpdateParticipantStatus(r.Context(), sessionID, userID, status); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

// EndRequest is the body for POST .../end
type EndRequest struct {
	WasSuccessful bool `json:"wasSuccessful"`
}

// End handles POST /v1/sessions/{sessionId}/end
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	userID := middleware.GetUserID(r.Context())
	username := middleware.GetUsername(r.Context())

	var req EndRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.coord.EndSession(r.Context(), sessionID, userID, username, req.WasSuccessful); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

// Get handles GET /v1/sessions/{sessionId}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	session, err := h.coord.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// ListFriends handles GET /v1/sessions/friends?ids=a,b,c
func (h *SessionHandler) ListFriends(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("ids")
	var friendIDs []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			friendIDs = append(friendIDs, id)
		}
	}

	sessions, err := h.coord.ListFriendSessions(r.Context(), friendIDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// ListBuilding handles GET /v1/sessions/building/{buildingId}
func (h *SessionHandler) ListBuilding(w http.ResponseWriter, r *http.Request) {
	buildingID := mux.Vars(r)["buildingId"]

	sessions, err := h.coord.ListBuildingSessions(r.Context(), buildingID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// writeJoinError maps each typed join rejection to a distinct status code so
// the client can render the right message.
func writeJoinError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrSelfJoin):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrSessionStale),
		errors.Is(err, service.ErrSessionFull),
		errors.Is(err, service.ErrTooLittleTime):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
