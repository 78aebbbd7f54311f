package service

import "flipfocus/internal/model"

// Broadcaster interface for WebSocket fan-out of session events (avoids
// import cycle)
type Broadcaster interface {
	SessionUpdated(session *model.LiveSession)
	SessionRemoved(sessionID string)
}
