package model

import "time"

// JoinRequest stages a user's intent to join a specific session (tapped from
// a notification or deep link) until the join actually executes. It lives
// only in this process and is never written to the shared store.
type JoinRequest struct {
	SessionID        string    `json:"sessionId"`
	SessionOwnerName string    `json:"sessionOwnerName"`
	RequestedAt      time.Time `json:"requestedAt"`
	Active           bool      `json:"active"`
}
