package model

import "time"

// UserStats tracks a user's lifetime focus totals. CompletedSessions gates
// joining friend sessions: a user must finish at least one solo session first.
type UserStats struct {
	UserID            string    `json:"userId" bson:"_id"`
	Username          string    `json:"username" bson:"username"`
	CompletedSessions int       `json:"completedSessions" bson:"completedSessions"`
	TotalFocusMinutes int       `json:"totalFocusMinutes" bson:"totalFocusMinutes"`
	LastCompletedAt   time.Time `json:"lastCompletedAt" bson:"lastCompletedAt"`
}
