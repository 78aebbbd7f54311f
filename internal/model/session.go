package model

import "time"

type ParticipantStatus string

const (
	StatusActive    ParticipantStatus = "active"
	StatusPaused    ParticipantStatus = "paused"
	StatusCompleted ParticipantStatus = "completed"
	StatusFailed    ParticipantStatus = "failed"
)

// IsTerminal reports whether no further transition is possible for this status
// within a session.
func (s ParticipantStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Session capacity and join policy.
const (
	MaxParticipants  = 4
	JoinFloorSeconds = 180
)

// LiveSession is the shared, eventually-consistent record for one flip
// session. Each client ticks its own countdown locally; this document is the
// convergence point.
type LiveSession struct {
	ID                string                       `json:"id" bson:"_id"`
	StarterID         string                       `json:"starterId" bson:"starterId"`
	StarterUsername   string                       `json:"starterUsername" bson:"starterUsername"`
	Participants      []string                     `json:"participants" bson:"participants"`
	StartTime         time.Time                    `json:"startTime" bson:"startTime"`
	TargetDuration    int                          `json:"targetDuration" bson:"targetDuration"` // minutes
	RemainingSeconds  int                          `json:"remainingSeconds" bson:"remainingSeconds"`
	IsPaused          bool                         `json:"isPaused" bson:"isPaused"`
	AllowPauses       bool                         `json:"allowPauses" bson:"allowPauses"`
	MaxPauses         int                          `json:"maxPauses" bson:"maxPauses"`
	JoinTimes         map[string]time.Time         `json:"joinTimes" bson:"joinTimes"`
	ParticipantStatus map[string]ParticipantStatus `json:"participantStatus" bson:"participantStatus"`
	LastUpdateTime    time.Time                    `json:"lastUpdateTime" bson:"lastUpdateTime"`

	// Optional building association; opaque to the coordinator.
	BuildingID   string  `json:"buildingId,omitempty" bson:"buildingId,omitempty"`
	BuildingName string  `json:"buildingName,omitempty" bson:"buildingName,omitempty"`
	Latitude     float64 `json:"latitude,omitempty" bson:"latitude,omitempty"`
	Longitude    float64 `json:"longitude,omitempty" bson:"longitude,omitempty"`
}

// ElapsedSeconds is how far into the session the group is, per the last
// broadcast remaining time.
func (s *LiveSession) ElapsedSeconds() int {
	return s.TargetDuration*60 - s.RemainingSeconds
}

// IsFull reports whether the session is at the participant cap.
func (s *LiveSession) IsFull() bool {
	return len(s.Participants) >= MaxParticipants
}

// CanJoin reports whether a new participant may still join: not full and more
// than the 3-minute floor remaining.
func (s *LiveSession) CanJoin() bool {
	return !s.IsFull() && s.RemainingSeconds > JoinFloorSeconds
}

// AllTerminal reports whether every participant has finished one way or the
// other.
func (s *LiveSession) AllTerminal() bool {
	for _, id := range s.Participants {
		if !s.ParticipantStatus[id].IsTerminal() {
			return false
		}
	}
	return len(s.Participants) > 0
}

// NaturalEnd is the wall-clock time at which the session's full duration has
// elapsed regardless of broadcasts.
func (s *LiveSession) NaturalEnd() time.Time {
	return s.StartTime.Add(time.Duration(s.TargetDuration) * time.Minute)
}

// Clone returns a deep copy safe to mutate independently of the receiver.
func (s *LiveSession) Clone() *LiveSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Participants = append([]string(nil), s.Participants...)
	c.JoinTimes = make(map[string]time.Time, len(s.JoinTimes))
	for k, v := range s.JoinTimes {
		c.JoinTimes[k] = v
	}
	c.ParticipantStatus = make(map[string]ParticipantStatus, len(s.ParticipantStatus))
	for k, v := range s.ParticipantStatus {
		c.ParticipantStatus[k] = v
	}
	return &c
}

// HasParticipant reports whether userID is already in the participant list.
func (s *LiveSession) HasParticipant(userID string) bool {
	for _, id := range s.Participants {
		if id == userID {
			return true
		}
	}
	return false
}
