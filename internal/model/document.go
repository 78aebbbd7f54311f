package model

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrMalformedDocument is returned when a snapshot is missing one of the
// fields a session cannot be rendered without.
var ErrMalformedDocument = errors.New("malformed session document")

// DefaultStarterUsername stands in when a snapshot omits the starter's name.
const DefaultStarterUsername = "Friend"

// SessionFromDocument decodes a raw store snapshot into a LiveSession.
//
// A document is rejected only when it lacks a non-empty starterId, a non-empty
// participants array, a valid startTime, or a positive targetDuration. Every
// other field falls back to a documented default so a partially written
// document still renders. An unrecognized participant status string is coerced
// to active rather than failing the whole document.
func SessionFromDocument(id string, doc bson.M) (*LiveSession, error) {
	starterID := docString(doc, "starterId")
	if starterID == "" {
		return nil, ErrMalformedDocument
	}

	participants := docStringSlice(doc, "participants")
	if len(participants) == 0 {
		return nil, ErrMalformedDocument
	}

	startTime, ok := docTime(doc, "startTime")
	if !ok {
		return nil, ErrMalformedDocument
	}

	targetDuration := docInt(doc, "targetDuration")
	if targetDuration <= 0 {
		return nil, ErrMalformedDocument
	}

	s := &LiveSession{
		ID:               id,
		StarterID:        starterID,
		StarterUsername:  docString(doc, "starterUsername"),
		Participants:     participants,
		StartTime:        startTime,
		TargetDuration:   targetDuration,
		RemainingSeconds: targetDuration * 60,
		AllowPauses:      docBool(doc, "allowPauses"),
		MaxPauses:        docInt(doc, "maxPauses"),
		IsPaused:         docBool(doc, "isPaused"),
		BuildingID:       docString(doc, "buildingId"),
		BuildingName:     docString(doc, "buildingName"),
		Latitude:         docFloat(doc, "latitude"),
		Longitude:        docFloat(doc, "longitude"),
	}

	if s.StarterUsername == "" {
		s.StarterUsername = DefaultStarterUsername
	}

	if remaining, ok := docIntOK(doc, "remainingSeconds"); ok {
		s.RemainingSeconds = remaining
	}

	if last, ok := docTime(doc, "lastUpdateTime"); ok {
		s.LastUpdateTime = last
	} else {
		s.LastUpdateTime = startTime
	}

	s.JoinTimes = docTimeMap(doc, "joinTimes")
	if len(s.JoinTimes) == 0 {
		s.JoinTimes = map[string]time.Time{starterID: startTime}
	}

	s.ParticipantStatus = docStatusMap(doc, "participantStatus")
	if len(s.ParticipantStatus) == 0 {
		s.ParticipantStatus = map[string]ParticipantStatus{starterID: StatusActive}
	}

	return s, nil
}

// ParseStatus coerces a raw status string, defaulting to active for anything
// unrecognized.
func ParseStatus(raw string) ParticipantStatus {
	switch ParticipantStatus(raw) {
	case StatusActive, StatusPaused, StatusCompleted, StatusFailed:
		return ParticipantStatus(raw)
	default:
		return StatusActive
	}
}

func docString(doc bson.M, key string) string {
	if v, ok := doc[key].(string); ok {
		return v
	}
	return ""
}

func docBool(doc bson.M, key string) bool {
	if v, ok := doc[key].(bool); ok {
		return v
	}
	return false
}

func docInt(doc bson.M, key string) int {
	v, _ := docIntOK(doc, key)
	return v
}

func docIntOK(doc bson.M, key string) (int, bool) {
	switch v := doc[key].(type) {
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

func docFloat(doc bson.M, key string) float64 {
	switch v := doc[key].(type) {
	case float64:
		return v
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func docTime(doc bson.M, key string) (time.Time, bool) {
	switch v := doc[key].(type) {
	case time.Time:
		return v, !v.IsZero()
	case primitive.DateTime:
		return v.Time(), true
	}
	return time.Time{}, false
}

func docStringSlice(doc bson.M, key string) []string {
	arr, ok := doc[key].(bson.A)
	if !ok {
		if vs, ok := doc[key].([]string); ok {
			return vs
		}
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func docTimeMap(doc bson.M, key string) map[string]time.Time {
	sub, ok := doc[key].(bson.M)
	if !ok {
		if m, ok := doc[key].(map[string]time.Time); ok {
			return m
		}
		return nil
	}
	out := make(map[string]time.Time, len(sub))
	for k, v := range sub {
		if t, ok := docTime(bson.M{"t": v}, "t"); ok {
			out[k] = t
		}
	}
	return out
}

func docStatusMap(doc bson.M, key string) map[string]ParticipantStatus {
	var raw map[string]interface{}
	switch sub := doc[key].(type) {
	case bson.M:
		raw = sub
	case map[string]interface{}:
		raw = sub
	case map[string]ParticipantStatus:
		return sub
	default:
		return nil
	}
	out := make(map[string]ParticipantStatus, len(raw))
	for k, v := range raw {
		s, _ := v.(string)
		out[k] = ParseStatus(s)
	}
	return out
}
