package repository

import (
	"context"
	"log"

	"flipfocus/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type SessionEventType string

const (
	EventUpdated SessionEventType = "updated"
	EventRemoved SessionEventType = "removed"
)

// SessionEvent is one push from the store's subscription mechanism: a full
// snapshot on create/update, or a removal marker on delete.
type SessionEvent struct {
	Type    SessionEventType
	Session *model.LiveSession // nil when Type is EventRemoved
}

// SessionStream is a live subscription on a single session document. Close
// must be called exactly once; after Close (or after an EventRemoved) the
// events channel is closed.
type SessionStream interface {
	Events() <-chan SessionEvent
	Close()
}

type changeStream struct {
	events chan SessionEvent
	cancel context.CancelFunc
}

func (s *changeStream) Events() <-chan SessionEvent {
	return s.events
}

func (s *changeStream) Close() {
	s.cancel()
}

func (s *changeStream) pump(ctx context.Context, id string, cs *mongo.ChangeStream) {
	defer close(s.events)
	defer cs.Close(context.Background())

	for cs.Next(ctx) {
		var change struct {
			OperationType string `bson:"operationType"`
			FullDocument  bson.M `bson:"fullDocument"`
		}
		if err := cs.Decode(&change); err != nil {
			log.Printf("session stream %s: decode error: %v", id, err)
			continue
		}

		switch change.OperationType {
		case "delete":
			s.emit(ctx, SessionEvent{Type: EventRemoved})
			return
		case "insert", "update", "replace":
			session, err := model.SessionFromDocument(id, change.FullDocument)
			if err != nil {
				// A snapshot that no longer parses is treated the same
				// as the document disappearing.
				s.emit(ctx, SessionEvent{Type: EventRemoved})
				return
			}
			s.emit(ctx, SessionEvent{Type: EventUpdated, Session: session})
		}
	}
}

func (s *changeStream) emit(ctx context.Context, ev SessionEvent) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}
