package repository

import (
	"context"
	"time"

	"flipfocus/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SessionRepo is the document-store surface for live sessions. Mutations are
// field-level: a broadcast never touches participants or another user's
// status entry, and participant membership only changes through the additive
// AddParticipant path, so concurrent writers on disjoint fields commute.
type SessionRepo interface {
	Get(ctx context.Context, id string) (*model.LiveSession, error)
	Create(ctx context.Context, session *model.LiveSession) error
	// MergeTick applies one client's countdown broadcast: remaining time,
	// pause flag, the caller's own status entry, and lastUpdateTime only.
	MergeTick(ctx context.Context, id, userID string, remainingSeconds int, isPaused bool, status model.ParticipantStatus, at time.Time) error
	// AddParticipant unions userID into participants and writes their
	// joinTimes/participantStatus entries. A repeat call is a no-op that
	// preserves the original join timestamp.
	AddParticipant(ctx context.Context, id, userID string, at time.Time) error
	SetParticipantStatus(ctx context.Context, id, userID string, status model.ParticipantStatus, at time.Time) error
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context, ids []string) error
	FindByParticipants(ctx context.Context, userIDs []string) ([]*model.LiveSession, error)
	FindByBuilding(ctx context.Context, buildingID string) ([]*model.LiveSession, error)
	Watch(ctx context.Context, id string) (SessionStream, error)
}

type sessionRepo struct {
	collection *mongo.Collection
}

func NewSessionRepo(db *mongo.Database) SessionRepo {
	return &sessionRepo{
		collection: db.Collection("live_sessions"),
	}
}

func (r *sessionRepo) Get(ctx context.Context, id string) (*model.LiveSession, error) {
	var doc bson.M
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil // Session not found
		}
		return nil, err
	}
	return model.SessionFromDocument(id, doc)
}

func (r *sessionRepo) Create(ctx context.Context, session *model.LiveSession) error {
	_, err := r.collection.InsertOne(ctx, session)
	return err
}

func (r *sessionRepo) MergeTick(ctx context.Context, id, userID string, remainingSeconds int, isPaused bool, status model.ParticipantStatus, at time.Time) error {
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{
			"remainingSeconds":            remainingSeconds,
			"isPaused":                    isPaused,
			"participantStatus." + userID: string(status),
			"lastUpdateTime":              at,
		},
	})
	return err
}

func (r *sessionRepo) AddParticipant(ctx context.Context, id, userID string, at time.Time) error {
	// The filter excludes documents already listing the user, so a repeat
	// join matches nothing and the original joinTimes entry is kept.
	_, err := r.collection.UpdateOne(ctx, bson.M{
		"_id":          id,
		"participants": bson.M{"$ne": userID},
	}, bson.M{
		"$addToSet": bson.M{"participants": userID},
		"$set": bson.M{
			"joinTimes." + userID:         at,
			"participantStatus." + userID: string(model.StatusActive),
			"lastUpdateTime":              at,
		},
	})
	return err
}

func (r *sessionRepo) SetParticipantStatus(ctx context.Context, id, userID string, status model.ParticipantStatus, at time.Time) error {
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{
			"participantStatus." + userID: string(status),
			"lastUpdateTime":              at,
		},
	})
	return err
}

func (r *sessionRepo) Delete(ctx context.Context, id string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (r *sessionRepo) DeleteAll(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	return err
}

func (r *sessionRepo) FindByParticipants(ctx context.Context, userIDs []string) ([]*model.LiveSession, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	return r.find(ctx, bson.M{"participants": bson.M{"$in": userIDs}})
}

func (r *sessionRepo) FindByBuilding(ctx context.Context, buildingID string) ([]*model.LiveSession, error) {
	return r.find(ctx, bson.M{"buildingId": buildingID})
}

func (r *sessionRepo) find(ctx context.Context, filter bson.M) ([]*model.LiveSession, error) {
	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var sessions []*model.LiveSession
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			continue
		}
		id, _ := doc["_id"].(string)
		session, err := model.SessionFromDocument(id, doc)
		if err != nil {
			continue // Skip malformed documents in list views
		}
		sessions = append(sessions, session)
	}
	return sessions, cursor.Err()
}

func (r *sessionRepo) Watch(ctx context.Context, id string) (SessionStream, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"documentKey._id": id}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	streamCtx, cancel := context.WithCancel(ctx)
	cs, err := r.collection.Watch(streamCtx, pipeline, opts)
	if err != nil {
		cancel()
		return nil, err
	}

	stream := &changeStream{
		events: make(chan SessionEvent, 16),
		cancel: cancel,
	}
	go stream.pump(streamCtx, id, cs)
	return stream, nil
}
