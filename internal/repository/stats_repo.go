package repository

import (
	"context"
	"time"

	"flipfocus/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// StatsRepo persists per-user lifetime focus totals. The completed-session
// counter is what gates joining friend sessions.
type StatsRepo interface {
	Get(ctx context.Context, userID string) (*model.UserStats, error)
	IncrementCompleted(ctx context.Context, userID, username string, focusMinutes int) error
}

type statsRepo struct {
	collection *mongo.Collection
}

func NewStatsRepo(db *mongo.Database) StatsRepo {
	return &statsRepo{
		collection: db.Collection("user_stats"),
	}
}

func (r *statsRepo) Get(ctx context.Context, userID string) (*model.UserStats, error) {
	var stats model.UserStats
	err := r.collection.FindOne(ctx, bson.M{"_id": userID}).Decode(&stats)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil // No stats yet
		}
		return nil, err
	}
	return &stats, nil
}

func (r *statsRepo) IncrementCompleted(ctx context.Context, userID, username string, focusMinutes int) error {
	opts := options.Update().SetUpsert(true)
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{
		"$inc": bson.M{
			"completedSessions": 1,
			"totalFocusMinutes": focusMinutes,
		},
		"$set": bson.M{
			"username":        username,
			"lastCompletedAt": time.Now(),
		},
	}, opts)
	return err
}
