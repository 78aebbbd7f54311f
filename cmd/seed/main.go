package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"flipfocus/internal/model"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Seeds a handful of demo users and a live session so the list and join
// endpoints have something to show during local development.
func main() {
	mongoURI := os.Getenv("MONGO_URI")
	if mongoURI == "" {
		mongoURI = "mongodb://localhost:27017"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer client.Disconnect(ctx)

	db := client.Database("flipfocus")

	now := time.Now()

	users := []model.UserStats{
		{UserID: "u_" + uuid.New().String()[:8], Username: "ava", CompletedSessions: 12, TotalFocusMinutes: 300, LastCompletedAt: now.Add(-24 * time.Hour)},
		{UserID: "u_" + uuid.New().String()[:8], Username: "ben", CompletedSessions: 3, TotalFocusMinutes: 75, LastCompletedAt: now.Add(-48 * time.Hour)},
		{UserID: "u_" + uuid.New().String()[:8], Username: "casey", CompletedSessions: 1, TotalFocusMinutes: 25, LastCompletedAt: now.Add(-72 * time.Hour)},
	}

	statsColl := db.Collection("user_stats")
	for _, u := range users {
		if _, err := statsColl.InsertOne(ctx, u); err != nil {
			log.Fatalf("Failed to seed user %s: %v", u.Username, err)
		}
	}

	starter := users[0]
	sessionID := fmt.Sprintf("%s_%d", starter.UserID, now.Unix())

	session := model.LiveSession{
		ID:               sessionID,
		StarterID:        starter.UserID,
		StarterUsername:  starter.Username,
		Participants:     []string{starter.UserID},
		StartTime:        now,
		TargetDuration:   25,
		RemainingSeconds: 25 * 60,
		AllowPauses:      true,
		MaxPauses:        3,
		JoinTimes:        map[string]time.Time{starter.UserID: now},
		ParticipantStatus: map[string]model.ParticipantStatus{
			starter.UserID: model.StatusActive,
		},
		LastUpdateTime: now,
		BuildingID:     "bldg_library",
		BuildingName:   "Main Library",
		Latitude:       43.4723,
		Longitude:      -80.5449,
	}

	if _, err := db.Collection("live_sessions").InsertOne(ctx, session); err != nil {
		log.Fatalf("Failed to seed session: %v", err)
	}

	log.Printf("Seeded %d users and session %s", len(users), sessionID)
}
