package app

import (
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"flipfocus/internal/cache"
	"flipfocus/internal/repository"
	"flipfocus/internal/service"
)

// App bundles the wired core components so the server and tooling share one
// construction path.
type App struct {
	SessionRepo  repository.SessionRepo
	StatsRepo    repository.StatsRepo
	SessionCache cache.SessionCache
	Leaderboard  cache.LeaderboardCache
	Coordinator  *service.Coordinator
	Reaper       *service.Reaper
	JoinRelay    *service.JoinRelay
}

// New wires repositories, caches, and services over the given connections.
func New(db *mongo.Database, rdb *redis.Client) *App {
	sessionRepo := repository.NewSessionRepo(db)
	statsRepo := repository.NewStatsRepo(db)

	sessionCache := cache.NewSessionCache(rdb)
	leaderboard := cache.NewLeaderboardCache(rdb)

	coord := service.NewCoordinator(sessionRepo, statsRepo, sessionCache, leaderboard)

	return &App{
		SessionRepo:  sessionRepo,
		StatsRepo:    statsRepo,
		SessionCache: sessionCache,
		Leaderboard:  leaderboard,
		Coordinator:  coord,
		Reaper:       service.NewReaper(coord, sessionRepo),
		JoinRelay:    service.NewJoinRelay(statsRepo),
	}
}
