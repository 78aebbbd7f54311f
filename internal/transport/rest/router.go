package rest

import (
	"net/http"
	"os"

	"flipfocus/internal/cache"
	"flipfocus/internal/service"
	"flipfocus/internal/transport/rest/handler"
	"flipfocus/internal/transport/rest/middleware"
	"flipfocus/internal/transport/ws"

	"github.com/gorilla/mux"
)

// Container holds all dependencies for the router
type Container struct {
	AuthService *service.AuthService
	Coordinator *service.Coordinator
	JoinRelay   *service.JoinRelay
	Leaderboard cache.LeaderboardCache
	WSHub       *ws.Hub
}

// NewRouter creates the API router with all endpoints
func NewRouter(c *Container) http.Handler {
	r := mux.NewRouter()

	// Initialize handlers
	authHandler := handler.NewAuthHandler(c.AuthService)
	sessionHandler := handler.NewSessionHandler(c.Coordinator)
	joinReqHandler := handler.NewJoinRequestHandler(c.JoinRelay, c.Coordinator)
	lbHandler := handler.NewLeaderboardHandler(c.Leaderboard)
	wsHandler := ws.NewHandler(c.WSHub, c.AuthService, c.Coordinator)

	// Initialize middleware
	authMW := middleware.NewAuthMiddleware(c.AuthService)

	// CORS middleware (apply first)
	r.Use(corsMiddleware)

	// API v1 routes
	v1 := r.PathPrefix("/v1").Subrouter()

	// Public routes
	v1.HandleFunc("/auth/login", authHandler.Login).Methods("POST", "OPTIONS")

	// WebSocket route (public with token in query param)
	v1.HandleFunc("/ws/sessions/{sessionId}", wsHandler.SessionWS).Methods("GET")

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// Authenticated routes
	userRoutes := v1.NewRoute().Subrouter()
	userRoutes.Use(authMW.RequireUser)

	userRoutes.HandleFunc("/sessions/friends", sessionHandler.ListFriends).Methods("GET", "OPTIONS")
	userRoutes.HandleFunc("/sessions/building/{buildingId}", sessionHandler.ListBuilding).Methods("GET", "OPTIONS")
	userRoutes.HandleFunc("/sessions/{sessionId}", sessionHandler.Get).Methods("GET", "OPTIONS")
	userRoutes.HandleFunc("/sessions/{sessionId}/broadcast", sessionHandler.Broadcast).Methods("POST", "OPTIONS")
	userRoutes.HandleFunc("/sessions/{sessionId}/join", sessionHandler.Join).Methods("POST", "OPTIONS")
	userRoutes.HandleFunc("/sessions/{sessionId}/status", sessionHandler.UpdateStatus).Methods("PUT", "OPTIONS")
	userRoutes.HandleFunc("/sessions/{sessionId}/end", sessionHandler.End).Methods("POST", "OPTIONS")

	userRoutes.HandleFunc("/join-requests", joinReqHandler.Stage).Methods("POST", "OPTIONS")
	userRoutes.HandleFunc("/join-requests", joinReqHandler.Cancel).Methods("DELETE", "OPTIONS")
	userRoutes.HandleFunc("/join-requests/pending", joinReqHandler.Pending).Methods("GET", "OPTIONS")
	userRoutes.HandleFunc("/join-requests/consume", joinReqHandler.Consume).Methods("POST", "OPTIONS")

	userRoutes.HandleFunc("/leaderboard", lbHandler.Top).Methods("GET", "OPTIONS")
	userRoutes.HandleFunc("/leaderboard/rank", lbHandler.Rank).Methods("GET", "OPTIONS")

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowedOrigins := os.Getenv("CORS_ALLOWED_ORIGINS")
		if allowedOrigins == "" {
			allowedOrigins = "*"
		}

		allowedMethods := os.Getenv("CORS_ALLOWED_METHODS")
		if allowedMethods == "" {
			allowedMethods = "GET, POST, PUT, DELETE, OPTIONS"
		}

		allowedHeaders := os.Getenv("CORS_ALLOWED_HEADERS")
		if allowedHeaders == "" {
			allowedHeaders = "Content-Type, Authorization"
		}

		w.Header().Set("Access-Control-Allow-Origin", allowedOrigins)
		w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
		w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
