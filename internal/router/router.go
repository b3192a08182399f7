package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"promptarena-backend/internal/handlers"
	"promptarena-backend/internal/metrics"
	"promptarena-backend/internal/middleware"
	"promptarena-backend/internal/websocket"
)

// New wires every route. The rate limiters sweep idle visitors until done is
// closed.
func New(
	jwtAuth *middleware.JWTAuth,
	authHandler *handlers.AuthHandler,
	taskHandler *handlers.TaskHandler,
	sessionHandler *handlers.SessionHandler,
	leaderboardHandler *handlers.LeaderboardHandler,
	transcribeHandler *handlers.TranscribeHandler,
	wsHub *websocket.Hub,
	m *metrics.Metrics,
	frontendURL string,
	done <-chan struct{},
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))
	r.Use(m.Middleware)

	// Auth rate limiter (10 req/min per IP)
	authLimiter := middleware.NewRateLimiter(10, time.Minute, middleware.ByRemoteAddr)
	// Scoring is expensive: 20 submissions/min per user
	submitLimiter := middleware.NewRateLimiter(20, time.Minute, middleware.ByUser)
	go authLimiter.Cleanup(done)
	go submitLimiter.Cleanup(done)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", m.Handler())

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Auth Routes (public) ────
		r.Route("/auth", func(r chi.Router) {
			r.Use(authLimiter.Middleware)
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)

			r.Group(func(r chi.Router) {
				r.Use(jwtAuth.Middleware)
				r.Post("/logout", authHandler.Logout)
			})
		})

		// ──── Task Routes (public) ────
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", taskHandler.List)
			r.Get("/{id}", taskHandler.Get)
		})

		// ──── Leaderboard Routes (public) ────
		r.Route("/leaderboard", func(r chi.Router) {
			r.Get("/", leaderboardHandler.Global)
			r.Get("/{taskId}", leaderboardHandler.ForTask)
		})

		// ──── Session Routes ────
		r.Route("/sessions", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Post("/start", sessionHandler.Start)
			r.Get("/{id}", sessionHandler.Get)
			r.Get("/{id}/history", sessionHandler.History)
			r.With(submitLimiter.Middleware).Post("/{id}/prompts", sessionHandler.SubmitPrompt)
		})

		r.Group(func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Use(submitLimiter.Middleware)
			r.Post("/submit-attempt", sessionHandler.SubmitAttempt)
			r.Post("/transcribe", transcribeHandler.Transcribe)
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}
