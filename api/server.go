/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests from the course pages
  5. Sessions:   Session holder in the request context (/api only)

ROUTE GROUPS:
  /api/auth/*         Signup, login, logout, status
  /api/me/*           Current user's points, courses, stickers, redemptions
  /api/leaderboard*   Reporting views
  /api/admin/*        Admin operations (role checked in the gateway)
  /healthz            Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - session.go:  Session middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	CORSOrigins []string
	Session     SessionOptions
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", SessionHeader},
		ExposedHeaders:   []string{SessionHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(Sessions(opts.Session))

		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", h.SignUp)
			r.Post("/login", h.LogIn)
			r.Post("/logout", h.LogOut)
			r.Get("/status", h.AuthStatus)
		})

		r.Route("/me", func(r chi.Router) {
			r.Post("/ensure", h.EnsureAccount)
			r.Get("/profile", h.GetProfile)
			r.Get("/points", h.GetPoints)
			r.Put("/points", h.SetPoints)
			r.Post("/points/add", h.AddPoints)
			r.Get("/history", h.GetHistory)
			r.Get("/courses", h.GetCourses)
			r.Post("/courses/{courseId}/complete", h.CompleteCourse)
			r.Get("/stickers", h.GetStickers)
			r.Get("/redemptions", h.ListRedemptions)
			r.Post("/redemptions", h.Redeem)
		})

		r.Get("/leaderboard", h.Leaderboard)
		r.Get("/leaderboard/friends", h.FriendsLeaderboard)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/stickers", h.GrantSticker)
			r.Get("/redemptions", h.ListAllRedemptions)
			r.Patch("/redemptions/{email}/{rewardId}", h.UpdateRedemptionStatus)
			r.Post("/adjustments", h.CreateAdjustment)
		})
	})

	return r
}
