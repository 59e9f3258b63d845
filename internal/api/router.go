package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/leadline-ai/leadline/internal/api/middleware"
	"github.com/leadline-ai/leadline/internal/handlers"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, verifier *middleware.TokenVerifier) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(64 * 1024)) // 64KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// CORS - browser meeting clients connect from anywhere
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/", h.Root)
	r.Get("/health", h.Health)

	// Signaling websocket: authenticates via token query parameter after the
	// upgrade, browsers cannot set Authorization headers on websockets.
	r.Get("/ws/signaling/{roomID}", h.Signaling)

	// Authenticated API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(verifier.RequireAuth)

		r.Post("/leads", h.CreateLead)
		r.Get("/leads", h.ListLeads)
		r.Get("/leads/{id}", h.GetLead)

		r.Post("/meetings", h.ScheduleMeeting)
		r.Get("/meetings", h.ListMeetings)
		r.Get("/meetings/{id}", h.GetMeeting)
		r.Post("/meetings/{id}/cancel", h.CancelMeeting)
		r.Post("/meetings/{id}/end", h.EndMeeting)
		r.Post("/meetings/{id}/message", h.PostMeetingMessage)
		r.Get("/meetings/{id}/transcript", h.GetMeetingTranscript)
		r.Get("/meetings/{id}/analysis", h.GetMeetingAnalysis)

		r.Get("/rooms/{roomID}", h.RoomStatus)
		r.Get("/rooms/{roomID}/messages", h.RoomMessages)
	})

	return r
}
