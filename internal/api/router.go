package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxlate/voxlate/internal/database"
	mw "github.com/voxlate/voxlate/internal/middleware"
	inats "github.com/voxlate/voxlate/internal/nats"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Auth handlers
	Register http.HandlerFunc
	Login    http.HandlerFunc
	Refresh  http.HandlerFunc
	Logout   http.HandlerFunc

	// Translation handlers
	TranslateAudio http.HandlerFunc
	Translate      http.HandlerFunc
	SpeechToText   http.HandlerFunc
	TextToSpeech   http.HandlerFunc
	Languages      http.HandlerFunc

	// Credit and purchase handlers
	CreditBalance http.HandlerFunc
	Purchase      http.HandlerFunc

	// Device relay
	TranslateViaRelay http.HandlerFunc

	// Middleware
	AuthMiddleware         func(http.Handler) http.Handler
	OptionalAuthMiddleware func(http.Handler) http.Handler
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins     []string
	TranslationRateLimiter func(http.Handler) http.Handler
	AuthRateLimiter        func(http.Handler) http.Handler
	DefaultRateLimiter     func(http.Handler) http.Handler
}

func NewRouter(pool *pgxpool.Pool, natsClient *inats.Client, cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe: always 200, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	// Readiness probe checks DB and the relay transport
	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{
			"status":   "healthy",
			"database": "healthy",
			"relay":    "healthy",
		}

		status := http.StatusOK

		if err := database.HealthCheck(r.Context(), pool); err != nil {
			health["database"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}

		if natsClient != nil && !natsClient.Healthy() {
			health["relay"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		} else if natsClient == nil {
			health["relay"] = "not configured"
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// API v1
	r.Route("/v1", func(r chi.Router) {
		// Auth routes are public but rate-limited tighter than the rest
		r.Route("/auth", func(r chi.Router) {
			if cfg.AuthRateLimiter != nil {
				r.Use(cfg.AuthRateLimiter)
			}
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Post("/refresh", h.Refresh)

			r.Group(func(r chi.Router) {
				r.Use(h.AuthMiddleware)
				r.Post("/logout", h.Logout)
			})
		})

		// Translation pipeline: anonymous devices and accounts both allowed
		r.Group(func(r chi.Router) {
			r.Use(h.OptionalAuthMiddleware)
			if cfg.TranslationRateLimiter != nil {
				r.Use(cfg.TranslationRateLimiter)
			}
			r.Post("/translate/audio", h.TranslateAudio)
			r.Post("/translate", h.Translate)
			r.Post("/speech-to-text", h.SpeechToText)
			r.Post("/text-to-speech", h.TextToSpeech)
			if h.TranslateViaRelay != nil {
				r.Post("/relay/translate", h.TranslateViaRelay)
			}
		})

		// Credit and purchases
		r.Group(func(r chi.Router) {
			r.Use(h.OptionalAuthMiddleware)
			if cfg.DefaultRateLimiter != nil {
				r.Use(cfg.DefaultRateLimiter)
			}
			r.Get("/credit", h.CreditBalance)
			r.Post("/purchases", h.Purchase)
			r.Get("/languages", h.Languages)
		})
	})

	return r
}
