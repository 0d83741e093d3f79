// Package router wires the chi HTTP router: middleware chain, ingress
// webhook routes, health/readiness, /status, and the metrics endpoint.
package router

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/solwatch/sentinel/internal/config"
	"github.com/solwatch/sentinel/internal/ingress"
	"github.com/solwatch/sentinel/internal/middleware"
	"github.com/solwatch/sentinel/internal/observability"
)

// NewRouter returns a configured chi Router with the middleware chain and
// every route mounted. metrics may be nil (no /metrics route in that case).
func NewRouter(cfg *config.Config, appLogger zerolog.Logger, handlers *ingress.Handlers, metrics *observability.Metrics) http.Handler {
	r := chi.NewRouter()

	// --- Middleware chain (order matters) ---
	r.Use(middleware.CORSMiddleware([]string{"*"}))
	r.Use(middleware.SecurityHeadersMiddleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(mwRequestLogger(appLogger))
	r.Use(mwMaxBodySize(cfg.MaxBodyBytes))

	// --- Liveness/readiness, no auth ---
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"sentinel"}`))
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready","service":"sentinel"}`))
	})

	if metrics != nil {
		r.Get("/metrics", metrics.Handler())
	}

	r.Get("/status", handlers.Status)

	// --- Ingress webhooks ---
	rateLimiter := middleware.NewRateLimiter(appLogger, cfg.RateLimitEnabled, cfg.RateLimitRPM, cfg.RateLimitBurst)
	headerNorm := middleware.NewHeaderNormalization(appLogger)
	timeoutMW := middleware.NewTimeoutMiddleware(appLogger, cfg)
	concurrencyGuard := middleware.NewConcurrencyGuard(cfg.RateLimitBurst, 200*time.Millisecond, appLogger)
	dedup := middleware.NewDeliveryDeduplicator(appLogger)

	r.Route("/webhooks", func(r chi.Router) {
		r.Use(rateLimiter.Handler)
		r.Use(headerNorm.Handler)
		r.Use(timeoutMW.Handler)
		r.Use(concurrencyGuard.Middleware)
		if cfg.WebhookSecret != "" {
			auth := middleware.NewAuthMiddleware(appLogger, cfg.APIKeyHeader, cfg.WebhookSecret)
			r.Use(auth.Handler)
		}
		r.Use(dedup.Middleware)

		r.Post("/kol-buy", handlers.KOLBuy)
		r.Get("/chat-mention", handlers.ChatMention)
		r.Post("/graduation", handlers.Graduation)
	})

	return r
}

// mwMaxBodySize returns middleware that limits the request body size.
func mwMaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 1 * 1024 * 1024 // default 1MB
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			max := maxBytes
			if v := os.Getenv("SENTINEL_MAX_BODY_BYTES"); v != "" {
				if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
					max = parsed
				}
			}

			if r.ContentLength > 0 && r.ContentLength > max {
				http.Error(w, `{"error":"request_too_large","message":"request body too large"}`, http.StatusRequestEntityTooLarge)
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, max)
			next.ServeHTTP(w, r)
		})
	}
}

func mwRequestLogger(appLogger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			dur := time.Since(start)
			reqID := chimw.GetReqID(r.Context())
			appLogger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", reqID).
				Int("status", rw.Status()).
				Dur("duration", dur).
				Msg("request completed")
		})
	}
}
