// Package httpapi implements the HTTP surface from spec §6: the
// `/`, `/inspect`, `/float` and `/stats` routes, CORS, per-IP rate
// limiting and the status-code mapping for coordinator errors, grounded in
// the chi/cors/httprate wiring this project's core borrows its router
// idiom from.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/cs2inspect/gateway/internal/coordinator"
	"github.com/cs2inspect/gateway/internal/domain"
	"github.com/cs2inspect/gateway/internal/manager"
	"github.com/cs2inspect/gateway/internal/parser"
)

// Inspector is the subset of the coordinator the HTTP layer depends on.
type Inspector interface {
	InspectItem(ctx context.Context, d domain.InspectDescriptor) coordinator.Outcome
}

// StatsProvider exposes the manager's merged fleet snapshot for /stats.
type StatsProvider interface {
	Stats() manager.Stats
}

// Config bundles the router's own knobs.
type Config struct {
	RateLimitPerMin int
	CORSOrigins     []string
}

// NewRouter builds the chi handler for the gateway.
func NewRouter(cfg Config, inspector Inspector, stats StatsProvider, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(requestLogger(log))

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	limit := cfg.RateLimitPerMin
	if limit <= 0 {
		limit = 120
	}
	r.Use(httprate.LimitByIP(limit, time.Minute))

	inspectHandler := handleInspect(inspector)
	r.Get("/", inspectHandler)
	r.Get("/inspect", inspectHandler)
	r.Get("/float", inspectHandler)

	// /stats aggregates across every shard and bot, so it gets its own
	// global token bucket rather than relying solely on httprate's
	// per-IP accounting, which a botnet of distinct source IPs would
	// sidestep entirely.
	statsLimiter := rate.NewLimiter(rate.Limit(statsLimitPerSecond(limit)), limit)
	r.Get("/stats", globalRateLimit(statsLimiter, handleStats(stats)))

	return r
}

// statsLimitPerSecond derives a sustained per-second rate from the per-IP
// per-minute budget, so the global bucket never binds tighter than a
// single well-behaved caller would hit anyway.
func statsLimitPerSecond(perMinute int) float64 {
	return float64(perMinute) / 60
}

func globalRateLimit(limiter *rate.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": domain.ErrQueueFull.Error()})
			return
		}
		next.ServeHTTP(w, r)
	}
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, req)
			log.Debug().
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Dur("elapsed", time.Since(start)).
				Msg("request")
		})
	}
}

func handleInspect(inspector Inspector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := parser.ParseQuery(r.URL.Query())
		if err != nil {
			writeError(w, err)
			return
		}

		outcome := inspector.InspectItem(r.Context(), d)
		if outcome.Err != nil {
			writeError(w, outcome.Err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if outcome.Accepted != nil {
			_ = json.NewEncoder(w).Encode(outcome.Accepted)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"iteminfo": outcome.Item})
	}
}

func handleStats(stats StatsProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats.Stats())
	}
}

// writeError maps a coordinator error to the status codes in spec §6/§7:
// 429 queue full, 504 inspect timeout or no bots ready, 500 everything
// else (result-processing / infrastructure failures), 400 bad descriptor.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrBadDescriptor):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrQueueFull):
		status = http.StatusTooManyRequests
	case errors.Is(err, domain.ErrInspectTimeout), errors.Is(err, domain.ErrNoBotsReady):
		status = http.StatusGatewayTimeout
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
