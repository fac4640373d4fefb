package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"golang.org/x/time/rate"

	"github.com/soccerops/alertcore/internal/config"
)

// NewRouter builds the operational control surface: start, stop,
// reload-alerts, force-poll-now, get-stats, health, and the broadcast
// channel's WebSocket upgrade endpoint. This is operator tooling for the
// core itself, not an end-user API.
func NewRouter(e *Engine, cfg *config.Config) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logSlowRequests(e.logger, time.Second))
	r.Use(middleware.Compress(5))

	c := corslib.New(corslib.Options{
		AllowedOrigins:   cfg.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	if cfg.RateLimitEnabled {
		r.Use(throttleByClient(cfg.RateLimitRequests, cfg.RateLimitWindow))
	}

	h := &handlers{engine: e}

	r.Get("/health", h.health)
	r.Get("/ws", e.hub.HandleWS)
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/docs/doc.json")))

	r.Route("/control", func(r chi.Router) {
		r.Post("/start", h.start)
		r.Post("/stop", h.stop)
		r.Post("/reload-alerts", h.reloadAlerts)
		r.Post("/force-poll", h.forcePoll)
		r.Get("/stats", h.stats)
	})

	return r
}

type handlers struct {
	engine *Engine
}

// health reports liveness of the control surface itself.
//
//	@Summary	Health check
//	@Tags		operations
//	@Success	200	{object}	map[string]string
//	@Router		/health [get]
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// start resumes the ingestion and evaluation loops if they are stopped.
//
//	@Summary	Start the engine
//	@Tags		operations
//	@Success	202	{object}	map[string]string
//	@Router		/control/start [post]
func (h *handlers) start(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Start(r.Context()); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// stop pauses the ingestion and evaluation loops without tearing down the
// HTTP control surface.
//
//	@Summary	Stop the engine
//	@Tags		operations
//	@Success	202	{object}	map[string]string
//	@Router		/control/stop [post]
func (h *handlers) stop(w http.ResponseWriter, r *http.Request) {
	h.engine.Stop()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopped"})
}

// reloadAlerts re-reads the active alert set from Postgres.
//
//	@Summary	Reload active alerts
//	@Tags		operations
//	@Success	200	{object}	map[string]string
//	@Failure	500	{object}	map[string]string
//	@Router		/control/reload-alerts [post]
func (h *handlers) reloadAlerts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := h.engine.ReloadAlerts(ctx); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

// forcePoll runs one ingestion tick immediately, outside the regular
// poll_interval_seconds schedule.
//
//	@Summary	Force an immediate poll
//	@Tags		operations
//	@Success	202	{object}	map[string]string
//	@Router		/control/force-poll [post]
func (h *handlers) forcePoll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	h.engine.ForcePoll(ctx)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "polled"})
}

// stats reports every operational counter in one response.
//
//	@Summary	Get operational statistics
//	@Tags		operations
//	@Success	200	{object}	Stats
//	@Router		/control/stats [get]
func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// logSlowRequests flags control calls that ran longer than threshold,
// which on this surface usually means a force-poll waiting out upstream
// fetches.
func logSlowRequests(logger *slog.Logger, threshold time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			if d := time.Since(start); d > threshold {
				logger.Warn("control: slow request", "method", r.Method, "path", r.URL.Path, "duration", d)
			}
		})
	}
}

// throttleByClient caps control-surface requests per client IP, separate
// from the upstream provider's global budget. One token bucket per remote
// host, created on first request and refilled at requests/window; the
// bucket map lives in the closure since the surface has exactly one
// router.
func throttleByClient(requests int, window time.Duration) func(http.Handler) http.Handler {
	var (
		mu      sync.Mutex
		buckets = make(map[string]*rate.Limiter)
	)
	perSec := rate.Limit(float64(requests) / window.Seconds())
	retryAfter := strconv.Itoa(int(window.Seconds()))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host := r.RemoteAddr
			if h, _, err := net.SplitHostPort(host); err == nil {
				host = h
			}

			mu.Lock()
			bucket := buckets[host]
			if bucket == nil {
				bucket = rate.NewLimiter(perSec, requests)
				buckets[host] = bucket
			}
			mu.Unlock()

			if !bucket.Allow() {
				w.Header().Set("Retry-After", retryAfter)
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
