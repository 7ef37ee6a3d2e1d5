// Package httpapi is the thin lifecycle HTTP surface over facade.Facade:
// health, readiness, and process metrics behind the standard middleware
// chain (RequestID, RealIP, Logging, Recoverer, RateLimit). The route layer
// that drives the facade's operations on behalf of clients lives outside
// this module.
package httpapi

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/memkeep/memkeep/internal/config"
	"github.com/memkeep/memkeep/internal/facade"
	"github.com/memkeep/memkeep/internal/httpmw"
	"go.uber.org/zap"
)

// NewRouter builds the chi.Mux carrying the engine's liveness/readiness
// surface. Callers needing the core's operations (search, store, feedback,
// ...) call facade.Facade directly or wire their own route layer over it —
// that layer is out of this module's scope.
func NewRouter(f *facade.Facade, logger *zap.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(httpmw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpmw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(httpmw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst()))

	start := time.Now()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		progress := f.GetReindexProgress()
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "reindex_running": progress.Running})
	})

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		writeJSON(w, http.StatusOK, map[string]any{
			"uptime_seconds": time.Since(start).Seconds(),
			"goroutines":     runtime.NumGoroutine(),
			"alloc_mb":       float64(mem.Alloc) / 1024 / 1024,
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
