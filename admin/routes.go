package admin

import (
	"net/http"
	"net/http/pprof"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/engage/telemetry"
	"github.com/rs/zerolog/log"
)

// RegisterRoutes registers the admin API, metrics and pprof on mux
func RegisterRoutes(mux *http.ServeMux, handlers *AdminHandlers) {
	r := chi.NewRouter()
	r.Use(AuthMiddleware)

	r.Get("/stats", handlers.handleStats)
	r.Get("/stats/{type}", handlers.handleEventType)
	r.Get("/counters/{entity}/{id}", handlers.handleCounter)
	r.Post("/reconcile", handlers.handleReconcile)

	mux.Handle("/admin/", http.StripPrefix("/admin", r))

	if metrics := telemetry.GetMetricsHandler(); metrics != nil {
		mux.Handle("/metrics", metrics)
		log.Info().Msg("Metrics endpoint enabled at /metrics")
	}

	mux.Handle("/debug/pprof/", AuthMiddleware(http.HandlerFunc(pprof.Index)))
	mux.Handle("/debug/pprof/profile", AuthMiddleware(http.HandlerFunc(pprof.Profile)))
	mux.Handle("/debug/pprof/trace", AuthMiddleware(http.HandlerFunc(pprof.Trace)))

	log.Info().Msg("Admin endpoints enabled at /admin/*")
}
