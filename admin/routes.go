package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/vlubarsky/citus/telemetry"
)

// RegisterRoutes registers all admin API routes using chi router
func RegisterRoutes(mux *http.ServeMux, handlers *AdminHandlers) {
	r := chi.NewRouter()
	r.Use(AuthMiddleware)

	r.Route("/transactions", func(r chi.Router) {
		r.Get("/", handlers.handleListTransactions)
		r.Get("/{txnID}", handlers.handleTransaction)
	})

	r.Route("/failures", func(r chi.Router) {
		r.Get("/", handlers.handleListFailures)
		r.Delete("/{seq}", handlers.handleAckFailure)
	})

	r.Route("/shards/{shardID}", func(r chi.Router) {
		r.Get("/placements", handlers.handleShardPlacements)
		r.Delete("/cache", handlers.handleInvalidateShard)
	})

	// Mount chi router under /admin
	mux.Handle("/admin", http.RedirectHandler("/admin/", http.StatusMovedPermanently))
	mux.Handle("/admin/", http.StripPrefix("/admin", r))

	if metrics := telemetry.GetMetricsHandler(); metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	log.Info().Msg("Admin endpoints enabled at /admin/*")
}
