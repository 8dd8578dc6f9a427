package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the full route tree.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)

	// Ingestion boundary: bearer-authenticated inside the handler, not by
	// router middleware, because its auth and response rules differ from
	// the rest of the API.
	r.Post("/webhooks/inbound", h.IngestInbound)

	r.Route("/api", func(r chi.Router) {
		r.Route("/domains", func(r chi.Router) {
			r.Post("/", h.CreateDomain)
			r.Get("/", h.ListDomains)
			r.Route("/{domainID}", func(r chi.Router) {
				r.Get("/", h.GetDomain)
				r.Delete("/", h.DeleteDomain)
				r.Post("/verify", h.VerifyDomain)
				r.Post("/catchall", h.ToggleCatchAll)
				r.Post("/addresses", h.CreateAddress)
				r.Get("/addresses", h.ListAddresses)
				r.Delete("/addresses/{addressID}", h.DeleteAddress)
				r.Get("/blocklist", h.ListBlocked)
			})
		})

		r.Route("/endpoints", func(r chi.Router) {
			r.Post("/", h.CreateEndpoint)
			r.Get("/", h.ListEndpoints)
			r.Route("/{endpointID}", func(r chi.Router) {
				r.Get("/", h.GetEndpoint)
				r.Put("/", h.UpdateEndpoint)
				r.Delete("/", h.DeleteEndpoint)
				r.Post("/test", h.TestEndpoint)
				r.Get("/deliveries", h.ListDeliveries)
			})
		})

		r.Route("/blocklist", func(r chi.Router) {
			r.Post("/", h.BlockAddress)
			r.Delete("/{address}", h.UnblockAddress)
		})
	})

	return r
}
