package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/sitewatch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/sitewatch/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/sitewatch/internal/httpserver/mw"
)

func init() { Register(registerSites) }

func registerSites(r chi.Router, d deps.Deps) {
	r.Route("/api/sites", func(r chi.Router) {
		r.Get("/", handlers.ListSites(d))
		r.Get("/{id}", handlers.GetSite(d))
		r.Get("/{id}/staleness", handlers.SiteStaleness(d))

		r.With(mw.RateLimit(mw.RateLimitConfig{
			Burst:             d.RateLimitBurst,
			RefillPerIPPerMin: d.RateLimitPerMin,
			MaxEntries:        d.RateLimitMaxKeys,
			TrustProxy:        d.TrustProxy,
		}, d.Logger)).Post("/", handlers.RegisterSite(d))

		r.With(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger)).Delete("/{id}", handlers.UnregisterSite(d))
	})
}
