package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/sitewatch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/sitewatch/internal/httpserver/handlers"
)

func init() { RegisterStream(registerEvents) }

func registerEvents(r chi.Router, d deps.Deps) {
	r.Get("/api/events", handlers.Events(d))
}
