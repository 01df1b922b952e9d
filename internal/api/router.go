package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kdimtricp/sitewatch/internal/logging"
)

func NewRouter(app *App) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/ping", PingHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/monitoring", func(r chi.Router) {
		r.Post("/", app.CreateSessionHandler)
		r.Get("/", app.ListSessionsHandler)
		r.Get("/ws/{id}", app.WebSocketHandler)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", app.GetSessionHandler)
			r.Get("/violations", app.ListViolationsHandler)
			r.Patch("/violations/{violationID}", app.UpdateViolationHandler)
			r.Post("/pause", app.PauseHandler)
			r.Post("/resume", app.ResumeHandler)
			r.Post("/stop", app.StopHandler)
			r.Get("/events", app.EventStreamHandler)
		})
	})

	return r
}
