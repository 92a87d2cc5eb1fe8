package router

import (
	"net/http"

	handler "kanban/internal/kanban"
	"kanban/middleware"
	"kanban/pkg/logger"
	"kanban/pkg/metrics"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func Setup(boardHandler *handler.BoardHandler, collector *metrics.Collector, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Logger(logger.Log))
	r.Use(middleware.Metrics(collector))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "HEAD"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", boardHandler.Root)
	r.Get("/health", boardHandler.Health)
	r.Method(http.MethodGet, "/metrics", collector.Handler())

	r.Route("/api/kanban/{projectID}", func(r chi.Router) {
		r.Get("/", boardHandler.GetBoard)
		r.Post("/", boardHandler.UpdateBoard)
		r.Get("/history", boardHandler.GetHistory)
	})
	r.Get("/ws/kanban/{projectID}", boardHandler.Subscribe)

	return r
}
