package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/turinggame/core/internal/coordinator"
	"github.com/turinggame/core/internal/ws"
)

func SetupRoutes(h *coordinator.Hub, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Public routes
	r.Post("/sessions", CreateSession(h, log))
	r.Post("/sessions/{code}/finish", FinishSession(h))
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, log))
	return r
}
