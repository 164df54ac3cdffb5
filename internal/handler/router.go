package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/consult-chat/backend/internal/handler/session"
	"github.com/zhouzirui/consult-chat/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/consult-chat/backend/internal/middleware"
	"github.com/zhouzirui/consult-chat/backend/internal/service/coordinator"
	"github.com/zhouzirui/consult-chat/backend/pkg/utils"
)

// NewRouter wires HTTP routes to the session coordinator.
func NewRouter(coord *coordinator.Coordinator, broker *stream.Broker) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	sessionHandler := session.New(coord)

	r.Route("/api", func(api chi.Router) {
		sessionHandler.RegisterRoutes(api)

		api.Get("/notifications", func(w http.ResponseWriter, r *http.Request) {
			if broker == nil {
				utils.RespondError(w, http.StatusServiceUnavailable, "notifications unavailable")
				return
			}
			broker.ServeHTTP(w, r)
		})

		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			view := coord.View()
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status":    "ok",
				"connected": view.Connected,
				"reconnect": coord.ReconnectState(),
			})
		})
	})

	return r
}
