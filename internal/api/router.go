package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/transports", s.handleTransports)
		r.Get("/queue", s.handleQueueStatus)
		r.Get("/activity", s.handleActivity)

		// Device endpoints
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Post("/discover", s.handleDiscover)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Delete("/", s.handleRemoveDevice)
				r.Post("/command", s.handleCommand)
				r.Post("/query", s.handleQueryStatus)
				r.Get("/history/{property}", s.handleDeviceHistory)
			})
		})

		// Scene endpoints
		r.Route("/scenes", func(r chi.Router) {
			r.Get("/", s.handleListScenes)
			r.Post("/", s.handleCreateScene)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetScene)
				r.Put("/", s.handleUpdateScene)
				r.Delete("/", s.handleDeleteScene)
				r.Post("/execute", s.handleExecuteScene)
			})
		})

		// Room endpoints
		r.Route("/rooms", func(r chi.Router) {
			r.Get("/", s.handleListRooms)
			r.Post("/", s.handleCreateRoom)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRoom)
				r.Put("/", s.handleUpdateRoom)
				r.Delete("/", s.handleDeleteRoom)
				r.Get("/devices", s.handleRoomDevices)
			})
		})

		// Device group endpoints
		r.Route("/groups", func(r chi.Router) {
			r.Get("/", s.handleListGroups)
			r.Post("/", s.handleCreateGroup)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetGroup)
				r.Put("/", s.handleUpdateGroup)
				r.Delete("/", s.handleDeleteGroup)
				r.Get("/devices", s.handleGroupDevices)
				r.Post("/command", s.handleGroupCommand)
			})
		})

		// WebSocket push
		wsPath := s.wsCfg.Path
		if wsPath == "" {
			wsPath = "/ws"
		}
		r.Get(wsPath, s.handleWebSocket)
	})

	return r
}
