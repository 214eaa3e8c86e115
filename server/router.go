package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// router assembles the full route tree. Operational endpoints sit outside
// the identity middleware; everything under /v1 requires a resolved user.
func (s *Server) router() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", s.config.UserHeader, s.config.AdminHeader},
		AllowCredentials: true,
	}))
	r.Use(s.requestLogger)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.identity)

		r.Get("/files", s.handleListing)
		r.Get("/files/history", s.handleHistory)
		r.Post("/files/description", s.handleDescription)

		r.Post("/checkout", s.handleCheckout)
		r.Post("/checkin", s.handleCheckIn)
		r.Post("/cancel", s.handleCancel)
		r.Post("/upload", s.handleUpload)

		r.Get("/locks", s.handleLocks)
		r.Get("/activity", s.handleActivity)
		r.Get("/activity/search", s.handleActivitySearch)

		r.Get("/messages", s.handleMessages)
		r.Post("/messages/ack", s.handleAcknowledge)

		r.Get("/ws", s.handleWebSocket)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)

			r.Post("/force-release", s.handleForceRelease)
			r.Post("/delete", s.handleDelete)
			r.Post("/revert", s.handleRevert)
			r.Post("/links", s.handleCreateLink)
			r.Post("/links/delete", s.handleDeleteLink)
			r.Post("/messages", s.handleSendMessage)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
