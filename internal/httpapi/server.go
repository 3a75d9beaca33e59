// Package httpapi exposes the inventory review service over HTTP. Routes
// are versioned under /api/v1 and protected by bearer-token auth; health
// and metrics endpoints stay open for probes and scrapers.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kitcore/internal/core"
	"kitcore/internal/export"
)

// Server bundles the HTTP handlers for the inventory review API.
type Server struct {
	svc     *core.Service
	exports *export.Worker
	secret  string
	logger  *slog.Logger
}

// NewServer constructs a Server. The exports worker may be nil, in which
// case the report endpoints answer 503.
func NewServer(svc *core.Service, exports *export.Worker, secret string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{svc: svc, exports: exports, secret: secret, logger: logger}
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(Metrics())

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuth(s.secret))

		r.Route("/teams", func(r chi.Router) {
			r.Post("/", s.handleCreateTeam)
			r.Get("/", s.handleListUserTeams)

			r.Route("/{teamID}", func(r chi.Router) {
				r.Get("/", s.handleGetTeam)
				r.Patch("/", s.handleUpdateTeam)
				r.Delete("/", s.handleDeleteTeam)

				r.Get("/members", s.handleListMembers)
				r.Post("/members", s.handleAddMember)
				r.Delete("/members/{userID}", s.handleRemoveMember)

				r.Post("/items", s.handleCreateItem)
				r.Get("/items", s.handleListItems)
				r.Get("/tree", s.handleTree)
				r.Get("/items/{itemID}", s.handleGetItem)
				r.Patch("/items/{itemID}", s.handleUpdateItem)
				r.Delete("/items/{itemID}", s.handleDeleteItem)
				r.Post("/items/{itemID}/status", s.handleApplyStatus)

				r.Post("/exports", s.handleCreateExport)
			})
		})

		r.Get("/nsn", s.handleNSNSearch)
		r.Get("/exports/{exportID}", s.handleGetExport)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
