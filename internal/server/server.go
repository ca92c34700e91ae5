// Package server implements the HTTP API surface: a chi router
// exposing sandbox lifecycle, attach, proxy, and mux endpoints over the
// active Backend, falling back to a degraded stub if backend init failed.
package server

import (
	"net/http"
	"time"

	"github.com/cmux/cmuxd/internal/backend"
	"github.com/cmux/cmuxd/internal/mux"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server holds everything the HTTP surface dispatches into. It is
// constructed once per daemon process and never swapped: a failed backend
// init still produces a Server, just with a degraded Backend inside.
type Server struct {
	Backend   backend.Backend
	Hub       *mux.Hub
	StartedAt time.Time
}

func New(be backend.Backend, hub *mux.Hub) *Server {
	return &Server{Backend: be, Hub: hub, StartedAt: time.Now()}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/openapi.json", s.handleOpenAPI)
	r.Get("/healthz", s.handleHealthz)

	r.Get("/sandboxes", s.handleListSandboxes)
	r.Post("/sandboxes", s.handleCreateSandbox)
	r.Post("/sandboxes/prune", s.handlePrune)
	r.Get("/sandboxes/{id}", s.handleGetSandbox)
	r.Delete("/sandboxes/{id}", s.handleDeleteSandbox)
	r.Post("/sandboxes/{id}/exec", s.handleExec)
	r.Post("/sandboxes/{id}/files", s.handleUploadFiles)
	r.Post("/sandboxes/{id}/await", s.handleAwait)
	r.Get("/sandboxes/{id}/attach", s.handleAttach)
	r.Get("/sandboxes/{id}/proxy", s.handleProxy)

	r.Get("/mux", s.handleMux)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
