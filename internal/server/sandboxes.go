package server

import (
	"encoding/json"
	"net/http"

	"github.com/cmux/cmuxd/internal/backend"
	"github.com/cmux/cmuxd/internal/errs"
	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListSandboxes(w http.ResponseWriter, r *http.Request) {
	list, err := s.Backend.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateSandbox(w http.ResponseWriter, r *http.Request) {
	var req backend.CreateRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
			writeError(w, errs.InvalidRequest("decoding request body: %v", err))
			return
		}
	}

	sum, err := s.Backend.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleGetSandbox(w http.ResponseWriter, r *http.Request) {
	id, err := resolveID(r.Context(), s, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	sum, ok := s.Backend.Get(r.Context(), id)
	if !ok {
		writeError(w, errs.NotFound(id))
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleDeleteSandbox(w http.ResponseWriter, r *http.Request) {
	id, err := resolveID(r.Context(), s, chi.URLParam(r, "id"))
	if err != nil {
		// Idempotent: an unresolvable/unknown id still reports success.
		writeJSON(w, http.StatusOK, nil)
		return
	}
	sum, ok, err := s.Backend.Delete(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	id, err := resolveID(r.Context(), s, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req backend.ExecRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.InvalidRequest("decoding exec request: %v", err))
		return
	}

	resp, err := s.Backend.Exec(r.Context(), id, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUploadFiles(w http.ResponseWriter, r *http.Request) {
	id, err := resolveID(r.Context(), s, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Backend.UploadArchive(r.Context(), id, r.Body); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	var req backend.PruneRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	resp, err := s.Backend.PruneOrphaned(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAwait(w http.ResponseWriter, r *http.Request) {
	id, err := resolveID(r.Context(), s, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req backend.AwaitRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	resp, err := s.Backend.AwaitServicesReady(r.Context(), id, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
