package server

import "net/http"

// openAPISchema is served verbatim from GET /openapi.json. It is hand
// maintained rather than generated: the route surface is small and stable
// enough that a generator would add a build step for no real benefit.
var openAPISchema = []byte(`{
  "openapi": "3.0.3",
  "info": { "title": "cmuxd", "version": "1" },
  "paths": {
    "/healthz": { "get": { "responses": { "200": { "description": "ok" } } } },
    "/sandboxes": {
      "get": { "responses": { "200": { "description": "list of sandboxes" } } },
      "post": { "responses": { "200": { "description": "created sandbox" } } }
    },
    "/sandboxes/prune": {
      "post": { "responses": { "200": { "description": "orphans removed" } } }
    },
    "/sandboxes/{id}": {
      "get": { "responses": { "200": { "description": "sandbox summary" } } },
      "delete": { "responses": { "200": { "description": "sandbox removed" } } }
    },
    "/sandboxes/{id}/exec": {
      "post": { "responses": { "200": { "description": "command result" } } }
    },
    "/sandboxes/{id}/files": {
      "post": { "responses": { "200": { "description": "archive extracted" } } }
    },
    "/sandboxes/{id}/await": {
      "post": { "responses": { "200": { "description": "readiness result" } } }
    },
    "/sandboxes/{id}/attach": {
      "get": { "responses": { "101": { "description": "switched to websocket pty" } } }
    },
    "/sandboxes/{id}/proxy": {
      "get": { "responses": { "101": { "description": "switched to websocket tcp tunnel" } } }
    },
    "/mux": {
      "get": { "responses": { "101": { "description": "switched to websocket mux control plane" } } }
    }
  }
}`)

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(openAPISchema)
}
