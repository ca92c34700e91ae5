package server

import (
	"encoding/json"
	"net/http"

	"github.com/cmux/cmuxd/internal/errs"
)

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errs.StatusCode(err), errorEnvelope{
		Error: errorBody{Kind: string(errs.KindOf(err)), Message: err.Error()},
	})
}
