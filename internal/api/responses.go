package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fitloop/syncd/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the domain error taxonomy onto HTTP status codes by
// dispatching on sentinel errors.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
		codeStr = "NOT_FOUND"
	case errors.Is(err, domain.ErrSyncInProgress):
		code = http.StatusConflict
		codeStr = "SYNC_IN_PROGRESS"
	case errors.Is(err, domain.ErrNetworkUnavailable):
		code = http.StatusServiceUnavailable
		codeStr = "NETWORK_UNAVAILABLE"
	case errors.Is(err, domain.ErrPrecondition):
		code = http.StatusBadRequest
		codeStr = "INVALID_ARGUMENT"
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: err.Error()}})
}
