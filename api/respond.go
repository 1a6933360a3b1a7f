package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jabbala/tenantfair"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, errorResponse{Error: msg})
}

// writeStoreError maps store sentinels onto HTTP statuses.
func (a *API) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tenantfair.ErrDLQNotFound),
		errors.Is(err, tenantfair.ErrRequestNotFound),
		errors.Is(err, tenantfair.ErrReplicaNotFound):
		a.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, tenantfair.ErrAlreadyResolved),
		errors.Is(err, tenantfair.ErrRequestAlreadyExists):
		a.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, tenantfair.ErrCapacityExhausted):
		a.writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		a.logger.Error("internal error", slog.String("error", err.Error()))
		a.writeError(w, http.StatusInternalServerError, "internal error")
	}
}
