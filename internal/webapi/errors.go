package webapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/rafaeljc/norns/internal/cache"
	"github.com/rafaeljc/norns/internal/experiment"
	"github.com/rafaeljc/norns/internal/identity"
	"github.com/rafaeljc/norns/internal/logger"
	"github.com/rafaeljc/norns/internal/store"
)

// writeError maps a domain error to its status code and error body.
// Identity failures are checked first because they usually wrap a persistence error.
func writeError(w http.ResponseWriter, r *http.Request, err error, action string) {
	log := logger.FromContext(r.Context())

	status := http.StatusInternalServerError
	resp := ErrorResponse{Code: "ERR_INTERNAL", Message: "Failed to " + action}

	switch {
	case errors.Is(err, experiment.ErrInvalidArgument):
		status = http.StatusBadRequest
		resp = ErrorResponse{Code: "ERR_INVALID_INPUT", Message: err.Error()}
	case errors.Is(err, identity.ErrIdentityResolution):
		status = http.StatusServiceUnavailable
		resp = ErrorResponse{Code: "ERR_IDENTITY", Message: "Failed to resolve visitor identity"}
	case errors.Is(err, store.ErrPersistence):
		status = http.StatusServiceUnavailable
		resp = ErrorResponse{Code: "ERR_PERSISTENCE", Message: "Failed to " + action}
	case errors.Is(err, experiment.ErrTagLookup), errors.Is(err, cache.ErrUnavailable):
		status = http.StatusServiceUnavailable
		resp = ErrorResponse{Code: "ERR_DEPENDENCY", Message: "Failed to " + action}
	}

	if status >= http.StatusInternalServerError {
		log.Error("request failed", slog.String("action", action), slog.String("error", err.Error()))
	} else {
		log.Warn("request rejected", slog.String("action", action), slog.String("error", err.Error()))
	}

	render.Status(r, status)
	render.JSON(w, r, resp)
}

// writeInvalid renders a 400 validation error.
func writeInvalid(w http.ResponseWriter, r *http.Request, resp *ErrorResponse) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, resp)
}

// decodeJSON decodes the request body, rendering a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		logger.FromContext(r.Context()).Warn("invalid json payload", slog.String("error", err.Error()))
		writeInvalid(w, r, &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return false
	}
	return true
}
