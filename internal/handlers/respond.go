package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"imagesearch/internal/services"
)

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrSourceNotFound),
		errors.Is(err, services.ErrNoImagesFound),
		errors.Is(err, services.ErrUnreadableImage),
		errors.Is(err, services.ErrIndexEmpty),
		errors.Is(err, services.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrImageNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrDuplicateFilename):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports expected failures with their message and hides the
// details of unexpected ones, which are logged instead.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err)
		writeDetail(w, status, "internal server error")
		return
	}
	writeDetail(w, status, err.Error())
}
