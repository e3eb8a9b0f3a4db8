package http

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/stay-reservations/internal/domain"
	"github.com/robertarktes/stay-reservations/internal/observability"
)

// statusFor is the only place domain error kinds become HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrGateway):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, logger observability.Logger, err error) {
	status := statusFor(err)
	msg := err.Error()
	log := observability.LoggerFrom(r.Context(), logger).WithError(err)
	switch {
	case status == http.StatusInternalServerError:
		log.Error("request failed")
		msg = "internal error"
	case status == http.StatusBadGateway:
		log.Warn("payment gateway failed")
		msg = "payment provider unavailable"
	default:
		log.Debug("request rejected")
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
