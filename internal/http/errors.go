package http

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/room-reservations-and-orders/internal/booking"
	"github.com/robertarktes/room-reservations-and-orders/internal/domain"
	"github.com/robertarktes/room-reservations-and-orders/internal/idempotency"
	"github.com/robertarktes/room-reservations-and-orders/internal/observability"
)

type errorResponse struct {
	ErrorKind string              `json:"error_kind"`
	Message   string              `json:"message"`
	Fields    []domain.FieldError `json:"fields,omitempty"`
	Retryable bool                `json:"retryable,omitempty"`
	UnitID    string              `json:"unit_id,omitempty"`
	Available *int                `json:"available,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status code and the common error body. Internal
// errors are logged and reported without detail.
func writeError(w http.ResponseWriter, logger observability.Logger, err error) {
	resp := errorResponse{ErrorKind: booking.Reason(err), Message: err.Error()}
	status := http.StatusInternalServerError

	var (
		verr  *domain.ValidationError
		stock *domain.InsufficientStockError
		unav  *domain.UnitUnavailableError
		nf    *domain.UnitNotFoundError
	)
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		resp.Message = "request validation failed"
		resp.Fields = verr.Fields
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		if errors.As(err, &nf) {
			resp.UnitID = nf.UnitID
		} else {
			resp.Message = "booking not found"
		}
	case errors.As(err, &stock):
		status = http.StatusConflict
		resp.UnitID = stock.UnitID
		resp.Available = &stock.Available
	case errors.As(err, &unav):
		status = http.StatusConflict
		resp.UnitID = unav.UnitID
	case errors.Is(err, domain.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrConcurrencyConflict):
		status = http.StatusConflict
		resp.Message = "the booking conflicted with a concurrent change, retry the request"
		resp.Retryable = true
	case errors.Is(err, idempotency.ErrInFlight):
		status = http.StatusConflict
		resp.ErrorKind = "idempotency_in_flight"
		resp.Retryable = true
	default:
		logger.WithError(err).Error("request failed")
		resp.Message = "internal error"
	}
	writeJSON(w, status, resp)
}

func badRequest(w http.ResponseWriter, field, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{
		ErrorKind: "validation",
		Message:   "request validation failed",
		Fields:    []domain.FieldError{{Field: field, Message: msg}},
	})
}
