package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mongoadapter "github.com/robertarktes/room-reservations-and-orders/internal/adapters/mongo"
	"github.com/robertarktes/room-reservations-and-orders/internal/booking"
	"github.com/robertarktes/room-reservations-and-orders/internal/domain"
	"github.com/robertarktes/room-reservations-and-orders/internal/observability"
)

// BookingService is the part of booking.Service the handlers call.
type BookingService interface {
	CreateBooking(ctx context.Context, req domain.Request) (domain.Booking, error)
	GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, to domain.Status) (domain.Booking, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
	CheckAvailability(ctx context.Context, unitID uuid.UUID, q booking.AvailabilityQuery) (bool, error)
}

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	svc    BookingService
	db     Pinger
	logger observability.Logger
	now    func() time.Time
}

func NewHandlers(svc BookingService, db Pinger, logger observability.Logger) *Handlers {
	return &Handlers{svc: svc, db: db, logger: logger, now: time.Now}
}

func (h *Handlers) log(r *http.Request) observability.Logger {
	return RequestLogger(r.Context(), h.logger)
}

func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var body createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "body", "must be a JSON object: "+err.Error())
		return
	}

	req, parseErrs := body.toDomain()
	if len(parseErrs) > 0 {
		fields := parseErrs
		if req != nil {
			if err := req.Validate(h.now()); err != nil {
				var verr *domain.ValidationError
				if errors.As(err, &verr) {
					fields = mergeFields(fields, verr.Fields)
				}
			}
		}
		writeError(w, h.log(r), &domain.ValidationError{Fields: fields})
		return
	}

	b, err := h.svc.CreateBooking(r.Context(), req)
	if err != nil {
		writeError(w, h.log(r), err)
		return
	}
	w.Header().Set("Location", "/v1/bookings/"+b.ID.String())
	writeJSON(w, http.StatusCreated, newBookingResponse(b))
}

func bookingID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "id", "must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	b, err := h.svc.GetBooking(r.Context(), id)
	if err != nil {
		writeError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, newBookingResponse(b))
}

func (h *Handlers) TransitionStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	var body statusRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "body", "must be a JSON object: "+err.Error())
		return
	}
	if body.Status == "" {
		badRequest(w, "status", "is required")
		return
	}

	b, err := h.svc.TransitionStatus(r.Context(), id, domain.Status(body.Status))
	if err != nil {
		writeError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, newBookingResponse(b))
}

func (h *Handlers) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	if err := h.svc.MarkRead(r.Context(), id); err != nil {
		writeError(w, h.log(r), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	unitID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "id", "must be a UUID")
		return
	}

	var q booking.AvailabilityQuery
	query := r.URL.Query()
	if in, out := query.Get("check_in"), query.Get("check_out"); in != "" || out != "" {
		stay, err := domain.ParseDateRange(in, out)
		if err != nil {
			writeError(w, h.log(r), err)
			return
		}
		q.Stay = &stay
	} else {
		n, err := strconv.Atoi(query.Get("quantity"))
		if err != nil {
			badRequest(w, "quantity", "must be an integer, or pass check_in and check_out")
			return
		}
		q.Quantity = n
	}

	available, err := h.svc.CheckAvailability(r.Context(), unitID, q)
	if err != nil {
		writeError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"available": available})
}

// AuditHistory reads the recorded events of a booking.
type AuditHistory interface {
	History(ctx context.Context, bookingID string) ([]mongoadapter.AuditLog, error)
}

// BookingHistory lists the audit trail of a booking, oldest first. An empty
// trail is not an error: events reach the audit log asynchronously.
func (h *Handlers) BookingHistory(history AuditHistory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := bookingID(w, r)
		if !ok {
			return
		}
		logs, err := history.History(r.Context(), id.String())
		if err != nil {
			writeError(w, h.log(r), errors.Wrap(err, "read audit history"))
			return
		}
		out := make([]historyEntry, len(logs))
		for i, l := range logs {
			out[i] = newHistoryEntry(l)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.Ping(ctx); err != nil {
		h.log(r).WithError(err).Warn("database not ready")
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
