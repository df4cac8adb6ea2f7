package http

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	mongoadapter "github.com/robertarktes/room-reservations-and-orders/internal/adapters/mongo"
	"github.com/robertarktes/room-reservations-and-orders/internal/domain"
	"github.com/shopspring/decimal"
)

type createBookingRequest struct {
	Kind     string         `json:"kind"`
	Contact  domain.Contact `json:"contact"`
	Notes    string         `json:"notes"`
	CheckIn  string         `json:"check_in"`
	CheckOut string         `json:"check_out"`
	Items    []itemRequest  `json:"items"`
}

type itemRequest struct {
	UnitID   string `json:"unit_id"`
	Quantity int    `json:"quantity"`
	CheckIn  string `json:"check_in"`
	CheckOut string `json:"check_out"`
	Guests   int    `json:"guests"`
}

// toDomain converts the wire request into its kind's variant. Fields that
// cannot even be parsed are returned as field errors next to the partially
// filled request, so that they can be merged with the variant's own rules.
func (r createBookingRequest) toDomain() (domain.Request, []domain.FieldError) {
	var errs []domain.FieldError

	switch domain.Kind(r.Kind) {
	case domain.KindStock:
		req := domain.StockRequest{Contact: r.Contact, Notes: r.Notes, Items: make([]domain.StockItem, len(r.Items))}
		for i, it := range r.Items {
			id, err := parseUnitID(fmt.Sprintf("items[%d].unit_id", i), it.UnitID)
			if err != nil {
				errs = append(errs, *err)
			}
			req.Items[i] = domain.StockItem{UnitID: id, Quantity: it.Quantity}
		}
		return req, errs

	case domain.KindDated:
		req := domain.DatedRequest{Contact: r.Contact, Notes: r.Notes, Items: make([]domain.DatedItem, len(r.Items))}
		stay, stayErrs := parseStay("", r.CheckIn, r.CheckOut)
		req.Stay = stay
		errs = append(errs, stayErrs...)
		for i, it := range r.Items {
			prefix := fmt.Sprintf("items[%d].", i)
			id, err := parseUnitID(prefix+"unit_id", it.UnitID)
			if err != nil {
				errs = append(errs, *err)
			}
			itemStay, stayErrs := parseStay(prefix, it.CheckIn, it.CheckOut)
			errs = append(errs, stayErrs...)
			req.Items[i] = domain.DatedItem{UnitID: id, Stay: itemStay, Guests: it.Guests}
		}
		return req, errs
	}
	return nil, []domain.FieldError{{Field: "kind", Message: `must be "stock" or "dated"`}}
}

func parseUnitID(field, raw string) (uuid.UUID, *domain.FieldError) {
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, &domain.FieldError{Field: field, Message: "must be a UUID"}
	}
	return id, nil
}

// parseStay returns nil when both dates are absent.
func parseStay(prefix, checkIn, checkOut string) (*domain.DateRange, []domain.FieldError) {
	if checkIn == "" && checkOut == "" {
		return nil, nil
	}
	var (
		r    domain.DateRange
		errs []domain.FieldError
	)
	for _, f := range []struct {
		name string
		raw  string
		dst  *time.Time
	}{
		{"check_in", checkIn, &r.CheckIn},
		{"check_out", checkOut, &r.CheckOut},
	} {
		if f.raw == "" {
			continue
		}
		t, err := time.Parse(domain.DateLayout, f.raw)
		if err != nil {
			errs = append(errs, domain.FieldError{Field: prefix + f.name, Message: "must be a date in YYYY-MM-DD form"})
			continue
		}
		*f.dst = domain.Day(t)
	}
	return &r, errs
}

// mergeFields appends the fields of more that are not already reported.
func mergeFields(fields []domain.FieldError, more []domain.FieldError) []domain.FieldError {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		seen[f.Field] = true
	}
	for _, f := range more {
		if !seen[f.Field] {
			seen[f.Field] = true
			fields = append(fields, f)
		}
	}
	return fields
}

type statusRequest struct {
	Status string `json:"status"`
}

type bookingResponse struct {
	ID          uuid.UUID       `json:"id"`
	Kind        domain.Kind     `json:"kind"`
	Status      domain.Status   `json:"status"`
	Contact     domain.Contact  `json:"contact"`
	CheckIn     string          `json:"check_in,omitempty"`
	CheckOut    string          `json:"check_out,omitempty"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Notes       string          `json:"notes,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	ReadAt      *time.Time      `json:"read_at,omitempty"`
	Items       []itemResponse  `json:"items"`
}

type itemResponse struct {
	ID        uuid.UUID       `json:"id"`
	UnitID    uuid.UUID       `json:"unit_id"`
	UnitName  string          `json:"unit_name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	CheckIn   string          `json:"check_in,omitempty"`
	CheckOut  string          `json:"check_out,omitempty"`
	Guests    int             `json:"guests,omitempty"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

func stayStrings(s *domain.DateRange) (string, string) {
	if s == nil {
		return "", ""
	}
	return s.CheckIn.Format(domain.DateLayout), s.CheckOut.Format(domain.DateLayout)
}

func newBookingResponse(b domain.Booking) bookingResponse {
	resp := bookingResponse{
		ID:          b.ID,
		Kind:        b.Kind,
		Status:      b.Status,
		Contact:     b.Contact,
		TotalAmount: b.TotalAmount,
		Notes:       b.Notes,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
		ReadAt:      b.ReadAt,
		Items:       make([]itemResponse, len(b.Items)),
	}
	resp.CheckIn, resp.CheckOut = stayStrings(b.Stay)
	for i, it := range b.Items {
		item := itemResponse{
			ID:        it.ID,
			UnitID:    it.UnitID,
			UnitName:  it.UnitName,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
			Guests:    it.Guests,
			Subtotal:  it.Subtotal,
		}
		item.CheckIn, item.CheckOut = stayStrings(it.Stay)
		resp.Items[i] = item
	}
	return resp
}

type historyEntry struct {
	EventID     string    `json:"event_id"`
	Action      string    `json:"action"`
	Status      string    `json:"status"`
	Previous    string    `json:"previous_status,omitempty"`
	TotalAmount string    `json:"total_amount"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func newHistoryEntry(l mongoadapter.AuditLog) historyEntry {
	return historyEntry{
		EventID:     l.ID,
		Action:      l.Action,
		Status:      l.Status,
		Previous:    l.Previous,
		TotalAmount: l.TotalAmount,
		OccurredAt:  l.OccurredAt,
	}
}
