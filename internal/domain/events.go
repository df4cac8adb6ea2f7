package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BookingEvent is published whenever a booking is created or changes status.
type BookingEvent struct {
	ID          uuid.UUID       `json:"id"`
	BookingID   uuid.UUID       `json:"booking_id"`
	Kind        Kind            `json:"kind"`
	Status      Status          `json:"status"`
	Previous    Status          `json:"previous_status,omitempty"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	UnitIDs     []uuid.UUID     `json:"unit_ids"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// Type is the routing key of the event, "booking.created" for new bookings
// and "booking.<status>" for transitions.
func (e BookingEvent) Type() string {
	if e.Previous == "" {
		return "booking.created"
	}
	return "booking." + string(e.Status)
}

func NewBookingEvent(b Booking, previous Status, at time.Time) BookingEvent {
	return BookingEvent{
		ID:          uuid.New(),
		BookingID:   b.ID,
		Kind:        b.Kind,
		Status:      b.Status,
		Previous:    previous,
		TotalAmount: b.TotalAmount,
		UnitIDs:     b.UnitIDs(),
		OccurredAt:  at,
	}
}

// UnitIDs lists the distinct units referenced by the booking's items.
func (b Booking) UnitIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(b.Items))
	ids := make([]uuid.UUID, 0, len(b.Items))
	for _, it := range b.Items {
		if !seen[it.UnitID] {
			seen[it.UnitID] = true
			ids = append(ids, it.UnitID)
		}
	}
	return ids
}
