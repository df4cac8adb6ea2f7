package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind selects how a unit's availability is tracked.
type Kind string

const (
	// KindStock units carry a decrementing stock counter (products).
	KindStock Kind = "stock"
	// KindDated units are booked by night; availability comes from overlap
	// with non-cancelled bookings (rooms).
	KindDated Kind = "dated"
)

func (k Kind) IsValid() bool {
	return k == KindStock || k == KindDated
}

type Unit struct {
	ID          uuid.UUID
	Name        string
	Kind        Kind
	Price       decimal.Decimal
	Stock       int
	MaxCapacity int
	Available   bool
}

type Contact struct {
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone" validate:"required,min=6,max=32,phone"`
}

type Booking struct {
	ID          uuid.UUID
	Kind        Kind
	Contact     Contact
	Stay        *DateRange
	Status      Status
	TotalAmount decimal.Decimal
	Notes       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ReadAt      *time.Time
	Items       []LineItem
}

// LineItem is immutable once written. UnitName and UnitPrice are snapshots
// taken when the booking was created.
type LineItem struct {
	ID        uuid.UUID
	BookingID uuid.UUID
	UnitID    uuid.UUID
	UnitName  string
	UnitPrice decimal.Decimal
	Quantity  int
	Stay      *DateRange
	Guests    int
	Subtotal  decimal.Decimal
	CreatedAt time.Time
}

// Total sums the subtotals of items.
func Total(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal)
	}
	return total
}

// NewBooking assembles a pending booking around already priced items.
func NewBooking(kind Kind, contact Contact, notes string, items []LineItem, now time.Time) Booking {
	b := Booking{
		ID:          uuid.New(),
		Kind:        kind,
		Contact:     contact,
		Status:      StatusPending,
		TotalAmount: Total(items),
		Notes:       notes,
		CreatedAt:   now,
		UpdatedAt:   now,
		Items:       items,
	}
	for i := range b.Items {
		b.Items[i].BookingID = b.ID
		b.Items[i].CreatedAt = now
		if it := b.Items[i]; it.Stay != nil {
			if b.Stay == nil {
				s := *it.Stay
				b.Stay = &s
			} else {
				u := b.Stay.Union(*it.Stay)
				b.Stay = &u
			}
		}
	}
	return b
}
