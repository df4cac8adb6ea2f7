package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/room-reservations-and-orders/internal/domain"
)

// Store opens transactions. Implementations must run fn at SERIALIZABLE
// isolation (or hold equivalent locks), roll back when fn fails and report
// serialization failures or deadlocks as domain.ErrConcurrencyConflict.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of statements the booking core issues inside one
// transaction.
type Tx interface {
	// LockUnit reads the unit row and holds a write lock on it until the
	// transaction ends. Missing units return domain.ErrNotFound.
	LockUnit(ctx context.Context, id uuid.UUID) (domain.Unit, error)
	GetUnit(ctx context.Context, id uuid.UUID) (domain.Unit, error)

	// CountOverlapping counts line items of non-cancelled bookings on unit
	// whose stay overlaps stay.
	CountOverlapping(ctx context.Context, unitID uuid.UUID, stay domain.DateRange) (int, error)

	// DecrementStock lowers stock by qty only if at least qty is left.
	DecrementStock(ctx context.Context, unitID uuid.UUID, qty int) (bool, error)
	RestoreStock(ctx context.Context, unitID uuid.UUID, qty int) error

	InsertBooking(ctx context.Context, b domain.Booking) error
	GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	LockBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.Status, at time.Time) error
	MarkRead(ctx context.Context, id uuid.UUID, at time.Time) error

	// DueForCompletion lists confirmed dated bookings whose check-out is on
	// or before day.
	DueForCompletion(ctx context.Context, day time.Time, limit int) ([]uuid.UUID, error)

	AppendEvent(ctx context.Context, ev domain.BookingEvent) error
}

// AvailabilityCache memoizes CheckAvailability answers. Generation numbers
// let writers invalidate every cached answer for a unit at once.
type AvailabilityCache interface {
	Lookup(ctx context.Context, unitID uuid.UUID, key string) (gen int64, available bool, found bool, err error)
	Store(ctx context.Context, unitID uuid.UUID, gen int64, key string, available bool) error
	Invalidate(ctx context.Context, unitIDs ...uuid.UUID) error
}
