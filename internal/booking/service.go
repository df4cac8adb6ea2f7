// Package booking creates bookings atomically and moves them through their
// status lifecycle. All database access goes through the Store handed to
// NewService.
package booking

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/room-reservations-and-orders/internal/domain"
	"github.com/robertarktes/room-reservations-and-orders/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("booking")

type Service struct {
	store       Store
	cache       AvailabilityCache
	logger      observability.Logger
	now         func() time.Time
	maxAttempts int
	backoff     time.Duration
}

type Option func(*Service)

// WithClock replaces time.Now, mostly for tests that pin "today".
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithCache(c AvailabilityCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithRetry sets how many times a transaction is attempted when it loses a
// serialization race, and the base delay between attempts.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(s *Service) {
		if attempts > 0 {
			s.maxAttempts = attempts
		}
		s.backoff = backoff
	}
}

func NewService(store Store, logger observability.Logger, opts ...Option) *Service {
	s := &Service{
		store:       store,
		logger:      logger,
		now:         time.Now,
		maxAttempts: 3,
		backoff:     50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateBooking validates req, checks availability of every line item and
// persists the booking with its items in a single transaction. Nothing is
// written when any item fails; the error describes the first failing item.
func (s *Service) CreateBooking(ctx context.Context, req domain.Request) (domain.Booking, error) {
	ctx, span := tracer.Start(ctx, "booking.CreateBooking")
	defer span.End()

	if req == nil {
		return domain.Booking{}, domain.NewValidationError("kind", "must be stock or dated")
	}
	span.SetAttributes(attribute.String("booking.kind", string(req.Kind())))

	if err := req.Validate(s.now()); err != nil {
		s.fail(span, err)
		return domain.Booking{}, err
	}

	var booking domain.Booking
	err := s.retry(ctx, "create_booking", func() error {
		return s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			b, err := s.book(ctx, tx, req)
			if err != nil {
				return err
			}
			booking = b
			return nil
		})
	})
	if err != nil {
		s.fail(span, err)
		return domain.Booking{}, err
	}

	s.invalidate(ctx, booking.UnitIDs())
	observability.BookingsCreated.WithLabelValues(string(booking.Kind)).Inc()
	span.SetAttributes(attribute.String("booking.id", booking.ID.String()))
	s.logger.WithField("booking_id", booking.ID).
		WithField("kind", booking.Kind).
		WithField("total", booking.TotalAmount.String()).
		Info("booking created")
	return booking, nil
}

func (s *Service) book(ctx context.Context, tx Tx, req domain.Request) (domain.Booking, error) {
	var (
		items   []domain.LineItem
		contact domain.Contact
		notes   string
		err     error
	)
	switch r := req.(type) {
	case domain.StockRequest:
		contact, notes = r.Contact, r.Notes
		items, err = priceOrder(ctx, tx, r)
	case domain.DatedRequest:
		contact, notes = r.Contact, r.Notes
		items, err = priceReservation(ctx, tx, r)
	default:
		return domain.Booking{}, domain.NewValidationError("kind", "must be stock or dated")
	}
	if err != nil {
		return domain.Booking{}, err
	}

	now := s.now().UTC()
	b := domain.NewBooking(req.Kind(), contact, notes, items, now)
	if err := tx.InsertBooking(ctx, b); err != nil {
		return domain.Booking{}, errors.Wrap(err, "insert booking")
	}

	if b.Kind == domain.KindStock {
		for _, it := range b.Items {
			ok, err := tx.DecrementStock(ctx, it.UnitID, it.Quantity)
			if err != nil {
				return domain.Booking{}, errors.Wrapf(err, "decrement stock of %s", it.UnitID)
			}
			if !ok {
				return domain.Booking{}, s.stockShortfall(ctx, tx, it)
			}
		}
	}

	if err := tx.AppendEvent(ctx, domain.NewBookingEvent(b, "", now)); err != nil {
		return domain.Booking{}, errors.Wrap(err, "append booking event")
	}
	return b, nil
}

// stockShortfall reports a conditional decrement that matched no row.
func (s *Service) stockShortfall(ctx context.Context, tx Tx, it domain.LineItem) error {
	available := 0
	if u, err := tx.GetUnit(ctx, it.UnitID); err == nil {
		available = u.Stock
	}
	return &domain.InsufficientStockError{
		UnitID:    it.UnitID.String(),
		UnitName:  it.UnitName,
		Requested: it.Quantity,
		Available: available,
	}
}

// GetBooking loads a booking with its line items. Reading never touches
// updated_at or read_at.
func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	var b domain.Booking
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		b, err = tx.GetBooking(ctx, id)
		return err
	})
	return b, err
}

// MarkRead records that an operator has seen the booking.
func (s *Service) MarkRead(ctx context.Context, id uuid.UUID) error {
	return s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.MarkRead(ctx, id, s.now().UTC())
	})
}

func (s *Service) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		err = fn()
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			return err
		}
		if attempt == s.maxAttempts-1 {
			break
		}
		observability.ConcurrencyRetries.Inc()
		s.logger.WithField("op", op).WithField("attempt", attempt+1).Warn("transaction conflict, retrying")

		backoff := s.backoff * time.Duration(1<<attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}

func (s *Service) invalidate(ctx context.Context, unitIDs []uuid.UUID) {
	if s.cache == nil || len(unitIDs) == 0 {
		return
	}
	if err := s.cache.Invalidate(ctx, unitIDs...); err != nil {
		s.logger.WithError(err).Warn("failed to invalidate availability cache")
	}
}

func (s *Service) fail(span trace.Span, err error) {
	observability.BookingFailures.WithLabelValues(Reason(err)).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Reason names the error kind of err for metrics and API responses.
func Reason(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrUnitUnavailable):
		return "unit_unavailable"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return "concurrency_conflict"
	}
	return "internal"
}
