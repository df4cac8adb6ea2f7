package booking

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/room-reservations-and-orders/internal/domain"
	"github.com/robertarktes/room-reservations-and-orders/internal/observability"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// TransitionStatus moves a booking to status to. Cancelling a stock booking
// puts every item's quantity back on its unit within the same transaction.
// Illegal moves fail with *domain.InvalidTransitionError and change nothing.
func (s *Service) TransitionStatus(ctx context.Context, id uuid.UUID, to domain.Status) (domain.Booking, error) {
	ctx, span := tracer.Start(ctx, "booking.TransitionStatus")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", id.String()), attribute.String("booking.to", string(to)))

	var (
		booking domain.Booking
		from    domain.Status
	)
	err := s.retry(ctx, "transition_status", func() error {
		return s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			b, err := tx.LockBooking(ctx, id)
			if err != nil {
				return err
			}
			if err := b.Status.CheckTransition(to); err != nil {
				return err
			}

			if to == domain.StatusCancelled && b.Kind == domain.KindStock {
				for _, it := range b.Items {
					if err := tx.RestoreStock(ctx, it.UnitID, it.Quantity); err != nil {
						return errors.Wrapf(err, "restore stock of %s", it.UnitID)
					}
				}
			}

			now := s.now().UTC()
			if err := tx.UpdateStatus(ctx, id, to, now); err != nil {
				return errors.Wrap(err, "update status")
			}
			from = b.Status
			b.Status = to
			b.UpdatedAt = now
			if err := tx.AppendEvent(ctx, domain.NewBookingEvent(b, from, now)); err != nil {
				return errors.Wrap(err, "append booking event")
			}
			booking = b
			return nil
		})
	})
	if err != nil {
		s.fail(span, err)
		return domain.Booking{}, err
	}

	if to == domain.StatusCancelled {
		s.invalidate(ctx, booking.UnitIDs())
	}
	observability.StatusTransitions.WithLabelValues(string(from), string(to)).Inc()
	s.logger.WithField("booking_id", id).WithField("from", from).WithField("to", to).Info("booking status changed")
	return booking, nil
}

// CompleteFinishedStays completes confirmed reservations whose check-out day
// has arrived. It returns how many bookings were completed; bookings that
// moved on concurrently are skipped.
func (s *Service) CompleteFinishedStays(ctx context.Context, limit, workers int) (int, error) {
	var due []uuid.UUID
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		due, err = tx.DueForCompletion(ctx, domain.Day(s.now()), limit)
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, "list bookings due for completion")
	}

	if workers < 1 {
		workers = 1
	}
	completed := make([]bool, len(due))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, id := range due {
		g.Go(func() error {
			_, err := s.TransitionStatus(gctx, id, domain.StatusCompleted)
			switch {
			case err == nil:
				completed[i] = true
			case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrNotFound):
				s.logger.WithField("booking_id", id).WithError(err).Debug("skipping booking")
			default:
				return errors.Wrapf(err, "complete booking %s", id)
			}
			return nil
		})
	}
	err = g.Wait()

	n := 0
	for _, ok := range completed {
		if ok {
			n++
		}
	}
	return n, err
}
