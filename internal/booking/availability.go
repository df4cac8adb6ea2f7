package booking

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/room-reservations-and-orders/internal/domain"
)

// lockUnits takes row locks on every distinct unit in ascending id order, so
// that two multi-unit bookings cannot deadlock on each other. Missing units
// are left out of the result and reported later, in request order.
func lockUnits(ctx context.Context, tx Tx, ids []uuid.UUID) (map[uuid.UUID]domain.Unit, error) {
	distinct := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			distinct = append(distinct, id)
		}
	}
	sort.Slice(distinct, func(i, j int) bool {
		return bytes.Compare(distinct[i][:], distinct[j][:]) < 0
	})

	units := make(map[uuid.UUID]domain.Unit, len(distinct))
	for _, id := range distinct {
		u, err := tx.LockUnit(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "lock unit %s", id)
		}
		units[id] = u
	}
	return units, nil
}

func resolveUnit(units map[uuid.UUID]domain.Unit, id uuid.UUID, kind domain.Kind, field string) (domain.Unit, error) {
	u, ok := units[id]
	if !ok {
		return domain.Unit{}, &domain.UnitNotFoundError{UnitID: id.String(), Reason: "no such unit"}
	}
	if !u.Available {
		return domain.Unit{}, &domain.UnitNotFoundError{UnitID: id.String(), Reason: "unit is not available for booking"}
	}
	if u.Kind != kind {
		return domain.Unit{}, domain.NewValidationError(field, fmt.Sprintf("unit %s is booked as %s, not %s", id, u.Kind, kind))
	}
	return u, nil
}

// priceOrder checks stock for every item of a stock request. Quantities of
// earlier items on the same unit count against its stock.
func priceOrder(ctx context.Context, tx Tx, req domain.StockRequest) ([]domain.LineItem, error) {
	ids := make([]uuid.UUID, len(req.Items))
	for i, it := range req.Items {
		ids[i] = it.UnitID
	}
	units, err := lockUnits(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	claimed := make(map[uuid.UUID]int)
	items := make([]domain.LineItem, 0, len(req.Items))
	for i, it := range req.Items {
		unit, err := resolveUnit(units, it.UnitID, domain.KindStock, fmt.Sprintf("items[%d].unit_id", i))
		if err != nil {
			return nil, err
		}
		if err := checkStock(unit, claimed[unit.ID], it.Quantity); err != nil {
			return nil, err
		}
		claimed[unit.ID] += it.Quantity
		items = append(items, domain.NewOrderItem(unit, it.Quantity))
	}
	return items, nil
}

func checkStock(unit domain.Unit, claimed, qty int) error {
	left := unit.Stock - claimed
	if left < qty {
		if left < 0 {
			left = 0
		}
		return &domain.InsufficientStockError{
			UnitID:    unit.ID.String(),
			UnitName:  unit.Name,
			Requested: qty,
			Available: left,
		}
	}
	return nil
}

// priceReservation checks every room of a dated request against persisted
// bookings and against the earlier rooms of the same request.
func priceReservation(ctx context.Context, tx Tx, req domain.DatedRequest) ([]domain.LineItem, error) {
	ids := make([]uuid.UUID, len(req.Items))
	for i, it := range req.Items {
		ids[i] = it.UnitID
	}
	units, err := lockUnits(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	items := make([]domain.LineItem, 0, len(req.Items))
	for i, it := range req.Items {
		unit, err := resolveUnit(units, it.UnitID, domain.KindDated, fmt.Sprintf("items[%d].unit_id", i))
		if err != nil {
			return nil, err
		}
		stay, ok := req.StayFor(i)
		if !ok {
			return nil, domain.NewValidationError(fmt.Sprintf("items[%d].check_in", i), "is required")
		}
		if unit.MaxCapacity > 0 && it.Guests > unit.MaxCapacity {
			return nil, domain.NewValidationError(fmt.Sprintf("items[%d].guests", i),
				fmt.Sprintf("exceeds capacity of %d", unit.MaxCapacity))
		}
		if err := checkStay(ctx, tx, unit, stay, items); err != nil {
			return nil, err
		}
		items = append(items, domain.NewReservationItem(unit, stay, it.Guests))
	}
	return items, nil
}

func checkStay(ctx context.Context, tx Tx, unit domain.Unit, stay domain.DateRange, pending []domain.LineItem) error {
	unavailable := &domain.UnitUnavailableError{UnitID: unit.ID.String(), UnitName: unit.Name, Stay: stay}
	for _, prev := range pending {
		if prev.UnitID == unit.ID && prev.Stay != nil && prev.Stay.Overlaps(stay) {
			return unavailable
		}
	}
	n, err := tx.CountOverlapping(ctx, unit.ID, stay)
	if err != nil {
		return errors.Wrapf(err, "check overlap for unit %s", unit.ID)
	}
	if n > 0 {
		return unavailable
	}
	return nil
}

// AvailabilityQuery asks either for a stock quantity or for a stay.
type AvailabilityQuery struct {
	Quantity int
	Stay     *domain.DateRange
}

func (q AvailabilityQuery) key() string {
	if q.Stay != nil {
		return "stay:" + q.Stay.String()
	}
	return fmt.Sprintf("qty:%d", q.Quantity)
}

func (q AvailabilityQuery) validate() error {
	verr := &domain.ValidationError{}
	switch {
	case q.Stay != nil:
		if !q.Stay.CheckOut.After(q.Stay.CheckIn) {
			verr.Fields = append(verr.Fields, domain.FieldError{Field: "check_out", Message: "must be after check_in"})
		} else if q.Stay.Nights() > domain.MaxNights {
			verr.Fields = append(verr.Fields, domain.FieldError{Field: "check_out", Message: fmt.Sprintf("stay cannot exceed %d nights", domain.MaxNights)})
		}
	case q.Quantity < 1:
		verr.Fields = append(verr.Fields, domain.FieldError{Field: "quantity", Message: "must be at least 1"})
	}
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

// CheckAvailability answers whether unitID could satisfy q right now. The
// answer is advisory: CreateBooking checks again under lock.
func (s *Service) CheckAvailability(ctx context.Context, unitID uuid.UUID, q AvailabilityQuery) (bool, error) {
	ctx, span := tracer.Start(ctx, "booking.CheckAvailability")
	defer span.End()

	if err := q.validate(); err != nil {
		return false, err
	}

	var gen int64
	if s.cache != nil {
		g, available, found, err := s.cache.Lookup(ctx, unitID, q.key())
		if err != nil {
			s.logger.WithError(err).Warn("availability cache lookup failed")
		} else {
			if found {
				return available, nil
			}
			gen = g
		}
	}

	var available bool
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		unit, err := tx.GetUnit(ctx, unitID)
		if err != nil {
			return err
		}
		if !unit.Available {
			available = false
			return nil
		}
		if q.Stay != nil {
			if unit.Kind != domain.KindDated {
				return domain.NewValidationError("check_in", "unit is not booked by date")
			}
			n, err := tx.CountOverlapping(ctx, unitID, *q.Stay)
			if err != nil {
				return err
			}
			available = n == 0
			return nil
		}
		if unit.Kind != domain.KindStock {
			return domain.NewValidationError("quantity", "unit is not booked by quantity")
		}
		available = unit.Stock >= q.Quantity
		return nil
	})
	if err != nil {
		return false, err
	}

	if s.cache != nil {
		if err := s.cache.Store(ctx, unitID, gen, q.key(), available); err != nil {
			s.logger.WithError(err).Warn("availability cache store failed")
		}
	}
	return available, nil
}
