package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NewReservationItem prices a room for every night of stay.
func NewReservationItem(unit Unit, stay DateRange, guests int) LineItem {
	nights := stay.Nights()
	s := stay
	return LineItem{
		ID:        uuid.New(),
		UnitID:    unit.ID,
		UnitName:  unit.Name,
		UnitPrice: unit.Price,
		Quantity:  nights,
		Stay:      &s,
		Guests:    guests,
		Subtotal:  unit.Price.Mul(decimal.NewFromInt(int64(nights))),
	}
}
