package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NewOrderItem prices a stock line item at the unit's current price.
func NewOrderItem(unit Unit, quantity int) LineItem {
	return LineItem{
		ID:        uuid.New(),
		UnitID:    unit.ID,
		UnitName:  unit.Name,
		UnitPrice: unit.Price,
		Quantity:  quantity,
		Subtotal:  unit.Price.Mul(decimal.NewFromInt(int64(quantity))),
	}
}
