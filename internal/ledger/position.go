package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// applyDelta merges a signed fill delta into a position and returns the
// updated position plus the realized PnL and the allocated-capital change.
// Same-side adds re-weight the average price; opposite-side reduces realize
// PnL against the average; crossing through zero re-opens on the other side
// at the fill price.
func applyDelta(pos Position, delta, price decimal.Decimal, at time.Time) (Position, decimal.Decimal, decimal.Decimal) {
	realized := decimal.Zero
	allocDelta := decimal.Zero

	if pos.Quantity.IsZero() {
		pos.OpenedAt = at
	}

	sameSide := pos.Quantity.IsZero() || pos.Quantity.Sign() == delta.Sign()
	if sameSide {
		newQty := pos.Quantity.Add(delta)
		oldNotional := pos.Quantity.Abs().Mul(pos.AveragePrice)
		addNotional := delta.Abs().Mul(price)
		if !newQty.IsZero() {
			pos.AveragePrice = oldNotional.Add(addNotional).Div(newQty.Abs())
		}
		pos.Quantity = newQty
		allocDelta = addNotional
	} else {
		closeQty := decimal.Min(delta.Abs(), pos.Quantity.Abs())
		direction := decimal.NewFromInt(int64(pos.Quantity.Sign()))
		realized = price.Sub(pos.AveragePrice).Mul(closeQty).Mul(direction)
		allocDelta = pos.AveragePrice.Mul(closeQty).Neg()
		pos.Quantity = pos.Quantity.Add(direction.Mul(closeQty).Neg())

		remainder := delta.Abs().Sub(closeQty)
		if remainder.IsPositive() {
			// Crossed zero: the remainder opens a fresh position.
			pos.Quantity = remainder.Mul(decimal.NewFromInt(int64(delta.Sign())))
			pos.AveragePrice = price
			pos.OpenedAt = at
			allocDelta = allocDelta.Add(remainder.Mul(price))
		}
	}

	pos.LastUpdatedAt = at
	if pos.Quantity.IsZero() {
		pos.AveragePrice = decimal.Zero
		pos.UnrealizedPnL = decimal.Zero
	}
	return pos, realized, allocDelta
}

// markPosition refreshes unrealized PnL against the latest traded price.
func markPosition(pos Position, price decimal.Decimal) Position {
	if pos.Quantity.IsZero() || price.IsZero() {
		return pos
	}
	pos.UnrealizedPnL = price.Sub(pos.AveragePrice).Mul(pos.Quantity)
	return pos
}
