package pricing

import (
	"github.com/shopspring/decimal"

	"apotekpos/backend/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Engine computes cart totals. It is pure and side-effect-free: the
// caller re-runs Quote on every cart mutation and always gets the same
// result for the same inputs.
type Engine struct {
	taxRatePercent decimal.Decimal
}

// NewEngine configures the single canonical pricing formula. The tax
// rate applies to the discounted base and defaults to 0 when the
// deployment does not collect tax at the counter.
func NewEngine(taxRatePercent float64) *Engine {
	if taxRatePercent < 0 {
		taxRatePercent = 0
	}
	return &Engine{taxRatePercent: decimal.NewFromFloat(taxRatePercent)}
}

type Quote struct {
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	Tax            decimal.Decimal
	NetTotal       decimal.Decimal
	Balance        decimal.Decimal
}

// ClampDiscountRate forces a discount rate into [0,100]. Out-of-range
// input is clamped, never rejected.
func ClampDiscountRate(rate float64) float64 {
	if rate < 0 {
		return 0
	}
	if rate > 100 {
		return 100
	}
	return rate
}

// Quote prices the cart: subtotal over frozen line prices, discount on
// the subtotal, tax on the discounted base, net = subtotal - discount
// + tax. Balance is change due and exists only for cash payments;
// non-cash methods settle exactly. All results carry 2 decimal places.
func (e *Engine) Quote(lines []domain.CartLine, discountRatePercent float64, paymentMethod string, tendered decimal.Decimal) Quote {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Qty))))
	}
	subtotal = subtotal.Round(2)

	rate := decimal.NewFromFloat(ClampDiscountRate(discountRatePercent))
	discount := subtotal.Mul(rate).Div(hundred).Round(2)

	base := subtotal.Sub(discount)
	tax := base.Mul(e.taxRatePercent).Div(hundred).Round(2)
	net := base.Add(tax).Round(2)

	balance := decimal.Zero
	if paymentMethod == domain.PaymentCash {
		balance = tendered.Sub(net).Round(2)
		if balance.IsNegative() {
			balance = decimal.Zero
		}
	}

	return Quote{
		Subtotal:       subtotal,
		DiscountAmount: discount,
		Tax:            tax,
		NetTotal:       net,
		Balance:        balance,
	}
}
