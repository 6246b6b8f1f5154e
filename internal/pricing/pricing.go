package pricing

import "github.com/shopspring/decimal"

// DefaultTaxRate is used when no rate is configured.
var DefaultTaxRate = decimal.RequireFromString("0.10")

type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

type Totals struct {
	Subtotal    decimal.Decimal
	Tax         decimal.Decimal
	DeliveryFee decimal.Decimal
	Total       decimal.Decimal
}

type Engine struct {
	taxRate decimal.Decimal
}

func NewEngine(taxRate decimal.Decimal) *Engine {
	return &Engine{taxRate: taxRate}
}

func (e *Engine) TaxRate() decimal.Decimal { return e.taxRate }

// Quote prices a set of lines plus a delivery fee. Tax and total are rounded
// to 2 places independently; the subtotal is left exact.
func (e *Engine) Quote(lines []Line, deliveryFee decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	tax := Round2(subtotal.Mul(e.taxRate))
	return Totals{
		Subtotal:    subtotal,
		Tax:         tax,
		DeliveryFee: deliveryFee,
		Total:       Round2(subtotal.Add(tax).Add(deliveryFee)),
	}
}

// Round2 rounds half away from zero, which is half-up for the non-negative
// amounts handled here.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// EffectiveUnitPrice is the discounted price when one is set, else the list price.
func EffectiveUnitPrice(price decimal.Decimal, discounted *decimal.Decimal) decimal.Decimal {
	if discounted != nil && discounted.IsPositive() {
		return *discounted
	}
	return price
}
