package ratecard

import (
	"time"

	"github.com/shopspring/decimal"
)

// Method records how a surcharge percentage was obtained.
type Method string

const (
	MethodFixed           Method = "fixed"
	MethodVariable        Method = "variable"
	MethodFallbackZero    Method = "fallback_zero"
	MethodFallbackNearest Method = "fallback_nearest"
)

// Slab is an immutable fuel price bracket [PriceMin, PriceMax) mapped to a
// surcharge. Exactly one of SurchargePercent and ChangePerUnit must be set.
type Slab struct {
	ID                 int64
	EffectiveDate      time.Time `validate:"required"`
	PriceMin           decimal.Decimal
	PriceMax           decimal.Decimal
	SurchargePercent   decimal.NullDecimal
	BasePrice          decimal.Decimal
	ChangePerUnit      decimal.NullDecimal
	Currency           string `validate:"required,len=3,uppercase"`
	Region             string `validate:"required,max=100"`
	MinSurchargeAmount decimal.NullDecimal
	MaxSurchargeAmount decimal.NullDecimal
	Notes              string `validate:"max=500"`
}

// Variable reports whether the slab computes its percentage from the fuel price.
func (s Slab) Variable() bool {
	return !s.SurchargePercent.Valid
}

// Contains reports whether price falls inside the half-open bracket.
func (s Slab) Contains(price decimal.Decimal) bool {
	return price.GreaterThanOrEqual(s.PriceMin) && price.LessThan(s.PriceMax)
}

// Percent returns the surcharge percentage the slab yields for price.
// Variable slabs compute (price - base) * change_per_unit, floored at zero.
func (s Slab) Percent(price decimal.Decimal) (decimal.Decimal, Method) {
	if s.SurchargePercent.Valid {
		return s.SurchargePercent.Decimal, MethodFixed
	}
	pct := price.Sub(s.BasePrice).Mul(s.ChangePerUnit.Decimal)
	if pct.IsNegative() {
		pct = decimal.Zero
	}
	return pct, MethodVariable
}

// Clamp bounds a surcharge amount by the slab's optional minimum and maximum.
func (s Slab) Clamp(amount decimal.Decimal) decimal.Decimal {
	if s.MinSurchargeAmount.Valid && amount.LessThan(s.MinSurchargeAmount.Decimal) {
		amount = s.MinSurchargeAmount.Decimal
	}
	if s.MaxSurchargeAmount.Valid && amount.GreaterThan(s.MaxSurchargeAmount.Decimal) {
		amount = s.MaxSurchargeAmount.Decimal
	}
	return amount
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
