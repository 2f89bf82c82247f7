package accessorial

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// RateType is how an accessorial is charged.
type RateType string

const (
	RateFlatFee    RateType = "flat_fee"
	RatePerHour    RateType = "per_hour"
	RatePerKM      RateType = "per_km"
	RatePerAttempt RateType = "per_attempt"
	RatePerPallet  RateType = "per_pallet"
	RatePerMT      RateType = "per_mt"
	RatePerStop    RateType = "per_stop"
)

// AppliesTo is the leg of the shipment an accessorial belongs to.
type AppliesTo string

const (
	AppliesPickup    AppliesTo = "pickup"
	AppliesDelivery  AppliesTo = "delivery"
	AppliesInTransit AppliesTo = "in_transit"
	AppliesGeneral   AppliesTo = "general"
)

var (
	ErrUnknownAccessorial   = errors.New("unknown accessorial")
	ErrAccessorialInactive  = errors.New("accessorial not in effect")
	ErrEquipmentNotEligible = errors.New("accessorial not applicable to equipment")
	ErrRateNotEditable      = errors.New("accessorial rate is not carrier editable")
	ErrInvalidDefinition    = errors.New("invalid accessorial definition")
	ErrInvalidUsage         = errors.New("invalid accessorial usage")
)

var validate = validator.New()

// Definition is a catalogued accessorial charge.
type Definition struct {
	Code            string    `validate:"required,max=50"`
	Name            string    `validate:"required,max=255"`
	AppliesTo       AppliesTo `validate:"required,oneof=pickup delivery in_transit general"`
	RateType        RateType  `validate:"required,oneof=flat_fee per_hour per_km per_attempt per_pallet per_mt per_stop"`
	RateValue       decimal.Decimal
	Unit            string
	Taxable         bool
	IncludedInBase  bool
	EquipmentTypes  []string
	CarrierEditable bool
	Active          bool
	EffectiveFrom   time.Time `validate:"required"`
	EffectiveTo     *time.Time
	Remarks         string
}

// InEffect reports whether the definition applies on the given date.
func (d Definition) InEffect(asOf time.Time) bool {
	if !d.Active {
		return false
	}
	day := dateOnly(asOf)
	if day.Before(dateOnly(d.EffectiveFrom)) {
		return false
	}
	if d.EffectiveTo != nil && day.After(dateOnly(*d.EffectiveTo)) {
		return false
	}
	return true
}

// AllowsEquipment reports whether the accessorial can be charged for equipment.
// An empty equipment list means every equipment type.
func (d Definition) AllowsEquipment(equipment string) bool {
	if len(d.EquipmentTypes) == 0 || equipment == "" {
		return true
	}
	for _, e := range d.EquipmentTypes {
		if e == equipment {
			return true
		}
	}
	return false
}

// Usage is one accessorial incurred on a shipment.
type Usage struct {
	Code     string
	Quantity decimal.Decimal
	// Rate overrides the catalogued rate; only allowed for carrier editable definitions.
	Rate decimal.NullDecimal
}

// Charge is a priced accessorial.
type Charge struct {
	Code           string
	Name           string
	RateType       RateType
	Quantity       decimal.Decimal
	Rate           decimal.Decimal
	Amount         decimal.Decimal
	Taxable        bool
	IncludedInBase bool
}

// Book is an immutable, code-indexed accessorial catalog.
type Book struct {
	defs map[string]Definition
}

// NewBook validates definitions and indexes them by code.
func NewBook(defs []Definition) (*Book, error) {
	index := make(map[string]Definition, len(defs))
	for _, def := range defs {
		if err := validate.Struct(def); err != nil {
			return nil, fmt.Errorf("%w %q: %w", ErrInvalidDefinition, def.Code, err)
		}
		if def.RateValue.IsNegative() {
			return nil, fmt.Errorf("%w %q: rate_value cannot be negative", ErrInvalidDefinition, def.Code)
		}
		if _, dup := index[def.Code]; dup {
			return nil, fmt.Errorf("%w %q: duplicate code", ErrInvalidDefinition, def.Code)
		}
		index[def.Code] = def
	}
	return &Book{defs: index}, nil
}

// Definitions returns the catalog sorted by code.
func (b *Book) Definitions() []Definition {
	out := make([]Definition, 0, len(b.defs))
	for _, def := range b.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Apply prices usages against the catalog and returns the charges and the
// sum of their amounts. Accessorials included in the base rate are listed
// with a zero amount.
func (b *Book) Apply(usages []Usage, asOf time.Time, equipment string) ([]Charge, decimal.Decimal, error) {
	charges := make([]Charge, 0, len(usages))
	total := decimal.Zero

	for _, usage := range usages {
		def, ok := b.defs[usage.Code]
		if !ok {
			return nil, decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownAccessorial, usage.Code)
		}
		if !def.InEffect(asOf) {
			return nil, decimal.Zero, fmt.Errorf("%w: %s on %s", ErrAccessorialInactive, usage.Code, asOf.Format(time.DateOnly))
		}
		if !def.AllowsEquipment(equipment) {
			return nil, decimal.Zero, fmt.Errorf("%w: %s for %s", ErrEquipmentNotEligible, usage.Code, equipment)
		}
		if usage.Quantity.IsNegative() {
			return nil, decimal.Zero, fmt.Errorf("%w: %s quantity cannot be negative", ErrInvalidUsage, usage.Code)
		}

		rate := def.RateValue
		if usage.Rate.Valid {
			if !def.CarrierEditable {
				return nil, decimal.Zero, fmt.Errorf("%w: %s", ErrRateNotEditable, usage.Code)
			}
			if usage.Rate.Decimal.IsNegative() {
				return nil, decimal.Zero, fmt.Errorf("%w: %s rate cannot be negative", ErrInvalidUsage, usage.Code)
			}
			rate = usage.Rate.Decimal
		}

		quantity := usage.Quantity
		if def.RateType == RateFlatFee {
			quantity = decimal.NewFromInt(1)
		}

		amount := rate.Mul(quantity).Round(2)
		if def.IncludedInBase {
			amount = decimal.Zero
		}

		charges = append(charges, Charge{
			Code:           def.Code,
			Name:           def.Name,
			RateType:       def.RateType,
			Quantity:       quantity,
			Rate:           rate,
			Amount:         amount,
			Taxable:        def.Taxable,
			IncludedInBase: def.IncludedInBase,
		})
		total = total.Add(amount)
	}

	return charges, total, nil
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
