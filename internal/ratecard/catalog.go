package ratecard

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// Resolution is the outcome of resolving a fuel price against the catalog.
type Resolution struct {
	Slab    Slab
	Percent decimal.Decimal
	Method  Method
}

// Catalog is a validated, read-only snapshot of rate slabs. It is safe for
// concurrent use.
type Catalog struct {
	slabs []Slab
}

type versionKey struct {
	currency string
	region   string
	date     time.Time
}

// NewCatalog validates slabs and builds a catalog. Brackets of the same
// (currency, region, effective date) must not overlap.
func NewCatalog(slabs []Slab) (*Catalog, error) {
	normalized := make([]Slab, 0, len(slabs))
	for _, slab := range slabs {
		if err := validateSlab(slab); err != nil {
			return nil, err
		}
		slab.EffectiveDate = dateOnly(slab.EffectiveDate)
		normalized = append(normalized, slab)
	}

	groups := make(map[versionKey][]Slab)
	for _, slab := range normalized {
		key := versionKey{currency: slab.Currency, region: slab.Region, date: slab.EffectiveDate}
		groups[key] = append(groups[key], slab)
	}
	for _, group := range groups {
		if err := checkOverlap(group); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(normalized, func(i, j int) bool {
		a, b := normalized[i], normalized[j]
		if a.Currency != b.Currency {
			return a.Currency < b.Currency
		}
		if a.Region != b.Region {
			return a.Region < b.Region
		}
		if !a.EffectiveDate.Equal(b.EffectiveDate) {
			return a.EffectiveDate.Before(b.EffectiveDate)
		}
		return a.PriceMin.LessThan(b.PriceMin)
	})

	return &Catalog{slabs: normalized}, nil
}

func validateSlab(slab Slab) error {
	if err := validate.Struct(slab); err != nil {
		return fmt.Errorf("%w %d: %w", ErrInvalidSlab, slab.ID, err)
	}
	switch {
	case slab.PriceMin.IsNegative():
		return fmt.Errorf("%w %d: price_min cannot be negative", ErrInvalidSlab, slab.ID)
	case !slab.PriceMax.GreaterThan(slab.PriceMin):
		return fmt.Errorf("%w %d: price_max must be greater than price_min", ErrInvalidSlab, slab.ID)
	case slab.SurchargePercent.Valid && slab.ChangePerUnit.Valid:
		return fmt.Errorf("%w %d: surcharge_percent and change_per_unit are mutually exclusive", ErrInvalidSlab, slab.ID)
	case !slab.SurchargePercent.Valid && !slab.ChangePerUnit.Valid:
		return fmt.Errorf("%w %d: one of surcharge_percent or change_per_unit is required", ErrInvalidSlab, slab.ID)
	case slab.SurchargePercent.Valid && slab.SurchargePercent.Decimal.IsNegative():
		return fmt.Errorf("%w %d: surcharge_percent cannot be negative", ErrInvalidSlab, slab.ID)
	case slab.MinSurchargeAmount.Valid && slab.MaxSurchargeAmount.Valid &&
		slab.MinSurchargeAmount.Decimal.GreaterThan(slab.MaxSurchargeAmount.Decimal):
		return fmt.Errorf("%w %d: min_surcharge_amount exceeds max_surcharge_amount", ErrInvalidSlab, slab.ID)
	}
	return nil
}

func checkOverlap(group []Slab) error {
	sorted := append([]Slab(nil), group...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PriceMin.LessThan(sorted[j].PriceMin)
	})

	widest := sorted[0]
	for _, slab := range sorted[1:] {
		if slab.PriceMin.LessThan(widest.PriceMax) {
			return &OverlapError{First: widest, Second: slab}
		}
		if slab.PriceMax.GreaterThan(widest.PriceMax) {
			widest = slab
		}
	}
	return nil
}

// Len returns the number of slabs in the catalog.
func (c *Catalog) Len() int {
	return len(c.slabs)
}

// Slabs returns a copy of the catalog contents.
func (c *Catalog) Slabs() []Slab {
	return append([]Slab(nil), c.slabs...)
}

// Resolve finds the surcharge percentage applicable to price for the region,
// currency and as-of date. The most recent effective slab whose bracket
// contains price wins. A price outside every bracket yields a
// *NoApplicableSlabError.
func (c *Catalog) Resolve(price decimal.Decimal, region, currency string, asOf time.Time) (Resolution, error) {
	var (
		best  Slab
		found bool
	)
	for _, slab := range c.candidates(region, currency, asOf) {
		if !slab.Contains(price) {
			continue
		}
		if !found || slab.EffectiveDate.After(best.EffectiveDate) {
			best = slab
			found = true
		}
	}
	if !found {
		return Resolution{}, c.noSlab(price, region, currency, asOf)
	}

	pct, method := best.Percent(price)
	return Resolution{Slab: best, Percent: pct, Method: method}, nil
}

// Nearest resolves price against the bracket closest to it. It is an explicit
// fallback for callers that chose to tolerate catalog gaps; prefer Resolve.
func (c *Catalog) Nearest(price decimal.Decimal, region, currency string, asOf time.Time) (Resolution, error) {
	res, err := c.Resolve(price, region, currency, asOf)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, ErrNoApplicableSlab) {
		return Resolution{}, err
	}

	var (
		best     Slab
		bestDist decimal.Decimal
		found    bool
	)
	for _, slab := range c.candidates(region, currency, asOf) {
		dist := bracketDistance(slab, price)
		switch {
		case !found:
		case dist.LessThan(bestDist):
		case dist.Equal(bestDist) && slab.EffectiveDate.After(best.EffectiveDate):
		default:
			continue
		}
		best, bestDist, found = slab, dist, true
	}
	if !found {
		return Resolution{}, err
	}

	pct, _ := best.Percent(price)
	return Resolution{Slab: best, Percent: pct, Method: MethodFallbackNearest}, nil
}

func (c *Catalog) candidates(region, currency string, asOf time.Time) []Slab {
	day := dateOnly(asOf)
	out := make([]Slab, 0)
	for _, slab := range c.slabs {
		if slab.Region != region || slab.Currency != currency {
			continue
		}
		if slab.EffectiveDate.After(day) {
			continue
		}
		out = append(out, slab)
	}
	return out
}

func (c *Catalog) noSlab(price decimal.Decimal, region, currency string, asOf time.Time) error {
	return &NoApplicableSlabError{Price: price, Region: region, Currency: currency, AsOf: dateOnly(asOf)}
}

func bracketDistance(slab Slab, price decimal.Decimal) decimal.Decimal {
	if price.LessThan(slab.PriceMin) {
		return slab.PriceMin.Sub(price)
	}
	if price.GreaterThanOrEqual(slab.PriceMax) {
		return price.Sub(slab.PriceMax)
	}
	return decimal.Zero
}
