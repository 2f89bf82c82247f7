package ratecard

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNoApplicableSlab matches every *NoApplicableSlabError.
	ErrNoApplicableSlab = errors.New("no applicable rate slab")
	// ErrOverlappingSlab matches every *OverlapError.
	ErrOverlappingSlab = errors.New("overlapping rate slab definition")
	// ErrInvalidSlab is returned for slabs that fail field validation.
	ErrInvalidSlab = errors.New("invalid rate slab")
)

// NoApplicableSlabError reports a fuel price outside every defined bracket.
type NoApplicableSlabError struct {
	Price    decimal.Decimal
	Region   string
	Currency string
	AsOf     time.Time
}

func (e *NoApplicableSlabError) Error() string {
	return fmt.Sprintf("no applicable rate slab for price %s %s in region %q as of %s",
		e.Price.String(), e.Currency, e.Region, e.AsOf.Format(time.DateOnly))
}

// Is lets errors.Is match ErrNoApplicableSlab.
func (e *NoApplicableSlabError) Is(target error) bool {
	return target == ErrNoApplicableSlab
}

// OverlapError reports two slabs of the same version whose brackets intersect.
type OverlapError struct {
	First  Slab
	Second Slab
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("rate slabs %d [%s, %s) and %d [%s, %s) overlap for %s/%s effective %s",
		e.First.ID, e.First.PriceMin, e.First.PriceMax,
		e.Second.ID, e.Second.PriceMin, e.Second.PriceMax,
		e.First.Currency, e.First.Region, e.First.EffectiveDate.Format(time.DateOnly))
}

// Is lets errors.Is match ErrOverlappingSlab.
func (e *OverlapError) Is(target error) bool {
	return target == ErrOverlappingSlab
}
