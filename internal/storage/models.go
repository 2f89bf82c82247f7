package storage

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// FuelPriceSample is one persisted fuel price observation for a region and
// currency on a calendar date.
type FuelPriceSample struct {
	Date      time.Time
	Region    string
	Currency  string
	Source    string
	Price     decimal.Decimal
	Official  bool
	Raw       json.RawMessage
	CreatedAt time.Time
}

// SlabAlert records that the applicable surcharge slab changed between two
// consecutive samples. It is also used for de-duplication.
type SlabAlert struct {
	ID              int64
	SampleDate      time.Time
	Region          string
	Currency        string
	FuelPrice       decimal.Decimal
	PreviousSlabID  *int64
	SlabID          *int64
	PreviousPercent decimal.NullDecimal
	Percent         decimal.NullDecimal
	Channels        []string
	CreatedAt       time.Time
}

// CalculationFilter narrows calculation history listings.
type CalculationFilter struct {
	BidID  string
	Region string
	From   *time.Time
	To     *time.Time
	Limit  int
}
