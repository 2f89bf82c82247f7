package fetcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// FuelPrice is one published diesel price for a region.
type FuelPrice struct {
	Date     time.Time
	Region   string
	Currency string
	Source   string
	Price    decimal.Decimal
	// Official is false for provisional prices the feed may revise later.
	Official bool
	Raw      json.RawMessage
}

// FuelPriceFetcher retrieves fuel prices from an upstream feed.
type FuelPriceFetcher interface {
	FetchLatest(ctx context.Context, region, currency string) (FuelPrice, error)
	FetchHistory(ctx context.Context, region, currency string, from, to time.Time) ([]FuelPrice, error)
}
