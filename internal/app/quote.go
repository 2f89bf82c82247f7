package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"freight-procurement/internal/pricing"
)

// QuoteInput prices a freight amount outside of an award.
type QuoteInput struct {
	BaseFreight string `validate:"required,number"`
	// FuelPrice defaults to the latest recorded sample for the region.
	FuelPrice    string `validate:"omitempty,number"`
	Region       string
	Currency     string `validate:"omitempty,len=3"`
	AsOf         time.Time
	Equipment    string
	Accessorials []string
	Fallback     string
	BidID        string
	LaneID       string
}

// Quote resolves the fuel surcharge for a base freight amount and records
// the calculation when history is enabled.
func (a *App) Quote(ctx context.Context, in QuoteInput) (pricing.Quote, error) {
	if err := validate.Struct(in); err != nil {
		return pricing.Quote{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	base, err := decimal.NewFromString(in.BaseFreight)
	if err != nil {
		return pricing.Quote{}, fmt.Errorf("%w: base freight: %v", ErrInvalidInput, err)
	}
	fallback, err := pricing.ParseFallback(firstNonEmpty(in.Fallback, a.Config.Pricing.Fallback))
	if err != nil {
		return pricing.Quote{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	usages, err := ParseUsages(in.Accessorials)
	if err != nil {
		return pricing.Quote{}, err
	}

	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return pricing.Quote{}, err
	}
	defer closeStore()

	region := firstNonEmpty(in.Region, a.Config.Pricing.DefaultRegion)
	currency := strings.ToUpper(firstNonEmpty(in.Currency, a.Config.Pricing.DefaultCurrency))
	asOf := in.AsOf
	if asOf.IsZero() {
		asOf = a.now()
	}

	fuel, err := a.resolveFuelPrice(ctx, store, in.FuelPrice, region, currency, asOf)
	if err != nil {
		return pricing.Quote{}, err
	}

	svc, err := a.newPricer(ctx, store)
	if err != nil {
		return pricing.Quote{}, err
	}

	quote, err := svc.Quote(ctx, pricing.QuoteRequest{
		Reference:    pricing.Reference{BidID: in.BidID, LaneID: in.LaneID},
		BaseFreight:  base,
		FuelPrice:    fuel,
		Region:       region,
		Currency:     currency,
		AsOf:         asOf,
		Equipment:    in.Equipment,
		Accessorials: usages,
		Fallback:     fallback,
		Notes:        "cli quote",
	})
	if err != nil {
		return pricing.Quote{}, fmt.Errorf("quote: %w", err)
	}

	a.Logger.Info().Str("region", region).
		Str("fuel_price", fuel.String()).
		Str("surcharge_percent", quote.SurchargePercent.String()).
		Str("total", quote.Total.String()).
		Bool("recorded", quote.Recorded).
		Msg("quote computed")
	return quote, nil
}

// resolveFuelPrice parses an explicit price or falls back to the most recent
// sample recorded on or before asOf.
func (a *App) resolveFuelPrice(ctx context.Context, store Backend, explicit, region, currency string, asOf time.Time) (decimal.Decimal, error) {
	if explicit != "" {
		price, err := decimal.NewFromString(explicit)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: fuel price: %v", ErrInvalidInput, err)
		}
		return price, nil
	}

	sample, found, err := store.LatestFuelSampleBefore(ctx, region, currency, asOf.UTC().Truncate(24*time.Hour).Add(24*time.Hour))
	if err != nil {
		return decimal.Zero, fmt.Errorf("load latest fuel sample: %w", err)
	}
	if !found {
		return decimal.Zero, fmt.Errorf("%w: no fuel price recorded for %s %s; pass --fuel-price", ErrInvalidInput, region, currency)
	}
	a.Logger.Debug().Str("region", region).Time("date", sample.Date).Msg("using recorded fuel price")
	return sample.Price, nil
}
