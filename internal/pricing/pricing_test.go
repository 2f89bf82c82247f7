package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"freight-procurement/internal/accessorial"
	"freight-procurement/internal/ratecard"
)

type recordingHistory struct {
	calls []Calculation
	err   error
}

func (r *recordingHistory) RecordCalculation(ctx context.Context, calc Calculation) (Calculation, error) {
	if r.err != nil {
		return Calculation{}, r.err
	}
	calc.ID = int64(len(r.calls) + 1)
	r.calls = append(r.calls, calc)
	return calc, nil
}

var asOf = time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

func testCatalog(t *testing.T) *ratecard.Catalog {
	t.Helper()
	eff := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	slab := func(id int64, min, max, pct string) ratecard.Slab {
		return ratecard.Slab{
			ID:               id,
			EffectiveDate:    eff,
			PriceMin:         decimal.RequireFromString(min),
			PriceMax:         decimal.RequireFromString(max),
			SurchargePercent: decimal.NewNullDecimal(decimal.RequireFromString(pct)),
			Currency:         "INR",
			Region:           "All India",
		}
	}
	capped := slab(3, "90", "95", "4")
	capped.MaxSurchargeAmount = decimal.NewNullDecimal(decimal.NewFromInt(500))

	c, err := ratecard.NewCatalog([]ratecard.Slab{
		slab(1, "80", "85", "0"),
		slab(2, "85", "90", "2"),
		capped,
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return c
}

func testBook(t *testing.T) *accessorial.Book {
	t.Helper()
	book, err := accessorial.NewBook([]accessorial.Definition{
		{Code: "ACC-TOLL-01", Name: "Toll Charges", AppliesTo: accessorial.AppliesInTransit, RateType: accessorial.RateFlatFee, RateValue: decimal.NewFromInt(250), Active: true, EffectiveFrom: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	return book
}

func TestQuoteRecordsCalculation(t *testing.T) {
	history := &recordingHistory{}
	svc := NewService(testCatalog(t), testBook(t), history)

	quote, err := svc.Quote(context.Background(), QuoteRequest{
		Reference:   Reference{BidID: "B1", LaneID: "L1"},
		BaseFreight: decimal.NewFromInt(25000),
		FuelPrice:   decimal.RequireFromString("87.0"),
		Region:      "All India",
		Currency:    "INR",
		AsOf:        asOf,
		Accessorials: []accessorial.Usage{
			{Code: "ACC-TOLL-01", Quantity: decimal.NewFromInt(1)},
		},
	})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}

	if !quote.SurchargeAmount.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected surcharge 500, got %s", quote.SurchargeAmount)
	}
	if !quote.FreightTotal.Equal(decimal.NewFromInt(25500)) {
		t.Fatalf("expected freight total 25500, got %s", quote.FreightTotal)
	}
	if !quote.Total.Equal(decimal.NewFromInt(25750)) {
		t.Fatalf("expected total 25750, got %s", quote.Total)
	}
	if quote.SlabID == nil || *quote.SlabID != 2 {
		t.Fatalf("expected slab 2, got %v", quote.SlabID)
	}

	if len(history.calls) != 1 || !quote.Recorded || quote.CalculationID != 1 {
		t.Fatalf("calculation should be recorded once, got %d", len(history.calls))
	}
	rec := history.calls[0]
	if rec.Region != "All India" || rec.Reference.BidID != "B1" || *rec.SlabID != 2 || rec.Method != ratecard.MethodFixed {
		t.Fatalf("audit record incomplete: %+v", rec)
	}
}

func TestQuoteClampsAndRounds(t *testing.T) {
	svc := NewService(testCatalog(t), nil, nil)

	quote, err := svc.Quote(context.Background(), QuoteRequest{
		BaseFreight: decimal.NewFromInt(100000),
		FuelPrice:   decimal.NewFromInt(92),
		Region:      "All India",
		Currency:    "INR",
		AsOf:        asOf,
	})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !quote.SurchargeAmount.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("surcharge should be capped at 500, got %s", quote.SurchargeAmount)
	}
	if quote.Recorded {
		t.Fatal("quote without history store should not claim to be recorded")
	}

	quote, err = svc.Quote(context.Background(), QuoteRequest{
		BaseFreight: decimal.RequireFromString("333.33"),
		FuelPrice:   decimal.NewFromInt(87),
		Region:      "All India",
		Currency:    "INR",
		AsOf:        asOf,
	})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.SurchargeAmount.String() != "6.67" {
		t.Fatalf("expected 6.67, got %s", quote.SurchargeAmount)
	}
}

func TestQuoteNoApplicableSlab(t *testing.T) {
	history := &recordingHistory{}
	svc := NewService(testCatalog(t), nil, history)

	req := QuoteRequest{
		BaseFreight: decimal.NewFromInt(10000),
		FuelPrice:   decimal.NewFromInt(120),
		Region:      "All India",
		Currency:    "INR",
		AsOf:        asOf,
	}

	if _, err := svc.Quote(context.Background(), req); !errors.Is(err, ratecard.ErrNoApplicableSlab) {
		t.Fatalf("expected ErrNoApplicableSlab, got %v", err)
	}
	if len(history.calls) != 0 {
		t.Fatal("failed quote must not be recorded")
	}

	req.Fallback = FallbackZero
	quote, err := svc.Quote(context.Background(), req)
	if err != nil {
		t.Fatalf("zero fallback: %v", err)
	}
	if !quote.SurchargeAmount.IsZero() || quote.SlabID != nil || quote.Method != ratecard.MethodFallbackZero {
		t.Fatalf("zero fallback should be explicit in the quote: %+v", quote)
	}

	req.Fallback = FallbackNearest
	quote, err = svc.Quote(context.Background(), req)
	if err != nil {
		t.Fatalf("nearest fallback: %v", err)
	}
	if quote.SlabID == nil || *quote.SlabID != 3 || quote.Method != ratecard.MethodFallbackNearest {
		t.Fatalf("nearest fallback should use the top bracket: %+v", quote)
	}
	if len(history.calls) != 2 || history.calls[1].Method != ratecard.MethodFallbackNearest {
		t.Fatal("fallback quotes must be recorded with their method")
	}
}

func TestQuoteHistoryFailure(t *testing.T) {
	svc := NewService(testCatalog(t), nil, &recordingHistory{err: errors.New("db down")})
	_, err := svc.Quote(context.Background(), QuoteRequest{
		BaseFreight: decimal.NewFromInt(100),
		FuelPrice:   decimal.NewFromInt(87),
		Region:      "All India",
		Currency:    "INR",
		AsOf:        asOf,
	})
	if err == nil {
		t.Fatal("unrecorded quote should fail")
	}
}

func TestQuoteValidation(t *testing.T) {
	svc := NewService(testCatalog(t), nil, nil)
	_, err := svc.Quote(context.Background(), QuoteRequest{BaseFreight: decimal.NewFromInt(-1), FuelPrice: decimal.NewFromInt(87), Region: "All India", Currency: "INR"})
	if !errors.Is(err, ErrInvalidQuote) {
		t.Fatalf("expected ErrInvalidQuote, got %v", err)
	}

	_, err = svc.Quote(context.Background(), QuoteRequest{
		BaseFreight:  decimal.NewFromInt(1),
		FuelPrice:    decimal.NewFromInt(87),
		Region:       "All India",
		Currency:     "INR",
		AsOf:         asOf,
		Accessorials: []accessorial.Usage{{Code: "ACC-TOLL-01"}},
	})
	if !errors.Is(err, ErrInvalidQuote) {
		t.Fatalf("accessorials without a book should fail, got %v", err)
	}

	if _, err := NewService(nil, nil, nil).Quote(context.Background(), QuoteRequest{}); !errors.Is(err, ErrCatalogNotLoaded) {
		t.Fatalf("expected ErrCatalogNotLoaded, got %v", err)
	}
}

func TestParseFallback(t *testing.T) {
	for _, v := range []string{"", "none", "zero", "nearest"} {
		if _, err := ParseFallback(v); err != nil {
			t.Fatalf("%q should parse: %v", v, err)
		}
	}
	if _, err := ParseFallback("guess"); err == nil {
		t.Fatal("unknown policy should fail")
	}
}
