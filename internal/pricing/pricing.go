package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"freight-procurement/internal/accessorial"
	"freight-procurement/internal/ratecard"
)

// Fallback is the caller's explicit policy for fuel prices outside the catalog.
type Fallback string

const (
	FallbackNone    Fallback = "none"
	FallbackZero    Fallback = "zero"
	FallbackNearest Fallback = "nearest"
)

// ParseFallback validates a fallback policy name. Empty means FallbackNone.
func ParseFallback(v string) (Fallback, error) {
	switch Fallback(v) {
	case "", FallbackNone:
		return FallbackNone, nil
	case FallbackZero, FallbackNearest:
		return Fallback(v), nil
	default:
		return "", fmt.Errorf("unknown fallback policy %q", v)
	}
}

var (
	// ErrInvalidQuote is returned for requests that cannot be priced.
	ErrInvalidQuote = errors.New("invalid quote request")
	// ErrCatalogNotLoaded is returned when no rate catalog was supplied.
	ErrCatalogNotLoaded = errors.New("rate catalog not loaded")
)

var hundred = decimal.NewFromInt(100)

// Reference ties a calculation to the procurement records it priced.
type Reference struct {
	BidID      string
	ResponseID string
	LaneID     string
}

// Calculation is the audit record written for every quote.
type Calculation struct {
	ID               int64
	Reference        Reference
	CalculatedAt     time.Time
	AsOf             time.Time
	Region           string
	Currency         string
	BaseFreight      decimal.Decimal
	FuelPrice        decimal.Decimal
	SurchargePercent decimal.Decimal
	SurchargeAmount  decimal.Decimal
	AccessorialTotal decimal.Decimal
	Total            decimal.Decimal
	SlabID           *int64
	Method           ratecard.Method
	Notes            string
}

// HistoryStore persists calculation audit records.
type HistoryStore interface {
	RecordCalculation(ctx context.Context, calc Calculation) (Calculation, error)
}

// QuoteRequest is the input to Quote.
type QuoteRequest struct {
	Reference    Reference
	BaseFreight  decimal.Decimal
	FuelPrice    decimal.Decimal
	Region       string
	Currency     string
	AsOf         time.Time
	Equipment    string
	Accessorials []accessorial.Usage
	Fallback     Fallback
	Notes        string
}

// Quote is a priced freight amount.
type Quote struct {
	BaseFreight      decimal.Decimal
	FuelPrice        decimal.Decimal
	SurchargePercent decimal.Decimal
	SurchargeAmount  decimal.Decimal
	FreightTotal     decimal.Decimal
	AccessorialTotal decimal.Decimal
	Total            decimal.Decimal
	Charges          []accessorial.Charge
	SlabID           *int64
	Method           ratecard.Method
	Region           string
	Currency         string
	AsOf             time.Time
	CalculationID    int64
	Recorded         bool
}

// Service prices freight from a rate catalog snapshot and an accessorial book.
type Service struct {
	catalog *ratecard.Catalog
	book    *accessorial.Book
	history HistoryStore
	now     func() time.Time
}

// NewService wires a pricing service. book and history may be nil; without a
// history store quotes are computed but not recorded.
func NewService(catalog *ratecard.Catalog, book *accessorial.Book, history HistoryStore) *Service {
	return &Service{
		catalog: catalog,
		book:    book,
		history: history,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Quote resolves the fuel surcharge, applies accessorials and records the
// calculation. A failed history write fails the quote.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	return s.quote(ctx, s.history, req)
}

// QuoteWithin is Quote with the calculation written through history, usually
// the transaction the quote is part of, so it commits or rolls back with it.
// A service built without a history store still records nothing.
func (s *Service) QuoteWithin(ctx context.Context, history HistoryStore, req QuoteRequest) (Quote, error) {
	if s.history == nil {
		history = nil
	}
	return s.quote(ctx, history, req)
}

func (s *Service) quote(ctx context.Context, history HistoryStore, req QuoteRequest) (Quote, error) {
	if s.catalog == nil {
		return Quote{}, ErrCatalogNotLoaded
	}
	if req.BaseFreight.IsNegative() {
		return Quote{}, fmt.Errorf("%w: base freight cannot be negative", ErrInvalidQuote)
	}
	if req.FuelPrice.IsNegative() {
		return Quote{}, fmt.Errorf("%w: fuel price cannot be negative", ErrInvalidQuote)
	}
	if req.AsOf.IsZero() {
		req.AsOf = s.now()
	}

	res, err := s.resolve(req)
	if err != nil {
		return Quote{}, err
	}

	surcharge := req.BaseFreight.Mul(res.Percent).Div(hundred)
	var slabID *int64
	if res.Method != ratecard.MethodFallbackZero {
		surcharge = res.Slab.Clamp(surcharge)
		id := res.Slab.ID
		slabID = &id
	}
	surcharge = surcharge.Round(2)

	quote := Quote{
		BaseFreight:      req.BaseFreight,
		FuelPrice:        req.FuelPrice,
		SurchargePercent: res.Percent,
		SurchargeAmount:  surcharge,
		FreightTotal:     req.BaseFreight.Add(surcharge),
		AccessorialTotal: decimal.Zero,
		SlabID:           slabID,
		Method:           res.Method,
		Region:           req.Region,
		Currency:         req.Currency,
		AsOf:             req.AsOf,
	}

	if len(req.Accessorials) > 0 {
		if s.book == nil {
			return Quote{}, fmt.Errorf("%w: accessorial catalog not loaded", ErrInvalidQuote)
		}
		charges, total, err := s.book.Apply(req.Accessorials, req.AsOf, req.Equipment)
		if err != nil {
			return Quote{}, err
		}
		quote.Charges = charges
		quote.AccessorialTotal = total
	}
	quote.Total = quote.FreightTotal.Add(quote.AccessorialTotal)

	if history == nil {
		return quote, nil
	}

	record, err := history.RecordCalculation(ctx, Calculation{
		Reference:        req.Reference,
		CalculatedAt:     s.now(),
		AsOf:             req.AsOf,
		Region:           req.Region,
		Currency:         req.Currency,
		BaseFreight:      quote.BaseFreight,
		FuelPrice:        quote.FuelPrice,
		SurchargePercent: quote.SurchargePercent,
		SurchargeAmount:  quote.SurchargeAmount,
		AccessorialTotal: quote.AccessorialTotal,
		Total:            quote.Total,
		SlabID:           quote.SlabID,
		Method:           quote.Method,
		Notes:            req.Notes,
	})
	if err != nil {
		return Quote{}, fmt.Errorf("record calculation: %w", err)
	}
	quote.CalculationID = record.ID
	quote.Recorded = true
	return quote, nil
}

func (s *Service) resolve(req QuoteRequest) (ratecard.Resolution, error) {
	switch req.Fallback {
	case FallbackNearest:
		return s.catalog.Nearest(req.FuelPrice, req.Region, req.Currency, req.AsOf)
	case FallbackZero:
		res, err := s.catalog.Resolve(req.FuelPrice, req.Region, req.Currency, req.AsOf)
		if errors.Is(err, ratecard.ErrNoApplicableSlab) {
			return ratecard.Resolution{Percent: decimal.Zero, Method: ratecard.MethodFallbackZero}, nil
		}
		return res, err
	default:
		return s.catalog.Resolve(req.FuelPrice, req.Region, req.Currency, req.AsOf)
	}
}
