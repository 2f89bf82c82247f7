package ratecard

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

const region = "North India"

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func fixed(id int64, effective, min, max, pct string) Slab {
	return Slab{
		ID:               id,
		EffectiveDate:    day(effective),
		PriceMin:         dec(min),
		PriceMax:         dec(max),
		SurchargePercent: decimal.NewNullDecimal(dec(pct)),
		Currency:         "INR",
		Region:           region,
	}
}

func juneSlabs() []Slab {
	return []Slab{
		fixed(1, "2025-06-01", "80", "85", "0"),
		fixed(2, "2025-06-01", "85", "90", "2"),
		fixed(3, "2025-06-01", "90", "95", "4"),
	}
}

func mustCatalog(t *testing.T, slabs []Slab) *Catalog {
	t.Helper()
	c, err := NewCatalog(slabs)
	if err != nil {
		t.Fatalf("catalog should load: %v", err)
	}
	return c
}

func TestResolveBrackets(t *testing.T) {
	c := mustCatalog(t, juneSlabs())
	asOf := day("2025-06-15")

	tests := []struct {
		price  string
		pct    string
		slabID int64
	}{
		{"80", "0", 1},
		{"84.99", "0", 1},
		{"85", "2", 2},
		{"87.0", "2", 2},
		{"94.999", "4", 3},
	}
	for _, tt := range tests {
		res, err := c.Resolve(dec(tt.price), region, "INR", asOf)
		if err != nil {
			t.Fatalf("resolve %s: %v", tt.price, err)
		}
		if !res.Percent.Equal(dec(tt.pct)) || res.Slab.ID != tt.slabID {
			t.Fatalf("resolve %s: expected %s%% from slab %d, got %s%% from slab %d", tt.price, tt.pct, tt.slabID, res.Percent, res.Slab.ID)
		}
		if res.Method != MethodFixed {
			t.Fatalf("expected fixed method, got %s", res.Method)
		}
	}
}

func TestResolveNoApplicableSlab(t *testing.T) {
	c := mustCatalog(t, juneSlabs())

	cases := []struct {
		name     string
		price    string
		region   string
		currency string
		asOf     time.Time
	}{
		{"above every bracket", "120.0", region, "INR", day("2025-06-15")},
		{"upper bound excluded", "95", region, "INR", day("2025-06-15")},
		{"other region", "87", "South India", "INR", day("2025-06-15")},
		{"other currency", "87", region, "USD", day("2025-06-15")},
		{"before effective date", "87", region, "INR", day("2025-05-31")},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Resolve(dec(tt.price), tt.region, tt.currency, tt.asOf)
			if !errors.Is(err, ErrNoApplicableSlab) {
				t.Fatalf("expected ErrNoApplicableSlab, got %v", err)
			}
			var typed *NoApplicableSlabError
			if !errors.As(err, &typed) || typed.Region != tt.region {
				t.Fatalf("error should carry the lookup, got %#v", err)
			}
		})
	}
}

func TestResolveVersionedPrecedence(t *testing.T) {
	slabs := append(juneSlabs(), fixed(4, "2025-07-01", "85", "90", "2.25"))
	c := mustCatalog(t, slabs)

	res, err := c.Resolve(dec("87.0"), region, "INR", day("2025-07-15"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Percent.Equal(dec("2.25")) {
		t.Fatalf("july slab should win, got %s", res.Percent)
	}

	res, err = c.Resolve(dec("87.0"), region, "INR", day("2025-06-15"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Percent.Equal(dec("2")) {
		t.Fatalf("june slab should apply before july, got %s", res.Percent)
	}

	// the as-of date is compared by day, not by instant
	res, err = c.Resolve(dec("87.0"), region, "INR", time.Date(2025, 7, 1, 23, 59, 0, 0, time.UTC))
	if err != nil || !res.Percent.Equal(dec("2.25")) {
		t.Fatalf("slab effective the same day should apply, got %v %v", res.Percent, err)
	}
}

func TestResolveVariable(t *testing.T) {
	variable := Slab{
		ID:            10,
		EffectiveDate: day("2025-06-01"),
		PriceMin:      dec("95"),
		PriceMax:      dec("150"),
		BasePrice:     dec("100"),
		ChangePerUnit: decimal.NewNullDecimal(dec("0.5")),
		Currency:      "INR",
		Region:        region,
	}
	c := mustCatalog(t, append(juneSlabs(), variable))

	res, err := c.Resolve(dec("110"), region, "INR", day("2025-06-15"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Percent.Equal(dec("5")) || res.Method != MethodVariable {
		t.Fatalf("expected 5%% variable, got %s %s", res.Percent, res.Method)
	}

	res, err = c.Resolve(dec("97"), region, "INR", day("2025-06-15"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Percent.IsZero() {
		t.Fatalf("price below base should floor at zero, got %s", res.Percent)
	}
}

func TestNewCatalogRejectsOverlap(t *testing.T) {
	slabs := append(juneSlabs(), fixed(5, "2025-06-01", "88", "92", "3"))
	_, err := NewCatalog(slabs)
	if !errors.Is(err, ErrOverlappingSlab) {
		t.Fatalf("expected overlap error, got %v", err)
	}
	var overlap *OverlapError
	if !errors.As(err, &overlap) || overlap.Second.ID != 5 {
		t.Fatalf("overlap error should name the offending slab, got %v", err)
	}

	// the same bracket on another date or region is a new version, not an overlap
	other := fixed(6, "2025-06-01", "85", "90", "2")
	other.Region = "West India"
	if _, err := NewCatalog(append(juneSlabs(), other, fixed(7, "2025-08-01", "85", "90", "3"))); err != nil {
		t.Fatalf("distinct versions should load: %v", err)
	}

	// a wide slab hiding behind a narrow one
	nested := []Slab{
		fixed(1, "2025-06-01", "80", "100", "1"),
		fixed(2, "2025-06-01", "81", "82", "2"),
		fixed(3, "2025-06-01", "90", "91", "3"),
	}
	if _, err := NewCatalog(nested); !errors.Is(err, ErrOverlappingSlab) {
		t.Fatalf("nested brackets should overlap, got %v", err)
	}
}

func TestNewCatalogValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Slab)
	}{
		{"missing region", func(s *Slab) { s.Region = "" }},
		{"lowercase currency", func(s *Slab) { s.Currency = "inr" }},
		{"missing effective date", func(s *Slab) { s.EffectiveDate = time.Time{} }},
		{"inverted bracket", func(s *Slab) { s.PriceMax = dec("70") }},
		{"no percent", func(s *Slab) { s.SurchargePercent = decimal.NullDecimal{} }},
		{"both percent and change", func(s *Slab) { s.ChangePerUnit = decimal.NewNullDecimal(dec("1")) }},
		{"min above max", func(s *Slab) {
			s.MinSurchargeAmount = decimal.NewNullDecimal(dec("100"))
			s.MaxSurchargeAmount = decimal.NewNullDecimal(dec("10"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slab := fixed(1, "2025-06-01", "80", "85", "1")
			tt.mutate(&slab)
			if _, err := NewCatalog([]Slab{slab}); !errors.Is(err, ErrInvalidSlab) {
				t.Fatalf("expected ErrInvalidSlab, got %v", err)
			}
		})
	}
}

func TestNearest(t *testing.T) {
	c := mustCatalog(t, juneSlabs())

	res, err := c.Nearest(dec("120"), region, "INR", day("2025-06-15"))
	if err != nil {
		t.Fatalf("nearest: %v", err)
	}
	if res.Slab.ID != 3 || !res.Percent.Equal(dec("4")) || res.Method != MethodFallbackNearest {
		t.Fatalf("expected top bracket fallback, got slab %d %s %s", res.Slab.ID, res.Percent, res.Method)
	}

	res, err = c.Nearest(dec("87"), region, "INR", day("2025-06-15"))
	if err != nil || res.Method != MethodFixed {
		t.Fatalf("in-range price should resolve normally, got %v %v", res.Method, err)
	}

	if _, err := c.Nearest(dec("87"), "Nowhere", "INR", day("2025-06-15")); !errors.Is(err, ErrNoApplicableSlab) {
		t.Fatalf("empty candidate set should still fail, got %v", err)
	}
}

func TestClamp(t *testing.T) {
	slab := fixed(1, "2025-06-01", "80", "85", "1")
	slab.MinSurchargeAmount = decimal.NewNullDecimal(dec("50"))
	slab.MaxSurchargeAmount = decimal.NewNullDecimal(dec("500"))

	if got := slab.Clamp(dec("10")); !got.Equal(dec("50")) {
		t.Fatalf("expected floor 50, got %s", got)
	}
	if got := slab.Clamp(dec("900")); !got.Equal(dec("500")) {
		t.Fatalf("expected cap 500, got %s", got)
	}
	if got := slab.Clamp(dec("120")); !got.Equal(dec("120")) {
		t.Fatalf("in-range amount should pass through, got %s", got)
	}
}
