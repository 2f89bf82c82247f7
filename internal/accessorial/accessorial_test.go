package accessorial

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var effective = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func catalog(t *testing.T) *Book {
	t.Helper()
	ended := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	book, err := NewBook([]Definition{
		{Code: "ACC-DET-2025", Name: "Detention", AppliesTo: AppliesDelivery, RateType: RatePerHour, RateValue: decimal.NewFromInt(400), Unit: "hour", Taxable: true, CarrierEditable: true, Active: true, EffectiveFrom: effective},
		{Code: "ACC-TOLL-01", Name: "Toll Charges", AppliesTo: AppliesInTransit, RateType: RateFlatFee, RateValue: decimal.NewFromInt(250), Active: true, EffectiveFrom: effective},
		{Code: "ACC-MULTI-01", Name: "Multi-stop", AppliesTo: AppliesGeneral, RateType: RatePerStop, RateValue: decimal.NewFromInt(500), EquipmentTypes: []string{"32ft MXL", "20ft SXL"}, Active: true, EffectiveFrom: effective},
		{Code: "ACC-FUEL-01", Name: "Fuel Surcharge", AppliesTo: AppliesGeneral, RateType: RatePerKM, RateValue: decimal.RequireFromString("2.5"), IncludedInBase: true, Active: true, EffectiveFrom: effective},
		{Code: "ACC-OLD-01", Name: "Retired", AppliesTo: AppliesPickup, RateType: RatePerAttempt, RateValue: decimal.NewFromInt(100), Active: true, EffectiveFrom: effective, EffectiveTo: &ended},
	})
	if err != nil {
		t.Fatalf("book should load: %v", err)
	}
	return book
}

func TestApplyCharges(t *testing.T) {
	book := catalog(t)
	asOf := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	charges, total, err := book.Apply([]Usage{
		{Code: "ACC-DET-2025", Quantity: decimal.RequireFromString("2.5")},
		{Code: "ACC-TOLL-01", Quantity: decimal.NewFromInt(3)},
		{Code: "ACC-MULTI-01", Quantity: decimal.NewFromInt(2)},
		{Code: "ACC-FUEL-01", Quantity: decimal.NewFromInt(800)},
	}, asOf, "32ft MXL")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	want := map[string]string{
		"ACC-DET-2025": "1000",
		"ACC-TOLL-01":  "250",
		"ACC-MULTI-01": "1000",
		"ACC-FUEL-01":  "0",
	}
	for _, c := range charges {
		if !c.Amount.Equal(decimal.RequireFromString(want[c.Code])) {
			t.Fatalf("%s: expected %s, got %s", c.Code, want[c.Code], c.Amount)
		}
	}
	if !total.Equal(decimal.NewFromInt(2250)) {
		t.Fatalf("expected total 2250, got %s", total)
	}
}

func TestApplyRateOverride(t *testing.T) {
	book := catalog(t)
	asOf := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	charges, _, err := book.Apply([]Usage{
		{Code: "ACC-DET-2025", Quantity: decimal.NewFromInt(2), Rate: decimal.NewNullDecimal(decimal.NewFromInt(350))},
	}, asOf, "")
	if err != nil {
		t.Fatalf("editable rate should be accepted: %v", err)
	}
	if !charges[0].Amount.Equal(decimal.NewFromInt(700)) {
		t.Fatalf("expected 700, got %s", charges[0].Amount)
	}

	_, _, err = book.Apply([]Usage{
		{Code: "ACC-TOLL-01", Quantity: decimal.NewFromInt(1), Rate: decimal.NewNullDecimal(decimal.NewFromInt(1))},
	}, asOf, "")
	if !errors.Is(err, ErrRateNotEditable) {
		t.Fatalf("expected ErrRateNotEditable, got %v", err)
	}
}

func TestApplyErrors(t *testing.T) {
	book := catalog(t)
	asOf := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		usage     Usage
		equipment string
		asOf      time.Time
		want      error
	}{
		{"unknown code", Usage{Code: "ACC-NOPE", Quantity: decimal.NewFromInt(1)}, "", asOf, ErrUnknownAccessorial},
		{"expired", Usage{Code: "ACC-OLD-01", Quantity: decimal.NewFromInt(1)}, "", asOf, ErrAccessorialInactive},
		{"not yet effective", Usage{Code: "ACC-TOLL-01", Quantity: decimal.NewFromInt(1)}, "", effective.AddDate(0, 0, -1), ErrAccessorialInactive},
		{"equipment", Usage{Code: "ACC-MULTI-01", Quantity: decimal.NewFromInt(1)}, "40ft Trailer", asOf, ErrEquipmentNotEligible},
		{"negative quantity", Usage{Code: "ACC-DET-2025", Quantity: decimal.NewFromInt(-1)}, "", asOf, ErrInvalidUsage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := book.Apply([]Usage{tt.usage}, tt.asOf, tt.equipment)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestNewBookRejectsDuplicates(t *testing.T) {
	def := Definition{Code: "ACC-TOLL-01", Name: "Toll", AppliesTo: AppliesInTransit, RateType: RateFlatFee, RateValue: decimal.NewFromInt(1), Active: true, EffectiveFrom: effective}
	if _, err := NewBook([]Definition{def, def}); !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("expected duplicate code error, got %v", err)
	}

	bad := def
	bad.RateType = "per_parsec"
	if _, err := NewBook([]Definition{bad}); !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
