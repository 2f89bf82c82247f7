package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"freight-procurement/internal/alerting"
	"freight-procurement/internal/config"
	"freight-procurement/internal/lifecycle"
	"freight-procurement/internal/pricing"
	"freight-procurement/internal/procurement"
	"freight-procurement/internal/storage"
)

const fixture = `
slabs:
  - effective_date: 2025-01-01
    price_min: 80
    price_max: 90
    surcharge_percent: 2
    currency: INR
    region: All India
  - effective_date: 2025-01-01
    price_min: 90
    price_max: 100
    surcharge_percent: "4.5"
    currency: INR
    region: All India
accessorials:
  - code: detention
    name: Detention
    applies_to: delivery
    rate_type: per_hour
    rate_value: 500
    effective_from: 2025-01-01
lanes:
  - id: L1
    name: Delhi to Mumbai
    origin: {city: Delhi, country: IN, lat: 28.6139, lng: 77.2090}
    destination: {city: Mumbai, country: IN, lat: 19.0760, lng: 72.8777}
    lane_type: truckload
carriers:
  - id: C1
    name: Northline Logistics
    carrier_type: truckload
    service_level: premium
    rating: 4.5
    operating_radius_miles: 300
    base: {city: Gurugram, lat: 28.4595, lng: 77.0266}
    status: active
  - id: C2
    name: Coastal Freight
    carrier_type: ltl
    service_level: standard
    rating: 4.0
    operating_radius_miles: 100
    base: {city: Pune, lat: 18.5204, lng: 73.8567}
    status: active
bids:
  - id: B1
    name: Q3 north corridor
    lanes: [L1]
    submission_deadline: 2025-06-20T00:00:00Z
    currency: INR
    min_carrier_rating: 3.5
`

var testNow = time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	notes []alerting.Notification
}

func (r *recordingNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	r.notes = append(r.notes, note)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Scheduler: config.SchedulerConfig{Interval: 24 * time.Hour},
		FuelFeed:  config.FuelFeedConfig{Regions: []string{"All India"}, Currency: "INR"},
		Alerting:  config.AlertingConfig{NotifyAwards: true, Channels: []string{"telegram"}},
		Export:    config.ExportConfig{MaxDataPoints: 1000},
		Scoring:   config.ScoringConfig{TypeMatch: 3, Premium: 2, Express: 1, Radius: 1},
		Pricing: config.PricingConfig{
			DefaultRegion:   "All India",
			DefaultCurrency: "INR",
			Fallback:        "none",
			RecordHistory:   true,
		},
	}
}

func newTestApp(t *testing.T, store *storage.MemoryStore, notifier alerting.Notifier) (*App, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	opts := []Option{WithBackend(store), WithOutput(out)}
	if notifier != nil {
		opts = append(opts, WithNotifier(notifier))
	}
	a := NewApp(testConfig(), zerolog.Nop(), opts...)
	a.now = func() time.Time { return testNow }
	return a, out
}

func importFixture(t *testing.T, a *App) ImportResult {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.yaml")
	if err := os.WriteFile(path, []byte(fixture), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	file, err := LoadImportFile(path)
	if err != nil {
		t.Fatalf("加载导入文件失败: %v", err)
	}
	res, err := a.Import(context.Background(), file)
	if err != nil {
		t.Fatalf("导入失败: %v", err)
	}
	return res
}

func TestImportDecodesReferenceData(t *testing.T) {
	store := storage.NewMemoryStore()
	a, _ := newTestApp(t, store, nil)
	res := importFixture(t, a)

	if res.Slabs != 2 || res.Accessorials != 1 || res.Lanes != 1 || res.Carriers != 2 || res.Bids != 1 {
		t.Fatalf("unexpected import counts: %+v", res)
	}

	ctx := context.Background()
	bid, err := store.GetBid(ctx, "B1")
	if err != nil {
		t.Fatalf("get bid: %v", err)
	}
	if bid.Status != procurement.BidDraft || !bid.SubmissionDeadline.Equal(time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected bid: %+v", bid)
	}
	if !bid.Requirements.MinCarrierRating.Valid || !bid.Requirements.MinCarrierRating.Decimal.Equal(decimal.RequireFromString("3.5")) {
		t.Fatalf("min rating not decoded: %+v", bid.Requirements)
	}

	carrier, _ := store.GetCarrier(ctx, "C1")
	if !carrier.Rating.Equal(decimal.RequireFromString("4.5")) || carrier.Base.Lat == nil {
		t.Fatalf("carrier not decoded: %+v", carrier)
	}

	catalog, err := store.LoadRateCatalog(ctx)
	if err != nil || catalog.Len() != 2 {
		t.Fatalf("catalog: len=%d err=%v", catalog.Len(), err)
	}
	book, _ := store.LoadAccessorialBook(ctx)
	if defs := book.Definitions(); len(defs) != 1 || defs[0].Code != "DETENTION" || !defs[0].Active {
		t.Fatalf("accessorial not decoded: %+v", defs)
	}
}

func TestImportRejectsOverlappingSlab(t *testing.T) {
	store := storage.NewMemoryStore()
	a, _ := newTestApp(t, store, nil)
	importFixture(t, a)

	overlap := ImportFile{Slabs: []SlabRecord{{
		EffectiveDate:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		PriceMin:         decimal.NewFromInt(85),
		PriceMax:         decimal.NewFromInt(95),
		SurchargePercent: ptrDecimal("3"),
		Currency:         "INR",
		Region:           "All India",
	}}}
	if _, err := a.Import(context.Background(), overlap); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("overlapping slab should be rejected, got %v", err)
	}
	if slabs, _ := store.ListActiveSlabs(context.Background()); len(slabs) != 2 {
		t.Fatalf("nothing should be written, got %d slabs", len(slabs))
	}
}

func TestAwardFlowWithPricing(t *testing.T) {
	store := storage.NewMemoryStore()
	notifier := &recordingNotifier{}
	a, out := newTestApp(t, store, notifier)
	importFixture(t, a)
	ctx := context.Background()

	if _, err := a.PublishBid(ctx, "B1", "manager"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := a.OpenBid(ctx, "B1", "manager"); err != nil {
		t.Fatalf("open: %v", err)
	}

	winner, err := a.SubmitResponse(ctx, SubmitInput{BidID: "B1", CarrierID: "C1", Rate: "25000", RateType: "per_load", TransitTimeHours: 36})
	if err != nil {
		t.Fatalf("submit C1: %v", err)
	}
	loser, err := a.SubmitResponse(ctx, SubmitInput{BidID: "B1", CarrierID: "C2", Rate: "23000", RateType: "per_load"})
	if err != nil {
		t.Fatalf("submit C2: %v", err)
	}
	if winner.Currency != "INR" || winner.TransitTimeHours == nil || *winner.TransitTimeHours != 36 {
		t.Fatalf("unexpected response: %+v", winner)
	}

	ranked, err := a.RankBid(ctx, "B1")
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if len(ranked) != 2 || ranked[0].ResponseID != winner.ID {
		t.Fatalf("premium truckload carrier should rank first: %+v", ranked)
	}
	if !ranked[0].Score.Equal(decimal.RequireFromString("10.5")) {
		t.Fatalf("unexpected top score %s", ranked[0].Score)
	}

	result, err := a.AcceptResponse(ctx, AcceptInput{
		ResponseID:   winner.ID,
		Actor:        "manager",
		Price:        true,
		FuelPrice:    "91.20",
		Accessorials: []string{"detention=2"},
	})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if result.Bid.Status != procurement.BidAwarded || result.Quote == nil {
		t.Fatalf("unexpected outcome: %+v", result)
	}
	if !result.Quote.SurchargeAmount.Equal(decimal.RequireFromString("1125")) || !result.Quote.Total.Equal(decimal.RequireFromString("27125")) {
		t.Fatalf("unexpected quote: surcharge=%s total=%s", result.Quote.SurchargeAmount, result.Quote.Total)
	}
	if !result.Quote.Recorded {
		t.Fatal("award pricing should be recorded")
	}

	rejected, _ := store.GetResponse(ctx, loser.ID)
	if rejected.Status != procurement.ResponseRejected {
		t.Fatalf("losing response should be rejected, got %s", rejected.Status)
	}

	if len(notifier.notes) != 1 || notifier.notes[0].Kind != alerting.KindAward {
		t.Fatalf("expected one award notification, got %+v", notifier.notes)
	}
	award := notifier.notes[0].Award
	if award.CarrierName != "Northline Logistics" || !award.Total.Valid {
		t.Fatalf("award notification incomplete: %+v", award)
	}

	if err := a.Show(ctx, ShowOptions{BidID: "B1"}); err != nil {
		t.Fatalf("show bid: %v", err)
	}
	text := out.String()
	for _, want := range []string{"Status: awarded", "bid_awarded", "response_rejected"} {
		if !strings.Contains(text, want) {
			t.Fatalf("show output should contain %q:\n%s", want, text)
		}
	}

	if _, err := a.CancelBid(ctx, "B1", "manager"); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Fatalf("awarded bid cannot be cancelled, got %v", err)
	}
}

func TestAcceptPricingFailureKeepsBidOpen(t *testing.T) {
	store := storage.NewMemoryStore()
	a, _ := newTestApp(t, store, nil)
	importFixture(t, a)
	ctx := context.Background()

	a.Config.Lifecycle.OpenOnPublish = true
	if out, err := a.PublishBid(ctx, "B1", "manager"); err != nil || out.Bid.Status != procurement.BidOpen {
		t.Fatalf("publish should open the bid: %+v %v", out.Bid, err)
	}
	resp, err := a.SubmitResponse(ctx, SubmitInput{BidID: "B1", CarrierID: "C1", Rate: "25000", RateType: "per_load"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, err = a.AcceptResponse(ctx, AcceptInput{ResponseID: resp.ID, Actor: "manager", Price: true, FuelPrice: "120"})
	if err == nil {
		t.Fatal("price outside the catalog should fail the award")
	}
	bid, _ := store.GetBid(ctx, "B1")
	if bid.Status != procurement.BidOpen {
		t.Fatalf("failed award must not change the bid, got %s", bid.Status)
	}

	if _, err := a.AcceptResponse(ctx, AcceptInput{ResponseID: resp.ID, Actor: "manager", Price: true}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing fuel price should be rejected, got %v", err)
	}
}

func TestSubmitValidation(t *testing.T) {
	store := storage.NewMemoryStore()
	a, _ := newTestApp(t, store, nil)

	cases := []struct {
		name string
		in   SubmitInput
	}{
		{"missing bid", SubmitInput{CarrierID: "C1", Rate: "100", RateType: "per_load"}},
		{"bad rate", SubmitInput{BidID: "B1", CarrierID: "C1", Rate: "abc", RateType: "per_load"}},
		{"zero rate", SubmitInput{BidID: "B1", CarrierID: "C1", Rate: "0", RateType: "per_load"}},
		{"unknown rate type", SubmitInput{BidID: "B1", CarrierID: "C1", Rate: "100", RateType: "per_parsec"}},
		{"bad currency", SubmitInput{BidID: "B1", CarrierID: "C1", Rate: "100", RateType: "per_load", Currency: "RUPEE"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := a.SubmitResponse(context.Background(), tc.in); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestQuoteUsesLatestRecordedFuelPrice(t *testing.T) {
	store := storage.NewMemoryStore()
	a, out := newTestApp(t, store, nil)
	importFixture(t, a)
	ctx := context.Background()

	for _, s := range []struct {
		day   int
		price string
	}{{8, "88.00"}, {9, "92.40"}, {11, "81.00"}} {
		if err := store.UpsertFuelSample(ctx, storage.FuelPriceSample{
			Date:     time.Date(2025, 6, s.day, 0, 0, 0, 0, time.UTC),
			Region:   "All India",
			Currency: "INR",
			Price:    decimal.RequireFromString(s.price),
		}); err != nil {
			t.Fatalf("seed sample: %v", err)
		}
	}

	quote, err := a.Quote(ctx, QuoteInput{BaseFreight: "10000"})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !quote.FuelPrice.Equal(decimal.RequireFromString("92.40")) {
		t.Fatalf("should use the 9 June sample, got %s", quote.FuelPrice)
	}
	if !quote.SurchargeAmount.Equal(decimal.NewFromInt(450)) || !quote.Recorded {
		t.Fatalf("unexpected quote: %+v", quote)
	}

	a.PrintQuote(quote)
	if !strings.Contains(out.String(), "10450.00 INR") {
		t.Fatalf("quote output missing total:\n%s", out.String())
	}

	if _, err := a.Quote(ctx, QuoteInput{BaseFreight: "10000", FuelPrice: "150"}); err == nil {
		t.Fatal("price outside the catalog without fallback should fail")
	}
	nearest, err := a.Quote(ctx, QuoteInput{BaseFreight: "10000", FuelPrice: "150", Fallback: "nearest"})
	if err != nil || !nearest.SurchargePercent.Equal(decimal.RequireFromString("4.5")) {
		t.Fatalf("nearest fallback: %+v %v", nearest, err)
	}
}

func TestRecommendUsesGreatCircleDistance(t *testing.T) {
	store := storage.NewMemoryStore()
	a, _ := newTestApp(t, store, nil)
	importFixture(t, a)

	rec, err := a.Recommend(context.Background(), RecommendOptions{BidID: "B1"})
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if len(rec.Matches) != 1 || rec.Matches[0].CarrierID != "C1" {
		t.Fatalf("unexpected recommendation: %+v", rec)
	}
}

func TestCommandsRequireDatabase(t *testing.T) {
	a := NewApp(testConfig(), zerolog.Nop())
	ctx := context.Background()

	if _, err := a.PublishBid(ctx, "B1", "manager"); !errors.Is(err, ErrNoDatabase) {
		t.Fatalf("expected ErrNoDatabase, got %v", err)
	}
	if err := a.Show(ctx, ShowOptions{}); !errors.Is(err, ErrNoDatabase) {
		t.Fatalf("expected ErrNoDatabase, got %v", err)
	}
	if _, err := a.Migrate(); !errors.Is(err, ErrNoDatabase) {
		t.Fatalf("expected ErrNoDatabase, got %v", err)
	}
}

func TestExportWritesCSVAndWorkbook(t *testing.T) {
	store := storage.NewMemoryStore()
	a, _ := newTestApp(t, store, nil)
	importFixture(t, a)
	ctx := context.Background()

	for i, price := range []string{"88.00", "89.50", "91.20"} {
		if err := store.UpsertFuelSample(ctx, storage.FuelPriceSample{
			Date:     time.Date(2025, 6, 1+i, 0, 0, 0, 0, time.UTC),
			Region:   "All India",
			Currency: "INR",
			Source:   "IOC",
			Price:    decimal.RequireFromString(price),
			Official: true,
		}); err != nil {
			t.Fatalf("upsert fuel sample %s: %v", price, err)
		}
	}
	slab := int64(2)
	if _, err := store.RecordCalculation(ctx, pricing.Calculation{
		CalculatedAt:     time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC),
		Region:           "All India",
		Currency:         "INR",
		BaseFreight:      decimal.NewFromInt(10000),
		FuelPrice:        decimal.RequireFromString("91.20"),
		SurchargePercent: decimal.RequireFromString("4.5"),
		SurchargeAmount:  decimal.NewFromInt(450),
		Total:            decimal.NewFromInt(10450),
		SlabID:           &slab,
		Method:           "fixed",
	}); err != nil {
		t.Fatalf("record calculation: %v", err)
	}

	dir := t.TempDir()
	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	opts := ExportOptions{
		From:     &from,
		To:       &to,
		CSVPath:  filepath.Join(dir, "out", "fuel.csv"),
		XLSXPath: filepath.Join(dir, "calcs.xlsx"),
	}
	if err := a.Export(ctx, opts); err != nil {
		t.Fatalf("export: %v", err)
	}

	f, err := os.Open(opts.CSVPath)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header + 3 rows, got %d", len(rows))
	}
	if rows[3][4] != "91.2" || rows[3][6] != "2" || rows[3][7] != "4.5000" {
		t.Fatalf("unexpected last row: %v", rows[3])
	}

	book, err := excelize.OpenFile(opts.XLSXPath)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer book.Close()
	count, _ := book.GetCellValue("Summary", "B3")
	total, _ := book.GetCellValue("Calculations", "P2")
	if count != "1" || total != "10450.00" {
		t.Fatalf("unexpected workbook values: count=%q total=%q", count, total)
	}
}

func TestExportRequiresAnOutput(t *testing.T) {
	a, _ := newTestApp(t, storage.NewMemoryStore(), nil)
	if err := a.Export(context.Background(), ExportOptions{}); err == nil {
		t.Fatal("export without outputs should fail")
	}
}

func TestParseUsages(t *testing.T) {
	usages, err := ParseUsages([]string{"detention=2", " loading = 1.5 @ 300"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(usages) != 2 || usages[0].Code != "DETENTION" || !usages[0].Quantity.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("unexpected usages: %+v", usages)
	}
	if !usages[1].Rate.Valid || !usages[1].Rate.Decimal.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("rate override not parsed: %+v", usages[1])
	}

	for _, bad := range []string{"detention", "=2", "detention=x", "detention=1@y"} {
		if _, err := ParseUsages([]string{bad}); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%q should be rejected, got %v", bad, err)
		}
	}
}

func TestDownsampleKeepsEnds(t *testing.T) {
	samples := make([]storage.FuelPriceSample, 10)
	for i := range samples {
		samples[i].Price = decimal.NewFromInt(int64(i))
	}
	out := downsampleSamples(samples, 4)
	if len(out) != 4 || !out[0].Price.IsZero() || !out[3].Price.Equal(decimal.NewFromInt(9)) {
		t.Fatalf("unexpected downsample: %+v", out)
	}
}

func ptrDecimal(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}
