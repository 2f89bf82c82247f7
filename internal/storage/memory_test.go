package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"freight-procurement/internal/lifecycle"
	"freight-procurement/internal/procurement"
)

func seedBid(t *testing.T, s *MemoryStore) procurement.Bid {
	t.Helper()
	bid := procurement.Bid{ID: "B1", Status: procurement.BidOpen, LaneIDs: []string{"L1"}, Currency: "INR"}
	if err := s.InsertBid(context.Background(), bid); err != nil {
		t.Fatalf("insert bid: %v", err)
	}
	got, err := s.GetBid(context.Background(), "B1")
	if err != nil {
		t.Fatalf("get bid: %v", err)
	}
	return got
}

func TestMemoryStoreBidVersionCheck(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	bid := seedBid(t, s)
	if bid.Version != 1 {
		t.Fatalf("new bid should start at version 1, got %d", bid.Version)
	}

	stale := bid
	bid.Status = procurement.BidClosed
	if err := s.UpdateBid(ctx, bid); err != nil {
		t.Fatalf("update: %v", err)
	}
	stale.Status = procurement.BidAwarded
	if err := s.UpdateBid(ctx, stale); !errors.Is(err, procurement.ErrVersionConflict) {
		t.Fatalf("stale write should be a version conflict, got %v", err)
	}

	got, _ := s.GetBid(ctx, "B1")
	if got.Status != procurement.BidClosed || got.Version != 2 {
		t.Fatalf("unexpected stored bid: status=%s version=%d", got.Status, got.Version)
	}

	if _, err := s.GetBid(ctx, "missing"); !errors.Is(err, procurement.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.InsertBid(ctx, procurement.Bid{ID: "B1"}); !errors.Is(err, procurement.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestMemoryStoreDuplicateResponse(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedBid(t, s)

	resp := procurement.Response{ID: "R1", BidID: "B1", CarrierID: "C1", Status: procurement.ResponseSubmitted}
	if err := s.InsertResponse(ctx, resp); err != nil {
		t.Fatalf("insert: %v", err)
	}
	resp.ID = "R2"
	if err := s.InsertResponse(ctx, resp); !errors.Is(err, procurement.ErrDuplicate) {
		t.Fatalf("same bid and carrier should be a duplicate, got %v", err)
	}
}

func TestMemoryStoreAtomicRollsBack(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedBid(t, s)
	boom := errors.New("boom")

	err := s.Atomic(ctx, func(tx lifecycle.Store) error {
		bid, err := tx.LockBid(ctx, "B1")
		if err != nil {
			return err
		}
		bid.Status = procurement.BidCancelled
		if err := tx.UpdateBid(ctx, bid); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, procurement.Event{ID: "E1", BidID: "B1", Kind: procurement.EventBidCancelled}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}

	got, _ := s.GetBid(ctx, "B1")
	if got.Status != procurement.BidOpen || got.Version != 1 {
		t.Fatalf("failed unit of work must not leak writes: %+v", got)
	}
	events, _ := s.ListEvents(ctx, "B1")
	if len(events) != 0 {
		t.Fatalf("events should be rolled back, got %d", len(events))
	}
}

func TestMemoryStoreAdvisoryLock(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	release, ok, err := s.TryAdvisoryLock(ctx, 42)
	if err != nil || !ok {
		t.Fatalf("first lock should succeed: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := s.TryAdvisoryLock(ctx, 42); ok {
		t.Fatal("second lock on the same key should fail")
	}
	release()
	if _, ok, _ := s.TryAdvisoryLock(ctx, 42); !ok {
		t.Fatal("lock should be free after release")
	}
}

func TestMemoryStoreFuelSamples(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	day := func(d int) time.Time { return time.Date(2025, 6, d, 0, 0, 0, 0, time.UTC) }

	for i, price := range []string{"86.10", "87.40", "91.05"} {
		sample := FuelPriceSample{Date: day(i + 1), Region: "All India", Currency: "INR", Source: "feed", Price: decimal.RequireFromString(price)}
		if err := s.UpsertFuelSample(ctx, sample); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	if err := s.UpsertFuelSample(ctx, FuelPriceSample{Date: day(2), Region: "All India", Currency: "INR", Source: "manual", Price: decimal.RequireFromString("88")}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	prev, ok, err := s.LatestFuelSampleBefore(ctx, "All India", "INR", day(3))
	if err != nil || !ok {
		t.Fatalf("expected a previous sample: ok=%v err=%v", ok, err)
	}
	if !prev.Price.Equal(decimal.NewFromInt(88)) || prev.Source != "manual" {
		t.Fatalf("upsert should replace the sample for the same day: %+v", prev)
	}
	if _, ok, _ := s.LatestFuelSampleBefore(ctx, "All India", "INR", day(1)); ok {
		t.Fatal("nothing precedes the first sample")
	}

	between, _ := s.ListFuelSamplesBetween(ctx, day(2), day(3))
	if len(between) != 1 || !between[0].Date.Equal(day(2)) {
		t.Fatalf("range should be half-open: %+v", between)
	}
	recent, _ := s.ListRecentFuelSamples(ctx, 2)
	if len(recent) != 2 || !recent[0].Date.Equal(day(3)) {
		t.Fatalf("recent samples should be newest first: %+v", recent)
	}
}

func TestMemoryStoreSlabAlertsUpsertPerDay(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	date := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)

	first, err := s.InsertSlabAlert(ctx, SlabAlert{SampleDate: date, Region: "All India", Currency: "INR", FuelPrice: decimal.NewFromInt(91)})
	if err != nil {
		t.Fatalf("insert alert: %v", err)
	}
	second, _ := s.InsertSlabAlert(ctx, SlabAlert{SampleDate: date, Region: "All India", Currency: "INR", FuelPrice: decimal.NewFromInt(92)})
	if second.ID != first.ID {
		t.Fatalf("same day alert should replace, got ids %d and %d", first.ID, second.ID)
	}
	alerts, _ := s.ListRecentSlabAlerts(ctx, 10)
	if len(alerts) != 1 || !alerts[0].FuelPrice.Equal(decimal.NewFromInt(92)) {
		t.Fatalf("unexpected alerts: %+v", alerts)
	}

	if err := s.DeleteAlertsBefore(ctx, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	alerts, _ = s.ListRecentSlabAlerts(ctx, 10)
	if len(alerts) != 0 {
		t.Fatalf("alerts should be purged, got %d", len(alerts))
	}
}
