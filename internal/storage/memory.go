package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"freight-procurement/internal/accessorial"
	"freight-procurement/internal/lifecycle"
	"freight-procurement/internal/pricing"
	"freight-procurement/internal/procurement"
	"freight-procurement/internal/ratecard"
)

// MemoryStore keeps every record in process memory. Atomic units of work run
// against a private copy under a single mutex and replace the live data only
// when they succeed. It backs tests and runs without a database.
type MemoryStore struct {
	mu    sync.Mutex
	data  *memoryData
	locks map[int64]struct{}
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemoryData(), locks: make(map[int64]struct{})}
}

// Close is a no-op.
func (s *MemoryStore) Close() {}

// TryAdvisoryLock mirrors the Postgres advisory lock within one process.
func (s *MemoryStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.locks[key]; held {
		return nil, false, nil
	}
	s.locks[key] = struct{}{}
	return func() {
		s.mu.Lock()
		delete(s.locks, key)
		s.mu.Unlock()
	}, true, nil
}

type sampleKey struct {
	date     time.Time
	region   string
	currency string
}

type memoryData struct {
	bids         map[string]procurement.Bid
	lanes        map[string]procurement.Lane
	carriers     map[string]procurement.Carrier
	responses    map[string]procurement.Response
	events       []procurement.Event
	calculations []pricing.Calculation
	samples      map[sampleKey]FuelPriceSample
	alerts       []SlabAlert
	slabs        []ratecard.Slab
	accessorials map[string]accessorial.Definition
}

func newMemoryData() *memoryData {
	return &memoryData{
		bids:         make(map[string]procurement.Bid),
		lanes:        make(map[string]procurement.Lane),
		carriers:     make(map[string]procurement.Carrier),
		responses:    make(map[string]procurement.Response),
		samples:      make(map[sampleKey]FuelPriceSample),
		accessorials: make(map[string]accessorial.Definition),
	}
}

func (d *memoryData) clone() *memoryData {
	c := newMemoryData()
	for k, v := range d.bids {
		c.bids[k] = v
	}
	for k, v := range d.lanes {
		c.lanes[k] = v
	}
	for k, v := range d.carriers {
		c.carriers[k] = v
	}
	for k, v := range d.responses {
		c.responses[k] = v
	}
	for k, v := range d.samples {
		c.samples[k] = v
	}
	c.events = append([]procurement.Event(nil), d.events...)
	c.calculations = append([]pricing.Calculation(nil), d.calculations...)
	c.alerts = append([]SlabAlert(nil), d.alerts...)
	c.slabs = append([]ratecard.Slab(nil), d.slabs...)
	for k, v := range d.accessorials {
		c.accessorials[k] = v
	}
	return c
}

// Atomic runs fn against a snapshot and commits it when fn succeeds.
func (s *MemoryStore) Atomic(ctx context.Context, fn func(tx lifecycle.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := s.data.clone()
	if err := fn(snapshot); err != nil {
		return err
	}
	s.data = snapshot
	return nil
}

// InsertBid stores a new bid.
func (s *MemoryStore) InsertBid(ctx context.Context, bid procurement.Bid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.bids[bid.ID]; ok {
		return fmt.Errorf("insert bid %s: %w", bid.ID, procurement.ErrDuplicate)
	}
	if bid.Version == 0 {
		bid.Version = 1
	}
	s.data.bids[bid.ID] = bid
	return nil
}

// InsertLane stores a new lane.
func (s *MemoryStore) InsertLane(ctx context.Context, lane procurement.Lane) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.lanes[lane.ID]; ok {
		return fmt.Errorf("insert lane %s: %w", lane.ID, procurement.ErrDuplicate)
	}
	s.data.lanes[lane.ID] = lane
	return nil
}

// InsertCarrier stores a new carrier.
func (s *MemoryStore) InsertCarrier(ctx context.Context, c procurement.Carrier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.carriers[c.ID]; ok {
		return fmt.Errorf("insert carrier %s: %w", c.ID, procurement.ErrDuplicate)
	}
	s.data.carriers[c.ID] = c
	return nil
}

func (s *MemoryStore) GetBid(ctx context.Context, id string) (procurement.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.GetBid(ctx, id)
}

// LockBid outside Atomic is a plain read.
func (s *MemoryStore) LockBid(ctx context.Context, id string) (procurement.Bid, error) {
	return s.GetBid(ctx, id)
}

func (s *MemoryStore) GetResponse(ctx context.Context, id string) (procurement.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.GetResponse(ctx, id)
}

func (s *MemoryStore) GetCarrier(ctx context.Context, id string) (procurement.Carrier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.GetCarrier(ctx, id)
}

func (s *MemoryStore) ListLanes(ctx context.Context, ids []string) ([]procurement.Lane, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.ListLanes(ctx, ids)
}

func (s *MemoryStore) ListCarriers(ctx context.Context, filter procurement.CarrierFilter) ([]procurement.Carrier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.ListCarriers(ctx, filter)
}

func (s *MemoryStore) ListResponses(ctx context.Context, filter procurement.ResponseFilter) ([]procurement.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.ListResponses(ctx, filter)
}

func (s *MemoryStore) InsertResponse(ctx context.Context, resp procurement.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.InsertResponse(ctx, resp)
}

func (s *MemoryStore) UpdateBid(ctx context.Context, bid procurement.Bid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.UpdateBid(ctx, bid)
}

func (s *MemoryStore) UpdateResponse(ctx context.Context, resp procurement.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.UpdateResponse(ctx, resp)
}

func (s *MemoryStore) SetLaneStatus(ctx context.Context, ids []string, status procurement.LaneStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.SetLaneStatus(ctx, ids, status)
}

func (s *MemoryStore) AppendEvent(ctx context.Context, event procurement.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.AppendEvent(ctx, event)
}

// ListEvents returns the audit trail of a bid, oldest first.
func (s *MemoryStore) ListEvents(ctx context.Context, bidID string) ([]procurement.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]procurement.Event, 0)
	for _, e := range s.data.events {
		if e.BidID == bidID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListBids lists bids newest first, optionally restricted to the given statuses.
func (s *MemoryStore) ListBids(ctx context.Context, statuses []procurement.BidStatus, limit int) ([]procurement.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]procurement.Bid, 0, len(s.data.bids))
	for _, b := range s.data.bids {
		if len(statuses) > 0 && !containsStatus(statuses, b.Status) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InsertSlab stores a rate slab and returns its id.
func (s *MemoryStore) InsertSlab(ctx context.Context, slab ratecard.Slab) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slab.ID = int64(len(s.data.slabs) + 1)
	s.data.slabs = append(s.data.slabs, slab)
	return slab.ID, nil
}

// ListActiveSlabs returns every stored slab.
func (s *MemoryStore) ListActiveSlabs(ctx context.Context) ([]ratecard.Slab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ratecard.Slab(nil), s.data.slabs...), nil
}

// LoadRateCatalog builds a validated catalog from the stored slabs.
func (s *MemoryStore) LoadRateCatalog(ctx context.Context) (*ratecard.Catalog, error) {
	slabs, err := s.ListActiveSlabs(ctx)
	if err != nil {
		return nil, err
	}
	return ratecard.NewCatalog(slabs)
}

// InsertAccessorial stores an accessorial definition.
func (s *MemoryStore) InsertAccessorial(ctx context.Context, d accessorial.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.accessorials[d.Code]; ok {
		return fmt.Errorf("insert accessorial %s: %w", d.Code, procurement.ErrDuplicate)
	}
	s.data.accessorials[d.Code] = d
	return nil
}

// LoadAccessorialBook builds the accessorial book from every stored definition.
func (s *MemoryStore) LoadAccessorialBook(ctx context.Context) (*accessorial.Book, error) {
	s.mu.Lock()
	defs := make([]accessorial.Definition, 0, len(s.data.accessorials))
	for _, d := range s.data.accessorials {
		defs = append(defs, d)
	}
	s.mu.Unlock()
	sort.Slice(defs, func(i, j int) bool { return defs[i].Code < defs[j].Code })
	return accessorial.NewBook(defs)
}

// RecordCalculation appends a calculation to the history.
func (s *MemoryStore) RecordCalculation(ctx context.Context, calc pricing.Calculation) (pricing.Calculation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.RecordCalculation(ctx, calc)
}

// ListCalculations lists calculation history, newest first.
func (s *MemoryStore) ListCalculations(ctx context.Context, filter CalculationFilter) ([]pricing.Calculation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]pricing.Calculation, 0)
	for i := len(s.data.calculations) - 1; i >= 0; i-- {
		c := s.data.calculations[i]
		if filter.BidID != "" && c.Reference.BidID != filter.BidID {
			continue
		}
		if filter.Region != "" && c.Region != filter.Region {
			continue
		}
		if filter.From != nil && c.CalculatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !c.CalculatedAt.Before(*filter.To) {
			continue
		}
		out = append(out, c)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// UpsertFuelSample persists or replaces the sample for its date, region and currency.
func (s *MemoryStore) UpsertFuelSample(ctx context.Context, sample FuelPriceSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sampleKey{date: sample.Date.UTC(), region: sample.Region, currency: sample.Currency}
	if existing, ok := s.data.samples[key]; ok {
		sample.CreatedAt = existing.CreatedAt
	} else if sample.CreatedAt.IsZero() {
		sample.CreatedAt = time.Now().UTC()
	}
	s.data.samples[key] = sample
	return nil
}

// LatestFuelSampleBefore returns the most recent sample strictly before date.
func (s *MemoryStore) LatestFuelSampleBefore(ctx context.Context, region, currency string, date time.Time) (FuelPriceSample, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		best  FuelPriceSample
		found bool
	)
	for k, v := range s.data.samples {
		if k.region != region || k.currency != currency || !k.date.Before(date) {
			continue
		}
		if !found || k.date.After(best.Date) {
			best, found = v, true
		}
	}
	return best, found, nil
}

// ListFuelSamplesBetween lists samples with from <= date < to.
func (s *MemoryStore) ListFuelSamplesBetween(ctx context.Context, from, to time.Time) ([]FuelPriceSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FuelPriceSample, 0)
	for k, v := range s.data.samples {
		if !k.date.Before(from) && k.date.Before(to) {
			out = append(out, v)
		}
	}
	sortSamples(out, false)
	return out, nil
}

// ListRecentFuelSamples lists the most recent samples ordered by descending date.
func (s *MemoryStore) ListRecentFuelSamples(ctx context.Context, limit int) ([]FuelPriceSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FuelPriceSample, 0, len(s.data.samples))
	for _, v := range s.data.samples {
		out = append(out, v)
	}
	sortSamples(out, true)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InsertSlabAlert persists a slab-shift alert; one per date, region and currency.
func (s *MemoryStore) InsertSlabAlert(ctx context.Context, alert SlabAlert) (SlabAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.data.alerts {
		if existing.SampleDate.Equal(alert.SampleDate) && existing.Region == alert.Region && existing.Currency == alert.Currency {
			alert.ID = existing.ID
			alert.CreatedAt = existing.CreatedAt
			s.data.alerts[i] = alert
			return alert, nil
		}
	}
	alert.ID = int64(len(s.data.alerts) + 1)
	alert.CreatedAt = time.Now().UTC()
	s.data.alerts = append(s.data.alerts, alert)
	return alert, nil
}

// ListRecentSlabAlerts lists most recent alerts.
func (s *MemoryStore) ListRecentSlabAlerts(ctx context.Context, limit int) ([]SlabAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SlabAlert, 0, len(s.data.alerts))
	for i := len(s.data.alerts) - 1; i >= 0; i-- {
		out = append(out, s.data.alerts[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *MemoryStore) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.data.alerts[:0]
	for _, a := range s.data.alerts {
		if !a.CreatedAt.Before(olderThan) {
			kept = append(kept, a)
		}
	}
	s.data.alerts = kept
	return nil
}

func sortSamples(samples []FuelPriceSample, newestFirst bool) {
	sort.Slice(samples, func(i, j int) bool {
		a, b := samples[i], samples[j]
		if !a.Date.Equal(b.Date) {
			if newestFirst {
				return a.Date.After(b.Date)
			}
			return a.Date.Before(b.Date)
		}
		if a.Region != b.Region {
			return a.Region < b.Region
		}
		return a.Currency < b.Currency
	})
}

// memoryData implements lifecycle.Store for a unit of work that already holds
// the store mutex.

func (d *memoryData) Atomic(ctx context.Context, fn func(tx lifecycle.Store) error) error {
	return fn(d)
}

func (d *memoryData) GetBid(ctx context.Context, id string) (procurement.Bid, error) {
	bid, ok := d.bids[id]
	if !ok {
		return procurement.Bid{}, fmt.Errorf("get bid %s: %w", id, procurement.ErrNotFound)
	}
	return bid, nil
}

func (d *memoryData) LockBid(ctx context.Context, id string) (procurement.Bid, error) {
	return d.GetBid(ctx, id)
}

func (d *memoryData) GetResponse(ctx context.Context, id string) (procurement.Response, error) {
	resp, ok := d.responses[id]
	if !ok {
		return procurement.Response{}, fmt.Errorf("get response %s: %w", id, procurement.ErrNotFound)
	}
	return resp, nil
}

func (d *memoryData) GetCarrier(ctx context.Context, id string) (procurement.Carrier, error) {
	c, ok := d.carriers[id]
	if !ok {
		return procurement.Carrier{}, fmt.Errorf("get carrier %s: %w", id, procurement.ErrNotFound)
	}
	return c, nil
}

func (d *memoryData) ListLanes(ctx context.Context, ids []string) ([]procurement.Lane, error) {
	out := make([]procurement.Lane, 0, len(ids))
	if ids == nil {
		for _, lane := range d.lanes {
			out = append(out, lane)
		}
	} else {
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			if lane, ok := d.lanes[id]; ok && !seen[id] {
				seen[id] = true
				out = append(out, lane)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *memoryData) ListCarriers(ctx context.Context, filter procurement.CarrierFilter) ([]procurement.Carrier, error) {
	out := make([]procurement.Carrier, 0)
	for _, c := range d.carriers {
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, c.Status) {
			continue
		}
		if filter.CarrierType != "" && c.CarrierType != filter.CarrierType {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *memoryData) ListResponses(ctx context.Context, filter procurement.ResponseFilter) ([]procurement.Response, error) {
	out := make([]procurement.Response, 0)
	for _, r := range d.responses {
		if filter.BidID != "" && r.BidID != filter.BidID {
			continue
		}
		if filter.CarrierID != "" && r.CarrierID != filter.CarrierID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, r.Status) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (d *memoryData) InsertResponse(ctx context.Context, resp procurement.Response) error {
	if _, ok := d.responses[resp.ID]; ok {
		return fmt.Errorf("insert response %s: %w", resp.ID, procurement.ErrDuplicate)
	}
	for _, r := range d.responses {
		if r.BidID == resp.BidID && r.CarrierID == resp.CarrierID {
			return fmt.Errorf("insert response: %w: carrier %s on bid %s", procurement.ErrDuplicate, resp.CarrierID, resp.BidID)
		}
	}
	if resp.Version == 0 {
		resp.Version = 1
	}
	d.responses[resp.ID] = resp
	return nil
}

func (d *memoryData) UpdateBid(ctx context.Context, bid procurement.Bid) error {
	current, ok := d.bids[bid.ID]
	if !ok {
		return fmt.Errorf("update bid %s: %w", bid.ID, procurement.ErrNotFound)
	}
	if current.Version != bid.Version {
		return fmt.Errorf("update bid %s: %w", bid.ID, procurement.ErrVersionConflict)
	}
	bid.Version++
	d.bids[bid.ID] = bid
	return nil
}

func (d *memoryData) UpdateResponse(ctx context.Context, resp procurement.Response) error {
	current, ok := d.responses[resp.ID]
	if !ok {
		return fmt.Errorf("update response %s: %w", resp.ID, procurement.ErrNotFound)
	}
	if current.Version != resp.Version {
		return fmt.Errorf("update response %s: %w", resp.ID, procurement.ErrVersionConflict)
	}
	resp.Version++
	d.responses[resp.ID] = resp
	return nil
}

func (d *memoryData) SetLaneStatus(ctx context.Context, ids []string, status procurement.LaneStatus) error {
	now := time.Now().UTC()
	for _, id := range ids {
		lane, ok := d.lanes[id]
		if !ok {
			continue
		}
		lane.Status = status
		lane.UpdatedAt = now
		d.lanes[id] = lane
	}
	return nil
}

func (d *memoryData) AppendEvent(ctx context.Context, event procurement.Event) error {
	d.events = append(d.events, event)
	return nil
}

func (d *memoryData) RecordCalculation(ctx context.Context, calc pricing.Calculation) (pricing.Calculation, error) {
	calc.ID = int64(len(d.calculations) + 1)
	d.calculations = append(d.calculations, calc)
	return calc, nil
}

func containsStatus[T comparable](statuses []T, s T) bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}

var (
	_ lifecycle.Store      = (*MemoryStore)(nil)
	_ lifecycle.Store      = (*memoryData)(nil)
	_ pricing.HistoryStore = (*MemoryStore)(nil)
	_ FuelSampleStore      = (*MemoryStore)(nil)
	_ AlertStore           = (*MemoryStore)(nil)
	_ AdvisoryLocker       = (*MemoryStore)(nil)
)
