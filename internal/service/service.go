package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"freight-procurement/internal/alerting"
	"freight-procurement/internal/fetcher"
	"freight-procurement/internal/ratecard"
	"freight-procurement/internal/scheduler"
	"freight-procurement/internal/storage"
)

// CatalogLoader supplies the rate catalog used to classify fuel prices. It is
// reloaded on every slot so slab edits take effect without a restart.
type CatalogLoader interface {
	LoadRateCatalog(ctx context.Context) (*ratecard.Catalog, error)
}

// StaticCatalog serves a fixed catalog.
type StaticCatalog struct {
	Catalog *ratecard.Catalog
}

// LoadRateCatalog implements CatalogLoader.
func (s StaticCatalog) LoadRateCatalog(ctx context.Context) (*ratecard.Catalog, error) {
	if s.Catalog == nil {
		return nil, errors.New("rate catalog not loaded")
	}
	return s.Catalog, nil
}

// Options tune the ingestion service.
type Options struct {
	Regions   []string
	Currency  string
	Channels  []string
	AlertsOn  bool
	Retention time.Duration
	LockKey   int64
}

// Service ingests fuel prices and raises slab-shift alerts.
type Service struct {
	scheduler *scheduler.Scheduler
	feed      fetcher.FuelPriceFetcher
	samples   storage.FuelSampleStore
	alerts    storage.AlertStore
	catalog   CatalogLoader
	notifier  alerting.Notifier
	locker    storage.AdvisoryLocker
	logger    zerolog.Logger
	opts      Options
	now       func() time.Time
}

// New constructs the ingestion service. samples, alerts and notifier may be nil.
func New(opts Options, sched *scheduler.Scheduler, feed fetcher.FuelPriceFetcher, samples storage.FuelSampleStore, alerts storage.AlertStore, catalog CatalogLoader, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := samples.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler: sched,
		feed:      feed,
		samples:   samples,
		alerts:    alerts,
		catalog:   catalog,
		notifier:  notifier,
		locker:    locker,
		logger:    logger.With().Str("component", "service").Logger(),
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run begins the aligned sampling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessSlot)
}

// ProcessSlot 拉取每个区域的最新油价并检测档位变化。
func (s *Service) ProcessSlot(ctx context.Context, slot time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("slot", slot).Msg("skip slot because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	catalog, err := s.loadCatalog(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, region := range s.opts.Regions {
		price, err := s.feed.FetchLatest(ctx, region, s.opts.Currency)
		if err != nil {
			errs = append(errs, fmt.Errorf("fetch %s: %w", region, err))
			continue
		}
		if price.Date.IsZero() {
			price.Date = slot.UTC().Truncate(24 * time.Hour)
		}
		if _, err := s.Ingest(ctx, catalog, price, true); err != nil {
			errs = append(errs, fmt.Errorf("ingest %s: %w", region, err))
		}
	}

	s.pruneAlerts(ctx)
	return errors.Join(errs...)
}

// BackfillResult summarises a backfill run.
type BackfillResult struct {
	Samples int
	Shifts  int
	Failed  int
}

// Backfill ingests historical prices for [from, to) in date order. Shifts are
// recorded but not announced. With dryRun nothing is written.
func (s *Service) Backfill(ctx context.Context, from, to time.Time, dryRun bool) (BackfillResult, error) {
	var result BackfillResult
	catalog, err := s.loadCatalog(ctx)
	if err != nil {
		return result, err
	}

	for _, region := range s.opts.Regions {
		prices, err := s.feed.FetchHistory(ctx, region, s.opts.Currency, from, to)
		if err != nil {
			return result, fmt.Errorf("fetch history %s: %w", region, err)
		}
		sort.SliceStable(prices, func(i, j int) bool { return prices[i].Date.Before(prices[j].Date) })

		for _, price := range prices {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			if dryRun {
				s.logger.Info().Str("region", region).Time("date", price.Date).Str("price", price.Price.String()).Msg("dry-run sample")
				result.Samples++
				continue
			}
			shifted, err := s.Ingest(ctx, catalog, price, false)
			if err != nil {
				result.Failed++
				s.logger.Error().Err(err).Str("region", region).Time("date", price.Date).Msg("backfill sample failed")
				continue
			}
			result.Samples++
			if shifted {
				result.Shifts++
			}
		}
	}
	return result, nil
}

// Ingest stores one price and compares its slab with the previous sample of
// the same region. It reports whether the slab changed.
func (s *Service) Ingest(ctx context.Context, catalog *ratecard.Catalog, price fetcher.FuelPrice, notify bool) (bool, error) {
	if s.samples == nil {
		s.logger.Warn().Str("region", price.Region).Msg("no sample store; price not persisted")
		return false, nil
	}

	previous, found, err := s.samples.LatestFuelSampleBefore(ctx, price.Region, price.Currency, price.Date)
	if err != nil {
		return false, fmt.Errorf("load previous sample: %w", err)
	}

	sample := storage.FuelPriceSample{
		Date:      price.Date,
		Region:    price.Region,
		Currency:  price.Currency,
		Source:    price.Source,
		Price:     price.Price,
		Official:  price.Official,
		Raw:       price.Raw,
		CreatedAt: s.now(),
	}
	if err := s.samples.UpsertFuelSample(ctx, sample); err != nil {
		return false, fmt.Errorf("upsert sample: %w", err)
	}

	s.logger.Info().Str("region", price.Region).
		Time("date", price.Date).
		Str("price", price.Price.String()).
		Bool("official", price.Official).
		Msg("fuel price recorded")

	if !found || catalog == nil {
		return false, nil
	}

	prevSlab, prevPct, err := classify(catalog, previous.Price, previous.Region, previous.Currency, previous.Date)
	if err != nil {
		return false, err
	}
	slab, pct, err := classify(catalog, price.Price, price.Region, price.Currency, price.Date)
	if err != nil {
		return false, err
	}
	if sameSlab(prevSlab, slab) {
		return false, nil
	}

	s.logger.Warn().Str("region", price.Region).
		Str("previous_price", previous.Price.String()).
		Str("price", price.Price.String()).
		Msg("fuel price moved to a different slab")

	if s.alerts != nil {
		if _, err := s.alerts.InsertSlabAlert(ctx, storage.SlabAlert{
			SampleDate:      price.Date,
			Region:          price.Region,
			Currency:        price.Currency,
			FuelPrice:       price.Price,
			PreviousSlabID:  prevSlab,
			SlabID:          slab,
			PreviousPercent: prevPct,
			Percent:         pct,
			Channels:        s.opts.Channels,
		}); err != nil {
			s.logger.Error().Err(err).Str("region", price.Region).Msg("failed to persist slab alert")
		}
	}

	if notify && s.opts.AlertsOn && s.notifier != nil {
		note := alerting.Notification{
			Kind:     alerting.KindSlabShift,
			At:       price.Date,
			Channels: s.opts.Channels,
			SlabShift: &alerting.SlabShift{
				Region:          price.Region,
				Currency:        price.Currency,
				PreviousPrice:   previous.Price,
				FuelPrice:       price.Price,
				PreviousSlabID:  prevSlab,
				SlabID:          slab,
				PreviousPercent: prevPct,
				Percent:         pct,
			},
		}
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Str("region", price.Region).Msg("failed to dispatch alert")
		}
	}
	return true, nil
}

// classify returns the slab a price falls in. A price outside every bracket
// has no slab and no percentage.
func classify(catalog *ratecard.Catalog, price decimal.Decimal, region, currency string, asOf time.Time) (*int64, decimal.NullDecimal, error) {
	res, err := catalog.Resolve(price, region, currency, asOf)
	if errors.Is(err, ratecard.ErrNoApplicableSlab) {
		return nil, decimal.NullDecimal{}, nil
	}
	if err != nil {
		return nil, decimal.NullDecimal{}, fmt.Errorf("resolve slab: %w", err)
	}
	id := res.Slab.ID
	return &id, decimal.NewNullDecimal(res.Percent), nil
}

func sameSlab(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *Service) loadCatalog(ctx context.Context) (*ratecard.Catalog, error) {
	if s.catalog == nil {
		return nil, nil
	}
	catalog, err := s.catalog.LoadRateCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rate catalog: %w", err)
	}
	return catalog, nil
}

func (s *Service) pruneAlerts(ctx context.Context) {
	if s.alerts == nil || s.opts.Retention <= 0 {
		return
	}
	if err := s.alerts.DeleteAlertsBefore(ctx, s.now().Add(-s.opts.Retention)); err != nil {
		s.logger.Error().Err(err).Msg("failed to prune alerts")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
