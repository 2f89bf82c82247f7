package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	upsertFuelSampleSQL = `INSERT INTO fuel_price_samples (
        sample_date,
        region,
        currency,
        source,
        price,
        official,
        raw
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (sample_date, region, currency) DO UPDATE
    SET
        source   = EXCLUDED.source,
        price    = EXCLUDED.price,
        official = EXCLUDED.official,
        raw      = EXCLUDED.raw;`

	insertSlabAlertSQL = `INSERT INTO slab_alerts (
        sample_date,
        region,
        currency,
        fuel_price,
        previous_slab_id,
        slab_id,
        previous_percent,
        percent,
        channels
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (sample_date, region, currency) DO UPDATE
    SET fuel_price       = EXCLUDED.fuel_price,
        previous_slab_id = EXCLUDED.previous_slab_id,
        slab_id          = EXCLUDED.slab_id,
        previous_percent = EXCLUDED.previous_percent,
        percent          = EXCLUDED.percent,
        channels         = EXCLUDED.channels
    RETURNING id, created_at;`

	deleteAlertsBeforeSQL = `DELETE FROM slab_alerts WHERE created_at < $1;`
)

var (
	fuelSampleColumns = []string{"sample_date", "region", "currency", "source", "price", "official", "raw", "created_at"}
	slabAlertColumns  = []string{
		"id", "sample_date", "region", "currency", "fuel_price", "previous_slab_id",
		"slab_id", "previous_percent", "percent", "channels", "created_at",
	}
)

// FuelSampleStore defines operations for fuel price sample persistence.
type FuelSampleStore interface {
	UpsertFuelSample(ctx context.Context, sample FuelPriceSample) error
	LatestFuelSampleBefore(ctx context.Context, region, currency string, date time.Time) (FuelPriceSample, bool, error)
	ListFuelSamplesBetween(ctx context.Context, from, to time.Time) ([]FuelPriceSample, error)
	ListRecentFuelSamples(ctx context.Context, limit int) ([]FuelPriceSample, error)
}

// AlertStore defines operations for slab alert auditing.
type AlertStore interface {
	InsertSlabAlert(ctx context.Context, alert SlabAlert) (SlabAlert, error)
	ListRecentSlabAlerts(ctx context.Context, limit int) ([]SlabAlert, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// UpsertFuelSample persists or replaces the sample for its date, region and currency.
func (s *Store) UpsertFuelSample(ctx context.Context, sample FuelPriceSample) error {
	db, err := s.db()
	if err != nil {
		return err
	}
	raw := []byte(sample.Raw)
	if len(raw) == 0 {
		raw = nil
	}
	if _, err := db.Exec(ctx, upsertFuelSampleSQL,
		sample.Date,
		sample.Region,
		sample.Currency,
		sample.Source,
		decimalArg(sample.Price),
		sample.Official,
		raw,
	); err != nil {
		return fmt.Errorf("upsert fuel sample: %w", err)
	}
	return nil
}

// LatestFuelSampleBefore returns the most recent sample strictly before date.
func (s *Store) LatestFuelSampleBefore(ctx context.Context, region, currency string, date time.Time) (FuelPriceSample, bool, error) {
	db, err := s.db()
	if err != nil {
		return FuelPriceSample{}, false, err
	}
	query, args, err := psql.Select(fuelSampleColumns...).
		From("fuel_price_samples").
		Where(sq.Eq{"region": region, "currency": currency}).
		Where(sq.Lt{"sample_date": date}).
		OrderBy("sample_date DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return FuelPriceSample{}, false, fmt.Errorf("build latest fuel sample: %w", err)
	}

	sample, err := scanFuelSample(db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FuelPriceSample{}, false, nil
		}
		return FuelPriceSample{}, false, fmt.Errorf("latest fuel sample: %w", err)
	}
	return sample, true, nil
}

// ListFuelSamplesBetween lists samples with from <= date < to.
func (s *Store) ListFuelSamplesBetween(ctx context.Context, from, to time.Time) ([]FuelPriceSample, error) {
	query, args, err := psql.Select(fuelSampleColumns...).
		From("fuel_price_samples").
		Where(sq.GtOrEq{"sample_date": from}).
		Where(sq.Lt{"sample_date": to}).
		OrderBy("sample_date", "region", "currency").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list fuel samples: %w", err)
	}
	return s.queryFuelSamples(ctx, query, args)
}

// ListRecentFuelSamples lists the most recent samples ordered by descending date.
func (s *Store) ListRecentFuelSamples(ctx context.Context, limit int) ([]FuelPriceSample, error) {
	query, args, err := psql.Select(fuelSampleColumns...).
		From("fuel_price_samples").
		OrderBy("sample_date DESC", "region", "currency").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent fuel samples: %w", err)
	}
	return s.queryFuelSamples(ctx, query, args)
}

func (s *Store) queryFuelSamples(ctx context.Context, query string, args []any) ([]FuelPriceSample, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list fuel samples: %w", err)
	}
	defer rows.Close()

	samples := make([]FuelPriceSample, 0)
	for rows.Next() {
		sample, err := scanFuelSample(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

// InsertSlabAlert persists a slab-shift alert; one per date, region and currency.
func (s *Store) InsertSlabAlert(ctx context.Context, alert SlabAlert) (SlabAlert, error) {
	db, err := s.db()
	if err != nil {
		return SlabAlert{}, err
	}
	row := db.QueryRow(ctx, insertSlabAlertSQL,
		alert.SampleDate,
		alert.Region,
		alert.Currency,
		decimalArg(alert.FuelPrice),
		alert.PreviousSlabID,
		alert.SlabID,
		nullDecimalArg(alert.PreviousPercent),
		nullDecimalArg(alert.Percent),
		alert.Channels,
	)
	if err := row.Scan(&alert.ID, &alert.CreatedAt); err != nil {
		return SlabAlert{}, fmt.Errorf("insert slab alert: %w", err)
	}
	return alert, nil
}

// ListRecentSlabAlerts lists most recent alerts.
func (s *Store) ListRecentSlabAlerts(ctx context.Context, limit int) ([]SlabAlert, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	query, args, err := psql.Select(slabAlertColumns...).
		From("slab_alerts").
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list slab alerts: %w", err)
	}

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recent alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]SlabAlert, 0, limit)
	for rows.Next() {
		var (
			rec          SlabAlert
			price        string
			prevPct, pct *string
		)
		if err := rows.Scan(
			&rec.ID, &rec.SampleDate, &rec.Region, &rec.Currency, &price, &rec.PreviousSlabID,
			&rec.SlabID, &prevPct, &pct, &rec.Channels, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		if rec.FuelPrice, err = parseDecimal("fuel price", price); err != nil {
			return nil, err
		}
		if rec.PreviousPercent, err = parseNullDecimal("previous percent", prevPct); err != nil {
			return nil, err
		}
		if rec.Percent, err = parseNullDecimal("percent", pct); err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	return alerts, rows.Err()
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	db, err := s.db()
	if err != nil {
		return err
	}
	if _, err := db.Exec(ctx, deleteAlertsBeforeSQL, olderThan); err != nil {
		return fmt.Errorf("delete alerts before: %w", err)
	}
	return nil
}

func scanFuelSample(row pgx.Row) (FuelPriceSample, error) {
	var (
		sample FuelPriceSample
		price  string
		raw    []byte
	)
	if err := row.Scan(
		&sample.Date,
		&sample.Region,
		&sample.Currency,
		&sample.Source,
		&price,
		&sample.Official,
		&raw,
		&sample.CreatedAt,
	); err != nil {
		return FuelPriceSample{}, err
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return FuelPriceSample{}, fmt.Errorf("parse fuel price: %w", err)
	}
	sample.Price = p
	sample.Raw = raw
	return sample, nil
}

var (
	_ FuelSampleStore = (*Store)(nil)
	_ AlertStore      = (*Store)(nil)
	_ AdvisoryLocker  = (*Store)(nil)
)
