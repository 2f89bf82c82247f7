package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"freight-procurement/internal/accessorial"
	"freight-procurement/internal/pricing"
	"freight-procurement/internal/ratecard"
)

var (
	slabColumns = []string{
		"id", "effective_date", "price_min", "price_max", "surcharge_percent",
		"base_price", "change_per_unit", "currency", "region",
		"min_surcharge_amount", "max_surcharge_amount", "notes",
	}
	accessorialColumns = []string{
		"code", "name", "applies_to", "rate_type", "rate_value", "unit", "taxable",
		"included_in_base", "equipment_types", "carrier_editable", "active",
		"effective_from", "effective_to", "remarks",
	}
	calculationColumns = []string{
		"id", "bid_id", "response_id", "lane_id", "calculated_at", "as_of", "region",
		"currency", "base_freight", "fuel_price", "surcharge_percent", "surcharge_amount",
		"accessorial_total", "total", "slab_id", "method", "notes",
	}
)

// InsertSlab stores a rate slab and returns its id.
func (s *Store) InsertSlab(ctx context.Context, slab ratecard.Slab) (int64, error) {
	db, err := s.db()
	if err != nil {
		return 0, err
	}
	query, args, err := psql.Insert("rate_slabs").
		Columns(slabColumns[1:]...).
		Values(
			slab.EffectiveDate, decimalArg(slab.PriceMin), decimalArg(slab.PriceMax), nullDecimalArg(slab.SurchargePercent),
			decimalArg(slab.BasePrice), nullDecimalArg(slab.ChangePerUnit), slab.Currency, slab.Region,
			nullDecimalArg(slab.MinSurchargeAmount), nullDecimalArg(slab.MaxSurchargeAmount), slab.Notes,
		).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert slab: %w", err)
	}
	var id int64
	if err := db.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return 0, mapError("insert slab", err)
	}
	return id, nil
}

// ListActiveSlabs returns every active slab.
func (s *Store) ListActiveSlabs(ctx context.Context) ([]ratecard.Slab, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	query, args, err := psql.Select(slabColumns...).
		From("rate_slabs").
		Where(sq.Eq{"active": true}).
		OrderBy("currency", "region", "effective_date", "price_min").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list slabs: %w", err)
	}

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError("list slabs", err)
	}
	defer rows.Close()

	slabs := make([]ratecard.Slab, 0)
	for rows.Next() {
		slab, err := scanSlab(rows)
		if err != nil {
			return nil, err
		}
		slabs = append(slabs, slab)
	}
	return slabs, rows.Err()
}

// LoadRateCatalog builds a validated catalog from the active slabs.
func (s *Store) LoadRateCatalog(ctx context.Context) (*ratecard.Catalog, error) {
	slabs, err := s.ListActiveSlabs(ctx)
	if err != nil {
		return nil, err
	}
	return ratecard.NewCatalog(slabs)
}

// InsertAccessorial stores an accessorial definition.
func (s *Store) InsertAccessorial(ctx context.Context, d accessorial.Definition) error {
	db, err := s.db()
	if err != nil {
		return err
	}
	query, args, err := psql.Insert("accessorial_definitions").
		Columns(accessorialColumns...).
		Values(
			d.Code, d.Name, string(d.AppliesTo), string(d.RateType), decimalArg(d.RateValue), d.Unit, d.Taxable,
			d.IncludedInBase, d.EquipmentTypes, d.CarrierEditable, d.Active,
			d.EffectiveFrom, d.EffectiveTo, d.Remarks,
		).ToSql()
	if err != nil {
		return fmt.Errorf("build insert accessorial: %w", err)
	}
	if _, err := db.Exec(ctx, query, args...); err != nil {
		return mapError("insert accessorial", err)
	}
	return nil
}

// LoadAccessorialBook builds the accessorial book from every stored definition.
func (s *Store) LoadAccessorialBook(ctx context.Context) (*accessorial.Book, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	query, args, err := psql.Select(accessorialColumns...).From("accessorial_definitions").OrderBy("code").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list accessorials: %w", err)
	}

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError("list accessorials", err)
	}
	defer rows.Close()

	defs := make([]accessorial.Definition, 0)
	for rows.Next() {
		var (
			d                   accessorial.Definition
			appliesTo, rateType string
			rateValue           string
		)
		if err := rows.Scan(
			&d.Code, &d.Name, &appliesTo, &rateType, &rateValue, &d.Unit, &d.Taxable,
			&d.IncludedInBase, &d.EquipmentTypes, &d.CarrierEditable, &d.Active,
			&d.EffectiveFrom, &d.EffectiveTo, &d.Remarks,
		); err != nil {
			return nil, err
		}
		d.AppliesTo = accessorial.AppliesTo(appliesTo)
		d.RateType = accessorial.RateType(rateType)
		if d.RateValue, err = parseDecimal("rate value", rateValue); err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accessorial.NewBook(defs)
}

// RecordCalculation appends a calculation to the history and returns it with
// its id assigned.
func (s *Store) RecordCalculation(ctx context.Context, calc pricing.Calculation) (pricing.Calculation, error) {
	db, err := s.db()
	if err != nil {
		return pricing.Calculation{}, err
	}
	query, args, err := psql.Insert("calculation_history").
		Columns(calculationColumns[1:]...).
		Values(
			emptyToNil(calc.Reference.BidID), emptyToNil(calc.Reference.ResponseID), emptyToNil(calc.Reference.LaneID),
			calc.CalculatedAt, calc.AsOf, calc.Region, calc.Currency,
			decimalArg(calc.BaseFreight), decimalArg(calc.FuelPrice), decimalArg(calc.SurchargePercent),
			decimalArg(calc.SurchargeAmount), decimalArg(calc.AccessorialTotal), decimalArg(calc.Total),
			calc.SlabID, string(calc.Method), calc.Notes,
		).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return pricing.Calculation{}, fmt.Errorf("build insert calculation: %w", err)
	}
	if err := db.QueryRow(ctx, query, args...).Scan(&calc.ID); err != nil {
		return pricing.Calculation{}, mapError("insert calculation", err)
	}
	return calc, nil
}

// ListCalculations lists calculation history, newest first.
func (s *Store) ListCalculations(ctx context.Context, filter CalculationFilter) ([]pricing.Calculation, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	builder := psql.Select(calculationColumns...).From("calculation_history").OrderBy("calculated_at DESC", "id DESC")
	if filter.BidID != "" {
		builder = builder.Where(sq.Eq{"bid_id": filter.BidID})
	}
	if filter.Region != "" {
		builder = builder.Where(sq.Eq{"region": filter.Region})
	}
	if filter.From != nil {
		builder = builder.Where(sq.GtOrEq{"calculated_at": *filter.From})
	}
	if filter.To != nil {
		builder = builder.Where(sq.Lt{"calculated_at": *filter.To})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list calculations: %w", err)
	}

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError("list calculations", err)
	}
	defer rows.Close()

	calcs := make([]pricing.Calculation, 0)
	for rows.Next() {
		calc, err := scanCalculation(rows)
		if err != nil {
			return nil, err
		}
		calcs = append(calcs, calc)
	}
	return calcs, rows.Err()
}

func scanSlab(row pgx.Row) (ratecard.Slab, error) {
	var (
		slab                     ratecard.Slab
		priceMin, priceMax, base string
		pct, cpu, minAmt, maxAmt *string
	)
	if err := row.Scan(
		&slab.ID, &slab.EffectiveDate, &priceMin, &priceMax, &pct,
		&base, &cpu, &slab.Currency, &slab.Region,
		&minAmt, &maxAmt, &slab.Notes,
	); err != nil {
		return ratecard.Slab{}, err
	}

	var err error
	if slab.PriceMin, err = parseDecimal("price min", priceMin); err != nil {
		return ratecard.Slab{}, err
	}
	if slab.PriceMax, err = parseDecimal("price max", priceMax); err != nil {
		return ratecard.Slab{}, err
	}
	if slab.BasePrice, err = parseDecimal("base price", base); err != nil {
		return ratecard.Slab{}, err
	}
	if slab.SurchargePercent, err = parseNullDecimal("surcharge percent", pct); err != nil {
		return ratecard.Slab{}, err
	}
	if slab.ChangePerUnit, err = parseNullDecimal("change per unit", cpu); err != nil {
		return ratecard.Slab{}, err
	}
	if slab.MinSurchargeAmount, err = parseNullDecimal("min surcharge", minAmt); err != nil {
		return ratecard.Slab{}, err
	}
	if slab.MaxSurchargeAmount, err = parseNullDecimal("max surcharge", maxAmt); err != nil {
		return ratecard.Slab{}, err
	}
	return slab, nil
}

func scanCalculation(row pgx.Row) (pricing.Calculation, error) {
	var (
		calc                                pricing.Calculation
		bidID, responseID, laneID           *string
		base, fuel, pct, amount, acc, total string
		method                              string
		asOf                                time.Time
	)
	if err := row.Scan(
		&calc.ID, &bidID, &responseID, &laneID, &calc.CalculatedAt, &asOf, &calc.Region,
		&calc.Currency, &base, &fuel, &pct, &amount,
		&acc, &total, &calc.SlabID, &method, &calc.Notes,
	); err != nil {
		return pricing.Calculation{}, err
	}
	calc.AsOf = asOf.UTC()
	calc.Method = ratecard.Method(method)
	calc.Reference = pricing.Reference{BidID: deref(bidID), ResponseID: deref(responseID), LaneID: deref(laneID)}

	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"base freight", base, &calc.BaseFreight},
		{"fuel price", fuel, &calc.FuelPrice},
		{"surcharge percent", pct, &calc.SurchargePercent},
		{"surcharge amount", amount, &calc.SurchargeAmount},
		{"accessorial total", acc, &calc.AccessorialTotal},
		{"total", total, &calc.Total},
	}
	for _, f := range fields {
		d, err := parseDecimal(f.name, f.raw)
		if err != nil {
			return pricing.Calculation{}, err
		}
		*f.dst = d
	}
	return calc, nil
}

func emptyToNil(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

var _ pricing.HistoryStore = (*Store)(nil)
