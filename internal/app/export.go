package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/xuri/excelize/v2"

	"freight-procurement/internal/pricing"
	"freight-procurement/internal/ratecard"
	"freight-procurement/internal/storage"
)

// surchargePoint is a fuel sample with the surcharge its slab yields.
type surchargePoint struct {
	Sample  storage.FuelPriceSample
	SlabID  *int64
	Percent decimal.NullDecimal
}

// Export renders fuel price history as CSV and/or PNG and calculation history as XLSX.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" && opts.XLSXPath == "" {
		return errors.New("at least one of --csv, --png or --xlsx must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("cannot export: %w", ErrNoDatabase)
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := a.now()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	if opts.CSVPath != "" || opts.PNGPath != "" {
		if err := a.exportSamples(ctx, store, opts, from, to); err != nil {
			return err
		}
	}

	if opts.XLSXPath != "" {
		calcs, err := store.ListCalculations(ctx, storage.CalculationFilter{
			Region: opts.Region,
			From:   &from,
			To:     &to,
			Limit:  opts.MaxPoints,
		})
		if err != nil {
			return err
		}
		a.Logger.Info().Int("calculations", len(calcs)).Str("path", opts.XLSXPath).Msg("exporting calculation history")
		if err := writeCalculationsXLSX(opts.XLSXPath, calcs, from, to); err != nil {
			return err
		}
	}

	return nil
}

func (a *App) exportSamples(ctx context.Context, store Backend, opts ExportOptions, from, to time.Time) error {
	samples, err := store.ListFuelSamplesBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if opts.Region != "" {
		filtered := samples[:0]
		for _, s := range samples {
			if s.Region == opts.Region {
				filtered = append(filtered, s)
			}
		}
		samples = filtered
	}
	if len(samples) == 0 {
		a.Logger.Info().Msg("no samples found for export window")
		return nil
	}

	catalog, err := store.LoadRateCatalog(ctx)
	if err != nil {
		return err
	}

	downsampled := downsampleSamples(samples, opts.MaxPoints)
	points := classifySamples(catalog, downsampled)
	a.Logger.Info().Int("total", len(samples)).Int("exported", len(points)).Msg("exporting samples")

	if opts.CSVPath != "" {
		if err := writeSamplesCSV(opts.CSVPath, points); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSamplesPNG(opts.PNGPath, points); err != nil {
			return err
		}
	}
	return nil
}

func classifySamples(catalog *ratecard.Catalog, samples []storage.FuelPriceSample) []surchargePoint {
	points := make([]surchargePoint, 0, len(samples))
	for _, s := range samples {
		p := surchargePoint{Sample: s}
		if catalog != nil {
			if res, err := catalog.Resolve(s.Price, s.Region, s.Currency, s.Date); err == nil {
				id := res.Slab.ID
				p.SlabID = &id
				p.Percent = decimal.NewNullDecimal(res.Percent)
			}
		}
		points = append(points, p)
	}
	return points
}

func downsampleSamples(samples []storage.FuelPriceSample, max int) []storage.FuelPriceSample {
	if max <= 0 || len(samples) <= max {
		return samples
	}
	if max == 1 {
		return samples[len(samples)-1:]
	}

	result := make([]storage.FuelPriceSample, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

func writeSamplesCSV(path string, points []surchargePoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"date", "region", "currency", "source", "fuel_price", "official", "slab_id", "surcharge_pct"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, p := range points {
		record := []string{
			p.Sample.Date.Format(time.DateOnly),
			p.Sample.Region,
			p.Sample.Currency,
			p.Sample.Source,
			p.Sample.Price.String(),
			strconv.FormatBool(p.Sample.Official),
			slabCell(p.SlabID),
			percentCell(p.Percent),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSamplesPNG(path string, points []surchargePoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	if len(points) < 2 {
		return errors.New("png export needs at least two samples")
	}

	x := make([]time.Time, len(points))
	price := make([]float64, len(points))
	surcharge := make([]float64, len(points))

	for i, p := range points {
		x[i] = p.Sample.Date
		price[i] = p.Sample.Price.InexactFloat64()
		if p.Percent.Valid {
			surcharge[i] = p.Percent.Decimal.InexactFloat64()
		}
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Fuel price",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Surcharge (%)",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Fuel price",
				XValues: x,
				YValues: price,
			},
			chart.TimeSeries{
				Name:    "Surcharge %",
				XValues: x,
				YValues: surcharge,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func writeCalculationsXLSX(path string, calcs []pricing.Calculation, from, to time.Time) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file := excelize.NewFile()
	defer file.Close()

	summary := "Summary"
	if err := file.SetSheetName("Sheet1", summary); err != nil {
		return err
	}
	set := func(sheet, cell string, value interface{}) {
		_ = file.SetCellValue(sheet, cell, value)
	}

	total := decimal.Zero
	surcharge := decimal.Zero
	for _, c := range calcs {
		total = total.Add(c.Total)
		surcharge = surcharge.Add(c.SurchargeAmount)
	}
	set(summary, "A1", "From")
	set(summary, "B1", from.Format(time.DateOnly))
	set(summary, "A2", "To")
	set(summary, "B2", to.Format(time.DateOnly))
	set(summary, "A3", "Calculations")
	set(summary, "B3", len(calcs))
	set(summary, "A4", "Surcharge total")
	set(summary, "B4", formatDecimal(surcharge, 2))
	set(summary, "A5", "Grand total")
	set(summary, "B5", formatDecimal(total, 2))
	_ = file.SetColWidth(summary, "A", "A", 20)
	_ = file.SetColWidth(summary, "B", "B", 18)

	detail := "Calculations"
	if _, err := file.NewSheet(detail); err != nil {
		return err
	}
	headers := []string{
		"ID", "Calculated at", "As of", "Bid", "Response", "Lane", "Region", "Currency",
		"Base freight", "Fuel price", "Slab", "Method", "Surcharge %", "Surcharge", "Accessorials", "Total",
	}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		set(detail, cell, header)
	}
	for i, c := range calcs {
		row := i + 2
		values := []interface{}{
			c.ID,
			c.CalculatedAt.UTC().Format("2006-01-02 15:04:05"),
			c.AsOf.Format(time.DateOnly),
			c.Reference.BidID,
			c.Reference.ResponseID,
			c.Reference.LaneID,
			c.Region,
			c.Currency,
			formatDecimal(c.BaseFreight, 2),
			formatDecimal(c.FuelPrice, 2),
			slabCell(c.SlabID),
			string(c.Method),
			formatDecimal(c.SurchargePercent, 4),
			formatDecimal(c.SurchargeAmount, 2),
			formatDecimal(c.AccessorialTotal, 2),
			formatDecimal(c.Total, 2),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			set(detail, cell, v)
		}
	}
	_ = file.SetColWidth(detail, "A", "A", 8)
	_ = file.SetColWidth(detail, "B", "F", 22)
	_ = file.SetColWidth(detail, "G", "P", 14)

	file.SetActiveSheet(0)
	return file.SaveAs(path)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func slabCell(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}

func percentCell(p decimal.NullDecimal) string {
	if !p.Valid {
		return ""
	}
	return p.Decimal.StringFixed(4)
}
