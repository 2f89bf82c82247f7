package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"freight-procurement/internal/service"
)

// Backfill ingests historical fuel prices for [From, To) and records the slab
// shifts between them without announcing them.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) (service.BackfillResult, error) {
	start := dayStart(opts.From)
	end := dayStart(opts.To)
	if !start.Before(end) {
		return service.BackfillResult{}, errors.New("回填范围为空，请检查 --from/--to")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return service.BackfillResult{}, err
	}
	if closeStore != nil {
		defer closeStore()
	}
	if store == nil {
		if !opts.DryRun {
			return service.BackfillResult{}, fmt.Errorf("cannot backfill: %w", ErrNoDatabase)
		}
		a.Logger.Warn().Msg("回填 dry-run：不会写入数据库")
	}

	svc := a.newService(nil, store)
	res, err := svc.Backfill(ctx, start, end, opts.DryRun)
	if err != nil {
		return res, err
	}

	a.Logger.Info().Int("samples", res.Samples).
		Int("shifts", res.Shifts).
		Int("failed", res.Failed).
		Bool("dry_run", opts.DryRun).
		Msg("回填完成")
	if res.Failed > 0 {
		return res, errors.New("部分样本回填失败，请检查日志")
	}
	return res, nil
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
