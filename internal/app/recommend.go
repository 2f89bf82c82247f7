package app

import (
	"context"
	"fmt"

	"freight-procurement/internal/geo"
	"freight-procurement/internal/procurement"
	"freight-procurement/internal/scoring"
)

// RecommendOptions select the lanes to match.
type RecommendOptions struct {
	// BidID restricts matching to the bid's lanes.
	BidID string
	// LaneIDs restricts matching to explicit lanes. Empty means every active lane.
	LaneIDs   []string
	MaxRoutes int
}

// Recommend pairs each lane with its best active carrier. Road distances come
// from the distance matrix when maps are enabled and from great-circle
// distance otherwise.
func (a *App) Recommend(ctx context.Context, opts RecommendOptions) (scoring.Recommendation, error) {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return scoring.Recommendation{}, err
	}
	defer closeStore()

	lanes, err := a.lanesFor(ctx, store, opts)
	if err != nil {
		return scoring.Recommendation{}, err
	}
	carriers, err := store.ListCarriers(ctx, procurement.CarrierFilter{
		Statuses: []procurement.CarrierStatus{procurement.CarrierActive},
	})
	if err != nil {
		return scoring.Recommendation{}, fmt.Errorf("list carriers: %w", err)
	}

	distance, err := a.distanceSource(ctx, lanes, carriers)
	if err != nil {
		return scoring.Recommendation{}, err
	}

	rec := scoring.New(a.weights(), distance).Recommend(lanes, carriers, opts.MaxRoutes)
	a.Logger.Info().Int("lanes", len(lanes)).
		Int("carriers", len(carriers)).
		Int("matched", len(rec.Matches)).
		Int("unmatched", len(rec.Unmatched)).
		Msg("routes recommended")
	return rec, nil
}

func (a *App) lanesFor(ctx context.Context, store Backend, opts RecommendOptions) ([]procurement.Lane, error) {
	ids := opts.LaneIDs
	if opts.BidID != "" {
		bid, err := store.GetBid(ctx, opts.BidID)
		if err != nil {
			return nil, fmt.Errorf("load bid %s: %w", opts.BidID, err)
		}
		ids = bid.LaneIDs
	}
	if len(ids) == 0 {
		ids = nil
	}

	lanes, err := store.ListLanes(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list lanes: %w", err)
	}
	active := lanes[:0]
	for _, lane := range lanes {
		if lane.Status != procurement.LaneInactive {
			active = append(active, lane)
		}
	}
	return active, nil
}

func (a *App) distanceSource(ctx context.Context, lanes []procurement.Lane, carriers []procurement.Carrier) (scoring.DistanceSource, error) {
	if !a.Config.Maps.Enabled {
		return geo.Haversine{}, nil
	}
	prefetcher, err := geo.NewPrefetcher(a.Config.Maps.APIKey, a.Config.Maps.RequestTimeout, a.Logger)
	if err != nil {
		return nil, err
	}

	origins := make([]procurement.Location, 0, len(lanes))
	for _, lane := range lanes {
		origins = append(origins, lane.Origin)
	}
	bases := make([]procurement.Location, 0, len(carriers))
	for _, c := range carriers {
		bases = append(bases, c.Base)
	}

	table, err := prefetcher.Prefetch(ctx, origins, bases)
	if err != nil {
		return nil, fmt.Errorf("prefetch distances: %w", err)
	}
	return table, nil
}
