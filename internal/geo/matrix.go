package geo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"googlemaps.github.io/maps"

	"freight-procurement/internal/procurement"
)

// Distance Matrix accepts at most 100 elements per request.
const matrixBatch = 10

// Table is a precomputed road-distance lookup keyed by address pair.
// Pairs missing from the table fall back to great-circle distance.
type Table struct {
	mu    sync.RWMutex
	miles map[pairKey]float64
}

type pairKey struct {
	from string
	to   string
}

// NewTable returns an empty distance table.
func NewTable() *Table {
	return &Table{miles: make(map[pairKey]float64)}
}

// Set records the road distance between two addresses.
func (t *Table) Set(from, to string, miles float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.miles[pairKey{from: from, to: to}] = miles
}

// Len returns the number of stored pairs.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.miles)
}

// DistanceMiles implements the scorer's distance source.
func (t *Table) DistanceMiles(from, to procurement.Location) (float64, bool) {
	t.mu.RLock()
	miles, ok := t.miles[pairKey{from: from.String(), to: to.String()}]
	t.mu.RUnlock()
	if ok {
		return miles, true
	}
	return Haversine{}.DistanceMiles(from, to)
}

// MatrixClient is the subset of the Google Maps client used for prefetching.
type MatrixClient interface {
	DistanceMatrix(ctx context.Context, r *maps.DistanceMatrixRequest) (*maps.DistanceMatrixResponse, error)
}

// Prefetcher fills distance tables from the Distance Matrix API.
type Prefetcher struct {
	client  MatrixClient
	timeout time.Duration
	logger  zerolog.Logger
}

// NewPrefetcher creates a Prefetcher backed by a Google Maps client.
func NewPrefetcher(apiKey string, timeout time.Duration, logger zerolog.Logger) (*Prefetcher, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return NewPrefetcherWithClient(client, timeout, logger), nil
}

// NewPrefetcherWithClient wires an existing matrix client.
func NewPrefetcherWithClient(client MatrixClient, timeout time.Duration, logger zerolog.Logger) *Prefetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Prefetcher{
		client:  client,
		timeout: timeout,
		logger:  logger.With().Str("component", "distance_matrix").Logger(),
	}
}

// Prefetch requests driving distances for every origin/destination pair and
// returns them as a Table. Elements the API cannot route are left out.
func (p *Prefetcher) Prefetch(ctx context.Context, origins, destinations []procurement.Location) (*Table, error) {
	table := NewTable()
	from := uniqueAddresses(origins)
	to := uniqueAddresses(destinations)
	if len(from) == 0 || len(to) == 0 {
		return table, nil
	}

	for i := 0; i < len(from); i += matrixBatch {
		originBatch := from[i:min(i+matrixBatch, len(from))]
		for j := 0; j < len(to); j += matrixBatch {
			destBatch := to[j:min(j+matrixBatch, len(to))]
			if err := p.fetchBatch(ctx, table, originBatch, destBatch); err != nil {
				return nil, err
			}
		}
	}

	p.logger.Info().Int("origins", len(from)).Int("destinations", len(to)).Int("pairs", table.Len()).Msg("distance table prefetched")
	return table, nil
}

func (p *Prefetcher) fetchBatch(ctx context.Context, table *Table, origins, destinations []string) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.DistanceMatrix(reqCtx, &maps.DistanceMatrixRequest{
		Origins:      origins,
		Destinations: destinations,
		Mode:         maps.TravelModeDriving,
		Units:        maps.UnitsImperial,
	})
	if err != nil {
		return fmt.Errorf("maps api error: %w", err)
	}
	if len(resp.Rows) != len(origins) {
		return fmt.Errorf("distance matrix returned %d rows for %d origins", len(resp.Rows), len(origins))
	}

	for i, row := range resp.Rows {
		for j, element := range row.Elements {
			if j >= len(destinations) || element == nil {
				continue
			}
			if element.Status != "OK" {
				p.logger.Debug().Str("origin", origins[i]).Str("destination", destinations[j]).Str("status", element.Status).Msg("pair not routable")
				continue
			}
			table.Set(origins[i], destinations[j], float64(element.Distance.Meters)/metersPerMile)
		}
	}
	return nil
}

func uniqueAddresses(locations []procurement.Location) []string {
	seen := make(map[string]struct{}, len(locations))
	out := make([]string, 0, len(locations))
	for _, loc := range locations {
		addr := loc.String()
		if addr == "" {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}
