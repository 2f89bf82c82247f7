package geo

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"googlemaps.github.io/maps"

	"freight-procurement/internal/procurement"
)

func ptr(f float64) *float64 { return &f }

func TestHaversineMiles(t *testing.T) {
	tests := []struct {
		name     string
		lat1     float64
		lng1     float64
		lat2     float64
		lng2     float64
		expected float64
		delta    float64
	}{
		{name: "same point", lat1: 28.6139, lng1: 77.2090, lat2: 28.6139, lng2: 77.2090, expected: 0, delta: 0.001},
		{name: "delhi to mumbai", lat1: 28.6139, lng1: 77.2090, lat2: 19.0760, lng2: 72.8777, expected: 713, delta: 5},
		{name: "new york to los angeles", lat1: 40.7128, lng1: -74.0060, lat2: 34.0522, lng2: -118.2437, expected: 2445, delta: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineMiles(tt.lat1, tt.lng1, tt.lat2, tt.lng2)
			if math.Abs(got-tt.expected) > tt.delta {
				t.Fatalf("expected ~%.1f miles, got %.1f", tt.expected, got)
			}
		})
	}
}

func TestHaversineMissingCoordinates(t *testing.T) {
	from := procurement.Location{City: "Delhi", Lat: ptr(28.6), Lng: ptr(77.2)}
	to := procurement.Location{City: "Mumbai"}
	if _, ok := (Haversine{}).DistanceMiles(from, to); ok {
		t.Fatal("distance should be unknown without coordinates")
	}
}

type fakeMatrix struct {
	calls int
	err   error
}

func (f *fakeMatrix) DistanceMatrix(ctx context.Context, r *maps.DistanceMatrixRequest) (*maps.DistanceMatrixResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	resp := &maps.DistanceMatrixResponse{}
	for range r.Origins {
		row := maps.DistanceMatrixElementsRow{}
		for j := range r.Destinations {
			status := "OK"
			if j == 1 {
				status = "ZERO_RESULTS"
			}
			row.Elements = append(row.Elements, &maps.DistanceMatrixElement{
				Status:   status,
				Distance: maps.Distance{Meters: 160934},
			})
		}
		resp.Rows = append(resp.Rows, row)
	}
	return resp, nil
}

func TestPrefetchBuildsTable(t *testing.T) {
	client := &fakeMatrix{}
	p := NewPrefetcherWithClient(client, 0, zerolog.Nop())

	origins := []procurement.Location{{City: "Pune", State: "MH"}, {City: "Pune", State: "MH"}}
	dests := []procurement.Location{{City: "Nagpur", State: "MH"}, {City: "Leh", State: "LA"}}

	table, err := p.Prefetch(context.Background(), origins, dests)
	if err != nil {
		t.Fatalf("prefetch failed: %v", err)
	}
	if client.calls != 1 {
		t.Fatalf("expected a single batch, got %d calls", client.calls)
	}
	if table.Len() != 1 {
		t.Fatalf("expected only the routable pair, got %d", table.Len())
	}

	miles, ok := table.DistanceMiles(origins[0], dests[0])
	if !ok || math.Abs(miles-100) > 0.01 {
		t.Fatalf("expected 100 miles, got %.2f (ok=%v)", miles, ok)
	}
	if _, ok := table.DistanceMiles(origins[0], dests[1]); ok {
		t.Fatal("unroutable pair without coordinates should be unknown")
	}
}

func TestPrefetchPropagatesError(t *testing.T) {
	p := NewPrefetcherWithClient(&fakeMatrix{err: errors.New("quota")}, 0, zerolog.Nop())
	origins := []procurement.Location{{City: "Pune"}}
	if _, err := p.Prefetch(context.Background(), origins, origins); err == nil {
		t.Fatal("api error should fail the prefetch")
	}
}

func TestTableFallsBackToHaversine(t *testing.T) {
	table := NewTable()
	from := procurement.Location{City: "A", Lat: ptr(0), Lng: ptr(0)}
	to := procurement.Location{City: "B", Lat: ptr(0), Lng: ptr(1)}
	miles, ok := table.DistanceMiles(from, to)
	if !ok || math.Abs(miles-69.09) > 0.5 {
		t.Fatalf("expected great-circle fallback of ~69 miles, got %.2f", miles)
	}
}
