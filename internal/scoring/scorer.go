package scoring

import (
	"sort"

	"github.com/shopspring/decimal"

	"freight-procurement/internal/geo"
	"freight-procurement/internal/procurement"
)

// DistanceSource supplies the origin-to-carrier distance used by the radius criterion.
type DistanceSource interface {
	DistanceMiles(from, to procurement.Location) (float64, bool)
}

// Weights are the points awarded per criterion. Carrier rating is always added as-is.
type Weights struct {
	TypeMatch decimal.Decimal
	Premium   decimal.Decimal
	Express   decimal.Decimal
	Radius    decimal.Decimal
}

// DefaultWeights returns the standard additive weights.
func DefaultWeights() Weights {
	return Weights{
		TypeMatch: decimal.NewFromInt(3),
		Premium:   decimal.NewFromInt(2),
		Express:   decimal.NewFromInt(1),
		Radius:    decimal.NewFromInt(1),
	}
}

// Breakdown is the per-criterion contribution to a score.
type Breakdown struct {
	TypeMatch     decimal.Decimal
	ServiceLevel  decimal.Decimal
	Rating        decimal.Decimal
	Radius        decimal.Decimal
	DistanceMiles *float64
}

// Total sums the criteria.
func (b Breakdown) Total() decimal.Decimal {
	return b.TypeMatch.Add(b.ServiceLevel).Add(b.Rating).Add(b.Radius)
}

// Scorer computes carrier-lane compatibility. It holds no mutable state and
// is safe for concurrent use.
type Scorer struct {
	weights  Weights
	distance DistanceSource
}

// New returns a Scorer. A nil distance source falls back to great-circle distance.
func New(weights Weights, distance DistanceSource) *Scorer {
	if distance == nil {
		distance = geo.Haversine{}
	}
	return &Scorer{weights: weights, distance: distance}
}

// Score returns the compatibility score of carrier for lane.
func (s *Scorer) Score(lane procurement.Lane, carrier procurement.Carrier) decimal.Decimal {
	return s.Breakdown(lane, carrier).Total()
}

// Breakdown returns the contribution of every criterion.
func (s *Scorer) Breakdown(lane procurement.Lane, carrier procurement.Carrier) Breakdown {
	b := Breakdown{
		TypeMatch:    decimal.Zero,
		ServiceLevel: decimal.Zero,
		Rating:       carrier.Rating,
		Radius:       decimal.Zero,
	}

	if lane.LaneType != "" && carrier.CarrierType == lane.LaneType {
		b.TypeMatch = s.weights.TypeMatch
	}

	switch carrier.ServiceLevel {
	case procurement.ServicePremium:
		b.ServiceLevel = s.weights.Premium
	case procurement.ServiceExpress:
		b.ServiceLevel = s.weights.Express
	}

	if miles, ok := s.distance.DistanceMiles(lane.Origin, carrier.Base); ok {
		b.DistanceMiles = &miles
		if decimal.NewFromFloat(miles).LessThanOrEqual(carrier.OperatingRadiusMiles) {
			b.Radius = s.weights.Radius
		}
	}

	return b
}

// Ranked is one carrier's position in a lane ranking.
type Ranked struct {
	CarrierID string
	Score     decimal.Decimal
	Rating    decimal.Decimal
}

// Rank scores every active carrier against lane and orders them best first.
// Ties fall to the higher rating, then to the lower carrier id.
func (s *Scorer) Rank(lane procurement.Lane, carriers []procurement.Carrier) []Ranked {
	ranked := make([]Ranked, 0, len(carriers))
	for _, carrier := range carriers {
		if carrier.Status != procurement.CarrierActive {
			continue
		}
		ranked = append(ranked, Ranked{
			CarrierID: carrier.ID,
			Score:     s.Score(lane, carrier),
			Rating:    carrier.Rating,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return rankedBefore(ranked[i], ranked[j])
	})
	return ranked
}

func rankedBefore(a, b Ranked) bool {
	if c := a.Score.Cmp(b.Score); c != 0 {
		return c > 0
	}
	if c := a.Rating.Cmp(b.Rating); c != 0 {
		return c > 0
	}
	return a.CarrierID < b.CarrierID
}

// Match is the recommendation for a single lane.
type Match struct {
	LaneID    string
	CarrierID string
	Score     decimal.Decimal
	Matched   bool
}

// Match selects the best eligible carrier for lane. A lane is unmatched when
// no eligible carrier scores above zero.
func (s *Scorer) Match(lane procurement.Lane, carriers []procurement.Carrier) Match {
	ranked := s.Rank(lane, carriers)
	if len(ranked) == 0 || !ranked[0].Score.IsPositive() {
		return Match{LaneID: lane.ID, Score: decimal.Zero}
	}
	return Match{
		LaneID:    lane.ID,
		CarrierID: ranked[0].CarrierID,
		Score:     ranked[0].Score,
		Matched:   true,
	}
}

// Recommendation is the outcome of matching a set of lanes.
type Recommendation struct {
	Matches   []Match
	Unmatched []string
}

// Recommend matches every lane, orders the matches by score and keeps at most
// maxRoutes of them. maxRoutes <= 0 keeps all.
func (s *Scorer) Recommend(lanes []procurement.Lane, carriers []procurement.Carrier, maxRoutes int) Recommendation {
	rec := Recommendation{Matches: make([]Match, 0, len(lanes))}
	for _, lane := range lanes {
		m := s.Match(lane, carriers)
		if !m.Matched {
			rec.Unmatched = append(rec.Unmatched, lane.ID)
			continue
		}
		rec.Matches = append(rec.Matches, m)
	}

	sort.SliceStable(rec.Matches, func(i, j int) bool {
		if c := rec.Matches[i].Score.Cmp(rec.Matches[j].Score); c != 0 {
			return c > 0
		}
		return rec.Matches[i].LaneID < rec.Matches[j].LaneID
	})
	sort.Strings(rec.Unmatched)

	if maxRoutes > 0 && len(rec.Matches) > maxRoutes {
		rec.Matches = rec.Matches[:maxRoutes]
	}
	return rec
}

// Candidate pairs a response with the carrier that submitted it.
type Candidate struct {
	Response procurement.Response
	Carrier  procurement.Carrier
}

// RankedResponse is a response's position among a bid's pending responses.
type RankedResponse struct {
	ResponseID string
	CarrierID  string
	Score      decimal.Decimal
	Rate       decimal.Decimal
	Eligible   bool
}

// RankResponses orders responses by the summed score of their carrier over
// every lane of the bid. Responses from carriers that are no longer active
// are kept but placed last. Ties fall to the lower rate, then the higher
// carrier rating, then the lower response id.
func (s *Scorer) RankResponses(lanes []procurement.Lane, candidates []Candidate) []RankedResponse {
	type entry struct {
		RankedResponse
		rating decimal.Decimal
	}

	entries := make([]entry, 0, len(candidates))
	for _, c := range candidates {
		total := decimal.Zero
		for _, lane := range lanes {
			total = total.Add(s.Score(lane, c.Carrier))
		}
		entries = append(entries, entry{
			RankedResponse: RankedResponse{
				ResponseID: c.Response.ID,
				CarrierID:  c.Carrier.ID,
				Score:      total,
				Rate:       c.Response.Rate,
				Eligible:   c.Carrier.Status == procurement.CarrierActive,
			},
			rating: c.Carrier.Rating,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Eligible != b.Eligible {
			return a.Eligible
		}
		if c := a.Score.Cmp(b.Score); c != 0 {
			return c > 0
		}
		if c := a.Rate.Cmp(b.Rate); c != 0 {
			return c < 0
		}
		if c := a.rating.Cmp(b.rating); c != 0 {
			return c > 0
		}
		return a.ResponseID < b.ResponseID
	})

	out := make([]RankedResponse, len(entries))
	for i, e := range entries {
		out[i] = e.RankedResponse
	}
	return out
}
