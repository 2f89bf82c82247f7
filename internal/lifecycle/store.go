package lifecycle

import (
	"context"

	"freight-procurement/internal/pricing"
	"freight-procurement/internal/procurement"
)

// Store is the persistence collaborator of the engine. Update methods are
// compare-and-swap on the record's Version: they fail with
// procurement.ErrVersionConflict when the stored version differs, and persist
// Version+1 on success.
type Store interface {
	GetBid(ctx context.Context, id string) (procurement.Bid, error)
	// LockBid reads the bid and, inside Atomic, holds it exclusively until the unit of work ends.
	LockBid(ctx context.Context, id string) (procurement.Bid, error)
	GetResponse(ctx context.Context, id string) (procurement.Response, error)
	GetCarrier(ctx context.Context, id string) (procurement.Carrier, error)
	ListLanes(ctx context.Context, ids []string) ([]procurement.Lane, error)
	ListCarriers(ctx context.Context, filter procurement.CarrierFilter) ([]procurement.Carrier, error)
	ListResponses(ctx context.Context, filter procurement.ResponseFilter) ([]procurement.Response, error)

	InsertResponse(ctx context.Context, resp procurement.Response) error
	UpdateBid(ctx context.Context, bid procurement.Bid) error
	UpdateResponse(ctx context.Context, resp procurement.Response) error
	SetLaneStatus(ctx context.Context, ids []string, status procurement.LaneStatus) error
	AppendEvent(ctx context.Context, event procurement.Event) error
	// RecordCalculation is part of the unit of work so award pricing rolls back with the award.
	RecordCalculation(ctx context.Context, calc pricing.Calculation) (pricing.Calculation, error)

	// Atomic runs fn in a single unit of work; every write is discarded if fn fails.
	Atomic(ctx context.Context, fn func(tx Store) error) error
}
