package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"freight-procurement/internal/accessorial"
	"freight-procurement/internal/pricing"
	"freight-procurement/internal/procurement"
	"freight-procurement/internal/scoring"
)

// Pricer prices an award before it is committed. history is the award's unit
// of work; a pricer that keeps an audit trail writes it there.
type Pricer interface {
	QuoteWithin(ctx context.Context, history pricing.HistoryStore, req pricing.QuoteRequest) (pricing.Quote, error)
}

// Options configure an Engine.
type Options struct {
	// OpenOnPublish moves a bid straight to open when it is published.
	OpenOnPublish bool
	Scorer        *scoring.Scorer
	Pricer        Pricer
	Now           func() time.Time
	NewID         func() string
}

// Engine executes bid and response transitions against a Store. Operations on
// the same bid are serialized by the store's row lock; the engine itself keeps
// no state and does not log.
type Engine struct {
	store Store
	opts  Options
}

// NewEngine constructs an Engine.
func NewEngine(store Store, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Scorer == nil {
		opts.Scorer = scoring.New(scoring.DefaultWeights(), nil)
	}
	return &Engine{store: store, opts: opts}
}

// Outcome is the state of a bid and the responses touched by an operation.
type Outcome struct {
	Bid       procurement.Bid
	Responses []procurement.Response
	Quote     *pricing.Quote
}

// PricingInput asks AcceptResponse to price the award before committing it.
type PricingInput struct {
	// BaseFreight defaults to the response rate for per-load and flat rates.
	BaseFreight  decimal.NullDecimal
	FuelPrice    decimal.Decimal
	Region       string
	Currency     string
	AsOf         time.Time
	Equipment    string
	Accessorials []accessorial.Usage
	Fallback     pricing.Fallback
}

// AcceptOptions tune AcceptResponse.
type AcceptOptions struct {
	Pricing *PricingInput
}

// Publish moves a draft bid to published, or straight to open when the engine
// is configured to open on publish.
func (e *Engine) Publish(ctx context.Context, bidID, actor string) (Outcome, error) {
	var out Outcome
	err := e.store.Atomic(ctx, func(tx Store) error {
		bid, err := tx.LockBid(ctx, bidID)
		if err != nil {
			return err
		}
		if !CanTransitionBid(bid.Status, EventPublish) {
			_, err := NextBidStatus(bid.ID, bid.Status, EventPublish)
			return err
		}
		now := e.opts.Now()
		if err := e.checkBiddable(ctx, tx, bid, now); err != nil {
			return err
		}

		if err := e.transitionBid(ctx, tx, &bid, EventPublish, actor, now); err != nil {
			return err
		}
		laneStatus := procurement.LanePublished
		if e.opts.OpenOnPublish {
			if err := e.transitionBid(ctx, tx, &bid, EventOpen, actor, now); err != nil {
				return err
			}
			laneStatus = procurement.LaneOpen
		}
		if err := tx.SetLaneStatus(ctx, bid.LaneIDs, laneStatus); err != nil {
			return err
		}
		out.Bid = bid
		return nil
	})
	return out, err
}

// Open makes a published bid accept responses.
func (e *Engine) Open(ctx context.Context, bidID, actor string) (Outcome, error) {
	var out Outcome
	err := e.store.Atomic(ctx, func(tx Store) error {
		bid, err := tx.LockBid(ctx, bidID)
		if err != nil {
			return err
		}
		if _, err := NextBidStatus(bid.ID, bid.Status, EventOpen); err != nil {
			return err
		}
		now := e.opts.Now()
		if err := e.checkBiddable(ctx, tx, bid, now); err != nil {
			return err
		}
		if err := e.transitionBid(ctx, tx, &bid, EventOpen, actor, now); err != nil {
			return err
		}
		if err := tx.SetLaneStatus(ctx, bid.LaneIDs, procurement.LaneOpen); err != nil {
			return err
		}
		out.Bid = bid
		return nil
	})
	return out, err
}

// Close stops a published or open bid from accepting responses.
func (e *Engine) Close(ctx context.Context, bidID, actor string) (Outcome, error) {
	var out Outcome
	err := e.store.Atomic(ctx, func(tx Store) error {
		bid, err := tx.LockBid(ctx, bidID)
		if err != nil {
			return err
		}
		if err := e.transitionBid(ctx, tx, &bid, EventClose, actor, e.opts.Now()); err != nil {
			return err
		}
		if err := tx.SetLaneStatus(ctx, bid.LaneIDs, procurement.LaneClosed); err != nil {
			return err
		}
		out.Bid = bid
		return nil
	})
	return out, err
}

// Cancel cancels a bid that is not yet awarded or cancelled and withdraws
// every pending response on it.
func (e *Engine) Cancel(ctx context.Context, bidID, actor string) (Outcome, error) {
	var out Outcome
	err := e.store.Atomic(ctx, func(tx Store) error {
		bid, err := tx.LockBid(ctx, bidID)
		if err != nil {
			return err
		}
		now := e.opts.Now()
		if err := e.transitionBid(ctx, tx, &bid, EventCancel, actor, now); err != nil {
			return err
		}

		responses, err := tx.ListResponses(ctx, procurement.ResponseFilter{BidID: bid.ID})
		if err != nil {
			return err
		}
		for i := range responses {
			if !responses[i].Status.Pending() {
				continue
			}
			if err := e.transitionResponse(ctx, tx, &responses[i], EventWithdraw, actor, now); err != nil {
				return err
			}
		}

		out.Bid = bid
		out.Responses = responses
		return nil
	})
	return out, err
}

// SubmitResponse records a carrier's proposal on an open bid.
func (e *Engine) SubmitResponse(ctx context.Context, bidID, carrierID string, proposal procurement.Proposal, actor string) (procurement.Response, error) {
	var created procurement.Response
	err := e.store.Atomic(ctx, func(tx Store) error {
		bid, err := tx.LockBid(ctx, bidID)
		if err != nil {
			return err
		}
		now := e.opts.Now()
		if bid.Status != procurement.BidOpen {
			return fmt.Errorf("%w: bid %s is %s", ErrBidNotOpen, bid.ID, bid.Status)
		}
		if !now.Before(bid.SubmissionDeadline) {
			return fmt.Errorf("%w: %w", ErrBidNotOpen, ErrDeadlinePassed)
		}

		carrier, err := tx.GetCarrier(ctx, carrierID)
		if err != nil {
			return err
		}
		if carrier.Status != procurement.CarrierActive {
			return fmt.Errorf("%w: carrier %s is %s", ErrCarrierNotActive, carrier.ID, carrier.Status)
		}
		if min := bid.Requirements.MinCarrierRating; min.Valid && carrier.Rating.LessThan(min.Decimal) {
			return fmt.Errorf("%w: rating %s below required %s", ErrCarrierNotEligible, carrier.Rating, min.Decimal)
		}

		existing, err := tx.ListResponses(ctx, procurement.ResponseFilter{BidID: bid.ID, CarrierID: carrier.ID})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return ErrDuplicateResponse
		}

		currency := proposal.Currency
		if currency == "" {
			currency = bid.Currency
		}
		resp := procurement.Response{
			ID:                 e.opts.NewID(),
			BidID:              bid.ID,
			CarrierID:          carrier.ID,
			Rate:               proposal.Rate,
			RateType:           proposal.RateType,
			Currency:           currency,
			TransitTimeHours:   proposal.TransitTimeHours,
			EquipmentAvailable: proposal.EquipmentAvailable,
			Notes:              proposal.Notes,
			Status:             procurement.ResponseSubmitted,
			Version:            1,
			CreatedBy:          actor,
			CreatedAt:          now,
			UpdatedAt:          now,
			SubmittedAt:        &now,
		}
		if err := tx.InsertResponse(ctx, resp); err != nil {
			if errors.Is(err, procurement.ErrDuplicate) {
				return ErrDuplicateResponse
			}
			return err
		}
		respID := resp.ID
		if err := e.appendEvent(ctx, tx, bid.ID, &respID, procurement.EventResponseSubmitted, "", string(resp.Status), actor, now); err != nil {
			return err
		}
		created = resp
		return nil
	})
	return created, err
}

// ReviewResponse marks a submitted response as under review. Once the bid has
// closed its responses only move through award or reject.
func (e *Engine) ReviewResponse(ctx context.Context, responseID, actor string) (Outcome, error) {
	return e.changeResponse(ctx, responseID, actor, EventReview, requireBidStatus(procurement.BidOpen))
}

// RejectResponse rejects a pending response without changing the bid.
func (e *Engine) RejectResponse(ctx context.Context, responseID, actor string) (Outcome, error) {
	return e.changeResponse(ctx, responseID, actor, EventReject, requireBidStatus(procurement.BidOpen, procurement.BidClosed))
}

// WithdrawResponse withdraws a pending response while the bid is open.
func (e *Engine) WithdrawResponse(ctx context.Context, responseID, actor string) (Outcome, error) {
	return e.changeResponse(ctx, responseID, actor, EventWithdraw, requireBidStatus(procurement.BidOpen))
}

// AcceptResponse awards the bid to a response. In one unit of work the
// response becomes awarded, every other non-terminal response on the bid is
// rejected and the bid becomes awarded. It fails with ErrAlreadyAwarded when
// the bid already has an awarded response.
func (e *Engine) AcceptResponse(ctx context.Context, responseID, actor string, opts AcceptOptions) (Outcome, error) {
	target, err := e.store.GetResponse(ctx, responseID)
	if err != nil {
		return Outcome{}, err
	}

	var out Outcome
	err = e.store.Atomic(ctx, func(tx Store) error {
		bid, err := tx.LockBid(ctx, target.BidID)
		if err != nil {
			return err
		}
		resp, err := tx.GetResponse(ctx, responseID)
		if err != nil {
			return err
		}
		if bid.Status == procurement.BidAwarded || bid.AwardedResponseID != nil {
			return fmt.Errorf("%w: bid %s", ErrAlreadyAwarded, bid.ID)
		}

		responses, err := tx.ListResponses(ctx, procurement.ResponseFilter{BidID: bid.ID})
		if err != nil {
			return err
		}
		for _, r := range responses {
			if r.Status == procurement.ResponseAwarded {
				return fmt.Errorf("%w: bid %s", ErrAlreadyAwarded, bid.ID)
			}
		}

		if _, err := NextResponseStatus(resp.ID, resp.Status, EventAward); err != nil {
			return err
		}
		if _, err := NextBidStatus(bid.ID, bid.Status, EventAward); err != nil {
			return err
		}

		if opts.Pricing != nil {
			quote, err := e.priceAward(ctx, tx, bid, resp, *opts.Pricing)
			if err != nil {
				return err
			}
			out.Quote = &quote
		}

		now := e.opts.Now()
		for i := range responses {
			if responses[i].ID == resp.ID {
				continue
			}
			if responses[i].Status.Terminal() {
				continue
			}
			if responses[i].Status == procurement.ResponseDraft || responses[i].Status == procurement.ResponseApproved {
				// not reachable through reject; close them out as withdrawn
				if err := e.transitionResponse(ctx, tx, &responses[i], EventWithdraw, actor, now); err != nil {
					return err
				}
				continue
			}
			if err := e.transitionResponse(ctx, tx, &responses[i], EventReject, actor, now); err != nil {
				return err
			}
		}

		if err := e.transitionResponse(ctx, tx, &resp, EventAward, actor, now); err != nil {
			return err
		}
		for i := range responses {
			if responses[i].ID == resp.ID {
				responses[i] = resp
			}
		}

		bid.AwardedResponseID = &resp.ID
		if err := e.transitionBid(ctx, tx, &bid, EventAward, actor, now); err != nil {
			if errors.Is(err, procurement.ErrVersionConflict) {
				return fmt.Errorf("%w: %w", ErrAlreadyAwarded, err)
			}
			return err
		}
		if err := tx.SetLaneStatus(ctx, bid.LaneIDs, procurement.LaneAwarded); err != nil {
			return err
		}

		out.Bid = bid
		out.Responses = responses
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return out, nil
}

// RankPending orders the bid's pending responses by carrier fit, best first.
func (e *Engine) RankPending(ctx context.Context, bidID string) ([]scoring.RankedResponse, error) {
	bid, err := e.store.GetBid(ctx, bidID)
	if err != nil {
		return nil, err
	}
	lanes, err := e.store.ListLanes(ctx, bid.LaneIDs)
	if err != nil {
		return nil, err
	}
	responses, err := e.store.ListResponses(ctx, procurement.ResponseFilter{
		BidID: bid.ID,
		Statuses: []procurement.ResponseStatus{
			procurement.ResponseSubmitted,
			procurement.ResponseUnderReview,
			procurement.ResponseApproved,
		},
	})
	if err != nil {
		return nil, err
	}

	carriers := make(map[string]procurement.Carrier, len(responses))
	candidates := make([]scoring.Candidate, 0, len(responses))
	for _, resp := range responses {
		carrier, ok := carriers[resp.CarrierID]
		if !ok {
			carrier, err = e.store.GetCarrier(ctx, resp.CarrierID)
			if err != nil {
				return nil, err
			}
			carriers[resp.CarrierID] = carrier
		}
		candidates = append(candidates, scoring.Candidate{Response: resp, Carrier: carrier})
	}

	return e.opts.Scorer.RankResponses(lanes, candidates), nil
}

type bidGuard func(bid procurement.Bid) error

func requireBidStatus(allowed ...procurement.BidStatus) bidGuard {
	return func(bid procurement.Bid) error {
		for _, s := range allowed {
			if bid.Status == s {
				return nil
			}
		}
		return fmt.Errorf("%w: bid %s is %s", ErrBidNotOpen, bid.ID, bid.Status)
	}
}

func (e *Engine) changeResponse(ctx context.Context, responseID, actor string, event Event, guard bidGuard) (Outcome, error) {
	target, err := e.store.GetResponse(ctx, responseID)
	if err != nil {
		return Outcome{}, err
	}

	var out Outcome
	err = e.store.Atomic(ctx, func(tx Store) error {
		bid, err := tx.LockBid(ctx, target.BidID)
		if err != nil {
			return err
		}
		resp, err := tx.GetResponse(ctx, responseID)
		if err != nil {
			return err
		}
		if _, err := NextResponseStatus(resp.ID, resp.Status, event); err != nil {
			return err
		}
		if err := guard(bid); err != nil {
			return err
		}
		if err := e.transitionResponse(ctx, tx, &resp, event, actor, e.opts.Now()); err != nil {
			return err
		}
		out.Bid = bid
		out.Responses = []procurement.Response{resp}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return out, nil
}

func (e *Engine) checkBiddable(ctx context.Context, tx Store, bid procurement.Bid, now time.Time) error {
	if len(bid.LaneIDs) == 0 {
		return fmt.Errorf("%w: bid %s", ErrNoLanes, bid.ID)
	}
	if !now.Before(bid.SubmissionDeadline) {
		return fmt.Errorf("%w: deadline %s", ErrDeadlinePassed, bid.SubmissionDeadline.Format(time.RFC3339))
	}

	lanes, err := tx.ListLanes(ctx, bid.LaneIDs)
	if err != nil {
		return err
	}
	found := make(map[string]procurement.Lane, len(lanes))
	for _, lane := range lanes {
		found[lane.ID] = lane
	}
	for _, id := range bid.LaneIDs {
		lane, ok := found[id]
		if !ok {
			return fmt.Errorf("lane %s: %w", id, procurement.ErrNotFound)
		}
		if lane.Status == procurement.LaneInactive {
			return fmt.Errorf("%w: %s", ErrLaneInactive, id)
		}
	}
	return nil
}

func (e *Engine) transitionBid(ctx context.Context, tx Store, bid *procurement.Bid, event Event, actor string, now time.Time) error {
	from := bid.Status
	to, err := NextBidStatus(bid.ID, from, event)
	if err != nil {
		return err
	}

	next := *bid
	next.Status = to
	next.UpdatedAt = now
	var kind procurement.EventKind
	switch to {
	case procurement.BidPublished:
		next.PublishedAt = &now
		kind = procurement.EventBidPublished
	case procurement.BidOpen:
		next.OpenedAt = &now
		kind = procurement.EventBidOpened
	case procurement.BidClosed:
		next.ClosedAt = &now
		kind = procurement.EventBidClosed
	case procurement.BidCancelled:
		next.CancelledAt = &now
		kind = procurement.EventBidCancelled
	case procurement.BidAwarded:
		awardedBy := actor
		next.AwardedAt = &now
		next.AwardedBy = &awardedBy
		kind = procurement.EventBidAwarded
	}

	if err := tx.UpdateBid(ctx, next); err != nil {
		return err
	}
	next.Version++
	*bid = next
	return e.appendEvent(ctx, tx, bid.ID, nil, kind, string(from), string(to), actor, now)
}

func (e *Engine) transitionResponse(ctx context.Context, tx Store, resp *procurement.Response, event Event, actor string, now time.Time) error {
	from := resp.Status
	to, err := NextResponseStatus(resp.ID, from, event)
	if err != nil {
		return err
	}

	next := *resp
	next.Status = to
	next.UpdatedAt = now
	decidedBy := actor
	var kind procurement.EventKind
	switch to {
	case procurement.ResponseUnderReview:
		next.ReviewedAt = &now
		next.ReviewedBy = &decidedBy
		kind = procurement.EventResponseReviewed
	case procurement.ResponseAwarded:
		next.DecidedAt = &now
		next.DecidedBy = &decidedBy
		kind = procurement.EventResponseAwarded
	case procurement.ResponseRejected:
		next.DecidedAt = &now
		next.DecidedBy = &decidedBy
		kind = procurement.EventResponseRejected
	case procurement.ResponseWithdrawn:
		next.DecidedAt = &now
		next.DecidedBy = &decidedBy
		kind = procurement.EventResponseWithdrawn
	}

	if err := tx.UpdateResponse(ctx, next); err != nil {
		return err
	}
	next.Version++
	*resp = next
	respID := resp.ID
	return e.appendEvent(ctx, tx, resp.BidID, &respID, kind, string(from), string(to), actor, now)
}

func (e *Engine) appendEvent(ctx context.Context, tx Store, bidID string, responseID *string, kind procurement.EventKind, from, to, actor string, now time.Time) error {
	return tx.AppendEvent(ctx, procurement.Event{
		ID:         e.opts.NewID(),
		BidID:      bidID,
		ResponseID: responseID,
		Kind:       kind,
		From:       from,
		To:         to,
		Actor:      actor,
		At:         now,
	})
}

func (e *Engine) priceAward(ctx context.Context, tx Store, bid procurement.Bid, resp procurement.Response, in PricingInput) (pricing.Quote, error) {
	if e.opts.Pricer == nil {
		return pricing.Quote{}, fmt.Errorf("%w: no pricer configured", ErrPricingInput)
	}

	base := in.BaseFreight
	if !base.Valid {
		switch resp.RateType {
		case procurement.RatePerLoad, procurement.RateFlat:
			base = decimal.NewNullDecimal(resp.Rate)
		default:
			return pricing.Quote{}, fmt.Errorf("%w: base freight required for %s rates", ErrPricingInput, resp.RateType)
		}
	}

	currency := in.Currency
	if currency == "" {
		currency = resp.Currency
	}
	if currency == "" {
		currency = bid.Currency
	}
	asOf := in.AsOf
	if asOf.IsZero() {
		asOf = e.opts.Now()
	}

	return e.opts.Pricer.QuoteWithin(ctx, tx, pricing.QuoteRequest{
		Reference:    pricing.Reference{BidID: bid.ID, ResponseID: resp.ID},
		BaseFreight:  base.Decimal,
		FuelPrice:    in.FuelPrice,
		Region:       in.Region,
		Currency:     currency,
		AsOf:         asOf,
		Equipment:    in.Equipment,
		Accessorials: in.Accessorials,
		Fallback:     in.Fallback,
		Notes:        "award pricing",
	})
}
