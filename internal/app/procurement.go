package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"freight-procurement/internal/accessorial"
	"freight-procurement/internal/alerting"
	"freight-procurement/internal/lifecycle"
	"freight-procurement/internal/pricing"
	"freight-procurement/internal/procurement"
	"freight-procurement/internal/scoring"
)

var validate = validator.New()

// ErrInvalidInput wraps command arguments that fail validation.
var ErrInvalidInput = errors.New("invalid input")

type bidTransition func(e *lifecycle.Engine, ctx context.Context, bidID, actor string) (lifecycle.Outcome, error)

// PublishBid publishes a draft bid.
func (a *App) PublishBid(ctx context.Context, bidID, actor string) (lifecycle.Outcome, error) {
	return a.transitionBid(ctx, "publish", bidID, actor, (*lifecycle.Engine).Publish)
}

// OpenBid opens a published bid for responses.
func (a *App) OpenBid(ctx context.Context, bidID, actor string) (lifecycle.Outcome, error) {
	return a.transitionBid(ctx, "open", bidID, actor, (*lifecycle.Engine).Open)
}

// CloseBid stops accepting responses.
func (a *App) CloseBid(ctx context.Context, bidID, actor string) (lifecycle.Outcome, error) {
	return a.transitionBid(ctx, "close", bidID, actor, (*lifecycle.Engine).Close)
}

// CancelBid cancels a bid and withdraws its pending responses.
func (a *App) CancelBid(ctx context.Context, bidID, actor string) (lifecycle.Outcome, error) {
	return a.transitionBid(ctx, "cancel", bidID, actor, (*lifecycle.Engine).Cancel)
}

func (a *App) transitionBid(ctx context.Context, op, bidID, actor string, fn bidTransition) (lifecycle.Outcome, error) {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return lifecycle.Outcome{}, err
	}
	defer closeStore()

	out, err := fn(a.newEngine(store, nil), ctx, bidID, actor)
	if err != nil {
		return out, fmt.Errorf("%s bid %s: %w", op, bidID, err)
	}
	a.Logger.Info().Str("bid_id", bidID).
		Str("status", string(out.Bid.Status)).
		Int("responses", len(out.Responses)).
		Str("actor", actor).
		Msg("bid " + op)
	return out, nil
}

// RankBid orders the pending responses of a bid, best first.
func (a *App) RankBid(ctx context.Context, bidID string) ([]scoring.RankedResponse, error) {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return nil, err
	}
	defer closeStore()

	ranked, err := a.newEngine(store, nil).RankPending(ctx, bidID)
	if err != nil {
		return nil, fmt.Errorf("rank bid %s: %w", bidID, err)
	}
	return ranked, nil
}

// BidDetails is a bid with its responses and audit trail.
type BidDetails struct {
	Bid       procurement.Bid
	Lanes     []procurement.Lane
	Responses []procurement.Response
	Events    []procurement.Event
}

// GetBid loads a bid with its lanes, responses and events.
func (a *App) GetBid(ctx context.Context, bidID string) (BidDetails, error) {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return BidDetails{}, err
	}
	defer closeStore()
	return loadBidDetails(ctx, store, bidID)
}

func loadBidDetails(ctx context.Context, store Backend, bidID string) (BidDetails, error) {
	var details BidDetails
	bid, err := store.GetBid(ctx, bidID)
	if err != nil {
		return details, fmt.Errorf("load bid %s: %w", bidID, err)
	}
	details.Bid = bid
	if len(bid.LaneIDs) > 0 {
		if details.Lanes, err = store.ListLanes(ctx, bid.LaneIDs); err != nil {
			return details, fmt.Errorf("load lanes: %w", err)
		}
	}
	if details.Responses, err = store.ListResponses(ctx, procurement.ResponseFilter{BidID: bid.ID}); err != nil {
		return details, fmt.Errorf("load responses: %w", err)
	}
	if details.Events, err = store.ListEvents(ctx, bid.ID); err != nil {
		return details, fmt.Errorf("load events: %w", err)
	}
	return details, nil
}

// SubmitInput is a carrier response as entered on the command line.
type SubmitInput struct {
	BidID            string `validate:"required"`
	CarrierID        string `validate:"required"`
	Rate             string `validate:"required,number"`
	RateType         string
	Currency         string
	TransitTimeHours int `validate:"gte=0"`
	Equipment        []string
	Notes            string
	Actor            string
}

// SubmitResponse validates and records a carrier proposal.
func (a *App) SubmitResponse(ctx context.Context, in SubmitInput) (procurement.Response, error) {
	if err := validate.Struct(in); err != nil {
		return procurement.Response{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	rate, err := decimal.NewFromString(in.Rate)
	if err != nil || !rate.IsPositive() {
		return procurement.Response{}, fmt.Errorf("%w: rate must be a positive number", ErrInvalidInput)
	}

	proposal := procurement.Proposal{
		Rate:               rate,
		RateType:           procurement.RateType(in.RateType),
		Currency:           strings.ToUpper(in.Currency),
		EquipmentAvailable: in.Equipment,
		Notes:              in.Notes,
	}
	if in.TransitTimeHours > 0 {
		hours := in.TransitTimeHours
		proposal.TransitTimeHours = &hours
	}
	if err := validate.Struct(proposal); err != nil {
		return procurement.Response{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return procurement.Response{}, err
	}
	defer closeStore()

	actor := in.Actor
	if actor == "" {
		actor = in.CarrierID
	}
	resp, err := a.newEngine(store, nil).SubmitResponse(ctx, in.BidID, in.CarrierID, proposal, actor)
	if err != nil {
		return resp, fmt.Errorf("submit response: %w", err)
	}
	a.Logger.Info().Str("bid_id", resp.BidID).
		Str("response_id", resp.ID).
		Str("carrier_id", resp.CarrierID).
		Str("rate", resp.Rate.String()).
		Msg("response submitted")
	return resp, nil
}

type responseTransition func(e *lifecycle.Engine, ctx context.Context, responseID, actor string) (lifecycle.Outcome, error)

// ReviewResponse marks a submitted response as under review.
func (a *App) ReviewResponse(ctx context.Context, responseID, actor string) (lifecycle.Outcome, error) {
	return a.transitionResponse(ctx, "review", responseID, actor, (*lifecycle.Engine).ReviewResponse)
}

// RejectResponse rejects a pending response.
func (a *App) RejectResponse(ctx context.Context, responseID, actor string) (lifecycle.Outcome, error) {
	return a.transitionResponse(ctx, "reject", responseID, actor, (*lifecycle.Engine).RejectResponse)
}

// WithdrawResponse withdraws a pending response on an open bid.
func (a *App) WithdrawResponse(ctx context.Context, responseID, actor string) (lifecycle.Outcome, error) {
	return a.transitionResponse(ctx, "withdraw", responseID, actor, (*lifecycle.Engine).WithdrawResponse)
}

func (a *App) transitionResponse(ctx context.Context, op, responseID, actor string, fn responseTransition) (lifecycle.Outcome, error) {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return lifecycle.Outcome{}, err
	}
	defer closeStore()

	out, err := fn(a.newEngine(store, nil), ctx, responseID, actor)
	if err != nil {
		return out, fmt.Errorf("%s response %s: %w", op, responseID, err)
	}
	a.Logger.Info().Str("response_id", responseID).Str("bid_id", out.Bid.ID).Str("actor", actor).Msg("response " + op)
	return out, nil
}

// AcceptInput awards a bid to a response, optionally pricing the award.
type AcceptInput struct {
	ResponseID string `validate:"required"`
	Actor      string `validate:"required"`

	Price        bool
	FuelPrice    string `validate:"omitempty,number"`
	BaseFreight  string `validate:"omitempty,number"`
	Region       string
	Currency     string `validate:"omitempty,len=3"`
	AsOf         time.Time
	Equipment    string
	Accessorials []string
	Fallback     string
}

// AcceptResponse awards the bid. When pricing is requested the quote is
// computed inside the award and a failed quote aborts it.
func (a *App) AcceptResponse(ctx context.Context, in AcceptInput) (lifecycle.Outcome, error) {
	if err := validate.Struct(in); err != nil {
		return lifecycle.Outcome{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	var opts lifecycle.AcceptOptions
	if in.Price {
		if in.FuelPrice == "" {
			return lifecycle.Outcome{}, fmt.Errorf("%w: fuel price is required to price the award", ErrInvalidInput)
		}
		input, err := a.pricingInput(in)
		if err != nil {
			return lifecycle.Outcome{}, err
		}
		opts.Pricing = &input
	}

	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return lifecycle.Outcome{}, err
	}
	defer closeStore()

	var pricer lifecycle.Pricer
	if in.Price {
		svc, err := a.newPricer(ctx, store)
		if err != nil {
			return lifecycle.Outcome{}, err
		}
		pricer = svc
	}

	out, err := a.newEngine(store, pricer).AcceptResponse(ctx, in.ResponseID, in.Actor, opts)
	if err != nil {
		return out, fmt.Errorf("accept response %s: %w", in.ResponseID, err)
	}

	a.Logger.Info().Str("bid_id", out.Bid.ID).
		Str("response_id", in.ResponseID).
		Int("rejected", len(out.Responses)-1).
		Str("actor", in.Actor).
		Msg("bid awarded")

	a.announceAward(ctx, store, out, in.ResponseID, in.Actor)
	return out, nil
}

func (a *App) pricingInput(in AcceptInput) (lifecycle.PricingInput, error) {
	fuel, err := decimal.NewFromString(in.FuelPrice)
	if err != nil {
		return lifecycle.PricingInput{}, fmt.Errorf("%w: fuel price: %v", ErrInvalidInput, err)
	}
	fallback, err := pricing.ParseFallback(firstNonEmpty(in.Fallback, a.Config.Pricing.Fallback))
	if err != nil {
		return lifecycle.PricingInput{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	usages, err := ParseUsages(in.Accessorials)
	if err != nil {
		return lifecycle.PricingInput{}, err
	}

	input := lifecycle.PricingInput{
		FuelPrice:    fuel,
		Region:       firstNonEmpty(in.Region, a.Config.Pricing.DefaultRegion),
		Currency:     strings.ToUpper(in.Currency),
		AsOf:         in.AsOf,
		Equipment:    in.Equipment,
		Accessorials: usages,
		Fallback:     fallback,
	}
	if in.BaseFreight != "" {
		base, err := decimal.NewFromString(in.BaseFreight)
		if err != nil {
			return lifecycle.PricingInput{}, fmt.Errorf("%w: base freight: %v", ErrInvalidInput, err)
		}
		input.BaseFreight = decimal.NewNullDecimal(base)
	}
	return input, nil
}

func (a *App) announceAward(ctx context.Context, store Backend, out lifecycle.Outcome, responseID, actor string) {
	if !a.Config.Alerting.NotifyAwards {
		return
	}
	notifier := a.newNotifier()
	if notifier == nil {
		return
	}

	var winner procurement.Response
	for _, r := range out.Responses {
		if r.ID == responseID {
			winner = r
			break
		}
	}
	award := &alerting.Award{
		BidID:      out.Bid.ID,
		BidName:    out.Bid.Name,
		ResponseID: responseID,
		CarrierID:  winner.CarrierID,
		Rate:       winner.Rate,
		RateType:   string(winner.RateType),
		Currency:   winner.Currency,
		AwardedBy:  actor,
	}
	if carrier, err := store.GetCarrier(ctx, winner.CarrierID); err == nil {
		award.CarrierName = carrier.Name
	}
	if out.Quote != nil {
		award.Total = decimal.NewNullDecimal(out.Quote.Total)
	}

	at := a.now()
	if out.Bid.AwardedAt != nil {
		at = *out.Bid.AwardedAt
	}
	note := alerting.Notification{
		Kind:     alerting.KindAward,
		At:       at,
		Channels: a.Config.Alerting.Channels,
		Award:    award,
	}
	if err := notifier.Notify(ctx, note); err != nil {
		a.Logger.Error().Err(err).Str("bid_id", out.Bid.ID).Msg("failed to announce award")
	}
}

// ParseUsages reads accessorial usages written as CODE=QUANTITY or
// CODE=QUANTITY@RATE.
func ParseUsages(specs []string) ([]accessorial.Usage, error) {
	usages := make([]accessorial.Usage, 0, len(specs))
	for _, spec := range specs {
		code, rest, ok := strings.Cut(spec, "=")
		if !ok || strings.TrimSpace(code) == "" {
			return nil, fmt.Errorf("%w: accessorial %q must be CODE=QUANTITY", ErrInvalidInput, spec)
		}
		qtyText, rateText, hasRate := strings.Cut(rest, "@")
		qty, err := decimal.NewFromString(strings.TrimSpace(qtyText))
		if err != nil {
			return nil, fmt.Errorf("%w: accessorial %s quantity: %v", ErrInvalidInput, code, err)
		}
		usage := accessorial.Usage{Code: strings.ToUpper(strings.TrimSpace(code)), Quantity: qty}
		if hasRate {
			rate, err := decimal.NewFromString(strings.TrimSpace(rateText))
			if err != nil {
				return nil, fmt.Errorf("%w: accessorial %s rate: %v", ErrInvalidInput, code, err)
			}
			usage.Rate = decimal.NewNullDecimal(rate)
		}
		usages = append(usages, usage)
	}
	return usages, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
