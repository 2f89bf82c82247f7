package lifecycle

import (
	"freight-procurement/internal/procurement"
)

// Event is an input to the bid or response state machine.
type Event string

const (
	EventPublish  Event = "publish"
	EventOpen     Event = "open"
	EventClose    Event = "close"
	EventAward    Event = "award"
	EventCancel   Event = "cancel"
	EventSubmit   Event = "submit"
	EventReview   Event = "review"
	EventReject   Event = "reject"
	EventWithdraw Event = "withdraw"
)

type bidKey struct {
	from  procurement.BidStatus
	event Event
}

type responseKey struct {
	from  procurement.ResponseStatus
	event Event
}

var bidTransitions = map[bidKey]procurement.BidStatus{
	{procurement.BidDraft, EventPublish}: procurement.BidPublished,

	{procurement.BidPublished, EventOpen}: procurement.BidOpen,

	{procurement.BidPublished, EventClose}: procurement.BidClosed,
	{procurement.BidOpen, EventClose}:      procurement.BidClosed,

	// closed bids can still be awarded from responses submitted before the close
	{procurement.BidOpen, EventAward}:   procurement.BidAwarded,
	{procurement.BidClosed, EventAward}: procurement.BidAwarded,

	{procurement.BidDraft, EventCancel}:     procurement.BidCancelled,
	{procurement.BidPublished, EventCancel}: procurement.BidCancelled,
	{procurement.BidOpen, EventCancel}:      procurement.BidCancelled,
	{procurement.BidClosed, EventCancel}:    procurement.BidCancelled,
}

var responseTransitions = map[responseKey]procurement.ResponseStatus{
	{procurement.ResponseSubmitted, EventReview}: procurement.ResponseUnderReview,

	{procurement.ResponseSubmitted, EventAward}:   procurement.ResponseAwarded,
	{procurement.ResponseUnderReview, EventAward}: procurement.ResponseAwarded,

	{procurement.ResponseSubmitted, EventReject}:   procurement.ResponseRejected,
	{procurement.ResponseUnderReview, EventReject}: procurement.ResponseRejected,

	{procurement.ResponseDraft, EventWithdraw}:       procurement.ResponseWithdrawn,
	{procurement.ResponseSubmitted, EventWithdraw}:   procurement.ResponseWithdrawn,
	{procurement.ResponseUnderReview, EventWithdraw}: procurement.ResponseWithdrawn,
	{procurement.ResponseApproved, EventWithdraw}:    procurement.ResponseWithdrawn,
}

// NextBidStatus returns the state a bid moves to on event, or an *InvalidTransitionError.
func NextBidStatus(id string, from procurement.BidStatus, event Event) (procurement.BidStatus, error) {
	to, ok := bidTransitions[bidKey{from: from, event: event}]
	if !ok {
		return from, &InvalidTransitionError{Entity: EntityBid, ID: id, Event: event, From: string(from)}
	}
	return to, nil
}

// NextResponseStatus returns the state a response moves to on event, or an *InvalidTransitionError.
func NextResponseStatus(id string, from procurement.ResponseStatus, event Event) (procurement.ResponseStatus, error) {
	to, ok := responseTransitions[responseKey{from: from, event: event}]
	if !ok {
		return from, &InvalidTransitionError{Entity: EntityResponse, ID: id, Event: event, From: string(from)}
	}
	return to, nil
}

// CanTransitionBid reports whether event is legal for a bid in state from.
func CanTransitionBid(from procurement.BidStatus, event Event) bool {
	_, ok := bidTransitions[bidKey{from: from, event: event}]
	return ok
}

// CanTransitionResponse reports whether event is legal for a response in state from.
func CanTransitionResponse(from procurement.ResponseStatus, event Event) bool {
	_, ok := responseTransitions[responseKey{from: from, event: event}]
	return ok
}
