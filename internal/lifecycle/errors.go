package lifecycle

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition matches every *InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrDuplicateResponse is returned when the carrier already responded to the bid.
	ErrDuplicateResponse = errors.New("carrier already responded to this bid")
	// ErrAlreadyAwarded is returned when the bid already has an awarded response.
	ErrAlreadyAwarded = errors.New("bid already awarded")
	// ErrBidNotOpen is returned when a response is created or changed on a bid that is not open.
	ErrBidNotOpen = errors.New("bid is not open for responses")
	// ErrCarrierNotActive is returned when an inactive carrier tries to respond.
	ErrCarrierNotActive = errors.New("carrier is not active")
	// ErrCarrierNotEligible is returned when a carrier misses the bid's requirements.
	ErrCarrierNotEligible = errors.New("carrier does not meet bid requirements")
	// ErrNoLanes is returned when a bid without lanes is published or opened.
	ErrNoLanes = errors.New("bid has no lanes")
	// ErrLaneInactive is returned when a bid references a deactivated lane.
	ErrLaneInactive = errors.New("bid references an inactive lane")
	// ErrDeadlinePassed is returned when the submission deadline is not in the future.
	ErrDeadlinePassed = errors.New("submission deadline has passed")
	// ErrPricingInput is returned when award pricing cannot be derived from the response.
	ErrPricingInput = errors.New("award pricing input incomplete")
)

// Entity names the record a transition was attempted on.
type Entity string

const (
	EntityBid      Entity = "bid"
	EntityResponse Entity = "response"
)

// InvalidTransitionError carries the attempted event and the state it was attempted from.
type InvalidTransitionError struct {
	Entity Entity
	ID     string
	Event  Event
	From   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s %s %s in state %q", e.Event, e.Entity, e.ID, e.From)
}

// Is lets errors.Is match ErrInvalidTransition.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
