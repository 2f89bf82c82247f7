package procurement

import (
	"time"

	"github.com/shopspring/decimal"
)

// BidStatus enumerates the lifecycle states of a bid.
type BidStatus string

const (
	BidDraft     BidStatus = "draft"
	BidPublished BidStatus = "published"
	BidOpen      BidStatus = "open"
	BidClosed    BidStatus = "closed"
	BidAwarded   BidStatus = "awarded"
	BidCancelled BidStatus = "cancelled"
)

// LaneStatus enumerates the states of a lane.
type LaneStatus string

const (
	LaneDraft     LaneStatus = "draft"
	LanePublished LaneStatus = "published"
	LaneOpen      LaneStatus = "open"
	LaneClosed    LaneStatus = "closed"
	LaneAwarded   LaneStatus = "awarded"
	LaneInactive  LaneStatus = "inactive"
)

// CarrierStatus enumerates carrier onboarding states.
type CarrierStatus string

const (
	CarrierPendingApproval CarrierStatus = "pending_approval"
	CarrierActive          CarrierStatus = "active"
	CarrierSuspended       CarrierStatus = "suspended"
	CarrierInactive        CarrierStatus = "inactive"
)

// ResponseStatus enumerates the states of a carrier response.
type ResponseStatus string

const (
	ResponseDraft       ResponseStatus = "draft"
	ResponseSubmitted   ResponseStatus = "submitted"
	ResponseUnderReview ResponseStatus = "under_review"
	ResponseApproved    ResponseStatus = "approved"
	ResponseRejected    ResponseStatus = "rejected"
	ResponseAwarded     ResponseStatus = "awarded"
	ResponseWithdrawn   ResponseStatus = "withdrawn"
)

// Terminal reports whether no further transition is possible from the status.
func (s ResponseStatus) Terminal() bool {
	switch s {
	case ResponseRejected, ResponseAwarded, ResponseWithdrawn:
		return true
	default:
		return false
	}
}

// Pending reports whether the response is still competing for the award.
func (s ResponseStatus) Pending() bool {
	switch s {
	case ResponseDraft, ResponseSubmitted, ResponseUnderReview, ResponseApproved:
		return true
	default:
		return false
	}
}

// EquipmentClass is shared by lanes (required class) and carriers (offered class).
type EquipmentClass string

const (
	ClassTruckload   EquipmentClass = "truckload"
	ClassLTL         EquipmentClass = "ltl"
	ClassIntermodal  EquipmentClass = "intermodal"
	ClassSpecialized EquipmentClass = "specialized"
	ClassBulk        EquipmentClass = "bulk"
)

// ServiceLevel is the carrier's committed service tier.
type ServiceLevel string

const (
	ServiceStandard ServiceLevel = "standard"
	ServiceExpress  ServiceLevel = "express"
	ServicePremium  ServiceLevel = "premium"
	ServiceEconomy  ServiceLevel = "economy"
)

// RateType describes how a response rate is quoted.
type RateType string

const (
	RatePerMile  RateType = "per_mile"
	RatePerLoad  RateType = "per_load"
	RatePerPound RateType = "per_pound"
	RatePerTon   RateType = "per_ton"
	RateFlat     RateType = "flat_rate"
)

// Location is a postal address with optional coordinates.
type Location struct {
	City    string
	State   string
	Zip     string
	Country string
	Lat     *float64
	Lng     *float64
}

// HasCoordinates reports whether both coordinates are known.
func (l Location) HasCoordinates() bool {
	return l.Lat != nil && l.Lng != nil
}

// String renders the location the way address lookups expect it.
func (l Location) String() string {
	out := l.City
	if l.State != "" {
		out += ", " + l.State
	}
	if l.Zip != "" {
		out += " " + l.Zip
	}
	if l.Country != "" {
		out += ", " + l.Country
	}
	return out
}

// Lane is an origin/destination corridor with shipment attributes.
type Lane struct {
	ID            string
	Name          string
	Origin        Location
	Destination   Location
	LaneType      EquipmentClass
	DistanceMiles decimal.NullDecimal
	Volume        decimal.NullDecimal
	VolumeUnit    string
	Equipment     []string
	Status        LaneStatus
	CreatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Requirements is the recognised set of bid-level carrier requirements.
type Requirements struct {
	EquipmentTypes        []string
	HazmatRequired        bool
	TemperatureControlled bool
	MinCarrierRating      decimal.NullDecimal
	ServiceLevel          ServiceLevel
}

// Bid is a procurement event over one or more lanes.
type Bid struct {
	ID                 string
	Name               string
	Description        string
	Status             BidStatus
	LaneIDs            []string
	SubmissionDeadline time.Time
	Budget             decimal.NullDecimal
	Currency           string
	Requirements       Requirements
	CreatedBy          string
	Version            int64

	CreatedAt         time.Time
	UpdatedAt         time.Time
	PublishedAt       *time.Time
	OpenedAt          *time.Time
	ClosedAt          *time.Time
	CancelledAt       *time.Time
	AwardedAt         *time.Time
	AwardedBy         *string
	AwardedResponseID *string
}

// Carrier is a transport provider.
type Carrier struct {
	ID                   string
	Name                 string
	CarrierType          EquipmentClass
	ServiceLevel         ServiceLevel
	Rating               decimal.Decimal
	OperatingRadiusMiles decimal.Decimal
	Base                 Location
	Status               CarrierStatus
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Proposal is the carrier-supplied payload of a response.
type Proposal struct {
	Rate               decimal.Decimal
	RateType           RateType `validate:"required,oneof=per_mile per_load per_pound per_ton flat_rate"`
	Currency           string   `validate:"omitempty,len=3"`
	TransitTimeHours   *int     `validate:"omitempty,gt=0"`
	EquipmentAvailable []string
	Notes              string `validate:"max=2000"`
}

// Response is one carrier's proposal against one bid.
type Response struct {
	ID                 string
	BidID              string
	CarrierID          string
	Rate               decimal.Decimal
	RateType           RateType
	Currency           string
	TransitTimeHours   *int
	EquipmentAvailable []string
	Notes              string
	Status             ResponseStatus
	Version            int64

	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	SubmittedAt *time.Time
	ReviewedAt  *time.Time
	ReviewedBy  *string
	DecidedAt   *time.Time
	DecidedBy   *string
}

// EventKind names the audit events written on every state change.
type EventKind string

const (
	EventBidPublished      EventKind = "bid_published"
	EventBidOpened         EventKind = "bid_opened"
	EventBidClosed         EventKind = "bid_closed"
	EventBidAwarded        EventKind = "bid_awarded"
	EventBidCancelled      EventKind = "bid_cancelled"
	EventResponseSubmitted EventKind = "response_submitted"
	EventResponseReviewed  EventKind = "response_reviewed"
	EventResponseAwarded   EventKind = "response_awarded"
	EventResponseRejected  EventKind = "response_rejected"
	EventResponseWithdrawn EventKind = "response_withdrawn"
)

// Event is an append-only audit record of a transition.
type Event struct {
	ID         string
	BidID      string
	ResponseID *string
	Kind       EventKind
	From       string
	To         string
	Actor      string
	At         time.Time
}

// ResponseFilter narrows response listings. Zero values do not filter.
type ResponseFilter struct {
	BidID     string
	CarrierID string
	Statuses  []ResponseStatus
}

// CarrierFilter narrows carrier listings. Zero values do not filter.
type CarrierFilter struct {
	Statuses    []CarrierStatus
	CarrierType EquipmentClass
}
