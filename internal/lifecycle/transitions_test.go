package lifecycle

import (
	"errors"
	"testing"

	"freight-procurement/internal/procurement"
)

func TestBidTransitionTable(t *testing.T) {
	tests := []struct {
		from  procurement.BidStatus
		event Event
		want  procurement.BidStatus
		ok    bool
	}{
		{procurement.BidDraft, EventPublish, procurement.BidPublished, true},
		{procurement.BidDraft, EventOpen, "", false},
		{procurement.BidPublished, EventOpen, procurement.BidOpen, true},
		{procurement.BidPublished, EventClose, procurement.BidClosed, true},
		{procurement.BidOpen, EventClose, procurement.BidClosed, true},
		{procurement.BidOpen, EventAward, procurement.BidAwarded, true},
		{procurement.BidClosed, EventAward, procurement.BidAwarded, true},
		{procurement.BidPublished, EventAward, "", false},
		{procurement.BidClosed, EventOpen, "", false},
		{procurement.BidOpen, EventCancel, procurement.BidCancelled, true},
		{procurement.BidClosed, EventCancel, procurement.BidCancelled, true},
		{procurement.BidAwarded, EventCancel, "", false},
		{procurement.BidCancelled, EventCancel, "", false},
		{procurement.BidCancelled, EventOpen, "", false},
		{procurement.BidAwarded, EventAward, "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.event), func(t *testing.T) {
			got, err := NextBidStatus("B1", tt.from, tt.event)
			if tt.ok {
				if err != nil {
					t.Fatalf("expected legal transition, got %v", err)
				}
				if got != tt.want {
					t.Fatalf("expected %s, got %s", tt.want, got)
				}
				return
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
			var ite *InvalidTransitionError
			if !errors.As(err, &ite) || ite.Entity != EntityBid || ite.From != string(tt.from) || ite.Event != tt.event {
				t.Fatalf("error should carry entity, state and event: %#v", err)
			}
			if got != tt.from {
				t.Fatalf("illegal transition must leave state unchanged, got %s", got)
			}
		})
	}
}

func TestResponseTransitionTable(t *testing.T) {
	terminal := []procurement.ResponseStatus{procurement.ResponseRejected, procurement.ResponseAwarded, procurement.ResponseWithdrawn}
	for _, from := range terminal {
		for _, event := range []Event{EventReview, EventAward, EventReject, EventWithdraw} {
			if CanTransitionResponse(from, event) {
				t.Fatalf("terminal state %s must not accept %s", from, event)
			}
		}
	}

	if !CanTransitionResponse(procurement.ResponseUnderReview, EventAward) {
		t.Fatal("under_review response should be awardable")
	}
	if CanTransitionResponse(procurement.ResponseApproved, EventAward) {
		t.Fatal("approved is a legacy state and is not awardable")
	}
	if CanTransitionResponse(procurement.ResponseUnderReview, EventReview) {
		t.Fatal("review is only legal from submitted")
	}

	_, err := NextResponseStatus("R1", procurement.ResponseRejected, EventReject)
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) || ite.Entity != EntityResponse {
		t.Fatalf("expected response InvalidTransitionError, got %v", err)
	}
}
