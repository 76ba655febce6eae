package voucher

import "testing"

func TestStatusValid(t *testing.T) {
	cases := []struct {
		status Status
		valid  bool
	}{
		{StatusCommitted, true},
		{StatusCommitted | StatusRedeemed, true},
		{StatusCommitted | StatusRedeemed | StatusComplained | StatusCancelledOrFaulted | StatusFinalized, true},
		{StatusCommitted | StatusCancelledOrFaulted | StatusComplained, true},
		{StatusCommitted | StatusCancelledOrFaulted | StatusFinalized, true},
		{StatusRedeemed, false},
		{StatusCommitted | StatusRedeemed | StatusRefunded, false},
		{StatusCommitted | StatusComplained, false},
		{StatusCommitted | StatusFinalized, false},
		{StatusCommitted | 1, false},
	}
	for _, tc := range cases {
		if got := tc.status.Valid(); got != tc.valid {
			t.Errorf("%s: expected valid=%v, got %v", tc.status, tc.valid, got)
		}
	}
}

func TestStatusOutcome(t *testing.T) {
	cases := []struct {
		status Status
		want   Outcome
	}{
		{StatusCommitted, OutcomeUnsettled},
		{StatusCommitted | StatusRedeemed, OutcomeRedeemed},
		{StatusCommitted | StatusRedeemed | StatusComplained, OutcomeRedeemedComplained},
		{StatusCommitted | StatusRedeemed | StatusCancelledOrFaulted, OutcomeRedeemedFaulted},
		{StatusCommitted | StatusRedeemed | StatusComplained | StatusCancelledOrFaulted | StatusFinalized, OutcomeRedeemedComplainedFaulted},
		{StatusCommitted | StatusRefunded, OutcomeReturned},
		{StatusCommitted | StatusExpired | StatusComplained, OutcomeReturnedComplained},
		{StatusCommitted | StatusExpired | StatusCancelledOrFaulted, OutcomeReturnedFaulted},
		{StatusCommitted | StatusRefunded | StatusComplained | StatusCancelledOrFaulted, OutcomeReturnedComplainedFaulted},
		{StatusCommitted | StatusCancelledOrFaulted, OutcomeCancelled},
		{StatusCommitted | StatusCancelledOrFaulted | StatusComplained, OutcomeCancelledComplained},
	}
	for _, tc := range cases {
		if got := tc.status.Outcome(); got != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.status, tc.want, got)
		}
	}
}

func TestStatusString(t *testing.T) {
	s := StatusCommitted | StatusRedeemed | StatusFinalized
	if got := s.String(); got != "COMMITTED|REDEEMED|FINALIZED" {
		t.Fatalf("unexpected string %q", got)
	}
	if Status(0).String() != "NONE" {
		t.Fatalf("unexpected zero string")
	}
}
