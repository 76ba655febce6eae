package voucher

import "strings"

// Status is the accumulated lifecycle bitmask of a voucher. Each transition ORs
// a new bit into the value; there is no operation that clears a bit, so a
// status observed earlier is always a subset of any status observed later.
type Status uint8

const (
	StatusCommitted          Status = 1 << 7
	StatusRedeemed           Status = 1 << 6
	StatusRefunded           Status = 1 << 5
	StatusExpired            Status = 1 << 4
	StatusComplained         Status = 1 << 3
	StatusCancelledOrFaulted Status = 1 << 2
	StatusFinalized          Status = 1 << 1
)

var statusNames = []struct {
	bit  Status
	name string
}{
	{StatusCommitted, "COMMITTED"},
	{StatusRedeemed, "REDEEMED"},
	{StatusRefunded, "REFUNDED"},
	{StatusExpired, "EXPIRED"},
	{StatusComplained, "COMPLAINED"},
	{StatusCancelledOrFaulted, "CANCELLED_OR_FAULTED"},
	{StatusFinalized, "FINALIZED"},
}

const knownBits = StatusCommitted | StatusRedeemed | StatusRefunded | StatusExpired |
	StatusComplained | StatusCancelledOrFaulted | StatusFinalized

// Has reports whether every bit in flag is set.
func (s Status) Has(flag Status) bool { return flag != 0 && s&flag == flag }

// Any reports whether at least one bit in flags is set.
func (s Status) Any(flags Status) bool { return s&flags != 0 }

// CommittedOnly reports whether the voucher has been committed and nothing else
// has happened to it yet.
func (s Status) CommittedOnly() bool { return s == StatusCommitted }

// Valid reports whether the value is a reachable bit combination.
func (s Status) Valid() bool {
	if s&^knownBits != 0 || !s.Has(StatusCommitted) {
		return false
	}
	exits := 0
	for _, bit := range []Status{StatusRedeemed, StatusRefunded, StatusExpired} {
		if s.Has(bit) {
			exits++
		}
	}
	if exits > 1 {
		return false
	}
	if s.Has(StatusComplained) && exits == 0 && !s.Has(StatusCancelledOrFaulted) {
		return false
	}
	if s.Has(StatusFinalized) && exits == 0 && !s.Has(StatusCancelledOrFaulted) {
		return false
	}
	return true
}

// with returns the status extended by flag. It is the only way transitions
// produce a new status value.
func (s Status) with(flag Status) Status { return s | flag }

// String renders the set bits from high to low joined by "|".
func (s Status) String() string {
	if s == 0 {
		return "NONE"
	}
	parts := make([]string, 0, len(statusNames))
	for _, entry := range statusNames {
		if s.Has(entry.bit) {
			parts = append(parts, entry.name)
		}
	}
	if s&^knownBits != 0 {
		parts = append(parts, "UNKNOWN")
	}
	return strings.Join(parts, "|")
}

// Outcome names the settlement class a voucher's status falls into. Every
// reachable terminal status maps to exactly one outcome, which lets the payout
// table be written as an exhaustive switch instead of bit tests.
type Outcome uint8

const (
	// OutcomeUnsettled means the voucher has not left the committed state by a
	// route that carries a payout rule.
	OutcomeUnsettled Outcome = iota
	OutcomeRedeemed
	OutcomeRedeemedComplained
	OutcomeRedeemedFaulted
	OutcomeRedeemedComplainedFaulted
	// OutcomeReturned covers refunded and expired vouchers, which settle
	// identically.
	OutcomeReturned
	OutcomeReturnedComplained
	OutcomeReturnedFaulted
	OutcomeReturnedComplainedFaulted
	// OutcomeCancelled is a seller cancellation straight from COMMITTED.
	OutcomeCancelled
	OutcomeCancelledComplained
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRedeemed:
		return "redeemed"
	case OutcomeRedeemedComplained:
		return "redeemed_complained"
	case OutcomeRedeemedFaulted:
		return "redeemed_faulted"
	case OutcomeRedeemedComplainedFaulted:
		return "redeemed_complained_faulted"
	case OutcomeReturned:
		return "returned"
	case OutcomeReturnedComplained:
		return "returned_complained"
	case OutcomeReturnedFaulted:
		return "returned_faulted"
	case OutcomeReturnedComplainedFaulted:
		return "returned_complained_faulted"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeCancelledComplained:
		return "cancelled_complained"
	default:
		return "unsettled"
	}
}

// Redeemed reports whether the outcome pays the price to the seller.
func (o Outcome) Redeemed() bool {
	switch o {
	case OutcomeRedeemed, OutcomeRedeemedComplained, OutcomeRedeemedFaulted, OutcomeRedeemedComplainedFaulted:
		return true
	}
	return false
}

// Complained reports whether the buyer lodged a complaint.
func (o Outcome) Complained() bool {
	switch o {
	case OutcomeRedeemedComplained, OutcomeRedeemedComplainedFaulted,
		OutcomeReturnedComplained, OutcomeReturnedComplainedFaulted,
		OutcomeCancelledComplained:
		return true
	}
	return false
}

// Faulted reports whether the seller cancelled or accepted fault.
func (o Outcome) Faulted() bool {
	switch o {
	case OutcomeRedeemedFaulted, OutcomeRedeemedComplainedFaulted,
		OutcomeReturnedFaulted, OutcomeReturnedComplainedFaulted,
		OutcomeCancelled, OutcomeCancelledComplained:
		return true
	}
	return false
}

// Outcome classifies the status. The FINALIZED bit is ignored; callers decide
// whether a settled but unfinalized outcome may be paid out.
func (s Status) Outcome() Outcome {
	complained := s.Has(StatusComplained)
	faulted := s.Has(StatusCancelledOrFaulted)
	switch {
	case s.Has(StatusRedeemed):
		switch {
		case complained && faulted:
			return OutcomeRedeemedComplainedFaulted
		case complained:
			return OutcomeRedeemedComplained
		case faulted:
			return OutcomeRedeemedFaulted
		default:
			return OutcomeRedeemed
		}
	case s.Any(StatusRefunded | StatusExpired):
		switch {
		case complained && faulted:
			return OutcomeReturnedComplainedFaulted
		case complained:
			return OutcomeReturnedComplained
		case faulted:
			return OutcomeReturnedFaulted
		default:
			return OutcomeReturned
		}
	case faulted:
		if complained {
			return OutcomeCancelledComplained
		}
		return OutcomeCancelled
	default:
		return OutcomeUnsettled
	}
}
