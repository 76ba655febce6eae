package voucher

import (
	"encoding/hex"
	"strconv"

	"voucherchain/core/types"
	"voucherchain/crypto"
)

const (
	EventTypeSetCreated         = "voucher.set_created"
	EventTypeSetCancelled       = "voucher.set_cancelled"
	EventTypeCommitted          = "voucher.committed"
	EventTypeRedeemed           = "voucher.redeemed"
	EventTypeRefunded           = "voucher.refunded"
	EventTypeExpired            = "voucher.expired"
	EventTypeComplained         = "voucher.complained"
	EventTypeCancelledOrFaulted = "voucher.cancelled_or_faulted"
	EventTypeFinalized          = "voucher.finalized"
	EventTypeTransferred        = "voucher.transferred"
)

type voucherEvent struct {
	evt *types.Event
}

func (e voucherEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e voucherEvent) Event() *types.Event { return e.evt }

// NewSetCreatedEvent returns the payload emitted when a seller issues a set.
func NewSetCreatedEvent(s *VoucherSet) *types.Event {
	attrs := setAttributes(s)
	return &types.Event{Type: EventTypeSetCreated, Attributes: attrs}
}

// NewSetCancelledEvent returns the payload emitted when a seller withdraws the
// unsold remainder of a set.
func NewSetCancelledEvent(s *VoucherSet, unsold uint64) *types.Event {
	attrs := setAttributes(s)
	attrs["unsold"] = strconv.FormatUint(unsold, 10)
	return &types.Event{Type: EventTypeSetCancelled, Attributes: attrs}
}

// NewTransitionEvent returns the canonical payload for a lifecycle transition.
func NewTransitionEvent(eventType string, v *Voucher) *types.Event {
	attrs := make(map[string]string)
	if v == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(v.ID[:])
	attrs["setId"] = hex.EncodeToString(v.SetID[:])
	attrs["holder"] = formatAddress(v.Holder)
	attrs["issuer"] = formatAddress(v.Issuer)
	attrs["status"] = v.Status.String()
	if v.ComplainPeriodStart != 0 {
		attrs["complainPeriodStart"] = strconv.FormatInt(v.ComplainPeriodStart, 10)
	}
	if v.CancelFaultPeriodStart != 0 {
		attrs["cancelFaultPeriodStart"] = strconv.FormatInt(v.CancelFaultPeriodStart, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewTransferredEvent returns the payload emitted when a committed voucher
// changes hands.
func NewTransferredEvent(v *Voucher, from [20]byte) *types.Event {
	evt := NewTransitionEvent(EventTypeTransferred, v)
	evt.Attributes["from"] = formatAddress(from)
	return evt
}

func setAttributes(s *VoucherSet) map[string]string {
	attrs := make(map[string]string)
	if s == nil {
		return attrs
	}
	attrs["setId"] = hex.EncodeToString(s.ID[:])
	attrs["seller"] = formatAddress(s.Seller)
	attrs["validFrom"] = strconv.FormatInt(s.Terms.ValidFrom, 10)
	attrs["validTo"] = strconv.FormatInt(s.Terms.ValidTo, 10)
	attrs["price"] = amountOrZero(s.Terms.Price).String()
	attrs["sellerDeposit"] = amountOrZero(s.Terms.SellerDeposit).String()
	attrs["buyerDeposit"] = amountOrZero(s.Terms.BuyerDeposit).String()
	attrs["priceAsset"] = s.Terms.PriceAsset.String()
	attrs["depositAsset"] = s.Terms.DepositAsset.String()
	attrs["quantity"] = strconv.FormatUint(s.Terms.Quantity, 10)
	attrs["remaining"] = strconv.FormatUint(s.Remaining, 10)
	return attrs
}

func formatAddress(addr [20]byte) string {
	return crypto.NewAddress(crypto.VoucherPrefix, addr[:]).String()
}
