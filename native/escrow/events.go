package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"voucherchain/core/types"
	"voucherchain/crypto"
)

const (
	EventTypeLocked            = "escrow.locked"
	EventTypeSupplyReleased    = "escrow.supply_released"
	EventTypeEntitlement       = "escrow.entitlement"
	EventTypeDistributed       = "escrow.distributed"
	EventTypeWithdrawn         = "escrow.withdrawn"
	EventTypeDisasterWithdrawn = "escrow.disaster_withdrawn"
)

// NewLockedEvent returns the payload emitted when funds enter escrow.
func NewLockedEvent(id [32]byte, party [20]byte, class Class, asset types.Asset, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeLocked,
		Attributes: map[string]string{
			"id":     hex.EncodeToString(id[:]),
			"party":  formatAddress(party),
			"class":  string(class),
			"asset":  asset.String(),
			"amount": amountOrZero(amount).String(),
		},
	}
}

// NewSupplyReleasedEvent returns the payload emitted when unsold seller
// deposits become withdrawable.
func NewSupplyReleasedEvent(setID [32]byte, seller [20]byte, asset types.Asset, amount *big.Int, units uint64) *types.Event {
	return &types.Event{
		Type: EventTypeSupplyReleased,
		Attributes: map[string]string{
			"setId":  hex.EncodeToString(setID[:]),
			"seller": formatAddress(seller),
			"asset":  asset.String(),
			"amount": amountOrZero(amount).String(),
			"units":  strconv.FormatUint(units, 10),
		},
	}
}

// NewEntitlementEvent returns the tentative split after a transition.
func NewEntitlementEvent(s *Settlement) *types.Event {
	attrs := make(map[string]string)
	if s == nil {
		return &types.Event{Type: EventTypeEntitlement, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(s.VoucherID[:])
	attrs["outcome"] = s.Outcome.String()
	attrs["buyer"] = formatAddress(s.Buyer)
	attrs["seller"] = formatAddress(s.Seller)
	putSplit(attrs, "payment", s.Payment)
	putSplit(attrs, "deposit", s.Deposits)
	return &types.Event{Type: EventTypeEntitlement, Attributes: attrs}
}

// NewDistributedEvent returns the payload for one credited asset class.
func NewDistributedEvent(s *Settlement, class Class, split Split, pool [20]byte) *types.Event {
	attrs := make(map[string]string)
	if s == nil {
		return &types.Event{Type: EventTypeDistributed, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(s.VoucherID[:])
	attrs["outcome"] = s.Outcome.String()
	attrs["class"] = string(class)
	attrs["asset"] = split.Asset.String()
	attrs["buyer"] = formatAddress(s.Buyer)
	attrs["seller"] = formatAddress(s.Seller)
	attrs["pool"] = formatAddress(pool)
	attrs["buyerAmount"] = amountOrZero(split.Buyer).String()
	attrs["sellerAmount"] = amountOrZero(split.Seller).String()
	attrs["escrowAmount"] = amountOrZero(split.Pool).String()
	return &types.Event{Type: EventTypeDistributed, Attributes: attrs}
}

// NewWithdrawnEvent returns the payload for a payout from the vault.
func NewWithdrawnEvent(eventType string, party [20]byte, asset types.Asset, amount *big.Int) *types.Event {
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"party":  formatAddress(party),
			"asset":  asset.String(),
			"amount": amountOrZero(amount).String(),
		},
	}
}

func putSplit(attrs map[string]string, prefix string, split Split) {
	attrs[prefix+"Asset"] = split.Asset.String()
	attrs[prefix+"Buyer"] = amountOrZero(split.Buyer).String()
	attrs[prefix+"Seller"] = amountOrZero(split.Seller).String()
	attrs[prefix+"Escrow"] = amountOrZero(split.Pool).String()
}

func formatAddress(addr [20]byte) string {
	return crypto.NewAddress(crypto.VoucherPrefix, addr[:]).String()
}
