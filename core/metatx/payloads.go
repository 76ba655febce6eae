package metatx

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"

	"voucherchain/crypto"
)

// Relayed method names.
const (
	MethodCreateVoucherSet   = "createVoucherSet"
	MethodCancelVoucherSet   = "cancelVoucherSet"
	MethodCommit             = "commit"
	MethodRedeem             = "redeem"
	MethodRefund             = "refund"
	MethodComplain           = "complain"
	MethodCancelOrFault      = "cancelOrFault"
	MethodTransferVoucher    = "transferVoucher"
	MethodTriggerExpiration  = "triggerExpiration"
	MethodTriggerFinalize    = "triggerFinalize"
	MethodWithdraw           = "withdraw"
	MethodWithdrawOnDisaster = "withdrawOnDisaster"
	MethodPause              = "pause"
	MethodUnpause            = "unpause"
	MethodTriggerDisaster    = "triggerDisaster"
	MethodRotateEscrowPool   = "rotateEscrowPool"
	MethodSetComplainPeriod  = "setComplainPeriod"
	MethodSetCancelPeriod    = "setCancelFaultPeriod"
	MethodBindGate           = "bindGate"
)

// CreateVoucherSetPayload carries the terms of a new set and the seller's
// deposit for every unit.
type CreateVoucherSetPayload struct {
	ValidFrom     int64  `json:"validFrom"`
	ValidTo       int64  `json:"validTo"`
	Price         string `json:"price"`
	SellerDeposit string `json:"sellerDeposit"`
	BuyerDeposit  string `json:"buyerDeposit"`
	PriceAsset    string `json:"priceAsset,omitempty"`
	DepositAsset  string `json:"depositAsset,omitempty"`
	Quantity      uint64 `json:"quantity"`
	Deposit       string `json:"deposit"`
}

// CommitPayload draws a voucher from a set.
type CommitPayload struct {
	SetID   string `json:"setId"`
	Price   string `json:"price"`
	Deposit string `json:"deposit"`
}

// SetPayload addresses a voucher set.
type SetPayload struct {
	SetID string `json:"setId"`
}

// VoucherPayload addresses a single voucher.
type VoucherPayload struct {
	VoucherID string `json:"voucherId"`
}

// TransferPayload hands a committed voucher to another holder.
type TransferPayload struct {
	VoucherID string `json:"voucherId"`
	To        string `json:"to"`
}

// WithdrawPayload selects the asset to withdraw.
type WithdrawPayload struct {
	Asset string `json:"asset,omitempty"`
}

// PoolPayload names a new escrow pool.
type PoolPayload struct {
	Pool string `json:"pool"`
}

// PeriodPayload changes a lifecycle window.
type PeriodPayload struct {
	Seconds int64 `json:"seconds"`
}

// BindGatePayload ties a set to a credential token.
type BindGatePayload struct {
	SetID   string `json:"setId"`
	TokenID string `json:"tokenId"`
}

// Decode unmarshals a payload, rejecting unknown fields.
func Decode(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("metatx: decode payload: %w", err)
	}
	return nil
}

// ParseAmount parses a non-negative decimal amount that fits in 256 bits.
// Empty strings are zero.
func ParseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("metatx: invalid amount %q: %w", value, err)
	}
	return amount.ToBig(), nil
}

// ParseID parses a 32-byte hex identifier with optional 0x prefix.
func ParseID(value string) ([32]byte, error) {
	var id [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("metatx: invalid id %q: %w", value, err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("metatx: id must be 32 bytes, got %d", len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// ParseAddress parses a bech32 account address.
func ParseAddress(value string) ([20]byte, error) {
	return crypto.ParseAddress(strings.TrimSpace(value))
}
