package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"voucherchain/core"
	"voucherchain/core/metatx"
	"voucherchain/core/types"
	"voucherchain/crypto"
	"voucherchain/native/escrow"
	"voucherchain/native/gate"
	"voucherchain/native/system"
	"voucherchain/native/voucher"
)

// RelayRequest is the JSON form of a signed envelope.
type RelayRequest struct {
	Signer    string          `json:"signer"`
	Nonce     uint64          `json:"nonce"`
	Method    string          `json:"method"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// Envelope converts the request into the verifiable envelope.
func (r RelayRequest) Envelope() (*metatx.Envelope, error) {
	signer, err := metatx.ParseAddress(r.Signer)
	if err != nil {
		return nil, fmt.Errorf("%w: signer: %v", errBadRequest, err)
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(r.Signature), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", errBadRequest, err)
	}
	return &metatx.Envelope{
		Signer:    signer,
		Nonce:     r.Nonce,
		Method:    r.Method,
		Payload:   r.Payload,
		Signature: sig,
	}, nil
}

// NewRelayRequest renders a signed envelope as a request body.
func NewRelayRequest(env *metatx.Envelope) RelayRequest {
	return RelayRequest{
		Signer:    formatAddress(env.Signer),
		Nonce:     env.Nonce,
		Method:    env.Method,
		Payload:   env.Payload,
		Signature: "0x" + hex.EncodeToString(env.Signature),
	}
}

type relayResponse struct {
	ID     string      `json:"id"`
	Method string      `json:"method"`
	Signer string      `json:"signer"`
	Nonce  uint64      `json:"nonce"`
	Result interface{} `json:"result,omitempty"`
}

type voucherSetView struct {
	ID            string `json:"id"`
	Seller        string `json:"seller"`
	Nonce         uint64 `json:"nonce"`
	ValidFrom     int64  `json:"validFrom"`
	ValidTo       int64  `json:"validTo"`
	Price         string `json:"price"`
	SellerDeposit string `json:"sellerDeposit"`
	BuyerDeposit  string `json:"buyerDeposit"`
	PriceAsset    string `json:"priceAsset"`
	DepositAsset  string `json:"depositAsset"`
	Quantity      uint64 `json:"quantity"`
	Remaining     uint64 `json:"remaining"`
	Cancelled     bool   `json:"cancelled"`
	CreatedAt     int64  `json:"createdAt"`
}

type voucherView struct {
	ID                     string `json:"id"`
	SetID                  string `json:"setId"`
	Serial                 uint64 `json:"serial"`
	Holder                 string `json:"holder"`
	Issuer                 string `json:"issuer"`
	Status                 string `json:"status"`
	Outcome                string `json:"outcome"`
	CommittedAt            int64  `json:"committedAt"`
	ComplainPeriodStart    int64  `json:"complainPeriodStart,omitempty"`
	CancelFaultPeriodStart int64  `json:"cancelFaultPeriodStart,omitempty"`
	PaymentReleased        bool   `json:"paymentReleased"`
	DepositsReleased       bool   `json:"depositsReleased"`
}

type splitView struct {
	Asset  string `json:"asset"`
	Buyer  string `json:"buyer"`
	Seller string `json:"seller"`
	Pool   string `json:"pool"`
}

type settlementView struct {
	VoucherID string    `json:"voucherId"`
	Outcome   string    `json:"outcome"`
	Buyer     string    `json:"buyer"`
	Seller    string    `json:"seller"`
	Payment   splitView `json:"payment"`
	Deposits  splitView `json:"deposits"`
	Final     bool      `json:"final"`
	SettledAt int64     `json:"settledAt,omitempty"`
}

type settingsView struct {
	Mode       string `json:"mode"`
	Owner      string `json:"owner"`
	EscrowPool string `json:"escrowPool"`
	UpdatedAt  int64  `json:"updatedAt,omitempty"`
}

type paramsView struct {
	ComplainPeriod    int64 `json:"complainPeriod"`
	CancelFaultPeriod int64 `json:"cancelFaultPeriod"`
}

type bindingView struct {
	SetID      string `json:"setId"`
	TokenID    string `json:"tokenId"`
	Generation uint64 `json:"generation"`
}

type withdrawView struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type balancesView struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Wallet  string `json:"wallet"`
	Held    string `json:"held"`
	Ledger  string `json:"ledger"`
}

type eventView struct {
	Sequence   uint64            `json:"sequence"`
	Cursor     string            `json:"cursor,omitempty"`
	Type       string            `json:"type"`
	Subject    string            `json:"subject,omitempty"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  int64             `json:"timestamp"`
	Digest     string            `json:"digest,omitempty"`
}

func formatAddress(addr [20]byte) string {
	return crypto.NewAddress(crypto.VoucherPrefix, addr[:]).String()
}

func formatID(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func newVoucherSetView(set *voucher.VoucherSet) voucherSetView {
	return voucherSetView{
		ID:            formatID(set.ID),
		Seller:        formatAddress(set.Seller),
		Nonce:         set.Nonce,
		ValidFrom:     set.Terms.ValidFrom,
		ValidTo:       set.Terms.ValidTo,
		Price:         formatAmount(set.Terms.Price),
		SellerDeposit: formatAmount(set.Terms.SellerDeposit),
		BuyerDeposit:  formatAmount(set.Terms.BuyerDeposit),
		PriceAsset:    set.Terms.PriceAsset.String(),
		DepositAsset:  set.Terms.DepositAsset.String(),
		Quantity:      set.Terms.Quantity,
		Remaining:     set.Remaining,
		Cancelled:     set.Cancelled,
		CreatedAt:     set.CreatedAt,
	}
}

func newVoucherView(v *voucher.Voucher) voucherView {
	return voucherView{
		ID:                     formatID(v.ID),
		SetID:                  formatID(v.SetID),
		Serial:                 v.Serial,
		Holder:                 formatAddress(v.Holder),
		Issuer:                 formatAddress(v.Issuer),
		Status:                 v.Status.String(),
		Outcome:                v.Outcome().String(),
		CommittedAt:            v.CommittedAt,
		ComplainPeriodStart:    v.ComplainPeriodStart,
		CancelFaultPeriodStart: v.CancelFaultPeriodStart,
		PaymentReleased:        v.PaymentReleased,
		DepositsReleased:       v.DepositsReleased,
	}
}

func newSplitView(split escrow.Split) splitView {
	return splitView{
		Asset:  split.Asset.String(),
		Buyer:  formatAmount(split.Buyer),
		Seller: formatAmount(split.Seller),
		Pool:   formatAmount(split.Pool),
	}
}

func newSettlementView(s *escrow.Settlement) settlementView {
	return settlementView{
		VoucherID: formatID(s.VoucherID),
		Outcome:   s.Outcome.String(),
		Buyer:     formatAddress(s.Buyer),
		Seller:    formatAddress(s.Seller),
		Payment:   newSplitView(s.Payment),
		Deposits:  newSplitView(s.Deposits),
		Final:     s.Final,
		SettledAt: s.SettledAt,
	}
}

func newSettingsView(s *system.Settings) settingsView {
	return settingsView{
		Mode:       s.Mode.String(),
		Owner:      formatAddress(s.Owner),
		EscrowPool: formatAddress(s.EscrowPool),
		UpdatedAt:  s.UpdatedAt,
	}
}

func newBindingView(b *gate.Binding) bindingView {
	return bindingView{SetID: formatID(b.SetID), TokenID: formatID(b.TokenID), Generation: b.Generation}
}

func newEventView(update core.EventUpdate) eventView {
	return eventView{
		Sequence:   update.Sequence,
		Cursor:     update.Cursor,
		Type:       update.Type,
		Attributes: update.Attributes,
		Timestamp:  update.Timestamp,
	}
}

// resultView renders a relay result with the same shapes the query routes
// use.
func resultView(result interface{}) interface{} {
	switch v := result.(type) {
	case *voucher.VoucherSet:
		return newVoucherSetView(v)
	case *voucher.Voucher:
		return newVoucherView(v)
	case *system.Settings:
		return newSettingsView(v)
	case voucher.Params:
		return paramsView{ComplainPeriod: v.ComplainPeriod, CancelFaultPeriod: v.CancelFaultPeriod}
	case *gate.Binding:
		return newBindingView(v)
	case *core.WithdrawResult:
		return withdrawView{Asset: v.Asset.String(), Amount: formatAmount(v.Amount)}
	default:
		return v
	}
}

func parseAsset(value string) (types.Asset, error) {
	asset, err := types.ParseAsset(value)
	if err != nil {
		return asset, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return asset, nil
}
