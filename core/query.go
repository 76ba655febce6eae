package core

import (
	"math/big"

	"voucherchain/core/types"
	"voucherchain/native/escrow"
	"voucherchain/native/gate"
	"voucherchain/native/system"
	"voucherchain/native/voucher"
)

// VoucherFilter narrows ListVouchers. Zero fields match everything.
type VoucherFilter struct {
	SetID  [32]byte
	Holder [20]byte
	Limit  int
}

func (f VoucherFilter) match(v *voucher.Voucher) bool {
	if f.SetID != ([32]byte{}) && v.SetID != f.SetID {
		return false
	}
	if f.Holder != ([20]byte{}) && v.Holder != f.Holder {
		return false
	}
	return true
}

// VoucherSet returns the stored set.
func (n *Node) VoucherSet(id [32]byte) (*voucher.VoucherSet, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.vouchers.VoucherSet(id)
}

// Voucher returns the stored voucher.
func (n *Node) Voucher(id [32]byte) (*voucher.Voucher, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.vouchers.Voucher(id)
}

// Finalizable reports whether TriggerFinalize would succeed now.
func (n *Node) Finalizable(id [32]byte) (bool, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.vouchers.Finalizable(id)
}

// Entitlement previews the split a voucher would settle to if it were
// finalized now.
func (n *Node) Entitlement(id [32]byte) (*escrow.Settlement, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	v, err := n.vouchers.Voucher(id)
	if err != nil {
		return nil, err
	}
	set, err := n.vouchers.VoucherSet(v.SetID)
	if err != nil {
		return nil, err
	}
	return n.escrow.Preview(set, v)
}

// ListVoucherSets returns the sets offered by seller, or every set when
// seller is zero.
func (n *Node) ListVoucherSets(seller [20]byte, limit int) ([]*voucher.VoucherSet, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	var out []*voucher.VoucherSet
	err := n.state.VoucherSets(func(set *voucher.VoucherSet) bool {
		if seller == ([20]byte{}) || set.Seller == seller {
			out = append(out, set)
		}
		return limit <= 0 || len(out) < limit
	})
	return out, err
}

// ListVouchers returns the vouchers matching filter.
func (n *Node) ListVouchers(filter VoucherFilter) ([]*voucher.Voucher, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	var out []*voucher.Voucher
	err := n.state.Vouchers(func(v *voucher.Voucher) bool {
		if filter.match(v) {
			out = append(out, v)
		}
		return filter.Limit <= 0 || len(out) < filter.Limit
	})
	return out, err
}

// Settlement returns the final split recorded for a voucher.
func (n *Node) Settlement(id [32]byte) (*escrow.Settlement, bool, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.escrow.Settlement(id)
}

// LedgerBalance returns what party may withdraw in asset.
func (n *Node) LedgerBalance(party [20]byte, asset types.Asset) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.escrow.Balance(party, asset)
}

// HeldBalance returns what is still locked for party in asset.
func (n *Node) HeldBalance(party [20]byte, asset types.Asset) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.escrow.Held(party, asset)
}

// Balance returns the wallet balance of addr outside escrow.
func (n *Node) Balance(addr [20]byte, asset types.Asset) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.state.Balance(addr, asset)
}

// SystemSettings returns the coordinator state.
func (n *Node) SystemSettings() (*system.Settings, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.system.Settings()
}

// Params returns the lifecycle windows in force.
func (n *Node) Params() (voucher.Params, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.vouchers.Params()
}

// GateBinding returns the credential a set is gated on.
func (n *Node) GateBinding(setID [32]byte) (*gate.Binding, bool, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.gate.Binding(setID)
}

// InventoryBalance returns how many units of id holder owns. Voucher ids and
// credential tokens share the same ledger.
func (n *Node) InventoryBalance(id [32]byte, holder [20]byte) (uint64, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.inventory.BalanceOf(id, holder)
}

// RelayNonceUsed reports whether signer already consumed nonce.
func (n *Node) RelayNonceUsed(signer [20]byte, nonce uint64) (bool, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.state.RelayNonceUsed(signer, nonce)
}
