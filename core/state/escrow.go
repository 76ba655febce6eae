package state

import (
	"math/big"

	"voucherchain/core/types"
	"voucherchain/native/escrow"
	"voucherchain/native/voucher"
)

var (
	escrowHeldPrefix       = []byte("escrow/held/")
	escrowLedgerPrefix     = []byte("escrow/ledger/")
	escrowSettlementPrefix = []byte("escrow/settlement/")
)

type storedSplit struct {
	Asset  [20]byte
	Buyer  *big.Int
	Seller *big.Int
	Pool   *big.Int
}

type storedSettlement struct {
	VoucherID [32]byte
	Outcome   uint8
	Buyer     [20]byte
	Seller    [20]byte
	Payment   storedSplit
	Deposits  storedSplit
	Final     bool
	SettledAt uint64
}

func newStoredSplit(s escrow.Split) storedSplit {
	return storedSplit{Asset: s.Asset, Buyer: nonNil(s.Buyer), Seller: nonNil(s.Seller), Pool: nonNil(s.Pool)}
}

func (s storedSplit) toSplit() escrow.Split {
	return escrow.Split{Asset: types.Asset(s.Asset), Buyer: nonNil(s.Buyer), Seller: nonNil(s.Seller), Pool: nonNil(s.Pool)}
}

func escrowHeldKey(party [20]byte, asset types.Asset) []byte {
	return joinKey(escrowHeldPrefix, asset[:], party[:])
}

func escrowLedgerKey(party [20]byte, asset types.Asset) []byte {
	return joinKey(escrowLedgerPrefix, asset[:], party[:])
}

// EscrowHeld returns the amount of asset locked in escrow on behalf of party.
func (m *Manager) EscrowHeld(party [20]byte, asset types.Asset) (*big.Int, error) {
	return m.getBigInt(escrowHeldKey(party, asset))
}

// EscrowSetHeld overwrites the locked amount.
func (m *Manager) EscrowSetHeld(party [20]byte, asset types.Asset, amount *big.Int) error {
	return m.putBigInt(escrowHeldKey(party, asset), amount)
}

// EscrowLedgerBalance returns the withdrawable amount owed to party.
func (m *Manager) EscrowLedgerBalance(party [20]byte, asset types.Asset) (*big.Int, error) {
	return m.getBigInt(escrowLedgerKey(party, asset))
}

// EscrowSetLedgerBalance overwrites the withdrawable amount.
func (m *Manager) EscrowSetLedgerBalance(party [20]byte, asset types.Asset, amount *big.Int) error {
	return m.putBigInt(escrowLedgerKey(party, asset), amount)
}

// EscrowSettlementPut records a voucher's final split.
func (m *Manager) EscrowSettlementPut(s *escrow.Settlement) error {
	stored := storedSettlement{
		VoucherID: s.VoucherID,
		Outcome:   uint8(s.Outcome),
		Buyer:     s.Buyer,
		Seller:    s.Seller,
		Payment:   newStoredSplit(s.Payment),
		Deposits:  newStoredSplit(s.Deposits),
		Final:     s.Final,
		SettledAt: toUnix(s.SettledAt),
	}
	return m.KVPut(joinKey(escrowSettlementPrefix, s.VoucherID[:]), stored)
}

// EscrowSettlementGet loads a voucher's final split.
func (m *Manager) EscrowSettlementGet(id [32]byte) (*escrow.Settlement, bool, error) {
	var stored storedSettlement
	ok, err := m.KVGet(joinKey(escrowSettlementPrefix, id[:]), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &escrow.Settlement{
		VoucherID: stored.VoucherID,
		Outcome:   voucher.Outcome(stored.Outcome),
		Buyer:     stored.Buyer,
		Seller:    stored.Seller,
		Payment:   stored.Payment.toSplit(),
		Deposits:  stored.Deposits.toSplit(),
		Final:     stored.Final,
		SettledAt: fromUnix(stored.SettledAt),
	}, true, nil
}
