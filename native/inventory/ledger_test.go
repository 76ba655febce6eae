package inventory

import (
	"errors"
	"testing"

	coreerrors "voucherchain/core/errors"
)

type balanceKey struct {
	id     [32]byte
	holder [20]byte
}

type mockState struct {
	balances map[balanceKey]uint64
	supply   map[[32]byte]uint64
}

func newMockState() *mockState {
	return &mockState{balances: make(map[balanceKey]uint64), supply: make(map[[32]byte]uint64)}
}

func (m *mockState) InventoryBalance(id [32]byte, holder [20]byte) (uint64, error) {
	return m.balances[balanceKey{id, holder}], nil
}

func (m *mockState) InventorySetBalance(id [32]byte, holder [20]byte, amount uint64) error {
	m.balances[balanceKey{id, holder}] = amount
	return nil
}

func (m *mockState) InventorySupply(id [32]byte) (uint64, error) { return m.supply[id], nil }

func (m *mockState) InventorySetSupply(id [32]byte, amount uint64) error {
	m.supply[id] = amount
	return nil
}

func TestLedgerMintBurnTransfer(t *testing.T) {
	ledger := NewLedger(newMockState())
	id := [32]byte{0x01}
	alice := [20]byte{0xA1}
	bob := [20]byte{0xB0}

	if err := ledger.Mint(id, alice, 5); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Transfer(id, alice, bob, 2); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := ledger.Burn(id, bob, 1); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if bal, _ := ledger.BalanceOf(id, alice); bal != 3 {
		t.Fatalf("alice balance %d", bal)
	}
	if bal, _ := ledger.BalanceOf(id, bob); bal != 1 {
		t.Fatalf("bob balance %d", bal)
	}
	if supply, _ := ledger.TotalSupply(id); supply != 4 {
		t.Fatalf("supply %d", supply)
	}
}

func TestLedgerRejectsOverdraw(t *testing.T) {
	ledger := NewLedger(newMockState())
	id := [32]byte{0x02}
	alice := [20]byte{0xA1}
	if err := ledger.Mint(id, alice, 1); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Burn(id, alice, 2); !errors.Is(err, coreerrors.ErrCapacityViolation) {
		t.Fatalf("expected capacity violation, got %v", err)
	}
	if err := ledger.Transfer(id, alice, [20]byte{0xB0}, 3); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if err := ledger.Mint(id, [20]byte{}, 1); err == nil {
		t.Fatalf("expected mint to zero holder to fail")
	}
}

func TestLedgerMintOverflow(t *testing.T) {
	state := newMockState()
	ledger := NewLedger(state)
	id := [32]byte{0x03}
	state.supply[id] = ^uint64(0)
	if err := ledger.Mint(id, [20]byte{0xA1}, 1); !errors.Is(err, ErrSupplyOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}
