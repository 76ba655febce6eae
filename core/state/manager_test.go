package state

import (
	"errors"
	"math/big"
	"testing"

	coreerrors "voucherchain/core/errors"
	"voucherchain/core/types"
	"voucherchain/native/escrow"
	"voucherchain/native/gate"
	"voucherchain/native/system"
	"voucherchain/native/voucher"
	"voucherchain/storage"
)

func newTestManager(t *testing.T) (*Manager, *storage.MemDB) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return NewManager(db), db
}

func TestManagerCommitAndDiscard(t *testing.T) {
	mgr, db := newTestManager(t)
	addr := [20]byte{0x01}

	if err := mgr.SetBalance(addr, types.NativeAsset, big.NewInt(10)); err != nil {
		t.Fatalf("set balance: %v", err)
	}
	if !mgr.Dirty() {
		t.Fatalf("expected staged writes")
	}
	if _, err := db.Get(balanceKey(addr, types.NativeAsset)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("staged write must not reach the database, got %v", err)
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := mgr.SetBalance(addr, types.NativeAsset, big.NewInt(99)); err != nil {
		t.Fatalf("set balance: %v", err)
	}
	mgr.Discard()
	balance, err := mgr.Balance(addr, types.NativeAsset)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected committed balance 10, got %s", balance)
	}
}

func TestManagerTransfer(t *testing.T) {
	mgr, _ := newTestManager(t)
	alice := [20]byte{0xA1}
	bob := [20]byte{0xB0}
	asset := types.Asset{0x0C}
	if err := mgr.Credit(alice, asset, big.NewInt(5)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := mgr.Transfer(alice, bob, asset, big.NewInt(6)); !errors.Is(err, coreerrors.ErrCapacityViolation) {
		t.Fatalf("expected capacity violation, got %v", err)
	}
	if err := mgr.Transfer(alice, bob, asset, big.NewInt(3)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	a, _ := mgr.Balance(alice, asset)
	b, _ := mgr.Balance(bob, asset)
	if a.Int64() != 2 || b.Int64() != 3 {
		t.Fatalf("unexpected balances %s/%s", a, b)
	}
	if other, _ := mgr.Balance(bob, types.NativeAsset); other.Sign() != 0 {
		t.Fatalf("assets must not share balances")
	}
}

func TestVoucherRoundTrip(t *testing.T) {
	mgr, _ := newTestManager(t)
	set := &voucher.VoucherSet{
		ID:     [32]byte{0x01},
		Seller: [20]byte{0x5E},
		Terms: voucher.Terms{
			ValidFrom:     100,
			ValidTo:       200,
			Price:         big.NewInt(300),
			SellerDeposit: big.NewInt(50),
			BuyerDeposit:  big.NewInt(40),
			PriceAsset:    types.NativeAsset,
			DepositAsset:  types.Asset{0xDD},
			Quantity:      10,
		},
		Remaining: 7,
		CreatedAt: 90,
	}
	if err := mgr.VoucherSetPut(set); err != nil {
		t.Fatalf("put set: %v", err)
	}
	loaded, ok, err := mgr.VoucherSetGet(set.ID)
	if err != nil || !ok {
		t.Fatalf("get set: ok=%v err=%v", ok, err)
	}
	if loaded.Terms.ValidTo != 200 || loaded.Remaining != 7 || loaded.Terms.DepositAsset != set.Terms.DepositAsset {
		t.Fatalf("unexpected set %+v", loaded)
	}
	if loaded.Terms.SellerDeposit.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("unexpected seller deposit %s", loaded.Terms.SellerDeposit)
	}

	v := &voucher.Voucher{
		ID:                  [32]byte{0x02},
		SetID:               set.ID,
		Holder:              [20]byte{0xB1},
		Issuer:              set.Seller,
		Status:              voucher.StatusCommitted | voucher.StatusRedeemed,
		CommittedAt:         110,
		ComplainPeriodStart: 120,
		PaymentReleased:     true,
	}
	if err := mgr.VoucherPut(v); err != nil {
		t.Fatalf("put voucher: %v", err)
	}
	got, ok, err := mgr.VoucherGet(v.ID)
	if err != nil || !ok {
		t.Fatalf("get voucher: ok=%v err=%v", ok, err)
	}
	if got.Status != v.Status || got.ComplainPeriodStart != 120 || !got.PaymentReleased {
		t.Fatalf("unexpected voucher %+v", got)
	}
	if _, ok, _ := mgr.VoucherGet([32]byte{0xFF}); ok {
		t.Fatalf("expected missing voucher")
	}
}

func TestVoucherPutRejectsInvalidStatus(t *testing.T) {
	mgr, _ := newTestManager(t)
	v := &voucher.Voucher{ID: [32]byte{0x01}, Status: voucher.StatusRedeemed | voucher.StatusRefunded}
	if err := mgr.VoucherPut(v); err == nil {
		t.Fatalf("expected invalid status to be rejected")
	}
}

func TestVoucherSetNextNonce(t *testing.T) {
	mgr, _ := newTestManager(t)
	seller := [20]byte{0x5E}
	for want := uint64(0); want < 3; want++ {
		got, err := mgr.VoucherSetNextNonce(seller)
		if err != nil {
			t.Fatalf("nonce: %v", err)
		}
		if got != want {
			t.Fatalf("expected nonce %d, got %d", want, got)
		}
	}
}

func TestVoucherSetsIteratesCommitted(t *testing.T) {
	mgr, _ := newTestManager(t)
	for i := byte(1); i <= 3; i++ {
		set := &voucher.VoucherSet{ID: [32]byte{i}, Terms: voucher.Terms{Price: big.NewInt(int64(i))}}
		if err := mgr.VoucherSetPut(set); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	var ids []byte
	if err := mgr.VoucherSets(func(set *voucher.VoucherSet) bool {
		ids = append(ids, set.ID[0])
		return true
	}); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if string(ids) != string([]byte{1, 2, 3}) {
		t.Fatalf("unexpected order %v", ids)
	}
}

func TestEscrowBooks(t *testing.T) {
	mgr, _ := newTestManager(t)
	party := [20]byte{0xB1}
	asset := types.NativeAsset
	if err := mgr.EscrowSetHeld(party, asset, big.NewInt(7)); err != nil {
		t.Fatalf("held: %v", err)
	}
	if err := mgr.EscrowSetLedgerBalance(party, asset, big.NewInt(3)); err != nil {
		t.Fatalf("ledger: %v", err)
	}
	held, _ := mgr.EscrowHeld(party, asset)
	owed, _ := mgr.EscrowLedgerBalance(party, asset)
	if held.Int64() != 7 || owed.Int64() != 3 {
		t.Fatalf("unexpected books held=%s owed=%s", held, owed)
	}
	if err := mgr.EscrowSetHeld(party, asset, big.NewInt(-1)); err == nil {
		t.Fatalf("expected negative amount to be rejected")
	}

	settlement := &escrow.Settlement{
		VoucherID: [32]byte{0x09},
		Outcome:   voucher.OutcomeRedeemedComplained,
		Payment:   escrow.Split{Asset: asset, Buyer: big.NewInt(0), Seller: big.NewInt(5), Pool: big.NewInt(0)},
		Deposits:  escrow.Split{Asset: asset, Buyer: big.NewInt(2), Seller: big.NewInt(0), Pool: big.NewInt(1)},
		Final:     true,
		SettledAt: 42,
	}
	if err := mgr.EscrowSettlementPut(settlement); err != nil {
		t.Fatalf("settlement put: %v", err)
	}
	got, ok, err := mgr.EscrowSettlementGet(settlement.VoucherID)
	if err != nil || !ok {
		t.Fatalf("settlement get: ok=%v err=%v", ok, err)
	}
	if got.Outcome != settlement.Outcome || got.Deposits.Pool.Int64() != 1 || got.SettledAt != 42 {
		t.Fatalf("unexpected settlement %+v", got)
	}
}

func TestRegistryStores(t *testing.T) {
	mgr, _ := newTestManager(t)
	id := [32]byte{0x01}
	holder := [20]byte{0xB1}
	if err := mgr.InventorySetBalance(id, holder, 4); err != nil {
		t.Fatalf("inventory: %v", err)
	}
	if bal, _ := mgr.InventoryBalance(id, holder); bal != 4 {
		t.Fatalf("unexpected inventory balance %d", bal)
	}

	if err := mgr.GateBindingPut(&gate.Binding{SetID: id, TokenID: [32]byte{0xC0}, Generation: 2}); err != nil {
		t.Fatalf("binding: %v", err)
	}
	binding, ok, err := mgr.GateBindingGet(id)
	if err != nil || !ok || binding.Generation != 2 {
		t.Fatalf("unexpected binding %+v ok=%v err=%v", binding, ok, err)
	}
	if err := mgr.GateMarkUsed(holder, id, 2); err != nil {
		t.Fatalf("mark used: %v", err)
	}
	if used, _ := mgr.GateUsed(holder, id, 2); !used {
		t.Fatalf("expected used flag")
	}
	if used, _ := mgr.GateUsed(holder, id, 3); used {
		t.Fatalf("used flag must be per generation")
	}

	settings := &system.Settings{Mode: system.ModePaused, Owner: [20]byte{0x01}, EscrowPool: [20]byte{0x0E}, UpdatedAt: 5}
	if err := mgr.SystemSettingsPut(settings); err != nil {
		t.Fatalf("settings: %v", err)
	}
	loaded, ok, err := mgr.SystemSettingsGet()
	if err != nil || !ok || *loaded != *settings {
		t.Fatalf("unexpected settings %+v ok=%v err=%v", loaded, ok, err)
	}

	if err := mgr.MarkRelayNonce(holder, 3); err != nil {
		t.Fatalf("relay nonce: %v", err)
	}
	if used, _ := mgr.RelayNonceUsed(holder, 3); !used {
		t.Fatalf("expected nonce 3 to be consumed")
	}
	if used, _ := mgr.RelayNonceUsed(holder, 2); used {
		t.Fatalf("nonce 2 was never consumed")
	}
}
