package voucher

import (
	"errors"
	"math"
	"math/big"
	"testing"

	coreerrors "voucherchain/core/errors"
	"voucherchain/core/events"
	"voucherchain/core/types"
)

type mockState struct {
	sets   map[[32]byte]*VoucherSet
	items  map[[32]byte]*Voucher
	nonces map[[20]byte]uint64
	params *Params

	paramsErr error
}

func newMockState() *mockState {
	return &mockState{
		sets:   make(map[[32]byte]*VoucherSet),
		items:  make(map[[32]byte]*Voucher),
		nonces: make(map[[20]byte]uint64),
	}
}

func (m *mockState) VoucherSetPut(set *VoucherSet) error {
	m.sets[set.ID] = set.Clone()
	return nil
}

func (m *mockState) VoucherSetGet(id [32]byte) (*VoucherSet, bool, error) {
	set, ok := m.sets[id]
	if !ok {
		return nil, false, nil
	}
	return set.Clone(), true, nil
}

func (m *mockState) VoucherPut(v *Voucher) error {
	m.items[v.ID] = v.Clone()
	return nil
}

func (m *mockState) VoucherGet(id [32]byte) (*Voucher, bool, error) {
	v, ok := m.items[id]
	if !ok {
		return nil, false, nil
	}
	return v.Clone(), true, nil
}

func (m *mockState) VoucherSetNextNonce(seller [20]byte) (uint64, error) {
	n := m.nonces[seller]
	m.nonces[seller] = n + 1
	return n, nil
}

func (m *mockState) VoucherParamsGet() (Params, bool, error) {
	if m.paramsErr != nil {
		return Params{}, false, m.paramsErr
	}
	if m.params == nil {
		return Params{}, false, nil
	}
	return *m.params, true, nil
}

func (m *mockState) VoucherParamsPut(p Params) error {
	m.params = &p
	return nil
}

type holding struct {
	id     [32]byte
	holder [20]byte
}

type mockInventory struct {
	balances map[holding]uint64
}

func (m *mockInventory) Mint(id [32]byte, holder [20]byte, amount uint64) error {
	m.balances[holding{id, holder}] += amount
	return nil
}

func (m *mockInventory) Burn(id [32]byte, holder [20]byte, amount uint64) error {
	key := holding{id, holder}
	if m.balances[key] < amount {
		return errors.New("burn exceeds balance")
	}
	m.balances[key] -= amount
	return nil
}

func (m *mockInventory) Transfer(id [32]byte, from, to [20]byte, amount uint64) error {
	if err := m.Burn(id, from, amount); err != nil {
		return err
	}
	return m.Mint(id, to, amount)
}

type recordingDistributor struct {
	calls    []string
	released map[[32]byte]int
}

func (d *recordingDistributor) LockSupply(*VoucherSet, Payment) error {
	d.calls = append(d.calls, "lockSupply")
	return nil
}

func (d *recordingDistributor) Lock(*VoucherSet, *Voucher, Payment) error {
	d.calls = append(d.calls, "lock")
	return nil
}

func (d *recordingDistributor) TransferHolding(*VoucherSet, *Voucher, [20]byte, [20]byte) error {
	d.calls = append(d.calls, "transferHolding")
	return nil
}

func (d *recordingDistributor) ReleaseSupply(*VoucherSet, uint64) error {
	d.calls = append(d.calls, "releaseSupply")
	return nil
}

func (d *recordingDistributor) Recompute(*VoucherSet, *Voucher) error {
	d.calls = append(d.calls, "recompute")
	return nil
}

func (d *recordingDistributor) Release(_ *VoucherSet, v *Voucher) error {
	d.calls = append(d.calls, "release")
	d.released[v.ID]++
	v.PaymentReleased = true
	v.DepositsReleased = true
	return nil
}

type switchGuard struct {
	err error
}

func (s *switchGuard) Guard() error { return s.err }

type onceGate struct {
	allowed map[[20]byte]bool
}

func (g *onceGate) CheckEligible(buyer [20]byte, _ [32]byte) (bool, error) {
	return g.allowed[buyer], nil
}

func (g *onceGate) Revoke(buyer [20]byte, _ [32]byte) error {
	delete(g.allowed, buyer)
	return nil
}

type captureEmitter struct {
	types []string
}

func (c *captureEmitter) Emit(evt events.Event) { c.types = append(c.types, evt.EventType()) }

var (
	testSeller = [20]byte{0x5E}
	testBuyer  = [20]byte{0xB1}
	testOther  = [20]byte{0xB2}
)

const (
	day       = int64(24 * 3600)
	startTime = int64(1_700_000_000)
)

type harness struct {
	engine      *Engine
	state       *mockState
	inventory   *mockInventory
	distributor *recordingDistributor
	pause       *switchGuard
	emitter     *captureEmitter
	now         int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		state:       newMockState(),
		inventory:   &mockInventory{balances: make(map[holding]uint64)},
		distributor: &recordingDistributor{released: make(map[[32]byte]int)},
		pause:       &switchGuard{},
		emitter:     &captureEmitter{},
		now:         startTime,
	}
	h.engine = NewEngine(Deps{
		State:       h.state,
		Distributor: h.distributor,
		Inventory:   h.inventory,
		Pause:       h.pause,
		Emitter:     h.emitter,
		MinPeriod:   3600,
	})
	h.engine.SetNowFunc(func() int64 { return h.now })
	return h
}

func testTerms(quantity uint64) Terms {
	return Terms{
		ValidFrom:     startTime,
		ValidTo:       startTime + 30*day,
		Price:         big.NewInt(300),
		SellerDeposit: big.NewInt(50),
		BuyerDeposit:  big.NewInt(40),
		PriceAsset:    types.NativeAsset,
		DepositAsset:  types.NativeAsset,
		Quantity:      quantity,
	}
}

func (h *harness) createSet(t *testing.T, quantity uint64) *VoucherSet {
	t.Helper()
	terms := testTerms(quantity)
	deposit := new(big.Int).Mul(terms.SellerDeposit, new(big.Int).SetUint64(quantity))
	set, err := h.engine.CreateVoucherSet(testSeller, terms, Payment{Deposit: deposit})
	if err != nil {
		t.Fatalf("create set: %v", err)
	}
	return set
}

func (h *harness) commit(t *testing.T, set *VoucherSet, buyer [20]byte) *Voucher {
	t.Helper()
	v, err := h.engine.Commit(set.ID, buyer, Payment{Price: big.NewInt(300), Deposit: big.NewInt(40)})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	return v
}

func TestCreateVoucherSetRequiresFullDeposit(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.CreateVoucherSet(testSeller, testTerms(3), Payment{Deposit: big.NewInt(100)})
	if !errors.Is(err, ErrPaymentMismatch) {
		t.Fatalf("expected payment mismatch, got %v", err)
	}
	set := h.createSet(t, 3)
	if set.Remaining != 3 || set.Nonce != 0 {
		t.Fatalf("unexpected set %+v", set)
	}
	if h.inventory.balances[holding{set.ID, testSeller}] != 3 {
		t.Fatalf("expected supply minted to seller")
	}
	second := h.createSet(t, 1)
	if second.ID == set.ID {
		t.Fatalf("expected distinct set identifiers")
	}
}

func TestCommitDrawsFromSupply(t *testing.T) {
	h := newHarness(t)
	set := h.createSet(t, 1)
	v := h.commit(t, set, testBuyer)
	if v.Status != StatusCommitted || v.Holder != testBuyer || v.Issuer != testSeller {
		t.Fatalf("unexpected voucher %+v", v)
	}
	if v.ID != VoucherID(set.ID, 0) {
		t.Fatalf("unexpected voucher id")
	}
	if h.inventory.balances[holding{v.ID, testBuyer}] != 1 {
		t.Fatalf("expected voucher unit minted to buyer")
	}
	_, err := h.engine.Commit(set.ID, testOther, Payment{Price: big.NewInt(300), Deposit: big.NewInt(40)})
	if !errors.Is(err, ErrSoldOut) || !errors.Is(err, coreerrors.ErrCapacityViolation) {
		t.Fatalf("expected sold out capacity violation, got %v", err)
	}
}

func TestCommitValidation(t *testing.T) {
	h := newHarness(t)
	set := h.createSet(t, 2)
	if _, err := h.engine.Commit(set.ID, testBuyer, Payment{Price: big.NewInt(299), Deposit: big.NewInt(40)}); !errors.Is(err, ErrPaymentMismatch) {
		t.Fatalf("expected payment mismatch, got %v", err)
	}
	if _, err := h.engine.Commit([32]byte{0xFF}, testBuyer, Payment{}); !errors.Is(err, coreerrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	h.now = set.Terms.ValidTo
	if _, err := h.engine.Commit(set.ID, testBuyer, Payment{Price: big.NewInt(300), Deposit: big.NewInt(40)}); !errors.Is(err, ErrOutsideValidity) {
		t.Fatalf("expected outside validity, got %v", err)
	}
}

func TestCommitWhilePaused(t *testing.T) {
	h := newHarness(t)
	set := h.createSet(t, 2)
	h.pause.err = coreerrors.ErrPaused
	if _, err := h.engine.Commit(set.ID, testBuyer, Payment{Price: big.NewInt(300), Deposit: big.NewInt(40)}); !errors.Is(err, coreerrors.ErrPaused) {
		t.Fatalf("expected paused, got %v", err)
	}
	if stored, _, _ := h.state.VoucherSetGet(set.ID); stored.Remaining != 2 {
		t.Fatalf("paused commit must not touch supply")
	}
}

func TestCommitGated(t *testing.T) {
	h := newHarness(t)
	gate := &onceGate{allowed: map[[20]byte]bool{testBuyer: true}}
	h.engine.gate = gate
	set := h.createSet(t, 3)
	if _, err := h.engine.Commit(set.ID, testOther, Payment{Price: big.NewInt(300), Deposit: big.NewInt(40)}); !errors.Is(err, ErrGateDenied) {
		t.Fatalf("expected gate denial, got %v", err)
	}
	h.commit(t, set, testBuyer)
	if _, err := h.engine.Commit(set.ID, testBuyer, Payment{Price: big.NewInt(300), Deposit: big.NewInt(40)}); !errors.Is(err, ErrGateDenied) {
		t.Fatalf("expected second commit to be denied, got %v", err)
	}
}

func TestRedeemLifecycle(t *testing.T) {
	h := newHarness(t)
	set := h.createSet(t, 1)
	v := h.commit(t, set, testBuyer)
	if _, err := h.engine.Redeem(v.ID, testOther); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	h.now += day
	redeemed, err := h.engine.Redeem(v.ID, testBuyer)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if redeemed.Status != StatusCommitted|StatusRedeemed || redeemed.ComplainPeriodStart != h.now {
		t.Fatalf("unexpected redeemed voucher %+v", redeemed)
	}
	if _, err := h.engine.Redeem(v.ID, testBuyer); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("expected already processed, got %v", err)
	}
	if _, err := h.engine.Refund(v.ID, testBuyer); !errors.Is(err, ErrInapplicableStatus) {
		t.Fatalf("expected inapplicable status, got %v", err)
	}
	if h.inventory.balances[holding{v.ID, testBuyer}] != 0 {
		t.Fatalf("expected voucher unit burned on redemption")
	}
	if _, err := h.engine.TriggerFinalize(v.ID); !errors.Is(err, ErrNotFinalizable) {
		t.Fatalf("expected not finalizable, got %v", err)
	}
	h.now += 7 * day
	final, err := h.engine.TriggerFinalize(v.ID)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if !final.Status.Has(StatusFinalized) || !final.PaymentReleased || !final.DepositsReleased {
		t.Fatalf("unexpected final voucher %+v", final)
	}
	again, err := h.engine.TriggerFinalize(v.ID)
	if err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if again.Status != final.Status {
		t.Fatalf("second finalize must not change status")
	}
	if h.distributor.released[v.ID] != 1 {
		t.Fatalf("expected a single release, got %d", h.distributor.released[v.ID])
	}
	if _, err := h.engine.Complain(v.ID, testBuyer); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("expected complain after finalize to fail, got %v", err)
	}
}

func TestRefundRequiresOpenWindow(t *testing.T) {
	h := newHarness(t)
	set := h.createSet(t, 2)
	v := h.commit(t, set, testBuyer)
	refunded, err := h.engine.Refund(v.ID, testBuyer)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refunded.Status.Outcome() != OutcomeReturned {
		t.Fatalf("unexpected outcome %s", refunded.Status.Outcome())
	}
	late := h.commit(t, set, testOther)
	h.now = set.Terms.ValidTo
	if _, err := h.engine.Refund(late.ID, testOther); !errors.Is(err, ErrOutsideValidity) {
		t.Fatalf("expected outside validity, got %v", err)
	}
}

func TestExpiration(t *testing.T) {
	h := newHarness(t)
	set := h.createSet(t, 1)
	v := h.commit(t, set, testBuyer)
	if _, err := h.engine.TriggerExpiration(v.ID); !errors.Is(err, ErrNotExpirable) {
		t.Fatalf("expected not expirable, got %v", err)
	}
	h.now = set.Terms.ValidTo
	expired, err := h.engine.TriggerExpiration(v.ID)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if !expired.Status.Has(StatusExpired) {
		t.Fatalf("expected expired status")
	}
	if _, err := h.engine.Redeem(v.ID, testBuyer); !errors.Is(err, ErrInapplicableStatus) {
		t.Fatalf("expected redeem after expiry to fail, got %v", err)
	}
}

func TestComplainWindow(t *testing.T) {
	h := newHarness(t)
	set := h.createSet(t, 2)
	v := h.commit(t, set, testBuyer)
	if _, err := h.engine.Complain(v.ID, testBuyer); !errors.Is(err, ErrInapplicableStatus) {
		t.Fatalf("expected complain on committed voucher to fail, got %v", err)
	}
	if _, err := h.engine.Redeem(v.ID, testBuyer); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	h.now += 7 * day
	if _, err := h.engine.Complain(v.ID, testBuyer); !errors.Is(err, ErrComplainPeriod) {
		t.Fatalf("expected complain period error, got %v", err)
	}
}

func TestFirstComplaintWins(t *testing.T) {
	h := newHarness(t)
	set := h.createSet(t, 1)
	v := h.commit(t, set, testBuyer)
	if _, err := h.engine.Redeem(v.ID, testBuyer); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	h.now += day
	faulted, err := h.engine.CancelOrFault(v.ID, testSeller)
	if err != nil {
		t.Fatalf("fault: %v", err)
	}
	started := faulted.CancelFaultPeriodStart
	if started != h.now {
		t.Fatalf("expected cancel-fault clock to start at fault")
	}
	h.now += day
	complained, err := h.engine.Complain(v.ID, testBuyer)
	if err != nil {
		t.Fatalf("complain: %v", err)
	}
	if complained.CancelFaultPeriodStart != started {
		t.Fatalf("complaint must not restart the cancel-fault clock")
	}
	if complained.Status.Outcome() != OutcomeRedeemedComplainedFaulted {
		t.Fatalf("unexpected outcome %s", complained.Status.Outcome())
	}
	if _, err := h.engine.Complain(v.ID, testBuyer); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("expected second complaint to fail, got %v", err)
	}
	if _, err := h.engine.TriggerFinalize(v.ID); err != nil {
		t.Fatalf("complained and faulted voucher must finalize immediately: %v", err)
	}
}

func TestComplainThenFaultWindow(t *testing.T) {
	h := newHarness(t)
	set := h.createSet(t, 1)
	v := h.commit(t, set, testBuyer)
	if _, err := h.engine.Redeem(v.ID, testBuyer); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if _, err := h.engine.Complain(v.ID, testBuyer); err != nil {
		t.Fatalf("complain: %v", err)
	}
	h.now += 7 * day
	if _, err := h.engine.CancelOrFault(v.ID, testSeller); !errors.Is(err, ErrCancelFaultPeriod) {
		t.Fatalf("expected cancel fault period error, got %v", err)
	}
	final, err := h.engine.TriggerFinalize(v.ID)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if final.Outcome() != OutcomeRedeemedComplained {
		t.Fatalf("unexpected outcome %s", final.Outcome())
	}
}

func TestCancelCommittedVoucher(t *testing.T) {
	h := newHarness(t)
	set := h.createSet(t, 1)
	v := h.commit(t, set, testBuyer)
	if _, err := h.engine.CancelOrFault(v.ID, testBuyer); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	cancelled, err := h.engine.CancelOrFault(v.ID, testSeller)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Outcome() != OutcomeCancelled || cancelled.ComplainPeriodStart != h.now {
		t.Fatalf("unexpected cancelled voucher %+v", cancelled)
	}
	if _, err := h.engine.CancelOrFault(v.ID, testSeller); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("expected already processed, got %v", err)
	}
	if _, err := h.engine.Redeem(v.ID, testBuyer); !errors.Is(err, ErrInapplicableStatus) {
		t.Fatalf("expected redeem after cancel to fail, got %v", err)
	}
	ready, err := h.engine.Finalizable(v.ID)
	if err != nil || ready {
		t.Fatalf("expected not yet finalizable, ready=%v err=%v", ready, err)
	}
	h.now += 7 * day
	if ready, _ := h.engine.Finalizable(v.ID); !ready {
		t.Fatalf("expected finalizable after complain period")
	}
}

func TestStatusOnlyGrows(t *testing.T) {
	h := newHarness(t)
	set := h.createSet(t, 1)
	v := h.commit(t, set, testBuyer)
	steps := []func() (*Voucher, error){
		func() (*Voucher, error) { return h.engine.Redeem(v.ID, testBuyer) },
		func() (*Voucher, error) { return h.engine.Complain(v.ID, testBuyer) },
		func() (*Voucher, error) { return h.engine.CancelOrFault(v.ID, testSeller) },
		func() (*Voucher, error) { return h.engine.TriggerFinalize(v.ID) },
	}
	prev := v.Status
	for i, step := range steps {
		next, err := step()
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if next.Status&prev != prev || next.Status == prev {
			t.Fatalf("step %d: status %s does not extend %s", i, next.Status, prev)
		}
		if !next.Status.Valid() {
			t.Fatalf("step %d: invalid status %s", i, next.Status)
		}
		prev = next.Status
	}
}

func TestTransferVoucher(t *testing.T) {
	h := newHarness(t)
	set := h.createSet(t, 1)
	v := h.commit(t, set, testBuyer)
	moved, err := h.engine.TransferVoucher(v.ID, testBuyer, testOther)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if moved.Holder != testOther {
		t.Fatalf("expected new holder")
	}
	if h.inventory.balances[holding{v.ID, testOther}] != 1 {
		t.Fatalf("expected voucher unit to follow the transfer")
	}
	if _, err := h.engine.Redeem(v.ID, testBuyer); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("previous holder must not redeem, got %v", err)
	}
	if _, err := h.engine.Redeem(v.ID, testOther); err != nil {
		t.Fatalf("redeem by new holder: %v", err)
	}
	if _, err := h.engine.TransferVoucher(v.ID, testOther, testBuyer); !errors.Is(err, ErrInapplicableStatus) {
		t.Fatalf("expected redeemed voucher to be non-transferable, got %v", err)
	}
}

func TestCancelVoucherSetReleasesUnsold(t *testing.T) {
	h := newHarness(t)
	set := h.createSet(t, 3)
	h.commit(t, set, testBuyer)
	if _, err := h.engine.CancelVoucherSet(set.ID, testBuyer); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	cancelled, err := h.engine.CancelVoucherSet(set.ID, testSeller)
	if err != nil {
		t.Fatalf("cancel set: %v", err)
	}
	if !cancelled.Cancelled || cancelled.Remaining != 0 {
		t.Fatalf("unexpected cancelled set %+v", cancelled)
	}
	if h.inventory.balances[holding{set.ID, testSeller}] != 0 {
		t.Fatalf("expected unsold supply burned")
	}
	if _, err := h.engine.Commit(set.ID, testOther, Payment{Price: big.NewInt(300), Deposit: big.NewInt(40)}); !errors.Is(err, ErrSetCancelled) {
		t.Fatalf("expected cancelled set, got %v", err)
	}
}

func TestPeriodSetters(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.SetComplainPeriod(60); !errors.Is(err, ErrPeriodTooShort) {
		t.Fatalf("expected period too short, got %v", err)
	}
	if err := h.engine.SetComplainPeriod(2 * day); err != nil {
		t.Fatalf("set complain period: %v", err)
	}
	if err := h.engine.SetCancelFaultPeriod(3 * day); err != nil {
		t.Fatalf("set cancel fault period: %v", err)
	}
	params, err := h.engine.Params()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if params.ComplainPeriod != 2*day || params.CancelFaultPeriod != 3*day {
		t.Fatalf("unexpected params %+v", params)
	}
}

func TestPeriodSettersRejectHugeValues(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.SetComplainPeriod(math.MaxInt64); !errors.Is(err, ErrPeriodTooLong) {
		t.Fatalf("expected period too long, got %v", err)
	}
	if err := h.engine.SetCancelFaultPeriod(MaxPeriod + 1); !errors.Is(err, ErrPeriodTooLong) {
		t.Fatalf("expected period too long, got %v", err)
	}
	if err := h.engine.SetComplainPeriod(MaxPeriod); err != nil {
		t.Fatalf("set maximum period: %v", err)
	}
	if err := (Params{ComplainPeriod: day, CancelFaultPeriod: math.MaxInt64}).Validate(3600); !errors.Is(err, ErrPeriodTooLong) {
		t.Fatalf("expected params validation to fail, got %v", err)
	}
}

func TestHugeStoredPeriodKeepsWindowsOpen(t *testing.T) {
	h := newHarness(t)
	h.state.params = &Params{ComplainPeriod: math.MaxInt64, CancelFaultPeriod: math.MaxInt64}
	set := h.createSet(t, 1)
	v := h.commit(t, set, testBuyer)
	if _, err := h.engine.Redeem(v.ID, testBuyer); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if _, err := h.engine.TriggerFinalize(v.ID); !errors.Is(err, ErrNotFinalizable) {
		t.Fatalf("expected not finalizable, got %v", err)
	}
	h.now += 365 * day
	complained, err := h.engine.Complain(v.ID, testBuyer)
	if err != nil {
		t.Fatalf("complain: %v", err)
	}
	if complained.Status.Has(StatusFinalized) {
		t.Fatalf("voucher finalized early: %+v", complained)
	}
	if _, err := h.engine.TriggerFinalize(v.ID); !errors.Is(err, ErrNotFinalizable) {
		t.Fatalf("expected not finalizable after complaint, got %v", err)
	}
}

func TestFinalizableReportsStateErrors(t *testing.T) {
	h := newHarness(t)
	set := h.createSet(t, 2)
	committed := h.commit(t, set, testBuyer)
	redeemed := h.commit(t, set, testOther)
	if _, err := h.engine.Redeem(redeemed.ID, testOther); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	ready, err := h.engine.Finalizable(committed.ID)
	if err != nil || ready {
		t.Fatalf("committed voucher: expected false without error, got %v %v", ready, err)
	}
	boom := errors.New("params unavailable")
	h.state.paramsErr = boom
	if _, err := h.engine.Finalizable(redeemed.ID); !errors.Is(err, boom) {
		t.Fatalf("expected state error, got %v", err)
	}
}

func TestTransitionsEmitEvents(t *testing.T) {
	h := newHarness(t)
	set := h.createSet(t, 1)
	v := h.commit(t, set, testBuyer)
	if _, err := h.engine.Redeem(v.ID, testBuyer); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	want := []string{EventTypeSetCreated, EventTypeCommitted, EventTypeRedeemed}
	if len(h.emitter.types) != len(want) {
		t.Fatalf("expected %v, got %v", want, h.emitter.types)
	}
	for i := range want {
		if h.emitter.types[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, h.emitter.types)
		}
	}
}
