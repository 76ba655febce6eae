package voucher

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"voucherchain/core/events"
	"voucherchain/core/types"
)

type engineState interface {
	VoucherSetPut(*VoucherSet) error
	VoucherSetGet(id [32]byte) (*VoucherSet, bool, error)
	VoucherPut(*Voucher) error
	VoucherGet(id [32]byte) (*Voucher, bool, error)
	VoucherSetNextNonce(seller [20]byte) (uint64, error)
	VoucherParamsGet() (Params, bool, error)
	VoucherParamsPut(Params) error
}

// Distributor is the escrow side of the lifecycle. The engine tells it when
// funds enter escrow, asks it to recompute the tentative entitlement after
// every transition and hands it the voucher once it is final.
type Distributor interface {
	LockSupply(set *VoucherSet, payment Payment) error
	Lock(set *VoucherSet, v *Voucher, payment Payment) error
	TransferHolding(set *VoucherSet, v *Voucher, from, to [20]byte) error
	ReleaseSupply(set *VoucherSet, units uint64) error
	Recompute(set *VoucherSet, v *Voucher) error
	// Release credits the final split and marks the voucher's release flags.
	Release(set *VoucherSet, v *Voucher) error
}

// Inventory tracks the tradable supply and voucher units.
type Inventory interface {
	Mint(id [32]byte, holder [20]byte, amount uint64) error
	Burn(id [32]byte, holder [20]byte, amount uint64) error
	Transfer(id [32]byte, from, to [20]byte, amount uint64) error
}

// Gate answers whether a buyer may commit to a set. Sets without a binding are
// open to everyone; Revoke is a no-op for them.
type Gate interface {
	CheckEligible(buyer [20]byte, setID [32]byte) (bool, error)
	Revoke(buyer [20]byte, setID [32]byte) error
}

// PauseGuard rejects operations while the system is paused or in disaster
// mode.
type PauseGuard interface {
	Guard() error
}

// Deps are the collaborators wired into the engine at construction.
type Deps struct {
	State       engineState
	Distributor Distributor
	Inventory   Inventory
	Gate        Gate
	Pause       PauseGuard
	Emitter     events.Emitter
	// MinPeriod is the smallest complain or cancel-or-fault period accepted by
	// the period setters, in seconds.
	MinPeriod int64
}

// Engine is the voucher lifecycle state machine. Every exported operation
// either applies all of its effects or returns an error; callers are expected
// to run each call inside a state transaction they discard on error.
type Engine struct {
	state       engineState
	distributor Distributor
	inventory   Inventory
	gate        Gate
	pause       PauseGuard
	emitter     events.Emitter
	minPeriod   int64
	nowFn       func() int64
}

// NewEngine wires the lifecycle engine with its collaborators.
func NewEngine(deps Deps) *Engine {
	e := &Engine{
		state:       deps.State,
		distributor: deps.Distributor,
		inventory:   deps.Inventory,
		gate:        deps.Gate,
		pause:       deps.Pause,
		minPeriod:   deps.MinPeriod,
		nowFn:       func() int64 { return time.Now().Unix() },
	}
	if e.minPeriod <= 0 {
		e.minPeriod = 1
	}
	e.SetEmitter(deps.Emitter)
	return e
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(voucherEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) guard() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.pause == nil {
		return nil
	}
	return e.pause.Guard()
}

// Params returns the lifecycle windows currently in force.
func (e *Engine) Params() (Params, error) {
	if e == nil || e.state == nil {
		return Params{}, errNilState
	}
	params, ok, err := e.state.VoucherParamsGet()
	if err != nil {
		return Params{}, err
	}
	if !ok {
		return DefaultParams(), nil
	}
	return params, nil
}

// SetComplainPeriod updates the complain window. Authorisation is the
// caller's concern; the engine only enforces the bounds.
func (e *Engine) SetComplainPeriod(seconds int64) error {
	return e.updateParams(func(p *Params) error {
		if err := checkPeriod("complain", seconds, e.minPeriod); err != nil {
			return err
		}
		p.ComplainPeriod = seconds
		return nil
	})
}

// SetCancelFaultPeriod updates the cancel-or-fault window.
func (e *Engine) SetCancelFaultPeriod(seconds int64) error {
	return e.updateParams(func(p *Params) error {
		if err := checkPeriod("cancel or fault", seconds, e.minPeriod); err != nil {
			return err
		}
		p.CancelFaultPeriod = seconds
		return nil
	})
}

func (e *Engine) updateParams(apply func(*Params) error) error {
	params, err := e.Params()
	if err != nil {
		return err
	}
	if err := apply(&params); err != nil {
		return err
	}
	return e.state.VoucherParamsPut(params)
}

// VoucherSet returns a copy of the stored set.
func (e *Engine) VoucherSet(id [32]byte) (*VoucherSet, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadSet(id)
}

// Voucher returns a copy of the stored voucher.
func (e *Engine) Voucher(id [32]byte) (*Voucher, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadVoucher(id)
}

func (e *Engine) loadSet(id [32]byte) (*VoucherSet, error) {
	set, ok, err := e.state.VoucherSetGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSetNotFound
	}
	return set, nil
}

func (e *Engine) loadVoucher(id [32]byte) (*Voucher, error) {
	v, ok, err := e.state.VoucherGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrVoucherNotFound
	}
	return v, nil
}

// loadPair returns the voucher together with its set.
func (e *Engine) loadPair(id [32]byte) (*Voucher, *VoucherSet, error) {
	v, err := e.loadVoucher(id)
	if err != nil {
		return nil, nil, err
	}
	set, err := e.loadSet(v.SetID)
	if err != nil {
		return nil, nil, err
	}
	return v, set, nil
}

// store persists the voucher, asks the distributor to refresh the tentative
// entitlement and emits the transition event.
func (e *Engine) store(set *VoucherSet, v *Voucher, eventType string) error {
	if err := e.state.VoucherPut(v); err != nil {
		return err
	}
	if e.distributor != nil {
		if err := e.distributor.Recompute(set, v); err != nil {
			return err
		}
	}
	e.emit(NewTransitionEvent(eventType, v))
	return nil
}

// CreateVoucherSet registers a new batch offer. The seller must fund the full
// seller deposit for every unit up front.
func (e *Engine) CreateVoucherSet(seller [20]byte, terms Terms, payment Payment) (*VoucherSet, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if seller == ([20]byte{}) {
		return nil, fmt.Errorf("voucher: seller required")
	}
	if err := terms.Validate(); err != nil {
		return nil, err
	}
	now := e.now()
	if terms.ValidTo <= now {
		return nil, fmt.Errorf("%w: validity window already closed", ErrOutsideValidity)
	}
	required := new(big.Int).Mul(terms.SellerDeposit, new(big.Int).SetUint64(terms.Quantity))
	if amountOrZero(payment.Price).Sign() != 0 || amountOrZero(payment.Deposit).Cmp(required) != 0 {
		return nil, fmt.Errorf("%w: seller deposit %s required", ErrPaymentMismatch, required)
	}
	nonce, err := e.state.VoucherSetNextNonce(seller)
	if err != nil {
		return nil, err
	}
	set := &VoucherSet{
		ID:        SetID(seller, nonce),
		Seller:    seller,
		Nonce:     nonce,
		Terms:     terms.Clone(),
		Remaining: terms.Quantity,
		CreatedAt: now,
	}
	if _, exists, err := e.state.VoucherSetGet(set.ID); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("%w: voucher set %x exists", ErrAlreadyProcessed, set.ID)
	}
	if e.inventory != nil {
		if err := e.inventory.Mint(set.ID, seller, terms.Quantity); err != nil {
			return nil, err
		}
	}
	if e.distributor != nil {
		if err := e.distributor.LockSupply(set, payment); err != nil {
			return nil, err
		}
	}
	if err := e.state.VoucherSetPut(set); err != nil {
		return nil, err
	}
	e.emit(NewSetCreatedEvent(set))
	return set.Clone(), nil
}

// CancelVoucherSet stops further commits and hands the seller back the
// deposits of every unsold unit. Vouchers already committed are unaffected.
func (e *Engine) CancelVoucherSet(setID [32]byte, caller [20]byte) (*VoucherSet, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	set, err := e.loadSet(setID)
	if err != nil {
		return nil, err
	}
	if caller != set.Seller {
		return nil, ErrUnauthorized
	}
	if set.Cancelled {
		return nil, fmt.Errorf("%w: voucher set cancelled", ErrAlreadyProcessed)
	}
	unsold := set.Remaining
	set.Remaining = 0
	set.Cancelled = true
	if unsold > 0 {
		if e.inventory != nil {
			if err := e.inventory.Burn(set.ID, set.Seller, unsold); err != nil {
				return nil, err
			}
		}
		if e.distributor != nil {
			if err := e.distributor.ReleaseSupply(set, unsold); err != nil {
				return nil, err
			}
		}
	}
	if err := e.state.VoucherSetPut(set); err != nil {
		return nil, err
	}
	e.emit(NewSetCancelledEvent(set, unsold))
	return set.Clone(), nil
}

// Commit draws one voucher from the set for buyer. The payment must match the
// set's price and buyer deposit exactly.
func (e *Engine) Commit(setID [32]byte, buyer [20]byte, payment Payment) (*Voucher, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if buyer == ([20]byte{}) {
		return nil, fmt.Errorf("voucher: buyer required")
	}
	set, err := e.loadSet(setID)
	if err != nil {
		return nil, err
	}
	if set.Cancelled {
		return nil, ErrSetCancelled
	}
	if set.Remaining == 0 {
		return nil, ErrSoldOut
	}
	now := e.now()
	if !set.Open(now) {
		return nil, ErrOutsideValidity
	}
	if e.gate != nil {
		eligible, err := e.gate.CheckEligible(buyer, setID)
		if err != nil {
			return nil, err
		}
		if !eligible {
			return nil, ErrGateDenied
		}
	}
	if amountOrZero(payment.Price).Cmp(set.Terms.Price) != 0 || amountOrZero(payment.Deposit).Cmp(set.Terms.BuyerDeposit) != 0 {
		return nil, fmt.Errorf("%w: expected price %s and deposit %s", ErrPaymentMismatch, set.Terms.Price, set.Terms.BuyerDeposit)
	}
	serial := set.Terms.Quantity - set.Remaining
	v := &Voucher{
		ID:          VoucherID(set.ID, serial),
		SetID:       set.ID,
		Serial:      serial,
		Holder:      buyer,
		Issuer:      set.Seller,
		Status:      Status(0).with(StatusCommitted),
		CommittedAt: now,
	}
	if _, exists, err := e.state.VoucherGet(v.ID); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("%w: voucher %x exists", ErrAlreadyProcessed, v.ID)
	}
	set.Remaining--
	if e.inventory != nil {
		if err := e.inventory.Burn(set.ID, set.Seller, 1); err != nil {
			return nil, err
		}
		if err := e.inventory.Mint(v.ID, buyer, 1); err != nil {
			return nil, err
		}
	}
	if e.distributor != nil {
		if err := e.distributor.Lock(set, v, payment); err != nil {
			return nil, err
		}
	}
	if e.gate != nil {
		if err := e.gate.Revoke(buyer, setID); err != nil {
			return nil, err
		}
	}
	if err := e.state.VoucherSetPut(set); err != nil {
		return nil, err
	}
	if err := e.store(set, v, EventTypeCommitted); err != nil {
		return nil, err
	}
	return v.Clone(), nil
}

// Redeem records that the holder used the voucher inside its validity window.
func (e *Engine) Redeem(id [32]byte, caller [20]byte) (*Voucher, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	v, set, err := e.loadPair(id)
	if err != nil {
		return nil, err
	}
	if caller != v.Holder {
		return nil, ErrUnauthorized
	}
	if err := requireCommittedOnly(v.Status, StatusRedeemed); err != nil {
		return nil, err
	}
	now := e.now()
	if !set.Open(now) {
		return nil, ErrOutsideValidity
	}
	return e.leaveCommitted(set, v, StatusRedeemed, now, EventTypeRedeemed)
}

// Refund hands an unredeemed voucher back before it lapses.
func (e *Engine) Refund(id [32]byte, caller [20]byte) (*Voucher, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	v, set, err := e.loadPair(id)
	if err != nil {
		return nil, err
	}
	if caller != v.Holder {
		return nil, ErrUnauthorized
	}
	if err := requireCommittedOnly(v.Status, StatusRefunded); err != nil {
		return nil, err
	}
	now := e.now()
	if now >= set.Terms.ValidTo {
		return nil, ErrOutsideValidity
	}
	return e.leaveCommitted(set, v, StatusRefunded, now, EventTypeRefunded)
}

// TriggerExpiration marks a voucher whose validity window passed without
// redemption. Anyone may call it.
func (e *Engine) TriggerExpiration(id [32]byte) (*Voucher, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	v, set, err := e.loadPair(id)
	if err != nil {
		return nil, err
	}
	if err := requireCommittedOnly(v.Status, StatusExpired); err != nil {
		return nil, err
	}
	now := e.now()
	if now < set.Terms.ValidTo {
		return nil, ErrNotExpirable
	}
	return e.leaveCommitted(set, v, StatusExpired, now, EventTypeExpired)
}

// leaveCommitted applies one of the three exits from COMMITTED: the voucher
// unit is consumed and the complain window starts.
func (e *Engine) leaveCommitted(set *VoucherSet, v *Voucher, flag Status, now int64, eventType string) (*Voucher, error) {
	if e.inventory != nil {
		if err := e.inventory.Burn(v.ID, v.Holder, 1); err != nil {
			return nil, err
		}
	}
	v.Status = v.Status.with(flag)
	v.ComplainPeriodStart = now
	if err := e.store(set, v, eventType); err != nil {
		return nil, err
	}
	return v.Clone(), nil
}

// Complain flags a problem inside the complain window. The cancel-or-fault
// clock is started by the first of complaint or post-redemption fault and is
// never restarted.
func (e *Engine) Complain(id [32]byte, caller [20]byte) (*Voucher, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	v, set, err := e.loadPair(id)
	if err != nil {
		return nil, err
	}
	if caller != v.Holder {
		return nil, ErrUnauthorized
	}
	if v.Status.Any(StatusComplained | StatusFinalized) {
		return nil, ErrAlreadyProcessed
	}
	if v.ComplainPeriodStart == 0 {
		return nil, ErrInapplicableStatus
	}
	params, err := e.Params()
	if err != nil {
		return nil, err
	}
	now := e.now()
	if elapsed(v.ComplainPeriodStart, params.ComplainPeriod, now) {
		return nil, ErrComplainPeriod
	}
	v.Status = v.Status.with(StatusComplained)
	if v.CancelFaultPeriodStart == 0 {
		v.CancelFaultPeriodStart = now
	}
	if err := e.store(set, v, EventTypeComplained); err != nil {
		return nil, err
	}
	return v.Clone(), nil
}

// CancelOrFault lets the issuer cancel a committed voucher or accept fault
// after redemption, refund, expiry or a complaint.
func (e *Engine) CancelOrFault(id [32]byte, caller [20]byte) (*Voucher, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	v, set, err := e.loadPair(id)
	if err != nil {
		return nil, err
	}
	if caller != v.Issuer {
		return nil, ErrUnauthorized
	}
	if v.Status.Any(StatusCancelledOrFaulted | StatusFinalized) {
		return nil, ErrAlreadyProcessed
	}
	params, err := e.Params()
	if err != nil {
		return nil, err
	}
	now := e.now()
	switch {
	case v.Status.CommittedOnly():
		if e.inventory != nil {
			if err := e.inventory.Burn(v.ID, v.Holder, 1); err != nil {
				return nil, err
			}
		}
		// The buyer may still complain about a cancellation.
		v.ComplainPeriodStart = now
	case v.Status.Has(StatusComplained):
		if elapsed(v.CancelFaultPeriodStart, params.CancelFaultPeriod, now) {
			return nil, ErrCancelFaultPeriod
		}
	case v.Status.Any(StatusRedeemed | StatusRefunded | StatusExpired):
		if elapsed(v.ComplainPeriodStart, params.ComplainPeriod, now) {
			return nil, ErrComplainPeriod
		}
		v.CancelFaultPeriodStart = now
	default:
		return nil, ErrInapplicableStatus
	}
	v.Status = v.Status.with(StatusCancelledOrFaulted)
	if err := e.store(set, v, EventTypeCancelledOrFaulted); err != nil {
		return nil, err
	}
	return v.Clone(), nil
}

// TriggerFinalize fixes the payout of a settled voucher once its windows have
// run out. Anyone may call it; finalizing a finalized voucher is a no-op.
func (e *Engine) TriggerFinalize(id [32]byte) (*Voucher, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	v, set, err := e.loadPair(id)
	if err != nil {
		return nil, err
	}
	if v.Status.Has(StatusFinalized) {
		return v.Clone(), nil
	}
	ready, err := e.finalizable(v)
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, ErrNotFinalizable
	}
	v.Status = v.Status.with(StatusFinalized)
	if e.distributor != nil {
		if err := e.distributor.Release(set, v); err != nil {
			return nil, err
		}
	}
	if err := e.state.VoucherPut(v); err != nil {
		return nil, err
	}
	e.emit(NewTransitionEvent(EventTypeFinalized, v))
	return v.Clone(), nil
}

// Finalizable reports whether TriggerFinalize would succeed now.
func (e *Engine) Finalizable(id [32]byte) (bool, error) {
	v, err := e.Voucher(id)
	if err != nil {
		return false, err
	}
	if v.Status.Has(StatusFinalized) {
		return false, nil
	}
	ready, err := e.finalizable(v)
	if errors.Is(err, ErrInapplicableStatus) {
		return false, nil
	}
	return ready, err
}

func (e *Engine) finalizable(v *Voucher) (bool, error) {
	params, err := e.Params()
	if err != nil {
		return false, err
	}
	now := e.now()
	complained := v.Status.Has(StatusComplained)
	faulted := v.Status.Has(StatusCancelledOrFaulted)
	switch {
	case complained && faulted:
		return true, nil
	case complained:
		return elapsed(v.CancelFaultPeriodStart, params.CancelFaultPeriod, now), nil
	case v.Status.Any(StatusRedeemed | StatusRefunded | StatusExpired | StatusCancelledOrFaulted):
		return v.ComplainPeriodStart != 0 && elapsed(v.ComplainPeriodStart, params.ComplainPeriod, now), nil
	default:
		return false, ErrInapplicableStatus
	}
}

// TransferVoucher moves a committed, unused voucher to a new holder. The
// buyer's escrowed funds follow the voucher.
func (e *Engine) TransferVoucher(id [32]byte, from, to [20]byte) (*Voucher, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if to == ([20]byte{}) || to == from {
		return nil, fmt.Errorf("voucher: invalid recipient")
	}
	v, set, err := e.loadPair(id)
	if err != nil {
		return nil, err
	}
	if from != v.Holder {
		return nil, ErrUnauthorized
	}
	if !v.Status.CommittedOnly() {
		return nil, ErrInapplicableStatus
	}
	if e.inventory != nil {
		if err := e.inventory.Transfer(v.ID, from, to, 1); err != nil {
			return nil, err
		}
	}
	if e.distributor != nil {
		if err := e.distributor.TransferHolding(set, v, from, to); err != nil {
			return nil, err
		}
	}
	v.Holder = to
	if err := e.state.VoucherPut(v); err != nil {
		return nil, err
	}
	e.emit(NewTransferredEvent(v, from))
	return v.Clone(), nil
}

// requireCommittedOnly rejects a COMMITTED-exit transition. It reports
// ErrAlreadyProcessed when the target bit is set already and
// ErrInapplicableStatus for every other non-committed status.
func requireCommittedOnly(status Status, target Status) error {
	if status.CommittedOnly() {
		return nil
	}
	if status.Has(target) {
		return ErrAlreadyProcessed
	}
	return ErrInapplicableStatus
}
