package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	coreerrors "voucherchain/core/errors"
	"voucherchain/core/events"
	"voucherchain/core/types"
	"voucherchain/native/voucher"
)

var (
	errNilState = errors.New("escrow engine: state not configured")
	errNilPool  = errors.New("escrow engine: escrow pool not configured")
	errNilVault = errors.New("escrow engine: vault not configured")

	// ErrNotSettled is returned when a voucher's status carries no payout rule.
	ErrNotSettled = fmt.Errorf("%w: voucher not settled", coreerrors.ErrGuardViolation)
	// ErrHoldingsUnderflow signals that escrow accounting is inconsistent.
	ErrHoldingsUnderflow = errors.New("escrow: holdings underflow")
)

type engineState interface {
	EscrowHeld(party [20]byte, asset types.Asset) (*big.Int, error)
	EscrowSetHeld(party [20]byte, asset types.Asset, amount *big.Int) error
	EscrowLedgerBalance(party [20]byte, asset types.Asset) (*big.Int, error)
	EscrowSetLedgerBalance(party [20]byte, asset types.Asset, amount *big.Int) error
	EscrowSettlementPut(*Settlement) error
	EscrowSettlementGet(id [32]byte) (*Settlement, bool, error)
	Transfer(from, to [20]byte, asset types.Asset, amount *big.Int) error
}

// ModeGuard exposes the pause coordinator's checks.
type ModeGuard interface {
	// Guard fails unless the system is active.
	Guard() error
	// GuardDisaster fails unless the system is in disaster mode.
	GuardDisaster() error
}

// PoolResolver returns the current escrow pool address.
type PoolResolver interface {
	EscrowPool() ([20]byte, error)
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine holds buyer and seller funds while vouchers are live and divides them
// once a voucher is final. Funds sit in two books per (party, asset):
// holdings, which are still locked against live vouchers, and the ledger,
// which is owed and withdrawable.
type Engine struct {
	state   engineState
	vault   [20]byte
	pool    PoolResolver
	mode    ModeGuard
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates a distribution engine holding funds in vault.
func NewEngine(state engineState, vault [20]byte, pool PoolResolver, mode ModeGuard) *Engine {
	return &Engine{
		state:   state,
		vault:   vault,
		pool:    pool,
		mode:    mode,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the time source used for settlement timestamps.
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

// Vault returns the account that custodies escrowed funds.
func (e *Engine) Vault() [20]byte { return e.vault }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.vault == ([20]byte{}) {
		return errNilVault
	}
	return nil
}

func (e *Engine) poolAddress() ([20]byte, error) {
	if e.pool == nil {
		return [20]byte{}, errNilPool
	}
	addr, err := e.pool.EscrowPool()
	if err != nil {
		return [20]byte{}, err
	}
	if addr == ([20]byte{}) {
		return [20]byte{}, errNilPool
	}
	return addr, nil
}

func (e *Engine) addHeld(party [20]byte, asset types.Asset, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	current, err := e.state.EscrowHeld(party, asset)
	if err != nil {
		return err
	}
	return e.state.EscrowSetHeld(party, asset, new(big.Int).Add(current, amount))
}

func (e *Engine) subHeld(party [20]byte, asset types.Asset, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	current, err := e.state.EscrowHeld(party, asset)
	if err != nil {
		return err
	}
	if current.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %x holds %s %s, need %s", ErrHoldingsUnderflow, party, current, asset, amount)
	}
	return e.state.EscrowSetHeld(party, asset, new(big.Int).Sub(current, amount))
}

func (e *Engine) credit(party [20]byte, asset types.Asset, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	current, err := e.state.EscrowLedgerBalance(party, asset)
	if err != nil {
		return err
	}
	return e.state.EscrowSetLedgerBalance(party, asset, new(big.Int).Add(current, amount))
}

// LockSupply moves a seller's up-front deposits for a new set into escrow.
func (e *Engine) LockSupply(set *voucher.VoucherSet, payment voucher.Payment) error {
	if err := e.ready(); err != nil {
		return err
	}
	if set == nil {
		return fmt.Errorf("escrow: nil voucher set")
	}
	amount := cloneBigInt(payment.Deposit)
	if amount.Sign() < 0 {
		return fmt.Errorf("escrow: negative deposit")
	}
	if err := e.state.Transfer(set.Seller, e.vault, set.Terms.DepositAsset, amount); err != nil {
		return err
	}
	if err := e.addHeld(set.Seller, set.Terms.DepositAsset, amount); err != nil {
		return err
	}
	e.emit(NewLockedEvent(set.ID, set.Seller, ClassDeposit, set.Terms.DepositAsset, amount))
	return nil
}

// Lock moves a buyer's price and deposit into escrow on commit.
func (e *Engine) Lock(set *voucher.VoucherSet, v *voucher.Voucher, payment voucher.Payment) error {
	if err := e.ready(); err != nil {
		return err
	}
	if set == nil || v == nil {
		return fmt.Errorf("escrow: voucher and set required")
	}
	price := cloneBigInt(payment.Price)
	deposit := cloneBigInt(payment.Deposit)
	if price.Sign() < 0 || deposit.Sign() < 0 {
		return fmt.Errorf("escrow: negative payment")
	}
	if err := e.state.Transfer(v.Holder, e.vault, set.Terms.PriceAsset, price); err != nil {
		return err
	}
	if err := e.state.Transfer(v.Holder, e.vault, set.Terms.DepositAsset, deposit); err != nil {
		return err
	}
	if err := e.addHeld(v.Holder, set.Terms.PriceAsset, price); err != nil {
		return err
	}
	if err := e.addHeld(v.Holder, set.Terms.DepositAsset, deposit); err != nil {
		return err
	}
	e.emit(NewLockedEvent(v.ID, v.Holder, ClassPayment, set.Terms.PriceAsset, price))
	e.emit(NewLockedEvent(v.ID, v.Holder, ClassDeposit, set.Terms.DepositAsset, deposit))
	return nil
}

// TransferHolding reassigns a committed voucher's escrowed buyer funds.
func (e *Engine) TransferHolding(set *voucher.VoucherSet, v *voucher.Voucher, from, to [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if set == nil || v == nil {
		return fmt.Errorf("escrow: voucher and set required")
	}
	if err := e.subHeld(from, set.Terms.PriceAsset, set.Terms.Price); err != nil {
		return err
	}
	if err := e.subHeld(from, set.Terms.DepositAsset, set.Terms.BuyerDeposit); err != nil {
		return err
	}
	if err := e.addHeld(to, set.Terms.PriceAsset, set.Terms.Price); err != nil {
		return err
	}
	return e.addHeld(to, set.Terms.DepositAsset, set.Terms.BuyerDeposit)
}

// ReleaseSupply returns the seller deposits of units that will never be sold.
func (e *Engine) ReleaseSupply(set *voucher.VoucherSet, units uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if set == nil {
		return fmt.Errorf("escrow: nil voucher set")
	}
	amount := new(big.Int).Mul(amountOrZero(set.Terms.SellerDeposit), new(big.Int).SetUint64(units))
	if err := e.subHeld(set.Seller, set.Terms.DepositAsset, amount); err != nil {
		return err
	}
	if err := e.credit(set.Seller, set.Terms.DepositAsset, amount); err != nil {
		return err
	}
	e.emit(NewSupplyReleasedEvent(set.ID, set.Seller, set.Terms.DepositAsset, amount, units))
	return nil
}

// Preview computes the split a voucher would receive if it were final now.
// Unsettled vouchers yield an all-zero settlement.
func (e *Engine) Preview(set *voucher.VoucherSet, v *voucher.Voucher) (*Settlement, error) {
	if set == nil || v == nil {
		return nil, fmt.Errorf("escrow: voucher and set required")
	}
	settlement := &Settlement{
		VoucherID: v.ID,
		Outcome:   v.Outcome(),
		Buyer:     v.Holder,
		Seller:    v.Issuer,
		Payment:   zeroSplit(set.Terms.PriceAsset),
		Deposits:  zeroSplit(set.Terms.DepositAsset),
	}
	if settlement.Outcome == voucher.OutcomeUnsettled {
		return settlement, nil
	}
	payment, deposits, err := Compute(settlement.Outcome, set.Terms)
	if err != nil {
		return nil, err
	}
	settlement.Payment = payment
	settlement.Deposits = deposits
	if err := settlement.Validate(set.Terms); err != nil {
		return nil, err
	}
	return settlement, nil
}

// Recompute refreshes the tentative entitlement after a lifecycle transition
// and publishes it. Nothing is credited.
func (e *Engine) Recompute(set *voucher.VoucherSet, v *voucher.Voucher) error {
	settlement, err := e.Preview(set, v)
	if err != nil {
		return err
	}
	e.emit(NewEntitlementEvent(settlement))
	return nil
}

// Release credits a finalized voucher's split to the ledger. The payment and
// deposit halves are each released at most once, tracked by the voucher's
// release flags which the caller persists.
func (e *Engine) Release(set *voucher.VoucherSet, v *voucher.Voucher) error {
	if err := e.ready(); err != nil {
		return err
	}
	if set == nil || v == nil {
		return fmt.Errorf("escrow: voucher and set required")
	}
	if !v.Status.Has(voucher.StatusFinalized) {
		return fmt.Errorf("%w: voucher %x not finalized", ErrNotSettled, v.ID)
	}
	if v.PaymentReleased && v.DepositsReleased {
		return nil
	}
	settlement, err := e.Preview(set, v)
	if err != nil {
		return err
	}
	if settlement.Outcome == voucher.OutcomeUnsettled {
		return ErrNotSettled
	}
	pool, err := e.poolAddress()
	if err != nil {
		return err
	}
	if !v.PaymentReleased {
		if err := e.subHeld(v.Holder, set.Terms.PriceAsset, set.Terms.Price); err != nil {
			return err
		}
		if err := e.creditSplit(settlement.Payment, v.Holder, v.Issuer, pool); err != nil {
			return err
		}
		v.PaymentReleased = true
	}
	if !v.DepositsReleased {
		if err := e.subHeld(v.Holder, set.Terms.DepositAsset, set.Terms.BuyerDeposit); err != nil {
			return err
		}
		if err := e.subHeld(v.Issuer, set.Terms.DepositAsset, set.Terms.SellerDeposit); err != nil {
			return err
		}
		if err := e.creditSplit(settlement.Deposits, v.Holder, v.Issuer, pool); err != nil {
			return err
		}
		v.DepositsReleased = true
	}
	settlement.Final = true
	settlement.SettledAt = e.now()
	if err := e.state.EscrowSettlementPut(settlement); err != nil {
		return err
	}
	e.emit(NewDistributedEvent(settlement, ClassPayment, settlement.Payment, pool))
	e.emit(NewDistributedEvent(settlement, ClassDeposit, settlement.Deposits, pool))
	return nil
}

func (e *Engine) creditSplit(split Split, buyer, seller, pool [20]byte) error {
	if err := e.credit(buyer, split.Asset, split.Buyer); err != nil {
		return err
	}
	if err := e.credit(seller, split.Asset, split.Seller); err != nil {
		return err
	}
	return e.credit(pool, split.Asset, split.Pool)
}

// Withdraw pays out the party's full ledger balance in asset. The entry is
// zeroed before the transfer; a second call returns zero.
func (e *Engine) Withdraw(party [20]byte, asset types.Asset) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.mode != nil {
		if err := e.mode.Guard(); err != nil {
			return nil, err
		}
	}
	amount, err := e.state.EscrowLedgerBalance(party, asset)
	if err != nil {
		return nil, err
	}
	if amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if err := e.state.EscrowSetLedgerBalance(party, asset, big.NewInt(0)); err != nil {
		return nil, err
	}
	if err := e.state.Transfer(e.vault, party, asset, amount); err != nil {
		return nil, err
	}
	e.emit(NewWithdrawnEvent(EventTypeWithdrawn, party, asset, amount))
	return cloneBigInt(amount), nil
}

// WithdrawOnDisaster pays a party everything the vault holds on its behalf,
// locked or owed, without consulting the lifecycle. Only available once the
// system has entered disaster mode.
func (e *Engine) WithdrawOnDisaster(party [20]byte, asset types.Asset) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.mode == nil {
		return nil, fmt.Errorf("escrow: disaster withdrawal requires a mode guard")
	}
	if err := e.mode.GuardDisaster(); err != nil {
		return nil, err
	}
	held, err := e.state.EscrowHeld(party, asset)
	if err != nil {
		return nil, err
	}
	owed, err := e.state.EscrowLedgerBalance(party, asset)
	if err != nil {
		return nil, err
	}
	amount := new(big.Int).Add(held, owed)
	if amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if err := e.state.EscrowSetHeld(party, asset, big.NewInt(0)); err != nil {
		return nil, err
	}
	if err := e.state.EscrowSetLedgerBalance(party, asset, big.NewInt(0)); err != nil {
		return nil, err
	}
	if err := e.state.Transfer(e.vault, party, asset, amount); err != nil {
		return nil, err
	}
	e.emit(NewWithdrawnEvent(EventTypeDisasterWithdrawn, party, asset, amount))
	return amount, nil
}

// Balance returns the withdrawable ledger balance.
func (e *Engine) Balance(party [20]byte, asset types.Asset) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.EscrowLedgerBalance(party, asset)
}

// Held returns the amount still locked against live vouchers or unsold supply.
func (e *Engine) Held(party [20]byte, asset types.Asset) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.EscrowHeld(party, asset)
}

// Settlement returns the final split recorded for a voucher.
func (e *Engine) Settlement(id [32]byte) (*Settlement, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	return e.state.EscrowSettlementGet(id)
}
