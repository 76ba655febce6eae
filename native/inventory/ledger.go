package inventory

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	coreerrors "voucherchain/core/errors"
	"voucherchain/core/events"
	"voucherchain/core/types"
	"voucherchain/crypto"
)

const (
	EventTypeMinted      = "inventory.minted"
	EventTypeBurned      = "inventory.burned"
	EventTypeTransferred = "inventory.transferred"
)

var (
	errNilState = errors.New("inventory: state not configured")

	// ErrInsufficientBalance is returned when a holder does not own enough
	// units of a token.
	ErrInsufficientBalance = fmt.Errorf("%w: insufficient token balance", coreerrors.ErrCapacityViolation)
	// ErrSupplyOverflow guards the uint64 counters.
	ErrSupplyOverflow = fmt.Errorf("%w: token supply overflow", coreerrors.ErrCapacityViolation)
)

type ledgerState interface {
	InventoryBalance(id [32]byte, holder [20]byte) (uint64, error)
	InventorySetBalance(id [32]byte, holder [20]byte, amount uint64) error
	InventorySupply(id [32]byte) (uint64, error)
	InventorySetSupply(id [32]byte, amount uint64) error
}

type inventoryEvent struct {
	evt *types.Event
}

func (e inventoryEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e inventoryEvent) Event() *types.Event { return e.evt }

// Ledger is a multi-token balance book. Voucher sets and individual vouchers
// are both tokens keyed by their 32-byte identifiers; gating credentials live
// in the same book.
type Ledger struct {
	state   ledgerState
	emitter events.Emitter
}

// NewLedger binds the ledger to state.
func NewLedger(state ledgerState) *Ledger {
	return &Ledger{state: state, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter used by the ledger.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) ready() error {
	if l == nil || l.state == nil {
		return errNilState
	}
	return nil
}

// BalanceOf returns the number of units of id owned by holder.
func (l *Ledger) BalanceOf(id [32]byte, holder [20]byte) (uint64, error) {
	if err := l.ready(); err != nil {
		return 0, err
	}
	return l.state.InventoryBalance(id, holder)
}

// TotalSupply returns the number of units of id in existence.
func (l *Ledger) TotalSupply(id [32]byte) (uint64, error) {
	if err := l.ready(); err != nil {
		return 0, err
	}
	return l.state.InventorySupply(id)
}

// Mint creates amount units of id for holder.
func (l *Ledger) Mint(id [32]byte, holder [20]byte, amount uint64) error {
	if err := l.ready(); err != nil {
		return err
	}
	if holder == ([20]byte{}) {
		return fmt.Errorf("inventory: holder required")
	}
	if amount == 0 {
		return nil
	}
	supply, err := l.state.InventorySupply(id)
	if err != nil {
		return err
	}
	balance, err := l.state.InventoryBalance(id, holder)
	if err != nil {
		return err
	}
	if supply+amount < supply || balance+amount < balance {
		return ErrSupplyOverflow
	}
	if err := l.state.InventorySetSupply(id, supply+amount); err != nil {
		return err
	}
	if err := l.state.InventorySetBalance(id, holder, balance+amount); err != nil {
		return err
	}
	l.emit(EventTypeMinted, id, map[string]string{
		"holder": formatAddress(holder),
		"amount": strconv.FormatUint(amount, 10),
	})
	return nil
}

// Burn destroys amount units of id owned by holder.
func (l *Ledger) Burn(id [32]byte, holder [20]byte, amount uint64) error {
	if err := l.ready(); err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}
	balance, err := l.state.InventoryBalance(id, holder)
	if err != nil {
		return err
	}
	if balance < amount {
		return fmt.Errorf("%w: %s holds %d of %x, burning %d", ErrInsufficientBalance, formatAddress(holder), balance, id, amount)
	}
	supply, err := l.state.InventorySupply(id)
	if err != nil {
		return err
	}
	if supply < amount {
		return fmt.Errorf("%w: supply of %x is %d", ErrInsufficientBalance, id, supply)
	}
	if err := l.state.InventorySetBalance(id, holder, balance-amount); err != nil {
		return err
	}
	if err := l.state.InventorySetSupply(id, supply-amount); err != nil {
		return err
	}
	l.emit(EventTypeBurned, id, map[string]string{
		"holder": formatAddress(holder),
		"amount": strconv.FormatUint(amount, 10),
	})
	return nil
}

// Transfer moves amount units of id between holders.
func (l *Ledger) Transfer(id [32]byte, from, to [20]byte, amount uint64) error {
	if err := l.ready(); err != nil {
		return err
	}
	if to == ([20]byte{}) {
		return fmt.Errorf("inventory: recipient required")
	}
	if amount == 0 || from == to {
		return nil
	}
	fromBalance, err := l.state.InventoryBalance(id, from)
	if err != nil {
		return err
	}
	if fromBalance < amount {
		return fmt.Errorf("%w: %s holds %d of %x, sending %d", ErrInsufficientBalance, formatAddress(from), fromBalance, id, amount)
	}
	toBalance, err := l.state.InventoryBalance(id, to)
	if err != nil {
		return err
	}
	if toBalance+amount < toBalance {
		return ErrSupplyOverflow
	}
	if err := l.state.InventorySetBalance(id, from, fromBalance-amount); err != nil {
		return err
	}
	if err := l.state.InventorySetBalance(id, to, toBalance+amount); err != nil {
		return err
	}
	l.emit(EventTypeTransferred, id, map[string]string{
		"from":   formatAddress(from),
		"to":     formatAddress(to),
		"amount": strconv.FormatUint(amount, 10),
	})
	return nil
}

func (l *Ledger) emit(eventType string, id [32]byte, attrs map[string]string) {
	if l.emitter == nil {
		return
	}
	attrs["id"] = hex.EncodeToString(id[:])
	l.emitter.Emit(inventoryEvent{evt: &types.Event{Type: eventType, Attributes: attrs}})
}

func formatAddress(addr [20]byte) string {
	return crypto.NewAddress(crypto.VoucherPrefix, addr[:]).String()
}
