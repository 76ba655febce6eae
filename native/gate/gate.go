package gate

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"voucherchain/core/events"
	"voucherchain/core/types"
	"voucherchain/crypto"
)

const (
	EventTypeBound   = "gate.bound"
	EventTypeRevoked = "gate.revoked"
)

var errNilState = errors.New("gate: state not configured")

// Binding ties a voucher set to the credential token buyers must hold.
// Generation increases each time the set is rebound so that previously spent
// eligibility does not carry over.
type Binding struct {
	SetID      [32]byte
	TokenID    [32]byte
	Generation uint64
}

type gateState interface {
	GateBindingGet(setID [32]byte) (*Binding, bool, error)
	GateBindingPut(*Binding) error
	GateUsed(buyer [20]byte, setID [32]byte, generation uint64) (bool, error)
	GateMarkUsed(buyer [20]byte, setID [32]byte, generation uint64) error
}

// Credentials reports how many units of a credential token a holder owns.
type Credentials interface {
	BalanceOf(id [32]byte, holder [20]byte) (uint64, error)
}

type gateEvent struct {
	evt *types.Event
}

func (e gateEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e gateEvent) Event() *types.Event { return e.evt }

// Gate grants each credential holder a single commit per bound set.
type Gate struct {
	state       gateState
	credentials Credentials
	emitter     events.Emitter
}

// New creates a gate reading credential balances from credentials.
func New(state gateState, credentials Credentials) *Gate {
	return &Gate{state: state, credentials: credentials, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter used by the gate.
func (g *Gate) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		g.emitter = events.NoopEmitter{}
		return
	}
	g.emitter = emitter
}

// Binding returns the binding for setID if one exists.
func (g *Gate) Binding(setID [32]byte) (*Binding, bool, error) {
	if g == nil || g.state == nil {
		return nil, false, errNilState
	}
	return g.state.GateBindingGet(setID)
}

// Bind associates setID with a credential token. Rebinding starts a new
// generation. Authorisation is the caller's concern.
func (g *Gate) Bind(setID, tokenID [32]byte) (*Binding, error) {
	if g == nil || g.state == nil {
		return nil, errNilState
	}
	if tokenID == ([32]byte{}) {
		return nil, fmt.Errorf("gate: credential token required")
	}
	binding := &Binding{SetID: setID, TokenID: tokenID, Generation: 1}
	existing, ok, err := g.state.GateBindingGet(setID)
	if err != nil {
		return nil, err
	}
	if ok {
		binding.Generation = existing.Generation + 1
	}
	if err := g.state.GateBindingPut(binding); err != nil {
		return nil, err
	}
	g.emit(EventTypeBound, map[string]string{
		"setId":      hex.EncodeToString(setID[:]),
		"tokenId":    hex.EncodeToString(tokenID[:]),
		"generation": strconv.FormatUint(binding.Generation, 10),
	})
	return binding, nil
}

// CheckEligible reports whether buyer may commit to setID. Unbound sets are
// open to everyone.
func (g *Gate) CheckEligible(buyer [20]byte, setID [32]byte) (bool, error) {
	if g == nil || g.state == nil {
		return false, errNilState
	}
	binding, ok, err := g.state.GateBindingGet(setID)
	if err != nil || !ok {
		return err == nil, err
	}
	used, err := g.state.GateUsed(buyer, setID, binding.Generation)
	if err != nil {
		return false, err
	}
	if used {
		return false, nil
	}
	if g.credentials == nil {
		return false, nil
	}
	balance, err := g.credentials.BalanceOf(binding.TokenID, buyer)
	if err != nil {
		return false, err
	}
	return balance > 0, nil
}

// Revoke consumes buyer's eligibility for setID. It is a no-op for unbound
// sets.
func (g *Gate) Revoke(buyer [20]byte, setID [32]byte) error {
	if g == nil || g.state == nil {
		return errNilState
	}
	binding, ok, err := g.state.GateBindingGet(setID)
	if err != nil || !ok {
		return err
	}
	if err := g.state.GateMarkUsed(buyer, setID, binding.Generation); err != nil {
		return err
	}
	g.emit(EventTypeRevoked, map[string]string{
		"setId":      hex.EncodeToString(setID[:]),
		"buyer":      crypto.NewAddress(crypto.VoucherPrefix, buyer[:]).String(),
		"generation": strconv.FormatUint(binding.Generation, 10),
	})
	return nil
}

func (g *Gate) emit(eventType string, attrs map[string]string) {
	if g.emitter == nil {
		return
	}
	g.emitter.Emit(gateEvent{evt: &types.Event{Type: eventType, Attributes: attrs}})
}
