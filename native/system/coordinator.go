package system

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	coreerrors "voucherchain/core/errors"
	"voucherchain/core/events"
	"voucherchain/core/types"
	"voucherchain/crypto"
	"voucherchain/native/common"
)

// Mode is the deployment-wide operating state.
type Mode uint8

const (
	ModeActive Mode = iota
	ModePaused
	ModeDisaster
)

func (m Mode) String() string {
	switch m {
	case ModeActive:
		return "ACTIVE"
	case ModePaused:
		return "PAUSED"
	case ModeDisaster:
		return "DISASTER"
	default:
		return "UNKNOWN"
	}
}

const (
	EventTypePaused      = "system.paused"
	EventTypeUnpaused    = "system.unpaused"
	EventTypeDisaster    = "system.disaster"
	EventTypePoolRotated = "system.pool_rotated"
	EventTypePeriod      = "system.period_updated"
)

const (
	PeriodComplain    = "complain"
	PeriodCancelFault = "cancel_fault"
)

var (
	errNilState = errors.New("system: state not configured")

	ErrNotOwner          = fmt.Errorf("%w: caller is not the owner", coreerrors.ErrGuardViolation)
	ErrInvalidTransition = fmt.Errorf("%w: invalid mode transition", coreerrors.ErrGuardViolation)
	ErrPoolIsVault       = fmt.Errorf("%w: escrow pool cannot be the vault", coreerrors.ErrGuardViolation)
)

// Settings is the persisted coordinator state.
type Settings struct {
	Mode       Mode
	Owner      [20]byte
	EscrowPool [20]byte
	UpdatedAt  int64
}

type engineState interface {
	SystemSettingsGet() (*Settings, bool, error)
	SystemSettingsPut(*Settings) error
}

type systemEvent struct {
	evt *types.Event
}

func (e systemEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e systemEvent) Event() *types.Event { return e.evt }

// Coordinator owns the pause and disaster switches. ACTIVE and PAUSED can be
// toggled by the owner; DISASTER can only be entered from PAUSED and is never
// left.
type Coordinator struct {
	state    engineState
	defaults Settings
	vault    [20]byte
	emitter  events.Emitter
	nowFn    func() int64
}

// NewCoordinator binds the coordinator to state. defaults supply the owner and
// pool until settings are first persisted.
func NewCoordinator(state engineState, defaults Settings) *Coordinator {
	return &Coordinator{
		state:    state,
		defaults: defaults,
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter used by the coordinator.
func (c *Coordinator) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		c.emitter = events.NoopEmitter{}
		return
	}
	c.emitter = emitter
}

// SetVault records the custody account. The escrow pool may never be rotated
// onto it.
func (c *Coordinator) SetVault(vault [20]byte) {
	c.vault = vault
}

// SetNowFunc overrides the clock.
func (c *Coordinator) SetNowFunc(now func() int64) {
	if now == nil {
		c.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	c.nowFn = now
}

// Settings returns the current settings, falling back to the defaults.
func (c *Coordinator) Settings() (*Settings, error) {
	if c == nil || c.state == nil {
		return nil, errNilState
	}
	stored, ok, err := c.state.SystemSettingsGet()
	if err != nil {
		return nil, err
	}
	if !ok {
		clone := c.defaults
		return &clone, nil
	}
	return stored, nil
}

// Mode returns the current mode. Read failures are reported as PAUSED so that
// guards fail closed.
func (c *Coordinator) Mode() Mode {
	settings, err := c.Settings()
	if err != nil {
		return ModePaused
	}
	return settings.Mode
}

// Paused implements common.ModeView. Disaster mode counts as paused.
func (c *Coordinator) Paused() bool { return c.Mode() != ModeActive }

// Disaster implements common.ModeView.
func (c *Coordinator) Disaster() bool { return c.Mode() == ModeDisaster }

// Guard rejects ordinary operations unless the system is active.
func (c *Coordinator) Guard() error { return common.Guard(c) }

// GuardDisaster passes only in disaster mode.
func (c *Coordinator) GuardDisaster() error { return common.GuardDisaster(c) }

// EscrowPool returns the address credited with the pool's share of payouts.
func (c *Coordinator) EscrowPool() ([20]byte, error) {
	settings, err := c.Settings()
	if err != nil {
		return [20]byte{}, err
	}
	return settings.EscrowPool, nil
}

// RequireOwner rejects callers other than the configured owner.
func (c *Coordinator) RequireOwner(caller [20]byte) error {
	settings, err := c.Settings()
	if err != nil {
		return err
	}
	if settings.Owner == ([20]byte{}) || caller != settings.Owner {
		return ErrNotOwner
	}
	return nil
}

// Pause moves ACTIVE to PAUSED.
func (c *Coordinator) Pause(caller [20]byte) error {
	return c.transition(caller, ModeActive, ModePaused, EventTypePaused)
}

// Unpause moves PAUSED back to ACTIVE.
func (c *Coordinator) Unpause(caller [20]byte) error {
	return c.transition(caller, ModePaused, ModeActive, EventTypeUnpaused)
}

// TriggerDisaster moves PAUSED to DISASTER. There is no way back.
func (c *Coordinator) TriggerDisaster(caller [20]byte) error {
	return c.transition(caller, ModePaused, ModeDisaster, EventTypeDisaster)
}

func (c *Coordinator) transition(caller [20]byte, from, to Mode, eventType string) error {
	if err := c.RequireOwner(caller); err != nil {
		return err
	}
	settings, err := c.Settings()
	if err != nil {
		return err
	}
	if settings.Mode != from {
		return fmt.Errorf("%w: %s -> %s from %s", ErrInvalidTransition, from, to, settings.Mode)
	}
	settings.Mode = to
	settings.UpdatedAt = c.nowFn()
	if err := c.state.SystemSettingsPut(settings); err != nil {
		return err
	}
	c.emit(eventType, map[string]string{
		"mode":      to.String(),
		"owner":     formatAddress(caller),
		"updatedAt": strconv.FormatInt(settings.UpdatedAt, 10),
	})
	return nil
}

// RotateEscrowPool replaces the pool address. Only allowed while paused so no
// distribution can observe a half-rotated configuration.
func (c *Coordinator) RotateEscrowPool(caller, pool [20]byte) error {
	if err := c.RequireOwner(caller); err != nil {
		return err
	}
	if pool == ([20]byte{}) {
		return fmt.Errorf("system: escrow pool required")
	}
	if c.vault != ([20]byte{}) && pool == c.vault {
		return ErrPoolIsVault
	}
	settings, err := c.Settings()
	if err != nil {
		return err
	}
	if settings.Mode != ModePaused {
		return fmt.Errorf("%w: pool rotation requires PAUSED, have %s", ErrInvalidTransition, settings.Mode)
	}
	previous := settings.EscrowPool
	settings.EscrowPool = pool
	settings.UpdatedAt = c.nowFn()
	if err := c.state.SystemSettingsPut(settings); err != nil {
		return err
	}
	c.emit(EventTypePoolRotated, map[string]string{
		"previous": formatAddress(previous),
		"pool":     formatAddress(pool),
	})
	return nil
}

// PeriodSetter applies lifecycle window changes.
type PeriodSetter interface {
	SetComplainPeriod(seconds int64) error
	SetCancelFaultPeriod(seconds int64) error
}

// SetPeriod changes one of the lifecycle windows on behalf of the owner.
func (c *Coordinator) SetPeriod(caller [20]byte, setter PeriodSetter, period string, seconds int64) error {
	if err := c.RequireOwner(caller); err != nil {
		return err
	}
	if setter == nil {
		return fmt.Errorf("system: period setter not configured")
	}
	if c.Disaster() {
		return common.ErrDisaster
	}
	var err error
	switch period {
	case PeriodComplain:
		err = setter.SetComplainPeriod(seconds)
	case PeriodCancelFault:
		err = setter.SetCancelFaultPeriod(seconds)
	default:
		return fmt.Errorf("system: unknown period %q", period)
	}
	if err != nil {
		return err
	}
	c.emit(EventTypePeriod, map[string]string{
		"period":  period,
		"seconds": strconv.FormatInt(seconds, 10),
	})
	return nil
}

func (c *Coordinator) emit(eventType string, attrs map[string]string) {
	if c.emitter == nil {
		return
	}
	c.emitter.Emit(systemEvent{evt: &types.Event{Type: eventType, Attributes: attrs}})
}

func formatAddress(addr [20]byte) string {
	return crypto.NewAddress(crypto.VoucherPrefix, addr[:]).String()
}
