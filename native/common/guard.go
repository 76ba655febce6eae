package common

import (
	"fmt"

	coreerrors "voucherchain/core/errors"
)

var (
	ErrModulePaused = fmt.Errorf("%w: module paused", coreerrors.ErrPaused)
	ErrDisaster     = fmt.Errorf("%w: disaster mode is permanent", coreerrors.ErrGuardViolation)
	ErrNotDisaster  = fmt.Errorf("%w: disaster mode not active", coreerrors.ErrGuardViolation)
)

// ModeView reports the system-wide operating mode.
type ModeView interface {
	Paused() bool
	Disaster() bool
}

// Guard rejects ordinary operations unless the system is active. Disaster mode
// is checked first so that a deployment which went through PAUSED into
// DISASTER reports the permanent condition.
func Guard(v ModeView) error {
	if v == nil {
		return nil
	}
	if v.Disaster() {
		return ErrDisaster
	}
	if v.Paused() {
		return ErrModulePaused
	}
	return nil
}

// GuardDisaster only passes once disaster mode has been entered.
func GuardDisaster(v ModeView) error {
	if v == nil || !v.Disaster() {
		return ErrNotDisaster
	}
	return nil
}
