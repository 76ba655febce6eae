package voucher

import (
	"errors"
	"fmt"

	coreerrors "voucherchain/core/errors"
)

var (
	errNilState = errors.New("voucher engine: state not configured")

	ErrSetNotFound     = fmt.Errorf("%w: voucher set", coreerrors.ErrNotFound)
	ErrVoucherNotFound = fmt.Errorf("%w: voucher", coreerrors.ErrNotFound)

	ErrUnauthorized       = fmt.Errorf("%w: unauthorized caller", coreerrors.ErrGuardViolation)
	ErrInapplicableStatus = fmt.Errorf("%w: inapplicable status", coreerrors.ErrGuardViolation)
	ErrAlreadyProcessed   = fmt.Errorf("%w: already processed", coreerrors.ErrGuardViolation)
	ErrOutsideValidity    = fmt.Errorf("%w: outside validity window", coreerrors.ErrGuardViolation)
	ErrComplainPeriod     = fmt.Errorf("%w: complain period expired", coreerrors.ErrGuardViolation)
	ErrCancelFaultPeriod  = fmt.Errorf("%w: cancel or fault period expired", coreerrors.ErrGuardViolation)
	ErrNotFinalizable     = fmt.Errorf("%w: voucher not yet finalizable", coreerrors.ErrGuardViolation)
	ErrNotExpirable       = fmt.Errorf("%w: validity window still open", coreerrors.ErrGuardViolation)
	ErrGateDenied         = fmt.Errorf("%w: buyer not eligible for voucher set", coreerrors.ErrGuardViolation)
	ErrSetCancelled       = fmt.Errorf("%w: voucher set cancelled", coreerrors.ErrGuardViolation)

	ErrSoldOut         = fmt.Errorf("%w: voucher set sold out", coreerrors.ErrCapacityViolation)
	ErrPaymentMismatch = fmt.Errorf("%w: payment does not match terms", coreerrors.ErrCapacityViolation)
	ErrPeriodTooShort  = fmt.Errorf("%w: period below minimum", coreerrors.ErrGuardViolation)
	ErrPeriodTooLong   = fmt.Errorf("%w: period above maximum", coreerrors.ErrGuardViolation)
)
