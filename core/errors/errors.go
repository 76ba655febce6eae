package errors

import stderrors "errors"

// Error kinds shared by every native module. Module specific errors wrap one of
// these so callers and the RPC layer can classify a rejection with errors.Is.
var (
	ErrGuardViolation    = stderrors.New("guard violation")
	ErrReplayViolation   = stderrors.New("replay violation")
	ErrCapacityViolation = stderrors.New("capacity violation")
	ErrPaused            = stderrors.New("paused")
	ErrNotFound          = stderrors.New("not found")
)

// Kind returns the short taxonomy label for err, or "internal" when the error
// does not wrap a known kind.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case stderrors.Is(err, ErrPaused):
		return "paused"
	case stderrors.Is(err, ErrReplayViolation):
		return "replay"
	case stderrors.Is(err, ErrCapacityViolation):
		return "capacity"
	case stderrors.Is(err, ErrGuardViolation):
		return "guard"
	case stderrors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
