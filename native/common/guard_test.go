package common

import (
	"errors"
	"testing"

	coreerrors "voucherchain/core/errors"
)

type staticMode struct {
	paused   bool
	disaster bool
}

func (m staticMode) Paused() bool   { return m.paused }
func (m staticMode) Disaster() bool { return m.disaster }

func TestGuard(t *testing.T) {
	cases := []struct {
		name string
		view ModeView
		want error
	}{
		{"nil view", nil, nil},
		{"active", staticMode{}, nil},
		{"paused", staticMode{paused: true}, coreerrors.ErrPaused},
		{"disaster", staticMode{paused: true, disaster: true}, coreerrors.ErrGuardViolation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Guard(tc.view)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestGuardDisaster(t *testing.T) {
	if err := GuardDisaster(staticMode{paused: true}); !errors.Is(err, ErrNotDisaster) {
		t.Fatalf("expected ErrNotDisaster, got %v", err)
	}
	if err := GuardDisaster(staticMode{disaster: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
