package types

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Asset identifies the currency a payment is denominated in. The zero value is
// the chain's native asset; any other value is the address of a fungible token.
type Asset [20]byte

// NativeAsset is the chain's native currency.
var NativeAsset Asset

// IsNative reports whether the asset refers to the native currency.
func (a Asset) IsNative() bool { return a == NativeAsset }

// String renders the asset as "native" or a 0x-prefixed token address.
func (a Asset) String() string {
	if a.IsNative() {
		return "native"
	}
	return "0x" + hex.EncodeToString(a[:])
}

// ParseAsset accepts the output of String.
func ParseAsset(s string) (Asset, error) {
	trimmed := strings.ToLower(strings.TrimSpace(s))
	if trimmed == "" || trimmed == "native" {
		return NativeAsset, nil
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(trimmed, "0x"))
	if err != nil {
		return NativeAsset, fmt.Errorf("asset: %w", err)
	}
	if len(raw) != 20 {
		return NativeAsset, fmt.Errorf("asset: token address must be 20 bytes, got %d", len(raw))
	}
	var out Asset
	copy(out[:], raw)
	return out, nil
}

// MarshalText implements encoding.TextMarshaler.
func (a Asset) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Asset) UnmarshalText(b []byte) error {
	parsed, err := ParseAsset(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
