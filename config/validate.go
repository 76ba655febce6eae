package config

import (
	"fmt"
	"strings"

	"voucherchain/crypto"
	"voucherchain/native/voucher"
)

var (
	// DefaultMinPeriodSeconds is the smallest lifecycle window accepted unless
	// the operator lowers it.
	DefaultMinPeriodSeconds = int64(3600)
	// DefaultPeriodSeconds seeds both lifecycle windows.
	DefaultPeriodSeconds = int64(7 * 24 * 3600)
)

// Addresses are the decoded deployment accounts.
type Addresses struct {
	Owner      [20]byte
	EscrowPool [20]byte
	Vault      [20]byte
}

// Addresses decodes the configured bech32 accounts.
func (c *Config) Addresses() (Addresses, error) {
	var out Addresses
	var err error
	if out.Owner, err = parseAddress("Owner", c.Owner); err != nil {
		return out, err
	}
	if strings.TrimSpace(c.EscrowPool) != "" {
		if out.EscrowPool, err = parseAddress("EscrowPool", c.EscrowPool); err != nil {
			return out, err
		}
	}
	if out.Vault, err = parseAddress("Vault", c.Vault); err != nil {
		return out, err
	}
	return out, nil
}

func parseAddress(field, value string) ([20]byte, error) {
	addr, err := crypto.ParseAddress(strings.TrimSpace(value))
	if err != nil {
		return addr, fmt.Errorf("%s: %w", field, err)
	}
	if addr == ([20]byte{}) {
		return addr, fmt.Errorf("%s: zero address", field)
	}
	return addr, nil
}

// Validate checks the configuration for values the node cannot run with.
func Validate(c *Config) error {
	if c == nil {
		return fmt.Errorf("config: nil")
	}
	addrs, err := c.Addresses()
	if err != nil {
		return err
	}
	if addrs.Vault == addrs.Owner {
		return fmt.Errorf("vault must differ from owner")
	}
	if addrs.EscrowPool == addrs.Vault {
		return fmt.Errorf("escrow pool must differ from vault")
	}
	if c.MinPeriodSeconds <= 0 {
		return fmt.Errorf("MinPeriodSeconds must be positive")
	}
	if c.ComplainPeriodSeconds < c.MinPeriodSeconds {
		return fmt.Errorf("ComplainPeriodSeconds %d below minimum %d", c.ComplainPeriodSeconds, c.MinPeriodSeconds)
	}
	if c.CancelFaultPeriodSeconds < c.MinPeriodSeconds {
		return fmt.Errorf("CancelFaultPeriodSeconds %d below minimum %d", c.CancelFaultPeriodSeconds, c.MinPeriodSeconds)
	}
	if c.MinPeriodSeconds > voucher.MaxPeriod {
		return fmt.Errorf("MinPeriodSeconds %d above maximum %d", c.MinPeriodSeconds, voucher.MaxPeriod)
	}
	if c.ComplainPeriodSeconds > voucher.MaxPeriod {
		return fmt.Errorf("ComplainPeriodSeconds %d above maximum %d", c.ComplainPeriodSeconds, voucher.MaxPeriod)
	}
	if c.CancelFaultPeriodSeconds > voucher.MaxPeriod {
		return fmt.Errorf("CancelFaultPeriodSeconds %d above maximum %d", c.CancelFaultPeriodSeconds, voucher.MaxPeriod)
	}
	if c.RPC.RateLimitPerSecond < 0 || c.RPC.RateLimitBurst < 0 {
		return fmt.Errorf("rpc: rate limits must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(c.Log.Format)) {
	case "", "json", "text":
	default:
		return fmt.Errorf("log: unsupported format %q", c.Log.Format)
	}
	return nil
}
