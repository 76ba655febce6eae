package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"voucherchain/crypto"
)

func testAddress(b byte) string {
	var raw [20]byte
	raw[0] = b
	raw[19] = b
	return crypto.NewAddress(crypto.VoucherPrefix, raw[:]).String()
}

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config to be written: %v", err)
	}
	key, err := cfg.OwnerKey()
	if err != nil {
		t.Fatalf("owner key: %v", err)
	}
	if got := key.PubKey().Address().String(); got != cfg.Owner {
		t.Fatalf("owner %s does not match generated key %s", cfg.Owner, got)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Owner != cfg.Owner || reloaded.Vault != cfg.Vault {
		t.Fatalf("reload changed accounts: %+v vs %+v", reloaded, cfg)
	}
}

func TestLoadParsesTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := fmt.Sprintf(`RPCAddress = "0.0.0.0:9000"
DataDir = "./data"
Owner = "%s"
EscrowPool = "%s"
Vault = "%s"
MinPeriodSeconds = 60
ComplainPeriodSeconds = 120

[log]
Level = "debug"
Format = "text"

[rpc]
RateLimitPerSecond = 5.5
RateLimitBurst = 11
JWTSecretEnv = "VOUCHER_ADMIN_SECRET"

[eventlog]
Path = "./data/events.db"
`, testAddress(1), testAddress(2), testAddress(3))
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != "0.0.0.0:9000" || cfg.Log.Level != "debug" || cfg.RPC.RateLimitBurst != 11 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.ComplainPeriodSeconds != 120 || cfg.CancelFaultPeriodSeconds != DefaultPeriodSeconds {
		t.Fatalf("unexpected periods: %d %d", cfg.ComplainPeriodSeconds, cfg.CancelFaultPeriodSeconds)
	}
	addrs, err := cfg.Addresses()
	if err != nil {
		t.Fatalf("addresses: %v", err)
	}
	if addrs.Owner[0] != 1 || addrs.EscrowPool[0] != 2 || addrs.Vault[0] != 3 {
		t.Fatalf("unexpected addresses: %+v", addrs)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := fmt.Sprintf(`RPCAddress: ":7070"
Owner: %s
Vault: %s
rpc:
  RateLimitPerSecond: 3
telemetry:
  Endpoint: "collector:4318"
  Traces: true
`, testAddress(1), testAddress(3))
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != ":7070" || cfg.RPC.RateLimitPerSecond != 3 || !cfg.Telemetry.Traces {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := fmt.Sprintf("Owner = %q\nVault = %q\nValidatorKey = \"abc\"\n", testAddress(1), testAddress(3))
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "ValidatorKey") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{Owner: testAddress(1), Vault: testAddress(3)}
		cfg.applyDefaults()
		return cfg
	}
	if err := Validate(base()); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}
	cases := map[string]func(*Config){
		"bad owner":       func(c *Config) { c.Owner = "nope" },
		"vault is owner":  func(c *Config) { c.Vault = c.Owner },
		"short complain":  func(c *Config) { c.ComplainPeriodSeconds = 10 },
		"short cancel":    func(c *Config) { c.CancelFaultPeriodSeconds = 10 },
		"negative rate":   func(c *Config) { c.RPC.RateLimitPerSecond = -1 },
		"unknown format":  func(c *Config) { c.Log.Format = "xml" },
		"zero min period": func(c *Config) { c.MinPeriodSeconds = -1 },
		"foreign prefix":  func(c *Config) { c.EscrowPool = "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq" },
		"pool is vault":   func(c *Config) { c.EscrowPool = c.Vault },
		"huge complain":   func(c *Config) { c.ComplainPeriodSeconds = math.MaxInt64 },
		"huge cancel":     func(c *Config) { c.CancelFaultPeriodSeconds = math.MaxInt64 },
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(cfg)
		if err := Validate(cfg); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}
