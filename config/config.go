package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"voucherchain/crypto"
)

// Config is the voucherd node configuration. TOML is the canonical format;
// files ending in .yaml or .yml are decoded with the same field names.
type Config struct {
	RPCAddress  string `toml:"RPCAddress" yaml:"RPCAddress"`
	DataDir     string `toml:"DataDir" yaml:"DataDir"`
	Environment string `toml:"Environment" yaml:"Environment"`

	Owner        string `toml:"Owner" yaml:"Owner"`
	OwnerKeyFile string `toml:"OwnerKeyFile" yaml:"OwnerKeyFile"`
	EscrowPool   string `toml:"EscrowPool" yaml:"EscrowPool"`
	Vault        string `toml:"Vault" yaml:"Vault"`
	RelayDomain  string `toml:"RelayDomain" yaml:"RelayDomain"`

	MinPeriodSeconds         int64 `toml:"MinPeriodSeconds" yaml:"MinPeriodSeconds"`
	ComplainPeriodSeconds    int64 `toml:"ComplainPeriodSeconds" yaml:"ComplainPeriodSeconds"`
	CancelFaultPeriodSeconds int64 `toml:"CancelFaultPeriodSeconds" yaml:"CancelFaultPeriodSeconds"`

	Log       LogConfig       `toml:"log" yaml:"log"`
	RPC       RPCConfig       `toml:"rpc" yaml:"rpc"`
	Telemetry TelemetryConfig `toml:"telemetry" yaml:"telemetry"`
	EventLog  EventLogConfig  `toml:"eventlog" yaml:"eventlog"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level      string `toml:"Level" yaml:"Level"`
	Format     string `toml:"Format" yaml:"Format"`
	File       string `toml:"File" yaml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups" yaml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"MaxAgeDays"`
}

// RPCConfig tunes the HTTP surface.
type RPCConfig struct {
	RateLimitPerSecond float64 `toml:"RateLimitPerSecond" yaml:"RateLimitPerSecond"`
	RateLimitBurst     int     `toml:"RateLimitBurst" yaml:"RateLimitBurst"`
	ReadTimeout        int     `toml:"ReadTimeout" yaml:"ReadTimeout"`
	WriteTimeout       int     `toml:"WriteTimeout" yaml:"WriteTimeout"`
	// JWTSecretEnv names the environment variable holding the HS256 secret
	// that guards the admin routes. Admin routes are disabled when unset.
	JWTSecretEnv string `toml:"JWTSecretEnv" yaml:"JWTSecretEnv"`
	JWTIssuer    string `toml:"JWTIssuer" yaml:"JWTIssuer"`
	JWTAudience  string `toml:"JWTAudience" yaml:"JWTAudience"`
	// IdempotencyDB is the SQLite path or postgres:// DSN backing relay
	// idempotency keys. Empty shares the event log database.
	IdempotencyDB string `toml:"IdempotencyDB" yaml:"IdempotencyDB"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint" yaml:"Endpoint"`
	Insecure bool   `toml:"Insecure" yaml:"Insecure"`
	Headers  string `toml:"Headers" yaml:"Headers"`
	Traces   bool   `toml:"Traces" yaml:"Traces"`
	Metrics  bool   `toml:"Metrics" yaml:"Metrics"`
}

// EventLogConfig configures the event index. Path accepts a SQLite file or a
// postgres:// DSN.
type EventLogConfig struct {
	Path string `toml:"Path" yaml:"Path"`
}

// Load loads the configuration from the given path, writing a default file
// and a fresh owner key when the file does not exist.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	default:
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
		}
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = ":8080"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./voucher-data"
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "local"
	}
	if strings.TrimSpace(c.Vault) == "" {
		vault := crypto.ModuleAddress("vault")
		c.Vault = crypto.NewAddress(crypto.VoucherPrefix, vault[:]).String()
	}
	if c.MinPeriodSeconds == 0 {
		c.MinPeriodSeconds = DefaultMinPeriodSeconds
	}
	if c.ComplainPeriodSeconds == 0 {
		c.ComplainPeriodSeconds = DefaultPeriodSeconds
	}
	if c.CancelFaultPeriodSeconds == 0 {
		c.CancelFaultPeriodSeconds = DefaultPeriodSeconds
	}
	if c.RPC.RateLimitPerSecond == 0 {
		c.RPC.RateLimitPerSecond = 20
	}
	if c.RPC.RateLimitBurst == 0 {
		c.RPC.RateLimitBurst = 40
	}
	if c.RPC.ReadTimeout == 0 {
		c.RPC.ReadTimeout = 15
	}
	if c.RPC.WriteTimeout == 0 {
		c.RPC.WriteTimeout = 15
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keyPath := defaultKeyPath(path)
	if err := writeKey(keyPath, key); err != nil {
		return nil, err
	}
	owner := key.PubKey().Address().String()

	cfg := &Config{
		Owner:        owner,
		OwnerKeyFile: keyPath,
		EscrowPool:   owner,
		EventLog:     EventLogConfig{Path: filepath.Join("./voucher-data", "events.db")},
	}
	cfg.applyDefaults()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// OwnerKey loads the owner's private key from OwnerKeyFile.
func (c *Config) OwnerKey() (*crypto.PrivateKey, error) {
	if strings.TrimSpace(c.OwnerKeyFile) == "" {
		return nil, fmt.Errorf("config: OwnerKeyFile not set")
	}
	data, err := os.ReadFile(c.OwnerKeyFile)
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("config: decode owner key: %w", err)
	}
	return crypto.PrivateKeyFromBytes(raw)
}

func writeKey(path string, key *crypto.PrivateKey) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(hex.EncodeToString(key.Bytes())), 0o600)
}

func persist(path string, cfg *Config) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	default:
		return toml.NewEncoder(f).Encode(cfg)
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func defaultKeyPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "owner.key")
}
