package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cloudx-io/sealedsettle/core"
	"github.com/cloudx-io/sealedsettle/store"
)

const postgresPasswordEnv = "SEALEDSETTLE_POSTGRES_PASSWORD"

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Enclave    EnclaveConfig    `yaml:"enclave"`
	Protocol   ProtocolConfig   `yaml:"protocol"`
	Settlement SettlementConfig `yaml:"settlement"`
	Ledger     LedgerConfig     `yaml:"ledger"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	DisplayDecimals int32         `yaml:"display_decimals"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type StoreConfig struct {
	Driver   string               `yaml:"driver"` // memory | postgres
	Postgres store.PostgresConfig `yaml:"postgres"`
}

type EnclaveConfig struct {
	Mode       string `yaml:"mode"` // local | vsock | tcp
	CID        uint32 `yaml:"cid"`
	Port       uint32 `yaml:"port"`
	Addr       string `yaml:"addr"`
	MaxWorkers int    `yaml:"max_workers"`
}

type ProtocolConfig struct {
	Authority         core.Address  `yaml:"authority"`
	FeeRecipient      core.Address  `yaml:"fee_recipient"`
	FeeBps            uint16        `yaml:"fee_bps"`
	AuthorityTimelock time.Duration `yaml:"authority_timelock"`
}

type SettlementConfig struct {
	RecipientPublicKey core.PublicKey `yaml:"recipient_public_key"`
	PaymentAsset       core.Address   `yaml:"payment_asset"`
	ComputationTimeout time.Duration  `yaml:"computation_timeout"`
	SweepInterval      time.Duration  `yaml:"sweep_interval"`
}

// LedgerConfig seeds balances when the protocol is first initialized.
type LedgerConfig struct {
	Genesis []GenesisBalance `yaml:"genesis"`
}

type GenesisBalance struct {
	Owner  core.Address `yaml:"owner"`
	Asset  core.Address `yaml:"asset"`
	Amount uint64       `yaml:"amount"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Store: StoreConfig{
			Driver: "memory",
			Postgres: store.PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "sealedsettle",
				Database: "sealedsettle",
			},
		},
		Enclave: EnclaveConfig{
			Mode:       "local",
			Port:       5000,
			MaxWorkers: 4,
		},
		Protocol: ProtocolConfig{
			FeeBps:            core.DefaultProtocolFeeBps,
			AuthorityTimelock: 48 * time.Hour,
		},
		Settlement: SettlementConfig{
			ComputationTimeout: 2 * time.Minute,
			SweepInterval:      10 * time.Second,
		},
	}
}

// LoadConfig reads a YAML file over the defaults and applies environment
// overrides for secrets.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if pw := os.Getenv(postgresPasswordEnv); pw != "" {
		cfg.Store.Postgres.Password = pw
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Enclave.Mode {
	case "local", "vsock":
	case "tcp":
		if c.Enclave.Addr == "" {
			return fmt.Errorf("enclave.addr is required in tcp mode")
		}
	default:
		return fmt.Errorf("unknown enclave mode %q", c.Enclave.Mode)
	}
	if c.Protocol.Authority.IsZero() {
		return fmt.Errorf("protocol.authority is required")
	}
	if c.Protocol.FeeRecipient.IsZero() {
		return fmt.Errorf("protocol.fee_recipient is required")
	}
	if c.Protocol.FeeBps > core.MaxProtocolFeeBps {
		return fmt.Errorf("%w: %d bps", core.ErrInvalidProtocolFee, c.Protocol.FeeBps)
	}
	if c.Settlement.RecipientPublicKey.IsZero() {
		return fmt.Errorf("settlement.recipient_public_key is required")
	}
	if c.Settlement.PaymentAsset.IsZero() {
		return fmt.Errorf("settlement.payment_asset is required")
	}
	if c.Settlement.ComputationTimeout <= 0 || c.Settlement.SweepInterval <= 0 {
		return fmt.Errorf("settlement timeouts must be positive")
	}
	return nil
}
