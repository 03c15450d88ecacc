package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealedsettle/core"
)

const sampleConfig = `
server:
  addr: ":9090"
  display_decimals: 6
store:
  driver: postgres
  postgres:
    host: db.internal
    sslmode: require
enclave:
  mode: vsock
  cid: 16
  port: 5005
protocol:
  authority: "0xa0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0"
  fee_recipient: "0xfefefefefefefefefefefefefefefefefefefefe"
  fee_bps: 125
  authority_timelock: 1h
settlement:
  recipient_public_key: "AQIDBAUGBwgJCgsMDQ4PEBESExQVFhcYGRobHB0eHyA="
  payment_asset: "0x2222222222222222222222222222222222222222"
  sweep_interval: 5s
ledger:
  genesis:
    - owner: "0xc0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0"
      asset: "0x1111111111111111111111111111111111111111"
      amount: 10
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "auctiond.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv(postgresPasswordEnv, "s3cret")
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	assert.NoError(t, err)

	check.Equal(t, ":9090", cfg.Server.Addr)
	check.Equal(t, int32(6), cfg.Server.DisplayDecimals)
	// Unset fields keep their defaults.
	check.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	check.Equal(t, 5432, cfg.Store.Postgres.Port)

	check.Equal(t, "postgres", cfg.Store.Driver)
	check.Equal(t, "db.internal", cfg.Store.Postgres.Host)
	check.Equal(t, "require", cfg.Store.Postgres.SSLMode)
	check.Equal(t, "s3cret", cfg.Store.Postgres.Password)

	check.Equal(t, "vsock", cfg.Enclave.Mode)
	check.Equal(t, uint32(16), cfg.Enclave.CID)
	check.Equal(t, uint32(5005), cfg.Enclave.Port)

	check.Equal(t, core.Address{0xa0, 0xa0, 0xa0, 0xa0, 0xa0, 0xa0, 0xa0, 0xa0, 0xa0, 0xa0, 0xa0, 0xa0, 0xa0, 0xa0, 0xa0, 0xa0, 0xa0, 0xa0, 0xa0, 0xa0}, cfg.Protocol.Authority)
	check.Equal(t, uint16(125), cfg.Protocol.FeeBps)
	check.Equal(t, time.Hour, cfg.Protocol.AuthorityTimelock)

	check.Equal(t, byte(1), cfg.Settlement.RecipientPublicKey[0])
	check.Equal(t, byte(32), cfg.Settlement.RecipientPublicKey[31])
	check.Equal(t, 5*time.Second, cfg.Settlement.SweepInterval)
	check.Equal(t, 2*time.Minute, cfg.Settlement.ComputationTimeout)

	assert.Equal(t, 1, len(cfg.Ledger.Genesis))
	check.Equal(t, uint64(10), cfg.Ledger.Genesis[0].Amount)
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Protocol.Authority = core.Address{0xa0}
		cfg.Protocol.FeeRecipient = core.Address{0xfe}
		cfg.Settlement.RecipientPublicKey = core.PublicKey{1}
		cfg.Settlement.PaymentAsset = core.Address{0x22}
		return cfg
	}
	check.NoError(t, valid().Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown store", func(c *Config) { c.Store.Driver = "sqlite" }},
		{"unknown mode", func(c *Config) { c.Enclave.Mode = "grpc" }},
		{"tcp without addr", func(c *Config) { c.Enclave.Mode = "tcp" }},
		{"missing authority", func(c *Config) { c.Protocol.Authority = core.Address{} }},
		{"missing fee recipient", func(c *Config) { c.Protocol.FeeRecipient = core.Address{} }},
		{"missing recipient key", func(c *Config) { c.Settlement.RecipientPublicKey = core.PublicKey{} }},
		{"missing payment asset", func(c *Config) { c.Settlement.PaymentAsset = core.Address{} }},
		{"zero sweep", func(c *Config) { c.Settlement.SweepInterval = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			check.Error(t, cfg.Validate())
		})
	}

	cfg := valid()
	cfg.Protocol.FeeBps = core.MaxProtocolFeeBps + 1
	check.True(t, errors.Is(cfg.Validate(), core.ErrInvalidProtocolFee))
}

func TestLoadConfigRejectsMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	check.Error(t, err)
}
