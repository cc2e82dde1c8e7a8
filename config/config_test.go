package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polling-backend/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "polld.toml")
	content := `
port = 9090
reload_after_write = false

[ledger]
backend = "bolt"
path = "/var/lib/polld/blobs.db"

[status]
success_linger = "500ms"
error_linger = "1s"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("POLLD_DECRYPT_DURATION_DAYS", "7")
	t.Setenv("POLLD_WALLET_ACCOUNT", "alice")

	cfg, err := config.Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.False(t, cfg.ReloadAfterWrite)
	assert.Equal(t, config.BackendBolt, cfg.Ledger.Backend)
	assert.Equal(t, 500*time.Millisecond, cfg.Status.SuccessLinger)
	assert.Equal(t, time.Second, cfg.Status.ErrorLinger)
	assert.Equal(t, 7, cfg.Decrypt.DurationDays)
	assert.Equal(t, "alice", cfg.Wallet.Account)
	assert.Equal(t, "/var/lib/polld/blobs.db", cfg.Resolve(cfg.Ledger.Path))
	assert.Equal(t, filepath.Join("data", "keyring.json"), cfg.Resolve(cfg.Wallet.KeyringPath))
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(*config.Config)
	}{
		{"unknown backend", func(c *config.Config) { c.Ledger.Backend = "s3" }},
		{"evm without rpc", func(c *config.Config) { c.Ledger.Backend = config.BackendEVM }},
		{"bad port", func(c *config.Config) { c.Port = 0 }},
		{"no session days", func(c *config.Config) { c.Decrypt.DurationDays = 0 }},
		{"difficulty too high", func(c *config.Config) { c.Ledger.Difficulty = 33 }},
		{"difficulty wraps", func(c *config.Config) { c.Ledger.Difficulty = 256 }},
		{"negative difficulty", func(c *config.Config) { c.Ledger.Difficulty = -1 }},
		{"negative linger", func(c *config.Config) { c.Status.ErrorLinger = -time.Second }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tc.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := config.DefaultConfig()
	cfg.Ledger.Difficulty = 0
	assert.NoError(t, cfg.Validate())

	cfg = config.DefaultConfig()
	cfg.Ledger.Backend = config.BackendEVM
	cfg.Ledger.RPCURL = "http://127.0.0.1:8545"
	cfg.Ledger.ContractAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	assert.NoError(t, cfg.Validate())
}
