package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"polling-backend/ledger/chain"
)

// EnvPrefix prefixes environment overrides, e.g. POLLD_LEDGER_BACKEND.
const EnvPrefix = "POLLD"

// Ledger backends.
const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendChain  = "chain"
	BackendEVM    = "evm"
)

// Config contains all polld settings
type Config struct {
	Port             int           `mapstructure:"port"`
	LogLevel         string        `mapstructure:"log_level"`
	DataDir          string        `mapstructure:"data_dir"`
	ReloadAfterWrite bool          `mapstructure:"reload_after_write"`
	Ledger           LedgerConfig  `mapstructure:"ledger"`
	Wallet           WalletConfig  `mapstructure:"wallet"`
	Status           StatusConfig  `mapstructure:"status"`
	Decrypt          DecryptConfig `mapstructure:"decrypt"`
}

// LedgerConfig selects and configures the blob store
type LedgerConfig struct {
	Backend         string `mapstructure:"backend"`
	Path            string `mapstructure:"path"` // file of the bolt or chain backend, relative to data_dir
	RPCURL          string `mapstructure:"rpc_url"`
	ContractAddress string `mapstructure:"contract_address"`
	ChainID         uint64 `mapstructure:"chain_id"`
	Difficulty      int    `mapstructure:"difficulty"`
}

// WalletConfig locates the signing account
type WalletConfig struct {
	KeyringPath string `mapstructure:"keyring_path"`
	Account     string `mapstructure:"account"`
}

// StatusConfig sets how long a finished operation stays visible
type StatusConfig struct {
	SuccessLinger time.Duration `mapstructure:"success_linger"`
	ErrorLinger   time.Duration `mapstructure:"error_linger"`
}

// DecryptConfig holds the decryption session parameters
type DecryptConfig struct {
	DurationDays int           `mapstructure:"duration_days"`
	RevealDelay  time.Duration `mapstructure:"reveal_delay"`
}

// DefaultConfig returns a configuration populated with default values
func DefaultConfig() Config {
	return Config{
		Port:             8080,
		LogLevel:         "info",
		DataDir:          "data",
		ReloadAfterWrite: true,
		Ledger: LedgerConfig{
			Backend:    BackendChain,
			Path:       "ledger.json",
			ChainID:    31337,
			Difficulty: 2,
		},
		Wallet: WalletConfig{
			KeyringPath: "keyring.json",
			Account:     "operator",
		},
		Status: StatusConfig{
			SuccessLinger: 2 * time.Second,
			ErrorLinger:   3 * time.Second,
		},
		Decrypt: DecryptConfig{
			DurationDays: 30,
			RevealDelay:  1500 * time.Millisecond,
		},
	}
}

// SetDefaults registers the values of DefaultConfig with v.
func SetDefaults(v *viper.Viper) {
	def := DefaultConfig()
	v.SetDefault("port", def.Port)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("data_dir", def.DataDir)
	v.SetDefault("reload_after_write", def.ReloadAfterWrite)
	v.SetDefault("ledger.backend", def.Ledger.Backend)
	v.SetDefault("ledger.path", def.Ledger.Path)
	v.SetDefault("ledger.rpc_url", def.Ledger.RPCURL)
	v.SetDefault("ledger.contract_address", def.Ledger.ContractAddress)
	v.SetDefault("ledger.chain_id", def.Ledger.ChainID)
	v.SetDefault("ledger.difficulty", def.Ledger.Difficulty)
	v.SetDefault("wallet.keyring_path", def.Wallet.KeyringPath)
	v.SetDefault("wallet.account", def.Wallet.Account)
	v.SetDefault("status.success_linger", def.Status.SuccessLinger)
	v.SetDefault("status.error_linger", def.Status.ErrorLinger)
	v.SetDefault("decrypt.duration_days", def.Decrypt.DurationDays)
	v.SetDefault("decrypt.reveal_delay", def.Decrypt.RevealDelay)
}

// Load reads the optional config file at path, applies POLLD_ environment
// overrides on top of the defaults and validates the result.
func Load(v *viper.Viper, path string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings that cannot be defaulted.
func (c Config) Validate() error {
	switch c.Ledger.Backend {
	case BackendMemory, BackendBolt, BackendChain:
	case BackendEVM:
		if c.Ledger.RPCURL == "" || c.Ledger.ContractAddress == "" {
			return errors.New("ledger.rpc_url and ledger.contract_address are required for the evm backend")
		}
	default:
		return errors.Errorf("unknown ledger backend %q", c.Ledger.Backend)
	}
	if c.Ledger.Difficulty < 0 || c.Ledger.Difficulty > chain.MaxDifficulty {
		return errors.Errorf("ledger.difficulty must be between 0 and %d, got %d", chain.MaxDifficulty, c.Ledger.Difficulty)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Errorf("invalid port %d", c.Port)
	}
	if c.Decrypt.DurationDays <= 0 {
		return errors.New("decrypt.duration_days must be positive")
	}
	if c.Status.SuccessLinger < 0 || c.Status.ErrorLinger < 0 || c.Decrypt.RevealDelay < 0 {
		return errors.New("durations must not be negative")
	}
	return nil
}

// Resolve returns path relative to the data directory unless it is absolute.
func (c Config) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.DataDir, path)
}
