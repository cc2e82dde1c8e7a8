package wallet

import (
	"crypto/ecdsa"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"polling-backend/encryption"
)

// DefaultAccount is the name of the account created with a new keyring.
const DefaultAccount = "operator"

// ErrUnknownAccount is returned when a keyring lookup has no match.
var ErrUnknownAccount = errors.New("unknown account")

// Account is one keyring entry as stored on disk.
type Account struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	PrivateKey string `json:"private_key"`
}

// Keyring is a file-backed set of development accounts.
type Keyring struct {
	path     string
	mu       sync.RWMutex
	accounts []Account
	logger   zerolog.Logger
}

// LoadOrCreateKeyring reads the keyring at path, creating it with a single
// DefaultAccount if the file does not exist.
func LoadOrCreateKeyring(path string, logger zerolog.Logger) (*Keyring, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create keyring directory")
	}

	k := &Keyring{path: path, logger: logger}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		logger.Info().Str("path", path).Msg("keyring not found, creating default account")
		if _, err := k.Generate(DefaultAccount); err != nil {
			return nil, err
		}
		return k, nil
	case err != nil:
		return nil, errors.Wrap(err, "failed to read keyring")
	}

	var stored struct {
		Accounts []Account `json:"accounts"`
	}
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal keyring")
	}
	for _, acc := range stored.Accounts {
		if _, err := parseKey(acc.PrivateKey); err != nil {
			return nil, errors.Wrapf(err, "invalid key for account %s", acc.Name)
		}
	}
	k.accounts = stored.Accounts

	logger.Debug().Int("accounts", len(k.accounts)).Str("path", path).Msg("loaded keyring")
	return k, nil
}

// Generate creates and persists a new account.
func (k *Keyring) Generate(name string) (Account, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, acc := range k.accounts {
		if acc.Name == name {
			return Account{}, errors.Errorf("account %s already exists", name)
		}
	}

	key, err := encryption.NewCryptoService().GenerateKeyPair()
	if err != nil {
		return Account{}, errors.Wrap(err, "failed to generate key")
	}
	acc := Account{
		Name:       name,
		Address:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
		PrivateKey: hexutil.Encode(crypto.FromECDSA(key)),
	}
	k.accounts = append(k.accounts, acc)

	if err := k.save(); err != nil {
		k.accounts = k.accounts[:len(k.accounts)-1]
		return Account{}, err
	}
	return acc, nil
}

// Accounts lists all accounts without their keys.
func (k *Keyring) Accounts() []Account {
	k.mu.RLock()
	defer k.mu.RUnlock()

	out := make([]Account, len(k.accounts))
	for i, acc := range k.accounts {
		out[i] = Account{Name: acc.Name, Address: acc.Address}
	}
	return out
}

// Key returns the private key of the account matching nameOrAddress.
func (k *Keyring) Key(nameOrAddress string) (*ecdsa.PrivateKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	for _, acc := range k.accounts {
		if acc.Name == nameOrAddress || strings.EqualFold(acc.Address, nameOrAddress) {
			return parseKey(acc.PrivateKey)
		}
	}
	return nil, errors.Wrap(ErrUnknownAccount, nameOrAddress)
}

func (k *Keyring) save() error {
	data, err := json.MarshalIndent(struct {
		Accounts []Account `json:"accounts"`
	}{k.accounts}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal keyring")
	}

	tempPath := k.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return errors.Wrap(err, "failed to write keyring")
	}
	if err := os.Rename(tempPath, k.path); err != nil {
		os.Remove(tempPath)
		return errors.Wrap(err, "failed to save keyring")
	}
	return nil
}

func parseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	return crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
}
