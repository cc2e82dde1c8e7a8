package wallet_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polling-backend/wallet"
)

func TestKeyringCreatesDefaultAccount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "keyring.json")

	ring, err := wallet.LoadOrCreateKeyring(path, zerolog.Nop())
	require.NoError(t, err)

	accounts := ring.Accounts()
	require.Len(t, accounts, 1)
	assert.Equal(t, wallet.DefaultAccount, accounts[0].Name)
	assert.Empty(t, accounts[0].PrivateKey)

	key, err := ring.Key(wallet.DefaultAccount)
	require.NoError(t, err)
	assert.Equal(t, accounts[0].Address, crypto.PubkeyToAddress(key.PublicKey).Hex())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestKeyringPersistsAccounts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyring.json")

	ring, err := wallet.LoadOrCreateKeyring(path, zerolog.Nop())
	require.NoError(t, err)
	voter, err := ring.Generate("voter")
	require.NoError(t, err)

	_, err = ring.Generate("voter")
	assert.Error(t, err)

	reloaded, err := wallet.LoadOrCreateKeyring(path, zerolog.Nop())
	require.NoError(t, err)
	assert.Len(t, reloaded.Accounts(), 2)

	byAddress, err := reloaded.Key(voter.Address)
	require.NoError(t, err)
	byName, err := reloaded.Key("voter")
	require.NoError(t, err)
	assert.Equal(t, byName.D, byAddress.D)

	_, err = reloaded.Key("nobody")
	assert.True(t, errors.Is(err, wallet.ErrUnknownAccount))
}

func TestKeyringRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyring.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := wallet.LoadOrCreateKeyring(path, zerolog.Nop())
	assert.Error(t, err)
}
