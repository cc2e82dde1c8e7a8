package encryption_test

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polling-backend/encryption"
)

func TestSignTextRecoversSigner(t *testing.T) {
	cs := encryption.NewCryptoService()
	key, err := cs.GenerateKeyPair()
	require.NoError(t, err)

	sig, err := cs.SignText("hello", key)
	require.NoError(t, err)
	assert.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	addr, err := cs.RecoverTextSigner("hello", sig)
	require.NoError(t, err)
	assert.Equal(t, cs.AddressOf(key), addr)

	other, err := cs.RecoverTextSigner("goodbye", sig)
	require.NoError(t, err)
	assert.NotEqual(t, cs.AddressOf(key), other)

	_, err = cs.RecoverTextSigner("hello", sig[:10])
	assert.Error(t, err)
}

func TestGenerateSessionKey(t *testing.T) {
	cs := encryption.NewCryptoService()
	k1, err := cs.GenerateSessionKey(32)
	require.NoError(t, err)
	k2, err := cs.GenerateSessionKey(32)
	require.NoError(t, err)

	assert.Len(t, k1, 2+64)
	assert.Equal(t, "0x", k1[:2])
	assert.NotEqual(t, k1, k2)
}

func TestKeccak256(t *testing.T) {
	cs := encryption.NewCryptoService()
	// keccak256("") is a well known constant
	assert.Equal(t,
		"c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470",
		hex.EncodeToString(cs.Keccak256()))
	assert.Equal(t, cs.Keccak256([]byte("ab")), cs.Keccak256([]byte("a"), []byte("b")))
}
