package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polling-backend/encryption"
	"polling-backend/models"
	"polling-backend/service"
	"polling-backend/wallet"
)

func testSession() *service.DecryptionSession {
	return service.NewDecryptionSession("0xabc123", "0x5FbDB2315678afecb367f032d93F642f64180aa3", 11155111, time.Unix(1_700_000_000, 0), 30)
}

func TestBuildChallenge(t *testing.T) {
	got := service.BuildChallenge(service.ChallengeParams{
		PublicKey:       "0xabc123",
		ContractAddress: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		ChainID:         11155111,
		StartTimestamp:  1700000000,
		DurationDays:    30,
	})

	want := "publickey:0xabc123\n" +
		"contractAddresses:0x5FbDB2315678afecb367f032d93F642f64180aa3\n" +
		"contractsChainId:11155111\n" +
		"startTimestamp:1700000000\n" +
		"durationDays:30"
	assert.Equal(t, want, got)
}

func TestDecryptionSessionWindow(t *testing.T) {
	session := testSession()
	start := time.Unix(1_700_000_000, 0)

	assert.False(t, session.IsActive(start.Add(-time.Second)))
	assert.True(t, session.IsActive(start))
	assert.True(t, session.IsActive(start.AddDate(0, 0, 29)))
	assert.False(t, session.IsActive(start.AddDate(0, 0, 30)))
	assert.Equal(t, start.Unix(), session.Params().StartTimestamp)
}

func TestRequestDecryptionOutsideWindow(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	expired := service.NewDecryptionSession("0xabc123", "0x5FbDB2315678afecb367f032d93F642f64180aa3", 1, time.Unix(0, 0), 1)
	decryptor := service.NewDecryptor(wallet.NewKeySigner(key, nil), encryption.NewMarkerCodec(), expired, 0, zerolog.Nop())

	got, err := decryptor.RequestDecryption(context.Background(), encryption.Encode(9))
	require.NoError(t, err)
	assert.Equal(t, uint64(9), got)
}

// recordingSigner remembers the last message it was asked to sign.
type recordingSigner struct {
	wallet.Signer
	messages []string
}

func (r *recordingSigner) SignMessage(ctx context.Context, text string) ([]byte, error) {
	r.messages = append(r.messages, text)
	return r.Signer.SignMessage(ctx, text)
}

func newDecryptor(signer wallet.Signer) *service.Decryptor {
	return service.NewDecryptor(signer, encryption.NewMarkerCodec(), testSession(), 0, zerolog.Nop())
}

func TestRequestDecryptionUnauthenticated(t *testing.T) {
	decryptor := newDecryptor(wallet.NewSession(nil))

	_, err := decryptor.RequestDecryption(context.Background(), encryption.Encode(3))
	assert.True(t, errors.Is(err, models.ErrUnauthenticated))
}

func TestRequestDecryptionCancelled(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	decryptor := newDecryptor(wallet.NewSession(wallet.NewKeySigner(key, wallet.NeverApprove)))

	_, err = decryptor.RequestDecryption(context.Background(), encryption.Encode(3))
	assert.True(t, errors.Is(err, models.ErrCancelled))
	assert.Equal(t, service.ErrorUserRejected, service.ClassifyError(err))
}

func TestRequestDecryptionReveals(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := &recordingSigner{Signer: wallet.NewKeySigner(key, nil)}
	decryptor := newDecryptor(signer)

	for _, value := range []uint64{0, 1, 42, 1 << 40} {
		got, err := decryptor.RequestDecryption(context.Background(), encryption.Encode(value))
		require.NoError(t, err)
		assert.Equal(t, value, got)
	}

	got, err := decryptor.RequestDecryption(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got)

	_, err = decryptor.RequestDecryption(context.Background(), "not a count")
	assert.True(t, errors.Is(err, encryption.ErrDecode))

	require.NotEmpty(t, signer.messages)
	assert.Equal(t, decryptor.Challenge(), signer.messages[0])
}

func TestRequestDecryptionHonoursContext(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	decryptor := service.NewDecryptor(wallet.NewKeySigner(key, nil), encryption.NewMarkerCodec(), testSession(), time.Hour, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = decryptor.RequestDecryption(ctx, encryption.Encode(1))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
