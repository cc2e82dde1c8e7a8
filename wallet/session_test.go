package wallet_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polling-backend/wallet"
)

func TestSessionConnectDisconnect(t *testing.T) {
	session := wallet.NewSession(nil)
	assert.False(t, session.IsConnected())
	_, ok := session.CurrentAddress()
	assert.False(t, ok)

	_, err := session.SignMessage(context.Background(), "x")
	assert.True(t, errors.Is(err, wallet.ErrNotConnected))

	signer, addr := newKeySigner(t, nil)
	session.Connect(signer)
	assert.True(t, session.IsConnected())
	got, ok := session.CurrentAddress()
	assert.True(t, ok)
	assert.Equal(t, addr, got)

	sig, err := session.SignMessage(context.Background(), "x")
	require.NoError(t, err)
	assert.Len(t, sig, 65)

	session.Disconnect()
	assert.False(t, session.IsConnected())
}

func TestZeroSessionIsDisconnected(t *testing.T) {
	var session wallet.Session
	assert.False(t, session.IsConnected())
}
