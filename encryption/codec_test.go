package encryption_test

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polling-backend/encryption"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, n := range []uint64{0, 1, 2, 9, 10, 42, 1000, 123456789, math.MaxUint32, math.MaxUint64} {
		token := encryption.Encode(n)
		assert.True(t, len(token) > len(encryption.Marker))
		assert.Equal(t, encryption.Marker, token[:len(encryption.Marker)])

		decoded, err := encryption.Decode(token)
		require.NoError(t, err)
		assert.Equal(t, n, decoded)
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	assert.Equal(t, encryption.Encode(7), encryption.Encode(7))
	assert.NotEqual(t, encryption.Encode(7), encryption.Encode(8))
	assert.Equal(t, "FHE-MA==", encryption.Encode(0))
	assert.Equal(t, "FHE-MQ==", encryption.Encode(1))
}

func TestDecodeLegacyPlaintext(t *testing.T) {
	v, err := encryption.Decode("5")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), v)

	v, err = encryption.Decode(" 12 ")
	require.NoError(t, err)
	assert.Equal(t, uint64(12), v)

	v, err = encryption.Decode("3.0")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), v)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	tokens := []string{
		"", "abc", "-1", "2.5", "FHE-!!!", "FHE-YWJj", "NaN", "Inf",
		"18446744073709551616",
		"1.8446744073709552e19",
		"FHE-MTg0NDY3NDQwNzM3MDk1NTE2MTY=",
	}
	for _, token := range tokens {
		_, err := encryption.Decode(token)
		assert.Truef(t, errors.Is(err, encryption.ErrDecode), "token %q", token)
	}
}
