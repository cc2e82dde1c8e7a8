package encryption

import (
	"encoding/base64"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Marker prefixes every token produced by Encode. Values stored without it
// are read as plain numbers.
const Marker = "FHE-"

// ErrDecode is returned for tokens that are neither marker-tagged nor numeric.
var ErrDecode = errors.New("token is neither marker-tagged nor numeric")

// Scheme turns counters into opaque tokens and back. Tokens are never combined
// with each other: aggregates are computed on plaintext counters and the
// result is encoded again.
type Scheme interface {
	Name() string
	Encode(value uint64) string
	Decode(token string) (uint64, error)
}

// MarkerCodec encodes a counter as Marker followed by the base64 form of its
// decimal string.
type MarkerCodec struct{}

var _ Scheme = MarkerCodec{}

// NewMarkerCodec returns the default codec.
func NewMarkerCodec() MarkerCodec {
	return MarkerCodec{}
}

// Name returns the name of the encoding scheme
func (MarkerCodec) Name() string {
	return "marker-base64"
}

// Encode is deterministic: equal values always produce equal tokens.
func (MarkerCodec) Encode(value uint64) string {
	plain := strconv.FormatUint(value, 10)
	return Marker + base64.StdEncoding.EncodeToString([]byte(plain))
}

// Decode accepts marker-tagged tokens as well as legacy untagged numbers.
func (MarkerCodec) Decode(token string) (uint64, error) {
	if !strings.HasPrefix(token, Marker) {
		return parseCount(token)
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(token, Marker))
	if err != nil {
		return 0, errors.Wrapf(ErrDecode, "invalid token payload %q", token)
	}
	return parseCount(string(raw))
}

// parseCount reads a non-negative integer. Integral float forms such as "5.0"
// are accepted since older writers stored counters as JSON numbers.
func parseCount(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseUint(s, 10, 64); err == nil {
		return v, nil
	}

	// float64(math.MaxUint64) rounds up to 2^64, which is already out of range.
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || f != math.Trunc(f) || f >= math.MaxUint64 {
		return 0, errors.Wrapf(ErrDecode, "%q", s)
	}
	return uint64(f), nil
}

var defaultCodec = NewMarkerCodec()

// Encode encodes value with the default codec.
func Encode(value uint64) string {
	return defaultCodec.Encode(value)
}

// Decode decodes token with the default codec.
func Decode(token string) (uint64, error) {
	return defaultCodec.Decode(token)
}
