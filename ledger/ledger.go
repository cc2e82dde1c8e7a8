// Package ledger defines the blob store contract the polling core persists
// through, together with its adapters.
package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"polling-backend/wallet"
)

// BlobStore is a named byte-blob store behind a ledger.
type BlobStore interface {
	// GetBlob returns the bytes stored under key, or empty bytes if the key
	// has never been written.
	GetBlob(ctx context.Context, key string) ([]byte, error)
	// SetBlob replaces the bytes stored under key. The call returns once the
	// ledger accepted or rejected the write; failures are *WriteError.
	SetBlob(ctx context.Context, key string, data []byte) error
	// IsAvailable is an advisory liveness probe.
	IsAvailable(ctx context.Context) bool
}

// ErrorKind classifies write failures.
type ErrorKind int

const (
	KindGeneric ErrorKind = iota
	KindUserRejected
)

func (k ErrorKind) String() string {
	switch k {
	case KindUserRejected:
		return "user_rejected"
	default:
		return "generic"
	}
}

// WriteError is returned by SetBlob when the ledger does not accept a write.
type WriteError struct {
	Key  string
	Kind ErrorKind
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %q rejected (%s): %v", e.Key, e.Kind, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// NewWriteError wraps err and classifies it.
func NewWriteError(key string, err error) *WriteError {
	var we *WriteError
	if errors.As(err, &we) {
		return &WriteError{Key: key, Kind: we.Kind, Err: we.Err}
	}
	return &WriteError{Key: key, Kind: classify(err), Err: err}
}

// rejectionPhrases are reported as plain text by remote wallets and nodes.
var rejectionPhrases = []string{
	"user rejected",
	"user denied",
	"rejected by user",
}

func classify(err error) ErrorKind {
	if errors.Is(err, wallet.ErrUserRejected) {
		return KindUserRejected
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range rejectionPhrases {
		if strings.Contains(msg, phrase) {
			return KindUserRejected
		}
	}
	return KindGeneric
}

// IsUserRejected reports whether err is a write the wallet holder refused.
func IsUserRejected(err error) bool {
	var we *WriteError
	if errors.As(err, &we) {
		return we.Kind == KindUserRejected
	}
	return errors.Is(err, wallet.ErrUserRejected)
}
