package models

import "github.com/pkg/errors"

// Failure classes shared by the repository and the service layer. Callers
// match them with errors.Is; the wrapped message carries the detail.
var (
	// ErrValidation marks missing or empty required input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a reference to an entity that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnauthenticated marks an operation attempted without a connected identity.
	ErrUnauthenticated = errors.New("no connected identity")
	// ErrCancelled marks a signature request the wallet holder refused.
	ErrCancelled = errors.New("signature request cancelled")
)
