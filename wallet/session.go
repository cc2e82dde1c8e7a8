package wallet

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Session tracks the currently connected signer. The zero value is a
// disconnected session.
type Session struct {
	mu     sync.RWMutex
	signer Signer
}

var _ Signer = (*Session)(nil)

// NewSession returns a session connected to signer, or a disconnected one if
// signer is nil.
func NewSession(signer Signer) *Session {
	return &Session{signer: signer}
}

// Connect replaces the connected signer.
func (s *Session) Connect(signer Signer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signer = signer
}

// Disconnect drops the connected signer.
func (s *Session) Disconnect() {
	s.Connect(nil)
}

func (s *Session) current() Signer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.signer
}

func (s *Session) CurrentAddress() (common.Address, bool) {
	signer := s.current()
	if signer == nil {
		return common.Address{}, false
	}
	return signer.CurrentAddress()
}

func (s *Session) IsConnected() bool {
	signer := s.current()
	return signer != nil && signer.IsConnected()
}

func (s *Session) SignMessage(ctx context.Context, text string) ([]byte, error) {
	signer := s.current()
	if signer == nil || !signer.IsConnected() {
		return nil, ErrNotConnected
	}
	return signer.SignMessage(ctx, text)
}
