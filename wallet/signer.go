package wallet

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"polling-backend/encryption"
)

var (
	// ErrUserRejected is returned when the wallet holder refuses a signature
	// or transaction request.
	ErrUserRejected = errors.New("user rejected transaction")
	// ErrNotConnected is returned when no account is connected.
	ErrNotConnected = errors.New("wallet not connected")
)

// Signer is the wallet surface the polling core consumes.
type Signer interface {
	CurrentAddress() (common.Address, bool)
	IsConnected() bool
	SignMessage(ctx context.Context, text string) ([]byte, error)
}

// RequestKind distinguishes what the holder is asked to approve.
type RequestKind string

const (
	RequestMessage     RequestKind = "message"
	RequestTransaction RequestKind = "transaction"
)

// Request describes a pending approval.
type Request struct {
	Kind    RequestKind
	Account common.Address
	Summary string
}

// ApproveFunc decides whether the holder consents to a request. It may block
// until the holder answers.
type ApproveFunc func(ctx context.Context, req Request) bool

// AlwaysApprove grants every request.
func AlwaysApprove(context.Context, Request) bool { return true }

// NeverApprove refuses every request.
func NeverApprove(context.Context, Request) bool { return false }

// PromptApprover asks on out and reads a y/n answer from in. Concurrent
// requests are prompted one at a time.
func PromptApprover(in io.Reader, out io.Writer) ApproveFunc {
	reader := bufio.NewReader(in)
	var mu sync.Mutex
	return func(ctx context.Context, req Request) bool {
		mu.Lock()
		defer mu.Unlock()

		fmt.Fprintf(out, "%s signature requested for %s:\n%s\nApprove? [y/N]: ", req.Kind, req.Account.Hex(), req.Summary)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return false
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes"
	}
}

// KeySigner signs with a local private key after asking its approver.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	crypto  *encryption.CryptoService
	approve ApproveFunc
}

var _ Signer = (*KeySigner)(nil)

// NewKeySigner returns a signer for key. A nil approve grants every request.
func NewKeySigner(key *ecdsa.PrivateKey, approve ApproveFunc) *KeySigner {
	if approve == nil {
		approve = AlwaysApprove
	}
	cs := encryption.NewCryptoService()
	return &KeySigner{
		key:     key,
		address: cs.AddressOf(key),
		crypto:  cs,
		approve: approve,
	}
}

func (s *KeySigner) CurrentAddress() (common.Address, bool) {
	return s.address, true
}

func (s *KeySigner) IsConnected() bool {
	return true
}

// SignMessage produces a personal_sign signature over text.
func (s *KeySigner) SignMessage(ctx context.Context, text string) ([]byte, error) {
	if !s.approve(ctx, Request{Kind: RequestMessage, Account: s.address, Summary: text}) {
		return nil, ErrUserRejected
	}
	return s.crypto.SignText(text, s.key)
}

// TransactOpts returns transaction options whose signer asks the approver
// before signing each transaction.
func (s *KeySigner) TransactOpts(ctx context.Context, chainID *big.Int) *bind.TransactOpts {
	txSigner := types.LatestSignerForChainID(chainID)
	return &bind.TransactOpts{
		From:    s.address,
		Context: ctx,
		Signer: func(addr common.Address, tx *types.Transaction) (*types.Transaction, error) {
			if addr != s.address {
				return nil, bind.ErrNotAuthorized
			}
			summary := fmt.Sprintf("to: %s\nnonce: %d\ndata: %d bytes", addressOrCreate(tx.To()), tx.Nonce(), len(tx.Data()))
			if !s.approve(ctx, Request{Kind: RequestTransaction, Account: s.address, Summary: summary}) {
				return nil, ErrUserRejected
			}
			return types.SignTx(tx, txSigner, s.key)
		},
	}
}

func addressOrCreate(to *common.Address) string {
	if to == nil {
		return "contract creation"
	}
	return to.Hex()
}
