// Package evm adapts a data-store contract on an EVM chain to the ledger
// BlobStore contract. The contract exposes getData(string), setData(string,
// bytes) and isAvailable().
package evm

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"polling-backend/ledger"
	"polling-backend/wallet"
)

// DataStoreABI is the ABI of the blob store contract.
const DataStoreABI = `[
	{"type":"function","name":"getData","stateMutability":"view",
	 "inputs":[{"name":"key","type":"string"}],"outputs":[{"name":"","type":"bytes"}]},
	{"type":"function","name":"setData","stateMutability":"nonpayable",
	 "inputs":[{"name":"key","type":"string"},{"name":"data","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"isAvailable","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"bool"}]}
]`

// Backend is the chain access the store needs; *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Transactor supplies signing options for contract writes.
type Transactor interface {
	TransactOpts(ctx context.Context, chainID *big.Int) *bind.TransactOpts
}

// Store is a BlobStore backed by the data-store contract.
type Store struct {
	backend    Backend
	contract   *bind.BoundContract
	address    common.Address
	chainID    *big.Int
	transactor Transactor
	logger     zerolog.Logger
}

var _ ledger.BlobStore = (*Store)(nil)

// Dial connects to rpcURL and binds the contract at address. A nil transactor
// gives a read-only store.
func Dial(ctx context.Context, rpcURL string, address common.Address, transactor Transactor, logger zerolog.Logger) (*Store, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", rpcURL)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, "failed to fetch chain id")
	}

	return New(client, address, chainID, transactor, logger)
}

// New binds the contract at address on backend.
func New(backend Backend, address common.Address, chainID *big.Int, transactor Transactor, logger zerolog.Logger) (*Store, error) {
	parsed, err := abi.JSON(strings.NewReader(DataStoreABI))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse data store ABI")
	}

	return &Store{
		backend:    backend,
		contract:   bind.NewBoundContract(address, parsed, backend, backend, backend),
		address:    address,
		chainID:    chainID,
		transactor: transactor,
		logger:     logger.With().Str("contract", address.Hex()).Logger(),
	}, nil
}

// Address returns the bound contract address.
func (s *Store) Address() common.Address {
	return s.address
}

// ChainID returns the chain the contract lives on.
func (s *Store) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

func (s *Store) GetBlob(ctx context.Context, key string) ([]byte, error) {
	var out []interface{}
	if err := s.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getData", key); err != nil {
		return nil, errors.Wrapf(err, "getData(%s)", key)
	}
	if len(out) != 1 {
		return nil, errors.Errorf("getData(%s): unexpected output length %d", key, len(out))
	}

	data, ok := out[0].([]byte)
	if !ok {
		return nil, errors.Errorf("getData(%s): unexpected output type %T", key, out[0])
	}
	return data, nil
}

// SetBlob sends a setData transaction and waits until it is mined.
func (s *Store) SetBlob(ctx context.Context, key string, data []byte) error {
	if s.transactor == nil {
		return ledger.NewWriteError(key, wallet.ErrNotConnected)
	}

	tx, err := s.contract.Transact(s.transactor.TransactOpts(ctx, s.chainID), "setData", key, data)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("setData transaction not sent")
		return ledger.NewWriteError(key, err)
	}
	s.logger.Debug().Str("key", key).Str("tx", tx.Hash().Hex()).Msg("setData transaction sent")

	receipt, err := bind.WaitMined(ctx, s.backend, tx)
	if err != nil {
		return ledger.NewWriteError(key, errors.Wrapf(err, "waiting for %s", tx.Hash().Hex()))
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return ledger.NewWriteError(key, errors.Errorf("transaction %s reverted", tx.Hash().Hex()))
	}

	s.logger.Info().
		Str("key", key).
		Str("tx", tx.Hash().Hex()).
		Uint64("block", receipt.BlockNumber.Uint64()).
		Msg("setData confirmed")
	return nil
}

func (s *Store) IsAvailable(ctx context.Context) bool {
	var out []interface{}
	if err := s.contract.Call(&bind.CallOpts{Context: ctx}, &out, "isAvailable"); err != nil {
		s.logger.Debug().Err(err).Msg("isAvailable call failed")
		return false
	}
	if len(out) != 1 {
		return false
	}
	available, ok := out[0].(bool)
	return ok && available
}

// Close releases the backend connection when it owns one.
func (s *Store) Close() {
	if closer, ok := s.backend.(interface{ Close() }); ok {
		closer.Close()
	}
}
