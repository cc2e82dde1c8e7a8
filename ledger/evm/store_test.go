package evm_test

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polling-backend/ledger"
	"polling-backend/ledger/evm"
	"polling-backend/wallet"
)

// fakeChain executes the data store contract in memory.
type fakeChain struct {
	abi      abi.ABI
	contract common.Address
	chainID  *big.Int

	mu        sync.Mutex
	data      map[string][]byte
	receipts  map[common.Hash]*types.Receipt
	senders   []common.Address
	revert    bool
	available bool
}

func newFakeChain(t *testing.T, contract common.Address) *fakeChain {
	parsed, err := abi.JSON(strings.NewReader(evm.DataStoreABI))
	require.NoError(t, err)
	return &fakeChain{
		abi:       parsed,
		contract:  contract,
		chainID:   big.NewInt(31337),
		data:      make(map[string][]byte),
		receipts:  make(map[common.Hash]*types.Receipt),
		available: true,
	}
}

func (f *fakeChain) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeChain) PendingCodeAt(context.Context, common.Address) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeChain) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	method, err := f.abi.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	switch method.Name {
	case "getData":
		value := f.data[args[0].(string)]
		if value == nil {
			value = []byte{}
		}
		return method.Outputs.Pack(value)
	case "isAvailable":
		return method.Outputs.Pack(f.available)
	default:
		return nil, errors.Errorf("%s is not a view", method.Name)
	}
}

func (f *fakeChain) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(1)}, nil
}

func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.senders)), nil
}

func (f *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (f *fakeChain) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (f *fakeChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	sender, err := types.Sender(types.LatestSignerForChainID(f.chainID), tx)
	if err != nil {
		return err
	}
	if tx.To() == nil || *tx.To() != f.contract {
		return errors.New("unexpected recipient")
	}

	method, err := f.abi.MethodById(tx.Data()[:4])
	if err != nil {
		return err
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	status := types.ReceiptStatusSuccessful
	if f.revert {
		status = types.ReceiptStatusFailed
	} else {
		f.data[args[0].(string)] = args[1].([]byte)
	}
	f.senders = append(f.senders, sender)
	f.receipts[tx.Hash()] = &types.Receipt{Status: status, TxHash: tx.Hash(), BlockNumber: big.NewInt(int64(len(f.senders)))}
	return nil
}

func (f *fakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	receipt, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (f *fakeChain) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (f *fakeChain) SubscribeFilterLogs(context.Context, ethereum.FilterQuery, chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errors.New("not supported")
}

func setup(t *testing.T, approve wallet.ApproveFunc) (*evm.Store, *fakeChain, common.Address) {
	contract := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	chain := newFakeChain(t, contract)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	store, err := evm.New(chain, contract, chain.chainID, wallet.NewKeySigner(key, approve), zerolog.Nop())
	require.NoError(t, err)
	return store, chain, crypto.PubkeyToAddress(key.PublicKey)
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, chain, sender := setup(t, nil)

	data, err := store.GetBlob(ctx, "topics")
	require.NoError(t, err)
	assert.Empty(t, data)

	require.NoError(t, store.SetBlob(ctx, "topics", []byte(`[{"id":1}]`)))

	data, err = store.GetBlob(ctx, "topics")
	require.NoError(t, err)
	assert.Equal(t, `[{"id":1}]`, string(data))
	assert.Equal(t, []common.Address{sender}, chain.senders)
	assert.Equal(t, 0, chain.chainID.Cmp(store.ChainID()))
	assert.True(t, store.IsAvailable(ctx))

	chain.available = false
	assert.False(t, store.IsAvailable(ctx))
}

func TestStoreUserRejection(t *testing.T) {
	store, chain, _ := setup(t, wallet.NeverApprove)

	err := store.SetBlob(context.Background(), "topics", []byte(`[]`))
	require.Error(t, err)
	assert.True(t, ledger.IsUserRejected(err))
	assert.Empty(t, chain.senders)
}

func TestStoreRevertedTransaction(t *testing.T) {
	store, chain, _ := setup(t, nil)
	chain.revert = true

	err := store.SetBlob(context.Background(), "topics", []byte(`[]`))
	require.Error(t, err)
	assert.False(t, ledger.IsUserRejected(err))

	var we *ledger.WriteError
	require.True(t, errors.As(err, &we))
	assert.Equal(t, ledger.KindGeneric, we.Kind)
}

func TestReadOnlyStore(t *testing.T) {
	contract := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	chain := newFakeChain(t, contract)
	store, err := evm.New(chain, contract, chain.chainID, nil, zerolog.Nop())
	require.NoError(t, err)

	err = store.SetBlob(context.Background(), "topics", []byte(`[]`))
	assert.True(t, errors.Is(err, wallet.ErrNotConnected))
}
