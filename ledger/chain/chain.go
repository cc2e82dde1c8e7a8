// Package chain is a local, hash-linked ledger. Every blob write appends a
// signed block; reads return the data of the latest block for a key.
package chain

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"polling-backend/ledger"
	"polling-backend/wallet"
)

// Ledger is a BlobStore persisted as a JSON chain file.
type Ledger struct {
	path       string
	signer     wallet.Signer
	difficulty uint8
	logger     zerolog.Logger
	now        func() time.Time

	// writeMu serializes writers across signing and mining; mu only guards
	// the block slice so reads never wait for a signature.
	writeMu sync.Mutex
	mu      sync.RWMutex
	blocks  []*Block
}

var _ ledger.BlobStore = (*Ledger)(nil)

// Option configures a Ledger.
type Option func(*Ledger)

// WithDifficulty sets the number of leading zero bytes a block hash needs.
func WithDifficulty(difficulty uint8) Option {
	return func(l *Ledger) { l.difficulty = difficulty }
}

// WithClock overrides the block timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Open loads the chain at path, or starts an empty one if the file does not
// exist. Writes are signed by signer.
func Open(path string, signer wallet.Signer, logger zerolog.Logger, opts ...Option) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create ledger directory")
	}

	l := &Ledger{
		path:   path,
		signer: signer,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.difficulty > MaxDifficulty {
		return nil, errors.Errorf("difficulty %d exceeds the maximum of %d", l.difficulty, MaxDifficulty)
	}

	blocks, err := l.loadChainFromFile()
	if err != nil {
		return nil, err
	}
	if err := ValidateChain(blocks); err != nil {
		return nil, errors.Wrapf(err, "chain file %s is invalid", path)
	}
	l.blocks = blocks

	logger.Info().Int("blocks", len(blocks)).Str("path", path).Msg("loaded ledger chain")
	return l, nil
}

func (l *Ledger) GetBlob(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := len(l.blocks) - 1; i >= 0; i-- {
		if l.blocks[i].Key == key {
			return append([]byte{}, l.blocks[i].Data...), nil
		}
	}
	return []byte{}, nil
}

// SetBlob appends a block for key. The connected signer must approve the
// write; a refusal is reported as a user-rejected WriteError.
func (l *Ledger) SetBlob(ctx context.Context, key string, data []byte) error {
	if l.signer == nil || !l.signer.IsConnected() {
		return ledger.NewWriteError(key, wallet.ErrNotConnected)
	}
	address, _ := l.signer.CurrentAddress()

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.RLock()
	tip := l.blocks
	l.mu.RUnlock()

	block := &Block{
		Index:      uint64(len(tip)),
		Timestamp:  l.now().Unix(),
		Key:        key,
		Data:       append([]byte(nil), data...),
		Signer:     address.Hex(),
		Difficulty: l.difficulty,
	}
	if len(tip) > 0 {
		last := tip[len(tip)-1]
		block.PrevHash = last.Hash
		if block.Timestamp < last.Timestamp {
			block.Timestamp = last.Timestamp
		}
	}

	signature, err := l.signer.SignMessage(ctx, block.ConsentMessage())
	if err != nil {
		l.logger.Warn().Err(err).Str("key", key).Msg("ledger write not signed")
		return ledger.NewWriteError(key, err)
	}
	block.Signature = signature
	block.Mine()

	blocks := append(tip[:len(tip):len(tip)], block)
	if err := l.saveChainToFile(blocks); err != nil {
		l.logger.Error().Err(err).Str("key", key).Msg("failed to persist ledger chain")
		return ledger.NewWriteError(key, err)
	}

	l.mu.Lock()
	l.blocks = blocks
	l.mu.Unlock()

	l.logger.Debug().
		Str("key", key).
		Uint64("index", block.Index).
		Hex("hash", block.Hash).
		Msg("appended ledger block")
	return nil
}

// IsAvailable reports whether the in-memory chain is still valid.
func (l *Ledger) IsAvailable(context.Context) bool {
	return l.Validate() == nil
}

// Validate re-checks every block of the chain.
func (l *Ledger) Validate() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return ValidateChain(l.blocks)
}

// Blocks returns a copy of the chain.
func (l *Ledger) Blocks() []*Block {
	l.mu.RLock()
	defer l.mu.RUnlock()

	blocks := make([]*Block, len(l.blocks))
	for i, b := range l.blocks {
		c := *b
		blocks[i] = &c
	}
	return blocks
}

func (l *Ledger) loadChainFromFile() ([]*Block, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make([]*Block, 0), nil
		}
		return nil, errors.Wrap(err, "failed to read chain file")
	}

	var stored struct {
		Blocks []*Block `json:"blocks"`
	}
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal chain")
	}
	if stored.Blocks == nil {
		stored.Blocks = make([]*Block, 0)
	}
	return stored.Blocks, nil
}

func (l *Ledger) saveChainToFile(blocks []*Block) error {
	data, err := json.MarshalIndent(struct {
		Blocks []*Block `json:"blocks"`
	}{blocks}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal chain")
	}

	// Write to temporary file first
	tempPath := l.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write chain file")
	}

	// Atomic rename to ensure consistency
	if err := os.Rename(tempPath, l.path); err != nil {
		os.Remove(tempPath)
		return errors.Wrap(err, "failed to save chain file")
	}
	return nil
}
