package chain

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"polling-backend/encryption"
)

var hasher = encryption.NewCryptoService()

// MaxDifficulty bounds the leading zero bytes a block hash must carry.
const MaxDifficulty = 4

// Block records one blob write. The latest block for a key holds its value.
type Block struct {
	Index      uint64 `json:"index"`
	Timestamp  int64  `json:"timestamp"`
	Key        string `json:"key"`
	Data       []byte `json:"data"`
	Signer     string `json:"signer"`
	Signature  []byte `json:"signature"`
	PrevHash   []byte `json:"prev_hash"`
	Hash       []byte `json:"hash"`
	Nonce      uint64 `json:"nonce"`
	Difficulty uint8  `json:"difficulty"` // Number of leading zero bytes required
}

// Digest commits to the block payload. It is what the writer signs.
func (b *Block) Digest() []byte {
	buffer := new(bytes.Buffer)
	binary.Write(buffer, binary.BigEndian, b.Index)
	binary.Write(buffer, binary.BigEndian, b.Timestamp)
	buffer.WriteString(b.Key)
	buffer.Write(b.Data)
	buffer.Write(b.PrevHash)
	return hasher.Keccak256(buffer.Bytes())
}

// ConsentMessage is the text the writer is asked to sign.
func (b *Block) ConsentMessage() string {
	return fmt.Sprintf("ledger write\nkey:%s\nindex:%d\ndigest:0x%x", b.Key, b.Index, b.Digest())
}

func (b *Block) calculateHash() []byte {
	buffer := new(bytes.Buffer)
	buffer.Write(b.Digest())
	buffer.WriteString(b.Signer)
	buffer.Write(b.Signature)
	binary.Write(buffer, binary.BigEndian, b.Nonce)
	return hasher.Keccak256(buffer.Bytes())
}

// Mine searches for a nonce satisfying the block difficulty.
func (b *Block) Mine() {
	target := make([]byte, b.Difficulty)
	var nonce uint64
	for {
		b.Nonce = nonce
		b.Hash = b.calculateHash()
		if bytes.HasPrefix(b.Hash, target) {
			return
		}
		nonce++
	}
}

// Validate checks the hash, the difficulty and the writer signature.
func (b *Block) Validate() error {
	calculated := b.calculateHash()
	if !bytes.Equal(calculated, b.Hash) {
		return errors.Errorf("block %d: hash mismatch", b.Index)
	}
	if !bytes.HasPrefix(calculated, make([]byte, b.Difficulty)) {
		return errors.Errorf("block %d: difficulty not met", b.Index)
	}

	signer, err := hasher.RecoverTextSigner(b.ConsentMessage(), b.Signature)
	if err != nil {
		return errors.Wrapf(err, "block %d", b.Index)
	}
	if signer.Hex() != b.Signer {
		return errors.Errorf("block %d: signed by %s, recorded as %s", b.Index, signer.Hex(), b.Signer)
	}
	return nil
}

// ValidateChain validates every block and the links between them.
func ValidateChain(blocks []*Block) error {
	for i, current := range blocks {
		if err := current.Validate(); err != nil {
			return err
		}
		if current.Index != uint64(i) {
			return errors.Errorf("block %d has invalid index %d", i, current.Index)
		}
		if i == 0 {
			if len(current.PrevHash) != 0 {
				return errors.New("genesis block links to a previous block")
			}
			continue
		}

		previous := blocks[i-1]
		if !bytes.Equal(current.PrevHash, previous.Hash) {
			return errors.Errorf("block %d has invalid previous hash link", i)
		}
		if current.Timestamp < previous.Timestamp {
			return errors.Errorf("block %d has invalid timestamp", i)
		}
	}
	return nil
}
