package ledger

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

var blobsBucket = []byte("blobs")

// BoltStore keeps blobs in an embedded bbolt database. Each SetBlob is a
// single bolt transaction, so a blob is always replaced as a whole.
type BoltStore struct {
	db     *bolt.DB
	logger zerolog.Logger
}

var _ BlobStore = (*BoltStore)(nil)

// OpenBoltStore opens or creates the database at path.
func OpenBoltStore(path string, logger zerolog.Logger) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create ledger directory")
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		if err == bolt.ErrTimeout {
			logger.Error().Str("path", path).Msg("ledger database is in use by another process")
		}
		return nil, errors.Wrap(err, "failed to open ledger database")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(blobsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create blobs bucket")
	}

	return &BoltStore{db: db, logger: logger}, nil
}

func (s *BoltStore) GetBlob(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		// bolt values are only valid inside the transaction
		data = append([]byte{}, tx.Bucket(blobsBucket).Get([]byte(key))...)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", key)
	}
	return data, nil
}

func (s *BoltStore) SetBlob(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return NewWriteError(key, err)
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(blobsBucket).Put([]byte(key), data)
	})
	if err != nil {
		return NewWriteError(key, err)
	}
	s.logger.Debug().Str("key", key).Int("bytes", len(data)).Msg("stored blob")
	return nil
}

func (s *BoltStore) IsAvailable(context.Context) bool {
	err := s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(blobsBucket) == nil {
			return errors.New("blobs bucket missing")
		}
		return nil
	})
	return err == nil
}

// Close releases the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
