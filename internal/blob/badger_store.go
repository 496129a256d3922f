package blob

import (
	"encoding/binary"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// objectPrefix namespaces blob object keys the way the teacher's
// key_encoding.go namespaces row/index/table keys.
const objectPrefix = "blob:obj:"

// refcountPrefix namespaces the usage-count cell stored alongside each
// object.
const refcountPrefix = "blob:ref:"

// BadgerStoreConfig configures the durable blob tier.
type BadgerStoreConfig struct {
	DataDir        string `json:"data_dir"`
	InMemory       bool   `json:"in_memory"`
	SyncWrites     bool   `json:"sync_writes"`
	ValueThreshold int64  `json:"value_threshold"`
}

// DefaultBadgerStoreConfig mirrors the teacher's DefaultDataSourceConfig
// knobs, scaled to this store's own value-log threshold.
func DefaultBadgerStoreConfig(dataDir string) *BadgerStoreConfig {
	return &BadgerStoreConfig{
		DataDir:        dataDir,
		InMemory:       false,
		SyncWrites:     false,
		ValueThreshold: InlineThreshold,
	}
}

// BadgerStore is the durable blob tier: objects and their reference counts
// are both badger keys so that a crash never leaves one without the other
// inside a single transaction commit.
type BadgerStore struct {
	db  *badger.DB
	cfg *BadgerStoreConfig
}

// OpenBadgerStore opens (creating if absent) a badger-backed blob store.
func OpenBadgerStore(cfg *BadgerStoreConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.DataDir)
	opts = opts.WithInMemory(cfg.InMemory)
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithValueThreshold(cfg.ValueThreshold)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	return &BadgerStore{db: db, cfg: cfg}, nil
}

// Close releases the underlying badger handles.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func objectKey(h Hash) []byte {
	return append([]byte(objectPrefix), h[:]...)
}

func refcountKey(h Hash) []byte {
	return append([]byte(refcountPrefix), h[:]...)
}

func (s *BadgerStore) Insert(data []byte) (Hash, error) {
	h := HashOf(data)
	err := s.db.Update(func(txn *badger.Txn) error {
		count, err := s.readCount(txn, h)
		if err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		if err == badger.ErrKeyNotFound {
			if err := txn.Set(objectKey(h), data); err != nil {
				return err
			}
			count = 0
		}
		return s.writeCount(txn, h, count+1)
	})
	if err != nil {
		return Hash{}, fmt.Errorf("blob insert: %w", err)
	}
	return h, nil
}

func (s *BadgerStore) Clone(h Hash) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		count, err := s.readCount(txn, h)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return noSuchBlob(h)
			}
			return err
		}
		return s.writeCount(txn, h, count+1)
	})
	if err != nil {
		return fmt.Errorf("blob clone: %w", err)
	}
	return nil
}

func (s *BadgerStore) Retrieve(h Hash) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(objectKey(h))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return noSuchBlob(h)
			}
			return err
		}
		return item.Value(func(val []byte) error {
			out = make([]byte, len(val))
			copy(out, val)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) Free(h Hash) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		count, err := s.readCount(txn, h)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return noSuchBlob(h)
			}
			return err
		}
		count--
		if count <= 0 {
			if err := txn.Delete(objectKey(h)); err != nil {
				return err
			}
			return txn.Delete(refcountKey(h))
		}
		return s.writeCount(txn, h, count)
	})
	if err != nil {
		return fmt.Errorf("blob free: %w", err)
	}
	return nil
}

func (s *BadgerStore) Count(h Hash) int {
	var count int
	_ = s.db.View(func(txn *badger.Txn) error {
		c, err := s.readCount(txn, h)
		if err != nil {
			return nil
		}
		count = c
		return nil
	})
	return count
}

func (s *BadgerStore) readCount(txn *badger.Txn, h Hash) (int, error) {
	item, err := txn.Get(refcountKey(h))
	if err != nil {
		return 0, err
	}
	var count int
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt refcount for %s", h)
		}
		count = int(binary.LittleEndian.Uint64(val))
		return nil
	})
	return count, err
}

func (s *BadgerStore) writeCount(txn *badger.Txn, h Hash, count int) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(count))
	return txn.Set(refcountKey(h), b[:])
}
