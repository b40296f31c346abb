package kv

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
)

// NewBadger constructs a KV backed by a badger database at the path.
func NewBadger(dbPath string) (*KV, error) {
	opts := badger.DefaultOptions(dbPath).
		WithSyncWrites(true).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	kv, err := newKV(badgerEngine{db: db})
	if err != nil {
		db.Close()
		return nil, err
	}

	return kv, nil
}

type badgerEngine struct {
	db *badger.DB
}

func (be badgerEngine) put(key []byte, value []byte) error {
	return be.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (be badgerEngine) get(key []byte) ([]byte, error) {
	var value []byte
	err := be.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}

		value, err = item.ValueCopy(nil)
		return err
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}

	return value, err
}

func (be badgerEngine) close() error {
	return be.db.Close()
}
