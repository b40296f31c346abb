package kv

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// NewLevelDB constructs a KV backed by a leveldb database at the path.
func NewLevelDB(dbPath string) (*KV, error) {
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		return nil, err
	}

	kv, err := newKV(levelEngine{db: db})
	if err != nil {
		db.Close()
		return nil, err
	}

	return kv, nil
}

type levelEngine struct {
	db *leveldb.DB
}

func (le levelEngine) put(key []byte, value []byte) error {
	return le.db.Put(key, value, &opt.WriteOptions{Sync: true})
}

func (le levelEngine) get(key []byte) ([]byte, error) {
	value, err := le.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (le levelEngine) close() error {
	return le.db.Close()
}
