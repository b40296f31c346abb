// Package storage selects the engine that holds the committed blocks.
package storage

import (
	"fmt"

	"github.com/ardanlabs/consensus/foundation/blockchain/database"
	"github.com/ardanlabs/consensus/foundation/blockchain/storage/disk"
	"github.com/ardanlabs/consensus/foundation/blockchain/storage/kv"
	"github.com/ardanlabs/consensus/foundation/blockchain/storage/memory"
)

// Set of storage engines that can be selected.
const (
	EngineMemory  = "memory"
	EngineDisk    = "disk"
	EngineLevelDB = "leveldb"
	EngineBadger  = "badger"
)

// Open constructs the named storage engine rooted at the specified path.
// The memory engine ignores the path.
func Open(engine string, dbPath string) (database.Storage, error) {
	switch engine {
	case EngineMemory:
		return memory.New(), nil

	case EngineDisk:
		d, err := disk.New(dbPath)
		if err != nil {
			return nil, err
		}
		return d, nil

	case EngineLevelDB:
		ldb, err := kv.NewLevelDB(dbPath)
		if err != nil {
			return nil, err
		}
		return ldb, nil

	case EngineBadger:
		bdb, err := kv.NewBadger(dbPath)
		if err != nil {
			return nil, err
		}
		return bdb, nil
	}

	return nil, fmt.Errorf("unknown storage engine %q", engine)
}
