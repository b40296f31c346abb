// Package kv implements the ability to read and write blocks to an embedded
// key value store. Blocks are encoded as json and compressed with zstd before
// they are written under a key derived from the block number.
package kv

import (
	"errors"
	"fmt"

	"github.com/ardanlabs/consensus/foundation/blockchain/database"
	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/zstd"
)

// ErrNotFound is returned when the requested block is not stored.
var ErrNotFound = errors.New("block does not exist")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// engine is the small set of behavior needed from the underlying store.
type engine interface {
	put(key []byte, value []byte) error
	get(key []byte) ([]byte, error)
	close() error
}

// KV represents the serialization implementation for reading and storing
// blocks in a key value store. This implements the database.Storage
// interface.
type KV struct {
	engine  engine
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newKV(e engine) (*KV, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}

	kv := KV{
		engine:  e,
		encoder: encoder,
		decoder: decoder,
	}

	return &kv, nil
}

// Close releases the underlying store.
func (kv *KV) Close() error {
	kv.decoder.Close()
	if err := kv.encoder.Close(); err != nil {
		return err
	}

	return kv.engine.close()
}

// Write takes the specified database block and stores it under the key for
// its number.
func (kv *KV) Write(blockData database.BlockData) error {
	data, err := json.Marshal(blockData)
	if err != nil {
		return err
	}

	value := kv.encoder.EncodeAll(data, nil)

	if err := kv.engine.put(blockKey(blockData.Header.Number), value); err != nil {
		return fmt.Errorf("write block %d: %w", blockData.Header.Number, err)
	}

	return nil
}

// GetBlock locates and returns the contents of the specified block by number.
func (kv *KV) GetBlock(num uint64) (database.BlockData, error) {
	value, err := kv.engine.get(blockKey(num))
	if err != nil {
		return database.BlockData{}, err
	}

	data, err := kv.decoder.DecodeAll(value, nil)
	if err != nil {
		return database.BlockData{}, fmt.Errorf("decompress block %d: %w", num, err)
	}

	var blockData database.BlockData
	if err := json.Unmarshal(data, &blockData); err != nil {
		return database.BlockData{}, fmt.Errorf("decode block %d: %w", num, err)
	}

	return blockData, nil
}

// ForEach returns an iterator to walk through all the blocks
// starting with block number 1.
func (kv *KV) ForEach() database.Iterator {
	return &kvIterator{kv: kv}
}

// blockKey forms the key for the specified block. The number is zero padded
// so keys sort in chain order.
func blockKey(num uint64) []byte {
	return fmt.Appendf(nil, "block/%020d", num)
}

// =============================================================================

// kvIterator represents the iteration implementation for walking through
// and reading blocks from the store. This implements the database Iterator
// interface.
type kvIterator struct {
	kv      *KV    // Access to the kv storage API.
	current uint64 // Current block number being iterated over.
	eoc     bool   // Represents the iterator is at the end of the chain.
}

// Next retrieves the next block from the store.
func (ki *kvIterator) Next() (database.BlockData, error) {
	if ki.eoc {
		return database.BlockData{}, errors.New("end of chain")
	}

	ki.current++
	blockData, err := ki.kv.GetBlock(ki.current)
	if errors.Is(err, ErrNotFound) {
		ki.eoc = true
	}

	return blockData, err
}

// Done returns the end of chain value.
func (ki *kvIterator) Done() bool {
	return ki.eoc
}
