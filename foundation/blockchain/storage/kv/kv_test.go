package kv_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/ardanlabs/consensus/foundation/blockchain/database"
	"github.com/ardanlabs/consensus/foundation/blockchain/storage/kv"
	"github.com/stretchr/testify/require"
)

func Test_Engines(t *testing.T) {
	tt := []struct {
		name string
		open func(path string) (*kv.KV, error)
	}{
		{name: "leveldb", open: kv.NewLevelDB},
		{name: "badger", open: kv.NewBadger},
	}

	for _, tst := range tt {
		t.Run(tst.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tst.name)

			store, err := tst.open(path)
			require.NoError(t, err)

			blocks := chain(3)
			for _, blockData := range blocks {
				require.NoError(t, store.Write(blockData))
			}

			got, err := store.GetBlock(2)
			require.NoError(t, err)
			require.Equal(t, blocks[1].Hash, got.Hash)
			require.Equal(t, blocks[1].Header, got.Header)

			_, err = store.GetBlock(4)
			require.True(t, errors.Is(err, kv.ErrNotFound))

			require.NoError(t, store.Close())

			// Reopen and walk the chain to prove the writes were durable.
			store, err = tst.open(path)
			require.NoError(t, err)
			defer store.Close()

			var walked []uint64
			iter := store.ForEach()
			for blockData, err := iter.Next(); !iter.Done(); blockData, err = iter.Next() {
				require.NoError(t, err)
				walked = append(walked, blockData.Header.Number)
			}
			require.Equal(t, []uint64{1, 2, 3}, walked)
		})
	}
}

func chain(n int) []database.BlockData {
	var blocks []database.BlockData

	var parent database.Block
	for i := 0; i < n; i++ {
		block := database.Block{
			Header: database.BlockHeader{
				Number:        parent.Header.Number + 1,
				PrevBlockHash: parent.Hash(),
				TimeStamp:     uint64(1000 + i),
				ProposerID:    "0xFef311483Cc040e1A89fb9bb469eeB8A70935EF8",
				TransRoot:     database.TransRoot(nil),
				Proof:         database.Proof{Difficulty: 1, Nonce: uint64(i)},
			},
		}
		blocks = append(blocks, database.NewBlockData(block))
		parent = block
	}

	return blocks
}
