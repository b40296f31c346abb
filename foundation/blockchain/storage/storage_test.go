package storage_test

import (
	"testing"

	"github.com/ardanlabs/consensus/foundation/blockchain/database"
	"github.com/ardanlabs/consensus/foundation/blockchain/storage"
	"github.com/stretchr/testify/require"
)

func Test_Open(t *testing.T) {
	for _, engine := range []string{storage.EngineMemory, storage.EngineDisk, storage.EngineLevelDB, storage.EngineBadger} {
		t.Run(engine, func(t *testing.T) {
			s, err := storage.Open(engine, t.TempDir())
			require.NoError(t, err)

			block := database.NewBlock("0xF01813E4B85e178A83e29B8E7bF26BD830a25f32", database.Block{}, nil)
			require.NoError(t, s.Write(database.NewBlockData(block)))

			bd, err := s.GetBlock(1)
			require.NoError(t, err)
			require.Equal(t, block.Hash(), bd.Hash)

			require.NoError(t, s.Close())
		})
	}

	_, err := storage.Open("tape", t.TempDir())
	require.Error(t, err)
}
