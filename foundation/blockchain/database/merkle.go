package database

import (
	"crypto/sha256"

	"github.com/ardanlabs/consensus/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// TransRoot calculates the merkle root of the signed transactions in order.
// Leaves are the hash of each signed transaction and an odd node at any
// level is paired with itself.
func TransRoot(trans []SignedTx) string {
	if len(trans) == 0 {
		return signature.ZeroHash
	}

	level := make([][]byte, len(trans))
	for i, tx := range trans {
		level[i] = leafHash(tx)
	}

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}

		next := make([][]byte, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			h := sha256.New()
			h.Write(level[i])
			h.Write(level[i+1])
			next = append(next, h.Sum(nil))
		}
		level = next
	}

	return hexutil.Encode(level[0])
}

func leafHash(tx SignedTx) []byte {
	b, err := signature.HashBytes(signature.Hash(tx))
	if err != nil {
		sum := sha256.Sum256([]byte(tx.ID()))
		return sum[:]
	}
	return b
}
