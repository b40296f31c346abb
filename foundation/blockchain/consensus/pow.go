package consensus

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ardanlabs/consensus/foundation/blockchain/database"
	"github.com/ardanlabs/consensus/foundation/blockchain/signature"
)

// proposePOW constructs a new block and performs the work to find a nonce
// that solves the cryptographic POW puzzle.
func (s *Strategy) proposePOW(ctx context.Context, args ProposeArgs) (database.Block, error) {
	block := database.NewBlock(s.accountID, args.Head, args.Trans)
	block.Header.Proof.Difficulty = args.Difficulty

	if err := performPOW(ctx, &block, s.evHandler); err != nil {
		return database.Block{}, err
	}

	return block, nil
}

// performPOW does the work of mining to find a valid hash for a specified
// block. Pointer semantics are being used since a nonce is being discovered.
func performPOW(ctx context.Context, b *database.Block, ev EventHandler) error {
	ev("consensus: performPOW: MINING: started: blk[%d]: difficulty[%d]", b.Header.Number, b.Header.Proof.Difficulty)
	defer ev("consensus: performPOW: MINING: completed")

	// Log the transactions that are a part of this potential block.
	for _, tx := range b.Trans {
		ev("consensus: performPOW: MINING: tx[%s]", tx)
	}

	// Choose a random starting point for the nonce. After this, the nonce
	// will be incremented by 1 until a solution is found by us or another node.
	nBig, err := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	if err != nil {
		return err
	}
	b.Header.Proof.Nonce = nBig.Uint64()

	target := Target(b.Header.Proof.Difficulty)
	start := time.Now()

	// Loop until we or another node finds a solution for the next block.
	var attempts uint64
	for {
		attempts++
		if attempts%1_000_000 == 0 {
			ev("consensus: performPOW: MINING: attempts[%d]", attempts)
		}

		// Did we timeout trying to solve the problem.
		if ctx.Err() != nil {
			ev("consensus: performPOW: MINING: CANCELLED")
			return ctx.Err()
		}

		// Hash the block and check if we have solved the puzzle.
		hash := b.Hash()
		if !isHashSolved(target, hash) {
			b.Header.Proof.Nonce++
			continue
		}

		ev("consensus: performPOW: MINING: SOLVED: prevBlk[%s]: newBlk[%s]", b.Header.PrevBlockHash, hash)
		ev("consensus: performPOW: MINING: attempts[%d]: duration[%v]", attempts, time.Since(start))

		return nil
	}
}

// Target returns the value a block hash must be below to satisfy the
// difficulty, 2^(256-difficulty).
func Target(difficulty uint16) *big.Int {
	if difficulty > 256 {
		difficulty = 256
	}
	return new(big.Int).Lsh(big.NewInt(1), uint(256-difficulty))
}

// isHashSolved checks the hash is strictly below the target.
func isHashSolved(target *big.Int, hash string) bool {
	b, err := signature.HashBytes(hash)
	if err != nil {
		return false
	}

	return new(big.Int).SetBytes(b).Cmp(target) < 0
}

// verifyPOW checks the block hash satisfies the difficulty it claims and that
// the claimed difficulty is the one required.
func verifyPOW(block database.Block, difficulty uint16) error {
	if difficulty != 0 && block.Header.Proof.Difficulty != difficulty {
		return fmt.Errorf("wrong difficulty, got %d, exp %d", block.Header.Proof.Difficulty, difficulty)
	}

	if block.Header.Proof.Difficulty == 0 {
		return fmt.Errorf("missing difficulty")
	}

	hash := block.Hash()
	if !isHashSolved(Target(block.Header.Proof.Difficulty), hash) {
		return fmt.Errorf("hash %s does not satisfy difficulty %d", hash, block.Header.Proof.Difficulty)
	}

	return nil
}
