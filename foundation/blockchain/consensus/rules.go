package consensus

import (
	"fmt"

	"github.com/ardanlabs/consensus/foundation/blockchain/database"
	"github.com/ardanlabs/consensus/foundation/blockchain/genesis"
	"github.com/ardanlabs/consensus/foundation/blockchain/peer"
)

// Rules is the read-only view of the consensus parameters needed to verify
// a block proposed on top of a given head.
//
// MaxRound is the latest proof of stake round the verifier accepts. Rounds
// count from the moment the verifier saw the head, so a proposer can't
// claim a round no honest node has reached yet. Zero leaves the round
// unchecked, which is only right for blocks already finalized by a quorum.
type Rules struct {
	Algorithm  string
	ChainID    uint16
	Difficulty uint16
	Validators *peer.ValidatorSet
	MaxRound   uint64
}

// VerifyProof checks the algorithm specific proof carried by the block.
func (r Rules) VerifyProof(block database.Block, parent database.Block) error {
	switch r.Algorithm {
	case genesis.AlgorithmPOW:
		return verifyPOW(block, r.Difficulty)

	case genesis.AlgorithmPOS:
		if r.Validators == nil {
			return fmt.Errorf("no validator set to verify the proposer")
		}
		if r.MaxRound > 0 && block.Header.Proof.Round > r.MaxRound {
			return fmt.Errorf("%w: round %d, latest accepted %d", ErrFutureRound, block.Header.Proof.Round, r.MaxRound)
		}
		return verifyPOS(block, parent, r.Validators)
	}

	return fmt.Errorf("unknown consensus algorithm %q", r.Algorithm)
}
