package private

import (
	"github.com/ardanlabs/consensus/business/sys/validate"
	"github.com/ardanlabs/consensus/foundation/blockchain/voting"
)

// newVote is a vote delivered by another validator.
type newVote struct {
	voting.Vote
}

// Validate checks the vote is well formed before it is queued.
func (nv newVote) Validate() error {
	return validate.Check(nv.Vote)
}
