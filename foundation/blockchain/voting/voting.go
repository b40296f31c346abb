// Package voting aggregates validator decisions on candidate blocks into a
// finalize or reject outcome. The quorum rule is chosen at construction.
package voting

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"github.com/ardanlabs/consensus/foundation/blockchain/database"
	"github.com/ardanlabs/consensus/foundation/blockchain/genesis"
	"github.com/ardanlabs/consensus/foundation/blockchain/peer"
)

// Set of errors returned when recording a vote.
var (
	ErrUnknownVoter    = errors.New("voter is not a validator")
	ErrUnknownDecision = errors.New("unknown decision")
)

// Decision is a validator's verdict on a candidate block.
type Decision string

// Set of decisions a validator can make.
const (
	Accept Decision = "ACCEPT"
	Reject Decision = "REJECT"
)

// Outcome is the aggregate result of the votes for a candidate block.
type Outcome int

// Set of outcomes for a candidate block.
const (
	Pending Outcome = iota
	Finalized
	Rejected
)

// String implements the fmt.Stringer interface.
func (o Outcome) String() string {
	switch o {
	case Finalized:
		return "FINALIZED"
	case Rejected:
		return "REJECTED"
	}
	return "PENDING"
}

// =============================================================================

// record holds the voters for each decision by their index in the
// validator set along with the signed votes that were added.
type record struct {
	accept  *roaring.Bitmap
	reject  *roaring.Bitmap
	votes   map[uint32]Vote
	outcome Outcome
}

// Tally counts the votes for every candidate block the node knows about. It
// is owned by a single goroutine and is not safe for concurrent use.
type Tally struct {
	quorum     string
	validators *peer.ValidatorSet
	threshold  uint64
	records    map[string]*record
}

// New constructs a tally for the specified quorum rule.
func New(quorum string, validators *peer.ValidatorSet) (*Tally, error) {
	if validators == nil || validators.Len() == 0 {
		return nil, errors.New("validator set required")
	}

	n := uint64(validators.Len())

	var threshold uint64
	switch quorum {
	case genesis.QuorumLeader:
		threshold = n/2 + 1

	case genesis.QuorumByzantine:
		threshold = (2*n + 1 + 2) / 3

	default:
		return nil, fmt.Errorf("unknown quorum %q", quorum)
	}

	t := Tally{
		quorum:     quorum,
		validators: validators,
		threshold:  threshold,
		records:    make(map[string]*record),
	}

	return &t, nil
}

// Threshold returns the number of matching votes needed to decide.
func (t *Tally) Threshold() uint64 {
	return t.threshold
}

// RecordVote records the voter's decision for the block. A voter can change
// its vote until the outcome is decided. After that, votes are ignored.
func (t *Tally) RecordVote(blockHash string, voterID database.AccountID, decision Decision) error {
	idx, exists := t.validators.Index(voterID)
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownVoter, voterID)
	}

	rec, exists := t.records[blockHash]
	if !exists {
		rec = &record{
			accept: roaring.New(),
			reject: roaring.New(),
			votes:  make(map[uint32]Vote),
		}
		t.records[blockHash] = rec
	}

	if rec.outcome != Pending {
		return nil
	}

	switch decision {
	case Accept:
		rec.reject.Remove(uint32(idx))
		rec.accept.Add(uint32(idx))

	case Reject:
		rec.accept.Remove(uint32(idx))
		rec.reject.Add(uint32(idx))

	default:
		return fmt.Errorf("%w: %q", ErrUnknownDecision, decision)
	}

	rec.outcome = t.evaluate(rec)

	return nil
}

// AddVote checks the signature on the vote and records the decision. The
// signed vote is kept so it can be part of the block's certificate.
func (t *Tally) AddVote(vote Vote) error {
	if err := vote.VerifySignature(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidVote, err)
	}

	if t.Outcome(vote.BlockHash) != Pending {
		return nil
	}

	if err := t.RecordVote(vote.BlockHash, vote.VoterID, vote.Decision); err != nil {
		return err
	}

	idx, _ := t.validators.Index(vote.VoterID)
	t.records[vote.BlockHash].votes[uint32(idx)] = vote

	return nil
}

// Outcome returns the outcome for the block. Blocks without votes are
// pending.
func (t *Tally) Outcome(blockHash string) Outcome {
	rec, exists := t.records[blockHash]
	if !exists {
		return Pending
	}

	return rec.outcome
}

// Counts returns the number of accept and reject votes for the block.
func (t *Tally) Counts(blockHash string) (accepts uint64, rejects uint64) {
	rec, exists := t.records[blockHash]
	if !exists {
		return 0, 0
	}

	return rec.accept.GetCardinality(), rec.reject.GetCardinality()
}

// Forget drops the votes for the block.
func (t *Tally) Forget(blockHash string) {
	delete(t.records, blockHash)
}

// Reset drops the votes for every block.
func (t *Tally) Reset() {
	t.records = make(map[string]*record)
}

// evaluate applies the quorum rule to the votes.
func (t *Tally) evaluate(rec *record) Outcome {
	n := uint64(t.validators.Len())
	accepts := rec.accept.GetCardinality()
	rejects := rec.reject.GetCardinality()

	switch t.quorum {
	case genesis.QuorumLeader:

		// Rejected once the remaining validators can't lift the accepts
		// over the majority.
		switch {
		case accepts >= t.threshold:
			return Finalized
		case rejects > n-t.threshold:
			return Rejected
		}

	case genesis.QuorumByzantine:
		switch {
		case accepts >= t.threshold:
			return Finalized
		case rejects >= t.threshold:
			return Rejected
		}
	}

	return Pending
}
