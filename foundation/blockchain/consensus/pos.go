package consensus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ardanlabs/consensus/foundation/blockchain/database"
	"github.com/ardanlabs/consensus/foundation/blockchain/peer"
	"github.com/ardanlabs/consensus/foundation/blockchain/signature"
)

// Set of errors returned by proof of stake.
var (
	ErrNoStake     = errors.New("validator set holds no stake")
	ErrFutureRound = errors.New("round not reached")
)

// proposePOS constructs a new block if this node is the proposer selected
// for the round and seals it with the proposer signature.
func (s *Strategy) proposePOS(ctx context.Context, args ProposeArgs) (database.Block, error) {
	proposer, err := SelectProposer(args.Head.Hash(), args.Round, s.validators)
	if err != nil {
		return database.Block{}, err
	}

	s.evHandler("consensus: proposePOS: SELECTED: blk[%d]: round[%d]: %s", args.Head.Header.Number+1, args.Round, proposer.AccountID)

	if !proposer.AccountID.Equal(s.accountID) {
		return database.Block{}, fmt.Errorf("%w: round %d selected %s", ErrNotSelected, args.Round, proposer.AccountID)
	}

	if err := ctx.Err(); err != nil {
		return database.Block{}, err
	}

	block := database.NewBlock(s.accountID, args.Head, args.Trans)
	block.Header.Proof.Round = args.Round

	v, r, sig, err := signature.Sign(block.SigningHeader(), s.privateKey)
	if err != nil {
		return database.Block{}, fmt.Errorf("sign block: %w", err)
	}
	block.Header.Proof.Signature = signature.SignatureString(v, r, sig)

	return block, nil
}

// SelectProposer deterministically picks the proposer for the block after
// the specified head in the specified round. The seed is the keccak256 of
// the head hash and the big endian round. The seed modulo the total stake
// is matched against the validators in ascending id order, each owning a
// range the size of its stake. Validators without stake are never chosen.
func SelectProposer(headHash string, round uint64, validators *peer.ValidatorSet) (peer.Validator, error) {
	total := validators.TotalStake()
	if total == 0 {
		return peer.Validator{}, ErrNoStake
	}

	hashBytes, err := signature.HashBytes(headHash)
	if err != nil {
		return peer.Validator{}, err
	}

	var roundBytes [8]byte
	binary.BigEndian.PutUint64(roundBytes[:], round)

	seed := new(big.Int).SetBytes(signature.Keccak(hashBytes, roundBytes[:]))
	draw := new(big.Int).Mod(seed, new(big.Int).SetUint64(total)).Uint64()

	var cumulative uint64
	for _, v := range validators.Values() {
		cumulative += v.Stake
		if draw < cumulative {
			return v, nil
		}
	}

	return peer.Validator{}, ErrNoStake
}

// verifyPOS checks the proposer was selected for the round it claims and
// that the proposer sealed the block.
func verifyPOS(block database.Block, parent database.Block, validators *peer.ValidatorSet) error {
	proposer, err := SelectProposer(parent.Hash(), block.Header.Proof.Round, validators)
	if err != nil {
		return err
	}

	if !proposer.AccountID.Equal(block.Header.ProposerID) {
		return fmt.Errorf("proposer %s was not selected for round %d, exp %s", block.Header.ProposerID, block.Header.Proof.Round, proposer.AccountID)
	}

	v, r, s, err := signature.ToVRSFromHexSignature(block.Header.Proof.Signature)
	if err != nil {
		return fmt.Errorf("parse proposer signature: %w", err)
	}

	signer, err := signature.FromAddress(block.SigningHeader(), v, r, s)
	if err != nil {
		return fmt.Errorf("recover proposer signature: %w", err)
	}

	if !proposer.AccountID.Equal(database.AccountID(signer)) {
		return fmt.Errorf("block signed by %s, exp %s", signer, proposer.AccountID)
	}

	return nil
}
