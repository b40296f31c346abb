package voting

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ardanlabs/consensus/foundation/blockchain/database"
	"github.com/ardanlabs/consensus/foundation/blockchain/signature"
)

// Vote is a validator's signed decision on a candidate block.
type Vote struct {
	BlockHash string             `json:"block_hash" validate:"required,len=66"`
	VoterID   database.AccountID `json:"voter" validate:"required,eth_addr"`
	Decision  Decision           `json:"decision" validate:"required,oneof=ACCEPT REJECT"`
	V         *big.Int           `json:"v"`
	R         *big.Int           `json:"r"`
	S         *big.Int           `json:"s"`
}

// ballot is the part of the vote covered by the signature.
type ballot struct {
	BlockHash string             `json:"block_hash"`
	VoterID   database.AccountID `json:"voter"`
	Decision  Decision           `json:"decision"`
}

// NewVote constructs a vote signed by the private key.
func NewVote(blockHash string, decision Decision, privateKey *ecdsa.PrivateKey) (Vote, error) {
	b := ballot{
		BlockHash: blockHash,
		VoterID:   database.PublicKeyToAccountID(privateKey.PublicKey),
		Decision:  decision,
	}

	v, r, s, err := signature.Sign(b, privateKey)
	if err != nil {
		return Vote{}, err
	}

	vote := Vote{
		BlockHash: b.BlockHash,
		VoterID:   b.VoterID,
		Decision:  b.Decision,
		V:         v,
		R:         r,
		S:         s,
	}

	return vote, nil
}

// VerifySignature checks the vote was signed by the voter it names.
func (v Vote) VerifySignature() error {
	b := ballot{
		BlockHash: v.BlockHash,
		VoterID:   v.VoterID,
		Decision:  v.Decision,
	}

	address, err := signature.FromAddress(b, v.V, v.R, v.S)
	if err != nil {
		return err
	}

	if !v.VoterID.Equal(database.AccountID(address)) {
		return fmt.Errorf("vote signed by %s, exp %s", address, v.VoterID)
	}

	return nil
}

// String implements the fmt.Stringer interface for logging.
func (v Vote) String() string {
	return fmt.Sprintf("%s:%s:%s", v.VoterID, v.Decision, v.BlockHash)
}
