package voting

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring"
)

// Set of errors returned when checking a certificate.
var (
	ErrNoQuorum    = errors.New("no quorum")
	ErrInvalidVote = errors.New("invalid vote")
)

// Certificate is the set of signed accept votes that finalized a block. It
// travels with the block once committed so other nodes can check the block
// was agreed on before appending it.
type Certificate struct {
	BlockHash string `json:"block_hash"`
	Votes     []Vote `json:"votes"`
}

// Encode returns the certificate in the form it is stored with the block.
func (c Certificate) Encode() (json.RawMessage, error) {
	return json.Marshal(c)
}

// DecodeCertificate parses a certificate stored with a block.
func DecodeCertificate(data json.RawMessage) (Certificate, error) {
	if len(data) == 0 {
		return Certificate{}, fmt.Errorf("%w: block carries no certificate", ErrNoQuorum)
	}

	var cert Certificate
	if err := json.Unmarshal(data, &cert); err != nil {
		return Certificate{}, fmt.Errorf("decode certificate: %w", err)
	}

	return cert, nil
}

// =============================================================================

// Certificate returns the signed accept votes that finalized the block.
func (t *Tally) Certificate(blockHash string) (Certificate, error) {
	rec, exists := t.records[blockHash]
	if !exists || rec.outcome != Finalized {
		return Certificate{}, fmt.Errorf("%w: block %s is not finalized", ErrNoQuorum, blockHash)
	}

	cert := Certificate{
		BlockHash: blockHash,
		Votes:     make([]Vote, 0, rec.accept.GetCardinality()),
	}

	for _, idx := range rec.accept.ToArray() {
		if vote, exists := rec.votes[idx]; exists {
			cert.Votes = append(cert.Votes, vote)
		}
	}

	if uint64(len(cert.Votes)) < t.threshold {
		return Certificate{}, fmt.Errorf("%w: %d signed accepts, need %d", ErrNoQuorum, len(cert.Votes), t.threshold)
	}

	return cert, nil
}

// VerifyCertificate checks the certificate holds enough distinct, correctly
// signed accept votes from the validator set to finalize the block. The
// tally itself is not changed.
func (t *Tally) VerifyCertificate(blockHash string, cert Certificate) error {
	if cert.BlockHash != blockHash {
		return fmt.Errorf("%w: certificate for %s, exp %s", ErrInvalidVote, cert.BlockHash, blockHash)
	}

	seen := roaring.New()
	for _, vote := range cert.Votes {
		if vote.BlockHash != blockHash || vote.Decision != Accept {
			return fmt.Errorf("%w: %s", ErrInvalidVote, vote)
		}

		idx, exists := t.validators.Index(vote.VoterID)
		if !exists {
			return fmt.Errorf("%w: %s", ErrUnknownVoter, vote.VoterID)
		}

		if err := vote.VerifySignature(); err != nil {
			return fmt.Errorf("%w: %s: %s", ErrInvalidVote, vote, err)
		}

		seen.Add(uint32(idx))
	}

	if accepts := seen.GetCardinality(); accepts < t.threshold {
		return fmt.Errorf("%w: %d distinct accepts, need %d", ErrNoQuorum, accepts, t.threshold)
	}

	return nil
}
