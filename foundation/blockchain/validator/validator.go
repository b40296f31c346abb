// Package validator decides whether a candidate block or a single
// transaction may extend the chain. Every check is a pure function of the
// input and a snapshot of the committed state, so the functions are safe to
// call from any goroutine.
package validator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ardanlabs/consensus/foundation/blockchain/consensus"
	"github.com/ardanlabs/consensus/foundation/blockchain/database"
	playground "github.com/go-playground/validator/v10"
)

// Set of kinds a validation failure is reported as. Apart from
// ErrFutureBlock and ErrParentMismatch, which depend on how far the
// validating node's chain has come, every kind means the block can never
// become valid.
var (
	ErrMalformedBlock   = errors.New("malformed block")
	ErrFutureBlock      = errors.New("future block")
	ErrMalformedTx      = errors.New("malformed transaction")
	ErrParentMismatch   = database.ErrParentMismatch
	ErrInvalidSignature = errors.New("invalid signature")
	ErrNonceReplay      = errors.New("nonce replay")
	ErrProofInvalid     = errors.New("invalid proof")
)

// ValidationError is returned when a block or transaction fails validation.
type ValidationError struct {
	Kind error
	Err  error
}

// Error implements the error interface.
func (ve *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ve.Kind, ve.Err)
}

// Unwrap provides access to the kind and the underlying error.
func (ve *ValidationError) Unwrap() []error {
	return []error{ve.Kind, ve.Err}
}

// IsValidationError checks if an error of type ValidationError exists.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func fail(kind error, format string, args ...any) error {
	return &ValidationError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// validate holds the settings and caches for validating struct tags.
var validate = playground.New()

// =============================================================================

// ValidateBlock checks the block can extend the head of the snapshot. Checks
// run in a fixed order and the first failure is returned: structure, parent
// linkage, each transaction in order, then the consensus proof.
func ValidateBlock(block database.Block, snap database.Snapshot, rules consensus.Rules) error {
	parent := snap.Head

	// Structure.
	if err := validate.Struct(block.Header); err != nil {
		return fail(ErrMalformedBlock, "header: %w", err)
	}

	// A block past the next number can still be valid, the snapshot is
	// just behind.
	if block.Header.Number > parent.Header.Number+1 {
		return fail(ErrFutureBlock, "block number %d is ahead of the next number %d", block.Header.Number, parent.Header.Number+1)
	}

	if block.Header.Number != parent.Header.Number+1 {
		return fail(ErrMalformedBlock, "block number %d is not the next number, exp %d", block.Header.Number, parent.Header.Number+1)
	}

	if len(block.Trans) == 0 {
		return fail(ErrMalformedBlock, "block %d has no transactions", block.Header.Number)
	}

	if block.Header.TimeStamp <= parent.Header.TimeStamp {
		return fail(ErrMalformedBlock, "block timestamp %d is not after parent timestamp %d", block.Header.TimeStamp, parent.Header.TimeStamp)
	}

	if root := database.TransRoot(block.Trans); root != block.Header.TransRoot {
		return fail(ErrMalformedBlock, "trans root mismatch, got %s, exp %s", block.Header.TransRoot, root)
	}

	// Linkage.
	if block.Header.PrevBlockHash != parent.Hash() {
		return fail(ErrParentMismatch, "parent block hash doesn't match our head, got %s, exp %s", block.Header.PrevBlockHash, parent.Hash())
	}

	// Transactions. A nonce must be above the committed nonce and above the
	// nonce of any earlier transaction from the same account in this block.
	nonces := make(map[string]uint64)
	for i, tx := range block.Trans {
		key := strings.ToLower(string(tx.FromID))

		last, seen := nonces[key]
		if !seen {
			last = snap.Account(tx.FromID).Nonce
		}

		if err := checkTransaction(tx, last, rules.ChainID); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				return &ValidationError{Kind: ve.Kind, Err: fmt.Errorf("tx %d: %w", i, ve.Err)}
			}
			return err
		}

		nonces[key] = tx.Nonce
	}

	// Proof.
	if err := rules.VerifyProof(block, parent); err != nil {
		return fail(ErrProofInvalid, "%w", err)
	}

	return nil
}

// ValidateTransaction checks a single transaction can be applied on top of
// the committed state in the snapshot.
func ValidateTransaction(tx database.SignedTx, snap database.Snapshot, chainID uint16) error {
	return checkTransaction(tx, snap.Account(tx.FromID).Nonce, chainID)
}

// =============================================================================

func checkTransaction(tx database.SignedTx, lastNonce uint64, chainID uint16) error {
	if err := tx.Validate(chainID); err != nil {
		return fail(ErrMalformedTx, "%w", err)
	}

	if err := tx.VerifySignature(); err != nil {
		return fail(ErrInvalidSignature, "%w", err)
	}

	if tx.Nonce <= lastNonce {
		return fail(ErrNonceReplay, "nonce too small, last %d, provided %d", lastNonce, tx.Nonce)
	}

	return nil
}
