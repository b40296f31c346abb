package database

import (
	"errors"
	"fmt"
)

// Set of reasons the chain store refuses to extend the chain. These are
// recoverable, the caller discards the block and moves on.
var (
	ErrParentMismatch  = errors.New("parent mismatch")
	ErrDuplicateHeight = errors.New("duplicate height")
)

// ChainError is returned when a block can't be appended because it does not
// extend the current head.
type ChainError struct {
	Err    error
	Number uint64
	Head   uint64
}

// Error implements the error interface.
func (ce *ChainError) Error() string {
	return fmt.Sprintf("block %d does not extend head %d: %s", ce.Number, ce.Head, ce.Err)
}

// Unwrap provides access to the sentinel reason.
func (ce *ChainError) Unwrap() error {
	return ce.Err
}

// IsChainError checks if an error of type ChainError exists.
func IsChainError(err error) bool {
	var ce *ChainError
	return errors.As(err, &ce)
}

// =============================================================================

// PersistError is returned when the underlying storage failed to record a
// block. The in memory state is untouched but the node can't continue.
type PersistError struct {
	Err    error
	Number uint64
}

// Error implements the error interface.
func (pe *PersistError) Error() string {
	return fmt.Sprintf("persisting block %d: %s", pe.Number, pe.Err)
}

// Unwrap provides access to the storage error.
func (pe *PersistError) Unwrap() error {
	return pe.Err
}

// IsPersistError checks if an error of type PersistError exists.
func IsPersistError(err error) bool {
	var pe *PersistError
	return errors.As(err, &pe)
}
