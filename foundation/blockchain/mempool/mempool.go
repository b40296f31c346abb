// Package mempool maintains the pool of transactions waiting to be included
// in a committed block.
package mempool

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ardanlabs/consensus/foundation/blockchain/database"
	"github.com/ardanlabs/consensus/foundation/blockchain/mempool/selector"
)

// Mempool represents a cache of transactions organized by account:nonce.
type Mempool struct {
	mu       sync.RWMutex
	pool     map[string]database.SignedTx
	selectFn selector.Func
}

// New constructs a new mempool using the default select strategy.
func New() *Mempool {
	mp, _ := NewWithStrategy(selector.StrategyFair)
	return mp
}

// NewWithStrategy constructs a new mempool with specified select strategy.
func NewWithStrategy(strategy string) (*Mempool, error) {
	selectFn, err := selector.Retrieve(strategy)
	if err != nil {
		return nil, err
	}

	mp := Mempool{
		pool:     make(map[string]database.SignedTx),
		selectFn: selectFn,
	}

	return &mp, nil
}

// Count returns the current number of transaction in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Upsert adds or replaces a transaction in the mempool. A second transaction
// from the same account with the same nonce replaces the first.
func (mp *Mempool) Upsert(tx database.SignedTx) int {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool[mapKey(tx)] = tx

	return len(mp.pool)
}

// Delete removes a transaction from the mempool.
func (mp *Mempool) Delete(tx database.SignedTx) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	delete(mp.pool, mapKey(tx))
}

// DeleteCommitted removes every transaction whose nonce has already been
// used by its account in the committed state.
func (mp *Mempool) DeleteCommitted(snap database.Snapshot) int {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	var removed int
	for key, tx := range mp.pool {
		if tx.Nonce <= snap.Account(tx.FromID).Nonce {
			delete(mp.pool, key)
			removed++
		}
	}

	return removed
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool = make(map[string]database.SignedTx)
}

// Copy returns a list of the current transaction in the pool.
func (mp *Mempool) Copy() []database.SignedTx {
	return mp.PickBest(-1)
}

// PickBest uses the configured select strategy to return the next set
// of transactions for the next block.
func (mp *Mempool) PickBest(howMany int) []database.SignedTx {

	// Group the transactions by account.
	m := make(map[database.AccountID][]database.SignedTx)
	mp.mu.RLock()
	{
		for key, tx := range mp.pool {
			account := database.AccountID(strings.Split(key, ":")[0])
			m[account] = append(m[account], tx)
		}
	}
	mp.mu.RUnlock()

	return mp.selectFn(m, howMany)
}

// =============================================================================

// mapKey is used to generate the map key. Accounts are lower cased so the
// checksum form and the plain form share a key.
func mapKey(tx database.SignedTx) string {
	return fmt.Sprintf("%s:%d", strings.ToLower(string(tx.FromID)), tx.Nonce)
}
