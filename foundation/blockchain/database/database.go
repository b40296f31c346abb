// Package database handles all the lower level support for maintaining the
// committed chain in storage and an in memory database of account information.
// It is the only place the head of the chain changes.
package database

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ardanlabs/consensus/foundation/blockchain/genesis"
)

// Database manages the committed chain and the accounts who have transacted
// on it.
type Database struct {
	mu sync.RWMutex

	genesis     genesis.Genesis
	latestBlock Block
	accounts    map[AccountID]Account
	index       map[string]uint64

	storage   Storage
	evHandler func(v string, args ...any)
}

// New constructs a new database and applies account genesis information. Any
// blocks already held by storage are replayed and must form a valid chain.
func New(gen genesis.Genesis, storage Storage, evHandler func(v string, args ...any)) (*Database, error) {
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	db := Database{
		genesis:   gen,
		accounts:  make(map[AccountID]Account),
		index:     make(map[string]uint64),
		storage:   storage,
		evHandler: ev,
	}

	// Update the database with account balance information from genesis.
	for accountStr, balance := range gen.Balances {
		accountID, err := ToAccountID(accountStr)
		if err != nil {
			return nil, err
		}
		db.accounts[accountID] = Account{AccountID: accountID, Balance: balance}
	}

	// Replay all the blocks from storage.
	iter := db.storage.ForEach()
	for blockData, err := iter.Next(); !iter.Done(); blockData, err = iter.Next() {
		if err != nil {
			return nil, err
		}

		block, err := ToBlock(blockData)
		if err != nil {
			return nil, err
		}

		if err := db.checkLinkage(block); err != nil {
			return nil, fmt.Errorf("replaying storage: %w", err)
		}

		if root := TransRoot(block.Trans); root != block.Header.TransRoot {
			return nil, fmt.Errorf("replaying storage: block %d trans root mismatch, got %s, exp %s", block.Header.Number, root, block.Header.TransRoot)
		}

		db.apply(block)
	}

	ev("database: New: loaded: blk[%d]: hash[%s]", db.latestBlock.Header.Number, db.latestBlock.Hash())

	return &db, nil
}

// Close closes the underlying storage.
func (db *Database) Close() error {
	return db.storage.Close()
}

// Genesis returns the genesis the chain was started with.
func (db *Database) Genesis() genesis.Genesis {
	return db.genesis
}

// Head returns the latest committed block. Before any commit this is the
// genesis block at height zero.
func (db *Database) Head() Block {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.latestBlock
}

// Append commits the block as the new head of the chain. The block must
// extend the current head exactly. Appending the block that already is
// committed is a no-op. The block is durable in storage before it becomes
// visible to readers.
func (db *Database) Append(block Block) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	hash := block.Hash()
	if num, exists := db.index[hash]; exists && num == block.Header.Number {
		db.evHandler("database: Append: already committed: blk[%d]: hash[%s]", num, hash)
		return nil
	}

	if err := db.checkLinkage(block); err != nil {
		return err
	}

	if err := db.storage.Write(NewBlockData(block)); err != nil {
		return &PersistError{Err: err, Number: block.Header.Number}
	}

	db.apply(block)

	db.evHandler("database: Append: committed: blk[%d]: hash[%s]", block.Header.Number, hash)

	return nil
}

// GetBlock returns the committed block with the specified hash.
func (db *Database) GetBlock(hash string) (Block, bool) {
	db.mu.RLock()
	num, exists := db.index[hash]
	db.mu.RUnlock()

	if !exists {
		return Block{}, false
	}

	block, err := db.GetBlockByNumber(num)
	if err != nil {
		db.evHandler("database: GetBlock: ERROR: %s", err)
		return Block{}, false
	}

	return block, true
}

// GetBlockByNumber searches storage to locate and return the contents of the
// specified block by number.
func (db *Database) GetBlockByNumber(num uint64) (Block, error) {
	if num == 0 {
		return Block{}, nil
	}

	db.mu.RLock()
	head := db.latestBlock.Header.Number
	db.mu.RUnlock()

	if num > head {
		return Block{}, fmt.Errorf("block %d not found, head %d", num, head)
	}

	blockData, err := db.storage.GetBlock(num)
	if err != nil {
		return Block{}, err
	}

	return ToBlock(blockData)
}

// ForEach returns an iterator to walk through all the committed blocks
// starting with block number 1.
func (db *Database) ForEach() DatabaseIterator {
	return DatabaseIterator{iterator: db.storage.ForEach()}
}

// Account returns the committed state of the specified account.
func (db *Database) Account(accountID AccountID) Account {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.lookup(accountID)
}

// BalanceAndNonce returns the committed balance and the last used nonce for
// the specified account.
func (db *Database) BalanceAndNonce(accountID AccountID) (balance uint64, nonce uint64) {
	account := db.Account(accountID)
	return account.Balance, account.Nonce
}

// Snapshot returns a consistent copy of the head and account state. Later
// appends don't change the snapshot.
func (db *Database) Snapshot() Snapshot {
	db.mu.RLock()
	defer db.mu.RUnlock()

	accounts := make(map[AccountID]Account, len(db.accounts))
	for accountID, account := range db.accounts {
		accounts[accountID] = account
	}

	return Snapshot{
		Head:     db.latestBlock,
		ChainID:  db.genesis.ChainID,
		accounts: accounts,
	}
}

// =============================================================================

// checkLinkage verifies the block extends the current head. The caller must
// hold the lock or be the only user of the database.
func (db *Database) checkLinkage(block Block) error {
	head := db.latestBlock.Header.Number

	if block.Header.Number <= head {
		return &ChainError{Err: ErrDuplicateHeight, Number: block.Header.Number, Head: head}
	}

	if block.Header.Number != head+1 || block.Header.PrevBlockHash != db.latestBlock.Hash() {
		return &ChainError{Err: ErrParentMismatch, Number: block.Header.Number, Head: head}
	}

	return nil
}

// apply updates the account state with the block and moves the head. The
// caller must hold the lock or be the only user of the database.
func (db *Database) apply(block Block) {
	for _, tx := range block.Trans {
		if err := db.applyTransaction(tx); err != nil {
			db.evHandler("database: apply: blk[%d]: tx[%s]: %s", block.Header.Number, tx, err)
		}
	}

	proposer := db.lookup(block.Header.ProposerID)
	proposer.Balance += db.genesis.MiningReward
	db.accounts[proposer.AccountID] = proposer

	db.latestBlock = block
	db.index[block.Hash()] = block.Header.Number
}

// errInsufficientFunds is reported when a committed transaction can't move
// its value. The nonce is still consumed.
var errInsufficientFunds = errors.New("insufficient funds")

// applyTransaction performs the business logic for applying a transaction
// to the database.
func (db *Database) applyTransaction(tx SignedTx) error {
	from := db.lookup(tx.FromID)
	to := db.lookup(tx.ToID)

	// Update the nonce for the next transaction check.
	from.Nonce = tx.Nonce

	if from.Balance < tx.Value {
		db.accounts[from.AccountID] = from
		return fmt.Errorf("%w, bal %d, needed %d", errInsufficientFunds, from.Balance, tx.Value)
	}

	// Update the balances between the two parties.
	from.Balance -= tx.Value
	to.Balance += tx.Value

	db.accounts[from.AccountID] = from
	db.accounts[to.AccountID] = to

	return nil
}

// lookup finds the account using a case insensitive match on the id so
// checksum and lower case forms refer to the same account.
func (db *Database) lookup(accountID AccountID) Account {
	return lookupAccount(db.accounts, accountID)
}

func lookupAccount(accounts map[AccountID]Account, accountID AccountID) Account {
	if account, exists := accounts[accountID]; exists {
		return account
	}

	for id, account := range accounts {
		if id.Equal(accountID) {
			return account
		}
	}

	return Account{AccountID: accountID}
}

// =============================================================================

// Snapshot is a read-only copy of the committed state at some head.
type Snapshot struct {
	Head    Block
	ChainID uint16

	accounts map[AccountID]Account
}

// Account returns the state of the account at the snapshot's head.
func (s Snapshot) Account(accountID AccountID) Account {
	return lookupAccount(s.accounts, accountID)
}

// Accounts returns a copy of every account in the snapshot.
func (s Snapshot) Accounts() map[AccountID]Account {
	accounts := make(map[AccountID]Account, len(s.accounts))
	for accountID, account := range s.accounts {
		accounts[accountID] = account
	}
	return accounts
}
