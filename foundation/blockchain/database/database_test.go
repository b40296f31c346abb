package database_test

import (
	"errors"
	"testing"

	"github.com/ardanlabs/consensus/foundation/blockchain/database"
	"github.com/ardanlabs/consensus/foundation/blockchain/genesis"
	"github.com/ardanlabs/consensus/foundation/blockchain/storage/memory"
	"github.com/ethereum/go-ethereum/crypto"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const (
	pkHexKey = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	fromID   = database.AccountID("0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4")
	toID     = database.AccountID("0xF01813E4B85e178A83e29B8E7bF26BD830a25f32")
	minerID  = database.AccountID("0xFef311483Cc040e1A89fb9bb469eeB8A70935EF8")
)

// =============================================================================

func Test_Append(t *testing.T) {
	t.Log("Given the need to extend the chain one block at a time.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen handling a new chain.", testID)
		{
			db := newDB(t, memory.New())

			block1 := nextBlock(t, db.Head(), []txArgs{{nonce: 1, value: 100}, {nonce: 2, value: 100}})
			if err := db.Append(block1); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to append the first block: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to append the first block.", success, testID)

			if head := db.Head(); head.Hash() != block1.Hash() {
				t.Fatalf("\t%s\tTest %d:\tShould have the block as the new head: got %s, exp %s", failed, testID, head.Hash(), block1.Hash())
			}
			t.Logf("\t%s\tTest %d:\tShould have the block as the new head.", success, testID)

			final := map[database.AccountID]uint64{
				fromID:  800,
				toID:    200,
				minerID: 100,
			}
			for accountID, exp := range final {
				if balance, _ := db.BalanceAndNonce(accountID); balance != exp {
					t.Fatalf("\t%s\tTest %d:\tShould have the correct balance for %s: got %d, exp %d", failed, testID, accountID, balance, exp)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould have the correct balances.", success, testID)

			if _, nonce := db.BalanceAndNonce(fromID); nonce != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould record the last used nonce: got %d, exp %d", failed, testID, nonce, 2)
			}
			t.Logf("\t%s\tTest %d:\tShould record the last used nonce.", success, testID)

			if err := db.Append(block1); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould treat appending the head again as a no-op: %v", failed, testID, err)
			}
			if balance, _ := db.BalanceAndNonce(minerID); balance != 100 {
				t.Fatalf("\t%s\tTest %d:\tShould not apply the block twice: got %d, exp %d", failed, testID, balance, 100)
			}
			t.Logf("\t%s\tTest %d:\tShould treat appending the head again as a no-op.", success, testID)

			rival := nextBlock(t, database.Block{}, []txArgs{{nonce: 3, value: 1}})
			err := db.Append(rival)
			if !errors.Is(err, database.ErrDuplicateHeight) {
				t.Fatalf("\t%s\tTest %d:\tShould reject a second block at the same height: %v", failed, testID, err)
			}
			if !database.IsChainError(err) {
				t.Fatalf("\t%s\tTest %d:\tShould report a chain error: %T", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a second block at the same height.", success, testID)

			orphan := nextBlock(t, db.Head(), []txArgs{{nonce: 3, value: 1}})
			orphan.Header.PrevBlockHash = rival.Hash()
			if err := db.Append(orphan); !errors.Is(err, database.ErrParentMismatch) {
				t.Fatalf("\t%s\tTest %d:\tShould reject a block with the wrong parent: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a block with the wrong parent.", success, testID)

			gap := nextBlock(t, db.Head(), []txArgs{{nonce: 3, value: 1}})
			gap.Header.Number = 3
			if err := db.Append(gap); !errors.Is(err, database.ErrParentMismatch) {
				t.Fatalf("\t%s\tTest %d:\tShould reject a block that skips a height: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a block that skips a height.", success, testID)

			if head := db.Head(); head.Header.Number != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould leave the head untouched: got %d", failed, testID, head.Header.Number)
			}
			t.Logf("\t%s\tTest %d:\tShould leave the head untouched.", success, testID)

			got, exists := db.GetBlock(block1.Hash())
			if !exists || got.Hash() != block1.Hash() {
				t.Fatalf("\t%s\tTest %d:\tShould be able to get the block by hash.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to get the block by hash.", success, testID)

			if _, exists := db.GetBlock(rival.Hash()); exists {
				t.Fatalf("\t%s\tTest %d:\tShould not find a block that was never committed.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould not find a block that was never committed.", success, testID)
		}
	}
}

func Test_InsufficientFunds(t *testing.T) {
	t.Log("Given the need to apply a transaction the sender can't pay for.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the value is larger than the balance.", testID)
		{
			db := newDB(t, memory.New())

			block := nextBlock(t, db.Head(), []txArgs{{nonce: 5, value: 5000}})
			if err := db.Append(block); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to append the block: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to append the block.", success, testID)

			balance, nonce := db.BalanceAndNonce(fromID)
			if balance != 1000 {
				t.Fatalf("\t%s\tTest %d:\tShould not move any value: got %d, exp %d", failed, testID, balance, 1000)
			}
			t.Logf("\t%s\tTest %d:\tShould not move any value.", success, testID)

			if nonce != 5 {
				t.Fatalf("\t%s\tTest %d:\tShould still consume the nonce: got %d, exp %d", failed, testID, nonce, 5)
			}
			t.Logf("\t%s\tTest %d:\tShould still consume the nonce.", success, testID)
		}
	}
}

func Test_Snapshot(t *testing.T) {
	t.Log("Given the need to read state while the chain moves.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a block is appended after the snapshot.", testID)
		{
			db := newDB(t, memory.New())
			snap := db.Snapshot()

			if err := db.Append(nextBlock(t, db.Head(), []txArgs{{nonce: 1, value: 10}})); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to append the block: %v", failed, testID, err)
			}

			if snap.Head.Header.Number != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould keep the old head: got %d", failed, testID, snap.Head.Header.Number)
			}
			if account := snap.Account(fromID); account.Balance != 1000 || account.Nonce != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould keep the old account state: %+v", failed, testID, account)
			}
			t.Logf("\t%s\tTest %d:\tShould keep the state at the time of the snapshot.", success, testID)

			if account := db.Snapshot().Account(fromID); account.Balance != 990 || account.Nonce != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould see the new state in a new snapshot: %+v", failed, testID, account)
			}
			t.Logf("\t%s\tTest %d:\tShould see the new state in a new snapshot.", success, testID)
		}
	}
}

func Test_Replay(t *testing.T) {
	t.Log("Given the need to restart from storage.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen storage holds two blocks.", testID)
		{
			storage := memory.New()
			db := newDB(t, storage)

			if err := db.Append(nextBlock(t, db.Head(), []txArgs{{nonce: 1, value: 10}})); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to append block 1: %v", failed, testID, err)
			}
			if err := db.Append(nextBlock(t, db.Head(), []txArgs{{nonce: 2, value: 20}})); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to append block 2: %v", failed, testID, err)
			}

			reloaded := newDB(t, storage)
			if reloaded.Head().Hash() != db.Head().Hash() {
				t.Fatalf("\t%s\tTest %d:\tShould rebuild the same head.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould rebuild the same head.", success, testID)

			if reloaded.Account(fromID) != db.Account(fromID) {
				t.Fatalf("\t%s\tTest %d:\tShould rebuild the same accounts: got %+v, exp %+v", failed, testID, reloaded.Account(fromID), db.Account(fromID))
			}
			t.Logf("\t%s\tTest %d:\tShould rebuild the same accounts.", success, testID)

			block, err := reloaded.GetBlockByNumber(2)
			if err != nil || block.Header.Number != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould be able to get block 2 by number: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to get block 2 by number.", success, testID)
		}
	}
}

func Test_PersistFailure(t *testing.T) {
	t.Log("Given the need to surface storage failures.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen storage rejects the write.", testID)
		{
			db := newDB(t, failingStorage{Memory: memory.New()})

			err := db.Append(nextBlock(t, db.Head(), []txArgs{{nonce: 1, value: 10}}))
			if !database.IsPersistError(err) {
				t.Fatalf("\t%s\tTest %d:\tShould get a persist error: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould get a persist error.", success, testID)

			if database.IsChainError(err) {
				t.Fatalf("\t%s\tTest %d:\tShould not report a chain error.", failed, testID)
			}

			if db.Head().Header.Number != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould not move the head.", failed, testID)
			}
			if balance, _ := db.BalanceAndNonce(fromID); balance != 1000 {
				t.Fatalf("\t%s\tTest %d:\tShould not apply the block: got %d", failed, testID, balance)
			}
			t.Logf("\t%s\tTest %d:\tShould leave the committed state untouched.", success, testID)
		}
	}
}

func Test_TransRoot(t *testing.T) {
	t.Log("Given the need to commit to the transactions of a block.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the transactions change.", testID)
		{
			one := signTx(t, 1, 10)
			two := signTx(t, 2, 20)
			three := signTx(t, 3, 30)

			root := database.TransRoot([]database.SignedTx{one, two, three})
			if root != database.TransRoot([]database.SignedTx{one, two, three}) {
				t.Fatalf("\t%s\tTest %d:\tShould get the same root for the same transactions.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould get the same root for the same transactions.", success, testID)

			if root == database.TransRoot([]database.SignedTx{two, one, three}) {
				t.Fatalf("\t%s\tTest %d:\tShould get a different root for a different order.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould get a different root for a different order.", success, testID)

			if root == database.TransRoot([]database.SignedTx{one, two}) {
				t.Fatalf("\t%s\tTest %d:\tShould get a different root for fewer transactions.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould get a different root for fewer transactions.", success, testID)
		}
	}
}

// =============================================================================

type txArgs struct {
	nonce uint64
	value uint64
}

type failingStorage struct {
	*memory.Memory
}

func (failingStorage) Write(database.BlockData) error {
	return errors.New("disk full")
}

func newDB(t *testing.T, storage database.Storage) *database.Database {
	gen := genesis.Genesis{
		ChainID:      1,
		MiningReward: 100,
		Balances: map[string]uint64{
			string(fromID): 1000,
		},
	}

	db, err := database.New(gen, storage, func(v string, args ...any) {})
	if err != nil {
		t.Fatalf("Should be able to open database: %v", err)
	}

	return db
}

func nextBlock(t *testing.T, parent database.Block, args []txArgs) database.Block {
	var trans []database.SignedTx
	for _, arg := range args {
		trans = append(trans, signTx(t, arg.nonce, arg.value))
	}

	return database.NewBlock(minerID, parent, trans)
}

func signTx(t *testing.T, nonce uint64, value uint64) database.SignedTx {
	pk, err := crypto.HexToECDSA(pkHexKey)
	if err != nil {
		t.Fatalf("Should be able to load the private key: %v", err)
	}

	tx, err := database.NewTx(1, nonce, fromID, toID, value, nil)
	if err != nil {
		t.Fatalf("Should be able to construct the transaction: %v", err)
	}

	signedTx, err := tx.Sign(pk)
	if err != nil {
		t.Fatalf("Should be able to sign the transaction: %v", err)
	}

	return signedTx
}
