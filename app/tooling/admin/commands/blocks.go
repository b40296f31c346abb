package commands

import (
	"fmt"

	"github.com/ardanlabs/conf/v3"
	"github.com/ardanlabs/consensus/foundation/blockchain/database"
)

// Blocks prints the stored blocks, optionally only the transactions an
// account sends or receives.
func Blocks(args conf.Args, db *database.Database) error {
	var accountID database.AccountID
	if act := args.Num(1); act != "" {
		id, err := database.ToAccountID(act)
		if err != nil {
			return err
		}
		accountID = id
	}

	iter := db.ForEach()
	for block, err := iter.Next(); !iter.Done(); block, err = iter.Next() {
		if err != nil {
			return err
		}

		fmt.Printf("Block: %d  Hash: %s  Proposer: %s  Trans: %d\n", block.Header.Number, block.Hash(), block.Header.ProposerID, len(block.Trans))

		for _, tx := range block.Trans {
			if accountID != "" && !accountID.Equal(tx.FromID) && !accountID.Equal(tx.ToID) {
				continue
			}
			fmt.Printf("  ID: %s  From: %s  To: %s  Value: %d  Nonce: %d\n", tx.ID(), tx.FromID, tx.ToID, tx.Value, tx.Nonce)
		}
	}

	return nil
}
