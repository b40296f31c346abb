// Package commands contains the functionality for the admin commands.
package commands

import (
	"fmt"
	"sort"

	"github.com/ardanlabs/conf/v3"
	"github.com/ardanlabs/consensus/foundation/blockchain/database"
	"github.com/ardanlabs/consensus/foundation/nameservice"
)

// Balances prints the committed balances, optionally for a single account.
func Balances(args conf.Args, db *database.Database, ns *nameservice.NameService) error {
	snap := db.Snapshot()

	fmt.Printf("LatestBlockHash: %s\n\n", snap.Head.Hash())

	if act := args.Num(1); act != "" {
		accountID, err := database.ToAccountID(act)
		if err != nil {
			return err
		}
		account := snap.Account(accountID)
		fmt.Printf("Account: %s  Name: %s  Balance: %d  Nonce: %d\n", accountID, ns.Lookup(accountID), account.Balance, account.Nonce)
		return nil
	}

	accounts := make([]database.Account, 0, len(snap.Accounts()))
	for _, account := range snap.Accounts() {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountID < accounts[j].AccountID
	})

	for _, account := range accounts {
		fmt.Printf("Account: %s  Name: %s  Balance: %d  Nonce: %d\n", account.AccountID, ns.Lookup(account.AccountID), account.Balance, account.Nonce)
	}

	return nil
}
