// Package selector provides different transaction selecting algorithms.
package selector

import (
	"fmt"

	"github.com/ardanlabs/consensus/foundation/blockchain/database"
)

// List of different select strategies.
const (
	StrategyFair  = "fair"
	StrategyValue = "value"
)

// Map of different select strategies with functions.
var strategies = map[string]Func{
	StrategyFair:  fairSelect,
	StrategyValue: valueSelect,
}

// Func defines a function that takes a mempool of transactions grouped by
// account and selects howMany of them in an order based on the functions
// strategy. All selector functions MUST respect nonce ordering. Receiving -1
// for howMany must return all the transactions in the strategies ordering.
type Func func(transactions map[database.AccountID][]database.SignedTx, howMany int) []database.SignedTx

// Retrieve returns the specified select strategy function.
func Retrieve(strategy string) (Func, error) {
	fn, exists := strategies[strategy]
	if !exists {
		return nil, fmt.Errorf("strategy %q does not exist", strategy)
	}
	return fn, nil
}

// =============================================================================

// rows sorts the transactions for each account by nonce and then returns
// them as rows, where row N holds the Nth transaction of every account.
// Each row is ordered by account so selection is deterministic.
func rows(m map[database.AccountID][]database.SignedTx) [][]database.SignedTx {
	for key := range m {
		if len(m[key]) > 1 {
			sortByNonce(m[key])
		}
	}

	var rows [][]database.SignedTx
	for {
		var row []database.SignedTx
		for key := range m {
			if len(m[key]) > 0 {
				row = append(row, m[key][0])
				m[key] = m[key][1:]
			}
		}
		if row == nil {
			break
		}
		sortByAccount(row)
		rows = append(rows, row)
	}

	return rows
}
