package selector

import "github.com/ardanlabs/consensus/foundation/blockchain/database"

// fairSelect takes one transaction from every account, in account order,
// before it takes a second one from any account.
var fairSelect = func(m map[database.AccountID][]database.SignedTx, howMany int) []database.SignedTx {
	final := []database.SignedTx{}
	for _, row := range rows(m) {
		for _, tx := range row {
			if howMany >= 0 && len(final) == howMany {
				return final
			}
			final = append(final, tx)
		}
	}

	return final
}
