package selector

import "github.com/ardanlabs/consensus/foundation/blockchain/database"

// valueSelect returns transactions with the highest value while respecting
// the nonce for each account/transaction.
var valueSelect = func(m map[database.AccountID][]database.SignedTx, howMany int) []database.SignedTx {

	/*
		Bill: {Nonce: 2, Value: 250}, {Nonce: 1, Value: 150},
		Pavl: {Nonce: 2, Value: 200}, {Nonce: 1, Value: 75},
		Edua: {Nonce: 2, Value: 75},  {Nonce: 1, Value: 100},

		0: Bill: {Nonce: 1, Value: 150}, Edua: {Nonce: 1, Value: 100}, Pavl: {Nonce: 1, Value: 75},
		1: Bill: {Nonce: 2, Value: 250}, Edua: {Nonce: 2, Value: 75},  Pavl: {Nonce: 2, Value: 200},
	*/

	// Sort each row by value unless we will take all transactions from that
	// row anyway. Keep pulling transactions from each row until the amount
	// is fulfilled or there are no more transactions.
	final := []database.SignedTx{}
	for _, row := range rows(m) {
		if howMany < 0 {
			final = append(final, row...)
			continue
		}

		need := howMany - len(final)
		if len(row) > need {
			sortByValue(row)
			final = append(final, row[:need]...)
			break
		}
		final = append(final, row...)
	}

	/*
		Asking for 4:
		Bill: {Nonce: 1, Value: 150}, Edua: {Nonce: 1, Value: 100}, Pavl: {Nonce: 1, Value: 75},
		Bill: {Nonce: 2, Value: 250},
	*/

	return final
}
