package selector

import (
	"sort"

	"github.com/ardanlabs/consensus/foundation/blockchain/database"
)

func sortByNonce(txs []database.SignedTx) {
	sort.Sort(byNonce(txs))
}

func sortByAccount(txs []database.SignedTx) {
	sort.Sort(byAccount(txs))
}

func sortByValue(txs []database.SignedTx) {
	sort.Stable(byValue(txs))
}

// =============================================================================

// byNonce provides sorting support by the transaction nonce value.
type byNonce []database.SignedTx

// Len returns the number of transactions in the list.
func (bn byNonce) Len() int {
	return len(bn)
}

// Less helps to sort the list by nonce in ascending order to keep the
// transactions in the right order of processing.
func (bn byNonce) Less(i, j int) bool {
	return bn[i].Nonce < bn[j].Nonce
}

// Swap moves transactions in the order of the nonce value.
func (bn byNonce) Swap(i, j int) {
	bn[i], bn[j] = bn[j], bn[i]
}

// =============================================================================

// byAccount provides sorting support by the sending account.
type byAccount []database.SignedTx

// Len returns the number of transactions in the list.
func (ba byAccount) Len() int {
	return len(ba)
}

// Less helps to sort the list by account in ascending order.
func (ba byAccount) Less(i, j int) bool {
	return ba[i].FromID < ba[j].FromID
}

// Swap moves transactions in the order of the account.
func (ba byAccount) Swap(i, j int) {
	ba[i], ba[j] = ba[j], ba[i]
}

// =============================================================================

// byValue provides sorting support by the transaction value.
type byValue []database.SignedTx

// Len returns the number of transactions in the list.
func (bv byValue) Len() int {
	return len(bv)
}

// Less helps to sort the list by value in decending order to pick the
// transactions that move the most value first.
func (bv byValue) Less(i, j int) bool {
	return bv[i].Value > bv[j].Value
}

// Swap moves transactions in the order of the value.
func (bv byValue) Swap(i, j int) {
	bv[i], bv[j] = bv[j], bv[i]
}
