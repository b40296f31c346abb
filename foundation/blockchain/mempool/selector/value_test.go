package selector_test

import (
	"testing"

	"github.com/ardanlabs/consensus/foundation/blockchain/database"
	"github.com/ardanlabs/consensus/foundation/blockchain/mempool/selector"
	"github.com/ethereum/go-ethereum/crypto"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const (
	signPavel = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	signBill  = "9f332e3700d8fc2446eaf6d15034cf96e0c2745e40353deef032a5dbf1dfed93"
	signEd    = "aed31b6b5a341af8f27e66fb0b7633cf20fc27049e3eb7f6f623a4655b719ebb"
)

func tran(t *testing.T, nonce uint64, hexKey string, value uint64) database.SignedTx {
	const to = "0xbEE6ACE826eC3DE1B6349888B9151B92522F7F76"

	pk, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to load the private key: %s", failed, err)
	}

	tx, err := database.NewTx(1, nonce, database.PublicKeyToAccountID(pk.PublicKey), to, value, nil)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the transaction: %s", failed, err)
	}

	signedTx, err := tx.Sign(pk)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to sign the transaction: %s", failed, err)
	}

	return signedTx
}

func group(txs []database.SignedTx) map[database.AccountID][]database.SignedTx {
	m := make(map[database.AccountID][]database.SignedTx)
	for _, tx := range txs {
		m[tx.FromID] = append(m[tx.FromID], tx)
	}
	return m
}

func TestValueSelect(t *testing.T) {
	txs := []database.SignedTx{
		tran(t, 3, signPavel, 50),
		tran(t, 1, signPavel, 25),
		tran(t, 2, signPavel, 75),

		tran(t, 1, signBill, 10),
		tran(t, 2, signBill, 5),
		tran(t, 3, signBill, 75),

		tran(t, 1, signEd, 5),
		tran(t, 2, signEd, 50),
		tran(t, 3, signEd, 25),
	}

	fn, err := selector.Retrieve(selector.StrategyValue)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to retrieve the strategy: %s", failed, err)
	}

	t.Log("Given the need to select transactions by value.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen asking for four transactions.", testID)
		{
			best := fn(group(txs), 4)
			if len(best) != 4 {
				t.Fatalf("\t%s\tTest %d:\tShould get back four transactions: got %d", failed, testID, len(best))
			}
			t.Logf("\t%s\tTest %d:\tShould get back four transactions.", success, testID)

			for i := 0; i < 3; i++ {
				if best[i].Nonce != 1 {
					t.Fatalf("\t%s\tTest %d:\tShould take the first nonce of every account first: %v", failed, testID, best)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould take the first nonce of every account first.", success, testID)

			if best[3].Nonce != 2 || best[3].Value != 75 {
				t.Fatalf("\t%s\tTest %d:\tShould take the highest value from the second row: %v", failed, testID, best[3])
			}
			t.Logf("\t%s\tTest %d:\tShould take the highest value from the second row.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen asking for every transaction.", testID)
		{
			best := fn(group(txs), -1)
			if len(best) != len(txs) {
				t.Fatalf("\t%s\tTest %d:\tShould get back every transaction: got %d", failed, testID, len(best))
			}

			last := make(map[database.AccountID]uint64)
			for _, tx := range best {
				if tx.Nonce <= last[tx.FromID] {
					t.Fatalf("\t%s\tTest %d:\tShould respect nonce order per account: %v", failed, testID, best)
				}
				last[tx.FromID] = tx.Nonce
			}
			t.Logf("\t%s\tTest %d:\tShould respect nonce order per account.", success, testID)
		}
	}
}

func TestRetrieve(t *testing.T) {
	if _, err := selector.Retrieve("unknown"); err == nil {
		t.Fatalf("\t%s\tShould not retrieve an unknown strategy.", failed)
	}
	t.Logf("\t%s\tShould not retrieve an unknown strategy.", success)
}
