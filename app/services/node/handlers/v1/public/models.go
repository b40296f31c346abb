package public

import (
	"github.com/ardanlabs/consensus/foundation/blockchain/database"
)

type info struct {
	Account database.AccountID `json:"account"`
	Balance uint64             `json:"balance"`
	Nonce   uint64             `json:"nonce"`
}

type actInfo struct {
	LatestBlock string `json:"latest_block"`
	Height      uint64 `json:"height"`
	Uncommitted int    `json:"uncommitted"`
	Accounts    []info `json:"accounts"`
}

type tx struct {
	ID          string             `json:"id"`
	FromAccount database.AccountID `json:"from"`
	To          database.AccountID `json:"to"`
	ChainID     uint16             `json:"chain_id"`
	Nonce       uint64             `json:"nonce"`
	Value       uint64             `json:"value"`
	Data        []byte             `json:"data"`
	Sig         string             `json:"sig"`
}

type block struct {
	Hash          string             `json:"hash"`
	Number        uint64             `json:"number"`
	PrevBlockHash string             `json:"prev_block_hash"`
	TimeStamp     uint64             `json:"timestamp"`
	ProposerID    database.AccountID `json:"proposer"`
	TransRoot     string             `json:"trans_root"`
	Proof         database.Proof     `json:"proof"`
	Transactions  []tx               `json:"txs"`
}

func toTx(tran database.SignedTx) tx {
	return tx{
		ID:          tran.ID(),
		FromAccount: tran.FromID,
		To:          tran.ToID,
		ChainID:     tran.ChainID,
		Nonce:       tran.Nonce,
		Value:       tran.Value,
		Data:        tran.Data,
		Sig:         tran.SignatureString(),
	}
}

func toBlock(blk database.Block) block {
	trans := make([]tx, len(blk.Trans))
	for i, tran := range blk.Trans {
		trans[i] = toTx(tran)
	}

	return block{
		Hash:          blk.Hash(),
		Number:        blk.Header.Number,
		PrevBlockHash: blk.Header.PrevBlockHash,
		TimeStamp:     blk.Header.TimeStamp,
		ProposerID:    blk.Header.ProposerID,
		TransRoot:     blk.Header.TransRoot,
		Proof:         blk.Header.Proof,
		Transactions:  trans,
	}
}
