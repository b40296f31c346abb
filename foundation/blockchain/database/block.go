package database

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ardanlabs/consensus/foundation/blockchain/signature"
)

// Proof carries the consensus evidence a proposer attaches to a block. Only
// the fields for the chain's algorithm are populated.
type Proof struct {
	Difficulty uint16 `json:"difficulty"` // POW: Number of leading zero bits the block hash must have.
	Nonce      uint64 `json:"nonce"`      // POW: Value identified to solve the hash solution.
	Round      uint64 `json:"round"`      // POS: Selection round the proposer was chosen in.
	Signature  string `json:"signature"`  // POS: Proposer signature over the header with this field empty.
}

// BlockHeader represents common information required for each block.
type BlockHeader struct {
	Number        uint64    `json:"number" validate:"required"`                 // Ethereum: Block number in the chain.
	PrevBlockHash string    `json:"prev_block_hash" validate:"required,len=66"` // Bitcoin: Hash of the previous block in the chain.
	TimeStamp     uint64    `json:"timestamp" validate:"required"`              // Bitcoin: Time the block was proposed in milliseconds.
	ProposerID    AccountID `json:"proposer" validate:"required,eth_addr"`      // Ethereum: The account who proposed the block and receives the reward.
	TransRoot     string    `json:"trans_root" validate:"required,len=66"`      // Bitcoin/Ethereum: Merkle root of the transactions in this block.
	Proof         Proof     `json:"proof"`
}

// Block represents a group of transactions batched together. The
// certificate holds the signed votes the block was finalized with. It is
// not covered by the hash and the chain store keeps it as is.
type Block struct {
	Header      BlockHeader
	Trans       []SignedTx
	Certificate json.RawMessage
}

// NewBlock constructs the next block on top of the parent without any proof.
// The consensus strategy is responsible for filling in the proof.
func NewBlock(proposerID AccountID, parent Block, trans []SignedTx) Block {

	// Timestamps must strictly increase even when the clock does not.
	ts := uint64(time.Now().UTC().UnixMilli())
	if ts <= parent.Header.TimeStamp {
		ts = parent.Header.TimeStamp + 1
	}

	return Block{
		Header: BlockHeader{
			Number:        parent.Header.Number + 1,
			PrevBlockHash: parent.Hash(),
			TimeStamp:     ts,
			ProposerID:    proposerID,
			TransRoot:     TransRoot(trans),
		},
		Trans: trans,
	}
}

// Hash returns the unique hash for the block. The genesis block, height
// zero, always hashes to the zero hash.
func (b Block) Hash() string {
	if b.Header.Number == 0 {
		return signature.ZeroHash
	}

	return signature.Hash(b.Header)
}

// SigningHeader returns the header with the proposer signature removed. This
// is the value a proof of stake proposer signs.
func (b Block) SigningHeader() BlockHeader {
	h := b.Header
	h.Proof.Signature = ""
	return h
}

// String implements the fmt.Stringer interface for logging.
func (b Block) String() string {
	return fmt.Sprintf("%d:%s", b.Header.Number, b.Hash())
}

// =============================================================================

// BlockData represents what can be serialized to disk and over the network.
type BlockData struct {
	Hash        string          `json:"hash"`
	Header      BlockHeader     `json:"block"`
	Trans       []SignedTx      `json:"trans"`
	Certificate json.RawMessage `json:"certificate,omitempty"`
}

// NewBlockData constructs block data from a block.
func NewBlockData(block Block) BlockData {
	return BlockData{
		Hash:        block.Hash(),
		Header:      block.Header,
		Trans:       block.Trans,
		Certificate: block.Certificate,
	}
}

// ToBlock converts a storage block into a database block. The recorded hash
// must match the hash of the header.
func ToBlock(blockData BlockData) (Block, error) {
	block := Block{
		Header:      blockData.Header,
		Trans:       blockData.Trans,
		Certificate: blockData.Certificate,
	}

	if hash := block.Hash(); hash != blockData.Hash {
		return Block{}, fmt.Errorf("block %d hash mismatch, got %s, exp %s", blockData.Header.Number, hash, blockData.Hash)
	}

	return block, nil
}

