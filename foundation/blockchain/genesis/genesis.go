// Package genesis maintains access to the genesis file. The genesis file
// carries every chain wide parameter the consensus core needs and is read
// once at startup.
package genesis

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
)

// Set of consensus algorithms a genesis file can select.
const (
	AlgorithmPOW = "POW"
	AlgorithmPOS = "POS"
)

// Set of voting quorum rules a genesis file can select.
const (
	QuorumLeader    = "LEADER"
	QuorumByzantine = "BYZANTINE"
)

// Validator represents an identity eligible to vote and, under proof of
// stake, to propose blocks.
type Validator struct {
	Account string `json:"account" validate:"required,eth_addr"`
	Stake   uint64 `json:"stake"`
	Host    string `json:"host"`
}

// Genesis represents the genesis file.
type Genesis struct {
	Date             time.Time         `json:"date"`
	ChainID          uint16            `json:"chain_id" validate:"required"`                      // The chain id represents an unique id for this running instance.
	Algorithm        string            `json:"algorithm" validate:"required,oneof=POW POS"`       // The agreement algorithm used to propose blocks.
	Quorum           string            `json:"quorum" validate:"required,oneof=LEADER BYZANTINE"` // The voting rule used to finalize blocks.
	TransPerBlock    uint16            `json:"trans_per_block" validate:"required"`               // The maximum number of transactions that can be in a block.
	Difficulty       uint16            `json:"difficulty" validate:"lte=255"`                     // Starting number of leading zero bits a POW hash needs.
	BlockTime        uint64            `json:"block_time_seconds"`                                // Targeted seconds between blocks for difficulty retargeting.
	RetargetInterval uint64            `json:"retarget_interval"`                                 // Number of blocks between difficulty adjustments, 0 disables.
	MiningReward     uint64            `json:"mining_reward"`                                     // Reward for proposing a block.
	Balances         map[string]uint64 `json:"balances"`                                          // Starting balances for the founders of the chain.
	Validators       []Validator       `json:"validators" validate:"required,min=1,dive"`         // The known validator set.
}

// =============================================================================

// Load opens and consumes the genesis file.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	var genesis Genesis
	if err := json.Unmarshal(content, &genesis); err != nil {
		return Genesis{}, fmt.Errorf("decoding genesis: %w", err)
	}

	if err := genesis.Validate(); err != nil {
		return Genesis{}, err
	}

	return genesis, nil
}

// Validate checks the genesis parameters are complete and consistent.
func (g Genesis) Validate() error {
	if err := validator.New().Struct(g); err != nil {
		return fmt.Errorf("invalid genesis: %w", err)
	}

	if g.Algorithm == AlgorithmPOW && g.Difficulty == 0 {
		return fmt.Errorf("invalid genesis: difficulty must be set for %s", AlgorithmPOW)
	}

	if g.Algorithm == AlgorithmPOS {
		var total uint64
		for _, v := range g.Validators {
			total += v.Stake
		}
		if total == 0 {
			return fmt.Errorf("invalid genesis: validators hold no stake for %s", AlgorithmPOS)
		}
	}

	seen := make(map[string]bool)
	for _, v := range g.Validators {
		if seen[v.Account] {
			return fmt.Errorf("invalid genesis: validator %s listed twice", v.Account)
		}
		seen[v.Account] = true
	}

	return nil
}

// TargetBlockTime returns the block time as a duration.
func (g Genesis) TargetBlockTime() time.Duration {
	return time.Duration(g.BlockTime) * time.Second
}
