package commands

import (
	"fmt"

	"github.com/ardanlabs/consensus/foundation/blockchain/consensus"
	"github.com/ardanlabs/consensus/foundation/blockchain/database"
	"github.com/ardanlabs/consensus/foundation/blockchain/genesis"
	"github.com/ardanlabs/consensus/foundation/blockchain/peer"
	"github.com/ardanlabs/consensus/foundation/blockchain/storage/memory"
	"github.com/ardanlabs/consensus/foundation/blockchain/validator"
	"github.com/ardanlabs/consensus/foundation/blockchain/voting"
)

// Verify replays the stored chain into an empty database running the full
// block validation on every block, the same way a node validates a
// candidate before voting for it. Every block must also carry the quorum
// of signed votes it was finalized with.
func Verify(db *database.Database) error {
	gen := db.Genesis()

	validators, err := peer.FromGenesis(gen)
	if err != nil {
		return err
	}

	tally, err := voting.New(gen.Quorum, validators)
	if err != nil {
		return err
	}

	replay, err := database.New(gen, memory.New(), nil)
	if err != nil {
		return err
	}
	defer replay.Close()

	rt := consensus.Retarget{
		Initial:   gen.Difficulty,
		Interval:  gen.RetargetInterval,
		BlockTime: gen.TargetBlockTime(),
	}

	iter := db.ForEach()
	for block, err := iter.Next(); !iter.Done(); block, err = iter.Next() {
		if err != nil {
			return err
		}

		rules := consensus.Rules{
			Algorithm:  gen.Algorithm,
			ChainID:    gen.ChainID,
			Validators: validators,
		}

		if gen.Algorithm == genesis.AlgorithmPOW {
			difficulty, err := consensus.NextDifficulty(replay.Head(), replay.GetBlockByNumber, rt)
			if err != nil {
				return fmt.Errorf("block %d: %w", block.Header.Number, err)
			}
			rules.Difficulty = difficulty
		}

		if err := validator.ValidateBlock(block, replay.Snapshot(), rules); err != nil {
			return fmt.Errorf("block %d: %w", block.Header.Number, err)
		}

		cert, err := voting.DecodeCertificate(block.Certificate)
		if err != nil {
			return fmt.Errorf("block %d: %w", block.Header.Number, err)
		}

		if err := tally.VerifyCertificate(block.Hash(), cert); err != nil {
			return fmt.Errorf("block %d: %w", block.Header.Number, err)
		}

		if err := replay.Append(block); err != nil {
			return fmt.Errorf("block %d: %w", block.Header.Number, err)
		}

		fmt.Printf("Block: %d  Hash: %s  Votes: %d  OK\n", block.Header.Number, block.Hash(), len(cert.Votes))
	}

	head := replay.Head()
	fmt.Printf("\nVerified Head: %d  Hash: %s\n", head.Header.Number, head.Hash())

	return nil
}
