package consensus

import (
	"time"

	"github.com/ardanlabs/consensus/foundation/blockchain/database"
)

// Retarget holds the parameters for adjusting the proof of work difficulty.
type Retarget struct {
	Initial   uint16
	Interval  uint64
	BlockTime time.Duration
}

// BlockFetcher returns the committed block at the specified height.
type BlockFetcher func(num uint64) (database.Block, error)

// NextDifficulty returns the difficulty required for the block after the
// head. Every Interval blocks the time taken to produce the last window is
// compared against the target. A window faster than half the target adds a
// bit and a window slower than twice the target removes one.
func NextDifficulty(head database.Block, fetch BlockFetcher, rt Retarget) (uint16, error) {
	if head.Header.Number == 0 {
		return rt.Initial, nil
	}

	current := head.Header.Proof.Difficulty
	if current == 0 {
		current = rt.Initial
	}

	if rt.Interval == 0 || rt.BlockTime <= 0 || head.Header.Number%rt.Interval != 0 {
		return current, nil
	}

	// Block 0 carries no timestamp so the window starts at block 1 at the
	// earliest.
	startNum := uint64(1)
	if head.Header.Number > rt.Interval {
		startNum = head.Header.Number - rt.Interval
	}

	span := head.Header.Number - startNum
	if span == 0 {
		return current, nil
	}

	start, err := fetch(startNum)
	if err != nil {
		return 0, err
	}

	elapsed := time.Duration(head.Header.TimeStamp-start.Header.TimeStamp) * time.Millisecond
	expected := time.Duration(span) * rt.BlockTime

	switch {
	case elapsed < expected/2 && current < 255:
		return current + 1, nil
	case elapsed > expected*2 && current > 1:
		return current - 1, nil
	}

	return current, nil
}
