package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/ardanlabs/consensus/foundation/blockchain/consensus"
	"github.com/ardanlabs/consensus/foundation/blockchain/database"
	"github.com/ardanlabs/consensus/foundation/blockchain/genesis"
	"github.com/ardanlabs/consensus/foundation/blockchain/validator"
	"github.com/ardanlabs/consensus/foundation/blockchain/voting"
)

// Set of messages processed by the run goroutine.
type (
	proposalResult struct {
		roundID uint64
		block   database.Block
		err     error
	}

	blockReceived struct {
		block database.Block
	}

	voteReceived struct {
		vote voting.Vote
	}

	finalizedReceived struct {
		block database.Block
	}

	txSubmitted struct {
		tx    database.SignedTx
		share bool
		reply chan error
	}

	statusRequest struct {
		reply chan Status
	}
)

// =============================================================================

// run is the only goroutine that touches the round state.
func (c *Coordinator) run() {
	c.evHandler("coordinator: run: G started")
	defer c.evHandler("coordinator: run: G completed")

	defer close(c.done)
	defer c.cancelProposal()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		var timeout <-chan time.Time
		if c.roundTimer != nil {
			timeout = c.roundTimer.C
		}

		select {
		case <-ticker.C:

			// Proposals also start as soon as a transaction arrives or a
			// new head is committed. The tick retries after an aborted
			// round and moves proof of stake to the next round.
			c.propose()

		case <-timeout:
			c.roundTimer = nil
			c.roundTimedOut()

		case msg := <-c.msgs:
			c.handle(msg)

		case <-c.shut:
			c.evHandler("coordinator: run: received shut signal")
			c.stopRoundTimer()
			return
		}

		if c.fatal != nil {
			c.evHandler("coordinator: run: FATAL: %s", c.fatal)
			c.stopRoundTimer()
			return
		}
	}
}

// handle dispatches a message to its handler.
func (c *Coordinator) handle(msg any) {
	switch m := msg.(type) {
	case proposalResult:
		c.proposalFinished(m)

	case blockReceived:
		c.consider(m.block, false)

	case voteReceived:
		c.recordVote(m.vote)

	case finalizedReceived:
		c.finalized(m.block)

	case txSubmitted:
		m.reply <- c.submit(m.tx, m.share)

	case statusRequest:
		m.reply <- c.status()
	}
}

// =============================================================================

// propose starts building a candidate when the node is idle and there is
// work in the mempool. The proof is searched for on its own goroutine and
// the result comes back as a message.
func (c *Coordinator) propose() {
	if c.state != Idle || c.fatal != nil {
		return
	}

	trans := c.mempool.PickBest(int(c.genesis.TransPerBlock))
	if len(trans) == 0 {
		return
	}

	head := c.db.Head()
	round := c.selectionRound()

	if c.genesis.Algorithm == genesis.AlgorithmPOS {
		selected, err := consensus.SelectProposer(head.Hash(), round, c.validators)
		if err != nil {
			c.evHandler("coordinator: propose: ERROR: %s", err)
			return
		}
		if !selected.AccountID.Equal(c.accountID) {
			return
		}
	}

	args := consensus.ProposeArgs{
		Head:       head,
		Trans:      trans,
		Difficulty: c.difficulty,
		Round:      round,
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.roundID++
	roundID := c.roundID

	c.transition(Proposing)
	c.evHandler("coordinator: propose: blk[%d]: trans[%d]: round[%d]", head.Header.Number+1, len(trans), round)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()

		block, err := c.strategy.Propose(ctx, args)

		select {
		case c.msgs <- proposalResult{roundID: roundID, block: block, err: err}:
		case <-c.done:
		}
	}()
}

// proposalFinished moves a finished proposal into validation. Results for
// rounds that were already abandoned are dropped.
func (c *Coordinator) proposalFinished(r proposalResult) {
	if r.roundID != c.roundID || c.state != Proposing {
		c.evHandler("coordinator: proposalFinished: dropping stale proposal: round[%d]", r.roundID)
		return
	}
	c.cancel = nil

	if r.err != nil {
		switch {
		case errors.Is(r.err, consensus.ErrNoProposal), errors.Is(r.err, context.Canceled):
			c.evHandler("coordinator: proposalFinished: no proposal: %s", r.err)
		default:
			c.evHandler("coordinator: proposalFinished: ERROR: %s", r.err)
		}
		c.transition(Idle)
		return
	}

	c.consider(r.block, true)
}

// consider validates a candidate block and, when it is the first valid
// candidate seen at this height, casts an accept vote for it.
func (c *Coordinator) consider(block database.Block, own bool) {
	hash := block.Hash()

	if c.rejected.Contains(hash) {
		c.evHandler("coordinator: consider: ignoring rejected block: blk[%d]: hash[%s]", block.Header.Number, hash)
		if own {
			c.abort(OutcomeInvalid)
		}
		return
	}

	if _, exists := c.candidates[hash]; exists {
		return
	}

	snap := c.db.Snapshot()

	switch {
	case block.Header.Number <= snap.Head.Header.Number:
		c.evHandler("coordinator: consider: stale: blk[%d]: head[%d]: hash[%s]", block.Header.Number, snap.Head.Header.Number, hash)
		if own {
			c.abort(OutcomeNewHead)
		}
		return

	case block.Header.Number > snap.Head.Header.Number+1:
		c.hold(block)
		return
	}

	if c.state == Idle || (c.state == Proposing && own) {
		c.transition(Validating)
	}

	// Proof of stake rounds are only accepted up to one past the round this
	// node is in.
	rules := c.rules()
	rules.MaxRound = c.selectionRound() + 1

	if err := validator.ValidateBlock(block, snap, rules); err != nil {
		c.evHandler("coordinator: consider: INVALID: blk[%d]: hash[%s]: %s", block.Header.Number, hash, err)

		c.tally.Forget(hash)

		// A round this node hasn't reached yet is not proof the block is
		// bad, the clocks may just differ. The block is ignored, not
		// rejected. A different parent conflicts with this node's chain,
		// not with the rules, so it gets no reject vote either.
		if !errors.Is(err, consensus.ErrFutureRound) {
			c.rejected.Add(hash, struct{}{})
			if !own && !errors.Is(err, validator.ErrParentMismatch) {
				c.castVote(hash, voting.Reject)
			}
		}

		if c.state == Validating {
			c.abort(OutcomeInvalid)
			return
		}
		c.metrics.Rounds.WithLabelValues(OutcomeInvalid).Inc()
		return
	}

	c.candidates[hash] = block
	c.metrics.Candidates.Set(float64(len(c.candidates)))
	c.evHandler("coordinator: consider: candidate: %s", block)

	if own {
		c.broadcast(func(b Broadcaster) error { return b.BroadcastBlock(block) })
	}

	if c.voted {
		c.evHandler("coordinator: consider: already voted at height: blk[%d]: hash[%s]", block.Header.Number, hash)
		c.evaluate(hash)
		return
	}

	// Another proposer beat this node to it.
	if c.state == Proposing {
		c.cancelProposal()
		c.roundID++
		c.transition(Validating)
	}

	c.voted = true
	c.current = hash
	c.transition(Voting)
	c.startRoundTimer()

	c.castVote(hash, voting.Accept)
	c.evaluate(hash)
}

// castVote signs a vote, records it when this node is a validator and
// shares it with the other nodes.
func (c *Coordinator) castVote(hash string, decision voting.Decision) {
	if !c.validators.Contains(c.accountID) {
		return
	}

	vote, err := voting.NewVote(hash, decision, c.privateKey)
	if err != nil {
		c.evHandler("coordinator: castVote: ERROR: %s", err)
		return
	}

	if err := c.tally.AddVote(vote); err != nil {
		c.evHandler("coordinator: castVote: ERROR: %s", err)
		return
	}

	c.metrics.Votes.WithLabelValues(string(decision), "cast").Inc()
	c.evHandler("coordinator: castVote: %s", vote)

	c.broadcast(func(b Broadcaster) error { return b.BroadcastVote(vote) })
}

// recordVote adds a signed vote from another validator to the tally.
func (c *Coordinator) recordVote(vote voting.Vote) {
	if c.rejected.Contains(vote.BlockHash) {
		return
	}

	if err := c.tally.AddVote(vote); err != nil {
		c.metrics.Votes.WithLabelValues(string(vote.Decision), "dropped").Inc()
		c.evHandler("coordinator: recordVote: dropping vote: %s: %s", vote, err)
		return
	}

	c.metrics.Votes.WithLabelValues(string(vote.Decision), "recorded").Inc()
	c.evHandler("coordinator: recordVote: %s", vote)

	c.evaluate(vote.BlockHash)
}

// evaluate acts on the outcome of a known candidate. Votes for blocks this
// node has not seen yet stay in the tally until the block arrives.
func (c *Coordinator) evaluate(hash string) {
	block, exists := c.candidates[hash]
	if !exists {
		return
	}

	switch c.tally.Outcome(hash) {
	case voting.Finalized:
		c.commit(block)

	case voting.Rejected:
		c.evHandler("coordinator: evaluate: REJECTED: blk[%d]: hash[%s]", block.Header.Number, hash)
		c.discard(hash)
		if hash == c.current {
			c.abort(OutcomeRejected)
			return
		}
		c.metrics.Rounds.WithLabelValues(OutcomeRejected).Inc()
	}
}

// commit appends a finalized candidate to the chain along with the votes
// that finalized it.
func (c *Coordinator) commit(block database.Block) {
	c.transition(Committing)

	hash := block.Hash()

	cert, err := c.tally.Certificate(hash)
	if err == nil {
		block.Certificate, err = cert.Encode()
	}
	if err != nil {
		c.evHandler("coordinator: commit: ERROR: blk[%d]: hash[%s]: %s", block.Header.Number, hash, err)
		c.discard(hash)
		c.abort(OutcomeInvalid)
		return
	}

	err = c.db.Append(block)

	switch {
	case err == nil:
		c.metrics.Rounds.WithLabelValues(OutcomeCommitted).Inc()
		c.evHandler("coordinator: commit: FINALIZED: %s", block)
		c.newHead(block)

	case database.IsChainError(err):
		c.evHandler("coordinator: commit: CONFLICT: blk[%d]: hash[%s]: %s", block.Header.Number, hash, err)
		c.discard(hash)
		c.abort(OutcomeConflict)

	default:
		c.fatal = err
	}
}

// finalized commits a block another node already committed. A block past
// the head must carry a certificate with a quorum of signed accept votes
// before it is validated. Blocks at or below the head go straight to the
// chain store which accepts the block it already has and reports anything
// else as a conflict.
func (c *Coordinator) finalized(block database.Block) {
	head := c.db.Head()
	hash := block.Hash()

	if block.Header.Number > head.Header.Number {
		if err := c.certified(block); err != nil {
			c.metrics.Rounds.WithLabelValues(OutcomeUncertified).Inc()
			c.evHandler("coordinator: finalized: UNCERTIFIED: blk[%d]: hash[%s]: %s", block.Header.Number, hash, err)
			return
		}

		if err := validator.ValidateBlock(block, c.db.Snapshot(), c.rules()); err != nil {
			c.evHandler("coordinator: finalized: INVALID: blk[%d]: hash[%s]: %s", block.Header.Number, hash, err)
			return
		}
	}

	err := c.db.Append(block)

	switch {
	case err == nil:
		if c.db.Head().Hash() == head.Hash() {
			return
		}

		c.evHandler("coordinator: finalized: FINALIZED: %s", block)
		if c.state != Idle {
			c.metrics.Rounds.WithLabelValues(OutcomeNewHead).Inc()
			c.transition(Aborted)
		}
		c.newHead(block)

	case database.IsChainError(err):
		c.metrics.Rounds.WithLabelValues(OutcomeConflict).Inc()
		c.evHandler("coordinator: finalized: CONFLICT: blk[%d]: hash[%s]: %s", block.Header.Number, hash, err)

	default:
		c.fatal = err
	}
}

// newHead resets the round state for the height after the new head.
func (c *Coordinator) newHead(head database.Block) {
	c.strategy.OnNewHead(head)
	c.cancelProposal()
	c.roundID++
	c.stopRoundTimer()

	for hash, b := range c.candidates {
		if b.Header.Number <= head.Header.Number {
			delete(c.candidates, hash)
		}
	}
	c.tally.Reset()
	c.voted = false
	c.current = ""

	for _, tx := range head.Trans {
		c.mempool.Delete(tx)
	}
	c.mempool.DeleteCommitted(c.db.Snapshot())

	c.refreshDifficulty(head)
	c.headSince = time.Now()

	c.metrics.Height.Set(float64(head.Header.Number))
	c.metrics.Candidates.Set(float64(len(c.candidates)))
	c.metrics.Mempool.Set(float64(c.mempool.Count()))

	c.transition(Idle)

	var ready []database.Block
	for hash, b := range c.future {
		if b.Header.Number <= head.Header.Number+1 {
			delete(c.future, hash)
			if b.Header.Number == head.Header.Number+1 {
				ready = append(ready, b)
			}
		}
	}

	for _, b := range ready {
		c.consider(b, false)
	}

	c.propose()
}

// hold keeps a block that is ahead of the chain until its parent is
// committed. Nothing is voted on the block until then.
func (c *Coordinator) hold(block database.Block) {
	hash := block.Hash()

	if _, exists := c.future[hash]; exists {
		return
	}

	if len(c.future) >= maxFuture {
		c.evHandler("coordinator: hold: dropping: blk[%d]: hash[%s]: too many blocks waiting", block.Header.Number, hash)
		return
	}

	c.future[hash] = block
	c.evHandler("coordinator: hold: waiting for parent: blk[%d]: head[%d]: hash[%s]", block.Header.Number, c.db.Head().Header.Number, hash)
}

// certified checks the block carries a quorum of signed accept votes.
func (c *Coordinator) certified(block database.Block) error {
	cert, err := voting.DecodeCertificate(block.Certificate)
	if err != nil {
		return err
	}

	return c.tally.VerifyCertificate(block.Hash(), cert)
}

// roundTimedOut abandons the candidate this node voted for. The
// transactions stay in the mempool for a later round.
func (c *Coordinator) roundTimedOut() {
	if c.state != Voting {
		return
	}

	c.evHandler("coordinator: roundTimedOut: %s: blk[%d]: hash[%s]", ErrRoundTimeout, c.db.Head().Header.Number+1, c.current)

	c.discard(c.current)
	c.abort(OutcomeTimeout)
}

// discard forgets a candidate and refuses to see it again.
func (c *Coordinator) discard(hash string) {
	delete(c.candidates, hash)
	c.tally.Forget(hash)
	c.rejected.Add(hash, struct{}{})
	c.metrics.Candidates.Set(float64(len(c.candidates)))
}

// abort ends the round and returns the node to idle.
func (c *Coordinator) abort(outcome string) {
	c.metrics.Rounds.WithLabelValues(outcome).Inc()
	c.transition(Aborted)

	c.cancelProposal()
	c.roundID++
	c.stopRoundTimer()
	c.voted = false
	c.current = ""

	c.transition(Idle)
}

// =============================================================================

// submit validates a transaction and adds it to the mempool.
func (c *Coordinator) submit(tx database.SignedTx, share bool) error {
	if err := validator.ValidateTransaction(tx, c.db.Snapshot(), c.genesis.ChainID); err != nil {
		return err
	}

	n := c.mempool.Upsert(tx)
	c.metrics.Mempool.Set(float64(n))
	c.evHandler("coordinator: submit: tx[%s]: mempool[%d]", tx, n)

	if share {
		c.broadcast(func(b Broadcaster) error { return b.BroadcastTx(tx) })
	}

	c.propose()

	return nil
}

// status captures the round state for a status request.
func (c *Coordinator) status() Status {
	head := c.db.Head()

	return Status{
		State:      c.state.String(),
		AccountID:  c.accountID,
		Height:     head.Header.Number,
		HeadHash:   head.Hash(),
		Candidate:  c.current,
		Candidates: len(c.candidates),
		Mempool:    c.mempool.Count(),
		Waiting:    len(c.future),
		Difficulty: c.difficulty,
	}
}

// =============================================================================

// transition moves the round into the specified state.
func (c *Coordinator) transition(to State) {
	if c.state == to {
		return
	}

	c.evHandler("coordinator: transition: %s -> %s", c.state, to)
	c.state = to
}

// broadcast hands the delivery to a goroutine so slow peers never hold up
// the round.
func (c *Coordinator) broadcast(fn func(b Broadcaster) error) {
	if c.broadcaster == nil {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := fn(c.broadcaster); err != nil {
			c.evHandler("coordinator: broadcast: ERROR: %s", err)
		}
	}()
}

// rules returns the consensus rules a block extending the head must meet.
func (c *Coordinator) rules() consensus.Rules {
	return consensus.Rules{
		Algorithm:  c.genesis.Algorithm,
		ChainID:    c.genesis.ChainID,
		Difficulty: c.difficulty,
		Validators: c.validators,
	}
}

// refreshDifficulty computes the difficulty for the block after the head.
func (c *Coordinator) refreshDifficulty(head database.Block) {
	if c.genesis.Algorithm != genesis.AlgorithmPOW {
		return
	}

	rt := consensus.Retarget{
		Initial:   c.genesis.Difficulty,
		Interval:  c.genesis.RetargetInterval,
		BlockTime: c.genesis.TargetBlockTime(),
	}

	difficulty, err := consensus.NextDifficulty(head, c.db.GetBlockByNumber, rt)
	if err != nil {
		c.evHandler("coordinator: refreshDifficulty: ERROR: %s", err)
		if c.difficulty == 0 {
			c.difficulty = c.genesis.Difficulty
		}
		return
	}

	c.difficulty = difficulty
}

// selectionRound returns the proof of stake round for the next proposal.
// The round advances every round timeout the head stays unchanged so an
// absent proposer does not stall the chain.
func (c *Coordinator) selectionRound() uint64 {
	return uint64(time.Since(c.headSince) / c.timeout)
}

// cancelProposal stops the proposal in flight, if any.
func (c *Coordinator) cancelProposal() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Coordinator) startRoundTimer() {
	c.stopRoundTimer()
	c.roundTimer = time.NewTimer(c.timeout)
}

func (c *Coordinator) stopRoundTimer() {
	if c.roundTimer != nil {
		c.roundTimer.Stop()
		c.roundTimer = nil
	}
}
