// Package coordinator drives a node through the consensus rounds. A single
// goroutine owns the round state and reacts to proposal results, inbound
// blocks, votes and finalized blocks delivered as ordered messages.
package coordinator

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ardanlabs/consensus/foundation/blockchain/consensus"
	"github.com/ardanlabs/consensus/foundation/blockchain/database"
	"github.com/ardanlabs/consensus/foundation/blockchain/genesis"
	"github.com/ardanlabs/consensus/foundation/blockchain/mempool"
	"github.com/ardanlabs/consensus/foundation/blockchain/peer"
	"github.com/ardanlabs/consensus/foundation/blockchain/voting"
	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
)

// Set of default timings used when the configuration leaves them empty.
const (
	defaultProposalInterval = 5 * time.Second
	defaultRoundTimeout     = 15 * time.Second
)

// Set of sizes for the internal buffers.
const (
	maxMessages = 256
	maxRejected = 1024
	maxFuture   = 64
)

// Set of errors returned by the coordinator.
var (
	ErrShutdown     = errors.New("coordinator is shut down")
	ErrRoundTimeout = errors.New("round timeout")
)

// EventHandler defines a function that is called when events occur in the
// processing of rounds.
type EventHandler func(v string, args ...any)

// Broadcaster delivers locally produced blocks, votes and transactions to
// the other nodes.
type Broadcaster interface {
	BroadcastBlock(block database.Block) error
	BroadcastVote(vote voting.Vote) error
	BroadcastTx(tx database.SignedTx) error
}

// =============================================================================

// State represents where the node is in the current round.
type State int

// Set of states a round moves through.
const (
	Idle State = iota
	Proposing
	Validating
	Voting
	Committing
	Aborted
)

// String implements the fmt.Stringer interface.
func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Proposing:
		return "PROPOSING"
	case Validating:
		return "VALIDATING"
	case Voting:
		return "VOTING"
	case Committing:
		return "COMMITTING"
	case Aborted:
		return "ABORTED"
	}
	return "UNKNOWN"
}

// Status is a point in time view of the coordinator.
type Status struct {
	State      string             `json:"state"`
	AccountID  database.AccountID `json:"account"`
	Height     uint64             `json:"height"`
	HeadHash   string             `json:"head_hash"`
	Candidate  string             `json:"candidate,omitempty"`
	Candidates int                `json:"candidates"`
	Mempool    int                `json:"mempool"`
	Waiting    int                `json:"waiting"`
	Difficulty uint16             `json:"difficulty,omitempty"`
}

// =============================================================================

// Config represents the settings the coordinator needs to run.
type Config struct {
	DB               *database.Database
	Mempool          *mempool.Mempool
	PrivateKey       *ecdsa.PrivateKey
	Validators       *peer.ValidatorSet
	Broadcaster      Broadcaster
	ProposalInterval time.Duration
	RoundTimeout     time.Duration
	Registerer       prometheus.Registerer
	EvHandler        EventHandler
}

// Coordinator manages the consensus rounds for a node.
type Coordinator struct {
	db          *database.Database
	genesis     genesis.Genesis
	mempool     *mempool.Mempool
	strategy    *consensus.Strategy
	validators  *peer.ValidatorSet
	tally       *voting.Tally
	rejected    *lru.Cache
	broadcaster Broadcaster
	privateKey  *ecdsa.PrivateKey
	accountID   database.AccountID
	interval    time.Duration
	timeout     time.Duration
	metrics     *Metrics
	evHandler   EventHandler

	msgs     chan any
	shut     chan struct{}
	done     chan struct{}
	shutOnce sync.Once
	wg       sync.WaitGroup
	fatal    error

	// Owned by the run goroutine.
	state      State
	roundID    uint64
	cancel     context.CancelFunc
	current    string
	voted      bool
	candidates map[string]database.Block
	future     map[string]database.Block
	roundTimer *time.Timer
	difficulty uint16
	headSince  time.Time
}

// Run constructs a coordinator and starts the goroutine that processes the
// rounds. The function does not return until the goroutine is running.
func Run(cfg Config) (*Coordinator, error) {
	if cfg.DB == nil {
		return nil, errors.New("coordinator: database is required")
	}
	if cfg.PrivateKey == nil {
		return nil, errors.New("coordinator: private key is required")
	}

	ev := cfg.EvHandler
	if ev == nil {
		ev = func(v string, args ...any) {}
	}

	gen := cfg.DB.Genesis()

	validators := cfg.Validators
	if validators == nil {
		var err error
		if validators, err = peer.FromGenesis(gen); err != nil {
			return nil, fmt.Errorf("coordinator: %w", err)
		}
	}

	mp := cfg.Mempool
	if mp == nil {
		mp = mempool.New()
	}

	interval := cfg.ProposalInterval
	if interval <= 0 {
		interval = defaultProposalInterval
	}

	timeout := cfg.RoundTimeout
	if timeout <= 0 {
		timeout = defaultRoundTimeout
	}

	strategy, err := consensus.New(consensus.Config{
		Algorithm:  gen.Algorithm,
		PrivateKey: cfg.PrivateKey,
		Validators: validators,
		EvHandler:  consensus.EventHandler(ev),
	})
	if err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}

	tally, err := voting.New(gen.Quorum, validators)
	if err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}

	rejected, err := lru.New(maxRejected)
	if err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}

	metrics, err := NewMetrics(cfg.Registerer)
	if err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}

	c := Coordinator{
		db:          cfg.DB,
		genesis:     gen,
		mempool:     mp,
		strategy:    strategy,
		validators:  validators,
		tally:       tally,
		rejected:    rejected,
		broadcaster: cfg.Broadcaster,
		privateKey:  cfg.PrivateKey,
		accountID:   strategy.AccountID(),
		interval:    interval,
		timeout:     timeout,
		metrics:     metrics,
		evHandler:   ev,
		msgs:        make(chan any, maxMessages),
		shut:        make(chan struct{}),
		done:        make(chan struct{}),
		candidates:  make(map[string]database.Block),
		future:      make(map[string]database.Block),
	}

	head := c.db.Head()
	c.strategy.OnNewHead(head)
	c.refreshDifficulty(head)
	c.headSince = time.Now()
	c.metrics.Height.Set(float64(head.Header.Number))
	c.metrics.Mempool.Set(float64(c.mempool.Count()))

	c.wg.Add(1)

	// We don't want to return until we know the G is up and running.
	hasStarted := make(chan bool)

	go func() {
		defer c.wg.Done()
		hasStarted <- true
		c.run()
	}()

	<-hasStarted

	return &c, nil
}

// Shutdown terminates the goroutine processing rounds and waits for any
// proposal or broadcast in flight. The fatal error that stopped the
// coordinator, if any, is returned.
func (c *Coordinator) Shutdown() error {
	c.evHandler("coordinator: shutdown: started")
	defer c.evHandler("coordinator: shutdown: completed")

	c.shutOnce.Do(func() {
		close(c.shut)
	})
	c.wg.Wait()

	return c.fatal
}

// Done returns a channel that is closed when the coordinator stops
// processing rounds, either through Shutdown or a fatal error.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns the fatal error that stopped the coordinator. It returns nil
// while the coordinator is running.
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		return c.fatal
	default:
		return nil
	}
}

// AccountID returns the account this node proposes and votes with.
func (c *Coordinator) AccountID() database.AccountID {
	return c.accountID
}

// Metrics returns the collectors the coordinator updates.
func (c *Coordinator) Metrics() *Metrics {
	return c.metrics
}

// =============================================================================

// OnBlockReceived queues a candidate block proposed by another node.
func (c *Coordinator) OnBlockReceived(block database.Block) error {
	return c.send(blockReceived{block: block})
}

// OnVoteReceived queues a vote cast by another validator.
func (c *Coordinator) OnVoteReceived(vote voting.Vote) error {
	return c.send(voteReceived{vote: vote})
}

// OnFinalizedBlock queues a block another node already committed.
func (c *Coordinator) OnFinalizedBlock(block database.Block) error {
	return c.send(finalizedReceived{block: block})
}

// SubmitTransaction validates the transaction against the committed state
// and adds it to the mempool. Transactions submitted by clients are shared
// with the other nodes, transactions received from other nodes are not.
func (c *Coordinator) SubmitTransaction(ctx context.Context, tx database.SignedTx, share bool) error {
	reply := make(chan error, 1)
	if err := c.send(txSubmitted{tx: tx, share: share, reply: reply}); err != nil {
		return err
	}

	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the current view of the coordinator.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	if err := c.send(statusRequest{reply: reply}); err != nil {
		return Status{}, err
	}

	select {
	case status := <-reply:
		return status, nil
	case <-c.done:
		return Status{}, ErrShutdown
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// send delivers a message to the run goroutine. Messages are processed in
// the order they are accepted.
func (c *Coordinator) send(msg any) error {
	select {
	case c.msgs <- msg:
		return nil
	case <-c.done:
		return ErrShutdown
	}
}
