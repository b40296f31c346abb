// Package consensus implements the agreement algorithms a node uses to
// propose blocks and the rules other nodes use to verify the proposals.
// Proof of work and proof of stake are supported.
package consensus

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"

	"github.com/ardanlabs/consensus/foundation/blockchain/database"
	"github.com/ardanlabs/consensus/foundation/blockchain/genesis"
	"github.com/ardanlabs/consensus/foundation/blockchain/peer"
)

// ErrNoProposal is returned when there is nothing this node can propose for
// the current head. It is expected and is not reported as a failure.
var ErrNoProposal = errors.New("no proposal")

// Set of reasons there is no proposal.
var (
	ErrNoTransactions = fmt.Errorf("%w: no transactions", ErrNoProposal)
	ErrNotSelected    = fmt.Errorf("%w: not selected", ErrNoProposal)
	ErrStaleHead      = fmt.Errorf("%w: head superseded", ErrNoProposal)
)

// EventHandler defines a function that is called when events occur in the
// processing of proposals.
type EventHandler func(v string, args ...any)

// Config represents the configuration required to construct a strategy.
type Config struct {
	Algorithm  string
	PrivateKey *ecdsa.PrivateKey
	Validators *peer.ValidatorSet
	EvHandler  EventHandler
}

// ProposeArgs carries everything a proposal is built from.
type ProposeArgs struct {
	Head       database.Block
	Trans      []database.SignedTx
	Difficulty uint16
	Round      uint64
}

// Strategy proposes blocks using the configured algorithm. A proposal in
// flight is cancelled as soon as a new head is observed.
type Strategy struct {
	algorithm  string
	accountID  database.AccountID
	privateKey *ecdsa.PrivateKey
	validators *peer.ValidatorSet
	evHandler  EventHandler

	mu         sync.Mutex
	cancel     context.CancelFunc
	proposal   uint64
	headNumber uint64
}

// New constructs a strategy for the configured algorithm.
func New(cfg Config) (*Strategy, error) {
	switch cfg.Algorithm {
	case genesis.AlgorithmPOW, genesis.AlgorithmPOS:
	default:
		return nil, fmt.Errorf("unknown consensus algorithm %q", cfg.Algorithm)
	}

	if cfg.PrivateKey == nil {
		return nil, errors.New("private key required")
	}

	if cfg.Algorithm == genesis.AlgorithmPOS && cfg.Validators == nil {
		return nil, errors.New("validator set required for proof of stake")
	}

	ev := cfg.EvHandler
	if ev == nil {
		ev = func(v string, args ...any) {}
	}

	s := Strategy{
		algorithm:  cfg.Algorithm,
		accountID:  database.PublicKeyToAccountID(cfg.PrivateKey.PublicKey),
		privateKey: cfg.PrivateKey,
		validators: cfg.Validators,
		evHandler:  ev,
	}

	return &s, nil
}

// Algorithm returns the algorithm the strategy was constructed with.
func (s *Strategy) Algorithm() string {
	return s.algorithm
}

// AccountID returns the account blocks are proposed for.
func (s *Strategy) AccountID() database.AccountID {
	return s.accountID
}

// Propose builds a candidate block on top of the specified head. It blocks
// until a proof is found, the context is cancelled or a new head is
// observed through OnNewHead.
func (s *Strategy) Propose(ctx context.Context, args ProposeArgs) (database.Block, error) {
	if len(args.Trans) == 0 {
		return database.Block{}, ErrNoTransactions
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if args.Head.Header.Number < s.headNumber {
		s.mu.Unlock()
		return database.Block{}, ErrStaleHead
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.proposal++
	id := s.proposal
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.proposal == id {
			s.cancel = nil
		}
	}()

	switch s.algorithm {
	case genesis.AlgorithmPOW:
		return s.proposePOW(ctx, args)
	default:
		return s.proposePOS(ctx, args)
	}
}

// OnNewHead cancels any proposal in flight. Proposals against an older head
// are refused from now on.
func (s *Strategy) OnNewHead(head database.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if head.Header.Number > s.headNumber {
		s.headNumber = head.Header.Number
	}

	if s.cancel != nil {
		s.evHandler("consensus: OnNewHead: cancel proposal: blk[%d]", head.Header.Number)
		s.cancel()
		s.cancel = nil
	}
}
