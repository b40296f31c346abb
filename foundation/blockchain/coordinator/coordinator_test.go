package coordinator_test

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"testing"
	"time"

	"github.com/ardanlabs/consensus/foundation/blockchain/consensus"
	"github.com/ardanlabs/consensus/foundation/blockchain/coordinator"
	"github.com/ardanlabs/consensus/foundation/blockchain/database"
	"github.com/ardanlabs/consensus/foundation/blockchain/genesis"
	"github.com/ardanlabs/consensus/foundation/blockchain/storage/memory"
	"github.com/ardanlabs/consensus/foundation/blockchain/voting"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var hexKeys = []string{
	"fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959",
	"9f332e3700d8fc2446eaf6d15034cf96e0c2745e40353deef032a5dbf1dfed93",
	"aed31b6b5a341af8f27e66fb0b7633cf20fc27049e3eb7f6f623a4655b719ebb",
}

const (
	toID       = database.AccountID("0xbEE6ACE826eC3DE1B6349888B9151B92522F7F76")
	difficulty = 4
	wait       = 5 * time.Second
	tick       = 10 * time.Millisecond
)

// =============================================================================

func Test_SingleNodeCommit(t *testing.T) {
	for _, algorithm := range []string{genesis.AlgorithmPOW, genesis.AlgorithmPOS} {
		t.Run(algorithm, func(t *testing.T) {
			keys := newKeys(t, 1)
			db := newDB(t, newGenesis(algorithm, keys), memory.New())
			rec := newRecorder()
			c := run(t, db, keys[0], rec, time.Second)

			err := c.SubmitTransaction(context.Background(), newTx(t, keys[0], 1, 100), true)
			require.NoError(t, err)

			select {
			case <-rec.txs:
			case <-time.After(wait):
				t.Fatal("client transaction should be shared")
			}

			require.Eventually(t, func() bool { return db.Head().Header.Number == 1 }, wait, tick)

			balance, nonce := db.BalanceAndNonce(accountID(keys[0]))
			require.Equal(t, uint64(1000-100+10), balance, "proposer pays and collects the reward")
			require.Equal(t, uint64(1), nonce)

			status, err := c.Status(context.Background())
			require.NoError(t, err)
			require.Equal(t, uint64(1), status.Height)
			require.Equal(t, 0, status.Mempool)
			require.Equal(t, 1.0, testutil.ToFloat64(c.Metrics().Rounds.WithLabelValues(coordinator.OutcomeCommitted)))

			// The stored block carries the vote that finalized it.
			block, err := db.GetBlockByNumber(1)
			require.NoError(t, err)
			cert, err := voting.DecodeCertificate(block.Certificate)
			require.NoError(t, err)
			require.Len(t, cert.Votes, 1)
			require.Equal(t, accountID(keys[0]), cert.Votes[0].VoterID)
		})
	}
}

func Test_ProposalOnSubmit(t *testing.T) {
	keys := newKeys(t, 1)
	db := newDB(t, newGenesis(genesis.AlgorithmPOW, keys), memory.New())

	// The interval never fires during the test, only the arriving
	// transactions and the new heads start proposals.
	c, err := coordinator.Run(coordinator.Config{
		DB:               db,
		PrivateKey:       keys[0],
		ProposalInterval: time.Hour,
		RoundTimeout:     time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, c.Shutdown()) })

	for nonce := uint64(1); nonce <= 2; nonce++ {
		require.NoError(t, c.SubmitTransaction(context.Background(), newTx(t, keys[0], nonce, 10), false))
		require.Eventually(t, func() bool { return db.Head().Header.Number == nonce }, wait, tick)
	}
}

func Test_VotesFinalize(t *testing.T) {
	keys := newKeys(t, 3)
	db := newDB(t, newGenesis(genesis.AlgorithmPOW, keys), memory.New())
	rec := newRecorder()
	c := run(t, db, keys[0], rec, time.Minute)

	require.NoError(t, c.SubmitTransaction(context.Background(), newTx(t, keys[0], 1, 100), false))

	block := rec.nextBlock(t)
	vote := rec.nextVote(t)
	require.Equal(t, block.Hash(), vote.BlockHash)
	require.Equal(t, voting.Accept, vote.Decision)

	// A vote signed by one validator in the name of another is dropped.
	forged, err := voting.NewVote(block.Hash(), voting.Accept, keys[2])
	require.NoError(t, err)
	forged.VoterID = accountID(keys[1])
	require.NoError(t, c.OnVoteReceived(forged))

	status, err := c.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(0), status.Height)
	require.Equal(t, coordinator.Voting.String(), status.State)
	require.Equal(t, block.Hash(), status.Candidate)
	require.Equal(t, 1.0, testutil.ToFloat64(c.Metrics().Votes.WithLabelValues(string(voting.Accept), "dropped")))

	accept, err := voting.NewVote(block.Hash(), voting.Accept, keys[1])
	require.NoError(t, err)
	require.NoError(t, c.OnVoteReceived(accept))

	require.Eventually(t, func() bool { return db.Head().Hash() == block.Hash() }, wait, tick)
}

func Test_RejectVotes(t *testing.T) {
	keys := newKeys(t, 3)
	db := newDB(t, newGenesis(genesis.AlgorithmPOW, keys), memory.New())
	rec := newRecorder()
	c := run(t, db, keys[0], rec, time.Minute)

	require.NoError(t, c.SubmitTransaction(context.Background(), newTx(t, keys[0], 1, 100), false))

	block := rec.nextBlock(t)
	for _, k := range keys[1:] {
		reject, err := voting.NewVote(block.Hash(), voting.Reject, k)
		require.NoError(t, err)
		require.NoError(t, c.OnVoteReceived(reject))
	}

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(c.Metrics().Rounds.WithLabelValues(coordinator.OutcomeRejected)) >= 1
	}, wait, tick)

	// The rejected block is never considered again.
	require.NoError(t, c.OnBlockReceived(block))
	status, err := c.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(0), status.Height)
	require.NotEqual(t, block.Hash(), status.Candidate)
	require.Equal(t, 1, status.Mempool, "transactions survive a rejected round")
}

func Test_RoundTimeout(t *testing.T) {
	keys := newKeys(t, 3)
	db := newDB(t, newGenesis(genesis.AlgorithmPOW, keys), memory.New())
	c := run(t, db, keys[0], newRecorder(), 100*time.Millisecond)

	require.NoError(t, c.SubmitTransaction(context.Background(), newTx(t, keys[0], 1, 100), false))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(c.Metrics().Rounds.WithLabelValues(coordinator.OutcomeTimeout)) >= 1
	}, wait, tick)

	status, err := c.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(0), status.Height)
	require.Equal(t, 1, status.Mempool, "transactions survive a timed out round")
}

func Test_CompetingCandidates(t *testing.T) {
	keys := newKeys(t, 3)
	db := newDB(t, newGenesis(genesis.AlgorithmPOW, keys), memory.New())
	rec := newRecorder()
	c := run(t, db, keys[0], rec, time.Minute)

	blockB := propose(t, keys[1], db.Head(), newTx(t, keys[0], 1, 10), difficulty)
	blockC := propose(t, keys[2], db.Head(), newTx(t, keys[0], 1, 20), difficulty)
	require.NotEqual(t, blockB.Hash(), blockC.Hash())

	require.NoError(t, c.OnBlockReceived(blockB))
	vote := rec.nextVote(t)
	require.Equal(t, blockB.Hash(), vote.BlockHash, "the first valid candidate gets the vote")

	require.NoError(t, c.OnBlockReceived(blockC))

	accept, err := voting.NewVote(blockB.Hash(), voting.Accept, keys[2])
	require.NoError(t, err)
	require.NoError(t, c.OnVoteReceived(accept))

	require.Eventually(t, func() bool { return db.Head().Hash() == blockB.Hash() }, wait, tick)

	require.NoError(t, c.OnFinalizedBlock(blockC))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(c.Metrics().Rounds.WithLabelValues(coordinator.OutcomeConflict)) == 1
	}, wait, tick)

	require.Equal(t, blockB.Hash(), db.Head().Hash(), "only one candidate commits at a height")
	balance, _ := db.BalanceAndNonce(toID)
	require.Equal(t, uint64(10), balance)
}

func Test_NewHeadAbortsRound(t *testing.T) {
	keys := newKeys(t, 3)
	db := newDB(t, newGenesis(genesis.AlgorithmPOW, keys), memory.New())
	rec := newRecorder()
	c := run(t, db, keys[0], rec, time.Minute)

	require.NoError(t, c.SubmitTransaction(context.Background(), newTx(t, keys[0], 1, 100), false))
	own := rec.nextBlock(t)

	other := propose(t, keys[1], db.Head(), newTx(t, keys[0], 1, 50), difficulty)
	require.NoError(t, c.OnFinalizedBlock(certify(t, other, keys[1], keys[2])))

	require.Eventually(t, func() bool { return db.Head().Hash() == other.Hash() }, wait, tick)
	require.NotEqual(t, own.Hash(), db.Head().Hash())

	status, err := c.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, coordinator.Idle.String(), status.State)
	require.Equal(t, 0, status.Mempool, "the committed nonce retires the pending transaction")
	require.Equal(t, 1.0, testutil.ToFloat64(c.Metrics().Rounds.WithLabelValues(coordinator.OutcomeNewHead)))
}

func Test_InvalidCandidate(t *testing.T) {
	keys := newKeys(t, 3)
	db := newDB(t, newGenesis(genesis.AlgorithmPOW, keys), memory.New())
	rec := newRecorder()
	c := run(t, db, keys[0], rec, time.Minute)

	weak := propose(t, keys[1], db.Head(), newTx(t, keys[0], 1, 10), 1)
	require.NoError(t, c.OnBlockReceived(weak))

	vote := rec.nextVote(t)
	require.Equal(t, weak.Hash(), vote.BlockHash)
	require.Equal(t, voting.Reject, vote.Decision)

	status, err := c.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, coordinator.Idle.String(), status.State)
	require.Equal(t, 1.0, testutil.ToFloat64(c.Metrics().Rounds.WithLabelValues(coordinator.OutcomeInvalid)))
}

func Test_FinalizedNeedsQuorum(t *testing.T) {
	keys := newKeys(t, 3)
	db := newDB(t, newGenesis(genesis.AlgorithmPOW, keys), memory.New())
	c := run(t, db, keys[0], newRecorder(), time.Minute)

	// A single validator proposes and claims the block is finalized.
	block := propose(t, keys[2], db.Head(), newTx(t, keys[0], 1, 50), difficulty)

	for _, claimed := range []database.Block{block, certify(t, block, keys[2])} {
		require.NoError(t, c.OnFinalizedBlock(claimed))

		status, err := c.Status(context.Background())
		require.NoError(t, err)
		require.Equal(t, uint64(0), status.Height, "a block without a quorum of votes is never committed")
	}
	require.Equal(t, 2.0, testutil.ToFloat64(c.Metrics().Rounds.WithLabelValues(coordinator.OutcomeUncertified)))

	require.NoError(t, c.OnFinalizedBlock(certify(t, block, keys[1], keys[2])))
	require.Eventually(t, func() bool { return db.Head().Hash() == block.Hash() }, wait, tick)
}

func Test_FutureBlockWaits(t *testing.T) {
	keys := newKeys(t, 3)
	db := newDB(t, newGenesis(genesis.AlgorithmPOW, keys), memory.New())
	rec := newRecorder()
	c := run(t, db, keys[0], rec, time.Minute)

	b1 := propose(t, keys[1], db.Head(), newTx(t, keys[0], 1, 10), difficulty)
	b2 := propose(t, keys[1], b1, newTx(t, keys[0], 2, 10), difficulty)

	// This node is behind, the block two heights up can't be judged yet.
	require.NoError(t, c.OnBlockReceived(b2))

	status, err := c.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, status.Waiting)
	require.Empty(t, status.Candidate)
	require.Equal(t, 0.0, testutil.ToFloat64(c.Metrics().Rounds.WithLabelValues(coordinator.OutcomeInvalid)))

	select {
	case vote := <-rec.votes:
		t.Fatalf("no vote should be cast on a block ahead of the chain, got %s", vote)
	default:
	}

	// Catching up makes the waiting block the candidate.
	require.NoError(t, c.OnFinalizedBlock(certify(t, b1, keys[1], keys[2])))

	vote := rec.nextVote(t)
	require.Equal(t, b2.Hash(), vote.BlockHash)
	require.Equal(t, voting.Accept, vote.Decision)

	status, err = c.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), status.Height)
	require.Equal(t, b2.Hash(), status.Candidate)
	require.Equal(t, 0, status.Waiting)
}

func Test_PersistFailure(t *testing.T) {
	keys := newKeys(t, 1)
	storage := failingStorage{Memory: memory.New()}
	db := newDB(t, newGenesis(genesis.AlgorithmPOW, keys), &storage)

	c, err := coordinator.Run(coordinator.Config{
		DB:               db,
		PrivateKey:       keys[0],
		ProposalInterval: tick,
		RoundTimeout:     time.Second,
	})
	require.NoError(t, err)

	require.NoError(t, c.SubmitTransaction(context.Background(), newTx(t, keys[0], 1, 100), false))

	select {
	case <-c.Done():
	case <-time.After(wait):
		t.Fatal("coordinator should stop on a storage failure")
	}

	require.True(t, database.IsPersistError(c.Err()))

	err = c.Shutdown()
	require.True(t, database.IsPersistError(err))
	require.Equal(t, uint64(0), db.Head().Header.Number)

	err = c.SubmitTransaction(context.Background(), newTx(t, keys[0], 2, 100), false)
	require.ErrorIs(t, err, coordinator.ErrShutdown)
}

// =============================================================================

type recorder struct {
	blocks chan database.Block
	votes  chan voting.Vote
	txs    chan database.SignedTx
}

func newRecorder() *recorder {
	return &recorder{
		blocks: make(chan database.Block, 100),
		votes:  make(chan voting.Vote, 100),
		txs:    make(chan database.SignedTx, 100),
	}
}

func (r *recorder) BroadcastBlock(block database.Block) error {
	select {
	case r.blocks <- block:
	default:
	}
	return nil
}

func (r *recorder) BroadcastVote(vote voting.Vote) error {
	select {
	case r.votes <- vote:
	default:
	}
	return nil
}

func (r *recorder) BroadcastTx(tx database.SignedTx) error {
	select {
	case r.txs <- tx:
	default:
	}
	return nil
}

func (r *recorder) nextBlock(t *testing.T) database.Block {
	t.Helper()

	select {
	case block := <-r.blocks:
		return block
	case <-time.After(wait):
		t.Fatal("expected a block to be broadcast")
	}
	return database.Block{}
}

func (r *recorder) nextVote(t *testing.T) voting.Vote {
	t.Helper()

	select {
	case vote := <-r.votes:
		return vote
	case <-time.After(wait):
		t.Fatal("expected a vote to be broadcast")
	}
	return voting.Vote{}
}

type failingStorage struct {
	*memory.Memory
}

func (failingStorage) Write(database.BlockData) error {
	return errors.New("disk full")
}

// =============================================================================

func run(t *testing.T, db *database.Database, pk *ecdsa.PrivateKey, b coordinator.Broadcaster, timeout time.Duration) *coordinator.Coordinator {
	t.Helper()

	c, err := coordinator.Run(coordinator.Config{
		DB:               db,
		PrivateKey:       pk,
		Broadcaster:      b,
		ProposalInterval: tick,
		RoundTimeout:     timeout,
		EvHandler:        func(v string, args ...any) { t.Logf(v, args...) },
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, c.Shutdown())
	})

	return c
}

func newKeys(t *testing.T, n int) []*ecdsa.PrivateKey {
	t.Helper()

	keys := make([]*ecdsa.PrivateKey, n)
	for i := range keys {
		pk, err := crypto.HexToECDSA(hexKeys[i])
		require.NoError(t, err)
		keys[i] = pk
	}

	return keys
}

func accountID(pk *ecdsa.PrivateKey) database.AccountID {
	return database.PublicKeyToAccountID(pk.PublicKey)
}

func newGenesis(algorithm string, keys []*ecdsa.PrivateKey) genesis.Genesis {
	gen := genesis.Genesis{
		ChainID:       1,
		Algorithm:     algorithm,
		Quorum:        genesis.QuorumLeader,
		TransPerBlock: 10,
		Difficulty:    difficulty,
		MiningReward:  10,
		Balances:      map[string]uint64{string(accountID(keys[0])): 1000},
	}

	for _, k := range keys {
		gen.Validators = append(gen.Validators, genesis.Validator{
			Account: string(accountID(k)),
			Stake:   100,
		})
	}

	return gen
}

func newDB(t *testing.T, gen genesis.Genesis, storage database.Storage) *database.Database {
	t.Helper()

	db, err := database.New(gen, storage, nil)
	require.NoError(t, err)

	return db
}

func newTx(t *testing.T, pk *ecdsa.PrivateKey, nonce uint64, value uint64) database.SignedTx {
	t.Helper()

	tx, err := database.NewTx(1, nonce, accountID(pk), toID, value, nil)
	require.NoError(t, err)

	signed, err := tx.Sign(pk)
	require.NoError(t, err)

	return signed
}

func certify(t *testing.T, block database.Block, voters ...*ecdsa.PrivateKey) database.Block {
	t.Helper()

	cert := voting.Certificate{BlockHash: block.Hash()}
	for _, pk := range voters {
		vote, err := voting.NewVote(block.Hash(), voting.Accept, pk)
		require.NoError(t, err)
		cert.Votes = append(cert.Votes, vote)
	}

	data, err := cert.Encode()
	require.NoError(t, err)
	block.Certificate = data

	return block
}

func propose(t *testing.T, pk *ecdsa.PrivateKey, head database.Block, tx database.SignedTx, difficulty uint16) database.Block {
	t.Helper()

	s, err := consensus.New(consensus.Config{Algorithm: genesis.AlgorithmPOW, PrivateKey: pk})
	require.NoError(t, err)

	block, err := s.Propose(context.Background(), consensus.ProposeArgs{
		Head:       head,
		Trans:      []database.SignedTx{tx},
		Difficulty: difficulty,
	})
	require.NoError(t, err)

	return block
}
