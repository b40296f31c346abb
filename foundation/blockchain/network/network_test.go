package network_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ardanlabs/consensus/foundation/blockchain/database"
	"github.com/ardanlabs/consensus/foundation/blockchain/network"
	"github.com/ardanlabs/consensus/foundation/blockchain/peer"
	"github.com/ardanlabs/consensus/foundation/blockchain/voting"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

const pkHexKey = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"

// node is a fake peer that records what it receives and serves a fixed
// chain.
type node struct {
	mu     sync.Mutex
	paths  []string
	votes  []voting.Vote
	blocks []database.BlockData
	srv    *httptest.Server
}

func newNode(t *testing.T, chain []database.Block) *node {
	n := node{}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/node/", func(w http.ResponseWriter, r *http.Request) {
		n.mu.Lock()
		defer n.mu.Unlock()

		n.paths = append(n.paths, r.URL.Path)

		switch {
		case r.URL.Path == "/v1/node/vote":
			var v voting.Vote
			if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			n.votes = append(n.votes, v)

		case r.URL.Path == "/v1/node/block/propose":
			var bd database.BlockData
			if err := json.NewDecoder(r.Body).Decode(&bd); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			n.blocks = append(n.blocks, bd)

		case r.URL.Path == "/v1/node/status":
			ps := peer.PeerStatus{KnownPeers: []peer.Peer{{Host: "discovered:9080"}}}
			if len(chain) > 0 {
				ps.LatestBlockNumber = chain[len(chain)-1].Header.Number
				ps.LatestBlockHash = chain[len(chain)-1].Hash()
			}
			json.NewEncoder(w).Encode(ps)
			return

		case strings.HasPrefix(r.URL.Path, "/v1/node/block/list/"):
			bds := make([]database.BlockData, len(chain))
			for i, b := range chain {
				bds[i] = database.NewBlockData(b)
			}
			json.NewEncoder(w).Encode(bds)
			return
		}

		w.WriteHeader(http.StatusOK)
	})

	n.srv = httptest.NewServer(mux)
	t.Cleanup(n.srv.Close)

	return &n
}

func (n *node) host() string {
	return strings.TrimPrefix(n.srv.URL, "http://")
}

// =============================================================================

func Test_Broadcast(t *testing.T) {
	n1 := newNode(t, nil)
	n2 := newNode(t, nil)

	peers := peer.NewPeerSet()
	peers.Add(peer.New(n1.host()))
	peers.Add(peer.New(n2.host()))
	peers.Add(peer.New("self:9080"))

	net := network.New(network.Config{Host: "self:9080", Peers: peers})
	require.Len(t, net.Peers(), 2, "this node is never a peer of itself")

	pk, err := crypto.HexToECDSA(pkHexKey)
	require.NoError(t, err)

	block := database.NewBlock(database.PublicKeyToAccountID(pk.PublicKey), database.Block{}, nil)
	require.NoError(t, net.BroadcastBlock(block))

	vote, err := voting.NewVote(block.Hash(), voting.Accept, pk)
	require.NoError(t, err)
	require.NoError(t, net.BroadcastVote(vote))

	for _, n := range []*node{n1, n2} {
		n.mu.Lock()
		require.Len(t, n.blocks, 1)
		require.Equal(t, block.Hash(), n.blocks[0].Hash)
		require.Len(t, n.votes, 1)
		require.NoError(t, n.votes[0].VerifySignature(), "the vote survives the wire")
		n.mu.Unlock()
	}
}

func Test_BroadcastFailure(t *testing.T) {
	n1 := newNode(t, nil)

	peers := peer.NewPeerSet()
	peers.Add(peer.New(n1.host()))
	peers.Add(peer.New("127.0.0.1:1"))

	net := network.New(network.Config{Host: "self:9080", Peers: peers})

	err := net.BroadcastTx(database.SignedTx{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "127.0.0.1:1")

	n1.mu.Lock()
	defer n1.mu.Unlock()
	require.Equal(t, []string{"/v1/node/tx/submit"}, n1.paths, "reachable peers still receive the delivery")
}

func Test_Sync(t *testing.T) {
	pk, err := crypto.HexToECDSA(pkHexKey)
	require.NoError(t, err)
	proposer := database.PublicKeyToAccountID(pk.PublicKey)

	b1 := database.NewBlock(proposer, database.Block{}, nil)
	b2 := database.NewBlock(proposer, b1, nil)
	remote := newNode(t, []database.Block{b1, b2})

	peers := peer.NewPeerSet()
	peers.Add(peer.New(remote.host()))

	net := network.New(network.Config{Host: "self:9080", Peers: peers})

	var got []database.Block
	s := network.RunSyncer(network.SyncConfig{
		Network: net,
		Head:    func() database.Block { return database.Block{} },
		Deliver: func(b database.Block) error {
			got = append(got, b)
			return nil
		},
	})
	s.Shutdown()

	require.Len(t, got, 2)
	require.Equal(t, b1.Hash(), got[0].Hash())
	require.Equal(t, b2.Hash(), got[1].Hash())

	hosts := make(map[string]bool)
	for _, p := range net.Peers() {
		hosts[p.Host] = true
	}
	require.True(t, hosts["discovered:9080"], "peers of peers are learned")

	ps, err := net.RequestPeerStatus(context.Background(), peer.New(remote.host()))
	require.NoError(t, err)
	require.Equal(t, uint64(2), ps.LatestBlockNumber)
}
