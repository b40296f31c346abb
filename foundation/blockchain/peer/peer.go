// Package peer maintains what a node knows about the other nodes: the hosts
// it exchanges blocks, votes and transactions with, the status they report
// and the validator set that decides which of them vote.
package peer

import (
	"slices"
	"strings"
	"sync"
)

// Peer is the address of another node's private API. Validators publish
// theirs in the genesis file, the rest are learned from the status other
// nodes report.
type Peer struct {
	Host string `json:"host"`
}

// New constructs a peer for the host. Surrounding space is dropped so a
// host read from configuration matches the one a node reports.
func New(host string) Peer {
	return Peer{
		Host: strings.TrimSpace(host),
	}
}

// Match reports whether the peer is reachable at the specified host.
func (p Peer) Match(host string) bool {
	return strings.EqualFold(p.Host, strings.TrimSpace(host))
}

// String implements the fmt.Stringer interface for logging.
func (p Peer) String() string {
	return p.Host
}

// =============================================================================

// PeerStatus is what a node reports about itself: its committed head, the
// round state it is in and the peers it knows.
type PeerStatus struct {
	LatestBlockHash   string `json:"latest_block_hash"`
	LatestBlockNumber uint64 `json:"latest_block_number"`
	State             string `json:"state"`
	KnownPeers        []Peer `json:"known_peers"`
}

// =============================================================================

// PeerSet is the set of hosts a node delivers to and syncs from. Hosts are
// compared without regard to case. It is safe for concurrent use, the
// syncer adds to it while broadcasts read it.
type PeerSet struct {
	mu  sync.RWMutex
	set map[string]Peer
}

// NewPeerSet constructs an empty peer set.
func NewPeerSet() *PeerSet {
	return &PeerSet{
		set: make(map[string]Peer),
	}
}

// Add records the peer. It reports false when the host is empty or
// already known.
func (ps *PeerSet) Add(peer Peer) bool {
	key := strings.ToLower(strings.TrimSpace(peer.Host))
	if key == "" {
		return false
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, exists := ps.set[key]; exists {
		return false
	}

	ps.set[key] = New(peer.Host)
	return true
}

// Len returns the number of known peers.
func (ps *PeerSet) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	return len(ps.set)
}

// Copy returns the known peers ordered by host, leaving out the specified
// host so a node never delivers to itself.
func (ps *PeerSet) Copy(host string) []Peer {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	peers := make([]Peer, 0, len(ps.set))
	for _, peer := range ps.set {
		if !peer.Match(host) {
			peers = append(peers, peer)
		}
	}

	slices.SortFunc(peers, func(a, b Peer) int {
		return strings.Compare(strings.ToLower(a.Host), strings.ToLower(b.Host))
	})

	return peers
}
