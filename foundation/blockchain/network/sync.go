package network

import (
	"context"
	"sync"
	"time"

	"github.com/ardanlabs/consensus/foundation/blockchain/database"
	"github.com/ardanlabs/consensus/foundation/blockchain/peer"
)

// SyncConfig represents the settings for the peer sync worker.
type SyncConfig struct {
	Network  *Network
	Interval time.Duration
	Head     func() database.Block
	Deliver  func(database.Block) error
}

// Syncer periodically asks the known peers for their status, learns the
// peers they know about and pulls any committed blocks this node is
// missing.
type Syncer struct {
	net      *Network
	interval time.Duration
	head     func() database.Block
	deliver  func(database.Block) error
	shut     chan struct{}
	wg       sync.WaitGroup
}

// RunSyncer performs one sync pass and then starts the worker that repeats
// it on every interval.
func RunSyncer(cfg SyncConfig) *Syncer {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	s := Syncer{
		net:      cfg.Network,
		interval: interval,
		head:     cfg.Head,
		deliver:  cfg.Deliver,
		shut:     make(chan struct{}),
	}

	s.Sync(context.Background())

	s.wg.Add(1)

	hasStarted := make(chan bool)
	go func() {
		defer s.wg.Done()
		hasStarted <- true
		s.peerOperations()
	}()

	<-hasStarted

	return &s
}

// Shutdown terminates the sync worker.
func (s *Syncer) Shutdown() {
	s.net.evHandler("network: syncer: shutdown: started")
	defer s.net.evHandler("network: syncer: shutdown: completed")

	close(s.shut)
	s.wg.Wait()
}

// Sync performs a single pass over the known peers.
func (s *Syncer) Sync(ctx context.Context) {
	s.net.evHandler("network: Sync: started")
	defer s.net.evHandler("network: Sync: completed")

	for _, pr := range s.net.Peers() {
		ps, err := s.net.RequestPeerStatus(ctx, pr)
		if err != nil {
			s.net.evHandler("network: Sync: RequestPeerStatus: %s: ERROR: %s", pr.Host, err)
			continue
		}

		s.addNewPeers(ps.KnownPeers)

		head := s.head()
		if ps.LatestBlockNumber <= head.Header.Number {
			continue
		}

		blocks, err := s.net.RequestPeerBlocks(ctx, pr, head.Header.Number+1)
		if err != nil {
			s.net.evHandler("network: Sync: RequestPeerBlocks: %s: ERROR: %s", pr.Host, err)
			continue
		}

		for _, block := range blocks {
			if err := s.deliver(block); err != nil {
				s.net.evHandler("network: Sync: deliver: blk[%d]: ERROR: %s", block.Header.Number, err)
				break
			}
		}
	}
}

// peerOperations repeats the sync pass until shutdown.
func (s *Syncer) peerOperations() {
	s.net.evHandler("network: peerOperations: G started")
	defer s.net.evHandler("network: peerOperations: G completed")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.interval)
			s.Sync(ctx)
			cancel()

		case <-s.shut:
			s.net.evHandler("network: peerOperations: received shut signal")
			return
		}
	}
}

// addNewPeers makes sure the peers known to a peer are known to this node.
func (s *Syncer) addNewPeers(knownPeers []peer.Peer) {
	for _, pr := range knownPeers {
		if pr.Match(s.net.host) {
			continue
		}

		if s.net.peers.Add(pr) {
			s.net.evHandler("network: addNewPeers: adding peer-node %s: known[%d]", pr, s.net.peers.Len())
		}
	}
}
