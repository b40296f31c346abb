// Package network delivers blocks, votes and transactions to the other nodes
// over the private HTTP API and pulls committed blocks from them.
package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ardanlabs/consensus/foundation/blockchain/database"
	"github.com/ardanlabs/consensus/foundation/blockchain/peer"
	"github.com/ardanlabs/consensus/foundation/blockchain/voting"
	"golang.org/x/sync/errgroup"
)

const baseURL = "http://%s/v1/node"

// defaultTimeout bounds a single request to a peer.
const defaultTimeout = 5 * time.Second

// EventHandler defines a function that is called when events occur in the
// processing of network requests.
type EventHandler func(v string, args ...any)

// Config represents the settings for talking to the other nodes.
type Config struct {
	Host      string
	Peers     *peer.PeerSet
	Timeout   time.Duration
	EvHandler EventHandler
}

// Network sends and requests data from the known peers.
type Network struct {
	host      string
	peers     *peer.PeerSet
	client    *http.Client
	timeout   time.Duration
	evHandler EventHandler
}

// New constructs a network for the specified peers.
func New(cfg Config) *Network {
	ev := cfg.EvHandler
	if ev == nil {
		ev = func(v string, args ...any) {}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	peers := cfg.Peers
	if peers == nil {
		peers = peer.NewPeerSet()
	}

	return &Network{
		host:      cfg.Host,
		peers:     peers,
		client:    &http.Client{Timeout: timeout},
		timeout:   timeout,
		evHandler: ev,
	}
}

// Peers returns the known peers other than this node.
func (n *Network) Peers() []peer.Peer {
	return n.peers.Copy(n.host)
}

// =============================================================================

// BroadcastBlock sends a candidate block to every known peer.
func (n *Network) BroadcastBlock(block database.Block) error {
	n.evHandler("network: BroadcastBlock: started: blk[%d]", block.Header.Number)
	defer n.evHandler("network: BroadcastBlock: completed: blk[%d]", block.Header.Number)

	return n.fanOut("block/propose", database.NewBlockData(block))
}

// BroadcastVote sends a vote to every known peer.
func (n *Network) BroadcastVote(vote voting.Vote) error {
	n.evHandler("network: BroadcastVote: started: %s", vote)
	defer n.evHandler("network: BroadcastVote: completed: %s", vote)

	return n.fanOut("vote", vote)
}

// BroadcastTx shares a transaction submitted to this node with every known
// peer.
func (n *Network) BroadcastTx(tx database.SignedTx) error {
	n.evHandler("network: BroadcastTx: started: tx[%s]", tx)
	defer n.evHandler("network: BroadcastTx: completed: tx[%s]", tx)

	return n.fanOut("tx/submit", tx)
}

// RequestPeerStatus asks the peer for its view of the chain.
func (n *Network) RequestPeerStatus(ctx context.Context, pr peer.Peer) (peer.PeerStatus, error) {
	url := fmt.Sprintf("%s/status", fmt.Sprintf(baseURL, pr.Host))

	var ps peer.PeerStatus
	if err := n.send(ctx, http.MethodGet, url, nil, &ps); err != nil {
		return peer.PeerStatus{}, err
	}

	n.evHandler("network: RequestPeerStatus: peer-node[%s]: latest-blknum[%d]", pr, ps.LatestBlockNumber)

	return ps, nil
}

// RequestPeerBlocks asks the peer for its committed blocks starting at the
// specified number.
func (n *Network) RequestPeerBlocks(ctx context.Context, pr peer.Peer, from uint64) ([]database.Block, error) {
	url := fmt.Sprintf("%s/block/list/%d/latest", fmt.Sprintf(baseURL, pr.Host), from)

	var blockData []database.BlockData
	if err := n.send(ctx, http.MethodGet, url, nil, &blockData); err != nil {
		return nil, err
	}

	blocks := make([]database.Block, 0, len(blockData))
	for _, bd := range blockData {
		block, err := database.ToBlock(bd)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", pr.Host, err)
		}
		blocks = append(blocks, block)
	}

	n.evHandler("network: RequestPeerBlocks: peer-node[%s]: found blocks[%d]", pr, len(blocks))

	return blocks, nil
}

// =============================================================================

// fanOut posts the value to every known peer concurrently. Every peer is
// tried and the first failure is reported.
func (n *Network) fanOut(path string, value any) error {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	var g errgroup.Group
	for _, pr := range n.Peers() {
		pr := pr
		g.Go(func() error {
			url := fmt.Sprintf("%s/%s", fmt.Sprintf(baseURL, pr.Host), path)
			if err := n.send(ctx, http.MethodPost, url, value, nil); err != nil {
				return fmt.Errorf("%s: %w", pr.Host, err)
			}
			return nil
		})
	}

	return g.Wait()
}

// send is a helper function to send an HTTP request to a node.
func (n *Network) send(ctx context.Context, method string, url string, dataSend any, dataRecv any) error {
	var body io.Reader
	if dataSend != nil {
		data, err := json.Marshal(dataSend)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if dataSend != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if resp.StatusCode != http.StatusOK {
		msg, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		return errors.New(string(msg))
	}

	if dataRecv != nil {
		if err := json.NewDecoder(resp.Body).Decode(dataRecv); err != nil {
			return err
		}
	}

	return nil
}
