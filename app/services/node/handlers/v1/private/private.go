// Package private maintains the group of handlers for node to node access.
package private

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/ardanlabs/consensus/business/sys/validate"
	"github.com/ardanlabs/consensus/business/web/errs"
	"github.com/ardanlabs/consensus/foundation/blockchain/coordinator"
	"github.com/ardanlabs/consensus/foundation/blockchain/database"
	"github.com/ardanlabs/consensus/foundation/blockchain/mempool"
	"github.com/ardanlabs/consensus/foundation/blockchain/network"
	"github.com/ardanlabs/consensus/foundation/blockchain/peer"
	"github.com/ardanlabs/consensus/foundation/blockchain/validator"
	"github.com/ardanlabs/consensus/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of node to node endpoints.
type Handlers struct {
	Log     *zap.SugaredLogger
	DB      *database.Database
	Mempool *mempool.Mempool
	Coord   *coordinator.Coordinator
	Net     *network.Network
}

// SubmitNodeTransaction adds a transaction shared by another node to the
// mempool.
func (h Handlers) SubmitNodeTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var tx database.SignedTx
	if err := web.Decode(r, &tx); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	h.Log.Infow("add node tran", "traceid", v.TraceID, "from:nonce", tx, "to", tx.ToID, "value", tx.Value)
	if err := h.Coord.SubmitTransaction(ctx, tx, false); err != nil {
		if validator.IsValidationError(err) {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
		return err
	}

	return respondStatus(ctx, w, "transaction added to mempool")
}

// ProposeBlock takes a candidate block from a peer and hands it to the
// coordinator for validation and voting.
func (h Handlers) ProposeBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	block, err := decodeBlock(r)
	if err != nil {
		return err
	}

	if err := h.Coord.OnBlockReceived(block); err != nil {
		return errs.NewTrusted(err, http.StatusServiceUnavailable)
	}

	return respondStatus(ctx, w, "queued")
}

// FinalizedBlock takes a block a peer has already committed. The block is
// only committed here when it carries a certificate with a quorum of signed
// accept votes.
func (h Handlers) FinalizedBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	block, err := decodeBlock(r)
	if err != nil {
		return err
	}

	if err := h.Coord.OnFinalizedBlock(block); err != nil {
		return errs.NewTrusted(err, http.StatusServiceUnavailable)
	}

	return respondStatus(ctx, w, "queued")
}

// SubmitVote takes a vote cast by another validator.
func (h Handlers) SubmitVote(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var nv newVote
	if err := web.Decode(r, &nv); err != nil {
		if validate.IsFieldErrors(err) {
			return err
		}
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if err := h.Coord.OnVoteReceived(nv.Vote); err != nil {
		return errs.NewTrusted(err, http.StatusServiceUnavailable)
	}

	return respondStatus(ctx, w, "queued")
}

// Status returns the current status of the node.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	cs, err := h.Coord.Status(ctx)
	if err != nil {
		return errs.NewTrusted(err, http.StatusServiceUnavailable)
	}

	st := peer.PeerStatus{
		LatestBlockHash:   cs.HeadHash,
		LatestBlockNumber: cs.Height,
		State:             cs.State,
		KnownPeers:        h.Net.Peers(),
	}

	return web.Respond(ctx, w, st, http.StatusOK)
}

// BlocksByNumber returns the committed blocks in the specified range in the
// form they are stored.
func (h Handlers) BlocksByNumber(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	head := h.DB.Head().Header.Number

	from, err := parseNumber(web.Param(r, "from"), head)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	to, err := parseNumber(web.Param(r, "to"), head)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if from > to {
		return errs.NewTrusted(errors.New("from greater than to"), http.StatusBadRequest)
	}

	var blockData []database.BlockData
	for num := max(from, 1); num <= min(to, head); num++ {
		blk, err := h.DB.GetBlockByNumber(num)
		if err != nil {
			return err
		}
		blockData = append(blockData, database.NewBlockData(blk))
	}

	if len(blockData) == 0 {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	return web.Respond(ctx, w, blockData, http.StatusOK)
}

// Uncommitted returns the set of uncommitted transactions.
func (h Handlers) Uncommitted(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Mempool.Copy(), http.StatusOK)
}

// =============================================================================

func decodeBlock(r *http.Request) (database.Block, error) {
	var blockData database.BlockData
	if err := web.Decode(r, &blockData); err != nil {
		return database.Block{}, errs.NewTrusted(err, http.StatusBadRequest)
	}

	block, err := database.ToBlock(blockData)
	if err != nil {
		return database.Block{}, errs.NewTrusted(err, http.StatusBadRequest)
	}

	return block, nil
}

func respondStatus(ctx context.Context, w http.ResponseWriter, msg string) error {
	resp := struct {
		Status string `json:"status"`
	}{
		Status: msg,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

func parseNumber(s string, head uint64) (uint64, error) {
	if s == "" || s == "latest" {
		return head, nil
	}

	return strconv.ParseUint(s, 10, 64)
}
