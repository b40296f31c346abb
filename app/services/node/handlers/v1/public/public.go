// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ardanlabs/consensus/business/web/errs"
	"github.com/ardanlabs/consensus/foundation/blockchain/coordinator"
	"github.com/ardanlabs/consensus/foundation/blockchain/database"
	"github.com/ardanlabs/consensus/foundation/blockchain/mempool"
	"github.com/ardanlabs/consensus/foundation/blockchain/validator"
	"github.com/ardanlabs/consensus/foundation/events"
	"github.com/ardanlabs/consensus/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of public node endpoints.
type Handlers struct {
	Log     *zap.SugaredLogger
	DB      *database.Database
	Mempool *mempool.Mempool
	Coord   *coordinator.Coordinator
	WS      websocket.Upgrader
	Evts    *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return nil
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// SubmitWalletTransaction adds new user transactions to the mempool.
func (h Handlers) SubmitWalletTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var signedTx database.SignedTx
	if err := web.Decode(r, &signedTx); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	h.Log.Infow("add user tran", "traceid", v.TraceID, "from:nonce", signedTx, "to", signedTx.ToID, "value", signedTx.Value)
	if err := h.Coord.SubmitTransaction(ctx, signedTx, true); err != nil {
		if validator.IsValidationError(err) {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
		return err
	}

	resp := struct {
		Status string `json:"status"`
		ID     string `json:"id"`
	}{
		Status: "transaction added to mempool",
		ID:     signedTx.ID(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Genesis returns the genesis information.
func (h Handlers) Genesis(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.DB.Genesis(), http.StatusOK)
}

// Uncommitted returns the set of uncommitted transactions, optionally filtered
// to the ones an account sends or receives.
func (h Handlers) Uncommitted(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	acct := database.AccountID(web.Param(r, "account"))

	trans := []tx{}
	for _, tran := range h.Mempool.Copy() {
		if acct != "" && !acct.Equal(tran.FromID) && !acct.Equal(tran.ToID) {
			continue
		}
		trans = append(trans, toTx(tran))
	}

	return web.Respond(ctx, w, trans, http.StatusOK)
}

// Accounts returns the current balances for all accounts or a single one.
func (h Handlers) Accounts(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	snap := h.DB.Snapshot()

	var acts []info
	switch account := web.Param(r, "account"); account {
	case "":
		for _, act := range snap.Accounts() {
			acts = append(acts, info{Account: act.AccountID, Balance: act.Balance, Nonce: act.Nonce})
		}

	default:
		accountID, err := database.ToAccountID(account)
		if err != nil {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
		act := snap.Account(accountID)
		acts = append(acts, info{Account: accountID, Balance: act.Balance, Nonce: act.Nonce})
	}

	ai := actInfo{
		LatestBlock: snap.Head.Hash(),
		Height:      snap.Head.Header.Number,
		Uncommitted: h.Mempool.Count(),
		Accounts:    acts,
	}

	return web.Respond(ctx, w, ai, http.StatusOK)
}

// BlockByHash returns the committed block with the specified hash.
func (h Handlers) BlockByHash(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	blk, exists := h.DB.GetBlock(web.Param(r, "hash"))
	if !exists {
		return errs.NewTrusted(errors.New("block not found"), http.StatusNotFound)
	}

	return web.Respond(ctx, w, toBlock(blk), http.StatusOK)
}

// BlocksByNumber returns the committed blocks in the specified range.
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

	var blocks []block
	for num := max(from, 1); num <= min(to, head); num++ {
		blk, err := h.DB.GetBlockByNumber(num)
		if err != nil {
			return err
		}
		blocks = append(blocks, toBlock(blk))
	}

	if len(blocks) == 0 {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	return web.Respond(ctx, w, blocks, http.StatusOK)
}

// =============================================================================

// parseNumber converts a block number parameter. The word latest and an
// empty value mean the head.
func parseNumber(s string, head uint64) (uint64, error) {
	if s == "" || s == "latest" {
		return head, nil
	}

	return strconv.ParseUint(s, 10, 64)
}
