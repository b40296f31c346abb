// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"

	"github.com/ardanlabs/consensus/app/services/node/handlers/v1/private"
	"github.com/ardanlabs/consensus/app/services/node/handlers/v1/public"
	"github.com/ardanlabs/consensus/foundation/blockchain/coordinator"
	"github.com/ardanlabs/consensus/foundation/blockchain/database"
	"github.com/ardanlabs/consensus/foundation/blockchain/mempool"
	"github.com/ardanlabs/consensus/foundation/blockchain/network"
	"github.com/ardanlabs/consensus/foundation/events"
	"github.com/ardanlabs/consensus/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const version = "v1"

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log     *zap.SugaredLogger
	DB      *database.Database
	Mempool *mempool.Mempool
	Coord   *coordinator.Coordinator
	Net     *network.Network
	Evts    *events.Events
}

// PublicRoutes binds all the version 1 public routes.
func PublicRoutes(app *web.App, cfg Config) {
	pbl := public.Handlers{
		Log:     cfg.Log,
		DB:      cfg.DB,
		Mempool: cfg.Mempool,
		Coord:   cfg.Coord,
		WS:      websocket.Upgrader{},
		Evts:    cfg.Evts,
	}

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodGet, version, "/genesis/list", pbl.Genesis)
	app.Handle(http.MethodGet, version, "/accounts/list", pbl.Accounts)
	app.Handle(http.MethodGet, version, "/accounts/list/:account", pbl.Accounts)
	app.Handle(http.MethodGet, version, "/blocks/list/:from/:to", pbl.BlocksByNumber)
	app.Handle(http.MethodGet, version, "/blocks/hash/:hash", pbl.BlockByHash)
	app.Handle(http.MethodGet, version, "/tx/uncommitted/list", pbl.Uncommitted)
	app.Handle(http.MethodGet, version, "/tx/uncommitted/list/:account", pbl.Uncommitted)
	app.Handle(http.MethodPost, version, "/tx/submit", pbl.SubmitWalletTransaction)
}

// PrivateRoutes binds all the version 1 private routes.
func PrivateRoutes(app *web.App, cfg Config) {
	prv := private.Handlers{
		Log:     cfg.Log,
		DB:      cfg.DB,
		Mempool: cfg.Mempool,
		Coord:   cfg.Coord,
		Net:     cfg.Net,
	}

	app.Handle(http.MethodGet, version, "/node/status", prv.Status)
	app.Handle(http.MethodGet, version, "/node/block/list/:from/:to", prv.BlocksByNumber)
	app.Handle(http.MethodPost, version, "/node/block/propose", prv.ProposeBlock)
	app.Handle(http.MethodPost, version, "/node/block/finalized", prv.FinalizedBlock)
	app.Handle(http.MethodPost, version, "/node/vote", prv.SubmitVote)
	app.Handle(http.MethodPost, version, "/node/tx/submit", prv.SubmitNodeTransaction)
	app.Handle(http.MethodGet, version, "/node/tx/list", prv.Uncommitted)
}
