// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"

	"github.com/ardanlabs/coopledger/app/services/ledger/handlers/v1/ledgergrp"
	"github.com/ardanlabs/coopledger/foundation/blockchain/state"
	"github.com/ardanlabs/coopledger/foundation/events"
	"github.com/ardanlabs/coopledger/foundation/web"
	"go.uber.org/zap"
)

const version = "v1"

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log   *zap.SugaredLogger
	State *state.State
	Evts  *events.Events
}

// Routes binds all the version 1 routes.
func Routes(app *web.App, cfg Config) {
	lgh := ledgergrp.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
		Evts:  cfg.Evts,
	}

	app.Handle(http.MethodGet, version, "/events", lgh.Events)
	app.Handle(http.MethodGet, version, "/genesis", lgh.Genesis)
	app.Handle(http.MethodGet, version, "/status", lgh.Status)
	app.Handle(http.MethodPost, version, "/tx/submit", lgh.Submit)
	app.Handle(http.MethodPost, version, "/tx/seal/:id", lgh.SealNow)
	app.Handle(http.MethodPost, version, "/tx/fail/:id", lgh.Fail)
	app.Handle(http.MethodGet, version, "/tx/pending/list", lgh.Mempool)
	app.Handle(http.MethodGet, version, "/tx/verify/:id", lgh.Verify)
	app.Handle(http.MethodGet, version, "/tx/:id", lgh.QueryTransaction)
	app.Handle(http.MethodGet, version, "/blocks/list", lgh.BlocksByNumber)
	app.Handle(http.MethodGet, version, "/blocks/list/:from/:to", lgh.BlocksByNumber)
	app.Handle(http.MethodGet, version, "/blocks/hash/:hash", lgh.BlockByHash)
	app.Handle(http.MethodGet, version, "/chain/validate", lgh.Validate)
	app.Handle(http.MethodPost, version, "/sealing/signal", lgh.SignalSealing)
}
