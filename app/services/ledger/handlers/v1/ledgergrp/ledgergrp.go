// Package ledgergrp maintains the group of handlers for ledger access.
package ledgergrp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ardanlabs/coopledger/business/web/errs"
	"github.com/ardanlabs/coopledger/foundation/blockchain/database"
	"github.com/ardanlabs/coopledger/foundation/blockchain/hasher"
	"github.com/ardanlabs/coopledger/foundation/blockchain/state"
	"github.com/ardanlabs/coopledger/foundation/events"
	"github.com/ardanlabs/coopledger/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of ledger endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	WS    websocket.Upgrader
	Evts  *events.Events
}

// Submit records a new business transaction as pending.
func (h Handlers) Submit(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var ntx newTx
	if err := web.Decode(r, &ntx); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	tx, err := h.State.Submit(toUserTx(ntx))
	if err != nil {
		return errs.Translate(fmt.Errorf("submit: %w", err), errs.Mapping{Err: hasher.ErrInvalidUTF8, Status: http.StatusBadRequest})
	}

	h.Log.Infow("submit tran", "traceid", v.TraceID, "id", tx.ID, "kind", tx.Kind, "subject", tx.Subject, "scope", tx.Scope, "amount", tx.Amount)

	return web.Respond(ctx, w, tx, http.StatusCreated)
}

// SealNow seals the specified pending transaction into a block right away.
func (h Handlers) SealNow(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	id := web.Param(r, "id")

	block, err := h.State.SealNow(ctx, id)
	if err != nil {
		return errs.Translate(fmt.Errorf("seal[%s]: %w", id, err),
			errs.NotFound(database.ErrNotFound),
			errs.Conflict(state.ErrNotPending),
			errs.Conflict(state.ErrSealingContention),
		)
	}

	return web.Respond(ctx, w, block, http.StatusOK)
}

// Fail withdraws the specified pending transaction so it is never sealed.
func (h Handlers) Fail(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var ft failTx
	if err := web.Decode(r, &ft); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	id := web.Param(r, "id")

	tx, err := h.State.Fail(id, ft.Reason)
	if err != nil {
		return errs.Translate(fmt.Errorf("fail[%s]: %w", id, err),
			errs.NotFound(database.ErrNotFound),
			errs.Conflict(state.ErrNotPending),
			errs.Conflict(state.ErrInFlight),
		)
	}

	h.Log.Infow("fail tran", "traceid", v.TraceID, "id", tx.ID, "reason", tx.Reason)

	return web.Respond(ctx, w, tx, http.StatusOK)
}

// QueryTransaction returns the transaction record for the specified id.
func (h Handlers) QueryTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	id := web.Param(r, "id")

	tx, err := h.State.QueryTransaction(id)
	if err != nil {
		return errs.Translate(fmt.Errorf("query[%s]: %w", id, err), errs.NotFound(database.ErrNotFound))
	}

	return web.Respond(ctx, w, tx, http.StatusOK)
}

// Verify checks the specified transaction against the block it was sealed in.
func (h Handlers) Verify(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	id := web.Param(r, "id")

	ver, err := h.State.Verify(id)
	if err != nil {
		return errs.Translate(fmt.Errorf("verify[%s]: %w", id, err), errs.NotFound(database.ErrNotFound))
	}

	return web.Respond(ctx, w, ver, http.StatusOK)
}

// Mempool returns the set of pending transactions.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	txs := h.State.QueryMempool()
	if txs == nil {
		txs = []database.Tx{}
	}

	return web.Respond(ctx, w, txs, http.StatusOK)
}

// Status returns a summary of the ledger.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	status, err := h.State.Status()
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, status, http.StatusOK)
}

// Genesis returns the ledger parameters.
func (h Handlers) Genesis(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.Genesis(), http.StatusOK)
}

// BlocksByNumber returns all the blocks based on the specified to/from values.
// Without values every block is returned.
func (h Handlers) BlocksByNumber(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	from, err := blockNumber(web.Param(r, "from"), 0)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	to, err := blockNumber(web.Param(r, "to"), state.QueryLatest)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if from != state.QueryLatest && from > to {
		return errs.NewTrusted(errors.New("from greater than to"), http.StatusBadRequest)
	}

	status, err := h.State.Status()
	if err != nil {
		return err
	}

	resp := blockList{
		Height: status.Height,
		Blocks: h.State.QueryBlocks(from, to),
	}
	if resp.Blocks == nil {
		resp.Blocks = []database.Block{}
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// BlockByHash returns the block with the specified hash.
func (h Handlers) BlockByHash(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	hash := web.Param(r, "hash")

	block, err := h.State.QueryBlockByHash(hash)
	if err != nil {
		return errs.Translate(fmt.Errorf("block[%s]: %w", hash, err), errs.NotFound(database.ErrNotFound))
	}

	return web.Respond(ctx, w, block, http.StatusOK)
}

// Validate walks the ledger and reports the first integrity violation. The
// merkle and payloads query parameters turn on the deeper checks.
func (h Handlers) Validate(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var opts database.ValidateOptions

	q := r.URL.Query()
	for name, opt := range map[string]*bool{"merkle": &opts.Merkle, "payloads": &opts.Payloads} {
		value := q.Get(name)
		if value == "" {
			continue
		}

		b, err := strconv.ParseBool(value)
		if err != nil {
			return errs.NewTrusted(fmt.Errorf("invalid %s value %q", name, value), http.StatusBadRequest)
		}
		*opt = b
	}

	report, err := h.State.Validate(ctx, opts)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}

	return web.Respond(ctx, w, report, http.StatusOK)
}

// SignalSealing asks the background worker to seal a batch now.
func (h Handlers) SignalSealing(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if h.State.Worker == nil {
		return errs.NewTrusted(errors.New("sealing worker is not running"), http.StatusServiceUnavailable)
	}

	h.State.Worker.SignalStartSealing()

	resp := struct {
		Status  string `json:"status"`
		Pending int    `json:"pending"`
	}{
		Status:  "sealing signaled",
		Pending: h.State.QueryMempoolLength(),
	}

	return web.Respond(ctx, w, resp, http.StatusAccepted)
}

// Events handles a web socket to provide ledger events to a client.
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

	// The upgrade already wrote the response.
	web.SetStatusCode(ctx, http.StatusSwitchingProtocols)

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

// =============================================================================

// blockNumber parses a block number parameter. An empty value uses the
// default and "latest" refers to the head of the ledger.
func blockNumber(value string, def uint64) (uint64, error) {
	switch value {
	case "":
		return def, nil
	case "latest":
		return state.QueryLatest, nil
	}

	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid block number %q", value)
	}

	return n, nil
}
