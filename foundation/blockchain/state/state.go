// Package state is the core API for the ledger and implements all the
// business rules and processing for recording and sealing transactions.
package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ardanlabs/coopledger/foundation/blockchain/database"
	"github.com/ardanlabs/coopledger/foundation/blockchain/genesis"
	"github.com/ardanlabs/coopledger/foundation/blockchain/mempool"
)

// Set of errors returned by the state API.
var (
	ErrNoTransactions    = errors.New("no transactions in mempool")
	ErrSealingContention = errors.New("ledger head kept changing while sealing")
	ErrNotPending        = errors.New("transaction is not pending")
	ErrInFlight          = errors.New("transaction is being sealed")
)

// =============================================================================

// EventHandler defines a function that is called when events
// occur in the processing of sealing blocks.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by any
// package providing support for the background sealing of batches.
type Worker interface {
	Shutdown()
	SignalStartSealing()
}

// Metrics interface represents the behavior required to record what the
// ledger is doing. It is optional.
type Metrics interface {
	LedgerLoaded(height uint64)
	TxSubmitted()
	BlockSealed(block database.Block, took time.Duration)
	SealRetried()
	ChainValidated(report database.Report)
}

// =============================================================================

// Config represents the configuration required to start the ledger.
type Config struct {
	Genesis        genesis.Genesis
	Storage        database.Storage
	RetainPayloads bool
	Metrics        Metrics
	Now            func() time.Time
	EvHandler      EventHandler
}

// State manages the ledger.
type State struct {
	genesis        genesis.Genesis
	retainPayloads bool
	evHandler      EventHandler
	metrics        Metrics
	now            func() time.Time

	db      *database.Database
	mempool *mempool.Mempool

	mu     sync.RWMutex
	health *database.Report

	Worker Worker
}

// New constructs a new ledger for data management.
func New(cfg Config) (*State, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	if err := cfg.Genesis.Validate(); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}

	// Load all existing blocks from storage into memory for processing.
	db, err := database.New(cfg.Storage, ev)
	if err != nil {
		return nil, err
	}

	// Anything still pending from a previous run goes back in the mempool
	// so it gets sealed.
	pending, err := db.PendingTxs()
	if err != nil {
		return nil, fmt.Errorf("loading pending transactions: %w", err)
	}

	mp := mempool.New()
	for _, tx := range pending {
		mp.Upsert(tx)
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	state := State{
		genesis:        cfg.Genesis,
		retainPayloads: cfg.RetainPayloads,
		evHandler:      ev,
		metrics:        metrics,
		now:            now,
		db:             db,
		mempool:        mp,
	}

	metrics.LedgerLoaded(db.Height())

	ev("state: New: height[%d]: pending[%d]", db.Height(), len(pending))

	// The Worker is not set here. The call to worker.Run will assign itself
	// and start everything up and running for the ledger.

	return &state, nil
}

// Shutdown cleanly brings the ledger down.
func (s *State) Shutdown() error {
	s.evHandler("state: shutdown: started")
	defer s.evHandler("state: shutdown: completed")

	// Stop all sealing activity.
	if s.Worker != nil {
		s.Worker.Shutdown()
	}

	// Make sure the storage is properly closed.
	return s.db.Close()
}

// Genesis returns a copy of the genesis information.
func (s *State) Genesis() genesis.Genesis {
	return s.genesis
}

// =============================================================================

// nopMetrics is used when no metrics are configured.
type nopMetrics struct{}

func (nopMetrics) LedgerLoaded(uint64)                       {}
func (nopMetrics) TxSubmitted()                              {}
func (nopMetrics) BlockSealed(database.Block, time.Duration) {}
func (nopMetrics) SealRetried()                              {}
func (nopMetrics) ChainValidated(database.Report)            {}
