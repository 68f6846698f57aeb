// Package worker implements the background sealing of pending transactions
// and the periodic integrity check of the ledger.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ardanlabs/coopledger/foundation/blockchain/database"
	"github.com/ardanlabs/coopledger/foundation/blockchain/state"
)

// Set of default intervals used when the configuration leaves them out.
const (
	DefaultSealInterval   = 5 * time.Minute
	DefaultHealthInterval = 10 * time.Minute
)

// Config represents the settings for the background operations.
type Config struct {
	SealInterval   time.Duration
	HealthInterval time.Duration
	HealthOptions  database.ValidateOptions
}

// =============================================================================

// Worker manages the sealing workflows for the ledger.
type Worker struct {
	state        *state.State
	cfg          Config
	wg           sync.WaitGroup
	sealTicker   *time.Ticker
	healthTicker *time.Ticker
	shut         chan struct{}
	startSealing chan bool
	ctx          context.Context
	cancel       context.CancelFunc
	evHandler    state.EventHandler
}

// Run creates a worker, registers the worker with the state package, and
// starts up all the background processes. The ledger is validated once
// before the background processes start.
func Run(st *state.State, cfg Config, evHandler state.EventHandler) {
	if evHandler == nil {
		evHandler = func(string, ...any) {}
	}

	if cfg.SealInterval <= 0 {
		cfg.SealInterval = DefaultSealInterval
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = DefaultHealthInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := Worker{
		state:        st,
		cfg:          cfg,
		sealTicker:   time.NewTicker(cfg.SealInterval),
		healthTicker: time.NewTicker(cfg.HealthInterval),
		shut:         make(chan struct{}),
		startSealing: make(chan bool, 1),
		ctx:          ctx,
		cancel:       cancel,
		evHandler:    evHandler,
	}

	// Register this worker with the state package.
	st.Worker = &w

	// Check the integrity of the ledger before starting any support G's.
	w.runHealthOperation()

	// Load the set of operations we need to run.
	operations := []func(){
		w.sealingOperations,
		w.healthOperations,
	}

	// Set waitgroup to match the number of G's we need for the set
	// of operations we have.
	g := len(operations)
	w.wg.Add(g)

	// We don't want to return until we know all the G's are up and running.
	hasStarted := make(chan bool)

	// Start all the operational G's.
	for _, op := range operations {
		go func(op func()) {
			defer w.wg.Done()
			hasStarted <- true
			op()
		}(op)
	}

	// Wait for the G's to report they are running.
	for i := 0; i < g; i++ {
		<-hasStarted
	}

	// Anything left pending from a previous run gets sealed right away.
	if st.QueryMempoolLength() > 0 {
		w.SignalStartSealing()
	}
}

// =============================================================================
// These methods implement the state.Worker interface.

// Shutdown terminates the goroutines performing work. A seal in progress is
// cancelled and its transactions stay pending.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	w.evHandler("worker: shutdown: stop tickers")
	w.sealTicker.Stop()
	w.healthTicker.Stop()

	w.evHandler("worker: shutdown: cancel sealing")
	w.cancel()

	w.evHandler("worker: shutdown: terminate goroutines")
	close(w.shut)
	w.wg.Wait()
}

// SignalStartSealing starts a sealing operation. If there is already a signal
// pending in the channel, just return since a sealing operation will start.
func (w *Worker) SignalStartSealing() {
	select {
	case w.startSealing <- true:
	default:
	}
	w.evHandler("worker: SignalStartSealing: sealing signaled")
}

// =============================================================================

// isShutdown is used to test if a shutdown has been signaled.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}
