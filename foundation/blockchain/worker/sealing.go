package worker

import (
	"errors"
	"time"

	"github.com/ardanlabs/coopledger/foundation/blockchain/state"
)

// sealingOperations handles sealing on every tick and every signal.
func (w *Worker) sealingOperations() {
	w.evHandler("worker: sealingOperations: G started")
	defer w.evHandler("worker: sealingOperations: G completed")

	for {
		select {
		case <-w.startSealing:
			if !w.isShutdown() {
				w.runSealingOperation()
			}
		case <-w.sealTicker.C:
			if !w.isShutdown() {
				w.runSealingOperation()
			}
		case <-w.shut:
			w.evHandler("worker: sealingOperations: received shut signal")
			return
		}
	}
}

// runSealingOperation seals one batch of the oldest pending transactions.
func (w *Worker) runSealingOperation() {
	w.evHandler("worker: runSealingOperation: SEALING: started")
	defer w.evHandler("worker: runSealingOperation: SEALING: completed")

	t := time.Now()
	block, err := w.state.SealBatch(w.ctx)
	duration := time.Since(t)

	w.evHandler("worker: runSealingOperation: SEALING: duration[%v]", duration)

	if err != nil {
		switch {
		case errors.Is(err, state.ErrNoTransactions):
			w.evHandler("worker: runSealingOperation: SEALING: no transactions to seal")
		case w.ctx.Err() != nil:
			w.evHandler("worker: runSealingOperation: SEALING: CANCEL: complete")
		default:
			w.evHandler("worker: runSealingOperation: SEALING: ERROR: %s", err)
		}
		return
	}

	w.evHandler("worker: runSealingOperation: SEALING: blk[%d]: trans[%d]", block.Header.Number, len(block.TxIDs))

	// After sealing a batch, check if a new operation should be signaled
	// to drain what is left.
	if length := w.state.QueryMempoolLength(); length > 0 {
		w.evHandler("worker: runSealingOperation: SEALING: signal new sealing operation: Txs[%d]", length)
		w.SignalStartSealing()
	}
}
