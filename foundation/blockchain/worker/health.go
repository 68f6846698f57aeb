package worker

// healthOperations validates the ledger on every health tick.
func (w *Worker) healthOperations() {
	w.evHandler("worker: healthOperations: G started")
	defer w.evHandler("worker: healthOperations: G completed")

	for {
		select {
		case <-w.healthTicker.C:
			if !w.isShutdown() {
				w.runHealthOperation()
			}
		case <-w.shut:
			w.evHandler("worker: healthOperations: received shut signal")
			return
		}
	}
}

// runHealthOperation walks the ledger and records the result with the state.
func (w *Worker) runHealthOperation() {
	report, err := w.state.HealthCheck(w.ctx, w.cfg.HealthOptions)
	if err != nil {
		if w.ctx.Err() == nil {
			w.evHandler("worker: runHealthOperation: ERROR: %s", err)
		}
		return
	}

	if !report.Valid {
		w.evHandler("worker: runHealthOperation: VIOLATION: blk[%d]: kind[%s]: %s", report.Violation.BlockNumber, report.Violation.Kind, report.Violation.Detail)
		return
	}

	w.evHandler("worker: runHealthOperation: ledger valid: blocks[%d]", report.Checked)
}
