package state

import (
	"context"
	"fmt"
	"time"

	"github.com/ardanlabs/coopledger/foundation/blockchain/database"
)

// QueryLatest represents to query the latest block in the chain.
const QueryLatest = ^uint64(0) >> 1

// =============================================================================

// Status is a summary of the ledger.
type Status struct {
	Height            uint64    `json:"height"`
	TotalTransactions int       `json:"total_transactions"`
	PendingCount      int       `json:"pending_count"`
	HeadHash          string    `json:"head_hash,omitempty"`
	HeadTimestamp     time.Time `json:"head_timestamp,omitempty"`
}

// Status returns a summary of the ledger.
func (s *State) Status() (Status, error) {
	total, err := s.db.CountTxs()
	if err != nil {
		return Status{}, fmt.Errorf("counting transactions: %w", err)
	}

	st := Status{
		Height:            s.db.Height(),
		TotalTransactions: total,
		PendingCount:      s.mempool.Count(),
	}

	if head, exists := s.db.LatestBlock(); exists {
		st.HeadHash = head.Hash
		st.HeadTimestamp = time.UnixMilli(int64(head.Header.TimeStamp)).UTC()
	}

	return st, nil
}

// QueryBlocks returns the set of blocks based on block numbers. Use
// QueryLatest for either bound to refer to the head of the ledger.
func (s *State) QueryBlocks(from uint64, to uint64) []database.Block {
	head, exists := s.db.LatestBlock()
	if !exists {
		return nil
	}

	if from == QueryLatest {
		from = head.Header.Number
		to = from
	}
	if to == QueryLatest || to > head.Header.Number {
		to = head.Header.Number
	}

	var out []database.Block
	for i := from; i <= to; i++ {
		block, err := s.db.BlockByNumber(i)
		if err != nil {
			s.evHandler("state: QueryBlocks: ERROR: %s", err)
			return nil
		}
		out = append(out, block)
	}

	return out
}

// QueryBlockByHash returns the block with the specified hash.
func (s *State) QueryBlockByHash(hash string) (database.Block, error) {
	return s.db.BlockByHash(hash)
}

// LatestBlock returns the head of the ledger. The boolean is false if no
// block has been sealed yet.
func (s *State) LatestBlock() (database.Block, bool) {
	return s.db.LatestBlock()
}

// =============================================================================

// Validate walks the stored ledger and reports the first integrity violation.
func (s *State) Validate(ctx context.Context, opts database.ValidateOptions) (database.Report, error) {
	return s.db.ValidateChain(ctx, opts)
}

// HealthCheck validates the ledger and records the report as the current
// health of the ledger.
func (s *State) HealthCheck(ctx context.Context, opts database.ValidateOptions) (database.Report, error) {
	report, err := s.db.ValidateChain(ctx, opts)
	if err != nil {
		return database.Report{}, err
	}

	s.mu.Lock()
	s.health = &report
	s.mu.Unlock()

	s.metrics.ChainValidated(report)

	if !report.Valid {
		s.evHandler("viewer: integrity: VIOLATION: blk[%d]: kind[%s]", report.Violation.BlockNumber, report.Violation.Kind)
	}

	return report, nil
}

// Health returns the report of the last health check. The boolean is false
// if no health check has run yet.
func (s *State) Health() (database.Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.health == nil {
		return database.Report{}, false
	}

	return *s.health, true
}
