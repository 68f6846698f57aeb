package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ardanlabs/coopledger/foundation/blockchain/database"
	"github.com/ardanlabs/coopledger/foundation/blockchain/mempool"
)

// SealBatch seals the oldest pending transactions, up to the batch size in
// the genesis file, into a new block. ErrNoTransactions is returned when
// there is nothing to seal.
func (s *State) SealBatch(ctx context.Context) (database.Block, error) {
	trans := s.mempool.PickOldest(int(s.genesis.TransPerBlock))
	if len(trans) == 0 {
		return database.Block{}, ErrNoTransactions
	}

	s.evHandler("state: SealBatch: SEALING: trans[%d]", len(trans))

	return s.sealAndAppend(ctx, trans)
}

// SealNow seals the single pending transaction into its own block right
// away. If the transaction is already part of a batch being sealed, SealNow
// waits for that outcome. If it is already confirmed, its block is returned.
func (s *State) SealNow(ctx context.Context, id string) (database.Block, error) {
	for {
		tx, err := s.db.QueryTx(id)
		if err != nil {
			return database.Block{}, err
		}

		switch tx.Status {
		case database.TxStatusConfirmed:
			return s.db.BlockByNumber(tx.BlockNumber)

		case database.TxStatusFailed:
			return database.Block{}, fmt.Errorf("transaction %s is %s: %w", id, tx.Status, ErrNotPending)
		}

		// Capture the change signal before trying to reserve so a release
		// in between can't be missed.
		changed := s.mempool.Changed()

		reserved, err := s.mempool.Reserve(id)
		switch {
		case err == nil:
			s.evHandler("state: SealNow: SEALING: tx[%s]", id)
			return s.sealAndAppend(ctx, []database.Tx{reserved})

		case errors.Is(err, mempool.ErrReserved):
			s.evHandler("state: SealNow: tx[%s]: waiting on in-flight seal", id)
			select {
			case <-changed:
			case <-ctx.Done():
				return database.Block{}, ctx.Err()
			}

		case errors.Is(err, mempool.ErrNotFound):

			// The record is pending but the mempool lost track of it, or it
			// was confirmed since it was read. Either way read it again.
			if _, exists := s.mempool.Get(id); !exists {
				if current, err := s.db.QueryTx(id); err == nil && current.Status == database.TxStatusPending {
					s.mempool.Upsert(current)
				}
			}

		default:
			return database.Block{}, err
		}
	}
}

// sealAndAppend seals the reserved transactions against the current head and
// appends the block. When the head moves while sealing, the batch is sealed
// again against the new head, up to the configured number of retries. The
// reservations are released if no block is appended.
func (s *State) sealAndAppend(ctx context.Context, trans []database.Tx) (database.Block, error) {
	ids := make([]string, len(trans))
	for i, tx := range trans {
		ids[i] = tx.ID
	}

	for attempt := 0; attempt <= int(s.genesis.SealRetries); attempt++ {
		var prevBlock *database.Block
		if head, exists := s.db.LatestBlock(); exists {
			prevBlock = &head
		}

		start := time.Now()

		block, err := database.Seal(ctx, database.SealArgs{
			PrevBlock:  prevBlock,
			Difficulty: s.genesis.Difficulty,
			Trans:      trans,
			Now:        s.now,
			EvHandler:  s.evHandler,
		})
		if err != nil {
			s.mempool.Release(ids...)
			return database.Block{}, err
		}

		// Just check one more time we were not cancelled.
		if ctx.Err() != nil {
			s.mempool.Release(ids...)
			return database.Block{}, ctx.Err()
		}

		block, err = s.db.AppendHead(block)
		if err == nil {
			s.mempool.Delete(ids...)
			s.metrics.BlockSealed(block, time.Since(start))

			s.evHandler("state: sealAndAppend: SEALED: blk[%d]: hash[%s]: trans[%d]: attempt[%d]", block.Header.Number, block.Hash, len(ids), attempt)
			s.evHandler("viewer: sealed: blk[%d]: hash[%s]: trans[%d]", block.Header.Number, block.Hash, len(ids))

			return block, nil
		}

		if !errors.Is(err, database.ErrStaleHead) {
			s.mempool.Release(ids...)
			return database.Block{}, err
		}

		s.metrics.SealRetried()
		s.evHandler("state: sealAndAppend: STALE: head moved, sealing again: attempt[%d]", attempt)
	}

	s.mempool.Release(ids...)

	return database.Block{}, ErrSealingContention
}
