// Package database maintains the ledger: the ordered, hash linked set of
// sealed blocks and the transaction records they confirm. Blocks are held in
// memory for fast reads and written through to a durable storage engine.
package database

import (
	"errors"
	"fmt"
	"sync"
)

// Database manages the ledger of sealed blocks. The head of the ledger only
// moves through AppendHead, which acts like a compare and swap on the head
// hash so concurrent sealers can never fork the chain.
type Database struct {
	mu      sync.RWMutex
	blocks  []Block
	byHash  map[string]uint64
	storage Storage

	evHandler func(v string, args ...any)
}

// New constructs a new database and loads the existing blocks from storage.
// Only the structure of the chain is checked while loading. Hash integrity is
// the job of ValidateChain.
func New(storage Storage, evHandler func(v string, args ...any)) (*Database, error) {
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	db := Database{
		byHash:    make(map[string]uint64),
		storage:   storage,
		evHandler: ev,
	}

	iter := storage.ForEach()
	for block, err := iter.Next(); !iter.Done(); block, err = iter.Next() {
		if err != nil {
			return nil, fmt.Errorf("reading block %d: %w", len(db.blocks), err)
		}

		if block.Header.Number != uint64(len(db.blocks)) {
			return nil, fmt.Errorf("block out of sequence, got %d, exp %d", block.Header.Number, len(db.blocks))
		}

		db.byHash[block.Hash] = block.Header.Number
		db.blocks = append(db.blocks, block)
	}

	ev("database: New: loaded blocks[%d]", len(db.blocks))

	return &db, nil
}

// Close closes the storage engine.
func (db *Database) Close() error {
	return db.storage.Close()
}

// Reset re-initializes the ledger to an empty state.
func (db *Database) Reset() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.storage.Reset(); err != nil {
		return err
	}

	db.blocks = nil
	db.byHash = make(map[string]uint64)

	return nil
}

// AppendHead adds the sealed block as the new head of the ledger. It only
// succeeds if the block was sealed against the current head, otherwise
// ErrStaleHead is returned and the caller must seal again against the new
// head. The block and its transaction confirmations are persisted together.
func (db *Database) AppendHead(block Block) (Block, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	headHash, next := db.headLocked()
	if block.Header.PrevBlockHash != headHash || block.Header.Number != next {
		db.evHandler("database: AppendHead: STALE: blk[%d]: prevBlk[%s]: head[%s]", block.Header.Number, block.Header.PrevBlockHash, headHash)
		return Block{}, ErrStaleHead
	}

	if !isHashSolved(block.Header.Difficulty, block.Hash) || block.Header.Hash() != block.Hash {
		return Block{}, fmt.Errorf("block %d hash %s is not a valid solution", block.Header.Number, block.Hash)
	}

	block.Confirmed = true
	if err := db.storage.AppendBlock(block); err != nil {
		return Block{}, fmt.Errorf("append block %d: %w", block.Header.Number, err)
	}

	db.byHash[block.Hash] = block.Header.Number
	db.blocks = append(db.blocks, block)

	db.evHandler("database: AppendHead: blk[%d]: hash[%s]: trans[%d]", block.Header.Number, block.Hash, len(block.TxIDs))

	return block, nil
}

// LatestBlock returns the head of the ledger. The boolean is false if the
// ledger is empty.
func (db *Database) LatestBlock() (Block, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if len(db.blocks) == 0 {
		return Block{}, false
	}

	return db.blocks[len(db.blocks)-1], true
}

// Height returns the number of blocks in the ledger.
func (db *Database) Height() uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return uint64(len(db.blocks))
}

// Blocks returns a snapshot of the blocks appended so far in order.
func (db *Database) Blocks() []Block {
	db.mu.RLock()
	defer db.mu.RUnlock()

	blocks := make([]Block, len(db.blocks))
	copy(blocks, db.blocks)

	return blocks
}

// BlockByHash returns the block with the specified hash.
func (db *Database) BlockByHash(hash string) (Block, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	num, exists := db.byHash[hash]
	if !exists {
		return Block{}, fmt.Errorf("block %s: %w", hash, ErrNotFound)
	}

	return db.blocks[num], nil
}

// BlockByNumber returns the block with the specified number.
func (db *Database) BlockByNumber(num uint64) (Block, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if num >= uint64(len(db.blocks)) {
		return Block{}, fmt.Errorf("block %d: %w", num, ErrNotFound)
	}

	return db.blocks[num], nil
}

// =============================================================================

// SaveTx writes the transaction record to storage.
func (db *Database) SaveTx(tx Tx) error {
	return db.storage.SaveTx(tx)
}

// QueryTx returns the transaction record for the id.
func (db *Database) QueryTx(id string) (Tx, error) {
	tx, err := db.storage.GetTx(id)
	if err != nil {
		return Tx{}, fmt.Errorf("transaction %s: %w", id, err)
	}

	return tx, nil
}

// FailTx marks the pending transaction record as failed.
func (db *Database) FailTx(id string, reason string) (Tx, error) {
	tx, err := db.storage.FailTx(id, reason)
	if err != nil {
		return Tx{}, fmt.Errorf("transaction %s: %w", id, err)
	}

	return tx, nil
}

// PendingTxs returns the pending transactions in storage, oldest first.
func (db *Database) PendingTxs() ([]Tx, error) {
	return db.storage.PendingTxs()
}

// CountTxs returns the number of transaction records.
func (db *Database) CountTxs() (int, error) {
	return db.storage.CountTxs()
}

// IsNotFound reports if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// =============================================================================

// headLocked returns the hash the next block must link to and the number
// it must carry. The caller must hold the lock.
func (db *Database) headLocked() (string, uint64) {
	if len(db.blocks) == 0 {
		return genesisPrevHash, 0
	}

	head := db.blocks[len(db.blocks)-1]
	return head.Hash, head.Header.Number + 1
}
