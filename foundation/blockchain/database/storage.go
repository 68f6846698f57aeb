package database

import "errors"

// Set of errors shared by the storage implementations.
var (
	ErrNotFound  = errors.New("not found")
	ErrStaleHead = errors.New("ledger head changed since the block was sealed")
)

// Storage interface represents the behavior required to be implemented by any
// package providing durable support for the ledger. The storage is key
// ordered by block number and must append atomically.
type Storage interface {

	// AppendBlock writes the block and marks every transaction listed in
	// TxIDs as confirmed in that block, all or nothing. It must return
	// ErrStaleHead if the block does not extend the stored head and
	// ErrTxNotPending if any of the transactions are not pending.
	AppendBlock(block Block) error

	// GetBlock returns the block for the specified number.
	GetBlock(num uint64) (Block, error)

	// ForEach returns an iterator over the blocks from genesis.
	ForEach() Iterator

	// SaveTx inserts or replaces the transaction record.
	SaveTx(tx Tx) error

	// GetTx returns the transaction record for the id.
	GetTx(id string) (Tx, error)

	// FailTx marks a pending transaction record as failed. The status is
	// checked in the same write, so a record confirmed by a concurrent
	// append is left alone and ErrTxNotPending is returned.
	FailTx(id string, reason string) (Tx, error)

	// PendingTxs returns the pending transactions, oldest first.
	PendingTxs() ([]Tx, error)

	// CountTxs returns the number of transaction records.
	CountTxs() (int, error)

	Close() error
	Reset() error
}

// Iterator interface represents the behavior required to be implemented by any
// package providing support to iterate over the blocks.
type Iterator interface {
	Next() (Block, error)
	Done() bool
}
