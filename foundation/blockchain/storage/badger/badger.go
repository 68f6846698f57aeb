// Package badger implements the ability to read and write blocks and
// transaction records to an embedded BadgerDB key value store.
//
// Key layout:
//
//	blk/<number>           json encoded block, number zero padded to 20 digits
//	head                   json encoded head of the chain
//	tx/<id>                json encoded transaction record
//	pend/<created>/<id>    index of pending transactions, created in unix nanos
package badger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ardanlabs/coopledger/foundation/blockchain/database"
	"github.com/ardanlabs/coopledger/foundation/blockchain/hasher"
	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

var (
	keyHead    = []byte("head")
	prefixBlk  = []byte("blk/")
	prefixTx   = []byte("tx/")
	prefixPend = []byte("pend/")
)

// Config represents the settings for opening the store.
type Config struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	Log        *zap.SugaredLogger
}

// head is the record of the last block appended.
type head struct {
	Number uint64 `json:"number"`
	Hash   string `json:"hash"`
}

// Badger represents the serialization implementation for reading and storing
// blocks in a BadgerDB store. This implements the database.Storage interface.
type Badger struct {
	db *badgerdb.DB
}

// New opens the store at the configured path, creating it if needed.
func New(cfg Config) (*Badger, error) {
	var opts badgerdb.Options
	switch {
	case cfg.InMemory:
		opts = badgerdb.DefaultOptions("").WithInMemory(true)

	default:
		if err := os.MkdirAll(cfg.Path, 0700); err != nil {
			return nil, fmt.Errorf("creating data directory %s: %w", cfg.Path, err)
		}
		opts = badgerdb.DefaultOptions(cfg.Path)
		opts.SyncWrites = cfg.SyncWrites
	}

	opts.Logger = nil
	if cfg.Log != nil {
		opts.Logger = badgerLogger{log: cfg.Log}
	}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger: %w", err)
	}

	return &Badger{db: db}, nil
}

// Close flushes and closes the store.
func (b *Badger) Close() error {
	return b.db.Close()
}

// Reset drops every key in the store.
func (b *Badger) Reset() error {
	return b.db.DropAll()
}

// AppendBlock writes the block and confirms its transactions in a single
// badger transaction. A concurrent write to the head or one of the records
// makes the commit fail with a conflict, which is reported as a stale head.
func (b *Badger) AppendBlock(block database.Block) error {
	err := b.db.Update(func(txn *badgerdb.Txn) error {
		var h head
		prevHash := hasher.ZeroHash
		var next uint64

		switch err := getJSON(txn, keyHead, &h); {
		case err == nil:
			prevHash = h.Hash
			next = h.Number + 1
		case !errors.Is(err, database.ErrNotFound):
			return err
		}

		if block.Header.Number != next || block.Header.PrevBlockHash != prevHash {
			return database.ErrStaleHead
		}

		for _, id := range block.TxIDs {
			var tx database.Tx
			if err := getJSON(txn, txKey(id), &tx); err != nil {
				return fmt.Errorf("transaction %s: %w", id, err)
			}

			if tx.Status != database.TxStatusPending {
				return fmt.Errorf("transaction %s is %s: %w", id, tx.Status, database.ErrTxNotPending)
			}

			if err := txn.Delete(pendKey(tx)); err != nil {
				return err
			}

			if err := setJSON(txn, txKey(id), tx.Confirm(block)); err != nil {
				return err
			}
		}

		if err := setJSON(txn, blkKey(block.Header.Number), block); err != nil {
			return err
		}

		return setJSON(txn, keyHead, head{Number: block.Header.Number, Hash: block.Hash})
	})

	if errors.Is(err, badgerdb.ErrConflict) {
		return database.ErrStaleHead
	}

	return err
}

// GetBlock returns the block for the specified number.
func (b *Badger) GetBlock(num uint64) (database.Block, error) {
	var block database.Block
	err := b.db.View(func(txn *badgerdb.Txn) error {
		return getJSON(txn, blkKey(num), &block)
	})
	if err != nil {
		return database.Block{}, err
	}

	return block, nil
}

// ForEach returns an iterator to walk through all the blocks
// starting with the genesis block.
func (b *Badger) ForEach() database.Iterator {
	return &badgerIterator{storage: b}
}

// SaveTx inserts or replaces the transaction record and keeps the pending
// index in step with its status.
func (b *Badger) SaveTx(tx database.Tx) error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		var old database.Tx
		switch err := getJSON(txn, txKey(tx.ID), &old); {
		case err == nil:
			if err := txn.Delete(pendKey(old)); err != nil {
				return err
			}
		case !errors.Is(err, database.ErrNotFound):
			return err
		}

		if tx.Status == database.TxStatusPending {
			if err := txn.Set(pendKey(tx), nil); err != nil {
				return err
			}
		}

		return setJSON(txn, txKey(tx.ID), tx)
	})
}

// GetTx returns the transaction record for the id.
func (b *Badger) GetTx(id string) (database.Tx, error) {
	var tx database.Tx
	err := b.db.View(func(txn *badgerdb.Txn) error {
		return getJSON(txn, txKey(id), &tx)
	})
	if err != nil {
		return database.Tx{}, err
	}

	return tx, nil
}

// FailTx marks a pending transaction record as failed. An append that
// confirms the record at the same time makes one of the two commits fail
// with a conflict.
func (b *Badger) FailTx(id string, reason string) (database.Tx, error) {
	var tx database.Tx
	err := b.db.Update(func(txn *badgerdb.Txn) error {
		if err := getJSON(txn, txKey(id), &tx); err != nil {
			return err
		}

		if tx.Status != database.TxStatusPending {
			return fmt.Errorf("transaction is %s: %w", tx.Status, database.ErrTxNotPending)
		}

		if err := txn.Delete(pendKey(tx)); err != nil {
			return err
		}

		tx.Status = database.TxStatusFailed
		tx.Reason = reason

		return setJSON(txn, txKey(id), tx)
	})
	if err != nil {
		return database.Tx{}, err
	}

	return tx, nil
}

// PendingTxs returns the pending transactions, oldest first. The pending
// index keys sort by creation time and then id.
func (b *Badger) PendingTxs() ([]database.Tx, error) {
	var pending []database.Tx
	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefixPend

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefixPend); it.ValidForPrefix(prefixPend); it.Next() {
			id := pendID(it.Item().Key())

			var tx database.Tx
			if err := getJSON(txn, txKey(id), &tx); err != nil {
				return fmt.Errorf("pending transaction %s: %w", id, err)
			}
			pending = append(pending, tx)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return pending, nil
}

// CountTxs returns the number of transaction records.
func (b *Badger) CountTxs() (int, error) {
	var count int
	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefixTx

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefixTx); it.ValidForPrefix(prefixTx); it.Next() {
			count++
		}

		return nil
	})

	return count, err
}

// =============================================================================

// badgerIterator represents the iteration implementation for walking
// through and reading blocks in the store. This implements the database
// Iterator interface.
type badgerIterator struct {
	storage *Badger // Access to the storage API.
	current uint64  // Current block number being iterated over.
	eoc     bool    // Represents the iterator is at the end of the chain.
}

// Next retrieves the next block from the store. A read error other than
// reaching the end of the chain is returned without ending the iteration.
func (bi *badgerIterator) Next() (database.Block, error) {
	if bi.eoc {
		return database.Block{}, database.ErrNotFound
	}

	block, err := bi.storage.GetBlock(bi.current)
	switch {
	case errors.Is(err, database.ErrNotFound):
		bi.eoc = true
		return database.Block{}, err
	case err != nil:
		return database.Block{}, fmt.Errorf("block %d: %w", bi.current, err)
	}

	bi.current++

	return block, nil
}

// Done returns the end of chain value.
func (bi *badgerIterator) Done() bool {
	return bi.eoc
}

// =============================================================================

func blkKey(num uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixBlk, num))
}

func txKey(id string) []byte {
	return append(append([]byte{}, prefixTx...), id...)
}

func pendKey(tx database.Tx) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", prefixPend, tx.Created.UnixNano(), tx.ID))
}

// pendID extracts the transaction id from a pending index key.
func pendID(key []byte) string {
	rest := key[len(prefixPend):]
	for i, c := range rest {
		if c == '/' {
			return string(rest[i+1:])
		}
	}

	return string(rest)
}

func getJSON(txn *badgerdb.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return database.ErrNotFound
		}
		return err
	}

	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badgerdb.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return txn.Set(key, data)
}

// =============================================================================

// badgerLogger adapts the service logger to the badger logging interface.
type badgerLogger struct {
	log *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Errorf("badger: "+format, args...)
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Warnf("badger: "+format, args...)
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.log.Debugf("badger: "+format, args...)
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.Debugf("badger: "+format, args...)
}
