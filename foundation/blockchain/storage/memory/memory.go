// Package memory implements the ability to read and write blocks and
// transaction records to memory using a slice and a map.
package memory

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ardanlabs/coopledger/foundation/blockchain/database"
	"github.com/ardanlabs/coopledger/foundation/blockchain/hasher"
)

// Memory represents the serialization implementation for reading and storing
// blocks in memory using a slice. This implements the database.Storage
// interface.
type Memory struct {
	mu     sync.RWMutex
	blocks []database.Block
	txs    map[string]database.Tx
}

// New constructs an Memory value for use.
func New() (*Memory, error) {
	return &Memory{
		txs: make(map[string]database.Tx),
	}, nil
}

// Close in this implementation has nothing to do since everything
// is in memory.
func (m *Memory) Close() error {
	return nil
}

// AppendBlock adds the block to the end of the chain and confirms the
// transactions it seals. Nothing is changed if any check fails.
func (m *Memory) AppendBlock(block database.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prevHash := hasher.ZeroHash
	if l := len(m.blocks); l > 0 {
		prevHash = m.blocks[l-1].Hash
	}

	if block.Header.Number != uint64(len(m.blocks)) || block.Header.PrevBlockHash != prevHash {
		return database.ErrStaleHead
	}

	confirmed := make([]database.Tx, len(block.TxIDs))
	for i, id := range block.TxIDs {
		tx, exists := m.txs[id]
		if !exists {
			return fmt.Errorf("transaction %s: %w", id, database.ErrNotFound)
		}

		if tx.Status != database.TxStatusPending {
			return fmt.Errorf("transaction %s is %s: %w", id, tx.Status, database.ErrTxNotPending)
		}

		confirmed[i] = tx.Confirm(block)
	}

	for _, tx := range confirmed {
		m.txs[tx.ID] = tx
	}
	m.blocks = append(m.blocks, block)

	return nil
}

// SetBlock replaces the block stored at the position num. It bypasses every check
// and exists so corruption of the stored chain can be simulated.
func (m *Memory) SetBlock(num uint64, block database.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if num >= uint64(len(m.blocks)) {
		return fmt.Errorf("block %d: %w", num, database.ErrNotFound)
	}

	m.blocks[num] = block

	return nil
}

// GetBlock searches the blockchain to locate and return the contents of
// the specified block by number.
func (m *Memory) GetBlock(num uint64) (database.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if num >= uint64(len(m.blocks)) {
		return database.Block{}, database.ErrNotFound
	}

	return m.blocks[num], nil
}

// ForEach returns an iterator to walk through all the blocks
// starting with the genesis block.
func (m *Memory) ForEach() database.Iterator {
	return &memoryIterator{storage: m}
}

// SaveTx inserts or replaces the transaction record.
func (m *Memory) SaveTx(tx database.Tx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.txs[tx.ID] = tx

	return nil
}

// GetTx returns the transaction record for the id.
func (m *Memory) GetTx(id string) (database.Tx, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, exists := m.txs[id]
	if !exists {
		return database.Tx{}, database.ErrNotFound
	}

	return tx, nil
}

// FailTx marks a pending transaction record as failed.
func (m *Memory) FailTx(id string, reason string) (database.Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, exists := m.txs[id]
	if !exists {
		return database.Tx{}, database.ErrNotFound
	}

	if tx.Status != database.TxStatusPending {
		return database.Tx{}, fmt.Errorf("transaction is %s: %w", tx.Status, database.ErrTxNotPending)
	}

	tx.Status = database.TxStatusFailed
	tx.Reason = reason
	m.txs[id] = tx

	return tx, nil
}

// PendingTxs returns the pending transactions, oldest first.
func (m *Memory) PendingTxs() ([]database.Tx, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var pending []database.Tx
	for _, tx := range m.txs {
		if tx.Status == database.TxStatusPending {
			pending = append(pending, tx)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Created.Equal(pending[j].Created) {
			return pending[i].ID < pending[j].ID
		}
		return pending[i].Created.Before(pending[j].Created)
	})

	return pending, nil
}

// CountTxs returns the number of transaction records.
func (m *Memory) CountTxs() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.txs), nil
}

// Reset will clear out the blocks and transactions held in memory.
func (m *Memory) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocks = nil
	m.txs = make(map[string]database.Tx)

	return nil
}

// =============================================================================

// memoryIterator represents the iteration implementation for walking
// through and reading blocks in memory. This implements the database
// Iterator interface.
type memoryIterator struct {
	storage *Memory // Access to the storage API.
	current uint64  // Current block number being iterated over.
	eoc     bool    // Represents the iterator is at the end of the chain.
}

// Next retrieves the next block from memory.
func (mi *memoryIterator) Next() (database.Block, error) {
	if mi.eoc {
		return database.Block{}, database.ErrNotFound
	}

	block, err := mi.storage.GetBlock(mi.current)
	switch {
	case errors.Is(err, database.ErrNotFound):
		mi.eoc = true
		return database.Block{}, err
	case err != nil:
		return database.Block{}, fmt.Errorf("block %d: %w", mi.current, err)
	}

	mi.current++

	return block, nil
}

// Done returns the end of chain value.
func (mi *memoryIterator) Done() bool {
	return mi.eoc
}
