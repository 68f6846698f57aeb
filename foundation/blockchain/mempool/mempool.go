// Package mempool maintains the pending transactions waiting to be sealed.
package mempool

import (
	"errors"
	"sort"
	"sync"

	"github.com/ardanlabs/coopledger/foundation/blockchain/database"
)

// Set of errors returned when reserving a transaction.
var (
	ErrNotFound = errors.New("transaction not in mempool")
	ErrReserved = errors.New("transaction is reserved by a sealing operation")
)

// Mempool represents a cache of pending transactions organized by id. A
// transaction handed to a sealing operation is reserved until the operation
// either removes it or releases it, so no two sealers work on the same
// transaction.
type Mempool struct {
	mu       sync.RWMutex
	pool     map[string]database.Tx
	reserved map[string]struct{}
	changed  chan struct{}
}

// New constructs a new mempool.
func New() *Mempool {
	return &Mempool{
		pool:     make(map[string]database.Tx),
		reserved: make(map[string]struct{}),
		changed:  make(chan struct{}),
	}
}

// Count returns the current number of transaction in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Available returns the number of transactions not reserved by a sealing
// operation.
func (mp *Mempool) Available() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool) - len(mp.reserved)
}

// Upsert adds or replaces a transaction in the mempool.
func (mp *Mempool) Upsert(tx database.Tx) int {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool[tx.ID] = tx

	return len(mp.pool)
}

// Get returns the transaction for the id.
func (mp *Mempool) Get(id string) (database.Tx, bool) {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	tx, exists := mp.pool[id]
	return tx, exists
}

// Delete removes the transactions from the mempool, reserved or not.
func (mp *Mempool) Delete(ids ...string) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	for _, id := range ids {
		delete(mp.pool, id)
		delete(mp.reserved, id)
	}

	mp.notifyLocked()
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool = make(map[string]database.Tx)
	mp.reserved = make(map[string]struct{})

	mp.notifyLocked()
}

// Copy returns every transaction in the pool, oldest first.
func (mp *Mempool) Copy() []database.Tx {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	txs := make([]database.Tx, 0, len(mp.pool))
	for _, tx := range mp.pool {
		txs = append(txs, tx)
	}
	sort.Sort(byCreated(txs))

	return txs
}

// PickOldest reserves and returns up to howMany of the oldest transactions
// that are not already reserved. Pass -1 for all of them.
func (mp *Mempool) PickOldest(howMany int) []database.Tx {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	txs := make([]database.Tx, 0, len(mp.pool))
	for id, tx := range mp.pool {
		if _, exists := mp.reserved[id]; !exists {
			txs = append(txs, tx)
		}
	}
	sort.Sort(byCreated(txs))

	if howMany >= 0 && len(txs) > howMany {
		txs = txs[:howMany]
	}

	for _, tx := range txs {
		mp.reserved[tx.ID] = struct{}{}
	}

	return txs
}

// Reserve reserves the single transaction for the id.
func (mp *Mempool) Reserve(id string) (database.Tx, error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	tx, exists := mp.pool[id]
	if !exists {
		return database.Tx{}, ErrNotFound
	}

	if _, exists := mp.reserved[id]; exists {
		return database.Tx{}, ErrReserved
	}

	mp.reserved[id] = struct{}{}

	return tx, nil
}

// Release hands reserved transactions back to the pool so they can be
// picked again.
func (mp *Mempool) Release(ids ...string) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	for _, id := range ids {
		delete(mp.reserved, id)
	}

	mp.notifyLocked()
}

// Changed returns a channel that is closed the next time transactions are
// released or removed.
func (mp *Mempool) Changed() <-chan struct{} {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return mp.changed
}

// notifyLocked wakes everyone waiting on Changed. The caller must hold the
// write lock.
func (mp *Mempool) notifyLocked() {
	close(mp.changed)
	mp.changed = make(chan struct{})
}
