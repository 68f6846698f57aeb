package mempool

import "github.com/ardanlabs/coopledger/foundation/blockchain/database"

// byCreated provides sorting support by the transaction creation time. Ties
// are broken by id so the order is stable across calls.
type byCreated []database.Tx

// Len returns the number of transactions in the list.
func (bc byCreated) Len() int {
	return len(bc)
}

// Less helps to sort the list by creation time in ascending order to keep
// the transactions in the order they were submitted.
func (bc byCreated) Less(i, j int) bool {
	if bc[i].Created.Equal(bc[j].Created) {
		return bc[i].ID < bc[j].ID
	}

	return bc[i].Created.Before(bc[j].Created)
}

// Swap moves transactions in the order of the creation time.
func (bc byCreated) Swap(i, j int) {
	bc[i], bc[j] = bc[j], bc[i]
}
