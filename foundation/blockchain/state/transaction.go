package state

import (
	"errors"
	"fmt"

	"github.com/ardanlabs/coopledger/foundation/blockchain/database"
	"github.com/ardanlabs/coopledger/foundation/blockchain/mempool"
	"github.com/ardanlabs/coopledger/foundation/blockchain/merkle"
	"github.com/google/uuid"
)

// Submit records a new business transaction as pending and returns without
// waiting for it to be sealed. The content hash is derived from the payload.
func (s *State) Submit(userTx database.UserTx) (database.Tx, error) {
	tx, err := database.NewTx(userTx, uuid.NewString(), s.now(), s.retainPayloads)
	if err != nil {
		return database.Tx{}, err
	}

	if err := s.db.SaveTx(tx); err != nil {
		return database.Tx{}, fmt.Errorf("saving transaction: %w", err)
	}

	n := s.mempool.Upsert(tx)
	s.metrics.TxSubmitted()

	s.evHandler("state: Submit: tx[%s]: kind[%s]: hash[%s]: mempool[%d]", tx.ID, tx.Kind, tx.ContentHash, n)
	s.evHandler("viewer: submitted: tx[%s]: kind[%s]", tx.ID, tx.Kind)

	// A full batch doesn't need to wait for the next tick.
	if s.Worker != nil && s.mempool.Available() >= int(s.genesis.TransPerBlock) {
		s.Worker.SignalStartSealing()
	}

	return tx, nil
}

// Fail marks a pending transaction as failed so it is never sealed. This is
// used when the business operation behind it is withdrawn.
func (s *State) Fail(id string, reason string) (database.Tx, error) {
	tx, err := s.db.QueryTx(id)
	if err != nil {
		return database.Tx{}, err
	}

	if tx.Status != database.TxStatusPending {
		return database.Tx{}, fmt.Errorf("transaction %s is %s: %w", id, tx.Status, ErrNotPending)
	}

	// Reserving the transaction keeps a sealer from picking it up while the
	// record is updated.
	switch _, err := s.mempool.Reserve(id); {
	case errors.Is(err, mempool.ErrReserved):
		return database.Tx{}, fmt.Errorf("transaction %s: %w", id, ErrInFlight)

	case errors.Is(err, mempool.ErrNotFound):
		// A sealing operation may have confirmed it since it was read.
		if tx, err = s.db.QueryTx(id); err != nil {
			return database.Tx{}, err
		}
		if tx.Status != database.TxStatusPending {
			return database.Tx{}, fmt.Errorf("transaction %s is %s: %w", id, tx.Status, ErrNotPending)
		}
	}

	tx, err = s.db.FailTx(id, reason)
	if err != nil {
		s.mempool.Release(id)
		if errors.Is(err, database.ErrTxNotPending) {
			return database.Tx{}, fmt.Errorf("transaction %s: %w", id, ErrNotPending)
		}
		return database.Tx{}, fmt.Errorf("failing transaction: %w", err)
	}

	s.mempool.Delete(id)

	s.evHandler("state: Fail: tx[%s]: reason[%s]", id, reason)
	s.evHandler("viewer: failed: tx[%s]", id)

	return tx, nil
}

// QueryTransaction returns the transaction record for the id.
func (s *State) QueryTransaction(id string) (database.Tx, error) {
	return s.db.QueryTx(id)
}

// QueryMempool returns the pending transactions in the mempool, oldest first.
func (s *State) QueryMempool() []database.Tx {
	return s.mempool.Copy()
}

// QueryMempoolLength returns the number of transactions that are not
// reserved by a sealing operation.
func (s *State) QueryMempoolLength() int {
	return s.mempool.Available()
}

// =============================================================================

// Verification is the result of checking a transaction against the block
// it was sealed in.
type Verification struct {
	TxID        string            `json:"tx_id"`
	Status      database.TxStatus `json:"status"`
	Verified    bool              `json:"verified"`
	ContentHash string            `json:"content_hash"`
	BlockNumber uint64            `json:"block_number,omitempty"`
	BlockHash   string            `json:"block_hash,omitempty"`
	MerkleRoot  string            `json:"merkle_root,omitempty"`
	Proof       []string          `json:"proof,omitempty"`
	ProofOrder  []int64           `json:"proof_order,omitempty"`
	Reason      string            `json:"reason,omitempty"`
}

// Verify checks that a confirmed transaction is included in its block by
// replaying the merkle proof of its content hash against the block's root
// and recomputing the block hash. A transaction that is not confirmed is
// reported as not verified.
func (s *State) Verify(id string) (Verification, error) {
	tx, err := s.db.QueryTx(id)
	if err != nil {
		return Verification{}, err
	}

	v := Verification{
		TxID:        tx.ID,
		Status:      tx.Status,
		ContentHash: tx.ContentHash,
	}

	if tx.Status != database.TxStatusConfirmed {
		v.Reason = fmt.Sprintf("transaction is %s", tx.Status)
		return v, nil
	}

	block, err := s.db.BlockByNumber(tx.BlockNumber)
	if err != nil {
		return Verification{}, err
	}

	v.BlockNumber = block.Header.Number
	v.BlockHash = block.Hash
	v.MerkleRoot = block.Header.MerkleRoot

	if block.Hash != tx.BlockHash {
		v.Reason = fmt.Sprintf("block %d has hash %s, transaction references %s", block.Header.Number, block.Hash, tx.BlockHash)
		return v, nil
	}

	if block.Header.Hash() != block.Hash {
		v.Reason = "block hash does not match its header"
		return v, nil
	}

	tree, err := block.Tree()
	if err != nil {
		return Verification{}, err
	}

	proof, order, err := tree.Proof(merkle.Digest(tx.ContentHash))
	if err != nil {
		v.Reason = "content hash is not a leaf of the block"
		return v, nil
	}
	v.Proof = proof
	v.ProofOrder = order

	if err := merkle.VerifyProof(tx.ContentHash, proof, order, block.Header.MerkleRoot); err != nil {
		v.Reason = err.Error()
		return v, nil
	}

	v.Verified = true

	return v, nil
}
