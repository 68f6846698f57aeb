package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ardanlabs/coopledger/foundation/blockchain/hasher"
)

// TxStatus represents where a transaction is in its lifecycle.
type TxStatus string

// Set of possible transaction status values. PENDING moves to CONFIRMED when
// the transaction is sealed into a block, or to FAILED when the business
// operation behind it is withdrawn before sealing. Both are terminal.
const (
	TxStatusPending   TxStatus = "PENDING"
	TxStatusConfirmed TxStatus = "CONFIRMED"
	TxStatusFailed    TxStatus = "FAILED"
)

// ErrTxNotPending is returned when a transaction is expected to be pending
// but is already confirmed or failed.
var ErrTxNotPending = errors.New("transaction is not pending")

// =============================================================================

// UserTx is the business event a service asks the ledger to record. The
// payload is only used to derive the content hash, and is retained when the
// ledger is configured to keep payloads.
type UserTx struct {
	Kind        string `json:"kind"`          // Category tag such as DEPOSIT or LOAN_DISBURSEMENT.
	Subject     string `json:"subject"`       // Member or account identifier.
	Scope       string `json:"scope"`         // Tenant or company identifier.
	Amount      int64  `json:"amount"`        // Monetary amount in minor units, zero for non-monetary events.
	OffChainRef string `json:"off_chain_ref"` // Pointer back to the originating business record.
	Payload     any    `json:"payload"`       // Business payload used to derive the content hash.
}

// Tx is the ledger record of a business event.
type Tx struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Subject     string          `json:"subject"`
	Scope       string          `json:"scope"`
	Amount      int64           `json:"amount"`
	Created     time.Time       `json:"created"`
	ContentHash string          `json:"content_hash"`
	OffChainRef string          `json:"off_chain_ref"`
	Status      TxStatus        `json:"status"`
	BlockNumber uint64          `json:"block_number"`
	BlockHash   string          `json:"block_hash,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Reason      string          `json:"reason,omitempty"`
}

// NewTx constructs a pending transaction record for the user transaction.
func NewTx(userTx UserTx, id string, created time.Time, retainPayload bool) (Tx, error) {
	if id == "" {
		return Tx{}, errors.New("transaction id is required")
	}

	payload, err := hasher.Canonical(userTx.Payload)
	if err != nil {
		return Tx{}, fmt.Errorf("encoding payload: %w", err)
	}

	tx := Tx{
		ID:          id,
		Kind:        userTx.Kind,
		Subject:     userTx.Subject,
		Scope:       userTx.Scope,
		Amount:      userTx.Amount,
		Created:     created.UTC(),
		ContentHash: hasher.Sum(payload),
		OffChainRef: userTx.OffChainRef,
		Status:      TxStatusPending,
	}

	if retainPayload {
		tx.Payload = payload
	}

	return tx, nil
}

// Hash implements the merkle Hashable interface. The content hash is the
// leaf placed in the block's merkle tree.
func (tx Tx) Hash() (string, error) {
	if tx.ContentHash == "" {
		return "", fmt.Errorf("transaction %s has no content hash", tx.ID)
	}

	return tx.ContentHash, nil
}

// Equals implements the merkle Hashable interface.
func (tx Tx) Equals(otherTx Tx) bool {
	return tx.ID == otherTx.ID
}

// Confirm returns a copy of the transaction marked as sealed in the block.
func (tx Tx) Confirm(block Block) Tx {
	tx.Status = TxStatusConfirmed
	tx.BlockNumber = block.Header.Number
	tx.BlockHash = block.Hash
	return tx
}

// VerifyPayload recomputes the content hash from the retained payload. A
// transaction without a retained payload can't be checked and passes.
func (tx Tx) VerifyPayload() error {
	if len(tx.Payload) == 0 {
		return nil
	}

	hash, err := hasher.Value(tx.Payload)
	if err != nil {
		return fmt.Errorf("hashing payload: %w", err)
	}

	if hash != tx.ContentHash {
		return fmt.Errorf("payload hash %s does not match content hash %s", hash, tx.ContentHash)
	}

	return nil
}

// String implements the Stringer interface for logging.
func (tx Tx) String() string {
	return fmt.Sprintf("%s:%s:%s", tx.ID, tx.Kind, tx.ContentHash)
}
