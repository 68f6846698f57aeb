package database

import (
	"context"
	"fmt"

	"github.com/ardanlabs/coopledger/foundation/blockchain/hasher"
	"github.com/ardanlabs/coopledger/foundation/blockchain/merkle"
)

// genesisPrevHash is the previous hash every genesis block must carry.
const genesisPrevHash = hasher.ZeroHash

// ViolationKind identifies the rule a block broke.
type ViolationKind string

// Set of integrity rules checked by ValidateChain.
const (
	ViolationGenesisLink ViolationKind = "GENESIS_LINK"
	ViolationBrokenLink  ViolationKind = "BROKEN_LINK"
	ViolationSequence    ViolationKind = "SEQUENCE_GAP"
	ViolationHash        ViolationKind = "HASH_MISMATCH"
	ViolationDifficulty  ViolationKind = "DIFFICULTY_UNMET"
	ViolationMerkleRoot  ViolationKind = "MERKLE_MISMATCH"
	ViolationTransaction ViolationKind = "TRANSACTION_MISMATCH"
	ViolationPayload     ViolationKind = "PAYLOAD_MISMATCH"
)

// Violation is the first integrity problem found in the ledger.
type Violation struct {
	BlockNumber uint64        `json:"block_number"`
	BlockHash   string        `json:"block_hash"`
	Kind        ViolationKind `json:"kind"`
	Detail      string        `json:"detail"`
}

// Report is the outcome of a chain validation.
type Report struct {
	Valid     bool       `json:"valid"`
	Checked   uint64     `json:"checked"`
	Merkle    bool       `json:"merkle"`
	Payloads  bool       `json:"payloads"`
	Violation *Violation `json:"violation,omitempty"`
}

// ValidateOptions turns on the checks that need the transaction records.
type ValidateOptions struct {
	Merkle   bool // Recompute merkle roots from the stored transaction records.
	Payloads bool // Re-hash retained payloads against their content hashes.
}

// ValidateChain walks the ledger in storage from genesis, recomputing hashes
// and checking the linkage between blocks. Findings are reported, not
// returned as errors. An error is only returned if storage can't be read or
// the context is cancelled.
func (db *Database) ValidateChain(ctx context.Context, opts ValidateOptions) (Report, error) {
	report := Report{
		Valid:    true,
		Merkle:   opts.Merkle,
		Payloads: opts.Payloads,
	}

	var prev *Block

	iter := db.storage.ForEach()
	for block, err := iter.Next(); !iter.Done(); block, err = iter.Next() {
		if err != nil {
			return Report{}, fmt.Errorf("reading block %d: %w", report.Checked, err)
		}

		if ctx.Err() != nil {
			return Report{}, ctx.Err()
		}

		v := checkBlock(prev, block)
		if v == nil && (opts.Merkle || opts.Payloads) {
			v = db.checkTransactions(block, opts)
		}

		if v != nil {
			db.evHandler("database: ValidateChain: VIOLATION: blk[%d]: kind[%s]: %s", v.BlockNumber, v.Kind, v.Detail)
			report.Valid = false
			report.Violation = v
			return report, nil
		}

		report.Checked++
		prev = &block
	}

	db.evHandler("database: ValidateChain: valid: blocks[%d]", report.Checked)

	return report, nil
}

// checkBlock applies the linkage and proof of work rules to a block given
// the block before it. A nil prev means the block must be genesis.
func checkBlock(prev *Block, b Block) *Violation {
	violation := func(kind ViolationKind, format string, args ...any) *Violation {
		return &Violation{
			BlockNumber: b.Header.Number,
			BlockHash:   b.Hash,
			Kind:        kind,
			Detail:      fmt.Sprintf(format, args...),
		}
	}

	switch prev {
	case nil:
		if b.Header.Number != 0 {
			return violation(ViolationSequence, "first block number is %d, exp 0", b.Header.Number)
		}

		if b.Header.PrevBlockHash != genesisPrevHash {
			return violation(ViolationGenesisLink, "genesis previous hash is %s, exp %s", b.Header.PrevBlockHash, genesisPrevHash)
		}

	default:
		if b.Header.Number != prev.Header.Number+1 {
			return violation(ViolationSequence, "block number is %d, exp %d", b.Header.Number, prev.Header.Number+1)
		}

		if b.Header.PrevBlockHash != prev.Hash {
			return violation(ViolationBrokenLink, "previous hash is %s, exp %s", b.Header.PrevBlockHash, prev.Hash)
		}
	}

	if hash := b.Header.Hash(); hash != b.Hash {
		return violation(ViolationHash, "recomputed hash is %s, stored %s", hash, b.Hash)
	}

	if !isHashSolved(b.Header.Difficulty, b.Hash) {
		return violation(ViolationDifficulty, "hash %s does not have %d leading zeros", b.Hash, b.Header.Difficulty)
	}

	return nil
}

// checkTransactions recomputes the merkle root of the block from its sealed
// leaves and from the transaction records currently in storage.
func (db *Database) checkTransactions(b Block, opts ValidateOptions) *Violation {
	violation := func(kind ViolationKind, format string, args ...any) *Violation {
		return &Violation{
			BlockNumber: b.Header.Number,
			BlockHash:   b.Hash,
			Kind:        kind,
			Detail:      fmt.Sprintf(format, args...),
		}
	}

	if opts.Merkle {
		if len(b.TxIDs) != len(b.Leaves) {
			return violation(ViolationTransaction, "block has %d transactions and %d leaves", len(b.TxIDs), len(b.Leaves))
		}

		if root := merkle.Root(b.Leaves); root != b.Header.MerkleRoot {
			return violation(ViolationMerkleRoot, "root of sealed leaves is %s, header %s", root, b.Header.MerkleRoot)
		}
	}

	hashes := make([]string, len(b.TxIDs))
	for i, id := range b.TxIDs {
		tx, err := db.storage.GetTx(id)
		if err != nil {
			return violation(ViolationTransaction, "transaction %s: %s", id, err)
		}

		if opts.Merkle {
			if tx.Status != TxStatusConfirmed || tx.BlockHash != b.Hash {
				return violation(ViolationTransaction, "transaction %s is %s in block %q", id, tx.Status, tx.BlockHash)
			}
		}

		if opts.Payloads {
			if err := tx.VerifyPayload(); err != nil {
				return violation(ViolationPayload, "transaction %s: %s", id, err)
			}
		}

		hashes[i] = tx.ContentHash
	}

	if opts.Merkle {
		if root := merkle.Root(hashes); root != b.Header.MerkleRoot {
			return violation(ViolationMerkleRoot, "root of stored transactions is %s, header %s", root, b.Header.MerkleRoot)
		}
	}

	return nil
}
