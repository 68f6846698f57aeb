package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ardanlabs/coopledger/foundation/blockchain/hasher"
	"github.com/ardanlabs/coopledger/foundation/blockchain/merkle"
)

// ErrEmptyBatch is returned when a block is requested to be sealed with
// no transactions.
var ErrEmptyBatch = errors.New("no transactions to seal")

// cancelCheck is the number of nonce attempts between checks for a
// cancelled sealing operation.
const cancelCheck = 1 << 10

// =============================================================================

// BlockHeader represents common information required for each block.
type BlockHeader struct {
	Number        uint64 `json:"number"`          // Sequence of the block in the ledger, genesis is 0.
	PrevBlockHash string `json:"prev_block_hash"` // Hash of the previous block in the ledger.
	TimeStamp     uint64 `json:"timestamp"`       // Time the sealing started in unix milliseconds.
	Nonce         uint64 `json:"nonce"`           // Value identified to solve the hash solution.
	Difficulty    uint16 `json:"difficulty"`      // Number of 0's needed to solve the hash solution.
	MerkleRoot    string `json:"merkle_root"`     // Merkle root of the content hashes sealed in this block.
}

// Hash computes the hash of the header fields that are sealed by the proof
// of work: previous hash, timestamp, merkle root and nonce.
func (bh BlockHeader) Hash() string {
	ts := strconv.FormatUint(bh.TimeStamp, 10)
	nonce := strconv.FormatUint(bh.Nonce, 10)

	return hasher.SumString(bh.PrevBlockHash + ts + bh.MerkleRoot + nonce)
}

// Block represents a group of transactions sealed together.
type Block struct {
	Header    BlockHeader `json:"header"`
	Hash      string      `json:"hash"`
	Confirmed bool        `json:"confirmed"`
	Created   time.Time   `json:"created"`
	TxIDs     []string    `json:"tx_ids"`
	Leaves    []string    `json:"leaves"`
}

// SealArgs represents the set of arguments required to seal a new block.
type SealArgs struct {
	PrevBlock  *Block
	Difficulty uint16
	Trans      []Tx
	Now        func() time.Time
	EvHandler  func(v string, args ...any)
}

// Seal constructs a new Block and performs the work to find a nonce that
// solves the proof of work puzzle. The batch is sealed in the order provided.
// Nothing is produced if the context is cancelled before a solution is found.
func Seal(ctx context.Context, args SealArgs) (Block, error) {
	if len(args.Trans) == 0 {
		return Block{}, ErrEmptyBatch
	}

	if int(args.Difficulty) > hasher.Size {
		return Block{}, fmt.Errorf("difficulty %d is larger than the hash size", args.Difficulty)
	}

	ev := args.EvHandler
	if ev == nil {
		ev = func(string, ...any) {}
	}

	now := args.Now
	if now == nil {
		now = time.Now
	}

	// When sealing the first block, the previous block's hash will be zero.
	prevBlockHash := hasher.ZeroHash
	var number uint64
	if args.PrevBlock != nil {
		prevBlockHash = args.PrevBlock.Hash
		number = args.PrevBlock.Header.Number + 1
	}

	// Construct a merkle tree from the transactions for this block. The root
	// of this tree will be part of the block to be sealed.
	tree, err := merkle.NewTree(args.Trans)
	if err != nil {
		return Block{}, err
	}

	txIDs := make([]string, len(args.Trans))
	for i, tx := range args.Trans {
		txIDs[i] = tx.ID
	}

	// The timestamp is captured once since it is part of the data being hashed.
	ts := now().UTC()

	nb := Block{
		Header: BlockHeader{
			Number:        number,
			PrevBlockHash: prevBlockHash,
			TimeStamp:     uint64(ts.UnixMilli()),
			Nonce:         0,
			Difficulty:    args.Difficulty,
			MerkleRoot:    tree.MerkleRoot,
		},
		Created: ts,
		TxIDs:   txIDs,
		Leaves:  tree.Hashes(),
	}

	if err := nb.performPOW(ctx, ev); err != nil {
		return Block{}, err
	}

	return nb, nil
}

// performPOW does the work of sealing to find a valid hash for the block.
// Pointer semantics are being used since a nonce is being discovered.
func (b *Block) performPOW(ctx context.Context, ev func(v string, args ...any)) error {
	ev("database: performPOW: SEALING: started: blk[%d]: trans[%d]", b.Header.Number, len(b.TxIDs))
	defer ev("database: performPOW: SEALING: completed: blk[%d]", b.Header.Number)

	var attempts uint64
	for {
		attempts++
		if attempts%cancelCheck == 0 {
			if ctx.Err() != nil {
				ev("database: performPOW: SEALING: CANCELLED: attempts[%d]", attempts)
				return ctx.Err()
			}
		}

		// Hash the header and check if we have solved the puzzle.
		hash := b.Header.Hash()
		if !isHashSolved(b.Header.Difficulty, hash) {
			b.Header.Nonce++
			continue
		}

		b.Hash = hash

		ev("database: performPOW: SEALING: SOLVED: prevBlk[%s]: newBlk[%s]: attempts[%d]", b.Header.PrevBlockHash, hash, attempts)

		return nil
	}
}

// Tree rebuilds the merkle tree from the sealed leaves of the block.
func (b Block) Tree() (*merkle.Tree[merkle.Digest], error) {
	digests := make([]merkle.Digest, len(b.Leaves))
	for i, leaf := range b.Leaves {
		digests[i] = merkle.Digest(leaf)
	}

	return merkle.NewTree(digests)
}

// HasLeaf reports if the content hash was sealed into this block.
func (b Block) HasLeaf(contentHash string) bool {
	for _, leaf := range b.Leaves {
		if leaf == contentHash {
			return true
		}
	}

	return false
}

// IsGenesis reports if this is the first block of the ledger.
func (b Block) IsGenesis() bool {
	return b.Header.Number == 0
}

// isHashSolved checks the hash to make sure it complies with
// the POW rules. We need to match a difficulty number of 0's.
func isHashSolved(difficulty uint16, hash string) bool {
	if len(hash) != hasher.Size {
		return false
	}

	return hash[:difficulty] == hasher.ZeroHash[:difficulty]
}
