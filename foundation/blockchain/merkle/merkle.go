// Package merkle provides the merkle aggregation of transaction content
// hashes used to seal a block. The tree is order sensitive: the same set of
// values in a different order produces a different root.
//
// The rules are:
//
//	no values   root = Sum("")
//	one value   root = the value's hash, nothing else is hashed
//	otherwise   hash pairs left to right with Sum(left || right) over the
//	            hex strings, duplicating the last hash of an odd level,
//	            until one hash remains
package merkle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ardanlabs/coopledger/foundation/blockchain/hasher"
)

// Hashable represents the behavior concrete data must exhibit to be used in
// the merkle tree.
type Hashable[T any] interface {
	Hash() (string, error)
	Equals(other T) bool
}

// ErrNotFound is returned when a value is not a leaf of the tree.
var ErrNotFound = errors.New("unable to find data in tree")

// =============================================================================

// Tree represents a merkle tree that uses data of some type T that exhibits the
// behavior defined by the Hashable constraint.
type Tree[T Hashable[T]] struct {
	Root       *Node[T]
	Leafs      []*Node[T]
	MerkleRoot string
}

// NewTree constructs a new merkle tree that uses data of some type T that
// exhibits the behavior defined by the Hashable interface.
func NewTree[T Hashable[T]](values []T) (*Tree[T], error) {
	var t Tree[T]
	if err := t.Generate(values); err != nil {
		return nil, err
	}

	return &t, nil
}

// Generate constructs the leafs and nodes of the tree from the specified
// data. If the tree has been generated previously, the tree is re-generated
// from scratch.
func (t *Tree[T]) Generate(values []T) error {
	t.Root = nil
	t.Leafs = nil
	t.MerkleRoot = hasher.SumString("")

	if len(values) == 0 {
		return nil
	}

	leafs := make([]*Node[T], 0, len(values)+1)
	for _, value := range values {
		hash, err := value.Hash()
		if err != nil {
			return err
		}

		leafs = append(leafs, &Node[T]{
			Hash:  hash,
			Value: value,
			leaf:  true,
		})
	}

	// A single value is its own root.
	if len(leafs) == 1 {
		t.Root = leafs[0]
		t.Leafs = leafs
		t.MerkleRoot = leafs[0].Hash
		return nil
	}

	if len(leafs)%2 == 1 {
		last := leafs[len(leafs)-1]
		leafs = append(leafs, &Node[T]{
			Hash:  last.Hash,
			Value: last.Value,
			leaf:  true,
			dup:   true,
		})
	}

	t.Root = buildIntermediate(leafs)
	t.Leafs = leafs
	t.MerkleRoot = t.Root.Hash

	return nil
}

// Rebuild is a helper function that will rebuild the tree reusing only the
// data that it currently holds in the leaves.
func (t *Tree[T]) Rebuild() error {
	return t.Generate(t.Values())
}

// Proof returns the set of hashes and the order of concatenating those
// hashes for proving a value is in the tree. An order of 0 means the proof
// hash is concatenated first, 1 means it comes second.
func (t *Tree[T]) Proof(data T) ([]string, []int64, error) {
	for _, node := range t.Leafs {
		if node.dup || !node.Value.Equals(data) {
			continue
		}

		var proof []string
		var order []int64
		for parent := node.Parent; parent != nil; parent = parent.Parent {
			if parent.Left == node {
				proof = append(proof, parent.Right.Hash)
				order = append(order, 1)
			} else {
				proof = append(proof, parent.Left.Hash)
				order = append(order, 0)
			}
			node = parent
		}

		return proof, order, nil
	}

	return nil, nil, ErrNotFound
}

// Verify recalculates every level of the tree and checks the result against
// the stored merkle root.
func (t *Tree[T]) Verify() error {
	if t.Root == nil {
		if t.MerkleRoot != hasher.SumString("") {
			return errors.New("empty tree has an invalid root")
		}
		return nil
	}

	calculated, err := t.Root.verify()
	if err != nil {
		return err
	}

	if calculated != t.MerkleRoot {
		return fmt.Errorf("root hash invalid, got %s, exp %s", calculated, t.MerkleRoot)
	}

	return nil
}

// VerifyData indicates whether a given piece of data is in the tree and if
// the hashes on the path from its leaf to the root are valid.
func (t *Tree[T]) VerifyData(data T) error {
	proof, order, err := t.Proof(data)
	if err != nil {
		return err
	}

	hash, err := data.Hash()
	if err != nil {
		return err
	}

	return VerifyProof(hash, proof, order, t.MerkleRoot)
}

// Values returns the slice of values stored in the tree, without the
// duplicate used to balance an odd number of leafs.
func (t *Tree[T]) Values() []T {
	values := make([]T, 0, len(t.Leafs))
	for _, node := range t.Leafs {
		if node.dup {
			continue
		}
		values = append(values, node.Value)
	}

	return values
}

// Hashes returns the leaf hashes in order, without the duplicate.
func (t *Tree[T]) Hashes() []string {
	hashes := make([]string, 0, len(t.Leafs))
	for _, node := range t.Leafs {
		if node.dup {
			continue
		}
		hashes = append(hashes, node.Hash)
	}

	return hashes
}

// String returns a string representation of the tree. Only leaf nodes are
// included in the output.
func (t *Tree[T]) String() string {
	var b strings.Builder
	for _, l := range t.Leafs {
		b.WriteString(l.String())
		b.WriteString("\n")
	}

	return b.String()
}

// MarshalText implements the TextMarshaler interface and produces a panic
// if anyone tries to marshal the Merkle tree. Use the Values function to
// return a slice that can be marshaled.
func (t *Tree[T]) MarshalText() (text []byte, err error) {
	panic("do not marshal the merkle tree, use Values")
}

// =============================================================================

// Node represents a node, root, or leaf in the tree. It stores pointers to its
// immediate relationships, a hash, the data if it is a leaf, and other metadata.
type Node[T Hashable[T]] struct {
	Parent *Node[T]
	Left   *Node[T]
	Right  *Node[T]
	Hash   string
	Value  T
	leaf   bool
	dup    bool
}

// verify walks down the tree until hitting a leaf, calculating the hash at
// each level and returning the resulting hash of the node.
func (n *Node[T]) verify() (string, error) {
	if n.leaf {
		return n.Value.Hash()
	}

	left, err := n.Left.verify()
	if err != nil {
		return "", err
	}

	right, err := n.Right.verify()
	if err != nil {
		return "", err
	}

	return Combine(left, right), nil
}

// String returns a string representation of the node.
func (n *Node[T]) String() string {
	return fmt.Sprintf("%t %t %s %v", n.leaf, n.dup, n.Hash, n.Value)
}

// =============================================================================

// Combine produces the parent hash of two child hashes.
func Combine(left, right string) string {
	return hasher.SumString(left + right)
}

// Root computes the merkle root for an ordered set of hashes without keeping
// the tree around.
func Root(hashes []string) string {
	digests := make([]Digest, len(hashes))
	for i, h := range hashes {
		digests[i] = Digest(h)
	}

	// Digest hashing can't fail.
	tree, _ := NewTree(digests)
	return tree.MerkleRoot
}

// VerifyProof replays a proof produced by Tree.Proof against a root.
func VerifyProof(hash string, proof []string, order []int64, root string) error {
	if len(proof) != len(order) {
		return errors.New("proof and order length mismatch")
	}

	for i, p := range proof {
		switch order[i] {
		case 0:
			hash = Combine(p, hash)
		case 1:
			hash = Combine(hash, p)
		default:
			return fmt.Errorf("invalid proof order %d", order[i])
		}
	}

	if hash != root {
		return errors.New("merkle root is not equivalent to the merkle root calculated on the critical path")
	}

	return nil
}

// buildIntermediate is a helper function that for a given list of nodes,
// constructs the next level of the tree until the root is reached. An odd
// node at the end of a level is paired with itself.
func buildIntermediate[T Hashable[T]](nl []*Node[T]) *Node[T] {
	nodes := make([]*Node[T], 0, (len(nl)+1)/2)

	for i := 0; i < len(nl); i += 2 {
		left, right := nl[i], nl[i]
		if i+1 < len(nl) {
			right = nl[i+1]
		}

		n := Node[T]{
			Left:  left,
			Right: right,
			Hash:  Combine(left.Hash, right.Hash),
		}

		nodes = append(nodes, &n)
		left.Parent = &n
		if right != left {
			right.Parent = &n
		}
	}

	if len(nodes) == 1 {
		return nodes[0]
	}

	return buildIntermediate(nodes)
}

// =============================================================================

// Digest is a hash that is already computed. It lets a tree be built from the
// sealed leaf hashes of a block without the original values.
type Digest string

// Hash implements the Hashable interface.
func (d Digest) Hash() (string, error) {
	return string(d), nil
}

// Equals implements the Hashable interface.
func (d Digest) Equals(other Digest) bool {
	return d == other
}
