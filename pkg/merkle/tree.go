// Copyright 2025 Certen Protocol
//
// Binary Merkle tree construction from leaf values, with inclusion proof
// generation and verification. Leaf and internal node hashes are
// domain-separated (0x00 / 0x01 prefixes) so a leaf hash can never be
// reinterpreted as an internal node hash. Thread-safe for concurrent reads
// once built.

package merkle

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"

	"github.com/zerotrust/protokernel/pkg/identity"
)

// Common errors.
var (
	ErrOutOfRange    = errors.New("merkle: leaf index out of range")
	ErrProofLength   = errors.New("merkle: proof has wrong sibling count for tree size")
	ErrProofsOnEmpty = errors.New("merkle: proofs are not permitted on an empty tree")
)

const (
	leafPrefix     = byte(0x00)
	internalPrefix = byte(0x01)
)

// Side identifies which side of the folded hash a sibling occupies.
type Side byte

const (
	Left  Side = 'L'
	Right Side = 'R'
)

// ProofStep is one level of a Proof: a sibling digest and the side it
// occupies relative to the hash being folded upward.
type ProofStep struct {
	Sibling identity.Digest
	Side    Side
}

// Proof is the wire MerkleProof: the leaf's index and raw value, plus the
// ordered sibling path to the root. The root is never embedded in the proof
// itself — the verifier supplies it from the peer's published commitment.
type Proof struct {
	LeafIndex uint64
	LeafValue []byte
	Siblings  []ProofStep
}

func leafHash(value []byte) identity.Digest {
	buf := make([]byte, 0, 1+len(value))
	buf = append(buf, leafPrefix)
	buf = append(buf, value...)
	return identity.SHA256(buf)
}

func internalHash(left, right identity.Digest) identity.Digest {
	buf := make([]byte, 0, 1+64)
	buf = append(buf, internalPrefix)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return identity.SHA256(buf)
}

// Tree is a built binary Merkle tree over a fixed, ordered leaf set.
type Tree struct {
	mu     sync.RWMutex
	leaves [][]byte
	levels [][]identity.Digest
	root   identity.Digest
}

// Build constructs a Merkle tree from ordered leaf values. An empty leaf set
// still produces a tree whose root is sha256(""), but Prove rejects any
// request against it.
func Build(leaves [][]byte) (*Tree, error) {
	t := &Tree{leaves: leaves}
	if len(leaves) == 0 {
		t.root = identity.SHA256([]byte(""))
		return t, nil
	}

	level := make([]identity.Digest, len(leaves))
	for i, l := range leaves {
		level[i] = leafHash(l)
	}
	t.levels = append(t.levels, level)

	for len(level) > 1 {
		next := make([]identity.Digest, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, internalHash(level[i], level[i+1]))
			} else {
				// Odd level: duplicate the last node.
				next = append(next, internalHash(level[i], level[i]))
			}
		}
		t.levels = append(t.levels, next)
		level = next
	}
	t.root = level[0]
	return t, nil
}

// Root returns the tree's root digest.
func (t *Tree) Root() identity.Digest {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

// LeafCount returns the number of leaves the tree was built from.
func (t *Tree) LeafCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.leaves)
}

// Leaf returns the raw leaf value at idx.
func (t *Tree) Leaf(idx uint64) ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if idx >= uint64(len(t.leaves)) {
		return nil, fmt.Errorf("%w: idx=%d n=%d", ErrOutOfRange, idx, len(t.leaves))
	}
	return append([]byte(nil), t.leaves[idx]...), nil
}

// Prove builds an inclusion proof for the leaf at idx.
func (t *Tree) Prove(idx uint64) (*Proof, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.leaves) == 0 {
		return nil, ErrProofsOnEmpty
	}
	if idx >= uint64(len(t.leaves)) {
		return nil, fmt.Errorf("%w: idx=%d n=%d", ErrOutOfRange, idx, len(t.leaves))
	}

	proof := &Proof{
		LeafIndex: idx,
		LeafValue: append([]byte(nil), t.leaves[idx]...),
	}

	cur := idx
	for level := 0; level < len(t.levels)-1; level++ {
		nodes := t.levels[level]
		var sibling identity.Digest
		var side Side
		if cur%2 == 0 {
			if int(cur)+1 < len(nodes) {
				sibling = nodes[cur+1]
			} else {
				sibling = nodes[cur] // odd level, duplicated node
			}
			side = Right
		} else {
			sibling = nodes[cur-1]
			side = Left
		}
		proof.Siblings = append(proof.Siblings, ProofStep{Sibling: sibling, Side: side})
		cur /= 2
	}
	return proof, nil
}

// expectedSiblingCount returns the sibling-path length for a tree of n leaves.
func expectedSiblingCount(n int) int {
	count := 0
	size := n
	for size > 1 {
		size = (size + 1) / 2
		count++
	}
	return count
}

// Verify recomputes the leaf hash from proof.LeafValue, folds it with each
// recorded sibling, and compares the result against the externally supplied
// root.
func Verify(root identity.Digest, proof *Proof) bool {
	cur := leafHash(proof.LeafValue)
	for _, step := range proof.Siblings {
		switch step.Side {
		case Left:
			cur = internalHash(step.Sibling, cur)
		case Right:
			cur = internalHash(cur, step.Sibling)
		default:
			return false
		}
	}
	return subtle.ConstantTimeCompare(cur[:], root[:]) == 1
}

// VerifyWithSize additionally enforces that proof carries exactly the
// sibling count expected for a tree of nLeaves, rejecting a malformed proof
// before any hashing occurs.
func VerifyWithSize(root identity.Digest, proof *Proof, nLeaves int) (bool, error) {
	if nLeaves == 0 {
		return false, ErrProofsOnEmpty
	}
	want := expectedSiblingCount(nLeaves)
	if len(proof.Siblings) != want {
		return false, fmt.Errorf("%w: got %d want %d", ErrProofLength, len(proof.Siblings), want)
	}
	return Verify(root, proof), nil
}
