// Copyright 2025 Certen Protocol
//
// Grid commitment scheme: the mandatory reference implementation of
// Scheme. A participant commits to an N x N grid of cells, a subset of
// which are "marked", behind a per-participant random seed. Each cell
// becomes one Merkle leaf, enumerated row-major; proving a cell reveals
// that cell's full leaf encoding (x, y, marked, seed) plus its sibling
// path — every other cell's leaf stays hidden.

package commitment

import (
	"fmt"

	"github.com/zerotrust/protokernel/pkg/identity"
	"github.com/zerotrust/protokernel/pkg/merkle"
)

// Cell is one grid position and whether it is marked.
type Cell struct {
	X      int  `json:"x"`
	Y      int  `json:"y"`
	Marked bool `json:"marked"`
}

// Query asks whether the cell at (X, Y) is marked.
type Query struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type gridLeaf struct {
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Marked bool   `json:"marked"`
	Seed   string `json:"seed"`
}

// Grid is the grid reference Scheme. Construct with NewGrid, then Prove
// queries locally; share only CommitRoot with the peer.
type Grid struct {
	size    int
	seed    string
	marked  map[[2]int]bool
	tree    *merkle.Tree
	indexOf map[[2]int]uint64
}

// NewGrid builds a Grid of size x size cells with the given marked
// positions and a per-commitment random seed. The seed must be unique per
// commitment; it is mixed into every leaf so leaf hashes are not guessable
// from the grid layout alone. It is not sent with the commitment, but each
// proof's leaf_value carries it.
func NewGrid(size int, marked [][2]int, seed string) (*Grid, error) {
	if size <= 0 {
		return nil, fmt.Errorf("commitment: grid size must be positive, got %d", size)
	}
	markedSet := make(map[[2]int]bool, len(marked))
	for _, m := range marked {
		if m[0] < 0 || m[0] >= size || m[1] < 0 || m[1] >= size {
			return nil, fmt.Errorf("commitment: marked position (%d,%d) out of range for size %d", m[0], m[1], size)
		}
		markedSet[m] = true
	}

	leaves := make([][]byte, 0, size*size)
	indexOf := make(map[[2]int]uint64, size*size)
	idx := uint64(0)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			leaf := gridLeaf{X: x, Y: y, Marked: markedSet[[2]int{x, y}], Seed: seed}
			canon, err := identity.Canonicalize(leaf)
			if err != nil {
				return nil, fmt.Errorf("commitment: canonicalize leaf (%d,%d): %w", x, y, err)
			}
			leaves = append(leaves, canon)
			indexOf[[2]int{x, y}] = idx
			idx++
		}
	}

	tree, err := merkle.Build(leaves)
	if err != nil {
		return nil, fmt.Errorf("commitment: build grid tree: %w", err)
	}

	return &Grid{
		size:    size,
		seed:    seed,
		marked:  markedSet,
		tree:    tree,
		indexOf: indexOf,
	}, nil
}

// CommitRoot returns the grid's Merkle root.
func (g *Grid) CommitRoot() identity.Digest {
	return g.tree.Root()
}

// SchemeTag identifies this scheme on the wire.
func (g *Grid) SchemeTag() string { return "grid-merkle" }

// Prove answers a Query with a MerkleProof over the queried cell.
// leaf_value reveals exactly the (x, y, marked, seed) tuple for the one
// cell asked about.
func (g *Grid) Prove(query interface{}) (*merkle.Proof, error) {
	q, ok := query.(Query)
	if !ok {
		qp, ok2 := query.(*Query)
		if !ok2 {
			return nil, fmt.Errorf("commitment: grid scheme requires a Query, got %T", query)
		}
		q = *qp
	}
	idx, ok := g.indexOf[[2]int{q.X, q.Y}]
	if !ok {
		return nil, fmt.Errorf("commitment: query (%d,%d) out of range", q.X, q.Y)
	}
	return g.tree.Prove(idx)
}

// VerifyMembership reconstructs (x, y, marked) from proof.LeafValue and
// checks it matches query, then verifies the Merkle path against root. The
// seed inside leaf_value is opaque to the verifier — it is never
// recomputed, only checked for presence as part of the leaf encoding.
func (g *Grid) VerifyMembership(root identity.Digest, query interface{}, proof *merkle.Proof) bool {
	return VerifyGridMembership(root, query, proof, g.size)
}

// DecodeGridFact extracts the (x, y, marked) triple carried in a grid
// proof's leaf_value, without needing the tree or the seed. Callers use
// this to bind an asserted fact (e.g. a RESPONSE tx claiming "hit") to
// what the proof actually attests, independent of membership validity.
func DecodeGridFact(proof *merkle.Proof) (x, y int, marked bool, err error) {
	if proof == nil {
		return 0, 0, false, fmt.Errorf("commitment: nil proof")
	}
	var leaf gridLeaf
	if err := decodeCanonicalLeaf(proof.LeafValue, &leaf); err != nil {
		return 0, 0, false, fmt.Errorf("commitment: decode leaf: %w", err)
	}
	return leaf.X, leaf.Y, leaf.Marked, nil
}

// VerifyGridMembership is the stateless verifier form: it needs only the
// peer's published root, the query, the proof, and the agreed grid size —
// never the prover's seed or full grid.
func VerifyGridMembership(root identity.Digest, query interface{}, proof *merkle.Proof, size int) bool {
	q, ok := query.(Query)
	if !ok {
		qp, ok2 := query.(*Query)
		if !ok2 {
			return false
		}
		q = *qp
	}
	if proof == nil {
		return false
	}

	var leaf gridLeaf
	if err := decodeCanonicalLeaf(proof.LeafValue, &leaf); err != nil {
		return false
	}
	if leaf.X != q.X || leaf.Y != q.Y {
		return false
	}
	if leaf.Seed == "" {
		return false
	}

	nLeaves := size * size
	ok2, err := merkle.VerifyWithSize(root, proof, nLeaves)
	if err != nil {
		return false
	}
	return ok2
}
