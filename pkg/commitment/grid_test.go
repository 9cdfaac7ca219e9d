// Copyright 2025 Certen Protocol

package commitment

import "testing"

func TestGrid_CommitAndProveMarkedCell(t *testing.T) {
	g, err := NewGrid(4, [][2]int{{0, 0}, {1, 1}}, "alpha")
	if err != nil {
		t.Fatalf("new grid: %v", err)
	}
	root := g.CommitRoot()

	proof, err := g.Prove(Query{X: 1, Y: 1})
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	if !g.VerifyMembership(root, Query{X: 1, Y: 1}, proof) {
		t.Fatalf("membership proof for marked cell failed to verify")
	}
}

func TestGrid_ProveUnmarkedCell(t *testing.T) {
	g, err := NewGrid(4, [][2]int{{0, 0}}, "beta")
	if err != nil {
		t.Fatalf("new grid: %v", err)
	}
	root := g.CommitRoot()

	proof, err := g.Prove(Query{X: 3, Y: 3})
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	if !g.VerifyMembership(root, Query{X: 3, Y: 3}, proof) {
		t.Fatalf("membership proof for unmarked cell failed to verify")
	}
}

func TestGrid_ProofRejectedForWrongQuery(t *testing.T) {
	g, err := NewGrid(4, [][2]int{{0, 0}}, "gamma")
	if err != nil {
		t.Fatalf("new grid: %v", err)
	}
	root := g.CommitRoot()

	proof, err := g.Prove(Query{X: 2, Y: 2})
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	if g.VerifyMembership(root, Query{X: 1, Y: 1}, proof) {
		t.Fatalf("proof for (2,2) unexpectedly verified against query (1,1)")
	}
}

func TestGrid_ProofRejectedForWrongRoot(t *testing.T) {
	g, err := NewGrid(4, [][2]int{{0, 0}}, "delta")
	if err != nil {
		t.Fatalf("new grid: %v", err)
	}
	proof, err := g.Prove(Query{X: 0, Y: 0})
	if err != nil {
		t.Fatalf("prove: %v", err)
	}

	other, err := NewGrid(4, [][2]int{{2, 2}}, "epsilon")
	if err != nil {
		t.Fatalf("new grid: %v", err)
	}
	if g.VerifyMembership(other.CommitRoot(), Query{X: 0, Y: 0}, proof) {
		t.Fatalf("proof unexpectedly verified against an unrelated root")
	}
}

func TestGrid_OutOfRangeMarkedPositionRejected(t *testing.T) {
	if _, err := NewGrid(4, [][2]int{{9, 9}}, "seed"); err == nil {
		t.Fatalf("expected error for out-of-range marked position")
	}
}

func TestGrid_SchemeTag(t *testing.T) {
	g, err := NewGrid(2, nil, "tag-seed")
	if err != nil {
		t.Fatalf("new grid: %v", err)
	}
	if g.SchemeTag() != "grid-merkle" {
		t.Fatalf("unexpected scheme tag: %s", g.SchemeTag())
	}
}
