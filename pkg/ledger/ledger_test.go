// Copyright 2025 Certen Protocol

package ledger

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/zerotrust/protokernel/pkg/identity"
)

func mustIdentity(t *testing.T, hexByte string) *identity.Identity {
	t.Helper()
	id, err := identity.FromHexKey(strings.Repeat(hexByte, 32))
	if err != nil {
		t.Fatalf("from hex key: %v", err)
	}
	return id
}

func TestNew_GenesisBlockMeetsDifficulty(t *testing.T) {
	l, err := New(2)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if l.Len() != 1 {
		t.Fatalf("expected 1 block, got %d", l.Len())
	}
	tip := l.Tip()
	if !tip.PrevHash.IsZero() {
		t.Fatalf("genesis prev_hash must be zero")
	}
	ok, badIndex, reason := l.Verify()
	if !ok {
		t.Fatalf("genesis failed verify at %d: %v", badIndex, reason)
	}
}

func TestAppendAndSeal_HappyPath(t *testing.T) {
	alice := mustIdentity(t, "01")
	l, err := New(2)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	tx, err := Sign(alice, MoveAction, map[string]interface{}{"x": int64(1)}, 1000, 1)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := l.Append(*tx); err != nil {
		t.Fatalf("append: %v", err)
	}
	block, err := l.Seal(1001)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if block.Index != 1 {
		t.Fatalf("expected block index 1, got %d", block.Index)
	}
	ok, badIndex, reason := l.Verify()
	if !ok {
		t.Fatalf("verify failed at %d: %v", badIndex, reason)
	}
}

func TestAppend_DuplicateNonceRejected(t *testing.T) {
	alice := mustIdentity(t, "01")
	l, _ := New(1)
	tx1, _ := Sign(alice, MoveAction, nil, 1000, 1)
	if err := l.Append(*tx1); err != nil {
		t.Fatalf("first append: %v", err)
	}
	tx2, _ := Sign(alice, MoveAction, nil, 1001, 1)
	if err := l.Append(*tx2); err != ErrDuplicateNonce {
		t.Fatalf("expected ErrDuplicateNonce, got %v", err)
	}
}

func TestAppend_OutOfOrderNonceRejected(t *testing.T) {
	alice := mustIdentity(t, "01")
	l, _ := New(1)
	tx1, _ := Sign(alice, MoveAction, nil, 1000, 5)
	if err := l.Append(*tx1); err != nil {
		t.Fatalf("first append: %v", err)
	}
	tx2, _ := Sign(alice, MoveAction, nil, 1001, 3)
	if err := l.Append(*tx2); err != ErrNonceOutOfOrder {
		t.Fatalf("expected ErrNonceOutOfOrder, got %v", err)
	}
}

func TestVerify_SingleByteMutationFailsAtOrBeforeMutatedBlock(t *testing.T) {
	alice := mustIdentity(t, "01")
	l, _ := New(1)

	tx1, _ := Sign(alice, MoveAction, map[string]interface{}{"v": int64(1)}, 1000, 1)
	l.Append(*tx1)
	if _, err := l.Seal(1001); err != nil {
		t.Fatalf("seal 1: %v", err)
	}

	tx2, _ := Sign(alice, MoveAction, map[string]interface{}{"v": int64(2)}, 1002, 2)
	l.Append(*tx2)
	if _, err := l.Seal(1003); err != nil {
		t.Fatalf("seal 2: %v", err)
	}

	ok, _, _ := l.Verify()
	if !ok {
		t.Fatalf("expected clean chain to verify before mutation")
	}

	l.blocks[1].Transactions[0].Data["v"] = int64(999)

	ok, badIndex, reason := l.Verify()
	if ok {
		t.Fatalf("expected mutated chain to fail verification")
	}
	if badIndex > 1 {
		t.Fatalf("expected failure at or before mutated block 1, got %d", badIndex)
	}
	if reason == nil {
		t.Fatalf("expected a reason for the failure")
	}
}

func TestVerify_TamperedPrevHashBreaksLinkage(t *testing.T) {
	alice := mustIdentity(t, "01")
	l, _ := New(1)
	tx1, _ := Sign(alice, MoveAction, nil, 1000, 1)
	l.Append(*tx1)
	l.Seal(1001)

	tx2, _ := Sign(alice, MoveAction, nil, 1002, 2)
	l.Append(*tx2)
	l.Seal(1003)

	l.blocks[2].PrevHash = identity.ZeroDigest

	ok, badIndex, _ := l.Verify()
	if ok {
		t.Fatalf("expected broken linkage to fail verify")
	}
	if badIndex != 2 {
		t.Fatalf("expected failure at index 2, got %d", badIndex)
	}
}

func TestSerializeDeserialize_RoundTrip(t *testing.T) {
	alice := mustIdentity(t, "01")
	l, _ := New(1)
	tx, _ := Sign(alice, MoveAction, map[string]interface{}{"k": "v"}, 1000, 1)
	l.Append(*tx)
	l.Seal(1001)

	raw, err := l.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	restored, err := Deserialize(raw, 1)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if restored.Len() != l.Len() {
		t.Fatalf("expected %d blocks, got %d", l.Len(), restored.Len())
	}
	ok, badIndex, reason := restored.Verify()
	if !ok {
		t.Fatalf("restored chain failed verify at %d: %v", badIndex, reason)
	}
}

func TestDeserialize_CorruptSnapshotRejected(t *testing.T) {
	alice := mustIdentity(t, "01")
	l, _ := New(1)
	tx, _ := Sign(alice, MoveAction, nil, 1000, 1)
	l.Append(*tx)
	l.Seal(1001)

	raw, _ := l.Serialize()
	var view snapshotView
	if err := json.Unmarshal(raw, &view); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	view.Blocks[1].Nonce += 1
	corrupted, err := json.Marshal(view)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	if _, err := Deserialize(corrupted, 1); err == nil {
		t.Fatalf("expected corrupt snapshot to be rejected")
	}
}
