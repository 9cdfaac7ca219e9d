// Copyright 2025 Certen Protocol

package reconnect_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/zerotrust/protokernel/pkg/commitment"
	"github.com/zerotrust/protokernel/pkg/evidence"
	"github.com/zerotrust/protokernel/pkg/identity"
	"github.com/zerotrust/protokernel/pkg/ledger"
	"github.com/zerotrust/protokernel/pkg/protocol"
	"github.com/zerotrust/protokernel/pkg/reconnect"
)

func mustIdentity(t *testing.T, hexByte string) *identity.Identity {
	t.Helper()
	id, err := identity.FromHexKey(strings.Repeat(hexByte, 32))
	if err != nil {
		t.Fatalf("from hex key: %v", err)
	}
	return id
}

// fullChain builds a 3-block chain (genesis, commit, action) signed by id.
func fullChain(t *testing.T, id *identity.Identity, difficulty int) *ledger.Ledger {
	t.Helper()
	chain, err := ledger.New(difficulty)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	commitTx, err := ledger.Sign(id, ledger.MoveCommit, map[string]interface{}{"root": "deadbeef"}, 1, 1)
	if err != nil {
		t.Fatalf("sign commit: %v", err)
	}
	if err := chain.Append(*commitTx); err != nil {
		t.Fatalf("append commit: %v", err)
	}
	if _, err := chain.Seal(1); err != nil {
		t.Fatalf("seal commit block: %v", err)
	}

	actionTx, err := ledger.Sign(id, ledger.MoveAction, map[string]interface{}{"type": "query"}, 2, 2)
	if err != nil {
		t.Fatalf("sign action: %v", err)
	}
	if err := chain.Append(*actionTx); err != nil {
		t.Fatalf("append action: %v", err)
	}
	if _, err := chain.Seal(2); err != nil {
		t.Fatalf("seal action block: %v", err)
	}

	return chain
}

// truncatedLocalEngine rebuilds an engine whose ledger only holds the
// first n blocks of full, simulating a peer who disconnected early.
func truncatedLocalEngine(t *testing.T, id *identity.Identity, scheme commitment.Scheme, full *ledger.Ledger, n int, difficulty int) *protocol.Engine {
	t.Helper()
	blocks := full.Blocks()[:n]
	raw, err := ledgerSerializeSubset(blocks)
	if err != nil {
		t.Fatalf("serialize subset: %v", err)
	}
	local, err := ledger.Deserialize(raw, difficulty)
	if err != nil {
		t.Fatalf("deserialize subset: %v", err)
	}
	return protocol.Restore(id, scheme, local, protocol.ProtocolState{Phase: protocol.PhaseActive, SelfID: id.ParticipantID}, nil)
}

func ledgerSerializeSubset(blocks []ledger.Block) ([]byte, error) {
	type view struct {
		Blocks []ledger.Block `json:"blocks"`
	}
	return json.Marshal(view{Blocks: blocks})
}

type fakePeer struct {
	tipIndex uint64
	tipHash  identity.Digest
	suffix   map[uint64][]ledger.Block
}

func (p *fakePeer) TipHash() (uint64, identity.Digest, error) {
	return p.tipIndex, p.tipHash, nil
}

func (p *fakePeer) RequestSuffix(fromIndex uint64) ([]ledger.Block, error) {
	return p.suffix[fromIndex], nil
}

func TestResync_NoOpWhenAlreadyInSync(t *testing.T) {
	id := mustIdentity(t, "04")
	grid, err := commitment.NewGrid(4, [][2]int{{1, 1}}, "delta")
	if err != nil {
		t.Fatalf("new grid: %v", err)
	}
	full := fullChain(t, id, 1)
	eng := protocol.Restore(id, grid, full, protocol.ProtocolState{Phase: protocol.PhaseActive, SelfID: id.ParticipantID}, nil)

	tip := eng.Ledger().Tip()
	peer := &fakePeer{tipIndex: tip.Index, tipHash: tip.Hash}

	ev, err := reconnect.Resync(eng, peer)
	if err != nil {
		t.Fatalf("resync: %v", err)
	}
	if ev != nil {
		t.Fatalf("expected no evidence when already in sync")
	}
}

func TestResync_ReplaysCleanSuffix(t *testing.T) {
	id := mustIdentity(t, "05")
	grid, err := commitment.NewGrid(4, [][2]int{{2, 2}}, "epsilon")
	if err != nil {
		t.Fatalf("new grid: %v", err)
	}
	full := fullChain(t, id, 1)
	local := truncatedLocalEngine(t, id, grid, full, 2, 1)

	fullBlocks := full.Blocks()
	peer := &fakePeer{
		tipIndex: fullBlocks[len(fullBlocks)-1].Index,
		tipHash:  fullBlocks[len(fullBlocks)-1].Hash,
		suffix:   map[uint64][]ledger.Block{2: fullBlocks[2:]},
	}

	ev, err := reconnect.Resync(local, peer)
	if err != nil {
		t.Fatalf("resync: %v", err)
	}
	if ev != nil {
		t.Fatalf("expected clean replay to produce no evidence, got %+v", ev)
	}
	if local.Ledger().Len() != len(fullBlocks) {
		t.Fatalf("expected local ledger to catch up to %d blocks, got %d", len(fullBlocks), local.Ledger().Len())
	}
}

func TestResync_TamperedSuffixBlockInvalidatesAndEmitsLedgerTamper(t *testing.T) {
	id := mustIdentity(t, "06")
	grid, err := commitment.NewGrid(4, [][2]int{{3, 3}}, "zeta")
	if err != nil {
		t.Fatalf("new grid: %v", err)
	}
	full := fullChain(t, id, 1)
	local := truncatedLocalEngine(t, id, grid, full, 2, 1)

	fullBlocks := full.Blocks()
	tampered := fullBlocks[2]
	tampered.Transactions = append([]ledger.Transaction{}, tampered.Transactions...)
	tampered.Transactions[0].Signature = append([]byte{}, tampered.Transactions[0].Signature...)
	tampered.Transactions[0].Signature[0] ^= 0xFF

	peer := &fakePeer{
		tipIndex: tampered.Index,
		tipHash:  tampered.Hash,
		suffix:   map[uint64][]ledger.Block{2: {tampered}},
	}

	ev, err := reconnect.Resync(local, peer)
	if err != nil {
		t.Fatalf("resync: %v", err)
	}
	if ev == nil {
		t.Fatalf("expected LEDGER_TAMPER evidence for a tampered suffix block")
	}
	if ev.Kind != evidence.LedgerTamper {
		t.Fatalf("expected LEDGER_TAMPER, got %s", ev.Kind)
	}
	if local.Phase() != protocol.PhaseTerminated {
		t.Fatalf("expected local engine to be TERMINATED after invalidation, got %s", local.Phase())
	}
}

func TestSyncEnvelope_RoundTrip(t *testing.T) {
	id := mustIdentity(t, "09")
	full := fullChain(t, id, 1)
	blocks := full.Blocks()

	reqEnv := reconnect.EncodeSyncRequest(1)
	if reqEnv.Kind != protocol.MsgSyncReq {
		t.Fatalf("expected kind %s, got %s", protocol.MsgSyncReq, reqEnv.Kind)
	}
	fromIndex, err := reconnect.DecodeSyncRequest(reqEnv)
	if err != nil {
		t.Fatalf("decode sync request: %v", err)
	}
	if fromIndex != 1 {
		t.Fatalf("expected from_index 1, got %d", fromIndex)
	}

	respEnv := reconnect.EncodeSyncResponse(blocks[fromIndex:])
	if respEnv.Kind != protocol.MsgSyncResp {
		t.Fatalf("expected kind %s, got %s", protocol.MsgSyncResp, respEnv.Kind)
	}
	suffix, err := reconnect.DecodeSyncResponse(respEnv)
	if err != nil {
		t.Fatalf("decode sync response: %v", err)
	}
	if len(suffix) != len(blocks)-int(fromIndex) {
		t.Fatalf("expected %d blocks in suffix, got %d", len(blocks)-int(fromIndex), len(suffix))
	}

	if _, err := reconnect.DecodeSyncRequest(respEnv); err == nil {
		t.Fatalf("expected DecodeSyncRequest to reject a SYNC_RESP envelope")
	}
	if _, err := reconnect.DecodeSyncResponse(reqEnv); err == nil {
		t.Fatalf("expected DecodeSyncResponse to reject a SYNC_REQ envelope")
	}
}

func TestResync_GenuineForkSurfacesUnresolvableFork(t *testing.T) {
	id := mustIdentity(t, "07")
	otherID := mustIdentity(t, "08")
	grid, err := commitment.NewGrid(4, [][2]int{{0, 1}}, "eta")
	if err != nil {
		t.Fatalf("new grid: %v", err)
	}
	full := fullChain(t, id, 1)
	local := truncatedLocalEngine(t, id, grid, full, 2, 1)

	// A divergent chain whose post-genesis blocks are signed by a different
	// identity: its block 2 carries a valid signature but does not extend
	// local's tip.
	forked := fullChain(t, otherID, 1)
	forkedBlocks := forked.Blocks()

	peer := &fakePeer{
		tipIndex: forkedBlocks[2].Index,
		tipHash:  forkedBlocks[2].Hash,
		suffix:   map[uint64][]ledger.Block{2: {forkedBlocks[2]}},
	}

	_, err = reconnect.Resync(local, peer)
	if err == nil {
		t.Fatalf("expected an unresolvable fork error")
	}
	if _, ok := err.(*reconnect.UnresolvableFork); !ok {
		t.Fatalf("expected *UnresolvableFork, got %T (%v)", err, err)
	}
}
