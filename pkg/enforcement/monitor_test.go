// Copyright 2025 Certen Protocol

package enforcement_test

import (
	"strings"
	"testing"

	"github.com/zerotrust/protokernel/pkg/commitment"
	"github.com/zerotrust/protokernel/pkg/enforcement"
	"github.com/zerotrust/protokernel/pkg/evidence"
	"github.com/zerotrust/protokernel/pkg/identity"
	"github.com/zerotrust/protokernel/pkg/protocol"
)

func mustIdentity(t *testing.T, hexByte string) *identity.Identity {
	t.Helper()
	id, err := identity.FromHexKey(strings.Repeat(hexByte, 32))
	if err != nil {
		t.Fatalf("from hex key: %v", err)
	}
	return id
}

// fakeClock lets the test drive time deterministically without a real
// ticker, mirroring how the engine's own Options.Clock is overridden in
// pkg/protocol's tests.
type fakeClock struct {
	now int64
}

func (c *fakeClock) advanceTo(t int64) { c.now = t }
func (c *fakeClock) read() int64       { return c.now }

func setupEngines(t *testing.T) (mover, responder *protocol.Engine, clock *fakeClock) {
	t.Helper()
	alice := mustIdentity(t, "01")
	bob := mustIdentity(t, "02")

	aliceGrid, err := commitment.NewGrid(4, [][2]int{{0, 0}}, "alpha")
	if err != nil {
		t.Fatalf("alice grid: %v", err)
	}
	bobGrid, err := commitment.NewGrid(4, [][2]int{{3, 3}}, "beta")
	if err != nil {
		t.Fatalf("bob grid: %v", err)
	}

	clock = &fakeClock{now: 0}
	params := map[string]interface{}{"grid_size": 4}

	aliceEngine, err := protocol.New(alice, aliceGrid, protocol.Options{DifficultyBits: 1, PublicParams: params, Clock: clock.read})
	if err != nil {
		t.Fatalf("new alice engine: %v", err)
	}
	bobEngine, err := protocol.New(bob, bobGrid, protocol.Options{DifficultyBits: 1, PublicParams: params, Clock: clock.read})
	if err != nil {
		t.Fatalf("new bob engine: %v", err)
	}

	if _, err := aliceEngine.SetPeerCommitment(bobEngine.GetSelfCommitment(), bobEngine.SelfCommitTx()); err != nil {
		t.Fatalf("alice set peer commitment: %v", err)
	}
	if _, err := bobEngine.SetPeerCommitment(aliceEngine.GetSelfCommitment(), aliceEngine.SelfCommitTx()); err != nil {
		t.Fatalf("bob set peer commitment: %v", err)
	}

	if aliceEngine.Snapshot().Turn == aliceEngine.Snapshot().SelfID {
		return aliceEngine, bobEngine, clock
	}
	return bobEngine, aliceEngine, clock
}

// TestS5_TimeoutStall reproduces: mover records an action at t=0 with a
// 5000ms deadline; at t=6000 the monitor must emit TIMEOUT_STALL against
// the peer, invalidate the engine, and reject the peer's late response.
func TestS5_TimeoutStall(t *testing.T) {
	mover, responder, clock := setupEngines(t)

	actionTx, err := mover.RecordSelfAction("query", map[string]interface{}{"x": int64(0), "y": int64(0)})
	if err != nil {
		t.Fatalf("record self action: %v", err)
	}
	if _, err := responder.VerifyPeerAction(*actionTx); err != nil {
		t.Fatalf("verify peer action: %v", err)
	}

	pending := mover.Snapshot().PendingAction
	if pending == nil {
		t.Fatalf("expected a pending action after RecordSelfAction")
	}
	mover.StartTimeout(pending.ID, 5000)

	mon := enforcement.New(mover, enforcement.Config{}, nil)

	var captured *evidence.CheatEvidence
	mon.SetOnViolation(func(ev evidence.CheatEvidence) {
		captured = &ev
	})

	clock.advanceTo(6000)
	mon.Check()

	if captured == nil {
		t.Fatalf("expected TIMEOUT_STALL evidence to have been emitted")
	}
	if captured.Kind != evidence.TimeoutStall {
		t.Fatalf("expected TIMEOUT_STALL, got %s", captured.Kind)
	}
	if captured.Accused != responder.Snapshot().SelfID {
		t.Fatalf("expected accused to be the peer who owed the response, got %s", captured.Accused)
	}

	if _, err := mover.Invalidate(*captured); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if mover.Phase() != protocol.PhaseTerminated {
		t.Fatalf("expected TERMINATED after invalidation, got %s", mover.Phase())
	}

	// The responder's own state is untouched by mover's invalidation —
	// each engine only tracks its local phase — so its late response
	// still builds locally. What must reject it is the mover, whose
	// phase has already moved to TERMINATED.
	clock.advanceTo(7000)
	proof, _, err := responder.GenerateProof(commitment.Query{X: 0, Y: 0})
	if err != nil {
		t.Fatalf("generate proof: %v", err)
	}
	respTx, _, err := responder.RecordSelfResponse(map[string]interface{}{"hit": true}, proof)
	if err != nil {
		t.Fatalf("responder record self response: %v", err)
	}

	_, err = mover.VerifyPeerResponse(*respTx, proof, commitment.Query{X: 0, Y: 0})
	if _, ok := err.(*protocol.Rejected); !ok {
		t.Fatalf("expected mover to reject a late response with PhaseWrong, got %T (%v)", err, err)
	}
}

// TestMonitor_NoPendingAction_NoViolation confirms a quiet engine produces
// no spurious evidence.
func TestMonitor_NoPendingAction_NoViolation(t *testing.T) {
	mover, _, _ := setupEngines(t)
	mon := enforcement.New(mover, enforcement.Config{}, nil)

	fired := false
	mon.SetOnViolation(func(evidence.CheatEvidence) { fired = true })
	mon.Check()

	if fired {
		t.Fatalf("expected no violation when no action is pending")
	}
}

// TestMonitor_AllowedActions_RejectsUnknownType confirms INVALID_MOVE
// fires when a pending action's type falls outside the declared
// allowlist.
func TestMonitor_AllowedActions_RejectsUnknownType(t *testing.T) {
	mover, responder, _ := setupEngines(t)

	actionTx, err := mover.RecordSelfAction("teleport", map[string]interface{}{})
	if err != nil {
		t.Fatalf("record self action: %v", err)
	}
	if _, err := responder.VerifyPeerAction(*actionTx); err != nil {
		t.Fatalf("verify peer action: %v", err)
	}

	mon := enforcement.New(mover, enforcement.Config{}, nil)
	mon.SetAllowedActions(map[string]bool{"query": true})

	var captured *evidence.CheatEvidence
	mon.SetOnViolation(func(ev evidence.CheatEvidence) { captured = &ev })
	mon.Check()

	if captured == nil || captured.Kind != evidence.InvalidMove {
		t.Fatalf("expected INVALID_MOVE evidence, got %+v", captured)
	}
}
