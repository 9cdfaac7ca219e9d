// Copyright 2025 Certen Protocol
//
// Protocol State Machine (C5): phase transitions, commitment exchange,
// and action/response recording and verification. Engine owns exactly
// one ProtocolState, one ledger.Ledger, and one commitment.Scheme.
// Engine's own mutex guards ProtocolState; the ledger, which Ledger()
// exposes to persistence and reconnect, is guarded by its own lock.

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/zerotrust/protokernel/pkg/commitment"
	"github.com/zerotrust/protokernel/pkg/evidence"
	"github.com/zerotrust/protokernel/pkg/identity"
	"github.com/zerotrust/protokernel/pkg/ledger"
	"github.com/zerotrust/protokernel/pkg/merkle"
)

func jsonMarshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// MessageKind enumerates the wire envelope's closed tag set.
type MessageKind string

const (
	MsgCommit       MessageKind = "COMMIT"
	MsgAction       MessageKind = "ACTION"
	MsgResponse     MessageKind = "RESPONSE"
	MsgProof        MessageKind = "PROOF"
	MsgInvalidation MessageKind = "INVALIDATION"
	MsgSyncReq      MessageKind = "SYNC_REQ"
	MsgSyncResp     MessageKind = "SYNC_RESP"
)

// Envelope is the one wire message shape every exchange uses, canonical
// JSON per the identity package's Canonicalize rules. Only the fields
// Kind calls for are populated (a PROOF envelope carries both Tx and
// Proof); the rest are zero values.
type Envelope struct {
	Kind      MessageKind         `json:"kind"`
	Tx        *ledger.Transaction `json:"tx,omitempty"`
	Blocks    []ledger.Block      `json:"blocks,omitempty"`
	Proof     *merkle.Proof       `json:"proof,omitempty"`
	FromIndex *uint64             `json:"from_index,omitempty"`
}

// EncodeTx wraps a signed transaction in the envelope for kind. kind must
// be one of MsgCommit, MsgAction, MsgResponse, or MsgInvalidation — the
// four message kinds whose payload is a bare transaction.
func EncodeTx(kind MessageKind, tx ledger.Transaction) Envelope {
	return Envelope{Kind: kind, Tx: &tx}
}

// DecodeTx unwraps a transaction envelope, rejecting anything whose Kind
// doesn't match what the caller expected or whose Tx field is absent.
func DecodeTx(env Envelope, want MessageKind) (ledger.Transaction, error) {
	if env.Kind != want {
		return ledger.Transaction{}, fmt.Errorf("protocol: envelope kind %s, want %s", env.Kind, want)
	}
	if env.Tx == nil {
		return ledger.Transaction{}, fmt.Errorf("protocol: %s envelope missing tx", want)
	}
	return *env.Tx, nil
}

// EncodeProof wraps a RESPONSE tx together with its accompanying
// membership proof in a single MsgProof envelope, the shape a
// transport-backed exchange actually sends after RecordSelfResponse.
func EncodeProof(tx ledger.Transaction, proof *merkle.Proof) Envelope {
	return Envelope{Kind: MsgProof, Tx: &tx, Proof: proof}
}

// DecodeProof unwraps a MsgProof envelope back into its tx and proof.
func DecodeProof(env Envelope) (ledger.Transaction, *merkle.Proof, error) {
	if env.Kind != MsgProof {
		return ledger.Transaction{}, nil, fmt.Errorf("protocol: envelope kind %s, want %s", env.Kind, MsgProof)
	}
	if env.Tx == nil {
		return ledger.Transaction{}, nil, errors.New("protocol: proof envelope missing tx")
	}
	return *env.Tx, env.Proof, nil
}

// Phase is the coarse engine state.
type Phase string

const (
	PhaseInit       Phase = "INIT"
	PhaseCommitted  Phase = "COMMITTED"
	PhaseActive     Phase = "ACTIVE"
	PhaseTerminated Phase = "TERMINATED"
)

// RejectedReason enumerates protocol-misuse rejections, distinct from
// cryptographic Evidence: these leave state unchanged.
type RejectedReason string

const (
	NotYourTurn            RejectedReason = "NotYourTurn"
	CommitmentAlreadySet   RejectedReason = "CommitmentAlreadySet"
	UnknownPeer            RejectedReason = "UnknownPeer"
	PhaseWrong             RejectedReason = "PhaseWrong"
	DuplicateNonce         RejectedReason = "DuplicateNonce"
)

// Rejected is the error type for protocol-misuse outcomes.
type Rejected struct {
	Reason RejectedReason
}

func (r *Rejected) Error() string {
	return "protocol: rejected: " + string(r.Reason)
}

func rejected(reason RejectedReason) error {
	return &Rejected{Reason: reason}
}

// CommitmentPublic is the wire-safe half of a commitment: the root,
// scheme tag, and any public parameters (e.g. grid_size) needed to
// verify proofs against it. Witness fields never appear here.
type CommitmentPublic struct {
	Root      identity.Digest        `json:"root"`
	SchemeTag string                 `json:"scheme_tag"`
	Params    map[string]interface{} `json:"params"`
}

// PendingAction tracks an in-flight action awaiting a response.
type PendingAction struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Data       map[string]interface{} `json:"data"`
	StartedAt  int64                  `json:"started_at"`
	TimeoutMs  int64                  `json:"timeout_ms"`
	OwedBy     string                 `json:"owed_by"`
}

// ProtocolState is the full snapshot-able state of one engine.
type ProtocolState struct {
	Phase          Phase              `json:"phase"`
	SelfID         string             `json:"self_id"`
	PeerID         string             `json:"peer_id,omitempty"`
	SelfCommit     *CommitmentPublic  `json:"self_commit,omitempty"`
	PeerCommit     *CommitmentPublic  `json:"peer_commit,omitempty"`
	Turn           string             `json:"turn,omitempty"`
	PendingAction  *PendingAction     `json:"pending_action,omitempty"`
	InvalidatedBy  *evidence.CheatEvidence `json:"invalidated_by,omitempty"`
}

// Clock abstracts wall-clock reads so tests can control time without a
// sleeping monitor; defaults to ledger.NowMillis.
type Clock func() int64

// Options configures engine-local behavior not owned by any other
// component (ledger difficulty lives here since Engine owns the ledger).
type Options struct {
	DifficultyBits int
	Clock          Clock
	// PublicParams travels in the wire CommitmentPublic alongside the
	// root (e.g. grid_size), so peers can verify proofs without an
	// out-of-band channel.
	PublicParams map[string]interface{}
}

// Engine is the protocol core: one identity, one scheme, one ledger,
// one ProtocolState, guarded by a single mutex. record_*/verify_*
// operations never block on I/O.
type Engine struct {
	mu sync.Mutex

	id     *identity.Identity
	scheme commitment.Scheme
	chain  *ledger.Ledger
	state  ProtocolState
	clock  Clock

	selfNonce    uint64
	selfCommitTx *ledger.Transaction

	// revealedFacts remembers every grid cell the peer has already
	// proven membership for, keyed by "x,y" -> marked, so a later reveal
	// of the same cell that contradicts the earlier one is caught as
	// COMMITMENT_MISMATCH rather than silently accepted.
	revealedFacts map[string]bool
}

// New constructs an engine already past the self-commitment step: the
// caller's scheme already embodies the private witness, so committing to
// it is folded into construction rather than left as a separate call
// (spec's "new(identity, self_witness, scheme, options)" entry point).
func New(id *identity.Identity, scheme commitment.Scheme, opts Options) (*Engine, error) {
	difficulty := opts.DifficultyBits
	chain, err := ledger.New(difficulty)
	if err != nil {
		return nil, fmt.Errorf("protocol: init ledger: %w", err)
	}
	clock := opts.Clock
	if clock == nil {
		clock = ledger.NowMillis
	}

	e := &Engine{
		id:     id,
		scheme: scheme,
		chain:  chain,
		clock:  clock,
		state: ProtocolState{
			Phase:  PhaseInit,
			SelfID: id.ParticipantID,
		},
		revealedFacts: make(map[string]bool),
	}

	if err := e.commitSelf(opts.PublicParams); err != nil {
		return nil, err
	}
	return e, nil
}

// Restore rebuilds an engine from a previously verified ledger and
// protocol state (persistence's job, not this package's) without
// re-running the self-commitment step — the commitment is already
// recorded in state and chain. The caller supplies the live identity
// and scheme (private material never travels through a snapshot).
func Restore(id *identity.Identity, scheme commitment.Scheme, chain *ledger.Ledger, state ProtocolState, clock Clock) *Engine {
	if clock == nil {
		clock = ledger.NowMillis
	}
	return &Engine{
		id:            id,
		scheme:        scheme,
		chain:         chain,
		clock:         clock,
		state:         state,
		selfNonce:     chain.LastNonce(id.ParticipantID),
		revealedFacts: make(map[string]bool),
	}
}

func (e *Engine) nextNonce() uint64 {
	e.selfNonce++
	return e.selfNonce
}

func (e *Engine) appendSelf(moveType ledger.MoveType, data map[string]interface{}) (*ledger.Transaction, error) {
	tx, err := ledger.Sign(e.id, moveType, data, e.clock(), e.nextNonce())
	if err != nil {
		return nil, err
	}
	if err := e.chain.Append(*tx); err != nil {
		return nil, err
	}
	if _, err := e.chain.Seal(e.clock()); err != nil {
		return nil, err
	}
	return tx, nil
}

// commitSelf performs INIT -> COMMITTED: computes the root, appends a
// signed COMMIT tx.
func (e *Engine) commitSelf(publicParams map[string]interface{}) error {
	if e.state.Phase != PhaseInit {
		return rejected(CommitmentAlreadySet)
	}
	if publicParams == nil {
		publicParams = map[string]interface{}{}
	}
	root := e.scheme.CommitRoot()
	public := CommitmentPublic{
		Root:      root,
		SchemeTag: e.scheme.SchemeTag(),
		Params:    publicParams,
	}
	data := map[string]interface{}{
		"root":       root.Hex(),
		"scheme_tag": public.SchemeTag,
	}
	tx, err := e.appendSelf(ledger.MoveCommit, data)
	if err != nil {
		return err
	}
	e.selfCommitTx = tx
	e.state.SelfCommit = &public
	e.state.Phase = PhaseCommitted
	return nil
}

// GetSelfCommitment returns the engine's own published commitment.
func (e *Engine) GetSelfCommitment() CommitmentPublic {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.state.SelfCommit
}

// SelfCommitTx returns the signed COMMIT tx produced during construction,
// the artifact a peer's SetPeerCommitment call expects to verify.
func (e *Engine) SelfCommitTx() ledger.Transaction {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.selfCommitTx
}

// SetPeerCommitment verifies the peer's signed COMMIT tx, mirrors it
// locally, and — once both commitments are known — advances COMMITTED ->
// ACTIVE, assigning turn by lexicographic participant_id.
func (e *Engine) SetPeerCommitment(public CommitmentPublic, signedCommitTx ledger.Transaction) (*evidence.CheatEvidence, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Phase != PhaseCommitted && e.state.Phase != PhaseActive {
		return nil, rejected(PhaseWrong)
	}
	if e.state.PeerCommit != nil {
		return nil, rejected(CommitmentAlreadySet)
	}

	ok, err := signedCommitTx.VerifySignature()
	if err != nil {
		return nil, err
	}
	if !ok {
		ev := evidence.ForgedSignatureEvidence(signedCommitTx.ParticipantID, signedCommitTx, e.clock())
		return &ev, nil
	}

	mirrored := signedCommitTx
	if err := e.chain.Append(mirrored); err != nil {
		return nil, err
	}
	if _, err := e.chain.Seal(e.clock()); err != nil {
		return nil, err
	}

	publicCopy := public
	e.state.PeerID = signedCommitTx.ParticipantID
	e.state.PeerCommit = &publicCopy

	e.state.Phase = PhaseActive
	e.state.Turn = firstMover(e.state.SelfID, e.state.PeerID)
	return nil, nil
}

// firstMover resolves the deterministic tie-break: lexicographically
// smaller participant_id moves first.
func firstMover(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids[0]
}

// RecordSelfAction builds, signs, and appends an ACTION tx when it is
// self's turn, then sets pending_action and flips turn to the peer.
func (e *Engine) RecordSelfAction(actionType string, data map[string]interface{}) (*ledger.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Phase != PhaseActive {
		return nil, rejected(PhaseWrong)
	}
	if e.state.Turn != e.state.SelfID {
		return nil, rejected(NotYourTurn)
	}

	payload := map[string]interface{}{"type": actionType}
	for k, v := range data {
		payload[k] = v
	}

	tx, err := e.appendSelf(ledger.MoveAction, payload)
	if err != nil {
		return nil, err
	}

	e.state.PendingAction = &PendingAction{
		ID:        uuid.NewString(),
		Type:      actionType,
		Data:      data,
		StartedAt: e.clock(),
		OwedBy:    e.state.PeerID,
	}
	e.state.Turn = e.state.PeerID
	return tx, nil
}

// StartTimeout attaches a deadline to the current pending action, per
// the spec's start_timeout(action_id, millis). A mismatched action_id
// (the pending action already moved on) is a no-op rather than an
// error, since timeouts race naturally with fast responses.
func (e *Engine) StartTimeout(actionID string, millis int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.PendingAction != nil && e.state.PendingAction.ID == actionID {
		e.state.PendingAction.TimeoutMs = millis
	}
}

// VerifyPeerAction validates an incoming ACTION tx: signature, turn
// ownership, and nonce monotonicity (the latter enforced by Append
// itself). A turn violation is Evidence(DOUBLE_MOVE) and the offending
// tx is never appended.
func (e *Engine) VerifyPeerAction(tx ledger.Transaction) (*evidence.CheatEvidence, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Phase != PhaseActive {
		return nil, rejected(PhaseWrong)
	}

	ok, err := tx.VerifySignature()
	if err != nil {
		return nil, err
	}
	if !ok {
		ev := evidence.ForgedSignatureEvidence(tx.ParticipantID, tx, e.clock())
		return &ev, nil
	}

	if tx.ParticipantID != e.state.Turn {
		ev := evidence.DoubleMoveEvidence(tx.ParticipantID, tx, e.clock())
		return &ev, nil
	}

	if err := e.chain.Append(tx); err != nil {
		if errors.Is(err, ledger.ErrDuplicateNonce) || errors.Is(err, ledger.ErrNonceOutOfOrder) {
			return nil, rejected(DuplicateNonce)
		}
		return nil, err
	}
	if _, err := e.chain.Seal(e.clock()); err != nil {
		return nil, err
	}

	actionType, _ := tx.Data["type"].(string)
	e.state.PendingAction = &PendingAction{
		ID:        uuid.NewString(),
		Type:      actionType,
		Data:      tx.Data,
		StartedAt: e.clock(),
		OwedBy:    e.state.SelfID,
	}
	e.state.Turn = e.state.SelfID
	return nil, nil
}

// RecordSelfResponse builds and appends a RESPONSE tx, optionally
// followed by a PROOF tx carrying proof's wire form, and flips turn back
// to whoever issued the original action.
func (e *Engine) RecordSelfResponse(data map[string]interface{}, proof *merkle.Proof) (*ledger.Transaction, *ledger.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Phase != PhaseActive {
		return nil, nil, rejected(PhaseWrong)
	}
	if e.state.Turn != e.state.SelfID {
		return nil, nil, rejected(NotYourTurn)
	}

	respTx, err := e.appendSelf(ledger.MoveResponse, data)
	if err != nil {
		return nil, nil, err
	}

	var proofTx *ledger.Transaction
	if proof != nil {
		wire := proof.ToWire()
		raw, err := jsonMarshal(wire)
		if err != nil {
			return nil, nil, err
		}
		proofTx, err = e.appendSelf(ledger.MoveProof, map[string]interface{}{"proof": string(raw)})
		if err != nil {
			return nil, nil, err
		}
	}

	e.state.PendingAction = nil
	e.state.Turn = e.state.PeerID
	return respTx, proofTx, nil
}

// VerifyPeerResponse checks the incoming RESPONSE tx's signature and,
// when a proof accompanies it, verifies that proof against the peer's
// published root and the asserted fact carried in data. A mismatch is
// Evidence(INVALID_PROOF).
func (e *Engine) VerifyPeerResponse(tx ledger.Transaction, proof *merkle.Proof, query interface{}) (*evidence.CheatEvidence, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Phase != PhaseActive {
		return nil, rejected(PhaseWrong)
	}

	ok, err := tx.VerifySignature()
	if err != nil {
		return nil, err
	}
	if !ok {
		ev := evidence.ForgedSignatureEvidence(tx.ParticipantID, tx, e.clock())
		return &ev, nil
	}

	if proof != nil {
		if e.state.PeerCommit == nil {
			return nil, rejected(UnknownPeer)
		}
		verified, err := VerifyAgainstPublic(*e.state.PeerCommit, query, proof)
		if err != nil {
			return nil, err
		}
		if !verified {
			ev := evidence.InvalidProofEvidence(tx.ParticipantID, proof, e.clock())
			return &ev, nil
		}
		if e.state.PeerCommit.SchemeTag == "grid-merkle" {
			x, y, marked, err := commitment.DecodeGridFact(proof)
			if err != nil {
				return nil, err
			}
			if claimed, ok := tx.Data["hit"].(bool); ok && claimed != marked {
				ev := evidence.InvalidProofEvidence(tx.ParticipantID, map[string]interface{}{
					"claimed_hit":  claimed,
					"proof_marked": marked,
					"proof":        proof,
				}, e.clock())
				return &ev, nil
			}
			if ev := e.checkRevealedFact(tx.ParticipantID, x, y, marked); ev != nil {
				return ev, nil
			}
		}
	}

	if err := e.chain.Append(tx); err != nil {
		if errors.Is(err, ledger.ErrDuplicateNonce) || errors.Is(err, ledger.ErrNonceOutOfOrder) {
			return nil, rejected(DuplicateNonce)
		}
		return nil, err
	}
	if _, err := e.chain.Seal(e.clock()); err != nil {
		return nil, err
	}

	e.state.PendingAction = nil
	e.state.Turn = e.state.SelfID
	return nil, nil
}

// checkRevealedFact records a peer's revealed (x,y) -> marked fact and
// returns COMMITMENT_MISMATCH evidence when it contradicts a fact the
// same peer already revealed under the same commitment (spec §4.7:
// "revealed witness decodes to values inconsistent with earlier
// revealed bits"). Must be called with e.mu held.
func (e *Engine) checkRevealedFact(accused string, x, y int, marked bool) *evidence.CheatEvidence {
	key := fmt.Sprintf("%d,%d", x, y)
	if prior, seen := e.revealedFacts[key]; seen && prior != marked {
		ev := evidence.CommitmentMismatchEvidence(accused, map[string]interface{}{
			"x":                     x,
			"y":                     y,
			"first_revealed_marked": prior,
			"now_revealed_marked":   marked,
		}, e.clock())
		return &ev
	}
	e.revealedFacts[key] = marked
	return nil
}

// GenerateProof produces a membership proof over the engine's own
// committed structure and wraps it in a signed PROOF tx.
func (e *Engine) GenerateProof(query interface{}) (*merkle.Proof, *ledger.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	proof, err := e.scheme.Prove(query)
	if err != nil {
		return nil, nil, err
	}
	wire := proof.ToWire()
	raw, err := jsonMarshal(wire)
	if err != nil {
		return nil, nil, err
	}
	tx, err := e.appendSelf(ledger.MoveProof, map[string]interface{}{"proof": string(raw)})
	if err != nil {
		return nil, nil, err
	}
	return proof, tx, nil
}

// VerifyAgainstPublic verifies proof against root/query using the scheme
// named by public.SchemeTag. Grid-family schemes decode grid_size from
// public.Params; zk-groth16 is not reachable here since it requires an
// out-of-band verifying key (use commitment.VerifyZKMembership directly).
func VerifyAgainstPublic(public CommitmentPublic, query interface{}, proof *merkle.Proof) (bool, error) {
	switch public.SchemeTag {
	case "grid-merkle":
		size, ok := public.Params["grid_size"].(int)
		if !ok {
			if f, okf := public.Params["grid_size"].(float64); okf {
				size = int(f)
				ok = true
			}
		}
		if !ok {
			return false, errors.New("protocol: grid-merkle commitment missing grid_size param")
		}
		return commitment.VerifyGridMembership(public.Root, query, proof, size), nil
	default:
		return false, &commitment.ErrUnknownSchemeTag{Tag: public.SchemeTag}
	}
}

// VerifyPeerProof checks a standalone proof/wrapper pair against
// peerRoot and assertedFact without mutating pending_action — used for
// out-of-band verification requests distinct from the inline response
// path in VerifyPeerResponse.
func (e *Engine) VerifyPeerProof(proof *merkle.Proof, wrapper ledger.Transaction, peerRoot identity.Digest, query interface{}) (*evidence.CheatEvidence, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ok, err := wrapper.VerifySignature()
	if err != nil {
		return nil, err
	}
	if !ok {
		ev := evidence.ForgedSignatureEvidence(wrapper.ParticipantID, wrapper, e.clock())
		return &ev, nil
	}
	if e.state.PeerCommit == nil {
		return nil, rejected(UnknownPeer)
	}
	public := *e.state.PeerCommit
	public.Root = peerRoot
	verified, err := VerifyAgainstPublic(public, query, proof)
	if err != nil {
		return nil, err
	}
	if !verified {
		ev := evidence.InvalidProofEvidence(wrapper.ParticipantID, proof, e.clock())
		return &ev, nil
	}
	if public.SchemeTag == "grid-merkle" {
		x, y, marked, err := commitment.DecodeGridFact(proof)
		if err != nil {
			return nil, err
		}
		if ev := e.checkRevealedFact(wrapper.ParticipantID, x, y, marked); ev != nil {
			return ev, nil
		}
	}
	return nil, nil
}

// VerifyLedger replays the ledger's invariants without touching phase.
func (e *Engine) VerifyLedger() (bool, int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ok, badIndex, reason := e.chain.Verify()
	return ok, badIndex, reason
}

// Replay re-verifies the ledger and, on failure, produces a LEDGER_TAMPER
// evidence and transitions to TERMINATED.
func (e *Engine) Replay() (*evidence.CheatEvidence, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ok, badIndex, reason := e.chain.Verify()
	if ok {
		return nil, nil
	}
	reasonMsg := ""
	if reason != nil {
		reasonMsg = reason.Error()
	}
	ev := evidence.LedgerTamperEvidence(e.state.PeerID, uint64(badIndex), reasonMsg, e.clock())
	return e.invalidate(ev)
}

// Invalidate appends an INVALIDATION tx recording ev and transitions to
// TERMINATED from any phase.
func (e *Engine) Invalidate(ev evidence.CheatEvidence) (*evidence.CheatEvidence, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.invalidate(ev)
}

func (e *Engine) invalidate(ev evidence.CheatEvidence) (*evidence.CheatEvidence, error) {
	if e.state.Phase == PhaseTerminated {
		return &ev, nil
	}
	raw, err := jsonMarshal(ev)
	if err != nil {
		return nil, err
	}
	if _, err := e.appendSelf(ledger.MoveInvalidation, map[string]interface{}{"evidence": string(raw)}); err != nil {
		return nil, err
	}
	e.state.InvalidatedBy = &ev
	e.state.Phase = PhaseTerminated
	return &ev, nil
}

// Snapshot returns a copy of the current ProtocolState.
func (e *Engine) Snapshot() ProtocolState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Ledger exposes the owned ledger for persistence and reconnect flows.
func (e *Engine) Ledger() *ledger.Ledger {
	return e.chain
}

// Identity exposes the owned identity for persistence and reconnect
// flows (persistence records its ParticipantID as identity_public).
func (e *Engine) Identity() *identity.Identity {
	return e.id
}

// Phase returns the current phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Phase
}

// Turn returns the participant_id currently owed to move. Satisfies
// pkg/enforcement.Source.
func (e *Engine) Turn() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Turn
}

// Nowish returns the engine's clock reading. Satisfies
// pkg/enforcement.Source, letting a monitor use the same deterministic
// test clock as the engine it watches.
func (e *Engine) Nowish() int64 {
	return e.clock()
}

// PendingActionSnapshot reports the current pending action, if any.
// Satisfies pkg/enforcement.Source.
func (e *Engine) PendingActionSnapshot() (id, actionType, owedBy string, startedAt, timeoutMs int64, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pa := e.state.PendingAction
	if pa == nil {
		return "", "", "", 0, 0, false
	}
	return pa.ID, pa.Type, pa.OwedBy, pa.StartedAt, pa.TimeoutMs, true
}
