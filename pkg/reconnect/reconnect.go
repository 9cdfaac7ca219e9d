// Copyright 2025 Certen Protocol
//
// Reconnection Orchestrator (C9): flush-on-disconnect, then on
// reconnect load the last snapshot, re-verify it, exchange tip hashes
// with the peer, and replay whatever suffix the peer holds that this
// side is missing — verifying every replayed block's signatures and
// chain linkage before adopting it. A divergence that cannot be
// resolved by extending the local chain is a genuine fork: either the
// peer's diverging block carries a bad signature (LEDGER_TAMPER) or it
// doesn't (UnresolvableFork, fatal).

package reconnect

import (
	"fmt"

	"github.com/zerotrust/protokernel/pkg/commitment"
	"github.com/zerotrust/protokernel/pkg/evidence"
	"github.com/zerotrust/protokernel/pkg/identity"
	"github.com/zerotrust/protokernel/pkg/ledger"
	"github.com/zerotrust/protokernel/pkg/persistence"
	"github.com/zerotrust/protokernel/pkg/protocol"
)

// Peer is the minimal resync surface this side needs from the
// transport layer: the counterpart's current tip, and its suffix from
// a given index on. A concrete transport implements this over whatever
// channel it carries Envelopes on.
type Peer interface {
	TipHash() (index uint64, hash identity.Digest, err error)
	RequestSuffix(fromIndex uint64) ([]ledger.Block, error)
}

// UnresolvableFork reports a divergence that prefix-extension cannot
// resolve: the peer's claimed suffix doesn't chain from our tip, and
// the diverging block's signature is otherwise valid — this is not
// tampering, just two chains that have permanently split.
type UnresolvableFork struct {
	LocalIndex uint64
	PeerIndex  uint64
	Reason     error
}

func (e *UnresolvableFork) Error() string {
	return fmt.Sprintf("reconnect: unresolvable fork: local tip %d, peer tip %d: %v", e.LocalIndex, e.PeerIndex, e.Reason)
}

func (e *UnresolvableFork) Unwrap() error { return e.Reason }

// FlushOnDisconnect persists eng's current state to path. Callers
// invoke this the instant a transport reports a disconnect, before any
// cleanup that might lose in-memory state.
func FlushOnDisconnect(path string, eng *protocol.Engine) error {
	return persistence.Save(path, eng)
}

// Reconnect loads path's snapshot (re-verifying its ledger), rebuilds
// a live engine around it, and resyncs against peer. The caller
// supplies identity and scheme exactly as for persistence.Restore —
// private material never travels through the snapshot.
func Reconnect(path string, id *identity.Identity, scheme commitment.Scheme, difficultyBits int, clock protocol.Clock, peer Peer) (*protocol.Engine, *evidence.CheatEvidence, error) {
	snap, err := persistence.Load(path, difficultyBits)
	if err != nil {
		return nil, nil, err
	}

	eng, err := persistence.Restore(snap, id, scheme, difficultyBits, clock)
	if err != nil {
		return nil, nil, err
	}

	ev, err := Resync(eng, peer)
	if err != nil {
		return eng, nil, err
	}
	return eng, ev, nil
}

// Resync exchanges tip hashes with peer and, when the peer holds a
// longer chain that extends ours cleanly, requests and replays the
// missing suffix. Returns non-nil evidence only when a diverging block
// is found to carry a forged signature (LEDGER_TAMPER); a clean but
// irreconcilable divergence returns *UnresolvableFork instead.
func Resync(eng *protocol.Engine, peer Peer) (*evidence.CheatEvidence, error) {
	tip := eng.Ledger().Tip()

	peerIndex, peerHash, err := peer.TipHash()
	if err != nil {
		return nil, fmt.Errorf("reconnect: query peer tip: %w", err)
	}

	if peerIndex == tip.Index && peerHash == tip.Hash {
		return nil, nil
	}

	if peerIndex <= tip.Index {
		// We are at least as far along as the peer; nothing to replay
		// here. If our hash at that index differs from the peer's, the
		// peer is the one who must resolve it on its own next reconnect.
		return nil, nil
	}

	suffix, err := peer.RequestSuffix(tip.Index + 1)
	if err != nil {
		return nil, fmt.Errorf("reconnect: request suffix: %w", err)
	}

	for _, block := range suffix {
		if err := eng.Ledger().AppendBlock(block); err != nil {
			if accused, tampered := diverges(block); tampered {
				ev, invErr := eng.Invalidate(evidence.LedgerTamperEvidence(accused, block.Index, err.Error(), eng.Nowish()))
				if invErr != nil {
					return nil, invErr
				}
				return ev, nil
			}
			return nil, &UnresolvableFork{LocalIndex: tip.Index, PeerIndex: peerIndex, Reason: err}
		}
	}

	return nil, nil
}

// BuildSyncResponse answers an incoming SYNC_REQ: the suffix of
// already-sealed blocks starting at fromIndex, for the requester to
// replay locally via Resync.
func BuildSyncResponse(eng *protocol.Engine, fromIndex uint64) []ledger.Block {
	blocks := eng.Ledger().Blocks()
	if fromIndex >= uint64(len(blocks)) {
		return nil
	}
	return blocks[fromIndex:]
}

// EncodeSyncRequest wraps the index a reconnecting side wants a suffix
// from in the wire envelope a real transport sends as SYNC_REQ.
func EncodeSyncRequest(fromIndex uint64) protocol.Envelope {
	return protocol.Envelope{Kind: protocol.MsgSyncReq, FromIndex: &fromIndex}
}

// DecodeSyncRequest unwraps a SYNC_REQ envelope back into the requested
// starting index.
func DecodeSyncRequest(env protocol.Envelope) (uint64, error) {
	if env.Kind != protocol.MsgSyncReq {
		return 0, fmt.Errorf("reconnect: envelope kind %s, want %s", env.Kind, protocol.MsgSyncReq)
	}
	if env.FromIndex == nil {
		return 0, fmt.Errorf("reconnect: %s envelope missing from_index", protocol.MsgSyncReq)
	}
	return *env.FromIndex, nil
}

// EncodeSyncResponse wraps a block suffix in the wire envelope a real
// transport sends as SYNC_RESP, answering a SYNC_REQ.
func EncodeSyncResponse(blocks []ledger.Block) protocol.Envelope {
	return protocol.Envelope{Kind: protocol.MsgSyncResp, Blocks: blocks}
}

// DecodeSyncResponse unwraps a SYNC_RESP envelope back into its block
// suffix, the form Resync replays via Ledger().AppendBlock.
func DecodeSyncResponse(env protocol.Envelope) ([]ledger.Block, error) {
	if env.Kind != protocol.MsgSyncResp {
		return nil, fmt.Errorf("reconnect: envelope kind %s, want %s", env.Kind, protocol.MsgSyncResp)
	}
	return env.Blocks, nil
}

// diverges reports whether block carries a transaction whose signature
// fails to verify against its own claimed participant_id — the
// signal that a rejected block is tampering rather than an honest fork.
func diverges(block ledger.Block) (accused string, tampered bool) {
	for _, tx := range block.Transactions {
		ok, err := tx.VerifySignature()
		if err != nil || !ok {
			return tx.ParticipantID, true
		}
	}
	return "", false
}
