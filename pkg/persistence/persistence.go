// Copyright 2025 Certen Protocol
//
// State Persistence (C8): canonical snapshot serialization of the
// ledger plus protocol state plus the public identity — never the
// private key, which the caller holds separately. Grounded on this
// codebase's own chain-state save/load idiom (JSON-encode the whole
// struct, write under the data directory), hardened with a
// write-to-temp-then-rename step so a crash mid-write never leaves a
// truncated file where the old or new snapshot should be.

package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zerotrust/protokernel/pkg/commitment"
	"github.com/zerotrust/protokernel/pkg/identity"
	"github.com/zerotrust/protokernel/pkg/ledger"
	"github.com/zerotrust/protokernel/pkg/protocol"
)

const snapshotVersion = 1

// CorruptState is returned when a loaded snapshot's ledger fails
// re-verification. Callers must never attempt to silently repair it.
type CorruptState struct {
	Path   string
	Reason error
}

func (e *CorruptState) Error() string {
	return fmt.Sprintf("persistence: corrupt state at %s: %v", e.Path, e.Reason)
}

func (e *CorruptState) Unwrap() error { return e.Reason }

// Snapshot is the canonical on-disk structure: version, the full ledger,
// the protocol state, and the public identity. No private key field
// exists on this type — there is nothing to accidentally serialize.
type Snapshot struct {
	Version        int                    `json:"version"`
	Ledger         json.RawMessage        `json:"ledger"`
	Protocol       protocol.ProtocolState `json:"protocol"`
	IdentityPublic string                 `json:"identity_public"`
}

// Save renders engine's state as a Snapshot and atomically writes it to
// path: canonical-encode, write path+".tmp" (closed, not fsynced), then
// rename over path. A reader at any instant sees either the previous
// snapshot or this one, never a partial write.
func Save(path string, eng *protocol.Engine) error {
	ledgerRaw, err := eng.Ledger().Serialize()
	if err != nil {
		return fmt.Errorf("persistence: serialize ledger: %w", err)
	}

	snap := Snapshot{
		Version:        snapshotVersion,
		Ledger:         ledgerRaw,
		Protocol:       eng.Snapshot(),
		IdentityPublic: eng.Identity().ParticipantID,
	}

	body, err := identity.Canonicalize(snap)
	if err != nil {
		return fmt.Errorf("persistence: encode snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("persistence: mkdir %s: %w", dir, err)
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, body, 0o600); err != nil {
		return fmt.Errorf("persistence: write temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("persistence: rename temp snapshot: %w", err)
	}
	return nil
}

// Load reads and decodes path's snapshot, re-verifying the embedded
// ledger before returning. A failed verification (tampering, or a
// truncated/foreign file) is surfaced as *CorruptState, never patched
// up silently.
func Load(path string, difficultyBits int) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persistence: read %s: %w", path, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, &CorruptState{Path: path, Reason: fmt.Errorf("decode snapshot: %w", err)}
	}

	if _, err := ledger.Deserialize(snap.Ledger, difficultyBits); err != nil {
		return nil, &CorruptState{Path: path, Reason: err}
	}

	return &snap, nil
}

// Restore rebuilds a live Engine from a Load'd snapshot. The caller
// supplies the identity (with its private key, obtained from its own
// secret store) and the commitment scheme (the private witness it
// embodies also never traveled through the snapshot) — both of which
// must match IdentityPublic / the recorded self-commitment or the
// returned engine will fail its next self-signed operation.
func Restore(snap *Snapshot, id *identity.Identity, scheme commitment.Scheme, difficultyBits int, clock protocol.Clock) (*protocol.Engine, error) {
	if id.ParticipantID != snap.IdentityPublic {
		return nil, fmt.Errorf("persistence: identity mismatch: snapshot is for %s, supplied identity is %s", snap.IdentityPublic, id.ParticipantID)
	}

	chain, err := ledger.Deserialize(snap.Ledger, difficultyBits)
	if err != nil {
		return nil, &CorruptState{Reason: err}
	}

	return protocol.Restore(id, scheme, chain, snap.Protocol, clock), nil
}
