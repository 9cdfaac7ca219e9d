// Copyright 2025 Certen Protocol
//
// Commitment Interface (C3): a Scheme binds a participant to a hidden
// structure before play begins (CommitRoot), and later proves an
// individual fact about that structure without revealing the rest
// (Prove / VerifyMembership). Multiple schemes can coexist behind this
// one interface; the grid and zk-groth16 references in this package are
// the two shipped implementations, selected by SchemeTag at wire time.

package commitment

import (
	"encoding/json"

	"github.com/zerotrust/protokernel/pkg/identity"
	"github.com/zerotrust/protokernel/pkg/merkle"
)

// decodeCanonicalLeaf parses a canonical-JSON leaf value into dst. Canonical
// output is always valid JSON, so a plain Unmarshal recovers the fields
// without needing to re-derive the canonical form.
func decodeCanonicalLeaf(raw []byte, dst interface{}) error {
	return json.Unmarshal(raw, dst)
}

// Scheme is the commitment interface every concrete scheme implements.
type Scheme interface {
	// CommitRoot returns the digest the participant publishes before play.
	CommitRoot() identity.Digest

	// Prove produces a membership proof answering query against the
	// scheme's committed structure.
	Prove(query interface{}) (*merkle.Proof, error)

	// VerifyMembership checks proof against root and query without access
	// to the prover's private structure.
	VerifyMembership(root identity.Digest, query interface{}, proof *merkle.Proof) bool

	// SchemeTag identifies the scheme on the wire, e.g. "grid-merkle" or
	// "zk-groth16".
	SchemeTag() string
}

// ErrUnknownSchemeTag is returned when a wire scheme_tag has no registered
// verifier.
type ErrUnknownSchemeTag struct {
	Tag string
}

func (e *ErrUnknownSchemeTag) Error() string {
	return "commitment: unknown scheme_tag " + e.Tag
}
