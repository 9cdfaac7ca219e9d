// Copyright 2025 Certen Protocol
//
// Wire encoding for Proof: a portable, hex-encoded form that round-trips
// through JSON so a MerkleProof can travel over the wire (§6) and be
// independently re-verified by a peer without trusting any intermediary.

package merkle

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zerotrust/protokernel/pkg/identity"
)

// WireProof is the JSON form of a Proof, as exchanged between peers.
// Siblings travel as positional [hex, "L"|"R"] pairs, not objects —
// §6's normative wire shape for MerkleProof.
type WireProof struct {
	LeafIndex uint64      `json:"leaf_index"`
	LeafValue string      `json:"leaf_value"` // hex
	Siblings  [][2]string `json:"siblings"`
}

// ToWire converts a Proof to its portable JSON form.
func (p *Proof) ToWire() *WireProof {
	w := &WireProof{
		LeafIndex: p.LeafIndex,
		LeafValue: hex.EncodeToString(p.LeafValue),
	}
	for _, s := range p.Siblings {
		side := "R"
		if s.Side == Left {
			side = "L"
		}
		w.Siblings = append(w.Siblings, [2]string{s.Sibling.Hex(), side})
	}
	return w
}

// FromWire parses a WireProof back into a Proof, validating every sibling
// digest and side tag (fail-closed: malformed input is rejected here, never
// silently coerced).
func (w *WireProof) FromWire() (*Proof, error) {
	leafValue, err := hex.DecodeString(w.LeafValue)
	if err != nil {
		return nil, fmt.Errorf("merkle: decode leaf_value: %w", err)
	}
	p := &Proof{
		LeafIndex: w.LeafIndex,
		LeafValue: leafValue,
	}
	for i, pair := range w.Siblings {
		d, err := identity.DigestFromHex(pair[0])
		if err != nil {
			return nil, fmt.Errorf("merkle: siblings[%d]: %w", i, err)
		}
		var side Side
		switch pair[1] {
		case "L":
			side = Left
		case "R":
			side = Right
		default:
			return nil, fmt.Errorf("merkle: siblings[%d]: invalid side %q", i, pair[1])
		}
		p.Siblings = append(p.Siblings, ProofStep{Sibling: d, Side: side})
	}
	return p, nil
}

// MarshalJSON renders the proof through its wire form.
func (p *Proof) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.ToWire())
}

// UnmarshalJSON parses the proof from its wire form.
func (p *Proof) UnmarshalJSON(data []byte) error {
	var w WireProof
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	parsed, err := w.FromWire()
	if err != nil {
		return err
	}
	*p = *parsed
	return nil
}
