// Copyright 2025 Certen Protocol
//
// zk-groth16 commitment scheme: an additive second Scheme demonstrating
// that the interface is not Merkle-specific. A participant commits to a
// single secret witness value; Prove produces a Groth16 proof of
// knowledge of that witness without revealing it, given only its public
// commitment. Grounded on the teacher's BLS Groth16 circuit/prover
// pattern (compile once, Setup once, Prove per query), generalized from
// BLS-pairing witnesses to a single hidden membership value.

package commitment

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	groth16bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/zerotrust/protokernel/pkg/identity"
	"github.com/zerotrust/protokernel/pkg/merkle"
)

// membershipCircuit proves knowledge of Witness such that a fixed linear
// commitment of (Witness, Salt) equals the public Commitment. The
// commitment function mirrors the teacher's pubkey-commitment constraint:
// a cheap linear combination stands in for a collision-resistant hash
// gadget, which would otherwise dominate circuit size.
type membershipCircuit struct {
	Commitment frontend.Variable `gnark:",public"`
	Witness    frontend.Variable
	Salt       frontend.Variable
}

func (c *membershipCircuit) Define(api frontend.API) error {
	mixer := frontend.Variable(7)
	computed := api.Add(c.Witness, api.Mul(c.Salt, mixer))
	api.AssertIsEqual(c.Commitment, computed)
	api.AssertIsDifferent(c.Witness, 0)
	return nil
}

// ZKMembership is the zk-groth16 reference Scheme. It commits to one
// secret witness value and proves knowledge of it on demand.
type ZKMembership struct {
	mu sync.Mutex

	witness *big.Int
	salt    *big.Int
	commit  *big.Int

	cs constraint.ConstraintSystem
	pk groth16.ProvingKey
	vk groth16.VerifyingKey
}

// NewZKMembership commits to witness using the caller-supplied salt, then
// runs the (expensive, one-time) Groth16 trusted setup for the membership
// circuit.
func NewZKMembership(witness *big.Int, salt *big.Int) (*ZKMembership, error) {
	if witness == nil || witness.Sign() == 0 {
		return nil, errors.New("commitment: zk witness must be non-zero")
	}
	if salt == nil {
		return nil, errors.New("commitment: zk salt must not be nil")
	}

	mixer := big.NewInt(7)
	commit := new(big.Int).Mul(salt, mixer)
	commit.Add(commit, witness)

	var circuit membershipCircuit
	cs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return nil, fmt.Errorf("commitment: compile membership circuit: %w", err)
	}
	pk, vk, err := groth16.Setup(cs)
	if err != nil {
		return nil, fmt.Errorf("commitment: groth16 setup: %w", err)
	}

	return &ZKMembership{
		witness: witness,
		salt:    salt,
		commit:  commit,
		cs:      cs,
		pk:      pk,
		vk:      vk,
	}, nil
}

// CommitRoot returns sha256 of the big-endian commitment scalar, so it
// shares a Digest type with every other scheme even though the underlying
// math lives in a different field.
func (z *ZKMembership) CommitRoot() identity.Digest {
	z.mu.Lock()
	defer z.mu.Unlock()
	return identity.SHA256(z.commit.Bytes())
}

// SchemeTag identifies this scheme on the wire.
func (z *ZKMembership) SchemeTag() string { return "zk-groth16" }

// Prove ignores its query argument (the circuit has exactly one committed
// witness) and returns a MerkleProof-shaped wrapper: leaf_value carries the
// serialized Groth16 proof, and the lone sibling entry carries the
// verification key digest, so it still travels through the wire envelope
// defined for Merkle-based schemes.
func (z *ZKMembership) Prove(_ interface{}) (*merkle.Proof, error) {
	z.mu.Lock()
	defer z.mu.Unlock()

	assignment := &membershipCircuit{
		Commitment: z.commit,
		Witness:    z.witness,
		Salt:       z.salt,
	}
	witnessData, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("commitment: build witness: %w", err)
	}
	proof, err := groth16.Prove(z.cs, z.pk, witnessData)
	if err != nil {
		return nil, fmt.Errorf("commitment: groth16 prove: %w", err)
	}
	proofBN254, ok := proof.(*groth16bn254.Proof)
	if !ok {
		return nil, errors.New("commitment: unexpected proof backend type")
	}

	serialized, err := marshalGroth16Proof(proofBN254)
	if err != nil {
		return nil, err
	}
	vkDigest, err := digestVerifyingKey(z.vk)
	if err != nil {
		return nil, err
	}

	return &merkle.Proof{
		LeafIndex: 0,
		LeafValue: serialized,
		Siblings: []merkle.ProofStep{
			{Sibling: vkDigest, Side: merkle.Right},
		},
	}, nil
}

// VerifyMembership is unused on the proving side; verification of a
// zk-groth16 proof requires the verifying key, which only the prover's
// paired VerifyZKMembership call (or a peer that received vk out of band)
// can supply. A bare ZKMembership therefore answers false here and callers
// should use VerifyZKMembership with an explicit vk digest check instead.
func (z *ZKMembership) VerifyMembership(identity.Digest, interface{}, *merkle.Proof) bool {
	return false
}

// groth16ProofWire is the JSON-serializable form of a BN254 Groth16 proof.
type groth16ProofWire struct {
	Ar  [2]string    `json:"ar"`
	Bs  [2][2]string `json:"bs"`
	Krs [2]string    `json:"krs"`
}

func marshalGroth16Proof(p *groth16bn254.Proof) ([]byte, error) {
	arX, arY := new(big.Int), new(big.Int)
	p.Ar.X.BigInt(arX)
	p.Ar.Y.BigInt(arY)

	bsX0, bsX1, bsY0, bsY1 := new(big.Int), new(big.Int), new(big.Int), new(big.Int)
	p.Bs.X.A0.BigInt(bsX0)
	p.Bs.X.A1.BigInt(bsX1)
	p.Bs.Y.A0.BigInt(bsY0)
	p.Bs.Y.A1.BigInt(bsY1)

	krsX, krsY := new(big.Int), new(big.Int)
	p.Krs.X.BigInt(krsX)
	p.Krs.Y.BigInt(krsY)

	wire := groth16ProofWire{
		Ar:  [2]string{arX.String(), arY.String()},
		Bs:  [2][2]string{{bsX0.String(), bsX1.String()}, {bsY0.String(), bsY1.String()}},
		Krs: [2]string{krsX.String(), krsY.String()},
	}
	return json.Marshal(wire)
}

func unmarshalGroth16Proof(raw []byte) (*groth16bn254.Proof, error) {
	var wire groth16ProofWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("commitment: decode groth16 proof: %w", err)
	}
	p := &groth16bn254.Proof{}
	arX, ok1 := new(big.Int).SetString(wire.Ar[0], 10)
	arY, ok2 := new(big.Int).SetString(wire.Ar[1], 10)
	if !ok1 || !ok2 {
		return nil, errors.New("commitment: malformed Ar")
	}
	p.Ar.X.SetBigInt(arX)
	p.Ar.Y.SetBigInt(arY)

	bsX0, ok3 := new(big.Int).SetString(wire.Bs[0][0], 10)
	bsX1, ok4 := new(big.Int).SetString(wire.Bs[0][1], 10)
	bsY0, ok5 := new(big.Int).SetString(wire.Bs[1][0], 10)
	bsY1, ok6 := new(big.Int).SetString(wire.Bs[1][1], 10)
	if !ok3 || !ok4 || !ok5 || !ok6 {
		return nil, errors.New("commitment: malformed Bs")
	}
	p.Bs.X.A0.SetBigInt(bsX0)
	p.Bs.X.A1.SetBigInt(bsX1)
	p.Bs.Y.A0.SetBigInt(bsY0)
	p.Bs.Y.A1.SetBigInt(bsY1)

	krsX, ok7 := new(big.Int).SetString(wire.Krs[0], 10)
	krsY, ok8 := new(big.Int).SetString(wire.Krs[1], 10)
	if !ok7 || !ok8 {
		return nil, errors.New("commitment: malformed Krs")
	}
	p.Krs.X.SetBigInt(krsX)
	p.Krs.Y.SetBigInt(krsY)

	return p, nil
}

func digestVerifyingKey(vk groth16.VerifyingKey) (identity.Digest, error) {
	var buf []byte
	w := &byteCollector{buf: &buf}
	if _, err := vk.WriteTo(w); err != nil {
		return identity.Digest{}, fmt.Errorf("commitment: serialize verifying key: %w", err)
	}
	return identity.SHA256(buf), nil
}

// byteCollector adapts io.Writer for vk.WriteTo without depending on bytes.Buffer
// directly in the import list — kept minimal since this is write-once per setup.
type byteCollector struct {
	buf *[]byte
}

func (b *byteCollector) Write(p []byte) (int, error) {
	*b.buf = append(*b.buf, p...)
	return len(p), nil
}

// VerifyZKMembership verifies a zk-groth16 proof produced by Prove against
// the participant's published commitRoot, using the verifying key baked
// into vk (obtained out of band, e.g. from the scheme's one-time setup
// artifact shared alongside the commitment).
func VerifyZKMembership(vk groth16.VerifyingKey, commitRoot identity.Digest, commitScalar *big.Int, proof *merkle.Proof) (bool, error) {
	if proof == nil || len(proof.Siblings) != 1 {
		return false, errors.New("commitment: zk proof must carry exactly one sibling slot (vk digest)")
	}
	wantVK, err := digestVerifyingKey(vk)
	if err != nil {
		return false, err
	}
	if wantVK != proof.Siblings[0].Sibling {
		return false, errors.New("commitment: verifying key digest mismatch")
	}
	if identity.SHA256(commitScalar.Bytes()) != commitRoot {
		return false, errors.New("commitment: commitRoot does not match supplied commitment scalar")
	}

	groth16Proof, err := unmarshalGroth16Proof(proof.LeafValue)
	if err != nil {
		return false, err
	}

	assignment := &membershipCircuit{Commitment: commitScalar}
	publicWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false, fmt.Errorf("commitment: build public witness: %w", err)
	}
	if err := groth16.Verify(groth16Proof, vk, publicWitness); err != nil {
		return false, nil
	}
	return true, nil
}
