// Copyright 2025 Certen Protocol
//
// Ledger (C4): an append-only, signed hash-chain — a personal
// tamper-evident log, not a consensus artifact. Blocks are sealed with a
// trivial proof-of-work (leading zero bits, default D=2) purely as a
// tamper cost. The in-memory slice is always the authoritative,
// lock-guarded representation; an optional KV mirror (see pkg/kvdb) is
// for durability only and is never read from directly by Verify/Replay.

package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/zerotrust/protokernel/pkg/identity"
	"github.com/zerotrust/protokernel/pkg/merkle"
)

// MoveType enumerates the five transaction kinds exchanged during a run.
type MoveType string

const (
	MoveCommit      MoveType = "COMMIT"
	MoveAction      MoveType = "ACTION"
	MoveResponse    MoveType = "RESPONSE"
	MoveProof       MoveType = "PROOF"
	MoveInvalidation MoveType = "INVALIDATION"
)

// Transaction is a single signed protocol event.
type Transaction struct {
	MoveType      MoveType               `json:"move_type"`
	ParticipantID string                 `json:"participant_id"`
	Data          map[string]interface{} `json:"data"`
	TimestampMs   int64                  `json:"timestamp"`
	Nonce         uint64                 `json:"nonce"`
	Signature     []byte                 `json:"signature"`
}

// signingView is the canonical encoding of a Transaction with the
// signature field omitted — the signature covers every other field.
type signingView struct {
	MoveType      MoveType               `json:"move_type"`
	ParticipantID string                 `json:"participant_id"`
	Data          map[string]interface{} `json:"data"`
	TimestampMs   int64                  `json:"timestamp"`
	Nonce         uint64                 `json:"nonce"`
}

// CanonicalDigest returns the digest the transaction's signature must
// cover: sha256(canonical(tx without signature)).
func (tx *Transaction) CanonicalDigest() (identity.Digest, error) {
	canon, err := identity.Canonicalize(signingView{
		MoveType:      tx.MoveType,
		ParticipantID: tx.ParticipantID,
		Data:          tx.Data,
		TimestampMs:   tx.TimestampMs,
		Nonce:         tx.Nonce,
	})
	if err != nil {
		return identity.Digest{}, fmt.Errorf("ledger: canonicalize transaction: %w", err)
	}
	return identity.SHA256(canon), nil
}

// VerifySignature checks tx.Signature against tx.ParticipantID's public key.
func (tx *Transaction) VerifySignature() (bool, error) {
	digest, err := tx.CanonicalDigest()
	if err != nil {
		return false, err
	}
	return identity.Verify(tx.ParticipantID, digest, tx.Signature)
}

// Sign signs tx with id, setting tx.ParticipantID and tx.Signature.
func Sign(id *identity.Identity, moveType MoveType, data map[string]interface{}, timestampMs int64, nonce uint64) (*Transaction, error) {
	tx := &Transaction{
		MoveType:      moveType,
		ParticipantID: id.ParticipantID,
		Data:          data,
		TimestampMs:   timestampMs,
		Nonce:         nonce,
	}
	digest, err := tx.CanonicalDigest()
	if err != nil {
		return nil, err
	}
	sig, err := id.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("ledger: sign transaction: %w", err)
	}
	tx.Signature = sig
	return tx, nil
}

// Block is one sealed link in the chain.
type Block struct {
	Index        uint64        `json:"index"`
	PrevHash     identity.Digest `json:"prev_hash"`
	Transactions []Transaction `json:"transactions"`
	TimestampMs  int64         `json:"timestamp"`
	Nonce        uint64        `json:"nonce"`
	Hash         identity.Digest `json:"hash"`
}

type blockHashInput struct {
	Index       uint64 `json:"index"`
	PrevHash    string `json:"prev_hash"`
	MerkleRoot  string `json:"merkle_root"`
	TimestampMs int64  `json:"timestamp"`
	Nonce       uint64 `json:"nonce"`
}

func txMerkleRoot(txs []Transaction) (identity.Digest, error) {
	leaves := make([][]byte, len(txs))
	for i := range txs {
		canon, err := identity.Canonicalize(txs[i])
		if err != nil {
			return identity.Digest{}, fmt.Errorf("ledger: canonicalize tx %d: %w", i, err)
		}
		leaves[i] = canon
	}
	tree, err := merkle.Build(leaves)
	if err != nil {
		return identity.Digest{}, err
	}
	return tree.Root(), nil
}

// computeHash computes hash = sha256(canonical(index, prev_hash,
// merkle_root(tx_hashes), timestamp, nonce)).
func computeHash(index uint64, prevHash identity.Digest, txs []Transaction, timestampMs int64, nonce uint64) (identity.Digest, error) {
	root, err := txMerkleRoot(txs)
	if err != nil {
		return identity.Digest{}, err
	}
	canon, err := identity.Canonicalize(blockHashInput{
		Index:       index,
		PrevHash:    prevHash.Hex(),
		MerkleRoot:  root.Hex(),
		TimestampMs: timestampMs,
		Nonce:       nonce,
	})
	if err != nil {
		return identity.Digest{}, err
	}
	return identity.SHA256(canon), nil
}

// leadingZeroBits counts leading zero bits of d interpreted as a
// big-endian integer.
func leadingZeroBits(d identity.Digest) int {
	n := new(big.Int).SetBytes(d[:])
	if n.Sign() == 0 {
		return len(d) * 8
	}
	return len(d)*8 - n.BitLen()
}

// meetsDifficulty reports whether d has at least D leading zero bits.
func meetsDifficulty(d identity.Digest, difficulty int) bool {
	return leadingZeroBits(d) >= difficulty
}

// sealBlock brute-forces nonce so the resulting hash meets difficulty.
func sealBlock(index uint64, prevHash identity.Digest, txs []Transaction, timestampMs int64, difficulty int) (*Block, error) {
	for nonce := uint64(0); ; nonce++ {
		hash, err := computeHash(index, prevHash, txs, timestampMs, nonce)
		if err != nil {
			return nil, err
		}
		if meetsDifficulty(hash, difficulty) {
			return &Block{
				Index:        index,
				PrevHash:     prevHash,
				Transactions: txs,
				TimestampMs:  timestampMs,
				Nonce:        nonce,
				Hash:         hash,
			}, nil
		}
	}
}

// Errors surfaced by Ledger operations.
var (
	ErrDuplicateNonce = errors.New("ledger: duplicate (participant_id, nonce)")
	ErrNonceOutOfOrder = errors.New("ledger: nonce must strictly increase per participant")
	ErrEmptyBuffer    = errors.New("ledger: no pending transactions to seal")
)

// Ledger is the append-only signed hash-chain. All mutation is
// lock-guarded; readers (Verify, Replay) snapshot under the same lock.
type Ledger struct {
	mu         sync.RWMutex
	blocks     []Block
	pending    []Transaction
	lastNonce  map[string]uint64
	seenNonces map[string]map[uint64]bool
	difficulty int
	kv         KV
}

// KV is the optional durable mirror for sealed blocks (see pkg/kvdb). It
// is never consulted by Verify/Replay — the in-memory slice remains
// authoritative.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
}

// New creates a Ledger with a freshly sealed genesis block (index 0,
// zero prev_hash, zero transactions).
func New(difficulty int) (*Ledger, error) {
	genesis, err := sealBlock(0, identity.ZeroDigest, nil, 0, difficulty)
	if err != nil {
		return nil, fmt.Errorf("ledger: seal genesis: %w", err)
	}
	return &Ledger{
		blocks:     []Block{*genesis},
		lastNonce:  make(map[string]uint64),
		seenNonces: make(map[string]map[uint64]bool),
		difficulty: difficulty,
	}, nil
}

// AttachKV wires an optional durable mirror. Existing blocks are written
// through immediately; future Seal calls mirror new blocks as they land.
func (l *Ledger) AttachKV(kv KV) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.kv = kv
	for i := range l.blocks {
		if err := l.mirrorBlock(&l.blocks[i]); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) mirrorBlock(b *Block) error {
	if l.kv == nil {
		return nil
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("ledger: marshal block %d for kv mirror: %w", b.Index, err)
	}
	key := []byte(fmt.Sprintf("block/%020d", b.Index))
	return l.kv.Set(key, raw)
}

// Append validates and buffers tx for the next Seal. Duplicate
// (participant_id, nonce) pairs and out-of-order nonces are rejected
// without mutating state.
func (l *Ledger) Append(tx Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.seenNonces[tx.ParticipantID] == nil {
		l.seenNonces[tx.ParticipantID] = make(map[uint64]bool)
	}
	if l.seenNonces[tx.ParticipantID][tx.Nonce] {
		return ErrDuplicateNonce
	}
	if last, ok := l.lastNonce[tx.ParticipantID]; ok && tx.Nonce <= last {
		return ErrNonceOutOfOrder
	}

	l.pending = append(l.pending, tx)
	l.seenNonces[tx.ParticipantID][tx.Nonce] = true
	l.lastNonce[tx.ParticipantID] = tx.Nonce
	return nil
}

// Seal closes the pending buffer into a new block, brute-forcing its
// nonce to meet difficulty.
func (l *Ledger) Seal(timestampMs int64) (*Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.pending) == 0 {
		return nil, ErrEmptyBuffer
	}

	prev := l.blocks[len(l.blocks)-1]
	block, err := sealBlock(prev.Index+1, prev.Hash, l.pending, timestampMs, l.difficulty)
	if err != nil {
		return nil, err
	}

	l.blocks = append(l.blocks, *block)
	l.pending = nil
	if err := l.mirrorBlock(block); err != nil {
		return nil, err
	}
	return block, nil
}

// Blocks returns a read-only snapshot copy of the chain.
func (l *Ledger) Blocks() []Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Block, len(l.blocks))
	copy(out, l.blocks)
	return out
}

// Len returns the number of sealed blocks.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.blocks)
}

// AppendBlock adopts a single already-sealed block received from a peer
// (reconnection suffix replay): it must extend the current tip exactly,
// recompute to the claimed hash, meet difficulty, and carry only
// transactions whose signatures verify. Unlike Append+Seal, no local
// PoW search runs — the block's nonce was already found by its sealer.
func (l *Ledger) AppendBlock(b Block) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tip := l.blocks[len(l.blocks)-1]
	if b.Index != tip.Index+1 {
		return fmt.Errorf("ledger: block %d does not extend tip %d", b.Index, tip.Index)
	}
	if b.PrevHash != tip.Hash {
		return fmt.Errorf("ledger: block %d prev_hash does not match tip hash", b.Index)
	}

	recomputed, err := computeHash(b.Index, b.PrevHash, b.Transactions, b.TimestampMs, b.Nonce)
	if err != nil {
		return err
	}
	if recomputed != b.Hash {
		return fmt.Errorf("ledger: block %d hash mismatch on replay", b.Index)
	}
	if !meetsDifficulty(b.Hash, l.difficulty) {
		return fmt.Errorf("ledger: block %d does not meet difficulty %d", b.Index, l.difficulty)
	}

	for i, tx := range b.Transactions {
		ok, err := tx.VerifySignature()
		if err != nil {
			return fmt.Errorf("ledger: block %d tx %d: %w", b.Index, i, err)
		}
		if !ok {
			return fmt.Errorf("ledger: block %d tx %d signature invalid", b.Index, i)
		}
		if l.seenNonces[tx.ParticipantID] == nil {
			l.seenNonces[tx.ParticipantID] = make(map[uint64]bool)
		}
		l.seenNonces[tx.ParticipantID][tx.Nonce] = true
		if last, ok := l.lastNonce[tx.ParticipantID]; !ok || tx.Nonce > last {
			l.lastNonce[tx.ParticipantID] = tx.Nonce
		}
	}

	l.blocks = append(l.blocks, b)
	return l.mirrorBlock(&l.blocks[len(l.blocks)-1])
}

// LastNonce returns the highest nonce seen from participantID, or 0 if
// none. Callers resuming a signer after a restore use this to pick up
// nonce assignment where the snapshot left off.
func (l *Ledger) LastNonce(participantID string) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastNonce[participantID]
}

// Tip returns the most recently sealed block.
func (l *Ledger) Tip() Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.blocks[len(l.blocks)-1]
}

// clockSkewToleranceMs is the default tolerance for invariant I4.
const clockSkewToleranceMs = 2000

// Verify replays invariants I1-I4 over the current chain and returns the
// index of the first failing block, or ok=true if none fail.
func (l *Ledger) Verify() (ok bool, badIndex int, reason error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return verifyBlocks(l.blocks, l.difficulty)
}

func verifyBlocks(blocks []Block, difficulty int) (bool, int, error) {
	if len(blocks) == 0 {
		return false, 0, errors.New("ledger: empty chain")
	}
	for i, b := range blocks {
		if i == 0 {
			if !b.PrevHash.IsZero() {
				return false, i, errors.New("ledger: genesis prev_hash must be zero")
			}
		} else {
			if b.PrevHash != blocks[i-1].Hash {
				return false, i, fmt.Errorf("ledger: block %d prev_hash does not match block %d hash", i, i-1)
			}
			if b.TimestampMs < blocks[i-1].TimestampMs-clockSkewToleranceMs {
				return false, i, fmt.Errorf("ledger: block %d timestamp regresses beyond tolerance", i)
			}
		}

		recomputed, err := computeHash(b.Index, b.PrevHash, b.Transactions, b.TimestampMs, b.Nonce)
		if err != nil {
			return false, i, err
		}
		if recomputed != b.Hash {
			return false, i, fmt.Errorf("ledger: block %d hash mismatch", i)
		}
		if !meetsDifficulty(b.Hash, difficulty) {
			return false, i, fmt.Errorf("ledger: block %d does not meet difficulty %d", i, difficulty)
		}

		if i > 0 {
			for j, tx := range b.Transactions {
				ok, err := tx.VerifySignature()
				if err != nil {
					return false, i, fmt.Errorf("ledger: block %d tx %d: %w", i, j, err)
				}
				if !ok {
					return false, i, fmt.Errorf("ledger: block %d tx %d signature invalid", i, j)
				}
			}
		}
	}
	return true, -1, nil
}

// snapshotView is the canonical serialization form of a Ledger.
type snapshotView struct {
	Blocks []Block `json:"blocks"`
}

// Serialize renders the ledger as canonical JSON.
func (l *Ledger) Serialize() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return json.Marshal(snapshotView{Blocks: l.blocks})
}

// Deserialize rebuilds a Ledger from Serialize's output and re-runs
// Verify before returning it — callers must treat a verification failure
// as CorruptState, never silently repair it.
func Deserialize(raw []byte, difficulty int) (*Ledger, error) {
	var view snapshotView
	if err := json.Unmarshal(raw, &view); err != nil {
		return nil, fmt.Errorf("ledger: unmarshal: %w", err)
	}
	if ok, badIndex, reason := verifyBlocks(view.Blocks, difficulty); !ok {
		return nil, fmt.Errorf("ledger: corrupt snapshot at block %d: %w", badIndex, reason)
	}

	l := &Ledger{
		blocks:     view.Blocks,
		lastNonce:  make(map[string]uint64),
		seenNonces: make(map[string]map[uint64]bool),
		difficulty: difficulty,
	}
	for _, b := range view.Blocks {
		for _, tx := range b.Transactions {
			if l.seenNonces[tx.ParticipantID] == nil {
				l.seenNonces[tx.ParticipantID] = make(map[uint64]bool)
			}
			l.seenNonces[tx.ParticipantID][tx.Nonce] = true
			if cur, ok := l.lastNonce[tx.ParticipantID]; !ok || tx.Nonce > cur {
				l.lastNonce[tx.ParticipantID] = tx.Nonce
			}
		}
	}
	return l, nil
}

// NowMillis returns the current wall clock in integer milliseconds, the
// canonical timestamp unit used throughout the wire protocol.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
