// Copyright 2025 Certen Protocol
//
// Durable block mirror for the personal ledger (C4 optional storage
// path). Wraps a CometBFT dbm.DB so ledger.Ledger can mirror sealed
// blocks to disk as they land, entirely separate from the in-memory
// slice that Verify/Replay treat as authoritative. OpenBlockMirror is
// the entry point cmd/zerotrustd uses when config.KernelConfig.KVMirrorDir
// is set; NewKVAdapter stays exported for callers that already manage
// their own dbm.DB lifecycle.

package kvdb

import (
	"fmt"

	dbm "github.com/cometbft/cometbft-db"
)

// KVAdapter wraps a CometBFT dbm.DB and exposes the ledger.KV interface.
type KVAdapter struct {
	db    dbm.DB
	owned bool
}

// NewKVAdapter wraps an already-open dbm.DB. The caller retains
// ownership and must Close it themselves.
func NewKVAdapter(db dbm.DB) *KVAdapter {
	return &KVAdapter{db: db}
}

// OpenBlockMirror opens (creating if absent) a GoLevelDB-backed block
// mirror under dir, named after the ledger it backs. The returned
// adapter owns the underlying DB: Close releases it.
func OpenBlockMirror(name, dir string) (*KVAdapter, error) {
	db, err := dbm.NewGoLevelDB(name, dir)
	if err != nil {
		return nil, fmt.Errorf("kvdb: open block mirror %s in %s: %w", name, dir, err)
	}
	return &KVAdapter{db: db, owned: true}, nil
}

// Close releases the underlying DB if this adapter opened it.
func (a *KVAdapter) Close() error {
	if a.db == nil || !a.owned {
		return nil
	}
	return a.db.Close()
}

// Get implements ledger.KV.Get. A missing key is nil, nil — the ledger
// treats an absent mirror entry the same as an absent mirror.
func (a *KVAdapter) Get(key []byte) ([]byte, error) {
	if a.db == nil {
		return nil, nil
	}
	v, err := a.db.Get(key)
	if err != nil {
		return nil, fmt.Errorf("kvdb: get: %w", err)
	}
	return v, nil
}

// Set implements ledger.KV.Set, writing synchronously so a mirrored
// block is durable before Seal returns to its caller.
func (a *KVAdapter) Set(key, value []byte) error {
	if a.db == nil {
		return nil
	}
	if err := a.db.SetSync(key, value); err != nil {
		return fmt.Errorf("kvdb: set: %w", err)
	}
	return nil
}