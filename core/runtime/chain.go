package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"stakechain/core/types"
	"stakechain/storage"
)

var (
	headKey = []byte("chain/head")

	// ErrBlockNotFound is returned for heights that were never executed.
	ErrBlockNotFound = errors.New("runtime: block not found")
)

func headerKey(number types.BlockNumber) []byte {
	return []byte(fmt.Sprintf("chain/header/%d", number))
}

// Blockchain keeps the executed headers next to the state. Headers are JSON
// encoded under their height; the head is cached in memory.
type Blockchain struct {
	db   storage.Database
	mu   sync.RWMutex
	head *types.BlockHeader
}

// NewBlockchain loads the head from db. A fresh database has no head until
// the genesis header is stored.
func NewBlockchain(db storage.Database) (*Blockchain, error) {
	bc := &Blockchain{db: db}
	raw, err := db.Get(headKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return bc, nil
	case err != nil:
		return nil, err
	}
	var head types.BlockHeader
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode chain head: %w", err)
	}
	bc.head = &head
	return bc, nil
}

// StageHeader checks that header extends the head and stages it, and the new
// head key, into batch. The head only moves once SetHead is called after the
// batch has been written.
func (bc *Blockchain) StageHeader(header *types.BlockHeader, batch *storage.Batch) error {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	if bc.head != nil {
		if header.Number != bc.head.Number+1 {
			return fmt.Errorf("runtime: header %d does not extend head %d", header.Number, bc.head.Number)
		}
		parent, err := bc.head.Hash()
		if err != nil {
			return err
		}
		if header.ParentHash != parent {
			return fmt.Errorf("runtime: header %d parent hash mismatch", header.Number)
		}
	}
	encoded, err := json.Marshal(header)
	if err != nil {
		return err
	}
	batch.Put(headerKey(header.Number), encoded)
	batch.Put(headKey, encoded)
	return nil
}

// SetHead makes a written header the head.
func (bc *Blockchain) SetHead(header *types.BlockHeader) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	copied := *header
	bc.head = &copied
}

// Head returns a copy of the latest header, or nil before genesis.
func (bc *Blockchain) Head() *types.BlockHeader {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if bc.head == nil {
		return nil
	}
	copied := *bc.head
	return &copied
}

// Height returns the number of the head, zero before genesis.
func (bc *Blockchain) Height() types.BlockNumber {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if bc.head == nil {
		return 0
	}
	return bc.head.Number
}

// HeaderByNumber loads a stored header.
func (bc *Blockchain) HeaderByNumber(number types.BlockNumber) (*types.BlockHeader, error) {
	raw, err := bc.db.Get(headerKey(number))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrBlockNotFound, number)
	}
	if err != nil {
		return nil, err
	}
	var header types.BlockHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, err
	}
	return &header, nil
}
