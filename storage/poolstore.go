package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"poolbase/native/pool"
)

var poolKeyPrefix = []byte("pool:")

// PoolStore persists RLP-encoded ledger snapshots keyed by pool
// address, so a restarted daemon can rehydrate its engines.
type PoolStore struct {
	db Database
}

func NewPoolStore(db Database) *PoolStore {
	return &PoolStore{db: db}
}

func poolKey(id common.Address) []byte {
	return append(append([]byte(nil), poolKeyPrefix...), id[:]...)
}

// Save writes the snapshot, replacing any previous one for the pool.
func (s *PoolStore) Save(id common.Address, snap *pool.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("storage: nil snapshot for pool %s", id.Hex())
	}
	encoded, err := rlp.EncodeToBytes(snap)
	if err != nil {
		return fmt.Errorf("storage: encode pool %s: %w", id.Hex(), err)
	}
	return s.db.Put(poolKey(id), encoded)
}

// Load reads a snapshot back. Missing pools report ErrNotFound.
func (s *PoolStore) Load(id common.Address) (*pool.Snapshot, error) {
	encoded, err := s.db.Get(poolKey(id))
	if err != nil {
		return nil, err
	}
	snap := new(pool.Snapshot)
	if err := rlp.DecodeBytes(encoded, snap); err != nil {
		return nil, fmt.Errorf("storage: decode pool %s: %w", id.Hex(), err)
	}
	return snap, nil
}

// Has reports whether a snapshot exists for the pool.
func (s *PoolStore) Has(id common.Address) (bool, error) {
	return s.db.Has(poolKey(id))
}

// Delete removes a pool's snapshot.
func (s *PoolStore) Delete(id common.Address) error {
	return s.db.Delete(poolKey(id))
}
