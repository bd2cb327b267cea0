package state

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"pointsledger/storage"
)

// Manager provides a minimal interface for reading and writing ledger state.
// Keys are hashed with keccak256 before hitting the backing store and values
// are RLP encoded, so the on-disk layout is independent of key length and
// value shape.
//
// Manager is not safe for concurrent use; callers are expected to serialise
// operations, matching the single-threaded execution model of the ledger.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// KVKey returns the hashed storage key for the provided logical key. It is
// exposed so callers can reference the exact location a value is stored
// under (e.g. the per-user points key).
func KVKey(key []byte) [32]byte {
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(key))
	return out
}

// KVPut stores the provided value under the supplied key using RLP encoding.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	hashed := KVKey(key)
	return m.db.Put(hashed[:], encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	hashed := KVKey(key)
	data, err := m.db.Get(hashed[:])
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVHas reports whether the supplied key exists in state without decoding
// the stored value.
func (m *Manager) KVHas(key []byte) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	hashed := KVKey(key)
	return m.db.Has(hashed[:])
}
