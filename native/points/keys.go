package points

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	systemCounterKey = []byte("points:next-system-id")
	systemPrefix     = []byte("points:system:")
	balancePrefix    = []byte("points:balance:")
)

func systemKey(systemID uint64) []byte {
	buf := make([]byte, len(systemPrefix)+8)
	copy(buf, systemPrefix)
	binary.BigEndian.PutUint64(buf[len(systemPrefix):], systemID)
	return buf
}

func balanceKeyPreimage(systemID uint64, user [20]byte) []byte {
	buf := make([]byte, len(balancePrefix)+8+20)
	copy(buf, balancePrefix)
	binary.BigEndian.PutUint64(buf[len(balancePrefix):], systemID)
	copy(buf[len(balancePrefix)+8:], user[:])
	return buf
}

// PointsKeyForUser derives the fixed-size lookup key for a (system, user)
// balance. The state manager hashes logical keys with keccak256 before
// storage, so the returned hash is the exact location the balance is stored
// under. The derivation is pure and collision-resistant across the whole
// (systemID, user) space.
func PointsKeyForUser(systemID uint64, user [20]byte) [32]byte {
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(balanceKeyPreimage(systemID, user)))
	return out
}
