package points

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"sort"
)

// Role describes the authority an address holds within a point system. Roles
// are derived from set membership on read; they are never stored per user.
type Role uint8

const (
	// RoleNone marks an address with no authority over a system.
	RoleNone Role = iota
	// RoleAdmin marks a member of the system's admin set. Admins hold
	// issuer rights plus role, observer and metadata management.
	RoleAdmin
	// RoleIssuer marks a member of the system's issuer set.
	RoleIssuer
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleIssuer:
		return "issuer"
	default:
		return "none"
	}
}

// SystemRecord is the persisted form of a point system: its role sets,
// observer registration, metadata URI and running total supply. Balances live
// under their own per-user keys, see PointsKeyForUser.
type SystemRecord struct {
	ID       uint64
	Admins   [][]byte
	Issuers  [][]byte
	Observer []byte
	URI      string
	Total    *big.Int
}

// RoleOf derives the role of the provided address. Admin membership takes
// precedence over issuer membership.
func (r *SystemRecord) RoleOf(addr [20]byte) Role {
	if r == nil {
		return RoleNone
	}
	if containsMember(r.Admins, addr) {
		return RoleAdmin
	}
	if containsMember(r.Issuers, addr) {
		return RoleIssuer
	}
	return RoleNone
}

// ObserverAddress returns the registered observer, if any.
func (r *SystemRecord) ObserverAddress() ([20]byte, bool) {
	var out [20]byte
	if r == nil || len(r.Observer) != 20 {
		return out, false
	}
	copy(out[:], r.Observer)
	return out, true
}

func containsMember(set [][]byte, addr [20]byte) bool {
	for _, member := range set {
		if bytes.Equal(member, addr[:]) {
			return true
		}
	}
	return false
}

// addMember inserts the address into the set, keeping it sorted for
// deterministic encoding. The boolean reports whether the set changed.
func addMember(set [][]byte, addr [20]byte) ([][]byte, bool) {
	if containsMember(set, addr) {
		return set, false
	}
	set = append(set, append([]byte(nil), addr[:]...))
	sort.Slice(set, func(i, j int) bool {
		return hex.EncodeToString(set[i]) < hex.EncodeToString(set[j])
	})
	return set, true
}

// removeMember deletes the address from the set. The boolean reports whether
// the set changed.
func removeMember(set [][]byte, addr [20]byte) ([][]byte, bool) {
	for i, member := range set {
		if bytes.Equal(member, addr[:]) {
			return append(set[:i], set[i+1:]...), true
		}
	}
	return set, false
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
