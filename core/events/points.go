package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"pointsledger/core/types"
)

const (
	// TypePointSystemCreated is emitted when a new point system is
	// allocated.
	TypePointSystemCreated = "points.system.created"
	// TypePointsAdded is emitted after a successful balance increase.
	TypePointsAdded = "points.added"
	// TypePointsSubtracted is emitted after a successful balance decrease.
	TypePointsSubtracted = "points.subtracted"
	// TypePointsAdminAdded is emitted when an address joins a system's
	// admin set.
	TypePointsAdminAdded = "points.admin.added"
	// TypePointsAdminRemoved is emitted when an address leaves a system's
	// admin set.
	TypePointsAdminRemoved = "points.admin.removed"
	// TypePointsIssuerAdded is emitted when an address joins a system's
	// issuer set.
	TypePointsIssuerAdded = "points.issuer.added"
	// TypePointsIssuerRemoved is emitted when an address leaves a system's
	// issuer set.
	TypePointsIssuerRemoved = "points.issuer.removed"
	// TypePointsObserverSet is emitted when a system's observer is replaced
	// or cleared.
	TypePointsObserverSet = "points.observer.set"
	// TypePointsURIUpdated is emitted when a system's metadata URI changes.
	TypePointsURIUpdated = "points.uri.updated"
)

func addressAttr(addr [20]byte) string {
	return "0x" + common.Bytes2Hex(addr[:])
}

func amountAttr(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// PointSystemCreated captures the allocation of a fresh point system.
type PointSystemCreated struct {
	SystemID uint64
	Creator  [20]byte
}

// EventType implements the Event interface.
func (PointSystemCreated) EventType() string { return TypePointSystemCreated }

// Event converts the creation record to the generic event payload.
func (e PointSystemCreated) Event() *types.Event {
	return &types.Event{
		Type: TypePointSystemCreated,
		Attributes: map[string]string{
			"systemId": strconv.FormatUint(e.SystemID, 10),
			"creator":  addressAttr(e.Creator),
		},
	}
}

// PointsAdded captures a successful balance increase.
type PointsAdded struct {
	SystemID   uint64
	Caller     [20]byte
	User       [20]byte
	Amount     *big.Int
	NewBalance *big.Int
	Total      *big.Int
}

// EventType implements the Event interface.
func (PointsAdded) EventType() string { return TypePointsAdded }

// Event converts the mutation record to the generic event payload.
func (e PointsAdded) Event() *types.Event {
	return &types.Event{
		Type: TypePointsAdded,
		Attributes: map[string]string{
			"systemId":   strconv.FormatUint(e.SystemID, 10),
			"caller":     addressAttr(e.Caller),
			"user":       addressAttr(e.User),
			"amount":     amountAttr(e.Amount),
			"newBalance": amountAttr(e.NewBalance),
			"total":      amountAttr(e.Total),
		},
	}
}

// PointsSubtracted captures a successful balance decrease.
type PointsSubtracted struct {
	SystemID   uint64
	Caller     [20]byte
	User       [20]byte
	Amount     *big.Int
	NewBalance *big.Int
	Total      *big.Int
}

// EventType implements the Event interface.
func (PointsSubtracted) EventType() string { return TypePointsSubtracted }

// Event converts the mutation record to the generic event payload.
func (e PointsSubtracted) Event() *types.Event {
	return &types.Event{
		Type: TypePointsSubtracted,
		Attributes: map[string]string{
			"systemId":   strconv.FormatUint(e.SystemID, 10),
			"caller":     addressAttr(e.Caller),
			"user":       addressAttr(e.User),
			"amount":     amountAttr(e.Amount),
			"newBalance": amountAttr(e.NewBalance),
			"total":      amountAttr(e.Total),
		},
	}
}

// PointsRoleChanged captures an admin or issuer set mutation. The concrete
// event type distinguishes the four add/remove combinations.
type PointsRoleChanged struct {
	kind     string
	SystemID uint64
	Caller   [20]byte
	Target   [20]byte
}

// NewAdminAdded builds the admin-added role event.
func NewAdminAdded(systemID uint64, caller, target [20]byte) PointsRoleChanged {
	return PointsRoleChanged{kind: TypePointsAdminAdded, SystemID: systemID, Caller: caller, Target: target}
}

// NewAdminRemoved builds the admin-removed role event.
func NewAdminRemoved(systemID uint64, caller, target [20]byte) PointsRoleChanged {
	return PointsRoleChanged{kind: TypePointsAdminRemoved, SystemID: systemID, Caller: caller, Target: target}
}

// NewIssuerAdded builds the issuer-added role event.
func NewIssuerAdded(systemID uint64, caller, target [20]byte) PointsRoleChanged {
	return PointsRoleChanged{kind: TypePointsIssuerAdded, SystemID: systemID, Caller: caller, Target: target}
}

// NewIssuerRemoved builds the issuer-removed role event.
func NewIssuerRemoved(systemID uint64, caller, target [20]byte) PointsRoleChanged {
	return PointsRoleChanged{kind: TypePointsIssuerRemoved, SystemID: systemID, Caller: caller, Target: target}
}

// EventType implements the Event interface.
func (e PointsRoleChanged) EventType() string { return e.kind }

// Event converts the role mutation to the generic event payload.
func (e PointsRoleChanged) Event() *types.Event {
	return &types.Event{
		Type: e.kind,
		Attributes: map[string]string{
			"systemId": strconv.FormatUint(e.SystemID, 10),
			"caller":   addressAttr(e.Caller),
			"target":   addressAttr(e.Target),
		},
	}
}

// PointsObserverSet captures the observer replacement for a point system. A
// zero observer address clears the registration.
type PointsObserverSet struct {
	SystemID uint64
	Caller   [20]byte
	Observer [20]byte
}

// EventType implements the Event interface.
func (PointsObserverSet) EventType() string { return TypePointsObserverSet }

// Event converts the observer change to the generic event payload.
func (e PointsObserverSet) Event() *types.Event {
	return &types.Event{
		Type: TypePointsObserverSet,
		Attributes: map[string]string{
			"systemId": strconv.FormatUint(e.SystemID, 10),
			"caller":   addressAttr(e.Caller),
			"observer": addressAttr(e.Observer),
		},
	}
}

// PointsURIUpdated captures a metadata URI change for a point system.
type PointsURIUpdated struct {
	SystemID uint64
	Caller   [20]byte
	URI      string
}

// EventType implements the Event interface.
func (PointsURIUpdated) EventType() string { return TypePointsURIUpdated }

// Event converts the URI change to the generic event payload.
func (e PointsURIUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypePointsURIUpdated,
		Attributes: map[string]string{
			"systemId": strconv.FormatUint(e.SystemID, 10),
			"caller":   addressAttr(e.Caller),
			"uri":      e.URI,
		},
	}
}
