package points

import (
	"fmt"
	"math/big"

	"pointsledger/core/events"
)

var zeroAddress [20]byte

// ledgerState describes the minimal functionality the ledger needs from the
// surrounding state implementation.
type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Ledger is the points accounting engine. It owns per-system balances, role
// sets, observer registrations and metadata, persisted through the provided
// state manager.
//
// Every operation is a single atomic step: role check, precondition check,
// mutation, notification, in that order. The ledger is not safe for
// concurrent use; the hosting runtime serialises calls, matching a
// single-threaded transaction processor.
type Ledger struct {
	st        ledgerState
	emitter   events.Emitter
	observers ObserverResolver
	inflight  map[uint64]struct{}
}

// NewLedger creates a ledger backed by the provided state manager.
func NewLedger(st ledgerState) *Ledger {
	return &Ledger{
		st:       st,
		emitter:  events.NoopEmitter{},
		inflight: make(map[uint64]struct{}),
	}
}

// SetEmitter configures the event emitter used to broadcast ledger updates.
// Passing nil resets the emitter to a no-op implementation.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetObserverResolver configures how stored observer addresses are resolved
// to callback implementations.
func (l *Ledger) SetObserverResolver(resolver ObserverResolver) {
	l.observers = resolver
}

func (l *Ledger) emit(event events.Event) {
	if l.emitter == nil {
		return
	}
	l.emitter.Emit(event)
}

// CreatePointSystem allocates the next sequential system id with the caller
// as sole admin. Ids start at 1 and are never reused.
func (l *Ledger) CreatePointSystem(caller [20]byte) (uint64, error) {
	next := uint64(1)
	if _, err := l.st.KVGet(systemCounterKey, &next); err != nil {
		return 0, err
	}
	rec := &SystemRecord{
		ID:     next,
		Admins: [][]byte{append([]byte(nil), caller[:]...)},
		Total:  big.NewInt(0),
	}
	if err := l.st.KVPut(systemKey(next), rec); err != nil {
		return 0, err
	}
	if err := l.st.KVPut(systemCounterKey, next+1); err != nil {
		return 0, err
	}
	l.emit(events.PointSystemCreated{SystemID: next, Creator: caller})
	return next, nil
}

// AddPoints credits the user's balance. The caller must hold the Issuer or
// Admin role on the system.
func (l *Ledger) AddPoints(caller [20]byte, systemID uint64, user [20]byte, points *big.Int) error {
	return l.mutatePoints(caller, systemID, user, points, true)
}

// SubtractPoints debits the user's balance. The caller must hold the Issuer
// or Admin role on the system. A debit exceeding the current balance fails
// with an InsufficientPointsError and leaves the balance unchanged.
func (l *Ledger) SubtractPoints(caller [20]byte, systemID uint64, user [20]byte, points *big.Int) error {
	return l.mutatePoints(caller, systemID, user, points, false)
}

func (l *Ledger) mutatePoints(caller [20]byte, systemID uint64, user [20]byte, points *big.Int, isAddition bool) error {
	if err := l.guard(systemID); err != nil {
		return err
	}
	amount, err := normalizeAmount(points)
	if err != nil {
		return err
	}
	rec, found, err := l.system(systemID)
	if err != nil {
		return err
	}
	if !found || rec.RoleOf(caller) == RoleNone {
		return ErrOnlyIssuer
	}
	undo, err := l.applyMutation(rec, caller, user, amount, isAddition)
	if err != nil {
		if undo != nil {
			if rbErr := l.rollback([]*balanceUndo{undo}); rbErr != nil {
				return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
			}
		}
		return err
	}
	l.emit(undo.event)
	return nil
}

type balanceUndo struct {
	rec         *SystemRecord
	user        [20]byte
	prevBalance *big.Int
	prevTotal   *big.Int

	// event is the emission deferred until the whole operation, batch
	// included, has succeeded. Rolled-back mutations never surface events.
	event events.Event
}

// applyMutation performs one balance change: write, total update, observer
// notification. When the observer rejects the update the state has already
// been written; the returned undo entry lets the caller restore it. The undo
// entry carries the event to emit once the full operation has succeeded.
func (l *Ledger) applyMutation(rec *SystemRecord, caller, user [20]byte, amount *big.Int, isAddition bool) (*balanceUndo, error) {
	prev, err := l.balance(rec.ID, user)
	if err != nil {
		return nil, err
	}
	var newBalance *big.Int
	if isAddition {
		newBalance = new(big.Int).Add(prev, amount)
	} else {
		if prev.Cmp(amount) < 0 {
			return nil, &InsufficientPointsError{
				SystemID:  rec.ID,
				User:      user,
				Available: cloneBigInt(prev),
				Required:  cloneBigInt(amount),
			}
		}
		newBalance = new(big.Int).Sub(prev, amount)
	}
	undo := &balanceUndo{
		rec:         rec,
		user:        user,
		prevBalance: cloneBigInt(prev),
		prevTotal:   cloneBigInt(rec.Total),
	}
	if isAddition {
		rec.Total = new(big.Int).Add(rec.Total, amount)
	} else {
		rec.Total = new(big.Int).Sub(rec.Total, amount)
	}
	if err := l.writeBalance(rec.ID, user, newBalance); err != nil {
		return nil, err
	}
	if err := l.st.KVPut(systemKey(rec.ID), rec); err != nil {
		return undo, err
	}
	if err := l.notify(rec, user, isAddition, amount, newBalance); err != nil {
		return undo, err
	}
	if isAddition {
		undo.event = events.PointsAdded{
			SystemID:   rec.ID,
			Caller:     caller,
			User:       user,
			Amount:     cloneBigInt(amount),
			NewBalance: cloneBigInt(newBalance),
			Total:      cloneBigInt(rec.Total),
		}
	} else {
		undo.event = events.PointsSubtracted{
			SystemID:   rec.ID,
			Caller:     caller,
			User:       user,
			Amount:     cloneBigInt(amount),
			NewBalance: cloneBigInt(newBalance),
			Total:      cloneBigInt(rec.Total),
		}
	}
	return undo, nil
}

// rollback restores balances and totals in reverse application order.
func (l *Ledger) rollback(entries []*balanceUndo) error {
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if err := l.writeBalance(entry.rec.ID, entry.user, entry.prevBalance); err != nil {
			return err
		}
		entry.rec.Total = cloneBigInt(entry.prevTotal)
		if err := l.st.KVPut(systemKey(entry.rec.ID), entry.rec); err != nil {
			return err
		}
	}
	return nil
}

// notify invokes the system's observer, if one is registered and resolvable.
// The system is marked in-flight for the duration of the callback so
// reentrant mutations are rejected instead of corrupting state.
func (l *Ledger) notify(rec *SystemRecord, user [20]byte, isAddition bool, change, newBalance *big.Int) error {
	addr, ok := rec.ObserverAddress()
	if !ok || l.observers == nil {
		return nil
	}
	obs, ok := l.observers.Resolve(addr)
	if !ok {
		return nil
	}
	l.inflight[rec.ID] = struct{}{}
	defer delete(l.inflight, rec.ID)
	if err := obs.OnPointsUpdate(rec.ID, user, isAddition, cloneBigInt(change), cloneBigInt(newBalance)); err != nil {
		return fmt.Errorf("%w: %v", ErrObserverRejected, err)
	}
	return nil
}

func (l *Ledger) guard(systemID uint64) error {
	if _, busy := l.inflight[systemID]; busy {
		return ErrReentrantCall
	}
	return nil
}

func normalizeAmount(points *big.Int) (*big.Int, error) {
	if points == nil {
		return big.NewInt(0), nil
	}
	if points.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	return new(big.Int).Set(points), nil
}

func (l *Ledger) system(systemID uint64) (*SystemRecord, bool, error) {
	rec := new(SystemRecord)
	found, err := l.st.KVGet(systemKey(systemID), rec)
	if err != nil || !found {
		return nil, false, err
	}
	if rec.Total == nil {
		rec.Total = big.NewInt(0)
	}
	return rec, true, nil
}

func (l *Ledger) balance(systemID uint64, user [20]byte) (*big.Int, error) {
	amount := new(big.Int)
	found, err := l.st.KVGet(balanceKeyPreimage(systemID, user), amount)
	if err != nil {
		return nil, err
	}
	if !found {
		return big.NewInt(0), nil
	}
	return amount, nil
}

func (l *Ledger) writeBalance(systemID uint64, user [20]byte, amount *big.Int) error {
	return l.st.KVPut(balanceKeyPreimage(systemID, user), amount)
}

// --- Read accessors ---

// Points returns the user's balance. Unknown systems and users yield zero.
func (l *Ledger) Points(systemID uint64, user [20]byte) (*big.Int, error) {
	return l.balance(systemID, user)
}

// TotalPoints returns the sum of all balances within the system. Unknown
// systems yield zero.
func (l *Ledger) TotalPoints(systemID uint64) (*big.Int, error) {
	rec, found, err := l.system(systemID)
	if err != nil || !found {
		return big.NewInt(0), err
	}
	return cloneBigInt(rec.Total), nil
}

// Role derives the caller-facing role of an address within the system.
func (l *Ledger) Role(systemID uint64, user [20]byte) (Role, error) {
	rec, found, err := l.system(systemID)
	if err != nil || !found {
		return RoleNone, err
	}
	return rec.RoleOf(user), nil
}

// Observer returns the registered observer address for the system. The
// boolean reports whether one is set.
func (l *Ledger) Observer(systemID uint64) ([20]byte, bool, error) {
	rec, found, err := l.system(systemID)
	if err != nil || !found {
		return zeroAddress, false, err
	}
	addr, ok := rec.ObserverAddress()
	return addr, ok, nil
}

// URI returns the system's metadata URI, empty when unset or unknown.
func (l *Ledger) URI(systemID uint64) (string, error) {
	rec, found, err := l.system(systemID)
	if err != nil || !found {
		return "", err
	}
	return rec.URI, nil
}

// --- Admin-gated management ---

// adminSystem loads the record and authorises the caller for an admin-only
// operation.
func (l *Ledger) adminSystem(caller [20]byte, systemID uint64) (*SystemRecord, error) {
	if err := l.guard(systemID); err != nil {
		return nil, err
	}
	rec, found, err := l.system(systemID)
	if err != nil {
		return nil, err
	}
	if !found || rec.RoleOf(caller) != RoleAdmin {
		return nil, ErrOnlyAdmin
	}
	return rec, nil
}

// AddAdmin adds the address to the system's admin set. Adding an existing
// admin is a no-op.
func (l *Ledger) AddAdmin(caller [20]byte, systemID uint64, addr [20]byte) error {
	rec, err := l.adminSystem(caller, systemID)
	if err != nil {
		return err
	}
	admins, changed := addMember(rec.Admins, addr)
	if !changed {
		return nil
	}
	rec.Admins = admins
	if err := l.st.KVPut(systemKey(systemID), rec); err != nil {
		return err
	}
	l.emit(events.NewAdminAdded(systemID, caller, addr))
	return nil
}

// RemoveAdmin removes the address from the system's admin set. Removing a
// non-admin is a no-op. Removing the last admin is permitted and leaves the
// system frozen for role-gated operations.
func (l *Ledger) RemoveAdmin(caller [20]byte, systemID uint64, addr [20]byte) error {
	rec, err := l.adminSystem(caller, systemID)
	if err != nil {
		return err
	}
	admins, changed := removeMember(rec.Admins, addr)
	if !changed {
		return nil
	}
	rec.Admins = admins
	if err := l.st.KVPut(systemKey(systemID), rec); err != nil {
		return err
	}
	l.emit(events.NewAdminRemoved(systemID, caller, addr))
	return nil
}

// AddIssuer adds the address to the system's issuer set. Adding an existing
// issuer is a no-op.
func (l *Ledger) AddIssuer(caller [20]byte, systemID uint64, addr [20]byte) error {
	rec, err := l.adminSystem(caller, systemID)
	if err != nil {
		return err
	}
	issuers, changed := addMember(rec.Issuers, addr)
	if !changed {
		return nil
	}
	rec.Issuers = issuers
	if err := l.st.KVPut(systemKey(systemID), rec); err != nil {
		return err
	}
	l.emit(events.NewIssuerAdded(systemID, caller, addr))
	return nil
}

// RemoveIssuer removes the address from the system's issuer set. Removing a
// non-issuer is a no-op.
func (l *Ledger) RemoveIssuer(caller [20]byte, systemID uint64, addr [20]byte) error {
	rec, err := l.adminSystem(caller, systemID)
	if err != nil {
		return err
	}
	issuers, changed := removeMember(rec.Issuers, addr)
	if !changed {
		return nil
	}
	rec.Issuers = issuers
	if err := l.st.KVPut(systemKey(systemID), rec); err != nil {
		return err
	}
	l.emit(events.NewIssuerRemoved(systemID, caller, addr))
	return nil
}

// SetObserver replaces the system's observer registration. The zero address
// clears it. A system holds at most one observer at a time.
func (l *Ledger) SetObserver(caller [20]byte, systemID uint64, observer [20]byte) error {
	rec, err := l.adminSystem(caller, systemID)
	if err != nil {
		return err
	}
	if observer == zeroAddress {
		rec.Observer = nil
	} else {
		rec.Observer = append([]byte(nil), observer[:]...)
	}
	if err := l.st.KVPut(systemKey(systemID), rec); err != nil {
		return err
	}
	l.emit(events.PointsObserverSet{SystemID: systemID, Caller: caller, Observer: observer})
	return nil
}

// SetURI replaces the system's metadata URI.
func (l *Ledger) SetURI(caller [20]byte, systemID uint64, uri string) error {
	rec, err := l.adminSystem(caller, systemID)
	if err != nil {
		return err
	}
	rec.URI = uri
	if err := l.st.KVPut(systemKey(systemID), rec); err != nil {
		return err
	}
	l.emit(events.PointsURIUpdated{SystemID: systemID, Caller: caller, URI: uri})
	return nil
}
