package points

import (
	"fmt"
	"math/big"
)

// AddPointsBatch credits several users within one system. The users and
// amounts sequences must have equal length. The batch is all-or-nothing.
func (l *Ledger) AddPointsBatch(caller [20]byte, systemID uint64, users [][20]byte, amounts []*big.Int) error {
	return l.batchMutate(caller, repeatSystemID(systemID, len(users)), users, amounts, true)
}

// SubtractPointsBatch debits several users within one system. The users and
// amounts sequences must have equal length. The batch is all-or-nothing: a
// single infeasible element leaves every balance untouched.
func (l *Ledger) SubtractPointsBatch(caller [20]byte, systemID uint64, users [][20]byte, amounts []*big.Int) error {
	return l.batchMutate(caller, repeatSystemID(systemID, len(users)), users, amounts, false)
}

// AddPointsBatchMultipleSystems credits users across systems. All three
// sequences must have equal length and the caller's role is checked per
// element against that element's system.
func (l *Ledger) AddPointsBatchMultipleSystems(caller [20]byte, systemIDs []uint64, users [][20]byte, amounts []*big.Int) error {
	if len(systemIDs) != len(users) {
		return ErrLengthMismatch
	}
	return l.batchMutate(caller, systemIDs, users, amounts, true)
}

// SubtractPointsBatchMultipleSystems debits users across systems with the
// same per-element authorization and all-or-nothing semantics.
func (l *Ledger) SubtractPointsBatchMultipleSystems(caller [20]byte, systemIDs []uint64, users [][20]byte, amounts []*big.Int) error {
	if len(systemIDs) != len(users) {
		return ErrLengthMismatch
	}
	return l.batchMutate(caller, systemIDs, users, amounts, false)
}

func repeatSystemID(systemID uint64, n int) []uint64 {
	ids := make([]uint64, n)
	for i := range ids {
		ids[i] = systemID
	}
	return ids
}

// batchMutate applies a batch with all-or-nothing semantics. The whole batch
// is validated before the first write: sequence lengths, per-element roles,
// non-negative amounts and cumulative subtraction feasibility. Observer
// behaviour cannot be pre-validated, so when an observer aborts a later
// element every already-applied element is rolled back.
func (l *Ledger) batchMutate(caller [20]byte, systemIDs []uint64, users [][20]byte, amounts []*big.Int, isAddition bool) error {
	if len(systemIDs) != len(users) || len(users) != len(amounts) {
		return ErrLengthMismatch
	}

	records := make(map[uint64]*SystemRecord)
	normalized := make([]*big.Int, len(amounts))
	for i := range systemIDs {
		if err := l.guard(systemIDs[i]); err != nil {
			return err
		}
		amount, err := normalizeAmount(amounts[i])
		if err != nil {
			return err
		}
		normalized[i] = amount
		rec, ok := records[systemIDs[i]]
		if !ok {
			loaded, found, err := l.system(systemIDs[i])
			if err != nil {
				return err
			}
			if !found {
				return ErrOnlyIssuer
			}
			records[systemIDs[i]] = loaded
			rec = loaded
		}
		if rec.RoleOf(caller) == RoleNone {
			return ErrOnlyIssuer
		}
	}

	if !isAddition {
		if err := l.checkBatchFeasibility(systemIDs, users, normalized); err != nil {
			return err
		}
	}

	applied := make([]*balanceUndo, 0, len(systemIDs))
	for i := range systemIDs {
		undo, err := l.applyMutation(records[systemIDs[i]], caller, users[i], normalized[i], isAddition)
		if err != nil {
			if undo != nil {
				applied = append(applied, undo)
			}
			if rbErr := l.rollback(applied); rbErr != nil {
				return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
			}
			return err
		}
		applied = append(applied, undo)
	}
	for _, undo := range applied {
		l.emit(undo.event)
	}
	return nil
}

// checkBatchFeasibility projects every subtraction in order against the
// stored balances and fails on the first element that would underflow,
// before anything is written.
func (l *Ledger) checkBatchFeasibility(systemIDs []uint64, users [][20]byte, amounts []*big.Int) error {
	projected := make(map[[32]byte]*big.Int)
	for i := range systemIDs {
		key := PointsKeyForUser(systemIDs[i], users[i])
		running, ok := projected[key]
		if !ok {
			stored, err := l.balance(systemIDs[i], users[i])
			if err != nil {
				return err
			}
			running = stored
		}
		if running.Cmp(amounts[i]) < 0 {
			return &InsufficientPointsError{
				SystemID:  systemIDs[i],
				User:      users[i],
				Available: cloneBigInt(running),
				Required:  cloneBigInt(amounts[i]),
			}
		}
		projected[key] = new(big.Int).Sub(running, amounts[i])
	}
	return nil
}
