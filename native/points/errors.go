package points

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrOnlyAdmin          = errors.New("points: caller is not an admin")
	ErrOnlyIssuer         = errors.New("points: caller is not an issuer")
	ErrLengthMismatch     = errors.New("points: array length mismatch")
	ErrReentrantCall      = errors.New("points: reentrant mutation of system in notification")
	ErrNegativeAmount     = errors.New("points: amount must be non-negative")
	ErrObserverRejected   = errors.New("points: observer rejected update")
	ErrInsufficientPoints = errors.New("points: insufficient balance")
)

// InsufficientPointsError reports a subtraction that would drive a balance
// negative. It matches ErrInsufficientPoints under errors.Is.
type InsufficientPointsError struct {
	SystemID  uint64
	User      [20]byte
	Available *big.Int
	Required  *big.Int
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("points: insufficient balance for system %d user %s: available %s, required %s",
		e.SystemID, hex.EncodeToString(e.User[:]), e.Available, e.Required)
}

func (e *InsufficientPointsError) Is(target error) bool {
	return target == ErrInsufficientPoints
}
