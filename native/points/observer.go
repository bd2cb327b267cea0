package points

import "math/big"

// Observer receives a synchronous callback after every successful balance
// mutation on a system it is registered for. The callback runs with ledger
// state already updated; returning an error aborts and rolls back the
// triggering mutation.
type Observer interface {
	OnPointsUpdate(systemID uint64, user [20]byte, isAddition bool, change, newBalance *big.Int) error
}

// ObserverResolver maps a registered observer address to its implementation.
// Addresses with no resolvable handler are treated as absent observers.
type ObserverResolver interface {
	Resolve(addr [20]byte) (Observer, bool)
}

// ObserverRegistry is a map-backed ObserverResolver for in-process observer
// handlers.
type ObserverRegistry struct {
	handlers map[[20]byte]Observer
}

// NewObserverRegistry creates an empty registry.
func NewObserverRegistry() *ObserverRegistry {
	return &ObserverRegistry{handlers: make(map[[20]byte]Observer)}
}

// Register binds an observer implementation to an address. A nil observer
// removes the binding.
func (r *ObserverRegistry) Register(addr [20]byte, obs Observer) {
	if obs == nil {
		delete(r.handlers, addr)
		return
	}
	r.handlers[addr] = obs
}

// Resolve implements the ObserverResolver interface.
func (r *ObserverRegistry) Resolve(addr [20]byte) (Observer, bool) {
	if r == nil {
		return nil, false
	}
	obs, ok := r.handlers[addr]
	return obs, ok
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(systemID uint64, user [20]byte, isAddition bool, change, newBalance *big.Int) error

// OnPointsUpdate implements the Observer interface.
func (f ObserverFunc) OnPointsUpdate(systemID uint64, user [20]byte, isAddition bool, change, newBalance *big.Int) error {
	return f(systemID, user, isAddition, change, newBalance)
}
