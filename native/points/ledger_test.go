package points

import (
	"errors"
	"math/big"
	"testing"

	"pointsledger/core/events"
	"pointsledger/core/state"
	"pointsledger/storage"
)

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(e events.Event) {
	c.events = append(c.events, e)
}

func testAddr(b byte) [20]byte {
	var addr [20]byte
	addr[19] = b
	return addr
}

func newTestLedger(t *testing.T) (*Ledger, *capturingEmitter) {
	t.Helper()
	ledger := NewLedger(state.NewManager(storage.NewMemDB()))
	emitter := &capturingEmitter{}
	ledger.SetEmitter(emitter)
	return ledger, emitter
}

func mustCreateSystem(t *testing.T, l *Ledger, creator [20]byte) uint64 {
	t.Helper()
	id, err := l.CreatePointSystem(creator)
	if err != nil {
		t.Fatalf("create system: %v", err)
	}
	return id
}

func mustBalance(t *testing.T, l *Ledger, systemID uint64, user [20]byte) *big.Int {
	t.Helper()
	balance, err := l.Points(systemID, user)
	if err != nil {
		t.Fatalf("points: %v", err)
	}
	return balance
}

func TestCreatePointSystemSequentialIDs(t *testing.T) {
	ledger, emitter := newTestLedger(t)
	creator := testAddr(1)

	for want := uint64(1); want <= 3; want++ {
		got, err := ledger.CreatePointSystem(creator)
		if err != nil {
			t.Fatalf("create system %d: %v", want, err)
		}
		if got != want {
			t.Fatalf("system id = %d, want %d", got, want)
		}
	}
	if len(emitter.events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(emitter.events))
	}
	created, ok := emitter.events[0].(events.PointSystemCreated)
	if !ok {
		t.Fatalf("unexpected event type %T", emitter.events[0])
	}
	if created.SystemID != 1 || created.Creator != creator {
		t.Fatalf("unexpected creation event: %+v", created)
	}
}

func TestCreatorIsSoleAdmin(t *testing.T) {
	ledger, _ := newTestLedger(t)
	creator := testAddr(1)
	stranger := testAddr(2)
	id := mustCreateSystem(t, ledger, creator)

	role, err := ledger.Role(id, creator)
	if err != nil {
		t.Fatalf("role: %v", err)
	}
	if role != RoleAdmin {
		t.Fatalf("creator role = %v, want admin", role)
	}
	role, err = ledger.Role(id, stranger)
	if err != nil {
		t.Fatalf("role: %v", err)
	}
	if role != RoleNone {
		t.Fatalf("stranger role = %v, want none", role)
	}
}

func TestAdminPrecedesIssuer(t *testing.T) {
	ledger, _ := newTestLedger(t)
	admin := testAddr(1)
	both := testAddr(2)
	id := mustCreateSystem(t, ledger, admin)

	if err := ledger.AddIssuer(admin, id, both); err != nil {
		t.Fatalf("add issuer: %v", err)
	}
	if err := ledger.AddAdmin(admin, id, both); err != nil {
		t.Fatalf("add admin: %v", err)
	}
	role, err := ledger.Role(id, both)
	if err != nil {
		t.Fatalf("role: %v", err)
	}
	if role != RoleAdmin {
		t.Fatalf("role = %v, want admin precedence", role)
	}
}

func TestAddAndSubtractPoints(t *testing.T) {
	ledger, emitter := newTestLedger(t)
	admin := testAddr(1)
	user := testAddr(2)
	id := mustCreateSystem(t, ledger, admin)

	if err := ledger.AddPoints(admin, id, user, big.NewInt(100)); err != nil {
		t.Fatalf("add points: %v", err)
	}
	if err := ledger.SubtractPoints(admin, id, user, big.NewInt(30)); err != nil {
		t.Fatalf("subtract points: %v", err)
	}

	if got := mustBalance(t, ledger, id, user); got.Cmp(big.NewInt(70)) != 0 {
		t.Fatalf("balance = %s, want 70", got)
	}
	total, err := ledger.TotalPoints(id)
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if total.Cmp(big.NewInt(70)) != 0 {
		t.Fatalf("total = %s, want 70", total)
	}

	added, ok := emitter.events[1].(events.PointsAdded)
	if !ok {
		t.Fatalf("unexpected event type %T", emitter.events[1])
	}
	if added.Amount.Cmp(big.NewInt(100)) != 0 || added.NewBalance.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected add event: %+v", added)
	}
	subtracted, ok := emitter.events[2].(events.PointsSubtracted)
	if !ok {
		t.Fatalf("unexpected event type %T", emitter.events[2])
	}
	if subtracted.NewBalance.Cmp(big.NewInt(70)) != 0 || subtracted.Total.Cmp(big.NewInt(70)) != 0 {
		t.Fatalf("unexpected subtract event: %+v", subtracted)
	}
}

func TestTotalTracksSumOfBalances(t *testing.T) {
	ledger, _ := newTestLedger(t)
	admin := testAddr(1)
	id := mustCreateSystem(t, ledger, admin)

	users := [][20]byte{testAddr(10), testAddr(11), testAddr(12)}
	amounts := []int64{5, 40, 55}
	sum := big.NewInt(0)
	for i, user := range users {
		if err := ledger.AddPoints(admin, id, user, big.NewInt(amounts[i])); err != nil {
			t.Fatalf("add points: %v", err)
		}
		sum.Add(sum, big.NewInt(amounts[i]))
	}
	if err := ledger.SubtractPoints(admin, id, users[1], big.NewInt(15)); err != nil {
		t.Fatalf("subtract points: %v", err)
	}
	sum.Sub(sum, big.NewInt(15))

	total, err := ledger.TotalPoints(id)
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	check := big.NewInt(0)
	for _, user := range users {
		check.Add(check, mustBalance(t, ledger, id, user))
	}
	if total.Cmp(sum) != 0 || total.Cmp(check) != 0 {
		t.Fatalf("total = %s, want %s (sum of balances %s)", total, sum, check)
	}
}

func TestSubtractInsufficientBalance(t *testing.T) {
	ledger, emitter := newTestLedger(t)
	admin := testAddr(1)
	user := testAddr(2)
	id := mustCreateSystem(t, ledger, admin)

	if err := ledger.AddPoints(admin, id, user, big.NewInt(10)); err != nil {
		t.Fatalf("add points: %v", err)
	}
	before := len(emitter.events)

	err := ledger.SubtractPoints(admin, id, user, big.NewInt(11))
	if !errors.Is(err, ErrInsufficientPoints) {
		t.Fatalf("err = %v, want ErrInsufficientPoints", err)
	}
	var insufficient *InsufficientPointsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %v, want *InsufficientPointsError", err)
	}
	if insufficient.Available.Cmp(big.NewInt(10)) != 0 || insufficient.Required.Cmp(big.NewInt(11)) != 0 {
		t.Fatalf("unexpected error detail: %+v", insufficient)
	}
	if got := mustBalance(t, ledger, id, user); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("balance changed on failed subtract: %s", got)
	}
	total, err := ledger.TotalPoints(id)
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if total.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("total changed on failed subtract: %s", total)
	}
	if len(emitter.events) != before {
		t.Fatalf("failed subtract emitted an event")
	}
}

func TestMutationRequiresRole(t *testing.T) {
	ledger, _ := newTestLedger(t)
	admin := testAddr(1)
	issuer := testAddr(2)
	stranger := testAddr(3)
	user := testAddr(4)
	id := mustCreateSystem(t, ledger, admin)

	if err := ledger.AddPoints(stranger, id, user, big.NewInt(1)); !errors.Is(err, ErrOnlyIssuer) {
		t.Fatalf("stranger add err = %v, want ErrOnlyIssuer", err)
	}
	if err := ledger.AddIssuer(admin, id, issuer); err != nil {
		t.Fatalf("add issuer: %v", err)
	}
	if err := ledger.AddPoints(issuer, id, user, big.NewInt(5)); err != nil {
		t.Fatalf("issuer add: %v", err)
	}
	// Issuers cannot manage roles.
	if err := ledger.AddIssuer(issuer, id, stranger); !errors.Is(err, ErrOnlyAdmin) {
		t.Fatalf("issuer role change err = %v, want ErrOnlyAdmin", err)
	}
	// Unknown systems reject every mutation.
	if err := ledger.AddPoints(admin, 999, user, big.NewInt(1)); !errors.Is(err, ErrOnlyIssuer) {
		t.Fatalf("unknown system err = %v, want ErrOnlyIssuer", err)
	}
}

func TestNegativeAmountRejected(t *testing.T) {
	ledger, _ := newTestLedger(t)
	admin := testAddr(1)
	id := mustCreateSystem(t, ledger, admin)

	if err := ledger.AddPoints(admin, id, testAddr(2), big.NewInt(-1)); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("err = %v, want ErrNegativeAmount", err)
	}
}

func TestNilAmountTreatedAsZero(t *testing.T) {
	ledger, _ := newTestLedger(t)
	admin := testAddr(1)
	user := testAddr(2)
	id := mustCreateSystem(t, ledger, admin)

	if err := ledger.AddPoints(admin, id, user, nil); err != nil {
		t.Fatalf("nil add: %v", err)
	}
	if got := mustBalance(t, ledger, id, user); got.Sign() != 0 {
		t.Fatalf("balance = %s, want 0", got)
	}
}

func TestObserverReceivesUpdate(t *testing.T) {
	ledger, _ := newTestLedger(t)
	admin := testAddr(1)
	user := testAddr(2)
	observerAddr := testAddr(9)
	id := mustCreateSystem(t, ledger, admin)

	type update struct {
		systemID   uint64
		user       [20]byte
		isAddition bool
		change     *big.Int
		newBalance *big.Int
	}
	var got []update
	registry := NewObserverRegistry()
	registry.Register(observerAddr, ObserverFunc(func(systemID uint64, user [20]byte, isAddition bool, change, newBalance *big.Int) error {
		got = append(got, update{systemID, user, isAddition, change, newBalance})
		return nil
	}))
	ledger.SetObserverResolver(registry)

	if err := ledger.SetObserver(admin, id, observerAddr); err != nil {
		t.Fatalf("set observer: %v", err)
	}
	if err := ledger.AddPoints(admin, id, user, big.NewInt(10)); err != nil {
		t.Fatalf("add points: %v", err)
	}
	if err := ledger.SubtractPoints(admin, id, user, big.NewInt(4)); err != nil {
		t.Fatalf("subtract points: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("observer called %d times, want 2", len(got))
	}
	first := got[0]
	if first.systemID != id || first.user != user || !first.isAddition {
		t.Fatalf("unexpected first update: %+v", first)
	}
	if first.change.Cmp(big.NewInt(10)) != 0 || first.newBalance.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("unexpected first update amounts: %+v", first)
	}
	second := got[1]
	if second.isAddition || second.change.Cmp(big.NewInt(4)) != 0 || second.newBalance.Cmp(big.NewInt(6)) != 0 {
		t.Fatalf("unexpected second update: %+v", second)
	}
}

func TestObserverFailureRollsBackMutation(t *testing.T) {
	ledger, emitter := newTestLedger(t)
	admin := testAddr(1)
	user := testAddr(2)
	observerAddr := testAddr(9)
	id := mustCreateSystem(t, ledger, admin)

	if err := ledger.AddPoints(admin, id, user, big.NewInt(50)); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	registry := NewObserverRegistry()
	registry.Register(observerAddr, ObserverFunc(func(uint64, [20]byte, bool, *big.Int, *big.Int) error {
		return errors.New("downstream rejected")
	}))
	ledger.SetObserverResolver(registry)
	if err := ledger.SetObserver(admin, id, observerAddr); err != nil {
		t.Fatalf("set observer: %v", err)
	}
	before := len(emitter.events)

	err := ledger.AddPoints(admin, id, user, big.NewInt(10))
	if !errors.Is(err, ErrObserverRejected) {
		t.Fatalf("err = %v, want ErrObserverRejected", err)
	}
	if got := mustBalance(t, ledger, id, user); got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("balance = %s, want 50 after rollback", got)
	}
	total, err := ledger.TotalPoints(id)
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if total.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("total = %s, want 50 after rollback", total)
	}
	if len(emitter.events) != before {
		t.Fatalf("aborted mutation emitted an event")
	}
}

func TestReentrantMutationRejected(t *testing.T) {
	ledger, _ := newTestLedger(t)
	admin := testAddr(1)
	user := testAddr(2)
	observerAddr := testAddr(9)
	id := mustCreateSystem(t, ledger, admin)

	var inner error
	registry := NewObserverRegistry()
	registry.Register(observerAddr, ObserverFunc(func(systemID uint64, _ [20]byte, _ bool, _, _ *big.Int) error {
		inner = ledger.AddPoints(admin, systemID, user, big.NewInt(1))
		return inner
	}))
	ledger.SetObserverResolver(registry)
	if err := ledger.SetObserver(admin, id, observerAddr); err != nil {
		t.Fatalf("set observer: %v", err)
	}

	err := ledger.AddPoints(admin, id, user, big.NewInt(10))
	if !errors.Is(inner, ErrReentrantCall) {
		t.Fatalf("inner err = %v, want ErrReentrantCall", inner)
	}
	if !errors.Is(err, ErrObserverRejected) {
		t.Fatalf("outer err = %v, want ErrObserverRejected", err)
	}
	if got := mustBalance(t, ledger, id, user); got.Sign() != 0 {
		t.Fatalf("balance = %s, want 0 after rejected reentrancy", got)
	}
}

func TestObserverMayMutateOtherSystems(t *testing.T) {
	ledger, _ := newTestLedger(t)
	admin := testAddr(1)
	user := testAddr(2)
	observerAddr := testAddr(9)
	watched := mustCreateSystem(t, ledger, admin)
	other := mustCreateSystem(t, ledger, admin)

	registry := NewObserverRegistry()
	registry.Register(observerAddr, ObserverFunc(func(_ uint64, user [20]byte, _ bool, change, _ *big.Int) error {
		return ledger.AddPoints(admin, other, user, change)
	}))
	ledger.SetObserverResolver(registry)
	if err := ledger.SetObserver(admin, watched, observerAddr); err != nil {
		t.Fatalf("set observer: %v", err)
	}

	if err := ledger.AddPoints(admin, watched, user, big.NewInt(7)); err != nil {
		t.Fatalf("add points: %v", err)
	}
	if got := mustBalance(t, ledger, other, user); got.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("mirrored balance = %s, want 7", got)
	}
}

func TestRemoveLastAdminOrphansSystem(t *testing.T) {
	ledger, _ := newTestLedger(t)
	admin := testAddr(1)
	user := testAddr(2)
	id := mustCreateSystem(t, ledger, admin)

	if err := ledger.AddPoints(admin, id, user, big.NewInt(25)); err != nil {
		t.Fatalf("add points: %v", err)
	}
	if err := ledger.RemoveAdmin(admin, id, admin); err != nil {
		t.Fatalf("remove last admin: %v", err)
	}

	if err := ledger.AddAdmin(admin, id, admin); !errors.Is(err, ErrOnlyAdmin) {
		t.Fatalf("orphaned admin op err = %v, want ErrOnlyAdmin", err)
	}
	if err := ledger.AddPoints(admin, id, user, big.NewInt(1)); !errors.Is(err, ErrOnlyIssuer) {
		t.Fatalf("orphaned mutation err = %v, want ErrOnlyIssuer", err)
	}
	// Reads still work.
	if got := mustBalance(t, ledger, id, user); got.Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("balance = %s, want 25", got)
	}
}

func TestRoleMutationsAreIdempotent(t *testing.T) {
	ledger, emitter := newTestLedger(t)
	admin := testAddr(1)
	issuer := testAddr(2)
	id := mustCreateSystem(t, ledger, admin)

	if err := ledger.AddIssuer(admin, id, issuer); err != nil {
		t.Fatalf("add issuer: %v", err)
	}
	before := len(emitter.events)
	if err := ledger.AddIssuer(admin, id, issuer); err != nil {
		t.Fatalf("repeat add issuer: %v", err)
	}
	if err := ledger.RemoveAdmin(admin, id, testAddr(3)); err != nil {
		t.Fatalf("remove non-admin: %v", err)
	}
	if len(emitter.events) != before {
		t.Fatalf("no-op role mutations emitted events")
	}
}

func TestSetObserverReplacesAndClears(t *testing.T) {
	ledger, _ := newTestLedger(t)
	admin := testAddr(1)
	first := testAddr(8)
	second := testAddr(9)
	id := mustCreateSystem(t, ledger, admin)

	if err := ledger.SetObserver(admin, id, first); err != nil {
		t.Fatalf("set observer: %v", err)
	}
	if err := ledger.SetObserver(admin, id, second); err != nil {
		t.Fatalf("replace observer: %v", err)
	}
	got, set, err := ledger.Observer(id)
	if err != nil {
		t.Fatalf("observer: %v", err)
	}
	if !set || got != second {
		t.Fatalf("observer = %v set=%v, want %v", got, set, second)
	}

	if err := ledger.SetObserver(admin, id, [20]byte{}); err != nil {
		t.Fatalf("clear observer: %v", err)
	}
	_, set, err = ledger.Observer(id)
	if err != nil {
		t.Fatalf("observer: %v", err)
	}
	if set {
		t.Fatalf("observer still set after clearing")
	}
}

func TestSetURIRequiresAdmin(t *testing.T) {
	ledger, _ := newTestLedger(t)
	admin := testAddr(1)
	issuer := testAddr(2)
	id := mustCreateSystem(t, ledger, admin)
	if err := ledger.AddIssuer(admin, id, issuer); err != nil {
		t.Fatalf("add issuer: %v", err)
	}

	if err := ledger.SetURI(issuer, id, "https://example.com/meta.json"); !errors.Is(err, ErrOnlyAdmin) {
		t.Fatalf("issuer set uri err = %v, want ErrOnlyAdmin", err)
	}
	if err := ledger.SetURI(admin, id, "https://example.com/meta.json"); err != nil {
		t.Fatalf("set uri: %v", err)
	}
	uri, err := ledger.URI(id)
	if err != nil {
		t.Fatalf("uri: %v", err)
	}
	if uri != "https://example.com/meta.json" {
		t.Fatalf("uri = %q", uri)
	}
}

func TestUnknownSystemReadsYieldZeroValues(t *testing.T) {
	ledger, _ := newTestLedger(t)

	if got := mustBalance(t, ledger, 42, testAddr(1)); got.Sign() != 0 {
		t.Fatalf("balance = %s, want 0", got)
	}
	total, err := ledger.TotalPoints(42)
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if total.Sign() != 0 {
		t.Fatalf("total = %s, want 0", total)
	}
	role, err := ledger.Role(42, testAddr(1))
	if err != nil {
		t.Fatalf("role: %v", err)
	}
	if role != RoleNone {
		t.Fatalf("role = %v, want none", role)
	}
	_, set, err := ledger.Observer(42)
	if err != nil {
		t.Fatalf("observer: %v", err)
	}
	if set {
		t.Fatalf("observer set on unknown system")
	}
	uri, err := ledger.URI(42)
	if err != nil {
		t.Fatalf("uri: %v", err)
	}
	if uri != "" {
		t.Fatalf("uri = %q, want empty", uri)
	}
}
