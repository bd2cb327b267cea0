package state

import (
	"math/big"
	"testing"

	"pointsledger/storage"
)

type sampleRecord struct {
	ID    uint64
	Name  string
	Total *big.Int
}

func TestKVRoundTrip(t *testing.T) {
	manager := NewManager(storage.NewMemDB())

	want := &sampleRecord{ID: 7, Name: "demo", Total: big.NewInt(42)}
	if err := manager.KVPut([]byte("records:7"), want); err != nil {
		t.Fatalf("put: %v", err)
	}

	got := new(sampleRecord)
	found, err := manager.KVGet([]byte("records:7"), got)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found {
		t.Fatalf("record not found after put")
	}
	if got.ID != want.ID || got.Name != want.Name || got.Total.Cmp(want.Total) != 0 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestKVGetMissingKey(t *testing.T) {
	manager := NewManager(storage.NewMemDB())

	out := new(sampleRecord)
	found, err := manager.KVGet([]byte("absent"), out)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Fatalf("missing key reported as found")
	}
}

func TestKVHas(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	if err := manager.KVPut([]byte("flag"), uint64(1)); err != nil {
		t.Fatalf("put: %v", err)
	}

	ok, err := manager.KVHas([]byte("flag"))
	if err != nil {
		t.Fatalf("has: %v", err)
	}
	if !ok {
		t.Fatalf("existing key reported absent")
	}
	ok, err = manager.KVHas([]byte("other"))
	if err != nil {
		t.Fatalf("has: %v", err)
	}
	if ok {
		t.Fatalf("absent key reported present")
	}
}

func TestKVRejectsEmptyKey(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	if err := manager.KVPut(nil, uint64(1)); err == nil {
		t.Fatalf("put accepted empty key")
	}
	if _, err := manager.KVGet(nil, new(uint64)); err == nil {
		t.Fatalf("get accepted empty key")
	}
	if _, err := manager.KVHas(nil); err == nil {
		t.Fatalf("has accepted empty key")
	}
}

func TestKVKeyIsStable(t *testing.T) {
	a := KVKey([]byte("records:7"))
	b := KVKey([]byte("records:7"))
	if a != b {
		t.Fatalf("hashed key not stable")
	}
	if c := KVKey([]byte("records:8")); c == a {
		t.Fatalf("distinct keys hash identically")
	}
}
