package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func TestGeneratedAddressRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := key.PubKey().Address()
	if addr.Prefix() != PointsPrefix {
		t.Fatalf("prefix = %q, want %q", addr.Prefix(), PointsPrefix)
	}
	encoded := addr.String()
	if !strings.HasPrefix(encoded, string(PointsPrefix)+"1") {
		t.Fatalf("encoded address %q missing bech32 prefix", encoded)
	}

	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded.Bytes(), addr.Bytes()) {
		t.Fatalf("round trip mismatch: %x vs %x", decoded.Bytes(), addr.Bytes())
	}
	if decoded.Array() != addr.Array() {
		t.Fatalf("array form mismatch")
	}
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	if _, err := DecodeAddress("not-a-bech32-address"); err == nil {
		t.Fatalf("decode accepted garbage")
	}
	if _, err := DecodeAddress(""); err == nil {
		t.Fatalf("decode accepted empty string")
	}
}

func TestPrivateKeyBytesRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	restored, err := PrivateKeyFromBytes(key.Bytes())
	if err != nil {
		t.Fatalf("restore key: %v", err)
	}
	if restored.PubKey().Address().String() != key.PubKey().Address().String() {
		t.Fatalf("restored key derives a different address")
	}
}
