package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte{0xAB}, 20)
	addr := NewAddress(ITRPrefix, raw)

	encoded := addr.String()
	if !strings.HasPrefix(encoded, string(ITRPrefix)+"1") {
		t.Fatalf("encoded address %q missing itr prefix", encoded)
	}

	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Prefix() != ITRPrefix {
		t.Fatalf("prefix = %s, want %s", decoded.Prefix(), ITRPrefix)
	}
	if !bytes.Equal(decoded.Bytes(), raw) {
		t.Fatalf("decoded bytes = %x, want %x", decoded.Bytes(), raw)
	}
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	if _, err := DecodeAddress("not-a-bech32-address"); err == nil {
		t.Fatalf("expected error for malformed input")
	}
	// Valid bech32 but wrong payload length.
	short := NewAddress(ITRPrefix, bytes.Repeat([]byte{0x01}, 20)).String()
	if _, err := DecodeAddress(short[:len(short)-8] + short[len(short)-6:]); err == nil {
		t.Fatalf("expected error for corrupted address")
	}
}

func TestPrivateKeyRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	restored, err := PrivateKeyFromBytes(key.Bytes())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !bytes.Equal(restored.Bytes(), key.Bytes()) {
		t.Fatalf("restored key differs")
	}

	addr := key.PubKey().Address()
	if len(addr.Bytes()) != 20 {
		t.Fatalf("address length = %d, want 20", len(addr.Bytes()))
	}
	if addr.String() != restored.PubKey().Address().String() {
		t.Fatalf("address derivation is not deterministic")
	}
}
