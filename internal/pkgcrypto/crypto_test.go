package pkgcrypto

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"testing"
)

func TestXTSRoundTrip(t *testing.T) {
	var dataKey, tweakKey [16]byte
	for i := range dataKey {
		dataKey[i] = byte(i)
		tweakKey[i] = byte(i * 3)
	}

	x, err := NewXTS(dataKey, tweakKey, 64)
	if err != nil {
		t.Fatal(err)
	}

	plain := make([]byte, 64)
	for i := range plain {
		plain[i] = byte(i * 7)
	}
	want := append([]byte(nil), plain...)

	buf := append([]byte(nil), plain...)
	if err := x.EncryptSector(buf, 42); err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(buf, want) {
		t.Fatal("encryption was a no-op")
	}
	if err := x.DecryptSector(buf, 42); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, want) {
		t.Fatalf("round trip mismatch: got %x, want %x", buf, want)
	}
}

func TestXTSDifferentSectorsDiffer(t *testing.T) {
	var dataKey, tweakKey [16]byte
	x, _ := NewXTS(dataKey, tweakKey, 32)

	plain := make([]byte, 32)
	a := append([]byte(nil), plain...)
	b := append([]byte(nil), plain...)

	x.EncryptSector(a, 0)
	x.EncryptSector(b, 1)
	if bytes.Equal(a, b) {
		t.Fatal("ciphertext should depend on sector index")
	}
}

func TestDeriveEKPFSDeterministic(t *testing.T) {
	a := DeriveEKPFS("AA0000-BBBB00000_00-ZZZZZZZZZZZZZZZZ", []byte("0000000000000000000000000000000"))
	b := DeriveEKPFS("AA0000-BBBB00000_00-ZZZZZZZZZZZZZZZZ", []byte("0000000000000000000000000000000"))
	if !bytes.Equal(a, b) {
		t.Fatal("DeriveEKPFS must be deterministic")
	}
	c := DeriveEKPFS("AA0000-BBBB00000_00-ZZZZZZZZZZZZZZZZ", []byte("1111111111111111111111111111111"))
	if bytes.Equal(a, c) {
		t.Fatal("different passcodes must derive different keys")
	}
}

func TestCheckHMAC(t *testing.T) {
	key := []byte("key")
	data := []byte("data")
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	sum := mac.Sum(nil)

	if !CheckHMAC(key, data, sum) {
		t.Fatal("CheckHMAC should accept its own output")
	}
	if CheckHMAC(key, data, []byte("wrong")) {
		t.Fatal("CheckHMAC should reject a wrong MAC")
	}
}
