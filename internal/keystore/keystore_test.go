package keystore

import (
	"path/filepath"
	"testing"
)

func TestPutGetMergesFields(t *testing.T) {
	s := New()
	s.Put("AA0000-BBBB00000_00-ZZZZZZZZZZZZZZZZ", Entry{Passcode: []byte("0000000000000000000000000000000")})
	s.Put("AA0000-BBBB00000_00-ZZZZZZZZZZZZZZZZ", Entry{EKPFS: []byte("ekpfsvalue")})

	e, ok := s.Get("AA0000-BBBB00000_00-ZZZZZZZZZZZZZZZZ")
	if !ok {
		t.Fatal("expected entry to be present")
	}
	if string(e.Passcode) != "0000000000000000000000000000000" {
		t.Fatalf("passcode lost after second Put: %q", e.Passcode)
	}
	if string(e.EKPFS) != "ekpfsvalue" {
		t.Fatalf("ekpfs not merged: %q", e.EKPFS)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.json")

	s := New()
	s.Put("CONTENT-ID", Entry{
		XTS: &XTSKeys{Data: []byte("0123456789abcdef"), Tweak: []byte("fedcba9876543210")},
	})
	if err := s.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	e, ok := loaded.Get("CONTENT-ID")
	if !ok {
		t.Fatal("expected entry after reload")
	}
	if string(e.XTS.Data) != "0123456789abcdef" || string(e.XTS.Tweak) != "fedcba9876543210" {
		t.Fatalf("xts keys did not round trip: %+v", e.XTS)
	}
}

func TestLoadMissingFileReturnsEmptyStore(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := s.Get("anything"); ok {
		t.Fatal("expected empty store")
	}
}
