package pfs

import (
	"bytes"
	"io/ioutil"
	"testing"
)

func buildImage(t *testing.T) []byte {
	t.Helper()
	img, err := NewFixture()
	if err != nil {
		t.Fatal(err)
	}
	return img
}

func TestOpenAndWalk(t *testing.T) {
	img := buildImage(t)
	r, err := Open(bytes.NewReader(img), int64(len(img)), nil)
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	if err := r.Walk(r.Root(), "", func(path string, entry DirEntry) error {
		got = append(got, path)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	want := []string{"/hello.txt", "/sub", "/sub/world.txt"}
	if len(got) != len(want) {
		t.Fatalf("Walk returned %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Walk()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFileViewContents(t *testing.T) {
	img := buildImage(t)
	r, err := Open(bytes.NewReader(img), int64(len(img)), nil)
	if err != nil {
		t.Fatal(err)
	}

	ino, err := r.LookupPath("/sub/world.txt")
	if err != nil {
		t.Fatal(err)
	}
	sr, err := r.FileView(ino)
	if err != nil {
		t.Fatal(err)
	}
	got, err := ioutil.ReadAll(sr)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello world" {
		t.Fatalf("FileView contents = %q, want %q", got, "hello world")
	}
}

func TestLookupPathMatchesTreeWalk(t *testing.T) {
	img := buildImage(t)
	r, err := Open(bytes.NewReader(img), int64(len(img)), nil)
	if err != nil {
		t.Fatal(err)
	}

	fptIno, err := r.LookupPath("/hello.txt")
	if err != nil {
		t.Fatal(err)
	}
	walkIno, err := r.lookupByWalk("/hello.txt")
	if err != nil {
		t.Fatal(err)
	}
	if fptIno != walkIno {
		t.Fatalf("FPT lookup = %d, tree walk = %d", fptIno, walkIno)
	}
}
