package webdavfs

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"os"
	"testing"

	"github.com/ps4dev/pkgfs/internal/pfs"
)

func newTestFS(t *testing.T) *FS {
	t.Helper()
	img, err := pfs.NewFixture()
	if err != nil {
		t.Fatal(err)
	}
	r, err := pfs.Open(bytes.NewReader(img), int64(len(img)), nil)
	if err != nil {
		t.Fatal(err)
	}
	return New(r)
}

func TestStatReturnsFileAndDirInfo(t *testing.T) {
	fs := newTestFS(t)

	fi, err := fs.Stat(context.Background(), "/hello.txt")
	if err != nil {
		t.Fatal(err)
	}
	if fi.IsDir() || fi.Size() != int64(len(pfs.FixtureHelloContents)) {
		t.Fatalf("Stat(hello.txt) = %+v", fi)
	}

	di, err := fs.Stat(context.Background(), "/sub")
	if err != nil {
		t.Fatal(err)
	}
	if !di.IsDir() {
		t.Fatalf("Stat(sub) IsDir = false, want true")
	}
}

func TestStatMissingPathReturnsNotExist(t *testing.T) {
	fs := newTestFS(t)
	if _, err := fs.Stat(context.Background(), "/nope"); !os.IsNotExist(err) {
		t.Fatalf("Stat(/nope) error = %v, want IsNotExist", err)
	}
}

func TestOpenFileReadsFileContents(t *testing.T) {
	fs := newTestFS(t)
	f, err := fs.OpenFile(context.Background(), "/sub/world.txt", os.O_RDONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	got, err := ioutil.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(pfs.FixtureWorldContents) {
		t.Fatalf("OpenFile contents = %q, want %q", got, pfs.FixtureWorldContents)
	}
}

func TestOpenFileWriteFlagRejected(t *testing.T) {
	fs := newTestFS(t)
	if _, err := fs.OpenFile(context.Background(), "/hello.txt", os.O_RDWR, 0); err == nil {
		t.Fatal("expected error opening with O_RDWR")
	}
}

func TestOpenFileDirectoryListsChildren(t *testing.T) {
	fs := newTestFS(t)
	f, err := fs.OpenFile(context.Background(), "/", os.O_RDONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	infos, err := f.Readdir(-1)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{"hello.txt": true, "sub": true}
	if len(infos) != len(want) {
		t.Fatalf("Readdir = %v, want keys of %v", infos, want)
	}
	for _, fi := range infos {
		if !want[fi.Name()] {
			t.Errorf("unexpected entry %q", fi.Name())
		}
	}

	if _, err := f.Readdir(-1); err != nil {
		t.Fatalf("second Readdir(-1) call = %v, want nil (empty remainder)", err)
	}
}

func TestOpenFileReaddirPaginates(t *testing.T) {
	fs := newTestFS(t)
	f, err := fs.OpenFile(context.Background(), "/", os.O_RDONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	first, err := f.Readdir(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 {
		t.Fatalf("Readdir(1) returned %d entries, want 1", len(first))
	}
	second, err := f.Readdir(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 1 {
		t.Fatalf("Readdir(1) returned %d entries, want 1", len(second))
	}
	if _, err := f.Readdir(1); err != io.EOF {
		t.Fatalf("final Readdir(1) error = %v, want io.EOF", err)
	}
}

func TestOpenFileReadOnDirectoryErrors(t *testing.T) {
	fs := newTestFS(t)
	f, err := fs.OpenFile(context.Background(), "/", os.O_RDONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.Read(make([]byte, 1)); err == nil {
		t.Fatal("expected error reading a directory handle")
	}
}

func TestMkdirRemoveRenameAreReadOnly(t *testing.T) {
	fs := newTestFS(t)
	ctx := context.Background()
	if err := fs.Mkdir(ctx, "/newdir", 0o755); err == nil {
		t.Error("expected Mkdir to fail")
	}
	if err := fs.RemoveAll(ctx, "/hello.txt"); err == nil {
		t.Error("expected RemoveAll to fail")
	}
	if err := fs.Rename(ctx, "/hello.txt", "/moved.txt"); err == nil {
		t.Error("expected Rename to fail")
	}
}
