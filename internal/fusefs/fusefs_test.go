package fusefs

import (
	"bytes"
	"context"
	"testing"

	"github.com/jacobsa/fuse/fuseops"

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

func TestAttributesForDistinguishesDirAndFile(t *testing.T) {
	dirAttr := attributesFor(pfs.Info{Type: pfs.NodeDir, Size: 0})
	if dirAttr.Mode&0o555 == 0 || dirAttr.Size != 0 {
		t.Fatalf("dir attributes = %+v", dirAttr)
	}
	fileAttr := attributesFor(pfs.Info{Type: pfs.NodeFile, Size: 9})
	if fileAttr.Mode&0o444 == 0 || fileAttr.Size != 9 {
		t.Fatalf("file attributes = %+v", fileAttr)
	}
}

func TestLookUpInodeFindsRootChild(t *testing.T) {
	fs := newTestFS(t)
	op := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "hello.txt"}
	if err := fs.LookUpInode(context.Background(), op); err != nil {
		t.Fatal(err)
	}
	if op.Entry.Attributes.Size != uint64(len(pfs.FixtureHelloContents)) {
		t.Fatalf("Entry.Attributes.Size = %d, want %d", op.Entry.Attributes.Size, len(pfs.FixtureHelloContents))
	}
}

func TestLookUpInodeMissingNameReturnsENOENT(t *testing.T) {
	fs := newTestFS(t)
	op := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "nonexistent"}
	if err := fs.LookUpInode(context.Background(), op); err == nil {
		t.Fatal("expected error for missing name")
	}
}

func TestReadDirListsRootEntries(t *testing.T) {
	fs := newTestFS(t)
	dst := make([]byte, 4096)
	op := &fuseops.ReadDirOp{Inode: fuseops.RootInodeID, Dst: dst}
	if err := fs.ReadDir(context.Background(), op); err != nil {
		t.Fatal(err)
	}
	if op.BytesRead == 0 {
		t.Fatal("ReadDir wrote no dirents")
	}
	written := dst[:op.BytesRead]
	for _, name := range []string{"hello.txt", "sub"} {
		if !bytes.Contains(written, []byte(name)) {
			t.Errorf("ReadDir output missing entry %q", name)
		}
	}
}

func TestReadFileReturnsContentsAndDropsEOF(t *testing.T) {
	fs := newTestFS(t)

	lookup := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "hello.txt"}
	if err := fs.LookUpInode(context.Background(), lookup); err != nil {
		t.Fatal(err)
	}

	dst := make([]byte, 64)
	op := &fuseops.ReadFileOp{Inode: lookup.Entry.Child, Dst: dst, Offset: 0}
	if err := fs.ReadFile(context.Background(), op); err != nil {
		t.Fatal(err)
	}
	got := dst[:op.BytesRead]
	if !bytes.Equal(got, pfs.FixtureHelloContents) {
		t.Fatalf("ReadFile = %q, want %q", got, pfs.FixtureHelloContents)
	}
}

func TestOpenDirAndOpenFileReturnENOSYS(t *testing.T) {
	fs := newTestFS(t)
	if err := fs.OpenDir(context.Background(), &fuseops.OpenDirOp{}); err == nil {
		t.Fatal("expected ENOSYS from OpenDir")
	}
	if err := fs.OpenFile(context.Background(), &fuseops.OpenFileOp{}); err == nil {
		t.Fatal("expected ENOSYS from OpenFile")
	}
}
