package cpioexport

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/cavaliercoder/go-cpio"
	"github.com/klauspost/pgzip"

	"github.com/ps4dev/pkgfs/internal/pfs"
)

func openFixture(t *testing.T) *pfs.Reader {
	t.Helper()
	img, err := pfs.NewFixture()
	if err != nil {
		t.Fatal(err)
	}
	r, err := pfs.Open(bytes.NewReader(img), int64(len(img)), nil)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func readAllEntries(t *testing.T, archive []byte) map[string]*cpio.Header {
	t.Helper()
	cr := cpio.NewReader(bytes.NewReader(archive))
	entries := make(map[string]*cpio.Header)
	for {
		hdr, err := cr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		body := make([]byte, hdr.Size)
		if _, err := io.ReadFull(cr, body); err != nil {
			t.Fatal(err)
		}
		entries[hdr.Name] = hdr
	}
	return entries
}

func TestExportWritesFilesAndDirs(t *testing.T) {
	r := openFixture(t)
	var buf bytes.Buffer
	if err := Export(context.Background(), r, &buf, Options{}); err != nil {
		t.Fatal(err)
	}

	entries := readAllEntries(t, buf.Bytes())
	for _, name := range []string{"hello.txt", "sub", "sub/world.txt"} {
		if _, ok := entries[name]; !ok {
			t.Errorf("cpio archive missing entry %q; got %v", name, entries)
		}
	}
	if hdr := entries["hello.txt"]; hdr != nil && hdr.Size != int64(len(pfs.FixtureHelloContents)) {
		t.Errorf("hello.txt size = %d, want %d", hdr.Size, len(pfs.FixtureHelloContents))
	}
	if hdr := entries["sub"]; hdr != nil && hdr.Mode&cpio.ModeDir == 0 {
		t.Errorf("sub entry mode = %v, want a directory mode", hdr.Mode)
	}
}

func TestExportGzipProducesValidGzipStream(t *testing.T) {
	r := openFixture(t)
	var buf bytes.Buffer
	if err := Export(context.Background(), r, &buf, Options{Gzip: true}); err != nil {
		t.Fatal(err)
	}

	zr, err := pgzip.NewReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()
	decompressed, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}

	entries := readAllEntries(t, decompressed)
	if _, ok := entries["sub/world.txt"]; !ok {
		t.Errorf("decompressed archive missing sub/world.txt; got %v", entries)
	}
}

func TestExportRespectsCanceledContext(t *testing.T) {
	r := openFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	if err := Export(ctx, r, &buf, Options{}); err == nil {
		t.Fatal("expected an error from a pre-canceled context")
	}
}
