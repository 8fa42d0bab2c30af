// Package pkgio implements the random-access byte I/O layer shared by every
// reader in this module. It is deliberately small: a View wraps an
// io.ReaderAt plus a known length and knows how to bounds-check reads and
// decode the big/little-endian primitives the PKG, PFS, PFSC and SFO formats
// use.
//
// Grounded on internal/squashfs's use of io.ReaderAt/io.NewSectionReader as
// the universal read primitive, generalized with an mmap-backed constructor
// so large PFS images are paged in by the OS instead of copied into the Go
// heap.
package pkgio

import (
	"encoding/binary"
	"io"
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/ps4dev/pkgfs/internal/pkgerr"
)

// View is a bounds-checked random-access window over a byte source. Views
// may be carved from other Views with Slice; a child's reads are always
// translated into reads against the root source, so mmap lifetime is
// governed entirely by the root.
type View struct {
	r      io.ReaderAt
	base   int64 // offset of this view within r
	length int64 // length of this view
	owner  io.Closer // non-nil only on the root view
}

// OpenMmap maps path read-only into memory via unix.Mmap and returns a View
// over the whole file. Close unmaps the memory.
func OpenMmap(path string) (*View, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("pkgio.OpenMmap: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, xerrors.Errorf("pkgio.OpenMmap: stat: %w", err)
	}
	size := fi.Size()
	if size == 0 {
		// unix.Mmap refuses zero-length mappings; fall back to a plain
		// file-backed view (still correct, just not paged by mmap).
		return OpenFile(path)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, xerrors.Errorf("pkgio.OpenMmap: mmap: %w", err)
	}

	return &View{
		r:      &byteReaderAt{b: data},
		base:   0,
		length: size,
		owner:  &mmapCloser{data: data},
	}, nil
}

// OpenFile wraps path as a View backed by ordinary file reads, without
// mmap. Useful on platforms/tests where mapping a file is undesirable.
func OpenFile(path string) (*View, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("pkgio.OpenFile: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, xerrors.Errorf("pkgio.OpenFile: stat: %w", err)
	}
	return &View{r: f, base: 0, length: fi.Size(), owner: f}, nil
}

// NewView wraps an existing io.ReaderAt of the given length. The returned
// View does not own r; Close is a no-op.
func NewView(r io.ReaderAt, length int64) *View {
	return &View{r: r, base: 0, length: length}
}

type byteReaderAt struct{ b []byte }

func (b *byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(b.b)) {
		return 0, io.EOF
	}
	n := copy(p, b.b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

type mmapCloser struct{ data []byte }

func (m *mmapCloser) Close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}

// Len returns the view's length in bytes.
func (v *View) Len() int64 { return v.length }

// Close releases the underlying mapping/file, if this View owns one.
func (v *View) Close() error {
	if v.owner != nil {
		return v.owner.Close()
	}
	return nil
}

// Slice returns a child View over [offset, offset+length) of v. The child
// shares v's backing source and must not outlive it.
func (v *View) Slice(offset, length int64) (*View, error) {
	if offset < 0 || length < 0 || offset+length > v.length {
		return nil, pkgerr.OutOfRange("slice [%d,%d) exceeds view of length %d", offset, offset+length, v.length)
	}
	return &View{r: v.r, base: v.base + offset, length: length}, nil
}

// ReadAt implements io.ReaderAt over the logical (sliced) address space.
func (v *View) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > v.length {
		return 0, pkgerr.OutOfRange("read at %d exceeds view of length %d", off, v.length)
	}
	max := v.length - off
	if int64(len(p)) > max {
		n, err := v.r.ReadAt(p[:max], v.base+off)
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return n, err
	}
	return v.r.ReadAt(p, v.base+off)
}

// ReadExact reads exactly length bytes starting at offset, returning
// pkgerr.KindOutOfRange if the range exceeds the view.
func (v *View) ReadExact(offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > v.length {
		return nil, pkgerr.OutOfRange("read [%d,%d) exceeds view of length %d", offset, offset+length, v.length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(io.NewSectionReader(v, offset, length), buf); err != nil {
		return nil, xerrors.Errorf("pkgio: ReadExact(%d,%d): %w", offset, length, err)
	}
	return buf, nil
}

// SectionReader returns a standard io.SectionReader over [offset, offset+length).
func (v *View) SectionReader(offset, length int64) (*io.SectionReader, error) {
	if offset < 0 || length < 0 || offset+length > v.length {
		return nil, pkgerr.OutOfRange("section [%d,%d) exceeds view of length %d", offset, offset+length, v.length)
	}
	return io.NewSectionReader(v, offset, length), nil
}

// ReadStructBE decodes a fixed-size struct at offset using big-endian byte
// order, as PKG header fields require.
func (v *View) ReadStructBE(offset int64, data interface{}) error {
	return v.readStruct(offset, binary.BigEndian, data)
}

// ReadStructLE decodes a fixed-size struct at offset using little-endian
// byte order, as PFSC/SFO header fields require.
func (v *View) ReadStructLE(offset int64, data interface{}) error {
	return v.readStruct(offset, binary.LittleEndian, data)
}

func (v *View) readStruct(offset int64, order binary.ByteOrder, data interface{}) error {
	size := int64(binary.Size(data))
	if size < 0 {
		return pkgerr.BadStructure("pkgio: type %T has no fixed binary size", data)
	}
	sr, err := v.SectionReader(offset, size)
	if err != nil {
		return err
	}
	if err := binary.Read(sr, order, data); err != nil {
		return xerrors.Errorf("pkgio: ReadStruct at %d: %w", offset, err)
	}
	return nil
}

// ReadArrayLE64 decodes n little-endian uint64 values starting at offset, used
// for the PFSC sector map.
func (v *View) ReadArrayLE64(offset int64, n int) ([]uint64, error) {
	buf, err := v.ReadExact(offset, int64(n)*8)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}
	return out, nil
}
