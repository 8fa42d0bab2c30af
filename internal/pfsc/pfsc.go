// Package pfsc implements the PFSC (PFS Compressed) random-access
// decompressor: a virtual, uncompressed address space layered over a
// sector-indexed deflate stream.
//
// Grounded on internal/squashfs's blockReader (internal/squashfs/reader.go),
// which re-fills a bytes.Buffer from the next length-prefixed metadata block
// whenever it hits EOF. PFSC generalizes the same "index tells you where the
// next compressed chunk starts" idea to a fixed-size sector map computed
// once at open time rather than a length prefix read on demand.
package pfsc

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/flate"
	"golang.org/x/xerrors"

	"github.com/ps4dev/pkgfs/internal/pkgerr"
	"github.com/ps4dev/pkgfs/internal/pkgio"
)

const (
	magic      = 0x43534650 // "PFSC" little-endian
	headerSize = 0x30
)

// header mirrors the 0x30-byte PFSC header.
type header struct {
	Magic        uint32
	Unk4         uint32
	Unk8         uint32
	BlockSize    uint32
	BlockSize64  uint64
	BlockOffsets uint64
	DataStart    uint64
	DataLength   uint64
}

// Reader presents a virtual DataLength()-byte uncompressed stream over a
// PFSC-framed source.
type Reader struct {
	src        *pkgio.View
	blockSize  int64
	dataStart  int64
	dataLength int64
	sectorMap  []uint64
}

// Open parses the PFSC header and sector map from src (the whole
// pfs_image.dat view) and returns a Reader ready to serve random-access
// reads of the decompressed stream.
func Open(src *pkgio.View) (*Reader, error) {
	var h header
	buf, err := src.ReadExact(0, headerSize)
	if err != nil {
		return nil, xerrors.Errorf("pfsc: reading header: %w", err)
	}
	r := bytes.NewReader(buf)
	if err := binary.Read(r, binary.LittleEndian, &h.Magic); err != nil {
		return nil, err
	}
	if h.Magic != magic {
		return nil, pkgerr.BadMagic("pfsc: bad magic %08x", h.Magic)
	}
	binary.Read(r, binary.LittleEndian, &h.Unk4)
	binary.Read(r, binary.LittleEndian, &h.Unk8)
	binary.Read(r, binary.LittleEndian, &h.BlockSize)
	binary.Read(r, binary.LittleEndian, &h.BlockSize64)
	binary.Read(r, binary.LittleEndian, &h.BlockOffsets)
	binary.Read(r, binary.LittleEndian, &h.DataStart)
	binary.Read(r, binary.LittleEndian, &h.DataLength)

	// Unk8 is observed as 2 (compressed) or 6 (uncompressed) but is treated
	// as informational only; other values are accepted without rejection.
	if uint64(h.BlockSize) != h.BlockSize64 {
		return nil, pkgerr.BadStructure("pfsc: block_size %d != block_size_64 %d", h.BlockSize, h.BlockSize64)
	}
	if h.DataStart < 0x10000 || h.DataStart%uint64(h.BlockSize) != 0 {
		return nil, pkgerr.BadStructure("pfsc: data_start %#x is not block-aligned and >= 0x10000", h.DataStart)
	}

	nSectors := int(h.DataLength/uint64(h.BlockSize)) + 1
	sectorMap, err := src.ReadArrayLE64(int64(h.BlockOffsets), nSectors)
	if err != nil {
		return nil, xerrors.Errorf("pfsc: reading sector map: %w", err)
	}
	if sectorMap[0] != h.DataStart {
		return nil, pkgerr.BadStructure("pfsc: sector_map[0]=%#x != data_start=%#x", sectorMap[0], h.DataStart)
	}
	for i := 1; i < len(sectorMap); i++ {
		if sectorMap[i] < sectorMap[i-1] {
			return nil, pkgerr.BadStructure("pfsc: sector_map is not non-decreasing at index %d", i)
		}
		delta := sectorMap[i] - sectorMap[i-1]
		if delta > uint64(h.BlockSize) {
			// Allowed: a delta larger than one block marks a sparse hole, not
			// an error, but it must still be representable.
			continue
		}
	}

	return &Reader{
		src:        src,
		blockSize:  int64(h.BlockSize),
		dataStart:  int64(h.DataStart),
		dataLength: int64(h.DataLength),
		sectorMap:  sectorMap,
	}, nil
}

// SectorSize returns the virtual block size (same as the PFS block size).
func (r *Reader) SectorSize() int64 { return r.blockSize }

// DataLength returns the size of the virtual decompressed stream.
func (r *Reader) DataLength() int64 { return r.dataLength }

// numSectors returns how many sectors the virtual stream spans.
func (r *Reader) numSectors() int64 {
	n := r.dataLength / r.blockSize
	if r.dataLength%r.blockSize != 0 {
		n++
	}
	return n
}

// ReadSector decodes sector idx into buf, which must be at least
// SectorSize() bytes (the last sector may be shorter than a full block if
// DataLength is not block-aligned; buf is only filled to that length).
func (r *Reader) ReadSector(idx int64, buf []byte) (int, error) {
	if idx < 0 || idx >= int64(len(r.sectorMap))-1 {
		return 0, pkgerr.OutOfRange("pfsc: sector %d out of range", idx)
	}
	start := int64(r.sectorMap[idx])
	end := int64(r.sectorMap[idx+1])
	onDiskLen := end - start

	want := r.blockSize
	if rem := r.dataLength - idx*r.blockSize; rem < want {
		want = rem
	}
	if int64(len(buf)) < want {
		return 0, pkgerr.BadStructure("pfsc: buffer too small for sector %d: have %d want %d", idx, len(buf), want)
	}

	switch {
	case onDiskLen == r.blockSize:
		// Stored raw: copy verbatim.
		n, err := r.src.ReadAt(buf[:want], start)
		if err != nil && err != io.EOF {
			return n, xerrors.Errorf("pfsc: reading raw sector %d: %w", idx, err)
		}
		return int(want), nil

	case onDiskLen > r.blockSize:
		// Sparse hole: zero-fill.
		for i := range buf[:want] {
			buf[i] = 0
		}
		return int(want), nil

	default:
		raw, err := r.src.ReadExact(start, onDiskLen)
		if err != nil {
			return 0, xerrors.Errorf("pfsc: reading compressed sector %d: %w", idx, err)
		}
		if len(raw) < 2 {
			return 0, pkgerr.DecompressionFailed("pfsc: sector %d too short for zlib header", idx)
		}
		fr := flate.NewReader(bytes.NewReader(raw[2:]))
		defer fr.Close()
		n, err := readFull(fr, buf[:want])
		if err != nil {
			return n, pkgerr.Wrap(pkgerr.KindDecompressionFailed, err, "pfsc: inflating sector %d", idx)
		}
		return n, nil
	}
}

// readFull loops until buf is full or the reader truly returns zero bytes
// with no error, defending against deflate implementations that return
// short reads before EOF.
func readFull(r io.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			if err == io.EOF && total == len(buf) {
				return total, nil
			}
			if err == io.EOF {
				return total, io.ErrUnexpectedEOF
			}
			return total, err
		}
		if n == 0 {
			return total, io.ErrUnexpectedEOF
		}
	}
	return total, nil
}

// Read copies len bytes starting at virtual offset src into sink, spanning
// as many sectors as required. Each sector touched is decoded once.
func (r *Reader) Read(src int64, length int64, sink io.Writer) error {
	if src < 0 || length < 0 || src+length > r.dataLength {
		return pkgerr.OutOfRange("pfsc: read [%d,%d) exceeds data_length %d", src, src+length, r.dataLength)
	}
	buf := make([]byte, r.blockSize)
	remaining := length
	pos := src
	for remaining > 0 {
		sectorIdx := pos / r.blockSize
		sectorOff := pos % r.blockSize
		n, err := r.ReadSector(sectorIdx, buf)
		if err != nil {
			return err
		}
		avail := int64(n) - sectorOff
		if avail < 0 {
			return pkgerr.OutOfRange("pfsc: offset %d beyond decoded sector length %d", sectorOff, n)
		}
		take := avail
		if take > remaining {
			take = remaining
		}
		if _, err := sink.Write(buf[sectorOff : sectorOff+take]); err != nil {
			return xerrors.Errorf("pfsc: writing decoded bytes: %w", err)
		}
		pos += take
		remaining -= take
	}
	return nil
}

// ReadAt implements io.ReaderAt over the virtual decompressed stream, so a
// Reader can be handed to callers (the inner PFS reader) that only know how
// to address a byte range, not decode sectors.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > r.dataLength {
		return 0, pkgerr.OutOfRange("pfsc: ReadAt offset %d exceeds data_length %d", off, r.dataLength)
	}
	length := int64(len(p))
	if off+length > r.dataLength {
		length = r.dataLength - off
	}
	var buf bytes.Buffer
	if err := r.Read(off, length, &buf); err != nil {
		return 0, err
	}
	n := copy(p, buf.Bytes())
	if int64(n) < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

// NewSectionReader returns an io.Reader presenting [offset, offset+length)
// of the virtual decompressed stream, for callers (file views) that want a
// plain io.Reader rather than a sink callback.
func (r *Reader) NewSectionReader(offset, length int64) io.Reader {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(r.Read(offset, length, pw))
	}()
	return pr
}
