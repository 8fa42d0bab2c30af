package pfsc

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/klauspost/compress/zlib"

	"github.com/ps4dev/pkgfs/internal/pkgio"
)

const testBlockSize = 0x10000

// buildPFSC assembles a minimal PFSC image from a list of sectors (each
// either raw, pre-compressed with zlib, or left as a deliberate sparse
// hole by passing nil).
func buildPFSC(t *testing.T, sectors [][]byte, dataLength int64, makeSparse map[int]bool) []byte {
	t.Helper()

	var body bytes.Buffer
	offsets := make([]uint64, 0, len(sectors)+1)
	dataStart := uint64(testBlockSize) // first block-aligned offset >= 0x10000
	offsets = append(offsets, dataStart)

	var compressed [][]byte
	for i, s := range sectors {
		if makeSparse[i] {
			compressed = append(compressed, nil)
			continue
		}
		if len(s) == testBlockSize {
			compressed = append(compressed, s) // stored raw
			continue
		}
		var cbuf bytes.Buffer
		zw := zlib.NewWriter(&cbuf)
		zw.Write(s)
		zw.Close()
		compressed = append(compressed, cbuf.Bytes())
	}

	cur := dataStart
	for i, c := range compressed {
		if makeSparse[i] {
			cur += testBlockSize + 1 // length > block_size marks a sparse hole
		} else {
			body.Write(c)
			cur += uint64(len(c))
		}
		offsets = append(offsets, cur)
	}

	headerAndMap := new(bytes.Buffer)
	binary.Write(headerAndMap, binary.LittleEndian, uint32(magic))
	binary.Write(headerAndMap, binary.LittleEndian, uint32(0))
	binary.Write(headerAndMap, binary.LittleEndian, uint32(2))
	binary.Write(headerAndMap, binary.LittleEndian, uint32(testBlockSize))
	binary.Write(headerAndMap, binary.LittleEndian, uint64(testBlockSize))
	blockOffsetsPtr := uint64(headerSize)
	binary.Write(headerAndMap, binary.LittleEndian, blockOffsetsPtr)
	binary.Write(headerAndMap, binary.LittleEndian, dataStart)
	binary.Write(headerAndMap, binary.LittleEndian, uint64(dataLength))
	for _, o := range offsets {
		binary.Write(headerAndMap, binary.LittleEndian, o)
	}

	// Pad out to dataStart, then append the sector bodies.
	out := headerAndMap.Bytes()
	pad := make([]byte, int64(dataStart)-int64(len(out)))
	out = append(out, pad...)
	out = append(out, body.Bytes()...)
	return out
}

func TestPFSCRawAndCompressedSectors(t *testing.T) {
	raw := bytes.Repeat([]byte{0xAB}, testBlockSize)
	compressible := bytes.Repeat([]byte{0x01, 0x02}, testBlockSize/2)

	img := buildPFSC(t, [][]byte{raw, compressible}, 2*testBlockSize, nil)
	view := pkgio.NewView(bytes.NewReader(img), int64(len(img)))

	r, err := Open(view)
	if err != nil {
		t.Fatal(err)
	}
	if r.SectorSize() != testBlockSize {
		t.Fatalf("SectorSize = %d, want %d", r.SectorSize(), testBlockSize)
	}

	buf := make([]byte, testBlockSize)
	if _, err := r.ReadSector(0, buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, raw) {
		t.Fatal("raw sector mismatch")
	}

	if _, err := r.ReadSector(1, buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, compressible) {
		t.Fatal("compressed sector did not round-trip")
	}
}

func TestPFSCSparseHoleIsZeroed(t *testing.T) {
	raw := bytes.Repeat([]byte{0x42}, testBlockSize)
	img := buildPFSC(t, [][]byte{raw, raw}, 2*testBlockSize, map[int]bool{1: true})
	view := pkgio.NewView(bytes.NewReader(img), int64(len(img)))

	r, err := Open(view)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, testBlockSize)
	if _, err := r.ReadSector(1, buf); err != nil {
		t.Fatal(err)
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("sparse sector byte %d = %#x, want 0", i, b)
		}
	}
}

func TestPFSCReadSpansSectorsDeterministically(t *testing.T) {
	a := bytes.Repeat([]byte{0x11}, testBlockSize)
	b := bytes.Repeat([]byte{0x22}, testBlockSize)
	img := buildPFSC(t, [][]byte{a, b}, 2*testBlockSize, nil)
	view := pkgio.NewView(bytes.NewReader(img), int64(len(img)))

	r, err := Open(view)
	if err != nil {
		t.Fatal(err)
	}

	var out1, out2 bytes.Buffer
	if err := r.Read(0, 2*testBlockSize, &out1); err != nil {
		t.Fatal(err)
	}
	if err := r.Read(0, 2*testBlockSize, &out2); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out1.Bytes(), out2.Bytes()) {
		t.Fatal("reading the same range twice produced different bytes")
	}

	want := append(append([]byte{}, a...), b...)
	if !bytes.Equal(out1.Bytes(), want) {
		t.Fatal("concatenated read does not match concatenated sectors")
	}
}
