// Package sfo implements the SFO (`\0PSF`) metadata codec: the little
// key=value store embedded in sce_sys/param.sfo and similar PKG entries.
//
// Grounded on the retrieved sargunv-screenscraper-go SFO parser
// (lib/romident/sfo/sfo.go): same header layout (magic, version,
// key_table_offset, data_table_offset, num_entries), same 16-byte index
// entry shape, and the same NUL-terminated key table / format-tagged data
// table split. That reference only parses; this package adds Serialize so
// the exporter can rewrite param.sfo after clearing PUBTOOLINFO/PUBTOOLVER.
// Serialize always emits entries sorted ascending by key name, matching
// every real param.sfo on disk.
package sfo

import (
	"encoding/binary"
	"sort"

	"github.com/orcaman/writerseeker"

	"github.com/ps4dev/pkgfs/internal/pkgerr"
)

const (
	magic = 0x46535000 // "\x00PSF" little-endian

	headerSize     = 20
	indexEntrySize = 16
	scecSkipBytes  = 0x800
)

// DataType tags an SFO value's on-disk representation.
type DataType uint16

const (
	TypeUTF8Special DataType = 0x0004 // UTF-8, not NUL-terminated
	TypeUTF8        DataType = 0x0204 // UTF-8, NUL-terminated
	TypeInteger     DataType = 0x0404 // 32-bit unsigned integer
)

// Entry is one decoded key/value pair. Only one of Str/Int is meaningful,
// selected by Type.
type Entry struct {
	Key  string
	Type DataType
	Str  string
	Int  uint32
}

// File is a parsed SFO document. Entries preserve on-disk order.
type File struct {
	Version uint32
	Entries []Entry
}

// Parse decodes data as an SFO document. If data is prefixed with the
// 4-byte "SCEC" tag, the documented 0x800-byte header is skipped before
// the `\0PSF` magic is expected.
func Parse(data []byte) (*File, error) {
	if len(data) >= 4 && string(data[0:4]) == "SCEC" {
		if len(data) < scecSkipBytes {
			return nil, pkgerr.BadStructure("sfo: SCEC-prefixed file shorter than the %#x-byte header skip", scecSkipBytes)
		}
		data = data[scecSkipBytes:]
	}
	if len(data) < headerSize {
		return nil, pkgerr.BadStructure("sfo: file of %d bytes is shorter than the header", len(data))
	}
	if got := binary.LittleEndian.Uint32(data[0:4]); got != magic {
		return nil, pkgerr.BadMagic("sfo: bad magic %08x", got)
	}

	version := binary.LittleEndian.Uint32(data[4:8])
	keyTableOffset := binary.LittleEndian.Uint32(data[8:12])
	dataTableOffset := binary.LittleEndian.Uint32(data[12:16])
	numEntries := binary.LittleEndian.Uint32(data[16:20])

	if keyTableOffset > uint32(len(data)) || dataTableOffset > uint32(len(data)) {
		return nil, pkgerr.OutOfRange("sfo: table offsets exceed file length %d", len(data))
	}

	f := &File{Version: version}
	for i := uint32(0); i < numEntries; i++ {
		entryOff := headerSize + i*indexEntrySize
		if entryOff+indexEntrySize > uint32(len(data)) {
			return nil, pkgerr.OutOfRange("sfo: index entry %d out of range", i)
		}
		keyOffset := binary.LittleEndian.Uint16(data[entryOff:])
		dataFmt := binary.LittleEndian.Uint16(data[entryOff+2:])
		dataLen := binary.LittleEndian.Uint32(data[entryOff+4:])
		// entryOff+8 carries data_max_length; informational for reading,
		// only used when re-serializing.
		dataOffset := binary.LittleEndian.Uint32(data[entryOff+12:])

		keyStart := keyTableOffset + uint32(keyOffset)
		if keyStart >= uint32(len(data)) {
			return nil, pkgerr.OutOfRange("sfo: key %d offset out of range", i)
		}
		keyEnd := keyStart
		for keyEnd < uint32(len(data)) && data[keyEnd] != 0 {
			keyEnd++
		}
		key := string(data[keyStart:keyEnd])

		dataStart := dataTableOffset + dataOffset
		if dataStart > uint32(len(data)) || dataStart+dataLen > uint32(len(data)) {
			return nil, pkgerr.OutOfRange("sfo: data for key %q out of range", key)
		}
		raw := data[dataStart : dataStart+dataLen]

		e := Entry{Key: key, Type: DataType(dataFmt)}
		switch DataType(dataFmt) {
		case TypeInteger:
			if len(raw) < 4 {
				return nil, pkgerr.BadStructure("sfo: integer value for key %q is shorter than 4 bytes", key)
			}
			e.Int = binary.LittleEndian.Uint32(raw)
		default:
			s := raw
			for len(s) > 0 && s[len(s)-1] == 0 {
				s = s[:len(s)-1]
			}
			e.Str = string(s)
		}
		f.Entries = append(f.Entries, e)
	}
	return f, nil
}

// Get returns the entry for key, if present.
func (f *File) Get(key string) (Entry, bool) {
	for _, e := range f.Entries {
		if e.Key == key {
			return e, true
		}
	}
	return Entry{}, false
}

// GetString returns key's string value, or "" if absent or not a string.
func (f *File) GetString(key string) string {
	e, ok := f.Get(key)
	if !ok {
		return ""
	}
	return e.Str
}

// GetUint32 returns key's integer value, or 0 if absent or not an integer.
func (f *File) GetUint32(key string) uint32 {
	e, ok := f.Get(key)
	if !ok {
		return 0
	}
	return e.Int
}

// SetString overwrites key's value (creating a TypeUTF8 entry at the end
// of the table if key was not already present). Used by the exporter to
// clear PUBTOOLINFO/PUBTOOLVER before rewriting param.sfo.
func (f *File) SetString(key, value string) {
	for i := range f.Entries {
		if f.Entries[i].Key == key {
			f.Entries[i].Str = value
			f.Entries[i].Int = 0
			return
		}
	}
	f.Entries = append(f.Entries, Entry{Key: key, Type: TypeUTF8, Str: value})
}

func align4(n uint32) uint32 {
	if rem := n % 4; rem != 0 {
		return n + (4 - rem)
	}
	return n
}

// Serialize re-encodes f as a fresh `\0PSF` document. Entries are written
// sorted ascending by key name, matching every real param.sfo observed on
// disk; Parse of the result therefore returns entries in that order
// regardless of f.Entries' original order.
func (f *File) Serialize() ([]byte, error) {
	entries := append([]Entry(nil), f.Entries...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	keyTable := &writerseeker.WriterSeeker{}
	keyOffsets := make([]uint16, len(entries))
	for i, e := range entries {
		pos := keyTableLen(keyTable)
		if pos > 0xFFFF {
			return nil, pkgerr.BadStructure("sfo: key table exceeds 64KiB")
		}
		keyOffsets[i] = uint16(pos)
		keyTable.Write([]byte(e.Key))
		keyTable.Write([]byte{0})
	}

	dataTable := &writerseeker.WriterSeeker{}
	dataOffsets := make([]uint32, len(entries))
	dataLens := make([]uint32, len(entries))
	maxLens := make([]uint32, len(entries))
	for i, e := range entries {
		var raw []byte
		switch e.Type {
		case TypeInteger:
			raw = make([]byte, 4)
			binary.LittleEndian.PutUint32(raw, e.Int)
		case TypeUTF8:
			raw = append([]byte(e.Str), 0)
		default:
			raw = []byte(e.Str)
		}
		maxLen := align4(uint32(len(raw)))
		padded := make([]byte, maxLen)
		copy(padded, raw)

		dataOffsets[i] = uint32(keyTableLen(dataTable))
		dataLens[i] = uint32(len(raw))
		maxLens[i] = maxLen
		dataTable.Write(padded)
	}

	keyTableOffset := uint32(headerSize + len(entries)*indexEntrySize)
	keyBytes := readAllBytes(keyTable)
	dataTableOffset := align4(keyTableOffset + uint32(len(keyBytes)))
	dataBytes := readAllBytes(dataTable)

	out := &writerseeker.WriterSeeker{}
	writeU32 := func(v uint32) { var b [4]byte; binary.LittleEndian.PutUint32(b[:], v); out.Write(b[:]) }
	writeU16 := func(v uint16) { var b [2]byte; binary.LittleEndian.PutUint16(b[:], v); out.Write(b[:]) }

	writeU32(magic)
	writeU32(f.Version)
	writeU32(keyTableOffset)
	writeU32(dataTableOffset)
	writeU32(uint32(len(entries)))

	for i, e := range entries {
		writeU16(keyOffsets[i])
		writeU16(uint16(e.Type))
		writeU32(dataLens[i])
		writeU32(maxLens[i])
		writeU32(dataOffsets[i])
	}

	out.Write(keyBytes)
	if pad := int64(dataTableOffset) - int64(keyTableOffset) - int64(len(keyBytes)); pad > 0 {
		out.Write(make([]byte, pad))
	}
	out.Write(dataBytes)

	return readAllBytes(out), nil
}

func keyTableLen(w *writerseeker.WriterSeeker) int {
	pos, _ := w.Seek(0, 1) // io.SeekCurrent
	return int(pos)
}

func readAllBytes(w *writerseeker.WriterSeeker) []byte {
	r := w.BytesReader()
	buf := make([]byte, r.Len())
	r.Read(buf)
	return buf
}
