// Package fpt implements the Flat Path Table: PFS's hash-to-inode
// accelerator, its collision resolver, and the from-scratch builder test
// fixtures use to produce one given a node list.
//
// Grounded on internal/squashfs/writer.go's habit of building an on-disk
// table in an in-memory buffer before emitting it as one contiguous blob;
// here that buffer is github.com/orcaman/writerseeker.WriterSeeker, since
// the row table must be sorted (written) before its final byte length is
// known, and the collision resolver is appended afterwards.
package fpt

import (
	"encoding/binary"
	"sort"
	"strings"

	"github.com/orcaman/writerseeker"

	"github.com/ps4dev/pkgfs/internal/pkgerr"
)

// FlatType is the high-nibble tag carried by a Flat Path Table row value.
type FlatType uint32

const (
	TypeFile       FlatType = 0x0
	TypeDir        FlatType = 0x2
	TypeSceSysFile FlatType = 0x4
	TypeSceSysDir  FlatType = 0x6
	TypeCollision  FlatType = 0x8
)

const resolverTrailerSize = 0x18

// Hash implements the Flat Path Table's hash function: case-insensitive,
// h := toUpperAscii(c) + 31*h (mod 2^32), over the full uroot-relative path
// beginning with '/'.
func Hash(name string) uint32 {
	var h uint32
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		h = uint32(c) + 31*h
	}
	return h
}

// Row is one decoded (hash, value) pair.
type Row struct {
	Hash  uint32
	Type  FlatType
	Value uint32 // inode number, or (for Collision) an offset into the resolver blob
}

// Dirent is one record inside the collision resolver: the full dirent the
// FPT could not disambiguate by hash alone.
type Dirent struct {
	Inode uint32
	Type  FlatType
	Name  string
}

// Table is a parsed, queryable Flat Path Table.
type Table struct {
	rows     []Row // sorted by Hash ascending
	resolver []byte
}

// Parse decodes rows (hash_le,value_le pairs, sorted by hash ascending) and
// keeps resolver (may be nil/empty when there are no collisions).
func Parse(rows []byte, resolver []byte) (*Table, error) {
	if len(rows)%8 != 0 {
		return nil, pkgerr.BadStructure("fpt: row table length %d is not a multiple of 8", len(rows))
	}
	t := &Table{resolver: resolver}
	for off := 0; off < len(rows); off += 8 {
		hash := binary.LittleEndian.Uint32(rows[off:])
		value := binary.LittleEndian.Uint32(rows[off+4:])
		t.rows = append(t.rows, Row{
			Hash:  hash,
			Type:  FlatType(value >> 28),
			Value: value & 0x0FFFFFFF,
		})
	}
	return t, nil
}

// Lookup returns the row(s) matching hash(path). When the FlatType is
// TypeCollision, callers must disambiguate via ResolveCollision.
func (t *Table) Lookup(path string) (Row, bool) {
	h := Hash(path)
	i := sort.Search(len(t.rows), func(i int) bool { return t.rows[i].Hash >= h })
	if i < len(t.rows) && t.rows[i].Hash == h {
		return t.rows[i], true
	}
	return Row{}, false
}

// Rows returns all parsed rows, sorted by (type, inode) for presentation.
func (t *Table) Rows() []Row {
	out := append([]Row(nil), t.rows...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// ResolveCollision decodes the Dirent list stored at offset in the resolver
// blob, stopping at the 0x18-byte trailer padding that follows each list.
func (t *Table) ResolveCollision(offset uint32) ([]Dirent, error) {
	if int64(offset) >= int64(len(t.resolver)) {
		return nil, pkgerr.OutOfRange("fpt: collision offset %d exceeds resolver of length %d", offset, len(t.resolver))
	}
	var out []Dirent
	pos := int(offset)
	for pos+9 <= len(t.resolver) {
		inode := binary.LittleEndian.Uint32(t.resolver[pos:])
		typ := FlatType(t.resolver[pos+4])
		nameLen := int(t.resolver[pos+5])
		pos += 6
		if pos+nameLen > len(t.resolver) {
			return nil, pkgerr.BadStructure("fpt: collision dirent name overruns resolver blob")
		}
		name := string(t.resolver[pos : pos+nameLen])
		pos += nameLen
		out = append(out, Dirent{Inode: inode, Type: typ, Name: name})

		// A zeroed run of resolverTrailerSize bytes terminates each
		// collision list; stop once we hit it.
		if pos+resolverTrailerSize <= len(t.resolver) && isZero(t.resolver[pos:pos+resolverTrailerSize]) {
			break
		}
	}
	return out, nil
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// BuildNode is the minimal shape the builder needs from a PFS tree node.
type BuildNode struct {
	Path  string // full uroot-relative path, beginning with '/'
	IsDir bool
	Inode uint32
}

// Build computes the hash of every node's path and assigns it a row: a
// plain inode+type value when no other node shares its hash, or a
// Collision marker pointing into the resolver blob otherwise.
func Build(nodes []BuildNode) (rowBytes []byte, resolverBytes []byte, err error) {
	byHash := make(map[uint32][]BuildNode)
	for _, n := range nodes {
		h := Hash(n.Path)
		byHash[h] = append(byHash[h], n)
	}

	hashes := make([]uint32, 0, len(byHash))
	for h := range byHash {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })

	rowBuf := &writerseeker.WriterSeeker{}
	resolverBuf := &writerseeker.WriterSeeker{}

	for _, h := range hashes {
		group := byHash[h]
		var value uint32
		if len(group) == 1 {
			n := group[0]
			value = uint32(typeTag(n)) << 28
			value |= n.Inode & 0x0FFFFFFF
		} else {
			// Reject silently-ambiguous input: two nodes with the same full
			// path (and so the same hash) are rejected outright rather than
			// one being silently picked over the other.
			seen := make(map[string]bool)
			for _, n := range group {
				if seen[n.Path] {
					return nil, nil, pkgerr.BadStructure("fpt: duplicate path %q in node list", n.Path)
				}
				seen[n.Path] = true
			}

			offset := currentLen(resolverBuf)
			for _, n := range group {
				writeDirent(resolverBuf, n)
			}
			resolverBuf.Write(make([]byte, resolverTrailerSize))

			value = uint32(TypeCollision) << 28
			value |= uint32(offset) & 0x0FFFFFFF
		}

		var row [8]byte
		binary.LittleEndian.PutUint32(row[0:], h)
		binary.LittleEndian.PutUint32(row[4:], value)
		rowBuf.Write(row[:])
	}

	return readAll(rowBuf), readAll(resolverBuf), nil
}

func typeTag(n BuildNode) FlatType {
	underSceSys := strings.HasPrefix(n.Path, "/sce_sys")
	switch {
	case underSceSys && n.IsDir:
		return TypeSceSysDir
	case underSceSys && !n.IsDir:
		return TypeSceSysFile
	case n.IsDir:
		return TypeDir
	default:
		return TypeFile
	}
}

func writeDirent(w *writerseeker.WriterSeeker, n BuildNode) {
	var hdr [6]byte
	binary.LittleEndian.PutUint32(hdr[0:], n.Inode)
	hdr[4] = byte(typeTag(n))
	hdr[5] = byte(len(n.Path))
	w.Write(hdr[:])
	w.Write([]byte(n.Path))
}

func currentLen(w *writerseeker.WriterSeeker) int64 {
	pos, _ := w.Seek(0, 1) // io.SeekCurrent
	return pos
}

func readAll(w *writerseeker.WriterSeeker) []byte {
	r := w.BytesReader()
	buf := make([]byte, r.Len())
	r.Read(buf)
	return buf
}
