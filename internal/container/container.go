// Package container implements the PKG reader: header and meta-table
// parsing, the passcode/EKPFS/XTS key acquisition ladder, entry extraction
// and decryption, and license.dat entitlement-key recovery.
//
// Grounded on internal/squashfs's NewReader (parse a fixed header at offset
// 0, verify its magic, then parse auxiliary tables at header-relative
// offsets) and on the golang.org/x/xerrors wrapping convention used
// throughout internal/squashfs/reader.go.
package container

import (
	"strings"

	"golang.org/x/xerrors"

	"github.com/ps4dev/pkgfs/internal/keystore"
	"github.com/ps4dev/pkgfs/internal/pfs"
	"github.com/ps4dev/pkgfs/internal/pkgcrypto"
	"github.com/ps4dev/pkgfs/internal/pkgerr"
	"github.com/ps4dev/pkgfs/internal/pkgio"
)

const pkgMagic = 0x7F434E54

// zeroPasscode is the first key ladder rung: many homebrew/dev packages use
// an all-zero 32-character passcode.
const zeroPasscode = "00000000000000000000000000000000"

// noNameTableOffset marks a MetaEntry with no EntryNames table entry,
// falling back to the id->name table below. Real name table offsets are
// always smaller than the EntryNames blob, so this sentinel never collides
// with a real offset.
const noNameTableOffset = 0xFFFFFFFF

const metaFlagEncrypted = 0x80000000

// licenseSecretSize is the length of the Secret field decrypted out of a
// LICENSE_DAT entry; it must be at least 0x80 bytes since the entitlement
// key lives at [0x70,0x80) within it.
const licenseSecretSize = 0x80

// ContentType is the package's high-level kind, selecting the project
// exporter's VolumeType.
type ContentType uint32

const (
	ContentTypeGD ContentType = iota + 1 // game data
	ContentTypeDP                        // patch
	ContentTypeAC                        // additional content, with extra data
	ContentTypeAL                        // additional content, license only
)

func (c ContentType) String() string {
	switch c {
	case ContentTypeGD:
		return "GD"
	case ContentTypeDP:
		return "DP"
	case ContentTypeAC:
		return "AC"
	case ContentTypeAL:
		return "AL"
	default:
		return "UNKNOWN"
	}
}

// MetaID tags one meta entry's kind.
type MetaID uint16

const (
	MetaParamSFO        MetaID = 0x1000
	MetaPlayGoChunkDat  MetaID = 0x1001
	MetaPlayGoChunkSha  MetaID = 0x1002
	MetaPlayGoManifest  MetaID = 0x1003
	MetaIcon0PNG        MetaID = 0x1200
	MetaPic0PNG         MetaID = 0x1201
	MetaPic1PNG         MetaID = 0x1202
	MetaSnd0AT9         MetaID = 0x1280
	MetaLicenseDat      MetaID = 0x1400
	MetaLicenseInfo     MetaID = 0x1401
	MetaPsReservedDat   MetaID = 0x1600
	MetaDigests         MetaID = 0x1C00
	MetaEntryKeys       MetaID = 0x1C01
	MetaImageKey        MetaID = 0x1C02
	MetaGeneralDigests  MetaID = 0x1C03
	MetaMetas           MetaID = 0x1C04
	MetaEntryNames      MetaID = 0x1C05
)

var knownMetaNames = map[MetaID]string{
	MetaParamSFO:       "param.sfo",
	MetaPlayGoChunkDat: "playgo-chunk.dat",
	MetaPlayGoChunkSha: "playgo-chunk.sha",
	MetaPlayGoManifest: "playgo-manifest.xml",
	MetaIcon0PNG:       "icon0.png",
	MetaPic0PNG:        "pic0.png",
	MetaPic1PNG:        "pic1.png",
	MetaSnd0AT9:        "snd0.at9",
	MetaLicenseDat:     "license.dat",
	MetaLicenseInfo:    "license_info.dat",
	MetaPsReservedDat:  "psreserved.dat",
	MetaDigests:        "digests",
	MetaEntryKeys:      "entry_keys",
	MetaImageKey:       "image_key",
	MetaGeneralDigests: "general_digests",
	MetaMetas:          "metas",
	MetaEntryNames:     "entry_names",
}

// generatedAtPackaging is the set of meta ids the exporter skips: entries
// regenerated whenever a PKG is built, never meaningful as project source.
var generatedAtPackaging = map[MetaID]bool{
	MetaDigests:        true,
	MetaEntryKeys:      true,
	MetaImageKey:       true,
	MetaGeneralDigests: true,
	MetaMetas:          true,
	MetaEntryNames:     true,
	MetaLicenseDat:     true,
	MetaLicenseInfo:    true,
	MetaPsReservedDat:  true,
}

// GeneratedAtPackaging reports whether id belongs to the set of entries the
// exporter always regenerates rather than copies.
func GeneratedAtPackaging(id MetaID, name string) bool {
	if generatedAtPackaging[id] {
		return true
	}
	return strings.HasPrefix(name, "playgo-")
}

type rawHeader struct {
	Magic           uint32
	ContentType     uint32
	ContentFlags    uint32
	MetaTableOffset uint32
	MetaEntryCount  uint32
	NamesOffset     uint32
	NamesSize       uint32
	_               uint32
	BodyOffset      uint64
	PackageSize     uint64
	PfsFlags        uint32
	_               uint32
	PfsImageOffset  uint64
	PfsImageSize    uint64
	PfsImageDigest  [32]byte
	EkpfsMAC        [32]byte
	HeaderDigest    [32]byte
	ContentID       [36]byte
}

// Header is the decoded, validated PkgHeader.
type Header struct {
	ContentType    ContentType
	ContentID      string
	ContentFlags   uint32
	PfsFlags       uint32
	PfsImageOffset int64
	PfsImageSize   int64
	PfsImageDigest [32]byte
	EkpfsMAC       [32]byte
	HeaderDigest   [32]byte
	BodyOffset     int64
	PackageSize    int64
}

type rawMetaEntry struct {
	ID              uint16
	KeyIndex        uint8
	_               uint8
	NameTableOffset uint32
	Flags1          uint32
	Flags2          uint32
	DataOffset      uint32
	DataSize        uint32
}

const metaEntrySize = 24

// MetaEntry describes one tagged blob in the PKG body.
type MetaEntry struct {
	Index           int
	ID              MetaID
	KeyIndex        uint8
	NameTableOffset uint32
	Flags1          uint32
	Flags2          uint32
	DataOffset      int64
	DataSize        int64
}

// Encrypted reports whether the entry's on-disk bytes are AES-CBC
// encrypted.
func (e MetaEntry) Encrypted() bool { return e.Flags1&metaFlagEncrypted != 0 }

func roundUp16(n int64) int64 {
	if rem := n % 16; rem != 0 {
		return n + (16 - rem)
	}
	return n
}

// DiskSize is the entry's on-disk footprint: data_size rounded up to a
// 16-byte boundary when encrypted, data_size unchanged otherwise.
func (e MetaEntry) DiskSize() int64 {
	if e.Encrypted() {
		return roundUp16(e.DataSize)
	}
	return e.DataSize
}

// Reader is an opened PKG container: parsed header and meta table, key
// material recovered by the ladder (if any), and the inner PFS reader
// (opened only if PfsImageSize > 0 and a key was recovered).
type Reader struct {
	view  *pkgio.View
	store *keystore.Store

	header Header
	metas  []MetaEntry
	names  map[uint32]string

	metaTableOffset int64
	metaEntryCount  int
	namesOffset     int64
	namesSize       int64

	passcode     []byte
	haveEKPFS    bool
	ekpfs        []byte
	imageKeyData []byte // decrypted IMAGE_KEY blob, for key_index==3 entries
	xtsData      [16]byte
	xtsTweak     [16]byte
	haveXTS      bool

	pfs    *pfs.Reader
	pfsErr error
}

// Open parses header, meta table and entry names from view, then runs the
// key acquisition ladder and, if it succeeds and the package carries a PFS
// image, opens the inner PFS reader. store may be nil, in which case ladder
// steps 2/4/5 (cached passcode/EKPFS/XTS) are skipped.
func Open(view *pkgio.View, store *keystore.Store) (*Reader, error) {
	r := &Reader{view: view, store: store}
	if err := r.parseHeader(); err != nil {
		return nil, err
	}
	if err := r.parseMetas(); err != nil {
		return nil, err
	}
	if err := r.parseEntryNames(); err != nil {
		return nil, err
	}
	r.runKeyLadder()
	if r.header.PfsImageSize > 0 && (r.haveEKPFS || r.haveXTS) {
		r.pfsErr = r.openPFS()
	}
	return r, nil
}

func (r *Reader) parseHeader() error {
	var raw rawHeader
	if err := r.view.ReadStructBE(0, &raw); err != nil {
		return err
	}
	if raw.Magic != pkgMagic {
		return pkgerr.BadMagic("container: bad PKG magic %08x", raw.Magic)
	}
	r.header = Header{
		ContentType:    ContentType(raw.ContentType),
		ContentID:      cStringFromFixed(raw.ContentID[:]),
		ContentFlags:   raw.ContentFlags,
		PfsFlags:       raw.PfsFlags,
		PfsImageOffset: int64(raw.PfsImageOffset),
		PfsImageSize:   int64(raw.PfsImageSize),
		PfsImageDigest: raw.PfsImageDigest,
		EkpfsMAC:       raw.EkpfsMAC,
		HeaderDigest:   raw.HeaderDigest,
		BodyOffset:     int64(raw.BodyOffset),
		PackageSize:    int64(raw.PackageSize),
	}
	if r.header.PackageSize > r.view.Len() {
		return pkgerr.OutOfRange("container: package_size %d exceeds file length %d", r.header.PackageSize, r.view.Len())
	}
	r.metaTableOffset = int64(raw.MetaTableOffset)
	r.metaEntryCount = int(raw.MetaEntryCount)
	r.namesOffset = int64(raw.NamesOffset)
	r.namesSize = int64(raw.NamesSize)
	return nil
}

func cStringFromFixed(b []byte) string {
	n := len(b)
	for i, c := range b {
		if c == 0 {
			n = i
			break
		}
	}
	return string(b[:n])
}

func (r *Reader) parseMetas() error {
	var prevEnd int64
	for i := 0; i < r.metaEntryCount; i++ {
		off := r.metaTableOffset + int64(i)*metaEntrySize
		var raw rawMetaEntry
		if err := r.view.ReadStructBE(off, &raw); err != nil {
			return xerrors.Errorf("container: meta entry %d: %w", i, err)
		}
		e := MetaEntry{
			Index:           i,
			ID:              MetaID(raw.ID),
			KeyIndex:        raw.KeyIndex,
			NameTableOffset: raw.NameTableOffset,
			Flags1:          raw.Flags1,
			Flags2:          raw.Flags2,
			DataOffset:      int64(raw.DataOffset),
			DataSize:        int64(raw.DataSize),
		}
		end := e.DataOffset + e.DiskSize()
		if end > r.header.PackageSize {
			return pkgerr.BadStructure("container: meta entry %d [%d,%d) exceeds package_size %d", i, e.DataOffset, end, r.header.PackageSize)
		}
		if e.DataOffset < prevEnd {
			return pkgerr.BadStructure("container: meta entry %d overlaps the previous entry", i)
		}
		prevEnd = end
		r.metas = append(r.metas, e)
	}
	return nil
}

func (r *Reader) parseEntryNames() error {
	r.names = make(map[uint32]string)
	if r.namesSize == 0 {
		return nil
	}
	blob, err := r.view.ReadExact(r.namesOffset, r.namesSize)
	if err != nil {
		return xerrors.Errorf("container: entry names: %w", err)
	}
	for _, e := range r.metas {
		if e.NameTableOffset == noNameTableOffset || int64(e.NameTableOffset) >= r.namesSize {
			continue
		}
		end := e.NameTableOffset
		for end < uint32(len(blob)) && blob[end] != 0 {
			end++
		}
		r.names[e.NameTableOffset] = string(blob[e.NameTableOffset:end])
	}
	return nil
}

// Header returns the parsed and validated PkgHeader.
func (r *Reader) Header() Header { return r.header }

// Metas returns every parsed meta entry, in on-disk (METAS) order.
func (r *Reader) Metas() []MetaEntry { return append([]MetaEntry(nil), r.metas...) }

// EntryName returns e's filename, from the EntryNames table if present,
// otherwise from the known id->name mapping. ok is false if neither source
// has a name.
func (r *Reader) EntryName(e MetaEntry) (name string, ok bool) {
	if e.NameTableOffset != noNameTableOffset {
		if n, have := r.names[e.NameTableOffset]; have {
			return n, true
		}
	}
	if n, have := knownMetaNames[e.ID]; have {
		return n, true
	}
	return "", false
}

// MetaByID returns the first meta entry with the given id.
func (r *Reader) MetaByID(id MetaID) (MetaEntry, bool) {
	for _, e := range r.metas {
		if e.ID == id {
			return e, true
		}
	}
	return MetaEntry{}, false
}

// Passcode returns the passcode the key ladder resolved, if any.
func (r *Reader) Passcode() (string, bool) {
	if r.passcode == nil {
		return "", false
	}
	return string(r.passcode), true
}

// IsFileSystemAccessible reports whether the inner PFS reader was opened
// successfully.
func (r *Reader) IsFileSystemAccessible() bool { return r.pfs != nil }

// PFS returns the opened inner PFS reader, or nil if the package carries no
// PFS image or the key ladder did not resolve usable key material.
func (r *Reader) PFS() *pfs.Reader { return r.pfs }

// PFSError returns the error that prevented the PFS reader from opening,
// if the key ladder succeeded but PFS.Open itself failed.
func (r *Reader) PFSError() error { return r.pfsErr }

// RetryOpenPFS opens the inner PFS reader again, for callers that recovered
// key material via TryPasscode/TryEKPFS/TryXTS after Open's own ladder run
// failed to resolve any rung. It is a no-op if the PFS reader is already
// open or the package carries no PFS image.
func (r *Reader) RetryOpenPFS() error {
	if r.pfs != nil || r.header.PfsImageSize <= 0 {
		return nil
	}
	if !r.haveEKPFS && !r.haveXTS {
		return xerrors.New("container: no key material recovered yet")
	}
	r.pfsErr = r.openPFS()
	return r.pfsErr
}

// Close releases the backing file view (and its mmap, if OpenMmap produced
// it). Callers must not use r, or any pfs.Reader obtained from r.PFS(),
// after Close returns.
func (r *Reader) Close() error {
	return r.view.Close()
}

func (r *Reader) openPFS() error {
	sub, err := r.view.Slice(r.header.PfsImageOffset, r.header.PfsImageSize)
	if err != nil {
		return err
	}
	var xts *pkgcrypto.XTS
	if r.header.PfsFlags&pfsFlagEncrypted != 0 {
		data, tweak := r.xtsData, r.xtsTweak
		if !r.haveXTS {
			d, t := pkgcrypto.DeriveImageKeys(r.ekpfs)
			data, tweak = d, t
		}
		var xerr error
		xts, xerr = pkgcrypto.NewXTS(data, tweak, pfs.DefaultBlockSize)
		if xerr != nil {
			return xerr
		}
	}
	reader, err := pfs.Open(sub, sub.Len(), xts)
	if err != nil {
		return err
	}
	r.pfs = reader
	return nil
}

const pfsFlagEncrypted = 0x1
