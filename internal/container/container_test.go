package container

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/ps4dev/pkgfs/internal/pkgcrypto"
	"github.com/ps4dev/pkgfs/internal/pkgio"
)

const fixtureContentID = "AA0000-BBBB00000_00-ZZZZZZZZZZZZZZZZ"

func buildFixture(t *testing.T, sfoBytes []byte) []byte {
	t.Helper()

	ekpfs := pkgcrypto.DeriveEKPFS(fixtureContentID, []byte(zeroPasscode))
	mac := hmac.New(sha256.New, ekpfs)
	mac.Write([]byte(fixtureContentID))
	ekpfsMAC := mac.Sum(nil)

	digest := sha256.Sum256(sfoBytes)

	const headerSize = 204
	const metaEntryCount = 2
	metaTableOffset := int64(headerSize)
	metaTableSize := int64(metaEntryCount * metaEntrySize)
	bodyStart := metaTableOffset + metaTableSize

	sfoOffset := bodyStart
	digestsOffset := sfoOffset + int64(len(sfoBytes))
	packageSize := digestsOffset + sha256.Size

	var raw rawHeader
	raw.Magic = pkgMagic
	raw.ContentType = uint32(ContentTypeGD)
	raw.MetaTableOffset = uint32(metaTableOffset)
	raw.MetaEntryCount = metaEntryCount
	raw.NamesOffset = 0
	raw.NamesSize = 0
	raw.BodyOffset = uint64(bodyStart)
	raw.PackageSize = uint64(packageSize)
	raw.PfsFlags = 0
	raw.PfsImageOffset = 0
	raw.PfsImageSize = 0
	copy(raw.EkpfsMAC[:], ekpfsMAC)
	copy(raw.ContentID[:], fixtureContentID)

	var headerBuf bytes.Buffer
	if err := binary.Write(&headerBuf, binary.BigEndian, &raw); err != nil {
		t.Fatalf("encode header: %v", err)
	}
	region := headerBuf.Bytes()[:headerDigestRegionSize]
	headerDigest := sha256.Sum256(region)
	raw.HeaderDigest = headerDigest

	headerBuf.Reset()
	if err := binary.Write(&headerBuf, binary.BigEndian, &raw); err != nil {
		t.Fatalf("encode header: %v", err)
	}

	img := make([]byte, packageSize)
	copy(img, headerBuf.Bytes())

	writeMeta := func(idx int, id MetaID, dataOffset, dataSize int64) {
		off := metaTableOffset + int64(idx)*metaEntrySize
		raw := rawMetaEntry{
			ID:              uint16(id),
			NameTableOffset: noNameTableOffset,
			DataOffset:      uint32(dataOffset),
			DataSize:        uint32(dataSize),
		}
		var buf bytes.Buffer
		binary.Write(&buf, binary.BigEndian, &raw)
		copy(img[off:], buf.Bytes())
	}
	writeMeta(0, MetaParamSFO, sfoOffset, int64(len(sfoBytes)))
	writeMeta(1, MetaDigests, digestsOffset, sha256.Size)

	copy(img[sfoOffset:], sfoBytes)
	copy(img[digestsOffset:], digest[:])

	return img
}

func TestOpenRunsZeroPasscodeLadderStep(t *testing.T) {
	sfo := []byte("\x00PSF-fixture-bytes")
	img := buildFixture(t, sfo)

	view := pkgio.NewView(bytes.NewReader(img), int64(len(img)))
	r, err := Open(view, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	passcode, ok := r.Passcode()
	if !ok || passcode != zeroPasscode {
		t.Fatalf("expected zero-passcode ladder step to succeed, got %q ok=%v", passcode, ok)
	}
	if r.header.ContentID != fixtureContentID {
		t.Fatalf("content id: got %q want %q", r.header.ContentID, fixtureContentID)
	}
	if len(r.Metas()) != 2 {
		t.Fatalf("expected 2 meta entries, got %d", len(r.Metas()))
	}
}

func TestExtractEntryReturnsLogicalBytes(t *testing.T) {
	sfo := []byte("\x00PSF-fixture-bytes")
	img := buildFixture(t, sfo)

	view := pkgio.NewView(bytes.NewReader(img), int64(len(img)))
	r, err := Open(view, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, err := r.ExtractEntry(MetaParamSFO, true)
	if err != nil {
		t.Fatalf("ExtractEntry: %v", err)
	}
	if !bytes.Equal(got, sfo) {
		t.Fatalf("got %q want %q", got, sfo)
	}
}

func TestValidateReportsEntryDigests(t *testing.T) {
	sfo := []byte("\x00PSF-fixture-bytes")
	img := buildFixture(t, sfo)

	view := pkgio.NewView(bytes.NewReader(img), int64(len(img)))
	r, err := Open(view, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	results, err := r.Validate(context.Background())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one validation result")
	}
	for _, res := range results {
		if res.Status != StatusOk {
			t.Fatalf("expected Ok, got %v for %q", res.Status, res.Name)
		}
	}
	for i := 1; i < len(results); i++ {
		if results[i].Location < results[i-1].Location {
			t.Fatalf("results not ordered by location: %+v", results)
		}
	}
}
