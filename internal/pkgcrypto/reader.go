package pkgcrypto

import "io"

// SectorReaderAt decrypts an XTS-protected byte stream on demand, presenting
// the plaintext as an io.ReaderAt. Each aligned sectorSize-byte sector is
// decrypted independently using its block index as the XTS tweak; every
// sector is exactly one PFS block. Grounded on the same
// io.ReaderAt/io.NewSectionReader composition squashfs's blockReader uses,
// here applied per-sector instead of per-metadata-block.
type SectorReaderAt struct {
	src        io.ReaderAt
	xts        *XTS
	sectorSize int64
}

// NewSectorReaderAt wraps src, decrypting every sectorSize-byte sector with
// xts before it reaches the caller.
func NewSectorReaderAt(src io.ReaderAt, xts *XTS, sectorSize int64) *SectorReaderAt {
	return &SectorReaderAt{src: src, xts: xts, sectorSize: sectorSize}
}

// ReadAt decrypts and returns p's worth of plaintext starting at off. off
// and len(p) need not be sector-aligned; ReadAt decrypts whole sectors and
// copies out the requested sub-range.
func (s *SectorReaderAt) ReadAt(p []byte, off int64) (int, error) {
	total := 0
	for total < len(p) {
		pos := off + int64(total)
		sectorIdx := pos / s.sectorSize
		sectorOff := pos % s.sectorSize

		sector := make([]byte, s.sectorSize)
		if _, err := io.ReadFull(io.NewSectionReader(s.src, sectorIdx*s.sectorSize, s.sectorSize), sector); err != nil {
			return total, err
		}
		if err := s.xts.DecryptSector(sector, uint64(sectorIdx)); err != nil {
			return total, err
		}

		avail := s.sectorSize - sectorOff
		want := int64(len(p) - total)
		if want > avail {
			want = avail
		}
		copy(p[total:], sector[sectorOff:sectorOff+want])
		total += int(want)
	}
	return total, nil
}
