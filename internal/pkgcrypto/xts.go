package pkgcrypto

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/ps4dev/pkgfs/internal/pkgerr"
)

// XTS implements AES-XTS (IEEE P1619) with a 128-bit data key, a 128-bit
// tweak key and a configurable sector size — here always the PFS block
// size, which is always the PFS block size. No package in the
// retrieved corpus implements this mode (see DESIGN.md); it is built
// directly from two independent AES-128 block ciphers and a GF(2^128)
// multiplication by the fixed element alpha = x, exactly as the standard
// describes.
type XTS struct {
	dataCipher  cipher.Block
	tweakCipher cipher.Block
	sectorSize  int
}

// NewXTS constructs an XTS cipher for the given data/tweak keys and sector
// size (the PFS block_size).
func NewXTS(dataKey, tweakKey [16]byte, sectorSize int) (*XTS, error) {
	dc, err := aes.NewCipher(dataKey[:])
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindCryptoMismatch, err, "pkgcrypto: xts data cipher")
	}
	tc, err := aes.NewCipher(tweakKey[:])
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindCryptoMismatch, err, "pkgcrypto: xts tweak cipher")
	}
	return &XTS{dataCipher: dc, tweakCipher: tc, sectorSize: sectorSize}, nil
}

// DecryptSector decrypts one full sector (len(buf) == sectorSize) in place.
// sectorIndex is the big-endian 128-bit tweak input (the PFS block index),
// the tweak input is the block index, big-endian, in a 16-byte block.
func (x *XTS) DecryptSector(buf []byte, sectorIndex uint64) error {
	if len(buf) != x.sectorSize {
		return pkgerr.BadStructure("pkgcrypto: xts sector length %d != sector size %d", len(buf), x.sectorSize)
	}

	var tweakBlock [16]byte
	putBE128(tweakBlock[:], sectorIndex)
	x.tweakCipher.Encrypt(tweakBlock[:], tweakBlock[:])

	bs := aes.BlockSize
	for off := 0; off < len(buf); off += bs {
		block := buf[off : off+bs]
		xorBlock(block, tweakBlock[:])
		x.dataCipher.Decrypt(block, block)
		xorBlock(block, tweakBlock[:])
		gfMulAlpha(&tweakBlock)
	}
	return nil
}

// EncryptSector is the mirror of DecryptSector, provided for symmetry and
// used by tests to produce known-ciphertext fixtures.
func (x *XTS) EncryptSector(buf []byte, sectorIndex uint64) error {
	if len(buf) != x.sectorSize {
		return pkgerr.BadStructure("pkgcrypto: xts sector length %d != sector size %d", len(buf), x.sectorSize)
	}

	var tweakBlock [16]byte
	putBE128(tweakBlock[:], sectorIndex)
	x.tweakCipher.Encrypt(tweakBlock[:], tweakBlock[:])

	bs := aes.BlockSize
	for off := 0; off < len(buf); off += bs {
		block := buf[off : off+bs]
		xorBlock(block, tweakBlock[:])
		x.dataCipher.Encrypt(block, block)
		xorBlock(block, tweakBlock[:])
		gfMulAlpha(&tweakBlock)
	}
	return nil
}

func putBE128(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[15-i] = byte(v >> (8 * uint(i)))
	}
}

func xorBlock(dst, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}

// gfMulAlpha multiplies the 128-bit little-endian-interpreted block by the
// fixed element alpha = x in GF(2^128), as XTS's tweak chaining requires.
func gfMulAlpha(block *[16]byte) {
	var carry byte
	for i := 0; i < 16; i++ {
		cur := block[i]
		block[i] = (cur << 1) | carry
		carry = cur >> 7
	}
	if carry != 0 {
		block[0] ^= 0x87
	}
}
