package pkgcrypto

import "github.com/ps4dev/pkgfs/internal/pkgerr"

var (
	errShortImageKey = pkgerr.BadStructure("pkgcrypto: decrypted IMAGE_KEY blob shorter than 32 bytes")
	errShortSecret   = pkgerr.BadStructure("pkgcrypto: decrypted license.dat Secret shorter than 0x80 bytes")
)

// debugImageKey is the fixed AES-128 key used to recover EKPFS directly
// from an IMAGE_KEY meta entry, and to decrypt a license.dat Secret field,
// without needing the package's passcode. Like pfsGenCryptoFixedKey, this
// is a documented fixed constant rather than something derived per-package.
var debugImageKey = [16]byte{
	0x71, 0x37, 0x51, 0x98, 0xE0, 0x49, 0x92, 0xF3,
	0x7C, 0xB6, 0xA3, 0x66, 0xA1, 0x10, 0xE4, 0xCD,
}

// DecryptImageKeyEntry decrypts an IMAGE_KEY meta entry's ciphertext with
// the debug key (AES-128-CBC, zero IV) and returns the 32-byte EKPFS it
// carries directly, bypassing passcode-based derivation.
func DecryptImageKeyEntry(ciphertext []byte) ([]byte, error) {
	pt, err := DecryptCBC(debugImageKey, [16]byte{}, ciphertext)
	if err != nil {
		return nil, err
	}
	if len(pt) < 32 {
		return nil, errShortImageKey
	}
	return pt[:32], nil
}

// ExtractEntitlementKey decrypts an AC/AL package's license.dat Secret
// field with the debug key and returns the 16-byte entitlement key stored
// at bytes [0x70, 0x80) of the decrypted plaintext.
func ExtractEntitlementKey(secret []byte) ([16]byte, error) {
	var key [16]byte
	pt, err := DecryptCBC(debugImageKey, [16]byte{}, secret)
	if err != nil {
		return key, err
	}
	if len(pt) < 0x80 {
		return key, errShortSecret
	}
	copy(key[:], pt[0x70:0x80])
	return key, nil
}

// ImageKeyToEntryCipher derives the CBC key+IV used for meta entries whose
// key_index == 3: the first and second halves of the decrypted IMAGE_KEY
// blob, reused directly rather than re-derived per entry.
func ImageKeyToEntryCipher(imageEKPFS []byte) (key, iv [16]byte, err error) {
	if len(imageEKPFS) < 32 {
		return key, iv, errShortImageKey
	}
	copy(key[:], imageEKPFS[0:16])
	copy(iv[:], imageEKPFS[16:32])
	return key, iv, nil
}
