package container

import (
	"github.com/ps4dev/pkgfs/internal/pkgcrypto"
	"github.com/ps4dev/pkgfs/internal/pkgerr"
)

// readMetaRaw reads a meta entry's on-disk bytes verbatim (its
// ciphertext, if encrypted), performing no decryption.
func (r *Reader) readMetaRaw(e MetaEntry) ([]byte, error) {
	return r.view.ReadExact(e.DataOffset, e.DiskSize())
}

// ExtractEntry looks up the meta entry with the given id and extracts it.
func (r *Reader) ExtractEntry(id MetaID, decrypt bool) ([]byte, error) {
	e, ok := r.MetaByID(id)
	if !ok {
		return nil, pkgerr.BadStructure("container: no meta entry with id %#x", uint16(id))
	}
	return r.ExtractMeta(e, decrypt)
}

// ExtractMeta reads e's logical data_size bytes, decrypting first if e is
// encrypted and decrypt is true. If e is encrypted and decrypt is false,
// the raw on-disk ciphertext (disk_size bytes, a multiple of 16) is
// returned instead.
func (r *Reader) ExtractMeta(e MetaEntry, decrypt bool) ([]byte, error) {
	raw, err := r.readMetaRaw(e)
	if err != nil {
		return nil, err
	}
	if !e.Encrypted() {
		return raw, nil
	}
	if !decrypt {
		return raw, nil
	}
	key, iv, err := r.entryKey(e)
	if err != nil {
		return nil, err
	}
	pt, err := pkgcrypto.DecryptCBC(key, iv, raw)
	if err != nil {
		return nil, err
	}
	if int64(len(pt)) < e.DataSize {
		return nil, pkgerr.BadStructure("container: decrypted entry %d shorter than data_size", e.Index)
	}
	return pt[:e.DataSize], nil
}

// entryKey derives the AES-CBC key/IV for e: a passcode-derived per-entry
// key when key_index < 3, or the IMAGE_KEY-derived cipher when
// key_index == 3.
func (r *Reader) entryKey(e MetaEntry) (key, iv [16]byte, err error) {
	if e.KeyIndex < 3 {
		if r.passcode == nil {
			return key, iv, pkgerr.MissingKey("container: entry %d needs a passcode-derived key, none resolved", e.Index)
		}
		key, iv = pkgcrypto.DeriveEntryKey(r.header.ContentID, r.passcode, e.Index, uint16(e.ID))
		return key, iv, nil
	}
	if r.imageKeyData == nil {
		return key, iv, pkgerr.MissingKey("container: entry %d needs the IMAGE_KEY blob, none resolved", e.Index)
	}
	return pkgcrypto.ImageKeyToEntryCipher(r.imageKeyData)
}

// ExtractEntitlementKey decrypts the LICENSE_DAT entry and returns the
// 16-byte entitlement key embedded in its Secret field. Valid only for
// AC/AL content types.
func (r *Reader) ExtractEntitlementKey() ([16]byte, error) {
	var key [16]byte
	e, ok := r.MetaByID(MetaLicenseDat)
	if !ok {
		return key, pkgerr.BadStructure("container: no LICENSE_DAT entry")
	}
	plain, err := r.ExtractMeta(e, true)
	if err != nil {
		return key, err
	}
	if int64(len(plain)) < licenseSecretSize {
		return key, pkgerr.BadStructure("container: LICENSE_DAT shorter than the Secret field")
	}
	return pkgcrypto.ExtractEntitlementKey(plain[:licenseSecretSize])
}
