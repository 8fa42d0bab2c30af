package container

import (
	"fmt"

	"github.com/ps4dev/pkgfs/internal/keystore"
	"github.com/ps4dev/pkgfs/internal/pkgcrypto"
)

// runKeyLadder attempts, in the documented order, to recover key material
// for the package: zero passcode, cached passcode, the IMAGE_KEY entry
// decrypted with the debug key, cached EKPFS, then an explicit cached XTS
// data/tweak pair. The first rung that verifies wins; failure to resolve
// any rung is not an error, it just leaves the package's PFS image
// inaccessible.
func (r *Reader) runKeyLadder() {
	if r.tryPasscode(zeroPasscode) {
		return
	}
	if r.store != nil {
		if e, ok := r.store.Get(r.header.ContentID); ok && e.Passcode != nil {
			if r.tryPasscode(string(e.Passcode)) {
				return
			}
		}
	}
	if r.tryImageKeyEntry() {
		return
	}
	if r.store != nil {
		if e, ok := r.store.Get(r.header.ContentID); ok && e.EKPFS != nil {
			if r.tryEKPFS(e.EKPFS) {
				return
			}
		}
	}
	if r.store != nil {
		for _, key := range r.xtsCacheKeys() {
			if e, ok := r.store.Get(key); ok && e.XTS != nil {
				if r.tryXTS(e.XTS.Data, e.XTS.Tweak) {
					return
				}
			}
		}
	}
}

// xtsCacheKeys returns the content_id-derived keys under which an explicit
// XTS pair may be cached: the bare content_id, and content_id suffixed with
// the first 8 hex characters of the pfs_image_digest.
func (r *Reader) xtsCacheKeys() []string {
	digestPrefix := fmt.Sprintf("%x", r.header.PfsImageDigest[:4])
	return []string{
		r.header.ContentID,
		r.header.ContentID + "-" + digestPrefix,
	}
}

// checkPasscode recomputes EKPFS from contentID+p and verifies it against
// the header-embedded MAC.
func (r *Reader) checkPasscode(p string) ([]byte, bool) {
	return pkgcrypto.CheckPasscode(r.header.ContentID, []byte(p), r.header.EkpfsMAC[:])
}

// checkEKPFS verifies a candidate EKPFS (recovered by any ladder step)
// against the header-embedded MAC.
func (r *Reader) checkEKPFS(ekpfs []byte) bool {
	return pkgcrypto.CheckEKPFS(ekpfs, r.header.ContentID, r.header.EkpfsMAC[:])
}

// TryPasscode is the public form of the ladder's passcode path: it
// recomputes EKPFS and, on success, caches the passcode under the
// package's content_id.
func (r *Reader) TryPasscode(p string) bool { return r.tryPasscode(p) }

func (r *Reader) tryPasscode(p string) bool {
	ekpfs, ok := r.checkPasscode(p)
	if !ok {
		return false
	}
	r.passcode = []byte(p)
	r.ekpfs = ekpfs
	r.haveEKPFS = true
	if r.store != nil {
		r.store.Put(r.header.ContentID, keystore.Entry{Passcode: r.passcode, EKPFS: r.ekpfs})
	}
	return true
}

// TryEKPFS is the public form of the ladder's direct-EKPFS path.
func (r *Reader) TryEKPFS(ekpfs []byte) bool { return r.tryEKPFS(ekpfs) }

func (r *Reader) tryEKPFS(ekpfs []byte) bool {
	if !r.checkEKPFS(ekpfs) {
		return false
	}
	r.ekpfs = ekpfs
	r.haveEKPFS = true
	if r.store != nil {
		r.store.Put(r.header.ContentID, keystore.Entry{EKPFS: ekpfs})
	}
	return true
}

// TryXTS is the public form of the ladder's explicit-key path: there is no
// independent way to verify an explicit XTS pair against the header MAC, so
// it is accepted unconditionally and cached; a wrong pair surfaces later as
// a PFS superblock parse failure.
func (r *Reader) TryXTS(data, tweak [16]byte) bool { return r.tryXTS(data[:], tweak[:]) }

func (r *Reader) tryXTS(data, tweak []byte) bool {
	if len(data) != 16 || len(tweak) != 16 {
		return false
	}
	copy(r.xtsData[:], data)
	copy(r.xtsTweak[:], tweak)
	r.haveXTS = true
	if r.store != nil {
		r.store.Put(r.header.ContentID, keystore.Entry{XTS: &keystore.XTSKeys{Data: data, Tweak: tweak}})
	}
	return true
}

// tryImageKeyEntry decrypts the IMAGE_KEY meta entry (if present) with the
// fixed debug key and feeds the recovered EKPFS through tryEKPFS.
func (r *Reader) tryImageKeyEntry() bool {
	e, ok := r.MetaByID(MetaImageKey)
	if !ok {
		return false
	}
	raw, err := r.readMetaRaw(e)
	if err != nil {
		return false
	}
	ekpfs, err := pkgcrypto.DecryptImageKeyEntry(raw)
	if err != nil {
		return false
	}
	r.imageKeyData = ekpfs
	return r.tryEKPFS(ekpfs)
}
