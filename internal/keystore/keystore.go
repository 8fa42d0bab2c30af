// Package keystore persists the key material the PKG reader's key ladder
// recovers or is handed explicitly, keyed by content_id, so a later session
// can reopen the same package without re-deriving or re-prompting for it.
//
// Grounded on internal/build/build.go's renameio.TempFile usage for
// crash-safe config writes; the on-disk format is a single JSON document
// (encoding/json, stdlib — see DESIGN.md), marshaled the same way build
// manifests are.
package keystore

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/google/renameio"
	"golang.org/x/xerrors"
)

// XTSKeys is an explicit data/tweak key pair cached for a content_id that
// did not resolve through the passcode/EKPFS ladder steps.
type XTSKeys struct {
	Data  []byte `json:"data"`
	Tweak []byte `json:"tweak"`
}

// Entry is everything cached for one content_id. Any subset of fields may
// be populated.
type Entry struct {
	Passcode []byte   `json:"passcode,omitempty"`
	EKPFS    []byte   `json:"ekpfs,omitempty"`
	XTS      *XTSKeys `json:"xts,omitempty"`
}

// Store is a persisted content_id -> Entry map. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// New returns an empty, unpersisted Store.
func New() *Store {
	return &Store{entries: make(map[string]Entry)}
}

// Load reads a Store from path. A missing file is treated as an empty
// store, matching keystore's role as an optional, lazily-populated cache.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, xerrors.Errorf("keystore.Load: %w", err)
	}
	entries := make(map[string]Entry)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, xerrors.Errorf("keystore.Load: %w", err)
		}
	}
	return &Store{entries: entries}, nil
}

// Save writes the store to path atomically via a temp file + rename, so a
// crash mid-write never corrupts a previously-saved store.
func (s *Store) Save(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return xerrors.Errorf("keystore.Save: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return xerrors.Errorf("keystore.Save: %w", err)
	}
	return nil
}

// Get returns the cached entry for contentID, if any.
func (s *Store) Get(contentID string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[contentID]
	return e, ok
}

// Put merges fields into contentID's cached entry, adding new ones rather
// than discarding previously-cached fields.
func (s *Store) Put(contentID string, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.entries[contentID]
	if e.Passcode != nil {
		existing.Passcode = e.Passcode
	}
	if e.EKPFS != nil {
		existing.EKPFS = e.EKPFS
	}
	if e.XTS != nil {
		existing.XTS = e.XTS
	}
	s.entries[contentID] = existing
}
