package container

import (
	"context"
	"crypto/sha256"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/ps4dev/pkgfs/internal/pkgerr"
)

// ValidationStatus is one check's outcome.
type ValidationStatus int

const (
	StatusOk ValidationStatus = iota
	StatusFail
	StatusNoKey
)

func (s ValidationStatus) String() string {
	switch s {
	case StatusOk:
		return "Ok"
	case StatusFail:
		return "Fail"
	case StatusNoKey:
		return "NoKey"
	default:
		return "Unknown"
	}
}

// ValidationResult is one row of validate()'s output.
type ValidationResult struct {
	Name        string
	Description string
	Location    uint64
	Status      ValidationStatus
}

type validation struct {
	name, description string
	location          uint64
	run               func(r *Reader) (ValidationStatus, error)
}

// Validate runs every configured check — per-entry digests (against the
// DIGESTS meta table), the pfs image digest, and the header digest — and
// returns results ordered by ascending location. Individual check failures,
// including a check's own read errors, never abort the run; they are
// reported as StatusFail (or StatusNoKey when a key is missing).
func (r *Reader) Validate(ctx context.Context) ([]ValidationResult, error) {
	checks := r.buildValidations()

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	results := make([]ValidationResult, len(checks))
	for i, c := range checks {
		i, c := i, c
		g.Go(func() error {
			status, err := c.run(r)
			if err != nil {
				return err
			}
			results[i] = ValidationResult{
				Name:        c.name,
				Description: c.description,
				Location:    c.location,
				Status:      status,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Location < results[j].Location })
	return results, nil
}

func (r *Reader) buildValidations() []validation {
	var checks []validation

	if e, ok := r.MetaByID(MetaDigests); ok {
		digestsRaw, err := r.ExtractMeta(e, true)
		if err == nil {
			for _, m := range r.metas {
				if generatedAtPackaging[m.ID] {
					continue
				}
				m := m
				idx := m.Index
				start := idx * sha256.Size
				checks = append(checks, validation{
					name:        "entry-digest",
					description: "SHA-256 of decrypted entry " + entryLabel(r, m),
					location:    uint64(m.DataOffset),
					run: func(r *Reader) (ValidationStatus, error) {
						if start+sha256.Size > len(digestsRaw) {
							return StatusFail, nil
						}
						expected := digestsRaw[start : start+sha256.Size]
						plain, err := r.ExtractMeta(m, true)
						if err != nil {
							if pkgerr.Is(err, pkgerr.KindMissingKey) {
								return StatusNoKey, nil
							}
							return StatusFail, nil
						}
						sum := sha256.Sum256(plain)
						if string(sum[:]) != string(expected) {
							return StatusFail, nil
						}
						return StatusOk, nil
					},
				})
			}
		}
	}

	if r.header.PfsImageSize > 0 {
		checks = append(checks, validation{
			name:        "pfs-image-digest",
			description: "SHA-256 of the raw pfs_image region",
			location:    uint64(r.header.PfsImageOffset),
			run: func(r *Reader) (ValidationStatus, error) {
				raw, err := r.view.ReadExact(r.header.PfsImageOffset, r.header.PfsImageSize)
				if err != nil {
					return StatusFail, nil
				}
				sum := sha256.Sum256(raw)
				if sum != r.header.PfsImageDigest {
					return StatusFail, nil
				}
				return StatusOk, nil
			},
		})
	}

	checks = append(checks, validation{
		name:        "header-digest",
		description: "digest over the fixed PkgHeader region",
		location:    0,
		run: func(r *Reader) (ValidationStatus, error) {
			raw, err := r.view.ReadExact(0, headerDigestRegionSize)
			if err != nil {
				return StatusFail, nil
			}
			sum := sha256.Sum256(raw)
			if sum != r.header.HeaderDigest {
				return StatusFail, nil
			}
			return StatusOk, nil
		},
	})

	return checks
}

// headerDigestRegionSize is the byte range the header digest covers: every
// field preceding HeaderDigest itself.
const headerDigestRegionSize = 204 - 32 - 36

func entryLabel(r *Reader, e MetaEntry) string {
	if name, ok := r.EntryName(e); ok {
		return name
	}
	return "unknown"
}
