package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ps4dev/pkgfs"
	"github.com/ps4dev/pkgfs/internal/container"
	"github.com/ps4dev/pkgfs/internal/keystore"
	"github.com/ps4dev/pkgfs/internal/pkgio"
)

func usage(fset *flag.FlagSet, helpText string) func() {
	return func() {
		fmt.Fprintln(os.Stderr, helpText)
		fmt.Fprintf(os.Stderr, "Flags for pkgtool %s:\n", fset.Name())
		fset.PrintDefaults()
	}
}

func defaultKeystorePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "pkgtool-keystore.json"
	}
	return filepath.Join(dir, "pkgtool", "keystore.json")
}

// opened is a PKG opened for a subcommand: the container reader plus the
// key store it was opened against, so a newly-recovered passcode can be
// persisted back for the next invocation.
type opened struct {
	reader       *container.Reader
	store        *keystore.Store
	keystorePath string
}

// openPkg mmaps pkgPath, loads (or creates) the key store at keystorePath,
// opens the container, registers the container for release on exit, and —
// if passcode is non-empty and the ladder didn't already resolve the
// filesystem — tries it explicitly and retries opening the inner PFS
// reader.
func openPkg(pkgPath, keystorePath, passcode string) (*opened, error) {
	view, err := pkgio.OpenMmap(pkgPath)
	if err != nil {
		return nil, err
	}
	store, err := keystore.Load(keystorePath)
	if err != nil {
		return nil, err
	}
	r, err := container.Open(view, store)
	if err != nil {
		return nil, err
	}
	pkgfs.RegisterAtExit(r.Close)
	if passcode != "" && !r.IsFileSystemAccessible() {
		if r.TryPasscode(passcode) {
			if err := r.RetryOpenPFS(); err != nil {
				return nil, err
			}
		}
	}
	return &opened{reader: r, store: store, keystorePath: keystorePath}, nil
}

// saveKeystore persists any key material the ladder (or an explicit
// -passcode) recovered this run, so later invocations skip straight past
// the zero-passcode/cached-passcode rungs.
func (o *opened) saveKeystore() error {
	return o.store.Save(o.keystorePath)
}
