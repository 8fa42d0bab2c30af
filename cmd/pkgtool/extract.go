package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
)

const extractHelp = `pkgtool extract [-flags] <pkg> <outdir>

Extract one meta entry (-name) or all meta entries to outdir.
`

func cmdExtract(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("extract", flag.ExitOnError)
	var (
		keystorePath = fset.String("keystore", defaultKeystorePath(), "path to the key store")
		passcode     = fset.String("passcode", "", "explicit 32-character passcode")
		name         = fset.String("name", "", "extract only the meta entry with this name (default: extract all)")
		decrypt      = fset.Bool("decrypt", true, "decrypt entries that carry key material")
	)
	fset.Usage = usage(fset, extractHelp)
	fset.Parse(args)
	if fset.NArg() != 2 {
		fset.Usage()
		return fmt.Errorf("expected <pkg> and <outdir> arguments")
	}
	outdir := fset.Arg(1)

	o, err := openPkg(fset.Arg(0), *keystorePath, *passcode)
	if err != nil {
		return err
	}
	defer o.saveKeystore()

	if err := os.MkdirAll(outdir, 0o755); err != nil {
		return err
	}

	r := o.reader
	for _, e := range r.Metas() {
		entryName, ok := r.EntryName(e)
		if !ok {
			entryName = fmt.Sprintf("0x%04x", uint16(e.ID))
		}
		if *name != "" && entryName != *name {
			continue
		}
		data, err := r.ExtractMeta(e, *decrypt)
		if err != nil {
			return fmt.Errorf("extracting %s: %w", entryName, err)
		}
		if err := os.WriteFile(filepath.Join(outdir, entryName), data, 0o644); err != nil {
			return err
		}
		fmt.Printf("wrote %s (%d bytes)\n", entryName, len(data))
	}
	return nil
}
