package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/ps4dev/pkgfs/internal/container"
)

const infoHelp = `pkgtool info [-flags] <pkg>

Print a PKG's header, content type, and meta entries.
`

func cmdInfo(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("info", flag.ExitOnError)
	var (
		keystorePath = fset.String("keystore", defaultKeystorePath(), "path to the key store")
		passcode     = fset.String("passcode", "", "explicit 32-character passcode, if the key ladder can't recover one")
	)
	fset.Usage = usage(fset, infoHelp)
	fset.Parse(args)
	if fset.NArg() != 1 {
		fset.Usage()
		return fmt.Errorf("expected exactly one <pkg> argument")
	}

	o, err := openPkg(fset.Arg(0), *keystorePath, *passcode)
	if err != nil {
		return err
	}
	defer o.saveKeystore()

	r := o.reader
	h := r.Header()
	fmt.Printf("content_id:    %s\n", h.ContentID)
	fmt.Printf("content_type:  %s\n", h.ContentType)
	fmt.Printf("package_size:  %d\n", h.PackageSize)
	fmt.Printf("pfs_image:     offset=%d size=%d\n", h.PfsImageOffset, h.PfsImageSize)
	if p, ok := r.Passcode(); ok {
		fmt.Printf("passcode:      %s\n", p)
	} else {
		fmt.Printf("passcode:      (not recovered)\n")
	}
	fmt.Printf("filesystem:    accessible=%v\n", r.IsFileSystemAccessible())
	if err := r.PFSError(); err != nil {
		fmt.Printf("pfs_error:     %v\n", err)
	}

	fmt.Printf("\nmeta entries:\n")
	for _, e := range r.Metas() {
		name, _ := r.EntryName(e)
		generated := ""
		if container.GeneratedAtPackaging(e.ID, name) {
			generated = " (generated)"
		}
		fmt.Printf("  [%3d] id=0x%04x %-24s offset=%-10d size=%-10d encrypted=%v%s\n",
			e.Index, uint16(e.ID), name, e.DataOffset, e.DataSize, e.Encrypted(), generated)
	}
	return nil
}
