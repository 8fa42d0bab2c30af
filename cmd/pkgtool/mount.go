package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/ps4dev/pkgfs/internal/fusefs"
)

const mountHelp = `pkgtool mount [-flags] <pkg> <mountpoint>

Mount the inner PFS tree read-only over FUSE at mountpoint. Blocks
until interrupted (Ctrl-C) or the mountpoint is unmounted externally.
`

func cmdMount(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("mount", flag.ExitOnError)
	var (
		keystorePath = fset.String("keystore", defaultKeystorePath(), "path to the key store")
		passcode     = fset.String("passcode", "", "explicit 32-character passcode")
	)
	fset.Usage = usage(fset, mountHelp)
	fset.Parse(args)
	if fset.NArg() != 2 {
		fset.Usage()
		return fmt.Errorf("expected <pkg> and <mountpoint> arguments")
	}

	o, err := openPkg(fset.Arg(0), *keystorePath, *passcode)
	if err != nil {
		return err
	}
	defer o.saveKeystore()

	if !o.reader.IsFileSystemAccessible() {
		return fmt.Errorf("inner filesystem is not accessible: %v", o.reader.PFSError())
	}

	join, err := fusefs.Mount(ctx, o.reader.PFS(), fset.Arg(1))
	if err != nil {
		return err
	}
	fmt.Printf("mounted at %s, press Ctrl-C to unmount\n", fset.Arg(1))
	return join(ctx)
}
