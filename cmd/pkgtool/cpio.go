package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ps4dev/pkgfs/internal/cpioexport"
)

const cpioHelp = `pkgtool cpio [-flags] <pkg> <outfile>

Stream the inner PFS uroot tree as a cpio archive to outfile, or to
stdout if outfile is "-".
`

func cmdCpio(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("cpio", flag.ExitOnError)
	var (
		keystorePath = fset.String("keystore", defaultKeystorePath(), "path to the key store")
		passcode     = fset.String("passcode", "", "explicit 32-character passcode")
		gzip         = fset.Bool("gzip", false, "wrap the archive in parallel gzip compression")
	)
	fset.Usage = usage(fset, cpioHelp)
	fset.Parse(args)
	if fset.NArg() != 2 {
		fset.Usage()
		return fmt.Errorf("expected <pkg> and <outfile> arguments")
	}

	o, err := openPkg(fset.Arg(0), *keystorePath, *passcode)
	if err != nil {
		return err
	}
	defer o.saveKeystore()

	if !o.reader.IsFileSystemAccessible() {
		return fmt.Errorf("inner filesystem is not accessible: %v", o.reader.PFSError())
	}

	out := os.Stdout
	if fset.Arg(1) != "-" {
		f, err := os.Create(fset.Arg(1))
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	bw := bufio.NewWriter(out)
	if err := cpioexport.Export(ctx, o.reader.PFS(), bw, cpioexport.Options{Gzip: *gzip}); err != nil {
		return err
	}
	return bw.Flush()
}
