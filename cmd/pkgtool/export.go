package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/ps4dev/pkgfs/internal/export"
)

const exportHelp = `pkgtool export [-flags] <pkg> <outdir>

Export a PKG's contents as a GP4 project tree (uroot files plus a
Project.gp4 descriptor) under outdir.
`

// terminalProgress reports percent-complete on a single overwritten line
// when stdout is a terminal, and as one log line per update otherwise.
type terminalProgress struct {
	tty bool
}

func newTerminalProgress() terminalProgress {
	return terminalProgress{tty: isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())}
}

func (p terminalProgress) Report(percent int, message string) {
	if p.tty {
		fmt.Printf("\r\x1b[K[%3d%%] %s", percent, message)
		if percent >= 100 {
			fmt.Println()
		}
		return
	}
	fmt.Printf("[%3d%%] %s\n", percent, message)
}

func cmdExport(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("export", flag.ExitOnError)
	var (
		keystorePath = fset.String("keystore", defaultKeystorePath(), "path to the key store")
		passcode     = fset.String("passcode", "", "explicit 32-character passcode")
		decrypt      = fset.Bool("decrypt", true, "write sce_sys meta entries decrypted")
	)
	fset.Usage = usage(fset, exportHelp)
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

	proj, err := export.Export(ctx, o.reader, outdir, export.Options{
		Passcode:       *passcode,
		DecryptEntries: *decrypt,
	}, newTerminalProgress())
	if err != nil {
		return err
	}
	fmt.Printf("exported %s to %s\n", proj.ContentID, outdir)
	return nil
}
