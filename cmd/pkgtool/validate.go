package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ps4dev/pkgfs/internal/container"
)

const validateHelp = `pkgtool validate [-flags] <pkg>

Verify header, entry and pfs image digests. Exits non-zero if any check
fails.
`

func cmdValidate(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("validate", flag.ExitOnError)
	var (
		keystorePath = fset.String("keystore", defaultKeystorePath(), "path to the key store")
		passcode     = fset.String("passcode", "", "explicit 32-character passcode")
		quiet        = fset.Bool("quiet", false, "only print failing checks")
	)
	fset.Usage = usage(fset, validateHelp)
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

	results, err := o.reader.Validate(ctx)
	if err != nil {
		return err
	}

	failed := 0
	for _, res := range results {
		if res.Status == container.StatusFail {
			failed++
		} else if *quiet {
			continue
		}
		fmt.Printf("[%-5s] 0x%08x %-24s %s\n", res.Status, res.Location, res.Name, res.Description)
	}
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d checks failed\n", failed, len(results))
		os.Exit(1)
	}
	return nil
}
