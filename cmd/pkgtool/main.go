// Command pkgtool inspects, validates, extracts and serves PS4 PKG
// containers.
//
// Grounded on cmd/distri/distri.go's dispatch: a map of verb -> func(ctx,
// args) error, flag.Args()[0] selecting the verb, a -debug flag toggling
// %+v-style error detail, and distri.InterruptibleContext/RunAtExit for
// SIGINT-driven shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ps4dev/pkgfs"
)

var debug = flag.Bool("debug", false, "enable debug mode: format error messages with additional detail")

const helpText = `pkgtool [-flags] <command> [-flags] <args>

Commands:
	info      - print a PKG's header, content type and metadata entries
	extract   - extract one or all meta entries to a directory
	validate  - verify header/entry/pfs digests
	export    - export a PKG's contents as a GP4 project tree
	mount     - mount the inner PFS tree read-only over FUSE
	serve     - serve the inner PFS tree read-only over WebDAV
	cpio      - stream the inner PFS uroot tree as a cpio archive

To get help on any command, use pkgtool <command> -help.
`

func funcmain() error {
	flag.Parse()

	type cmd struct {
		fn func(ctx context.Context, args []string) error
	}
	verbs := map[string]cmd{
		"info":     {cmdInfo},
		"extract":  {cmdExtract},
		"validate": {cmdValidate},
		"export":   {cmdExport},
		"mount":    {cmdMount},
		"serve":    {cmdServe},
		"cpio":     {cmdCpio},
	}

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, helpText)
		os.Exit(2)
	}
	verb, args := args[0], args[1:]
	if verb == "help" {
		fmt.Fprint(os.Stderr, helpText)
		os.Exit(2)
	}

	v, ok := verbs[verb]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", verb)
		fmt.Fprint(os.Stderr, helpText)
		os.Exit(2)
	}

	ctx, canc := pkgfs.InterruptibleContext()
	defer canc()

	if err := v.fn(ctx, args); err != nil {
		if *debug {
			return fmt.Errorf("%s: %+v", verb, err)
		}
		return fmt.Errorf("%s: %v", verb, err)
	}
	return pkgfs.RunAtExit()
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
