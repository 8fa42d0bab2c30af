package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/net/webdav"

	"github.com/ps4dev/pkgfs/internal/webdavfs"
)

const serveHelp = `pkgtool serve [-flags] <pkg>

Serve the inner PFS tree read-only over WebDAV. Blocks until
interrupted.
`

func cmdServe(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("serve", flag.ExitOnError)
	var (
		keystorePath = fset.String("keystore", defaultKeystorePath(), "path to the key store")
		passcode     = fset.String("passcode", "", "explicit 32-character passcode")
		listen       = fset.String("listen", "localhost:8421", "address to serve WebDAV on")
	)
	fset.Usage = usage(fset, serveHelp)
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

	if !o.reader.IsFileSystemAccessible() {
		return fmt.Errorf("inner filesystem is not accessible: %v", o.reader.PFSError())
	}

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		return err
	}
	handler := &webdav.Handler{
		FileSystem: webdavfs.New(o.reader.PFS()),
		LockSystem: webdav.NewMemLS(),
	}
	srv := &http.Server{Handler: handler}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	fmt.Printf("serving %s on http://%s\n", fset.Arg(0), ln.Addr())
	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errc:
		return err
	}
}
