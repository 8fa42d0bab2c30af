// Package cpioexport streams a PFS uroot tree out as a cpio archive,
// optionally gzip-compressed in parallel — an alternate sink the project
// exporter's tree walk can feed instead of writing loose files to disk,
// useful for piping a package's content to another host.
//
// Grounded on cmd/distri/initrd.go's initrdWriter: the mkdir-parents-once
// bookkeeping, the cpio.Header{Name,Mode,Size} + io.Copy body-write
// pattern, and the cpio.Writer -> pgzip.Writer chain feeding one output
// stream.
package cpioexport

import (
	"context"
	"io"
	"strings"

	"github.com/cavaliercoder/go-cpio"
	"github.com/klauspost/pgzip"
	"golang.org/x/xerrors"

	"github.com/ps4dev/pkgfs/internal/pfs"
)

// Options controls how the tree is streamed.
type Options struct {
	// Gzip wraps the cpio stream in a parallel gzip.Writer.
	Gzip bool
}

// Export streams every file and directory under r's uroot tree to w as a
// cpio archive, in the same breadth-first order pfs.Reader.Walk visits
// them. Directory entries are synthesized as needed so every file's parent
// path exists in the archive even if Walk hasn't visited that directory's
// own entry yet.
func Export(ctx context.Context, r *pfs.Reader, w io.Writer, opts Options) error {
	dst := w
	var gz *pgzip.Writer
	if opts.Gzip {
		gz = pgzip.NewWriter(w)
		dst = gz
	}
	cw := cpio.NewWriter(dst)

	dirsWritten := map[string]bool{"": true}
	var writeDirs func(dir string) error
	writeDirs = func(dir string) error {
		if dir == "" || dirsWritten[dir] {
			return nil
		}
		parent := ""
		if idx := strings.LastIndex(dir, "/"); idx >= 0 {
			parent = dir[:idx]
		}
		if err := writeDirs(parent); err != nil {
			return err
		}
		dirsWritten[dir] = true
		if err := cw.WriteHeader(&cpio.Header{Name: dir, Mode: cpio.ModeDir | 0o755}); err != nil {
			return xerrors.Errorf("cpioexport: write dir header %q: %w", dir, err)
		}
		return nil
	}

	walkErr := r.Walk(r.Root(), "", func(p string, entry pfs.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel := strings.TrimPrefix(p, "/")

		if entry.Type == pfs.NodeDir {
			return writeDirs(rel)
		}

		parent := ""
		if idx := strings.LastIndex(rel, "/"); idx >= 0 {
			parent = rel[:idx]
		}
		if err := writeDirs(parent); err != nil {
			return err
		}

		info, err := r.Stat(entry.Inode)
		if err != nil {
			return xerrors.Errorf("cpioexport: stat %q: %w", rel, err)
		}
		if err := cw.WriteHeader(&cpio.Header{
			Name: rel,
			Mode: cpio.FileMode(0o644),
			Size: info.Size,
		}); err != nil {
			return xerrors.Errorf("cpioexport: write file header %q: %w", rel, err)
		}
		sr, err := r.FileView(entry.Inode)
		if err != nil {
			return xerrors.Errorf("cpioexport: open %q: %w", rel, err)
		}
		if _, err := io.Copy(cw, sr); err != nil {
			return xerrors.Errorf("cpioexport: copy %q: %w", rel, err)
		}
		return nil
	})
	if walkErr != nil {
		return walkErr
	}

	if err := cw.Close(); err != nil {
		return xerrors.Errorf("cpioexport: close cpio writer: %w", err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return xerrors.Errorf("cpioexport: close gzip writer: %w", err)
		}
	}
	return nil
}
