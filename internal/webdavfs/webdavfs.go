// Package webdavfs adapts a *pfs.Reader to golang.org/x/net/webdav.FileSystem,
// so a package's inner tree can be browsed remotely without a kernel FUSE
// module, the way internal/fusefs presents it locally.
//
// golang.org/x/net is already a required dependency in go.mod; this
// reaches for its webdav subpackage instead
// of a third-party WebDAV server, the same way internal/fusefs reaches for
// its own already-required jacobsa/fuse.
package webdavfs

import (
	"context"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"golang.org/x/net/webdav"
	"golang.org/x/xerrors"

	"github.com/ps4dev/pkgfs/internal/pfs"
)

var errReadOnly = xerrors.New("webdavfs: filesystem is read-only")

// FS adapts a single opened *pfs.Reader for read-only WebDAV serving.
type FS struct {
	reader *pfs.Reader
}

// New returns an FS presenting r's tree.
func New(r *pfs.Reader) *FS {
	return &FS{reader: r}
}

func (fs *FS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	return errReadOnly
}

func (fs *FS) RemoveAll(ctx context.Context, name string) error {
	return errReadOnly
}

func (fs *FS) Rename(ctx context.Context, oldName, newName string) error {
	return errReadOnly
}

func (fs *FS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	ino, err := fs.reader.LookupPath(name)
	if err != nil {
		return nil, os.ErrNotExist
	}
	info, err := fs.reader.Stat(ino)
	if err != nil {
		return nil, err
	}
	return fileInfo{name: baseName(name), info: info}, nil
}

func baseName(name string) string {
	trimmed := strings.TrimSuffix(name, "/")
	if trimmed == "" {
		return "/"
	}
	return path.Base(trimmed)
}

// writeFlags is the set of os.O_* bits that imply a mutation; OpenFile
// rejects any open that sets one of them since the tree is read-only.
const writeFlags = os.O_WRONLY | os.O_RDWR | os.O_CREATE | os.O_TRUNC | os.O_APPEND | os.O_EXCL

func (fs *FS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	if flag&writeFlags != 0 {
		return nil, errReadOnly
	}
	ino, err := fs.reader.LookupPath(name)
	if err != nil {
		return nil, os.ErrNotExist
	}
	info, err := fs.reader.Stat(ino)
	if err != nil {
		return nil, err
	}
	fi := fileInfo{name: baseName(name), info: info}

	if info.Type == pfs.NodeDir {
		entries, err := fs.reader.Readdir(ino)
		if err != nil {
			return nil, err
		}
		children := make([]os.FileInfo, 0, len(entries))
		for _, e := range entries {
			einfo, err := fs.reader.Stat(e.Inode)
			if err != nil {
				return nil, err
			}
			children = append(children, fileInfo{name: e.Name, info: einfo})
		}
		return &openFile{info: fi, children: children}, nil
	}

	sr, err := fs.reader.FileView(ino)
	if err != nil {
		return nil, err
	}
	return &openFile{info: fi, reader: sr}, nil
}

// fileInfo implements os.FileInfo over a pfs.Info. PFS carries no
// modification time at the node level (only the volume-wide Time1Sec), so
// ModTime returns the zero time.
type fileInfo struct {
	name string
	info pfs.Info
}

func (fi fileInfo) Name() string { return fi.name }
func (fi fileInfo) Size() int64  { return fi.info.Size }
func (fi fileInfo) Mode() os.FileMode {
	if fi.info.Type == pfs.NodeDir {
		return os.ModeDir | 0o555
	}
	return 0o444
}
func (fi fileInfo) ModTime() time.Time { return time.Time{} }
func (fi fileInfo) IsDir() bool        { return fi.info.Type == pfs.NodeDir }
func (fi fileInfo) Sys() interface{}   { return nil }

// openFile is the webdav.File handle OpenFile returns: a read-only view of
// either a file's byte range (reader != nil) or a directory's children
// (children != nil).
type openFile struct {
	info     fileInfo
	reader   *io.SectionReader
	children []os.FileInfo
	dirPos   int
}

func (f *openFile) Read(p []byte) (int, error) {
	if f.reader == nil {
		return 0, xerrors.New("webdavfs: read of a directory")
	}
	return f.reader.Read(p)
}

func (f *openFile) Seek(offset int64, whence int) (int64, error) {
	if f.reader == nil {
		return 0, xerrors.New("webdavfs: seek of a directory")
	}
	return f.reader.Seek(offset, whence)
}

func (f *openFile) Write(p []byte) (int, error) {
	return 0, errReadOnly
}

func (f *openFile) Close() error { return nil }

func (f *openFile) Stat() (os.FileInfo, error) {
	return f.info, nil
}

func (f *openFile) Readdir(count int) ([]os.FileInfo, error) {
	if f.children == nil {
		return nil, xerrors.New("webdavfs: not a directory")
	}
	if count <= 0 {
		rest := f.children[f.dirPos:]
		f.dirPos = len(f.children)
		return rest, nil
	}
	if f.dirPos >= len(f.children) {
		return nil, io.EOF
	}
	end := f.dirPos + count
	if end > len(f.children) {
		end = len(f.children)
	}
	out := f.children[f.dirPos:end]
	f.dirPos = end
	return out, nil
}
