// Package fusefs presents an opened PFS volume as a read-only FUSE
// mountpoint, one inode per PfsNode.
//
// Grounded on internal/fuse/fuse.go's fuseFS type: the method set
// (StatFS/LookUpInode/GetInodeAttributes/ReadDir/ReadFile), the
// ENOSYS-on-Open idiom, the per-inode cached io.SectionReader map, and the
// fuse.Mount/MountConfig setup are all carried over. What's dropped is
// everything downstream of fuse.go's multi-package union-overlay design
// (image-packed inode numbers, exchange directories, the scanPackages
// gRPC control plane) since a PKG only ever exposes one PFS tree.
package fusefs

import (
	"context"
	"io"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"golang.org/x/xerrors"

	"github.com/ps4dev/pkgfs/internal/pfs"
)

// never is used for FUSE attribute/entry expiration timestamps. The mounted
// volume is immutable for the lifetime of the mount, so the kernel can cache
// every lookup indefinitely; "never" is one year out rather than a sentinel,
// since FUSE has no such sentinel.
var never = time.Now().Add(365 * 24 * time.Hour)

// FS adapts a *pfs.Reader to fuseutil.FileSystem. The zero value is not
// usable; construct with New.
type FS struct {
	fuseutil.NotImplementedFileSystem

	reader *pfs.Reader

	mu         sync.Mutex
	inodeToPfs map[fuseops.InodeID]pfs.Inode
	pfsToInode map[pfs.Inode]fuseops.InodeID
	nextInode  fuseops.InodeID

	fileReadersMu sync.Mutex
	fileReaders   map[fuseops.InodeID]*io.SectionReader
}

// New returns an FS presenting r's tree, rooted at fuseops.RootInodeID.
func New(r *pfs.Reader) *FS {
	fs := &FS{
		reader:      r,
		inodeToPfs:  make(map[fuseops.InodeID]pfs.Inode),
		pfsToInode:  make(map[pfs.Inode]fuseops.InodeID),
		nextInode:   fuseops.RootInodeID,
		fileReaders: make(map[fuseops.InodeID]*io.SectionReader),
	}
	// We must support RootInodeID == 1, and the PFS root's own inode number
	// is arbitrary, so the two number spaces are kept separate and joined
	// only through inodeToPfs/pfsToInode.
	fs.inodeToPfs[fuseops.RootInodeID] = r.Root()
	fs.pfsToInode[r.Root()] = fuseops.RootInodeID
	return fs
}

// allocate returns the stable fuseops.InodeID for a pfs.Inode, minting one
// on first sight. Callers must hold fs.mu.
func (fs *FS) allocate(i pfs.Inode) fuseops.InodeID {
	if id, ok := fs.pfsToInode[i]; ok {
		return id
	}
	fs.nextInode++
	id := fs.nextInode
	fs.pfsToInode[i] = id
	fs.inodeToPfs[id] = i
	return id
}

func (fs *FS) lookupPfsInode(id fuseops.InodeID) (pfs.Inode, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	i, ok := fs.inodeToPfs[id]
	return i, ok
}

func attributesFor(info pfs.Info) fuseops.InodeAttributes {
	mode := os.FileMode(0o444)
	if info.Type == pfs.NodeDir {
		mode = os.ModeDir | 0o555
	}
	return fuseops.InodeAttributes{
		Size:  uint64(info.Size),
		Nlink: 1,
		Mode:  mode,
	}
}

func (fs *FS) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	op.BlockSize = 4096
	op.Blocks = 1
	op.BlocksFree = 0
	op.BlocksAvailable = 0
	op.IoSize = 65536
	return nil
}

func (fs *FS) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	parent, ok := fs.lookupPfsInode(op.Parent)
	if !ok {
		return fuse.ENOENT
	}
	entries, err := fs.reader.Readdir(parent)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name != op.Name {
			continue
		}
		info, err := fs.reader.Stat(e.Inode)
		if err != nil {
			return err
		}
		fs.mu.Lock()
		id := fs.allocate(e.Inode)
		fs.mu.Unlock()
		op.Entry.Child = id
		op.Entry.Attributes = attributesFor(info)
		op.Entry.AttributesExpiration = never
		op.Entry.EntryExpiration = never
		return nil
	}
	return fuse.ENOENT
}

func (fs *FS) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	op.AttributesExpiration = never
	i, ok := fs.lookupPfsInode(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	info, err := fs.reader.Stat(i)
	if err != nil {
		return fuse.ENOENT
	}
	op.Attributes = attributesFor(info)
	return nil
}

// OpenDir declines the open, telling the kernel to stop sending OpenDir
// requests for this filesystem: https://github.com/torvalds/linux/commit/7678ac50615d9c7a491d9861e020e4f5f71b594c
func (fs *FS) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	return fuse.ENOSYS
}

func (fs *FS) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	dir, ok := fs.lookupPfsInode(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	entries, err := fs.reader.Readdir(dir)
	if err != nil {
		return fuse.EIO
	}

	var dirents []fuseutil.Dirent
	fs.mu.Lock()
	for _, e := range entries {
		id := fs.allocate(e.Inode)
		typ := fuseutil.DT_File
		if e.Type == pfs.NodeDir {
			typ = fuseutil.DT_Directory
		}
		dirents = append(dirents, fuseutil.Dirent{
			Offset: fuseops.DirOffset(len(dirents) + 1),
			Inode:  id,
			Name:   e.Name,
			Type:   typ,
		})
	}
	fs.mu.Unlock()

	if op.Offset > fuseops.DirOffset(len(dirents)) {
		return fuse.EIO
	}
	for _, d := range dirents[op.Offset:] {
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], d)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

// OpenFile declines the open for the same reason as OpenDir.
func (fs *FS) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	return fuse.ENOSYS
}

func (fs *FS) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	fs.fileReadersMu.Lock()
	r, ok := fs.fileReaders[op.Inode]
	fs.fileReadersMu.Unlock()
	if !ok {
		i, ok := fs.lookupPfsInode(op.Inode)
		if !ok {
			return fuse.ENOENT
		}
		var err error
		r, err = fs.reader.FileView(i)
		if err != nil {
			return err
		}
		fs.fileReadersMu.Lock()
		fs.fileReaders[op.Inode] = r
		fs.fileReadersMu.Unlock()
	}
	var err error
	op.BytesRead, err = r.ReadAt(op.Dst, op.Offset)
	if err == io.EOF {
		err = nil // FUSE does not want io.EOF
	}
	return err
}

func (fs *FS) Destroy() {
	fs.fileReadersMu.Lock()
	fs.fileReaders = nil
	fs.fileReadersMu.Unlock()
}

// Mount mounts r read-only at mountpoint and returns a join function that
// blocks until the filesystem is unmounted (by the kernel, another process,
// or ctx being canceled).
func Mount(ctx context.Context, r *pfs.Reader, mountpoint string) (join func(context.Context) error, err error) {
	fs := New(r)
	server := fuseutil.NewFileSystemServer(fs)
	mfs, err := fuse.Mount(mountpoint, server, &fuse.MountConfig{
		FSName:   "pkgfs",
		ReadOnly: true,
		Options: map[string]string{
			"allow_other": "",
		},
		EnableSymlinkCaching:   true,
		EnableNoOpenSupport:    true,
		EnableNoOpendirSupport: true,
	})
	if err != nil {
		return nil, xerrors.Errorf("fuse.Mount: %w", err)
	}
	join = func(ctx context.Context) error {
		defer syscall.Unmount(mountpoint, 0)
		return mfs.Join(ctx)
	}
	return join, nil
}
