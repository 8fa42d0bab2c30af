package pfs

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/xerrors"

	"github.com/ps4dev/pkgfs/internal/fpt"
)

// Fixture inode numbers for the image NewFixture builds.
const (
	FixtureSuperRootIno = 0
	FixtureUrootIno     = 1
	FixtureFPTIno       = 2
	FixtureHelloIno     = 3
	FixtureSubIno       = 4
	FixtureWorldIno     = 5
)

const (
	fixtureBlkDinodeTable  = 1
	fixtureBlkSuperRootDir = 2
	fixtureBlkUrootDir     = 3
	fixtureBlkFPTFile      = 4
	fixtureBlkHelloFile    = 5
	fixtureBlkSubDir       = 6
	fixtureBlkWorldFile    = 7
	fixtureTotalBlocks     = 8
)

// FixtureHelloContents and FixtureWorldContents are the file bodies NewFixture
// embeds, exported so other packages' tests can assert against them without
// hardcoding a second copy of the string.
var (
	FixtureHelloContents = []byte("hello pfs")
	FixtureWorldContents = []byte("hello world")
)

func fixtureWriteDinode(img []byte, index int, mode uint32, size uint64, startBlock uint64) {
	d := dinode{Mode: mode, NLink: 1, Size: size, CompressedSize: size, StartBlock: startBlock}
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, &d)
	off := DefaultBlockSize + index*dinodeSize
	copy(img[off:], buf.Bytes())
}

func fixtureWriteDirent(buf *bytes.Buffer, inode uint64, typ NodeType, name string) {
	dh := direntHeader{Inode: inode, Type: uint8(typ), NameLen: uint8(len(name))}
	binary.Write(buf, binary.LittleEndian, &dh)
	buf.WriteString(name)
}

// NewFixture builds a tiny, self-contained PFS image in memory: a uroot
// holding hello.txt and a sub/ directory holding world.txt. It exists so
// packages that consume a *Reader (fusefs, export, webdavfs, ...) can test
// against a real, Open-able image instead of a mock, without duplicating
// this reader's own on-disk layout.
func NewFixture() ([]byte, error) {
	img := make([]byte, fixtureTotalBlocks*DefaultBlockSize)

	rowBytes, resolverBytes, err := fpt.Build([]fpt.BuildNode{
		{Path: "/hello.txt", IsDir: false, Inode: FixtureHelloIno},
		{Path: "/sub", IsDir: true, Inode: FixtureSubIno},
		{Path: "/sub/world.txt", IsDir: false, Inode: FixtureWorldIno},
	})
	if err != nil {
		return nil, err
	}
	if len(resolverBytes) != 0 {
		return nil, xerrors.New("pfs.NewFixture: unexpected FPT collisions in fixture paths")
	}

	sb := superblock{
		Version:          1,
		Magic:            pfsMagic,
		BlockSize:        DefaultBlockSize,
		NBlocks:          fixtureTotalBlocks,
		DinodeCount:      6,
		DinodeBlockCount: 1,
		SuperRootIno:     FixtureSuperRootIno,
	}
	sbBuf := new(bytes.Buffer)
	if err := binary.Write(sbBuf, binary.LittleEndian, &sb); err != nil {
		return nil, err
	}
	copy(img[0:], sbBuf.Bytes())

	fixtureWriteDinode(img, FixtureSuperRootIno, modeDir, 0, fixtureBlkSuperRootDir)
	fixtureWriteDinode(img, FixtureUrootIno, modeDir, 0, fixtureBlkUrootDir)
	fixtureWriteDinode(img, FixtureFPTIno, modeFile, uint64(len(rowBytes)), fixtureBlkFPTFile)
	fixtureWriteDinode(img, FixtureHelloIno, modeFile, uint64(len(FixtureHelloContents)), fixtureBlkHelloFile)
	fixtureWriteDinode(img, FixtureSubIno, modeDir, 0, fixtureBlkSubDir)
	fixtureWriteDinode(img, FixtureWorldIno, modeFile, uint64(len(FixtureWorldContents)), fixtureBlkWorldFile)

	superRootBuf := new(bytes.Buffer)
	fixtureWriteDirent(superRootBuf, FixtureUrootIno, NodeDir, "uroot")
	fixtureWriteDirent(superRootBuf, FixtureFPTIno, NodeFile, "flat_path_table")
	copy(img[fixtureBlkSuperRootDir*DefaultBlockSize:], superRootBuf.Bytes())
	fixtureWriteDinode(img, FixtureSuperRootIno, modeDir, uint64(superRootBuf.Len()), fixtureBlkSuperRootDir)

	urootBuf := new(bytes.Buffer)
	fixtureWriteDirent(urootBuf, FixtureHelloIno, NodeFile, "hello.txt")
	fixtureWriteDirent(urootBuf, FixtureSubIno, NodeDir, "sub")
	copy(img[fixtureBlkUrootDir*DefaultBlockSize:], urootBuf.Bytes())
	fixtureWriteDinode(img, FixtureUrootIno, modeDir, uint64(urootBuf.Len()), fixtureBlkUrootDir)

	subBuf := new(bytes.Buffer)
	fixtureWriteDirent(subBuf, FixtureWorldIno, NodeFile, "world.txt")
	copy(img[fixtureBlkSubDir*DefaultBlockSize:], subBuf.Bytes())
	fixtureWriteDinode(img, FixtureSubIno, modeDir, uint64(subBuf.Len()), fixtureBlkSubDir)

	copy(img[fixtureBlkFPTFile*DefaultBlockSize:], rowBytes)
	copy(img[fixtureBlkHelloFile*DefaultBlockSize:], FixtureHelloContents)
	copy(img[fixtureBlkWorldFile*DefaultBlockSize:], FixtureWorldContents)

	return img, nil
}
