// Package export rebuilds a GP4 project tree from an opened PKG: the
// sce_sys metadata entries, the inner PFS file tree, and a Project.gp4
// XML manifest tying it all together.
//
// Grounded on internal/build/build.go's package-building walk (read a
// manifest, create directories, copy files) and internal/squashfs/writer.go's
// breadth-first directory assembly, both generalized from "build a package
// image from a source tree" to "rebuild a source tree from a package image".
package export

import (
	"context"
	"encoding/hex"
	"encoding/xml"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio"
	"golang.org/x/xerrors"

	"github.com/ps4dev/pkgfs/internal/container"
	"github.com/ps4dev/pkgfs/internal/pfs"
	"github.com/ps4dev/pkgfs/internal/pkgerr"
	"github.com/ps4dev/pkgfs/internal/sfo"
)

// Progress receives percent-complete updates (0-99 while copying, 100 once
// Project.gp4 has been written) and a short status message, e.g. the path
// of the file just written.
type Progress interface {
	Report(percent int, message string)
}

// NoProgress discards progress reports.
type NoProgress struct{}

func (NoProgress) Report(int, string) {}

// Options configures one export run.
type Options struct {
	// Passcode, if non-empty, is tried against pkg's key ladder before
	// exporting, in case the package wasn't already unlocked.
	Passcode string
	// DecryptEntries controls whether sce_sys/* meta entries are written
	// decrypted (true) or as on-disk ciphertext (false).
	DecryptEntries bool
}

// VolumeType mirrors a PKG's content_type in GP4's <volume type="..."> form.
type VolumeType string

const (
	VolumeApp      VolumeType = "app"
	VolumePatch    VolumeType = "patch"
	VolumeACData   VolumeType = "ac_data"
	VolumeACNoData VolumeType = "ac_nodata"
)

func volumeTypeFor(ct container.ContentType) VolumeType {
	switch ct {
	case container.ContentTypeGD:
		return VolumeApp
	case container.ContentTypeDP:
		return VolumePatch
	case container.ContentTypeAC:
		return VolumeACData
	case container.ContentTypeAL:
		return VolumeACNoData
	default:
		return VolumeApp
	}
}

// storageType is the GP4 storage_type value this exporter always emits;
// PS4 tooling recognizes several (digital25/50/100, bd25/50), but nothing
// in a PKG's own header distinguishes which source disc size a project
// targets, so this picks the largest digital tier as a safe default.
const storageType = "digital100"

// DirNode is one directory in the exported uroot tree, used both to drive
// the on-disk mkdir/write sequence and to build the GP4 <rootdir> element.
type DirNode struct {
	Name  string
	Dirs  []*DirNode
	Files []string
}

// Project is the result of a successful Export: everything that goes into
// Project.gp4, plus the files actually written, for callers that want to
// inspect the outcome without re-parsing the XML.
type Project struct {
	VolumeType     VolumeType
	VolumeTimestamp string
	ContentID      string
	Passcode       string
	EntitlementKey string
	AppType        string
	StorageType    string
	CreationDate   string

	SceSysFiles []string
	Root        *DirNode
}

// Export walks pkg (an opened PKG container) into outDir, producing an
// sce_sys/ directory of its non-generated meta entries, a mirror of its
// inner PFS uroot tree, and a Project.gp4 manifest. Cancellation is
// cooperative: ctx is checked before each meta entry and each tree node,
// and a cancelled export leaves whatever was already written on disk.
func Export(ctx context.Context, pkg *container.Reader, outDir string, opts Options, progress Progress) (*Project, error) {
	if progress == nil {
		progress = NoProgress{}
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, xerrors.Errorf("export: creating %s: %w", outDir, err)
	}

	if opts.Passcode != "" && !pkg.IsFileSystemAccessible() {
		if pkg.TryPasscode(opts.Passcode) {
			// A failure to open the PFS is reported below via PFSError.
			pkg.RetryOpenPFS()
		}
	}

	hdr := pkg.Header()
	p := &Project{
		VolumeType:  volumeTypeFor(hdr.ContentType),
		ContentID:   hdr.ContentID,
		AppType:     hdr.ContentType.String(),
		StorageType: storageType,
	}
	if pc, ok := pkg.Passcode(); ok {
		p.Passcode = pc
	}

	var paramSFORaw []byte
	for _, m := range pkg.Metas() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name, ok := pkg.EntryName(m)
		if !ok || container.GeneratedAtPackaging(m.ID, name) {
			continue
		}
		data, err := pkg.ExtractMeta(m, opts.DecryptEntries)
		if err != nil {
			return nil, xerrors.Errorf("export: extracting %s: %w", name, err)
		}
		rel := path.Join("sce_sys", name)
		if err := writeFile(outDir, rel, data); err != nil {
			return nil, err
		}
		p.SceSysFiles = append(p.SceSysFiles, rel)
		if name == "param.sfo" {
			paramSFORaw = data
		}
	}

	if paramSFORaw != nil {
		if err := rewriteParamSFO(outDir, paramSFORaw, p); err != nil {
			return nil, err
		}
	}

	if hdr.ContentType == container.ContentTypeAC || hdr.ContentType == container.ContentTypeAL {
		key, err := pkg.ExtractEntitlementKey()
		if err != nil {
			return nil, xerrors.Errorf("export: entitlement key: %w", err)
		}
		p.EntitlementKey = hex.EncodeToString(key[:])
	}

	if pkg.IsFileSystemAccessible() {
		if err := exportTree(ctx, pkg.PFS(), outDir, p, progress); err != nil {
			return nil, err
		}
	} else if err := pkg.PFSError(); err != nil {
		return nil, xerrors.Errorf("export: pfs image inaccessible: %w", err)
	}

	gp4, err := p.toGP4().marshal()
	if err != nil {
		return nil, err
	}
	if err := renameio.WriteFile(filepath.Join(outDir, "Project.gp4"), gp4, 0644); err != nil {
		return nil, xerrors.Errorf("export: writing Project.gp4: %w", err)
	}
	progress.Report(100, "Project.gp4")

	return p, nil
}

func exportTree(ctx context.Context, r *pfs.Reader, outDir string, p *Project, progress Progress) error {
	tsFormatted := time.Unix(int64(r.Time1Sec()), 0).UTC().Format("2006-01-02 15:04:05")
	p.VolumeTimestamp = tsFormatted

	total, err := treeByteSize(ctx, r)
	if err != nil {
		return err
	}

	root := &DirNode{}
	nodes := map[string]*DirNode{"": root}
	var bytesDone int64

	err = r.Walk(r.Root(), "", func(childPath string, entry pfs.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		parentPath := childPath[:strings.LastIndex(childPath, "/")]
		parent, ok := nodes[parentPath]
		if !ok {
			return pkgerr.BadStructure("export: tree walk visited %q before its parent %q", childPath, parentPath)
		}
		if entry.Type == pfs.NodeDir {
			child := &DirNode{Name: entry.Name}
			parent.Dirs = append(parent.Dirs, child)
			nodes[childPath] = child
			if err := os.MkdirAll(filepath.Join(outDir, filepath.FromSlash(childPath)), 0755); err != nil {
				return xerrors.Errorf("export: creating %s: %w", childPath, err)
			}
			return nil
		}
		parent.Files = append(parent.Files, entry.Name)
		sr, err := r.FileView(entry.Inode)
		if err != nil {
			return err
		}
		data := make([]byte, sr.Size())
		if _, err := sr.ReadAt(data, 0); err != nil {
			return xerrors.Errorf("export: reading %s: %w", childPath, err)
		}
		if err := writeFile(outDir, childPath, data); err != nil {
			return err
		}
		bytesDone += int64(len(data))
		percent := 99
		if total > 0 {
			percent = int(100 * bytesDone / total)
			if percent > 99 {
				percent = 99
			}
		}
		progress.Report(percent, childPath)
		return nil
	})
	if err != nil {
		return xerrors.Errorf("export: walking uroot: %w", err)
	}
	p.Root = root
	return nil
}

func treeByteSize(ctx context.Context, r *pfs.Reader) (int64, error) {
	var total int64
	err := r.Walk(r.Root(), "", func(_ string, entry pfs.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.Type != pfs.NodeFile {
			return nil
		}
		info, err := r.Stat(entry.Inode)
		if err != nil {
			return err
		}
		total += info.Size
		return nil
	})
	return total, err
}

// rewriteParamSFO parses raw as an SFO document, reads PUBTOOLINFO for the
// project's creation date, clears PUBTOOLINFO/PUBTOOLVER, and rewrites
// sce_sys/param.sfo in place with the cleared document.
func rewriteParamSFO(outDir string, raw []byte, p *Project) error {
	f, err := sfo.Parse(raw)
	if err != nil {
		return xerrors.Errorf("export: parsing param.sfo: %w", err)
	}
	p.CreationDate = creationDateFrom(f.GetString("PUBTOOLINFO"))
	f.SetString("PUBTOOLINFO", "")
	f.SetString("PUBTOOLVER", "")
	out, err := f.Serialize()
	if err != nil {
		return xerrors.Errorf("export: re-serializing param.sfo: %w", err)
	}
	return writeFile(outDir, path.Join("sce_sys", "param.sfo"), out)
}

// creationDateFrom extracts c_date (YYYYMMDD) and c_time (HHMMSS) from a
// PUBTOOLINFO "key=value,key=value,..." string and formats them as
// "YYYY-MM-DD HH:MM:SS". Missing or malformed fields yield "".
func creationDateFrom(pubToolInfo string) string {
	var cdate, ctime string
	for _, kv := range strings.Split(pubToolInfo, ",") {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		switch parts[0] {
		case "c_date":
			cdate = parts[1]
		case "c_time":
			ctime = parts[1]
		}
	}
	if len(cdate) != 8 || len(ctime) != 6 {
		return ""
	}
	t, err := time.Parse("20060102150405", cdate+ctime)
	if err != nil {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}

// writeFile writes data to outDir/rel, where rel is a "/"-separated
// virtual path (a GP4 target path or a uroot-relative path), creating
// parent directories as needed.
func writeFile(outDir, rel string, data []byte) error {
	full := filepath.Join(outDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return xerrors.Errorf("export: creating %s: %w", filepath.Dir(full), err)
	}
	if err := renameio.WriteFile(full, data, 0644); err != nil {
		return xerrors.Errorf("export: writing %s: %w", rel, err)
	}
	return nil
}

// gp4Document is the XML shape Project.gp4 is serialized as: a <volume>
// describing the package, a flat <files> listing every written path, and a
// <rootdir> mirroring the uroot directory tree. GP4's real schema covers
// far more (chunk definitions, PlayGo info); this exporter emits the
// subset it can reconstruct from a PKG alone.
type gp4Document struct {
	XMLName xml.Name    `xml:"psproject"`
	Version string      `xml:"fmt,attr"`
	Volume  gp4Volume   `xml:"volume"`
	Files   gp4FileList `xml:"files"`
	RootDir gp4Dir      `xml:"rootdir"`
}

type gp4Volume struct {
	Type      string     `xml:"volume_type,attr"`
	Timestamp string     `xml:"volume_ts,attr"`
	Package   gp4Package `xml:"package"`
}

type gp4Package struct {
	ContentID      string `xml:"content_id,attr"`
	Passcode       string `xml:"passcode,attr"`
	EntitlementKey string `xml:"entitlement_key,attr,omitempty"`
	AppType        string `xml:"app_type,attr"`
	StorageType    string `xml:"storage_type,attr"`
	CreationDate   string `xml:"creation_date,attr"`
}

type gp4FileList struct {
	File []gp4FileRef `xml:"file"`
}

type gp4FileRef struct {
	TargetPath string `xml:"targ_path,attr"`
}

type gp4Dir struct {
	Name string       `xml:"name,attr,omitempty"`
	Dir  []gp4Dir     `xml:"dir"`
	File []gp4FileRef `xml:"file"`
}

func (p *Project) toGP4() *gp4Document {
	doc := &gp4Document{
		Version: "1000",
		Volume: gp4Volume{
			Type:      string(p.VolumeType),
			Timestamp: p.VolumeTimestamp,
			Package: gp4Package{
				ContentID:      p.ContentID,
				Passcode:       p.Passcode,
				EntitlementKey: p.EntitlementKey,
				AppType:        p.AppType,
				StorageType:    p.StorageType,
				CreationDate:   p.CreationDate,
			},
		},
	}

	var all []string
	for _, f := range p.SceSysFiles {
		all = append(all, f)
	}
	if p.Root != nil {
		collectFiles(p.Root, "", &all)
	}
	sort.Strings(all)
	for _, f := range all {
		doc.Files.File = append(doc.Files.File, gp4FileRef{TargetPath: f})
	}

	if p.Root != nil {
		doc.RootDir = toGP4Dir(p.Root)
	}
	return doc
}

func collectFiles(d *DirNode, prefix string, out *[]string) {
	for _, name := range d.Files {
		*out = append(*out, path.Join(prefix, d.Name, name))
	}
	for _, child := range d.Dirs {
		collectFiles(child, path.Join(prefix, d.Name), out)
	}
}

func toGP4Dir(d *DirNode) gp4Dir {
	out := gp4Dir{Name: d.Name}
	for _, f := range d.Files {
		out.File = append(out.File, gp4FileRef{TargetPath: f})
	}
	for _, child := range d.Dirs {
		out.Dir = append(out.Dir, toGP4Dir(child))
	}
	return out
}

func (doc *gp4Document) marshal() ([]byte, error) {
	b, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, xerrors.Errorf("export: marshaling Project.gp4: %w", err)
	}
	return append([]byte(xml.Header), b...), nil
}
