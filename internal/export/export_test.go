package export

import (
	"strings"
	"testing"

	"github.com/ps4dev/pkgfs/internal/container"
)

func TestVolumeTypeForContentType(t *testing.T) {
	cases := map[container.ContentType]VolumeType{
		container.ContentTypeGD: VolumeApp,
		container.ContentTypeDP: VolumePatch,
		container.ContentTypeAC: VolumeACData,
		container.ContentTypeAL: VolumeACNoData,
	}
	for ct, want := range cases {
		if got := volumeTypeFor(ct); got != want {
			t.Errorf("volumeTypeFor(%v) = %v, want %v", ct, got, want)
		}
	}
}

func TestCreationDateFromParsesPubToolInfo(t *testing.T) {
	got := creationDateFrom("c_date=20240115,c_time=134500,tool=Neighborlee")
	if want := "2024-01-15 13:45:00"; got != want {
		t.Errorf("creationDateFrom: got %q want %q", got, want)
	}
}

func TestCreationDateFromMissingFieldsReturnsEmpty(t *testing.T) {
	if got := creationDateFrom("tool=Neighborlee"); got != "" {
		t.Errorf("expected empty string for missing c_date/c_time, got %q", got)
	}
}

func TestProjectToGP4IncludesPackageAndFiles(t *testing.T) {
	p := &Project{
		VolumeType:      VolumeApp,
		VolumeTimestamp: "2024-01-15 13:45:00",
		ContentID:       "AA0000-BBBB00000_00-ZZZZZZZZZZZZZZZZ",
		Passcode:        "00000000000000000000000000000000",
		AppType:         "GD",
		StorageType:     storageType,
		CreationDate:    "2024-01-15 13:45:00",
		SceSysFiles:     []string{"sce_sys/param.sfo", "sce_sys/icon0.png"},
		Root: &DirNode{
			Dirs: []*DirNode{
				{Name: "data", Files: []string{"save.bin"}},
			},
			Files: []string{"eboot.bin"},
		},
	}

	b, err := p.toGP4().marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out := string(b)

	for _, want := range []string{
		`content_id="AA0000-BBBB00000_00-ZZZZZZZZZZZZZZZZ"`,
		`volume_type="app"`,
		`targ_path="sce_sys/param.sfo"`,
		`targ_path="eboot.bin"`,
		`targ_path="data/save.bin"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Project.gp4 output missing %q; got:\n%s", want, out)
		}
	}
}

func TestCollectFilesWalksNestedDirs(t *testing.T) {
	root := &DirNode{
		Files: []string{"top.bin"},
		Dirs: []*DirNode{
			{
				Name:  "a",
				Files: []string{"a1.bin"},
				Dirs: []*DirNode{
					{Name: "b", Files: []string{"b1.bin"}},
				},
			},
		},
	}
	var got []string
	collectFiles(root, "", &got)

	want := map[string]bool{"top.bin": true, "a/a1.bin": true, "a/b/b1.bin": true}
	if len(got) != len(want) {
		t.Fatalf("got %v, want keys %v", got, want)
	}
	for _, g := range got {
		if !want[g] {
			t.Errorf("unexpected collected path %q", g)
		}
	}
}
