package fpt

import "testing"

func TestHashIsCaseInsensitive(t *testing.T) {
	const want = 0x8BE5A360
	if got := Hash("/sce_sys/param.sfo"); got != want {
		t.Fatalf("Hash(lowercase) = 0x%08X, want 0x%08X", got, want)
	}
	if got := Hash("/SCE_SYS/PARAM.SFO"); got != want {
		t.Fatalf("Hash(uppercase) = 0x%08X, want 0x%08X", got, want)
	}
	if got := Hash("/ScE_sYs/Param.Sfo"); got != want {
		t.Fatalf("Hash(mixed case) = 0x%08X, want 0x%08X", got, want)
	}
}

func TestBuildParseRoundTrip(t *testing.T) {
	nodes := []BuildNode{
		{Path: "/hello.txt", Inode: 5, IsDir: false},
		{Path: "/sub", Inode: 6, IsDir: true},
		{Path: "/sub/world.txt", Inode: 7, IsDir: false},
		{Path: "/sce_sys/param.sfo", Inode: 8, IsDir: false},
	}
	rowBytes, resolverBytes, err := Build(nodes)
	if err != nil {
		t.Fatal(err)
	}

	table, err := Parse(rowBytes, resolverBytes)
	if err != nil {
		t.Fatal(err)
	}

	wantType := map[string]FlatType{
		"/hello.txt":         TypeFile,
		"/sub":               TypeDir,
		"/sub/world.txt":     TypeFile,
		"/sce_sys/param.sfo": TypeSceSysFile,
	}
	for _, n := range nodes {
		row, ok := table.Lookup(n.Path)
		if !ok {
			t.Fatalf("Lookup(%q) not found after round trip", n.Path)
		}
		if row.Type != wantType[n.Path] {
			t.Fatalf("Lookup(%q).Type = %v, want %v", n.Path, row.Type, wantType[n.Path])
		}
		if row.Value != n.Inode {
			t.Fatalf("Lookup(%q).Value = %d, want %d", n.Path, row.Value, n.Inode)
		}
	}

	if _, ok := table.Lookup("/does/not/exist"); ok {
		t.Fatal("Lookup of an absent path unexpectedly succeeded")
	}
}

func TestResolveCollision(t *testing.T) {
	// "/AO" and "/B0" share a common "/" prefix and hash to the same
	// value under the table's base-31 rolling hash (65*31+79 ==
	// 66*31+48 == 2094, carried through the shared prefix), so Build
	// is forced onto its collision path for both.
	if Hash("/AO") != Hash("/B0") {
		t.Fatalf("fixture paths don't actually collide: Hash(/AO)=0x%08X Hash(/B0)=0x%08X", Hash("/AO"), Hash("/B0"))
	}

	nodes := []BuildNode{
		{Path: "/AO", Inode: 10, IsDir: false},
		{Path: "/B0", Inode: 11, IsDir: false},
	}
	rowBytes, resolverBytes, err := Build(nodes)
	if err != nil {
		t.Fatal(err)
	}

	table, err := Parse(rowBytes, resolverBytes)
	if err != nil {
		t.Fatal(err)
	}

	row, ok := table.Lookup("/AO")
	if !ok {
		t.Fatal("Lookup(/AO) not found")
	}
	if row.Type != TypeCollision {
		t.Fatalf("Lookup(/AO).Type = %v, want TypeCollision", row.Type)
	}

	dirents, err := table.ResolveCollision(row.Value)
	if err != nil {
		t.Fatal(err)
	}
	if len(dirents) != 2 {
		t.Fatalf("ResolveCollision returned %d dirents, want 2", len(dirents))
	}

	byName := make(map[string]Dirent)
	for _, d := range dirents {
		byName[d.Name] = d
	}
	for _, n := range nodes {
		d, ok := byName[n.Path]
		if !ok {
			t.Fatalf("ResolveCollision result missing entry for %q", n.Path)
		}
		if d.Inode != n.Inode {
			t.Fatalf("dirent %q inode = %d, want %d", n.Path, d.Inode, n.Inode)
		}
		if d.Type != TypeFile {
			t.Fatalf("dirent %q type = %v, want TypeFile", n.Path, d.Type)
		}
	}
}

func TestResolveCollisionOffsetOutOfRange(t *testing.T) {
	table, err := Parse(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := table.ResolveCollision(0); err == nil {
		t.Fatal("ResolveCollision with an empty resolver blob unexpectedly succeeded")
	}
}
