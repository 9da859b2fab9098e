package ramfs

import (
	"bytes"
	"testing"

	"github.com/astra-os/xkernel/internal/cpio"
)

func TestBuildCreatesIntermediateDirectoriesOnDemand(t *testing.T) {
	entries := []cpio.Entry{
		{Header: cpio.Header{Mode: 0100000}, Name: "usr/bin/init", Data: []byte("payload")},
	}
	tree, err := Build(entries)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	usr, ok := tree.Lookup("usr")
	if !ok || usr.Kind != KindDir {
		t.Fatalf("usr lookup = %+v, %v", usr, ok)
	}
	n, ok := tree.Lookup("usr/bin/init")
	if !ok || n.Kind != KindFile {
		t.Fatalf("usr/bin/init lookup = %+v, %v", n, ok)
	}
	if !bytes.Equal(n.Data, []byte("payload")) {
		t.Fatalf("Data = %q", n.Data)
	}
}

func TestBuildHonorsExplicitDirectoryEntries(t *testing.T) {
	entries := []cpio.Entry{
		{Header: cpio.Header{Mode: 0040000}, Name: "etc"},
		{Header: cpio.Header{Mode: 0100000}, Name: "etc/motd", Data: []byte("hi")},
	}
	tree, err := Build(entries)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	etc, ok := tree.Lookup("etc")
	if !ok || etc.Kind != KindDir {
		t.Fatalf("etc lookup = %+v, %v", etc, ok)
	}
	if len(etc.Children()) != 1 {
		t.Fatalf("etc.Children() = %v", etc.Children())
	}
}

func TestLookupMissingPathFails(t *testing.T) {
	tree := New()
	if _, ok := tree.Lookup("nope"); ok {
		t.Fatal("expected Lookup to fail for missing path")
	}
}
