package vfs

import (
	"bytes"
	"errors"
	"testing"

	"github.com/astra-os/xkernel/internal/cpio"
	"github.com/astra-os/xkernel/internal/ramfs"
	"github.com/astra-os/xkernel/internal/xerr"
)

func buildTestFS(t *testing.T) *FS {
	t.Helper()
	tree, err := ramfs.Build([]cpio.Entry{
		{Header: cpio.Header{Mode: 0100000}, Name: "greeting.txt", Data: []byte("hello world")},
	})
	if err != nil {
		t.Fatalf("ramfs.Build: %v", err)
	}
	return New(tree)
}

func TestReadReturnsExactFileBytes(t *testing.T) {
	fs := buildTestFS(t)
	h, err := fs.Lookup("greeting.txt")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	buf := make([]byte, h.Size())
	n, err := fs.Read(h, 0, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != h.Size() || !bytes.Equal(buf, []byte("hello world")) {
		t.Fatalf("Read = %d, %q", n, buf)
	}
}

func TestLookupMissingPathReturnsNotPresent(t *testing.T) {
	fs := buildTestFS(t)
	if _, err := fs.Lookup("nope.txt"); !errors.Is(err, xerr.ErrNotPresent) {
		t.Fatalf("err = %v, want ErrNotPresent", err)
	}
}

func TestReadOfDirectoryFails(t *testing.T) {
	tree, err := ramfs.Build([]cpio.Entry{
		{Header: cpio.Header{Mode: 0040000}, Name: "etc"},
	})
	if err != nil {
		t.Fatalf("ramfs.Build: %v", err)
	}
	fs := New(tree)
	h, err := fs.Lookup("etc")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if _, err := fs.Read(h, 0, make([]byte, 1)); !errors.Is(err, xerr.ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}
