// Package vfs exposes the minimal lookup/read surface backed by an
// internal/ramfs tree: resolving a path then reading its bytes returns
// the exact file contents. Modeled on the separation between a
// path-resolving layer and the underlying block/byte storage it reads
// from.
package vfs

import (
	"fmt"

	"github.com/astra-os/xkernel/internal/ramfs"
	"github.com/astra-os/xkernel/internal/xerr"
)

// Handle is an opened file or directory, returned by Lookup.
type Handle struct {
	node *ramfs.Node
}

// IsDir reports whether h refers to a directory.
func (h Handle) IsDir() bool { return h.node.Kind == ramfs.KindDir }

// Size returns a regular file's byte length (0 for directories).
func (h Handle) Size() int { return len(h.node.Data) }

// FS is the read-only filesystem view over one ramfs tree.
type FS struct {
	tree *ramfs.Tree
}

// New wraps tree as an FS.
func New(tree *ramfs.Tree) *FS {
	return &FS{tree: tree}
}

// Lookup resolves path to a Handle.
func (fs *FS) Lookup(path string) (Handle, error) {
	n, ok := fs.tree.Lookup(path)
	if !ok {
		return Handle{}, fmt.Errorf("%w: vfs: %s", xerr.ErrNotPresent, path)
	}
	return Handle{node: n}, nil
}

// Read copies up to len(buf) bytes starting at offset off from h's file
// contents into buf, returning the number of bytes copied. Reading a
// directory, or an offset past end-of-file, is an error.
func (fs *FS) Read(h Handle, off int, buf []byte) (int, error) {
	if h.node.Kind != ramfs.KindFile {
		return 0, fmt.Errorf("%w: vfs: read of non-regular file", xerr.ErrMalformed)
	}
	if off < 0 || off > len(h.node.Data) {
		return 0, fmt.Errorf("%w: vfs: offset %d out of range", xerr.ErrMalformed, off)
	}
	n := copy(buf, h.node.Data[off:])
	return n, nil
}

// ReadAll reads the entirety of h's file contents.
func (fs *FS) ReadAll(h Handle) ([]byte, error) {
	buf := make([]byte, h.Size())
	n, err := fs.Read(h, 0, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Readdir lists the names of a directory handle's children.
func (fs *FS) Readdir(h Handle) ([]string, error) {
	if h.node.Kind != ramfs.KindDir {
		return nil, fmt.Errorf("%w: vfs: readdir of non-directory", xerr.ErrMalformed)
	}
	return h.node.Children(), nil
}
