// Package ramfs builds an in-memory filesystem tree from a parsed CPIO
// archive. Modeled on a directory-entry-map style — a directory is a
// name->inode map, walked path-component by path-component.
package ramfs

import (
	"strings"
	"sync"

	"github.com/astra-os/xkernel/internal/cpio"
	"github.com/astra-os/xkernel/internal/xerr"
)

// Kind distinguishes the two node types ramfs supports.
type Kind int

const (
	KindDir Kind = iota
	KindFile
)

// Node is one ramfs tree entry: a directory (with children) or a regular
// file (with its byte contents already copied off the archive buffer).
type Node struct {
	Kind     Kind
	Name     string
	Data     []byte
	children map[string]*Node
}

// Tree is the whole in-memory filesystem, rooted at Root.
type Tree struct {
	mu   sync.RWMutex
	Root *Node
}

func newDir(name string) *Node {
	return &Node{Kind: KindDir, Name: name, children: map[string]*Node{}}
}

// New returns an empty tree with just a root directory.
func New() *Tree {
	return &Tree{Root: newDir("")}
}

// Build parses entries (already produced by cpio.Parse) and installs them
// into a fresh Tree, creating intermediate directories on demand for
// files whose parent directories were not themselves present in the
// archive.
func Build(entries []cpio.Entry) (*Tree, error) {
	t := New()
	for _, e := range entries {
		if e.Name == "" {
			continue
		}
		if err := t.insert(e); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func splitPath(name string) []string {
	name = strings.Trim(name, "/")
	if name == "" {
		return nil
	}
	return strings.Split(name, "/")
}

func (t *Tree) insert(e cpio.Entry) error {
	parts := splitPath(e.Name)
	if len(parts) == 0 {
		return nil
	}
	dir := t.Root
	for _, comp := range parts[:len(parts)-1] {
		next, ok := dir.children[comp]
		if !ok {
			next = newDir(comp)
			dir.children[comp] = next
		}
		if next.Kind != KindDir {
			return xerr.ErrMalformed
		}
		dir = next
	}

	leaf := parts[len(parts)-1]
	switch {
	case e.IsDir():
		if existing, ok := dir.children[leaf]; ok {
			if existing.Kind != KindDir {
				return xerr.ErrMalformed
			}
			return nil
		}
		dir.children[leaf] = newDir(leaf)
	case e.IsRegular():
		dir.children[leaf] = &Node{Kind: KindFile, Name: leaf, Data: append([]byte(nil), e.Data...)}
	default:
		// device nodes, symlinks, etc. are silently ignored:
		// only names directories and regular files.
	}
	return nil
}

// Lookup resolves a slash-separated path to its Node, or reports not
// found.
func (t *Tree) Lookup(path string) (*Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	parts := splitPath(path)
	n := t.Root
	for _, comp := range parts {
		if n.Kind != KindDir {
			return nil, false
		}
		next, ok := n.children[comp]
		if !ok {
			return nil, false
		}
		n = next
	}
	return n, true
}

// Children returns the names of n's directory entries, in no particular
// order (n must be a directory).
func (n *Node) Children() []string {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	return names
}
