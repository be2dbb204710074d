// Package memfs is a small in-process folder/file tree shared by the
// mfs and memory built-in handlers. It is grounded on the teacher's
// backend/memory bucket map (a mutex-protected map of named nodes)
// simplified to a single hierarchical tree instead of a flat
// bucket/object namespace, since mfs and memory both need nested
// folders rather than S3-style buckets.
package memfs

import (
	"bytes"
	"context"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/owlcore-storage/storagefs/storable"
	"github.com/owlcore-storage/storagefs/storageerr"
)

// node is a single file or folder in the tree. A node with children
// != nil is a folder; otherwise it is a file holding data.
type node struct {
	mu       sync.RWMutex
	name     string
	parent   *node
	children map[string]*node // non-nil iff this node is a folder
	data     []byte
	modTime  time.Time
}

func newDir(name string, parent *node) *node {
	return &node{name: name, parent: parent, children: make(map[string]*node), modTime: time.Now()}
}

// Tree is an in-memory folder hierarchy addressed under a fixed
// scheme, e.g. "mfs" or "memory".
type Tree struct {
	scheme string
	root   *node
}

// NewTree returns a fresh, empty tree rooted at scheme://.
func NewTree(scheme string) *Tree {
	return &Tree{scheme: scheme, root: newDir("", nil)}
}

// Scheme returns the scheme this tree is addressed under.
func (t *Tree) Scheme() string { return t.scheme }

// idOf returns the canonical ID of n within this tree.
func (t *Tree) idOf(n *node) string {
	if n == t.root {
		return t.scheme + "://"
	}
	var parts []string
	for cur := n; cur != t.root; cur = cur.parent {
		parts = append([]string{cur.name}, parts...)
	}
	return t.scheme + "://" + strings.Join(parts, "/")
}

// Root returns the folder view of the tree's root.
func (t *Tree) Root() storable.Folder {
	return &folderView{tree: t, n: t.root}
}

// Resolve walks rel (a "/"-separated path, no leading slash) from the
// root and returns the storable found there, or NotFound.
func (t *Tree) Resolve(ctx context.Context, rel string) (storable.Storable, error) {
	n := t.root
	rel = strings.Trim(rel, "/")
	if rel != "" {
		for _, part := range strings.Split(rel, "/") {
			n.mu.RLock()
			child, ok := n.children[part]
			n.mu.RUnlock()
			if !ok {
				return nil, storageerr.Newf("memfs.Resolve", storageerr.NotFound, "no such entry %q under %s", part, t.idOf(n))
			}
			n = child
		}
	}
	if n.children != nil {
		return &folderView{tree: t, n: n}, nil
	}
	return &fileView{tree: t, n: n}, nil
}

type folderView struct {
	tree *Tree
	n    *node
}

func (f *folderView) ID() string   { return f.tree.idOf(f.n) }
func (f *folderView) Name() string { return f.n.name }

func (f *folderView) Parent() storable.Folder {
	if f.n.parent == nil {
		return nil
	}
	return &folderView{tree: f.tree, n: f.n.parent}
}

type childIter struct {
	items []*node
	tree  *Tree
	i     int
}

func (it *childIter) Next(ctx context.Context) (storable.Storable, bool, error) {
	if it.i >= len(it.items) {
		return nil, false, nil
	}
	n := it.items[it.i]
	it.i++
	if n.children != nil {
		return &folderView{tree: it.tree, n: n}, true, nil
	}
	return &fileView{tree: it.tree, n: n}, true, nil
}

func (f *folderView) Children(ctx context.Context) (storable.ChildIterator, error) {
	f.n.mu.RLock()
	defer f.n.mu.RUnlock()
	items := make([]*node, 0, len(f.n.children))
	for _, c := range f.n.children {
		items = append(items, c)
	}
	return &childIter{items: items, tree: f.tree}, nil
}

func (f *folderView) CreateFile(ctx context.Context, name string) (storable.ModifiableFile, error) {
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	if existing, ok := f.n.children[name]; ok && existing.children != nil {
		return nil, storageerr.Newf("memfs.CreateFile", storageerr.Unsupported, "%q is a folder", name)
	}
	child := &node{name: name, parent: f.n, modTime: time.Now()}
	f.n.children[name] = child
	return &fileView{tree: f.tree, n: child}, nil
}

func (f *folderView) CreateFolder(ctx context.Context, name string) (storable.Folder, error) {
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	if existing, ok := f.n.children[name]; ok {
		if existing.children == nil {
			return nil, storageerr.Newf("memfs.CreateFolder", storageerr.Unsupported, "%q is a file", name)
		}
		return &folderView{tree: f.tree, n: existing}, nil
	}
	child := newDir(name, f.n)
	f.n.children[name] = child
	return &folderView{tree: f.tree, n: child}, nil
}

func (f *folderView) Delete(ctx context.Context, name string) error {
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	if _, ok := f.n.children[name]; !ok {
		return storageerr.Newf("memfs.Delete", storageerr.NotFound, "no such entry %q", name)
	}
	delete(f.n.children, name)
	return nil
}

type fileView struct {
	tree *Tree
	n    *node
}

func (f *fileView) ID() string   { return f.tree.idOf(f.n) }
func (f *fileView) Name() string { return f.n.name }

func (f *fileView) Parent() storable.Folder {
	return &folderView{tree: f.tree, n: f.n.parent}
}

func (f *fileView) Size() int64 {
	f.n.mu.RLock()
	defer f.n.mu.RUnlock()
	return int64(len(f.n.data))
}

func (f *fileView) ModTime(ctx context.Context) time.Time {
	f.n.mu.RLock()
	defer f.n.mu.RUnlock()
	return f.n.modTime
}

func (f *fileView) Reader(ctx context.Context) (io.ReadCloser, error) {
	f.n.mu.RLock()
	defer f.n.mu.RUnlock()
	return io.NopCloser(bytes.NewReader(f.n.data)), nil
}

func (f *fileView) ReadAll(ctx context.Context) ([]byte, error) {
	return storable.ReadAllFile(ctx, f)
}

type writer struct {
	n   *node
	buf bytes.Buffer
}

func (w *writer) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *writer) Close() error {
	w.n.mu.Lock()
	defer w.n.mu.Unlock()
	w.n.data = w.buf.Bytes()
	w.n.modTime = time.Now()
	return nil
}

func (f *fileView) Writer(ctx context.Context) (io.WriteCloser, error) {
	return &writer{n: f.n}, nil
}

// ChildID coins the child ID for name under parentID the way path.Join
// would, without ever touching the filesystem.
func ChildID(scheme, parentID, childName string) string {
	_, tail, _ := splitScheme(parentID)
	return scheme + "://" + strings.TrimPrefix(path.Join(tail, childName), "/")
}

func splitScheme(id string) (scheme, tail string, ok bool) {
	i := strings.Index(id, "://")
	if i <= 0 {
		return "", id, false
	}
	return id[:i], id[i+3:], true
}

var (
	_ storable.Folder           = (*folderView)(nil)
	_ storable.ModifiableFolder = (*folderView)(nil)
	_ storable.StorableChild    = (*folderView)(nil)
	_ storable.File             = (*fileView)(nil)
	_ storable.ModifiableFile   = (*fileView)(nil)
	_ storable.StorableChild    = (*fileView)(nil)
)
