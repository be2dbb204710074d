// Package archivemount implements the Archive Mount Adapter (spec
// §4.E): it presents an archive file as a writable or read-only
// folder view, buffering mutations in memory and writing the whole
// archive back to its backing storable only when the mount is
// flushed or disposed. It is grounded on backend/archive/archive.go's
// extension-registry dispatch (backend/archive/archiver/archiver.go)
// for deciding which codec handles a given name, and on
// backend/zip/zip.go's pattern of buffering writes behind a
// zip.Writer that is only finalized on Shutdown — generalized here to
// "finalized on Dispose" and to more than one archive format. xz
// decoding reuses the teacher's own backend/press/alg_xz.go dependency
// (github.com/ulikunitz/xz); rar and 7z decoding reach for
// nwaples/rardecode and bodgit/sevenzip, the ecosystem's standard
// libraries for those formats, since no pack example carries either.
package archivemount

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/bzip2"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/bodgit/sevenzip"
	kzip "github.com/klauspost/compress/gzip"
	"github.com/nwaples/rardecode"
	"github.com/ulikunitz/xz"

	"github.com/owlcore-storage/storagefs/protocol/memfs"
	"github.com/owlcore-storage/storagefs/storable"
	"github.com/owlcore-storage/storagefs/storageerr"
)

// codec identifies an archive format and whether this adapter can
// write it back, the same writable/read-only split
// backend/archive/archiver.Archiver draws per format.
type codec struct {
	extension string
	writable  bool
	decode    func([]byte, *memfs.Tree) error
	encode    func(*memfs.Tree) ([]byte, error)
}

// codecs is checked longest-suffix-first so ".tar.gz" is preferred
// over ".gz" for a name ending in both, mirroring
// backend/archive/archive.go's findArchive linear scan over
// archiver.Archivers. The writable/read-only split matches spec
// §4.E's classification table exactly: zip, tar, tar.gz, tgz and gz
// round-trip; rar, 7z, tar.xz, txz, bz2, tar.bz2 and tbz2 are surfaced
// as read-only views (none of their decoders below offer a matching
// encoder, so requireWritable rejects mutation before it ever reaches
// one).
var codecs = []codec{
	{extension: ".zip", writable: true, decode: decodeZip, encode: encodeZip},
	{extension: ".tar.gz", writable: true, decode: decodeTarGz, encode: encodeTarGz},
	{extension: ".tgz", writable: true, decode: decodeTarGz, encode: encodeTarGz},
	{extension: ".tar.bz2", writable: false, decode: decodeTarBz2, encode: nil},
	{extension: ".tbz2", writable: false, decode: decodeTarBz2, encode: nil},
	{extension: ".tar.xz", writable: false, decode: decodeTarXz, encode: nil},
	{extension: ".txz", writable: false, decode: decodeTarXz, encode: nil},
	{extension: ".tar", writable: true, decode: decodeTar, encode: encodeTar},
	{extension: ".gz", writable: true, decode: decodeGz, encode: encodeGz},
	{extension: ".bz2", writable: false, decode: decodeBz2, encode: nil},
	{extension: ".rar", writable: false, decode: decodeRar, encode: nil},
	{extension: ".7z", writable: false, decode: decodeSevenZip, encode: nil},
}

// Classify returns the codec matching name's longest recognized
// archive extension, or ok=false if name names no supported archive
// format at all (the caller should then fail mount() with Unsupported
// per spec §4.B step 2).
func Classify(name string) (extension string, writable bool, ok bool) {
	var best *codec
	for i := range codecs {
		c := &codecs[i]
		if strings.HasSuffix(name, c.extension) {
			if best == nil || len(c.extension) > len(best.extension) {
				best = c
			}
		}
	}
	if best == nil {
		return "", false, false
	}
	return best.extension, best.writable, true
}

// Mount is one open archive, presented as a storable.Folder. The
// backing archive bytes are read fully into an in-memory tree on
// construction; subsequent reads and writes operate purely on that
// tree. Dirty writes are only pushed back to backing via Flush/Dispose.
type Mount struct {
	backing  storable.File
	codec    *codec
	writable bool

	mu    sync.Mutex
	tree  *memfs.Tree
	dirty bool
}

// Wrap opens backing (whose name must match a known archive
// extension) and decodes it into an in-memory folder tree.
func Wrap(ctx context.Context, backing storable.File) (*Mount, error) {
	ext, writable, ok := Classify(backing.Name())
	if !ok {
		return nil, storageerr.Newf("archivemount.Wrap", storageerr.Unsupported, "%q has no supported archive extension", backing.Name())
	}
	var c *codec
	for i := range codecs {
		if codecs[i].extension == ext {
			c = &codecs[i]
			break
		}
	}

	content, err := backing.ReadAll(ctx)
	if err != nil {
		return nil, storageerr.Wrap("archivemount.Wrap", storageerr.Io, err, "read archive content")
	}

	tree := memfs.NewTree("archive")
	if err := c.decode(content, tree); err != nil {
		return nil, storageerr.Wrap("archivemount.Wrap", storageerr.InvalidArgument, err, "decode archive")
	}

	return &Mount{backing: backing, codec: c, writable: writable, tree: tree}, nil
}

// Root returns the folder view mounts are rooted at. Mutating methods
// on it fail with Unsupported if the archive format is read-only.
func (m *Mount) Root() storable.Folder {
	return &folder{mount: m, inner: m.tree.Root()}
}

// Flush re-encodes the tree and writes it back to the backing
// storable, if the archive is writable and has pending changes.
// Read-only archives and clean writable archives are a no-op.
func (m *Mount) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushLocked(ctx)
}

func (m *Mount) flushLocked(ctx context.Context) error {
	if !m.writable || !m.dirty {
		return nil
	}
	content, err := m.codec.encode(m.tree)
	if err != nil {
		return storageerr.Wrap("archivemount.Flush", storageerr.Io, err, "encode archive")
	}
	modifiable, ok := m.backing.(storable.ModifiableFile)
	if !ok {
		return storageerr.Newf("archivemount.Flush", storageerr.Unsupported, "backing storable %q is not writable", m.backing.ID())
	}
	w, err := modifiable.Writer(ctx)
	if err != nil {
		return storageerr.Wrap("archivemount.Flush", storageerr.Io, err, "open backing writer")
	}
	if _, err := w.Write(content); err != nil {
		_ = w.Close()
		return storageerr.Wrap("archivemount.Flush", storageerr.Io, err, "write archive content")
	}
	if err := w.Close(); err != nil {
		return storageerr.Wrap("archivemount.Flush", storageerr.Io, err, "close backing writer")
	}
	m.dirty = false
	return nil
}

// Dispose flushes pending writes and releases the mount. Per spec
// §9's resolved design note, this always runs the write-back to
// completion even if ctx has already been canceled, since an archive
// mount losing buffered writes on cancellation would silently drop
// data the caller believes was already written.
func (m *Mount) Dispose(ctx context.Context) error {
	return m.Flush(context.Background())
}

func (m *Mount) markDirty() {
	m.mu.Lock()
	m.dirty = true
	m.mu.Unlock()
}

var (
	_ storable.Flushable  = (*Mount)(nil)
	_ storable.Disposable = (*Mount)(nil)
)

// folder wraps a memfs folder view, rejecting mutation for read-only
// archives.
type folder struct {
	mount *Mount
	inner storable.Folder
}

func (f *folder) ID() string   { return f.inner.ID() }
func (f *folder) Name() string { return f.inner.Name() }

func (f *folder) Parent() storable.Folder {
	sc, ok := f.inner.(storable.StorableChild)
	if !ok {
		return nil
	}
	parent := sc.Parent()
	if parent == nil {
		return nil
	}
	return &folder{mount: f.mount, inner: parent}
}

type childIter struct {
	mount *Mount
	inner storable.ChildIterator
}

func (it *childIter) Next(ctx context.Context) (storable.Storable, bool, error) {
	child, ok, err := it.inner.Next(ctx)
	if err != nil || !ok {
		return nil, ok, err
	}
	if sub, isFolder := child.(storable.Folder); isFolder {
		return &folder{mount: it.mount, inner: sub}, true, nil
	}
	return &file{mount: it.mount, inner: child.(storable.File)}, true, nil
}

func (f *folder) Children(ctx context.Context) (storable.ChildIterator, error) {
	inner, err := f.inner.Children(ctx)
	if err != nil {
		return nil, err
	}
	return &childIter{mount: f.mount, inner: inner}, nil
}

func (f *folder) requireWritable(op string) error {
	if !f.mount.writable {
		return storageerr.Newf(op, storageerr.Unsupported, "archive %q is read-only", f.mount.backing.Name())
	}
	return nil
}

func (f *folder) CreateFile(ctx context.Context, name string) (storable.ModifiableFile, error) {
	if err := f.requireWritable("archivemount.CreateFile"); err != nil {
		return nil, err
	}
	modFolder := f.inner.(storable.ModifiableFolder)
	inner, err := modFolder.CreateFile(ctx, name)
	if err != nil {
		return nil, err
	}
	f.mount.markDirty()
	return &file{mount: f.mount, inner: inner}, nil
}

func (f *folder) CreateFolder(ctx context.Context, name string) (storable.Folder, error) {
	if err := f.requireWritable("archivemount.CreateFolder"); err != nil {
		return nil, err
	}
	modFolder := f.inner.(storable.ModifiableFolder)
	inner, err := modFolder.CreateFolder(ctx, name)
	if err != nil {
		return nil, err
	}
	f.mount.markDirty()
	return &folder{mount: f.mount, inner: inner}, nil
}

func (f *folder) Delete(ctx context.Context, name string) error {
	if err := f.requireWritable("archivemount.Delete"); err != nil {
		return err
	}
	modFolder := f.inner.(storable.ModifiableFolder)
	if err := modFolder.Delete(ctx, name); err != nil {
		return err
	}
	f.mount.markDirty()
	return nil
}

// file wraps a memfs file view, rejecting Writer for read-only
// archives. Writer on a writable archive is the "delegated-disposal
// stream": bytes are buffered by the underlying memfs writer and
// committed to the in-memory tree on Close, exactly like any other
// memfs write, but the archive as a whole is only pushed to its
// backing storable later, on Mount.Flush/Dispose.
type file struct {
	mount *Mount
	inner storable.File
}

func (f *file) ID() string                               { return f.inner.ID() }
func (f *file) Name() string                              { return f.inner.Name() }
func (f *file) Size() int64                               { return f.inner.Size() }
func (f *file) ModTime(ctx context.Context) time.Time     { return f.inner.ModTime(ctx) }

func (f *file) Reader(ctx context.Context) (io.ReadCloser, error) { return f.inner.Reader(ctx) }
func (f *file) ReadAll(ctx context.Context) ([]byte, error)       { return f.inner.ReadAll(ctx) }

func (f *file) Parent() storable.Folder {
	sc, ok := f.inner.(storable.StorableChild)
	if !ok {
		return nil
	}
	return &folder{mount: f.mount, inner: sc.Parent()}
}

type disposalWriter struct {
	mount *Mount
	inner io.WriteCloser
}

func (w *disposalWriter) Write(p []byte) (int, error) { return w.inner.Write(p) }

func (w *disposalWriter) Close() error {
	if err := w.inner.Close(); err != nil {
		return err
	}
	w.mount.markDirty()
	return nil
}

func (f *file) Writer(ctx context.Context) (io.WriteCloser, error) {
	if !f.mount.writable {
		return nil, storageerr.Newf("archivemount.Writer", storageerr.Unsupported, "archive %q is read-only", f.mount.backing.Name())
	}
	modFile, ok := f.inner.(storable.ModifiableFile)
	if !ok {
		return nil, storageerr.Newf("archivemount.Writer", storageerr.Unsupported, "entry %q is not writable", f.inner.Name())
	}
	inner, err := modFile.Writer(ctx)
	if err != nil {
		return nil, err
	}
	return &disposalWriter{mount: f.mount, inner: inner}, nil
}

func decodeZip(content []byte, tree *memfs.Tree) error {
	r, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return err
	}
	root := tree.Root().(storable.ModifiableFolder)
	ctx := context.Background()
	for _, zf := range r.File {
		if err := placeEntry(ctx, root, zf.Name, zf); err != nil {
			return err
		}
	}
	return nil
}

func placeEntry(ctx context.Context, root storable.ModifiableFolder, name string, zf *zip.File) error {
	parts := strings.Split(strings.Trim(name, "/"), "/")
	cur := root
	for i, part := range parts {
		if part == "" {
			continue
		}
		last := i == len(parts)-1
		if last && !strings.HasSuffix(name, "/") {
			mf, err := cur.CreateFile(ctx, part)
			if err != nil {
				return err
			}
			rc, err := zf.Open()
			if err != nil {
				return err
			}
			w, err := mf.Writer(ctx)
			if err != nil {
				_ = rc.Close()
				return err
			}
			if _, err := io.Copy(w, rc); err != nil {
				_ = rc.Close()
				_ = w.Close()
				return err
			}
			_ = rc.Close()
			if err := w.Close(); err != nil {
				return err
			}
			return nil
		}
		next, err := cur.CreateFolder(ctx, part)
		if err != nil {
			return err
		}
		cur = next.(storable.ModifiableFolder)
	}
	return nil
}

func encodeZip(tree *memfs.Tree) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	ctx := context.Background()
	if err := walkZip(ctx, zw, tree.Root(), ""); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func walkZip(ctx context.Context, zw *zip.Writer, folder storable.Folder, prefix string) error {
	children, err := folder.Children(ctx)
	if err != nil {
		return err
	}
	for {
		child, ok, err := children.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		name := prefix + child.Name()
		if sub, isFolder := child.(storable.Folder); isFolder {
			if err := walkZip(ctx, zw, sub, name+"/"); err != nil {
				return err
			}
			continue
		}
		f := child.(storable.File)
		w, err := zw.Create(name)
		if err != nil {
			return err
		}
		data, err := f.ReadAll(ctx)
		if err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	return nil
}

func decodeTar(content []byte, tree *memfs.Tree) error {
	return decodeTarReader(bytes.NewReader(content), tree)
}

func decodeTarGz(content []byte, tree *memfs.Tree) error {
	gz, err := kzip.NewReader(bytes.NewReader(content))
	if err != nil {
		return err
	}
	defer func() { _ = gz.Close() }()
	return decodeTarReader(gz, tree)
}

func decodeTarBz2(content []byte, tree *memfs.Tree) error {
	return decodeTarReader(bzip2.NewReader(bytes.NewReader(content)), tree)
}

func decodeTarXz(content []byte, tree *memfs.Tree) error {
	xr, err := xz.NewReader(bytes.NewReader(content))
	if err != nil {
		return err
	}
	return decodeTarReader(xr, tree)
}

func encodeTar(tree *memfs.Tree) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	ctx := context.Background()
	if err := walkTar(ctx, tw, tree.Root(), ""); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeTarGz(tree *memfs.Tree) ([]byte, error) {
	content, err := encodeTar(tree)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	gw := kzip.NewWriter(&buf)
	if _, err := gw.Write(content); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func walkTar(ctx context.Context, tw *tar.Writer, folder storable.Folder, prefix string) error {
	children, err := folder.Children(ctx)
	if err != nil {
		return err
	}
	for {
		child, ok, err := children.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		name := prefix + child.Name()
		if sub, isFolder := child.(storable.Folder); isFolder {
			if err := walkTar(ctx, tw, sub, name+"/"); err != nil {
				return err
			}
			continue
		}
		f := child.(storable.File)
		data, err := f.ReadAll(ctx)
		if err != nil {
			return err
		}
		hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(data)), ModTime: f.ModTime(ctx)}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := tw.Write(data); err != nil {
			return err
		}
	}
	return nil
}

func decodeTarReader(r io.Reader, tree *memfs.Tree) error {
	tr := tar.NewReader(r)
	root := tree.Root().(storable.ModifiableFolder)
	ctx := context.Background()
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.FileInfo().IsDir() {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return err
		}
		if err := placeTarEntry(ctx, root, hdr.Name, data); err != nil {
			return err
		}
	}
}

func placeTarEntry(ctx context.Context, root storable.ModifiableFolder, name string, data []byte) error {
	parts := strings.Split(strings.Trim(name, "/"), "/")
	cur := root
	for i, part := range parts {
		if part == "" {
			continue
		}
		if i == len(parts)-1 {
			mf, err := cur.CreateFile(ctx, part)
			if err != nil {
				return err
			}
			w, err := mf.Writer(ctx)
			if err != nil {
				return err
			}
			if _, err := w.Write(data); err != nil {
				_ = w.Close()
				return err
			}
			return w.Close()
		}
		next, err := cur.CreateFolder(ctx, part)
		if err != nil {
			return err
		}
		cur = next.(storable.ModifiableFolder)
	}
	return nil
}

func decodeGz(content []byte, tree *memfs.Tree) error {
	gz, err := kzip.NewReader(bytes.NewReader(content))
	if err != nil {
		return err
	}
	defer func() { _ = gz.Close() }()
	data, err := io.ReadAll(gz)
	if err != nil {
		return err
	}
	name := gz.Name
	if name == "" {
		name = "data"
	}
	root := tree.Root().(storable.ModifiableFolder)
	ctx := context.Background()
	mf, err := root.CreateFile(ctx, name)
	if err != nil {
		return err
	}
	w, err := mf.Writer(ctx)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// encodeGz re-gzips the tree's single entry, the inverse of decodeGz:
// a plain .gz is a compressor over one stream, not a container, so
// decodeGz puts exactly one file in the tree, and a tree that holds
// more than one entry is rejected rather than encoded.
func encodeGz(tree *memfs.Tree) ([]byte, error) {
	ctx := context.Background()
	children, err := tree.Root().Children(ctx)
	if err != nil {
		return nil, err
	}
	child, ok, err := children.Next(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, storageerr.New("archivemount.encodeGz", storageerr.InvalidArgument, "gz archive has no content to encode")
	}
	f, isFile := child.(storable.File)
	if !isFile {
		return nil, storageerr.New("archivemount.encodeGz", storageerr.InvalidArgument, "gz archive root entry is not a file")
	}
	_, more, err := children.Next(ctx)
	if err != nil {
		return nil, err
	}
	if more {
		return nil, storageerr.New("archivemount.encodeGz", storageerr.InvalidArgument, "gz archive holds more than one entry")
	}
	data, err := f.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	gw := kzip.NewWriter(&buf)
	gw.Name = f.Name()
	if _, err := gw.Write(data); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeBz2 decodes a bare .bz2 stream the same single-entry way
// decodeGz does. There is no write-back: compress/bzip2 only exposes a
// decompressor (the format is classified read-only anyway, so this is
// no loss).
func decodeBz2(content []byte, tree *memfs.Tree) error {
	data, err := io.ReadAll(bzip2.NewReader(bytes.NewReader(content)))
	if err != nil {
		return err
	}
	root := tree.Root().(storable.ModifiableFolder)
	return placeTarEntry(context.Background(), root, "data", data)
}

// decodeRar extracts a RAR archive via nwaples/rardecode, the same
// Next()-then-Read() iteration shape archive/tar's Reader uses, which
// placeTarEntry already knows how to drop entries from.
func decodeRar(content []byte, tree *memfs.Tree) error {
	rr, err := rardecode.NewReader(bytes.NewReader(content), "")
	if err != nil {
		return err
	}
	root := tree.Root().(storable.ModifiableFolder)
	ctx := context.Background()
	for {
		hdr, err := rr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.IsDir {
			continue
		}
		data, err := io.ReadAll(rr)
		if err != nil {
			return err
		}
		if err := placeTarEntry(ctx, root, hdr.Name, data); err != nil {
			return err
		}
	}
}

// decodeSevenZip extracts a 7z archive via bodgit/sevenzip, whose
// Reader/File/Open shape mirrors archive/zip closely enough to reuse
// placeTarEntry for laying entries into the tree.
func decodeSevenZip(content []byte, tree *memfs.Tree) error {
	r, err := sevenzip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return err
	}
	root := tree.Root().(storable.ModifiableFolder)
	ctx := context.Background()
	for _, zf := range r.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return err
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return err
		}
		if err := placeTarEntry(ctx, root, zf.Name, data); err != nil {
			return err
		}
	}
	return nil
}

var (
	_ storable.Folder           = (*folder)(nil)
	_ storable.ModifiableFolder = (*folder)(nil)
	_ storable.StorableChild    = (*folder)(nil)
	_ storable.File             = (*file)(nil)
	_ storable.ModifiableFile   = (*file)(nil)
	_ storable.StorableChild    = (*file)(nil)
)
