// Package storable defines the core value types of the virtual
// filesystem: items with an opaque ID and a name, in one of the File
// or Folder shapes, optionally mutable and optionally aware of their
// parent. Exact backing (disk, memory, archive, network) is opaque to
// every consumer of this package, per spec §3.
package storable

import (
	"context"
	"io"
	"time"
)

// Storable is the capability every addressable item exposes: an
// opaque ID (which may be scheme-prefixed) and a display name.
type Storable interface {
	// ID returns the opaque identifier this item was materialized
	// under. Two Storables with the same underlying backing may report
	// different IDs if reached through different aliases; the registry
	// is responsible for keeping such views consistent, not this type.
	ID() string
	// Name returns the item's display name (the final path segment for
	// path-shaped IDs; backend-defined otherwise).
	Name() string
}

// File is a Storable that holds bytes.
type File interface {
	Storable
	// Size reports the file's length in bytes, or -1 if unknown.
	Size() int64
	// ModTime reports the last-modified time, zero if unknown.
	ModTime(ctx context.Context) time.Time
	// Reader opens a stream of the file's bytes. Callers must Close it.
	Reader(ctx context.Context) (io.ReadCloser, error)
	// ReadAll reads the entire file into memory. Backends may implement
	// this directly; the default behavior (see ReadAllFile) drains
	// Reader.
	ReadAll(ctx context.Context) ([]byte, error)
}

// ModifiableFile is a File that also accepts writes. Whether a given
// File also implements ModifiableFile is the operational meaning of
// the spec's "(if Modifiable)" qualifier.
type ModifiableFile interface {
	File
	// Writer opens a stream that replaces the file's contents when
	// closed successfully. Callers must Close it to commit.
	Writer(ctx context.Context) (io.WriteCloser, error)
}

// ChildIterator lazily walks a Folder's children, per spec §3's "lazy
// sequence" requirement: a backend with many children (e.g. a large
// bucket) need not materialize them all before the first is visible.
type ChildIterator interface {
	// Next advances to the next child. It returns ok=false (and a nil
	// error) once the sequence is exhausted.
	Next(ctx context.Context) (child Storable, ok bool, err error)
}

// Folder is a Storable that contains children.
type Folder interface {
	Storable
	// Children returns a fresh iterator over this folder's entries.
	Children(ctx context.Context) (ChildIterator, error)
}

// ModifiableFolder is a Folder that can create and delete children.
type ModifiableFolder interface {
	Folder
	// CreateFile creates (or truncates) a file named name and returns
	// it open for writing via its own Writer.
	CreateFile(ctx context.Context, name string) (ModifiableFile, error)
	// CreateFolder creates a child folder named name.
	CreateFolder(ctx context.Context, name string) (Folder, error)
	// Delete removes the child named name. It is an error if no such
	// child exists.
	Delete(ctx context.Context, name string) error
}

// StorableChild additionally knows its own parent folder, per spec §3.
type StorableChild interface {
	Storable
	Parent() Folder
}

// Flushable is implemented by folder views that buffer mutations and
// must be told to write them back (archive mounts, see spec §4.E).
// Unmount disposes an archive mount, and its Dispose flushes first.
type Flushable interface {
	Flush(ctx context.Context) error
}

// Disposable is implemented by folder views that hold resources (open
// file handles, in-memory buffers) that must be released once a mount
// is torn down.
type Disposable interface {
	Dispose(ctx context.Context) error
}

// DriveInfo describes a browsable root's backing store, per spec §6.
// Sizes are -1 when unbounded or unknown.
type DriveInfo struct {
	ID                 string
	DisplayName        string
	Type               string
	DriveType          string
	IsReady            bool
	TotalSize          int64
	AvailableFreeSpace int64
}

// ReadAllFile is a helper backends can use to implement File.ReadAll in
// terms of Reader, mirroring how the teacher's Object.Open is the
// primitive and whole-file reads are built on top of it.
func ReadAllFile(ctx context.Context, f File) ([]byte, error) {
	r, err := f.Reader(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
