// Package local implements the built-in, implicit "local-file"
// protocol handler: one browsable root per drive, grounded on the
// teacher's backend/local package (os.Stat/os.ReadDir/os.Create
// directly, no intermediate client library) but trimmed to the
// subset spec §4.A needs plus disk usage reporting via gopsutil
// instead of per-OS build-tagged syscalls, since this module targets
// one build rather than shipping OS-specific About variants.
package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/owlcore-storage/storagefs/protocol"
	"github.com/owlcore-storage/storagefs/storable"
	"github.com/owlcore-storage/storagefs/storageerr"
)

// Scheme is the fixed scheme name this handler owns. Plain filesystem
// paths reaching the registry never carry this prefix themselves (per
// spec §3, the core treats them as opaque internal-form IDs and
// probes the filesystem directly) — the scheme exists so that drive
// roots can be enumerated and navigated to explicitly, the way the
// built-in mfs/memory roots are.
const Scheme = "local-file"

// Handler is the built-in local-file protocol handler.
type Handler struct{}

// New constructs the local-file handler.
func New() *Handler { return &Handler{} }

func (h *Handler) Scheme() string                { return Scheme }
func (h *Handler) HasBrowsableRoot() bool        { return true }
func (h *Handler) NeedsRegistration(string) bool { return false }

// CreateChildID joins parentID and childName with the OS path
// separator, the native ID shape for this scheme.
func (h *Handler) CreateChildID(parentID, childName string) string {
	return filepath.Join(parentID, childName)
}

// driveOf extracts the drive component from a "local-file://<drive>"
// root URI. On a single-root OS (most Unix systems) the drive is "/".
func driveOf(rootURI string) (string, error) {
	_, tail, ok := protocol.SplitID(rootURI)
	if !ok {
		return "", storageerr.Newf("local.driveOf", storageerr.InvalidArgument, "not a local-file root URI: %q", rootURI)
	}
	if tail == "" {
		return string(filepath.Separator), nil
	}
	return tail, nil
}

// CreateRoot opens the drive root named by rootURI's tail.
func (h *Handler) CreateRoot(ctx context.Context, rootURI string) (storable.Folder, error) {
	drive, err := driveOf(rootURI)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(drive)
	if err != nil {
		return nil, storageerr.Wrap("local.CreateRoot", storageerr.Unavailable, err, "stat drive root")
	}
	if !info.IsDir() {
		return nil, storageerr.Newf("local.CreateRoot", storageerr.InvalidArgument, "%q is not a directory", drive)
	}
	return &folder{path: drive}, nil
}

// DriveInfo reports free/total space for the drive named by rootURI
// via gopsutil, which works the same way on every OS this module
// targets instead of needing a per-OS About implementation.
func (h *Handler) DriveInfo(ctx context.Context, rootURI string) (*storable.DriveInfo, error) {
	drive, err := driveOf(rootURI)
	if err != nil {
		return nil, err
	}
	usage, err := disk.UsageWithContext(ctx, drive)
	if err != nil {
		return &storable.DriveInfo{
			ID:                 rootURI,
			DisplayName:        drive,
			Type:               "local-file",
			DriveType:          "unknown",
			IsReady:            false,
			TotalSize:          -1,
			AvailableFreeSpace: -1,
		}, nil
	}
	return &storable.DriveInfo{
		ID:                 rootURI,
		DisplayName:        drive,
		Type:               "local-file",
		DriveType:          "disk",
		IsReady:            true,
		TotalSize:          int64(usage.Total),
		AvailableFreeSpace: int64(usage.Free),
	}, nil
}

// folder wraps a native directory path.
type folder struct {
	path string
}

func (f *folder) ID() string   { return f.path }
func (f *folder) Name() string { return filepath.Base(f.path) }

func (f *folder) Parent() storable.Folder {
	parent := filepath.Dir(f.path)
	if parent == f.path {
		return nil
	}
	return &folder{path: parent}
}

type dirIter struct {
	dir     string
	entries []os.DirEntry
	i       int
}

func (it *dirIter) Next(ctx context.Context) (storable.Storable, bool, error) {
	if it.i >= len(it.entries) {
		return nil, false, nil
	}
	e := it.entries[it.i]
	it.i++
	childPath := filepath.Join(it.dir, e.Name())
	if e.IsDir() {
		return &folder{path: childPath}, true, nil
	}
	return &file{path: childPath}, true, nil
}

func (f *folder) Children(ctx context.Context) (storable.ChildIterator, error) {
	entries, err := os.ReadDir(f.path)
	if err != nil {
		return nil, storageerr.Wrap("local.Children", storageerr.Io, err, "read directory")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return &dirIter{dir: f.path, entries: entries}, nil
}

func (f *folder) CreateFile(ctx context.Context, name string) (storable.ModifiableFile, error) {
	p := filepath.Join(f.path, name)
	fh, err := os.Create(p)
	if err != nil {
		return nil, storageerr.Wrap("local.CreateFile", storageerr.Io, err, "create file")
	}
	_ = fh.Close()
	return &file{path: p}, nil
}

func (f *folder) CreateFolder(ctx context.Context, name string) (storable.Folder, error) {
	p := filepath.Join(f.path, name)
	if err := os.Mkdir(p, 0o777); err != nil && !os.IsExist(err) {
		return nil, storageerr.Wrap("local.CreateFolder", storageerr.Io, err, "mkdir")
	}
	return &folder{path: p}, nil
}

func (f *folder) Delete(ctx context.Context, name string) error {
	p := filepath.Join(f.path, name)
	if _, err := os.Lstat(p); os.IsNotExist(err) {
		return storageerr.Wrap("local.Delete", storageerr.NotFound, err, "no such entry")
	}
	if err := os.RemoveAll(p); err != nil {
		return storageerr.Wrap("local.Delete", storageerr.Io, err, "remove")
	}
	return nil
}

// file wraps a native file path.
type file struct {
	path string
}

func (f *file) ID() string   { return f.path }
func (f *file) Name() string { return filepath.Base(f.path) }

func (f *file) Parent() storable.Folder {
	return &folder{path: filepath.Dir(f.path)}
}

func (f *file) Size() int64 {
	info, err := os.Stat(f.path)
	if err != nil {
		return -1
	}
	return info.Size()
}

func (f *file) ModTime(ctx context.Context) time.Time {
	info, err := os.Stat(f.path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func (f *file) Reader(ctx context.Context) (io.ReadCloser, error) {
	fh, err := os.Open(f.path)
	if err != nil {
		return nil, storageerr.Wrap("local.Reader", storageerr.Io, err, "open file")
	}
	return fh, nil
}

func (f *file) ReadAll(ctx context.Context) ([]byte, error) {
	return storable.ReadAllFile(ctx, f)
}

func (f *file) Writer(ctx context.Context) (io.WriteCloser, error) {
	fh, err := os.Create(f.path)
	if err != nil {
		return nil, storageerr.Wrap("local.Writer", storageerr.Io, err, "create file")
	}
	return fh, nil
}

// ProbeDirectory is the direct-filesystem fallback the Storable Cache
// uses (spec §4.D step 4) when an ID isn't reachable through any
// handler. It reports ok=false rather than an error when path simply
// doesn't exist, so callers can fall through to the next resolution
// step.
func ProbeDirectory(path string) (storable.Folder, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil, false
	}
	return &folder{path: path}, true
}

// ProbeFile is ProbeDirectory's file-side counterpart.
func ProbeFile(path string) (storable.File, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, false
	}
	return &file{path: path}, true
}

// IsNativePath reports whether id looks like a native OS path rather
// than a scheme-form ID, i.e. it has no "scheme://" prefix.
func IsNativePath(id string) bool {
	_, _, ok := protocol.SplitID(id)
	return !ok
}

// EndsInSeparator reports whether id ends in a path separator, used by
// the alias engine when deciding whether to insert one.
func EndsInSeparator(id string) bool {
	return strings.HasSuffix(id, "/") || strings.HasSuffix(id, `\`)
}

var (
	_ protocol.BrowsableHandler = (*Handler)(nil)
	_ storable.ModifiableFolder = (*folder)(nil)
	_ storable.StorableChild    = (*folder)(nil)
	_ storable.ModifiableFile   = (*file)(nil)
	_ storable.StorableChild    = (*file)(nil)
)
