// Package nameproto implements the built-in "mutable-name" protocol
// handler: a resource-only scheme addressing content-addressed store
// objects by a mutable name that can be repointed to new content,
// grounded on the same shape as protocol/cidproto but additionally
// exposing the castore.Store.Put side for write-back, since unlike
// immutable-cid a mutable-name object is a storable.ModifiableFile.
package nameproto

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/owlcore-storage/storagefs/protocol"
	"github.com/owlcore-storage/storagefs/protocol/castore"
	"github.com/owlcore-storage/storagefs/storable"
	"github.com/owlcore-storage/storagefs/storageerr"
)

// Scheme is the fixed scheme name this handler owns.
const Scheme = "mutable-name"

// Handler is the built-in mutable-name protocol handler.
type Handler struct {
	store castore.Store
}

// New constructs the handler reading through store.
func New(store castore.Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) Scheme() string                { return Scheme }
func (h *Handler) HasBrowsableRoot() bool        { return false }
func (h *Handler) NeedsRegistration(string) bool { return false }

func (h *Handler) CreateChildID(parentID, childName string) string {
	return protocol.RootURI(Scheme) + childName
}

func (h *Handler) DriveInfo(ctx context.Context, rootURI string) (*storable.DriveInfo, error) {
	return nil, storageerr.New("nameproto.DriveInfo", storageerr.Unsupported, "mutable-name has no browsable root")
}

// CreateResource resolves the name named by resourceURI's tail. A
// name with nothing stored under it yet is still materialized (size
// 0, zero modtime) so it can be written to without a prior Put.
func (h *Handler) CreateResource(ctx context.Context, resourceURI string) (storable.Storable, error) {
	_, name, ok := protocol.SplitID(resourceURI)
	if !ok || name == "" {
		return nil, storageerr.Newf("nameproto.CreateResource", storageerr.InvalidArgument, "malformed mutable-name ID %q", resourceURI)
	}
	entry, err := h.store.Stat(ctx, name)
	if err != nil && !storageerr.Is(err, storageerr.NotFound) {
		return nil, err
	}
	return &object{store: h.store, id: resourceURI, name: name, entry: entry}, nil
}

// object is a single mutable, name-addressed file.
type object struct {
	store castore.Store
	id    string
	name  string
	entry castore.Entry
}

func (o *object) ID() string                           { return o.id }
func (o *object) Name() string                         { return o.name }
func (o *object) Size() int64                          { return o.entry.Size }
func (o *object) ModTime(ctx context.Context) time.Time { return o.entry.ModTime }

func (o *object) Reader(ctx context.Context) (io.ReadCloser, error) {
	return o.store.Open(ctx, o.name)
}

func (o *object) ReadAll(ctx context.Context) ([]byte, error) {
	return storable.ReadAllFile(ctx, o)
}

func (o *object) Writer(ctx context.Context) (io.WriteCloser, error) {
	return &writer{store: o.store, name: o.name}, nil
}

// writer buffers the full write and commits on Close, since the
// castore.Store boundary is a single atomic Put rather than a
// streaming append API.
type writer struct {
	store castore.Store
	name  string
	buf   bytes.Buffer
}

func (w *writer) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *writer) Close() error {
	return w.store.Put(context.Background(), w.name, w.buf.Bytes())
}

var (
	_ protocol.ResourceHandler = (*Handler)(nil)
	_ storable.ModifiableFile  = (*object)(nil)
)
