// Package cidproto implements the built-in "immutable-cid"
// protocol handler: a resource-only scheme addressing
// content-addressed objects by hash, grounded on the same
// resource-only shape as protocol/httpproto (probe-then-lazy-read)
// but reading through the protocol/castore.Store boundary instead of
// net/http, since the content-addressed store client itself is an
// external collaborator per spec §1.
package cidproto

import (
	"context"
	"io"
	"time"

	"github.com/owlcore-storage/storagefs/protocol"
	"github.com/owlcore-storage/storagefs/protocol/castore"
	"github.com/owlcore-storage/storagefs/storable"
	"github.com/owlcore-storage/storagefs/storageerr"
)

// Scheme is the fixed scheme name this handler owns.
const Scheme = "immutable-cid"

// Handler is the built-in immutable-cid protocol handler.
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
	return nil, storageerr.New("cidproto.DriveInfo", storageerr.Unsupported, "immutable-cid has no browsable root")
}

// CreateResource resolves the CID named by resourceURI's tail.
func (h *Handler) CreateResource(ctx context.Context, resourceURI string) (storable.Storable, error) {
	_, cid, ok := protocol.SplitID(resourceURI)
	if !ok || cid == "" {
		return nil, storageerr.Newf("cidproto.CreateResource", storageerr.InvalidArgument, "malformed immutable-cid ID %q", resourceURI)
	}
	entry, err := h.store.Stat(ctx, cid)
	if err != nil {
		return nil, err
	}
	return &object{store: h.store, id: resourceURI, key: cid, entry: entry}, nil
}

// object is a single immutable, content-addressed file.
type object struct {
	store castore.Store
	id    string
	key   string
	entry castore.Entry
}

func (o *object) ID() string                           { return o.id }
func (o *object) Name() string                         { return o.key }
func (o *object) Size() int64                          { return o.entry.Size }
func (o *object) ModTime(ctx context.Context) time.Time { return o.entry.ModTime }

func (o *object) Reader(ctx context.Context) (io.ReadCloser, error) {
	return o.store.Open(ctx, o.key)
}

func (o *object) ReadAll(ctx context.Context) ([]byte, error) {
	return storable.ReadAllFile(ctx, o)
}

var (
	_ protocol.ResourceHandler = (*Handler)(nil)
	_ storable.File            = (*object)(nil)
)
