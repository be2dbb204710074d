// Package mfs implements the built-in "mfs" protocol handler: a
// single global browsable root backed by an in-process tree, grounded
// on the teacher's backend/memory registration shape (init() calling
// a Register function) but backed by protocol/memfs instead of
// memory's flat bucket map, since mfs needs nested folders rather
// than S3-style buckets.
package mfs

import (
	"context"

	"github.com/owlcore-storage/storagefs/protocol"
	"github.com/owlcore-storage/storagefs/protocol/memfs"
	"github.com/owlcore-storage/storagefs/storable"
)

// Scheme is the fixed scheme name this handler owns.
const Scheme = "mfs"

// Handler is the built-in mfs protocol handler. It holds named paths
// (as in the spec's "mfs://owlcore.skills/..." example) that mounts
// can be layered on top of. Each Handler owns the tree New gave it, so
// a process that registers one mfs handler sees one mfs tree; the
// tree lives in memory only and is not persisted.
type Handler struct {
	tree *memfs.Tree
}

// New constructs the mfs handler with a fresh, empty tree.
func New() *Handler {
	return &Handler{tree: memfs.NewTree(Scheme)}
}

func (h *Handler) Scheme() string                { return Scheme }
func (h *Handler) HasBrowsableRoot() bool        { return true }
func (h *Handler) NeedsRegistration(string) bool { return false }

func (h *Handler) CreateChildID(parentID, childName string) string {
	return memfs.ChildID(Scheme, parentID, childName)
}

func (h *Handler) CreateRoot(ctx context.Context, rootURI string) (storable.Folder, error) {
	return h.tree.Root(), nil
}

func (h *Handler) DriveInfo(ctx context.Context, rootURI string) (*storable.DriveInfo, error) {
	return &storable.DriveInfo{
		ID:                 protocol.RootURI(Scheme),
		DisplayName:        "In-memory shared tree",
		Type:               "mfs",
		DriveType:          "memory",
		IsReady:            true,
		TotalSize:          -1,
		AvailableFreeSpace: -1,
	}, nil
}

// NativeRootID reports "/" as the native identity of the mfs root, per
// spec §4.C's own worked example ("Built-in mfs:// root native ID is
// /"), so substitute_with_alias/resolve_alias_to_full consider mounts
// layered on top of mfs paths the same way they would mounts layered
// on top of a real filesystem root.
func (h *Handler) NativeRootID() string { return "/" }

var (
	_ protocol.BrowsableHandler   = (*Handler)(nil)
	_ protocol.NativeRootProvider = (*Handler)(nil)
)
