// Package memory implements the built-in "memory" protocol handler: a
// single synthetic browsable root with no backing store at all,
// grounded on the teacher's backend/memory in-process object storage.
// Where rclone keeps one shared buckets map in a package-level var,
// this handler keeps its memfs.Tree in the Handler itself: each New
// starts a fresh, empty tree.
package memory

import (
	"context"

	"github.com/owlcore-storage/storagefs/protocol"
	"github.com/owlcore-storage/storagefs/protocol/memfs"
	"github.com/owlcore-storage/storagefs/storable"
)

// Scheme is the fixed scheme name this handler owns.
const Scheme = "memory"

// Handler is the built-in memory protocol handler.
type Handler struct {
	tree *memfs.Tree
}

// New constructs the memory handler with a fresh, empty tree.
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
		DisplayName:        "In-memory object storage",
		Type:               "memory",
		DriveType:          "memory",
		IsReady:            true,
		TotalSize:          -1,
		AvailableFreeSpace: -1,
	}, nil
}

var _ protocol.BrowsableHandler = (*Handler)(nil)
