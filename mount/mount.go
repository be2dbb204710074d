// Package mount implements the Mount Registry (spec §4.B): binding
// caller-chosen schemes to existing folders or archive files, with
// persistence across restarts, single-mount-per-archive enforcement,
// mount-graph cycle prevention, and dependency-ordered restoration. It
// is grounded on backend/combine/combine.go's upstream management (one
// entry per named mount point) generalized from "upstreams listed once
// at construction" to "mounts added and removed at any time"; unlike
// combine's errgroup-based construction, restoration favors resilience
// over strictness (spec §4.B step 3/6), so one wave's failures are
// logged and do not cancel their siblings.
package mount

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/owlcore-storage/storagefs/alias"
	"github.com/owlcore-storage/storagefs/archivemount"
	"github.com/owlcore-storage/storagefs/logging"
	"github.com/owlcore-storage/storagefs/protocol"
	"github.com/owlcore-storage/storagefs/registry"
	"github.com/owlcore-storage/storagefs/settings"
	"github.com/owlcore-storage/storagefs/storable"
	"github.com/owlcore-storage/storagefs/storageerr"
)

// mountHandler is a protocol.BrowsableHandler backing one active
// mount: its root is fixed at mount time to the folder view the mount
// was created with.
type mountHandler struct {
	scheme string
	root   storable.Folder
}

func (h *mountHandler) Scheme() string                { return h.scheme }
func (h *mountHandler) HasBrowsableRoot() bool        { return true }
func (h *mountHandler) NeedsRegistration(string) bool { return false }

func (h *mountHandler) CreateChildID(parentID, childName string) string {
	return parentID + "/" + childName
}

func (h *mountHandler) CreateRoot(ctx context.Context, rootURI string) (storable.Folder, error) {
	return h.root, nil
}

func (h *mountHandler) DriveInfo(ctx context.Context, rootURI string) (*storable.DriveInfo, error) {
	return &storable.DriveInfo{
		ID:                 protocol.RootURI(h.scheme),
		DisplayName:        h.scheme,
		Type:               "mount",
		DriveType:          "mount",
		IsReady:            true,
		TotalSize:          -1,
		AvailableFreeSpace: -1,
	}, nil
}

var _ protocol.BrowsableHandler = (*mountHandler)(nil)

// Registry is the live Mount Registry: it owns the process-wide
// protocol.Registry, alias.Engine and registry.Cache, and persists
// every mutation through a settings.Store. Composite mutations
// (mount/unmount/rename/restore) are serialized by an internal mutex;
// spec §4 only requires external callers to not interleave these,
// but the teacher's own Fs types protect their maps internally too, so
// this registry follows suit rather than leaning entirely on caller
// discipline.
type Registry struct {
	mu       sync.Mutex
	handlers *protocol.Registry
	aliases  *alias.Engine
	cache    *registry.Cache
	store    *settings.Store

	archives map[string]*archivemount.Mount // scheme -> open archive, for flush on unmount/dispose
}

// New wires a Mount Registry over already-constructed handlers,
// aliases, cache and store.
func New(handlers *protocol.Registry, aliases *alias.Engine, cache *registry.Cache, store *settings.Store) *Registry {
	return &Registry{
		handlers: handlers,
		aliases:  aliases,
		cache:    cache,
		store:    store,
		archives: make(map[string]*archivemount.Mount),
	}
}

// Mount implements spec §4.B's mount operation.
func (r *Registry) Mount(ctx context.Context, item storable.Storable, scheme, displayName, originalID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := protocol.ValidateScheme(scheme); err != nil {
		return "", err
	}
	if r.handlers.IsBuiltin(scheme) {
		return "", storageerr.Newf("mount.Mount", storageerr.InvalidArgument, "scheme %q is a built-in and cannot be shadowed", scheme)
	}
	if _, exists := r.handlers.Get(scheme); exists {
		return "", storageerr.Newf("mount.Mount", storageerr.Conflict, "scheme %q is already registered", scheme)
	}
	if err := checkMountGraphCycle(r.store.Mounts(), scheme, originalID); err != nil {
		return "", err
	}

	if folder, isFolder := item.(storable.Folder); isFolder {
		if sc, isChild := item.(storable.StorableChild); isChild {
			if err := checkAncestryCycle(ctx, sc); err != nil {
				return "", err
			}
		}
		return r.installFolderMount(scheme, folder, displayName, originalID, settings.MountTypeFolder, nil)
	}

	file, isFile := item.(storable.File)
	if !isFile {
		return "", storageerr.Newf("mount.Mount", storageerr.Unsupported, "storable %q is neither a folder nor a file", item.ID())
	}

	if _, _, ok := archivemount.Classify(file.Name()); !ok {
		return "", storageerr.Newf("mount.Mount", storageerr.Unsupported, "%q has no supported archive extension", file.Name())
	}

	for _, existing := range r.store.Mounts() {
		if existing.MountType == settings.MountTypeFile && existing.OriginalStorableID == originalID {
			return "", storageerr.Newf("mount.Mount", storageerr.Conflict, "archive %q is already mounted under scheme %q", originalID, existing.ProtocolScheme)
		}
	}

	am, err := archivemount.Wrap(ctx, file)
	if err != nil {
		return "", err
	}
	dependsOn := dependencyOf(originalID)
	uri, err := r.installFolderMount(scheme, am.Root(), displayName, originalID, settings.MountTypeFile, dependsOn)
	if err != nil {
		return "", err
	}
	r.archives[scheme] = am
	return uri, nil
}

// installFolderMount does the registration steps common to both
// folder and archive-file mounts: install the handler, seed the
// cache, bind the alias engine, and persist the entry.
func (r *Registry) installFolderMount(scheme string, root storable.Folder, displayName, originalID string, mountType settings.MountType, dependsOn []string) (string, error) {
	h := &mountHandler{scheme: scheme, root: root}
	if err := r.handlers.Register(h); err != nil {
		return "", err
	}

	rootURI := protocol.RootURI(scheme)
	r.cache.Put(rootURI, root)
	r.aliases.Put(scheme, originalID)

	if dependsOn == nil {
		dependsOn = dependencyOf(originalID)
	}
	entry := settings.MountEntry{
		ProtocolScheme:     scheme,
		OriginalStorableID: originalID,
		MountName:          displayName,
		CreatedAt:          time.Now(),
		DependsOn:          dependsOn,
		MountType:          mountType,
	}
	if err := r.store.Put(entry); err != nil {
		r.handlers.Unregister(scheme)
		r.aliases.Remove(scheme)
		return "", err
	}

	logging.Infof(nil, "mounted %q at %s", displayName, rootURI)
	return rootURI, nil
}

// dependencyOf returns the scheme a mount's originalID depends on, if
// originalID is itself expressed in alias form, used both to persist
// DependsOn and to drive Restore's dependency-ordered replay.
func dependencyOf(originalID string) []string {
	scheme, _, ok := protocol.SplitID(originalID)
	if !ok {
		return nil
	}
	return []string{scheme}
}

// checkAncestryCycle walks item's StorableChild.Parent() chain and
// fails with Conflict if it does not terminate within a bounded number
// of steps, the cycle-prevention spec §4.B calls for when the storable
// being mounted is itself nested under another storable (only
// StorableChild folders carry a Parent() chain at all, so only they
// need checking): a folder whose ancestry loops back on itself would
// make any ID→alias resolution along that chain loop forever.
func checkAncestryCycle(ctx context.Context, sc storable.StorableChild) error {
	const maxAncestry = 4096
	seen := make(map[string]bool)
	var cur storable.Folder = sc.Parent()
	steps := 0
	for cur != nil {
		if steps >= maxAncestry {
			return storageerr.Newf("mount.checkAncestryCycle", storageerr.Conflict, "ancestry chain did not terminate within %d steps; refusing to mount a cyclic folder", maxAncestry)
		}
		if seen[cur.ID()] {
			return storageerr.Newf("mount.checkAncestryCycle", storageerr.Conflict, "mounting %q would create a cycle: %q is its own ancestor", sc.ID(), cur.ID())
		}
		seen[cur.ID()] = true
		steps++
		next, isChild := cur.(storable.StorableChild)
		if !isChild {
			break
		}
		cur = next.Parent()
	}
	return nil
}

// checkMountGraphCycle implements spec §4.B's cycle check: DFS from
// originalID over edges defined by "current node is under mount X;
// follow to X's underlying storable's ID". A cycle exists iff the walk
// reaches targetScheme itself — e.g. mounting a2:// whose source
// resolves through b:// back into a:// must fail, even though neither
// a:// nor b://'s folders are physically nested under one another
// (that narrower, physical-ancestry property is checkAncestryCycle's
// job, not this one).
func checkMountGraphCycle(mounts []settings.MountEntry, targetScheme, originalID string) error {
	dependsOn := make(map[string]string, len(mounts))
	for _, e := range mounts {
		dependsOn[e.ProtocolScheme] = e.OriginalStorableID
	}

	cur := originalID
	seen := make(map[string]bool)
	for {
		scheme, _, ok := protocol.SplitID(cur)
		if !ok {
			return nil
		}
		if scheme == targetScheme {
			return storageerr.Newf("mount.checkMountGraphCycle", storageerr.Conflict, "mounting %q on %q would create a mount dependency cycle back through %q", targetScheme, originalID, scheme)
		}
		if seen[scheme] {
			return nil
		}
		seen[scheme] = true
		next, isMount := dependsOn[scheme]
		if !isMount {
			return nil
		}
		cur = next
	}
}

// Unmount implements spec §4.B's unmount: it tears down the handler,
// alias binding and cache entries for scheme, flushing any open
// archive mount first so buffered writes aren't lost.
func (r *Registry) Unmount(ctx context.Context, scheme string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handlers.IsBuiltin(scheme) {
		return storageerr.Newf("mount.Unmount", storageerr.InvalidArgument, "%q is a built-in scheme and cannot be unmounted", scheme)
	}
	if _, exists := r.handlers.Get(scheme); !exists {
		return storageerr.Newf("mount.Unmount", storageerr.NotFound, "scheme %q is not mounted", scheme)
	}

	for _, e := range r.store.Mounts() {
		for _, dep := range e.DependsOn {
			if dep == scheme {
				return storageerr.Newf("mount.Unmount", storageerr.Conflict, "scheme %q still depends on %q", e.ProtocolScheme, scheme)
			}
		}
	}

	if am, ok := r.archives[scheme]; ok {
		if err := am.Dispose(ctx); err != nil {
			return err
		}
		delete(r.archives, scheme)
	}

	r.handlers.Unregister(scheme)
	r.aliases.Remove(scheme)
	r.cache.ClearConfig(scheme)
	if err := r.store.Remove(scheme); err != nil {
		return err
	}
	logging.Infof(nil, "unmounted %q", scheme)
	return nil
}

// Rename implements spec §4.B's rename: it atomically rekeys the
// handler registry, alias binding and persisted entry from oldScheme
// to newScheme, and drops every cache entry under oldScheme rather
// than rewriting it: the next lookup under oldScheme misses and fails
// with UnknownScheme, and newScheme's root resolves fresh through the
// rekeyed handler.
func (r *Registry) Rename(ctx context.Context, oldScheme, newScheme string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handlers.IsBuiltin(oldScheme) {
		return storageerr.Newf("mount.Rename", storageerr.InvalidArgument, "%q is a built-in scheme and cannot be renamed", oldScheme)
	}
	if err := r.handlers.Rekey(oldScheme, newScheme); err != nil {
		return err
	}
	r.aliases.Rekey(oldScheme, newScheme)
	r.cache.ClearConfig(oldScheme)
	if am, ok := r.archives[oldScheme]; ok {
		delete(r.archives, oldScheme)
		r.archives[newScheme] = am
	}
	if err := r.store.Rename(oldScheme, newScheme); err != nil {
		return err
	}
	logging.Infof(nil, "renamed mount %q to %q", oldScheme, newScheme)
	return nil
}

// List returns every currently persisted mount entry.
func (r *Registry) List() []settings.MountEntry {
	return r.store.Mounts()
}

// resolver materializes the storable a mount entry's OriginalStorableID
// names, used by Restore; it is the one method of registry.Cache that
// Restore needs, and Restore sets it from the Registry's own cache.
type resolver interface {
	Resolve(ctx context.Context, id string) (storable.Storable, error)
}

// Restore implements spec §4.B/§4.D's startup behavior: it reads
// every persisted mount entry, topologically sorts them by DependsOn
// into waves (each wave listed in CreatedAt order), and restores each
// wave of mutually-independent mounts concurrently, so within a wave
// the order in which mounts finish is not defined. Per-entry failures are
// logged and do not abort the rest of restoration (spec §4.B step 6,
// §7: "restoration logs and continues") — one bad or unreachable mount
// must not take down every other mount with it.
func (r *Registry) Restore(ctx context.Context) error {
	entries := r.store.Mounts()
	waves := topoSortWaves(entries)

	var res resolver = r.cache
	for _, wave := range waves {
		var wg sync.WaitGroup
		for _, entry := range wave {
			entry := entry
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := r.restoreOne(ctx, res, entry); err != nil {
					logging.Errorf(nil, "restore mount %q: %v", entry.ProtocolScheme, err)
				}
			}()
		}
		wg.Wait()
	}
	return nil
}

func (r *Registry) restoreOne(ctx context.Context, res resolver, entry settings.MountEntry) error {
	item, err := res.Resolve(ctx, entry.OriginalStorableID)
	if err != nil {
		return storageerr.Wrap("mount.Restore", storageerr.Unavailable, err, "resolve original storable for scheme "+entry.ProtocolScheme)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers.Get(entry.ProtocolScheme); exists {
		return nil
	}

	var root storable.Folder
	switch entry.MountType {
	case settings.MountTypeFile:
		file, ok := item.(storable.File)
		if !ok {
			return storageerr.Newf("mount.Restore", storageerr.InvalidArgument, "%q is no longer a file", entry.OriginalStorableID)
		}
		am, err := archivemount.Wrap(ctx, file)
		if err != nil {
			return err
		}
		r.archives[entry.ProtocolScheme] = am
		root = am.Root()
	default:
		folder, ok := item.(storable.Folder)
		if !ok {
			return storageerr.Newf("mount.Restore", storageerr.InvalidArgument, "%q is no longer a folder", entry.OriginalStorableID)
		}
		root = folder
	}

	h := &mountHandler{scheme: entry.ProtocolScheme, root: root}
	if err := r.handlers.Register(h); err != nil {
		return err
	}
	r.cache.Put(protocol.RootURI(entry.ProtocolScheme), root)
	r.aliases.Put(entry.ProtocolScheme, entry.OriginalStorableID)
	logging.Infof(nil, "restored mount %q", entry.ProtocolScheme)
	return nil
}

// topoSortWaves groups entries into waves by Kahn's algorithm over the
// DependsOn graph: wave 0 has no unresolved dependencies, wave 1
// depends only on wave 0, and so on. Entries within the same wave are
// ordered by CreatedAt (earlier first) purely for deterministic,
// human-predictable restore logging; restoration within a wave is
// actually concurrent. On cycle detection, the remaining entries (none
// of which can ever become "ready") are emitted as one final wave in
// creation order instead of failing the whole restore (spec §4.B step
// 3: "resilience over strictness") — a corrupted or hand-edited
// DependsOn chain must not prevent every other, unrelated mount from
// coming back.
func topoSortWaves(entries []settings.MountEntry) [][]settings.MountEntry {
	bySche := make(map[string]settings.MountEntry, len(entries))
	for _, e := range entries {
		bySche[e.ProtocolScheme] = e
	}

	remaining := make(map[string]settings.MountEntry, len(entries))
	for k, v := range bySche {
		remaining[k] = v
	}

	var waves [][]settings.MountEntry
	for len(remaining) > 0 {
		var wave []settings.MountEntry
		for scheme, e := range remaining {
			ready := true
			for _, dep := range e.DependsOn {
				if _, stillPending := remaining[dep]; stillPending {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, remaining[scheme])
			}
		}
		if len(wave) == 0 {
			for _, e := range remaining {
				wave = append(wave, e)
			}
			logging.Errorf(nil, "mount table contains a dependency cycle among %d entries; restoring in creation order", len(wave))
		}
		sort.Slice(wave, func(i, j int) bool { return wave[i].CreatedAt.Before(wave[j].CreatedAt) })
		for _, e := range wave {
			delete(remaining, e.ProtocolScheme)
		}
		waves = append(waves, wave)
	}
	return waves
}
