// Package registry implements the Storable Cache (spec §4.D): a
// concurrent map from canonical ID to materialized storable, with
// inbound ID canonicalization and lazy materialization via protocol
// handler dispatch. It is grounded on the teacher's fs/cache package,
// whose behavior (not its implementation — the pack retrieved only
// fs/cache/cache_test.go with no cache.go alongside it) is observed
// directly from that test file: GetFn/Get/Put/Pin/Unpin/Clear/Entries,
// and canonicalization that trims a lone trailing slash before storing
// or looking an entry up.
package registry

import (
	"context"
	"strings"
	"sync"

	"github.com/owlcore-storage/storagefs/protocol"
	"github.com/owlcore-storage/storagefs/protocol/local"
	"github.com/owlcore-storage/storagefs/storable"
	"github.com/owlcore-storage/storagefs/storageerr"
)

// entry is one cached storable plus its pin count, mirroring the
// teacher's cache.Pin/cache.Unpin reference counting (fs/cache_test.go).
type entry struct {
	value  storable.Storable
	pinned int
}

// Cache is the process-wide Storable Cache. One Cache is shared by
// every mount and every protocol handler lookup.
type Cache struct {
	handlers *protocol.Registry

	mu      sync.RWMutex
	entries map[string]*entry
}

// New returns an empty cache dispatching unresolved lookups through
// handlers.
func New(handlers *protocol.Registry) *Cache {
	return &Cache{handlers: handlers, entries: make(map[string]*entry)}
}

// canonicalize applies spec §4.D's inbound normalization: a browsable
// scheme's root or folder ID loses a single trailing slash so
// "mfs://a/" and "mfs://a" name the same cache entry, the same
// collapsing fs/cache_test.go exercises via
// Put("mock:/alien/", f) canonicalizing to match Get("mock:/alien").
// Resource-only schemes and internal-form (unprefixed) IDs are passed
// through unchanged: a trailing slash may be significant there (e.g.
// in a URL).
func (c *Cache) canonicalize(id string) string {
	scheme, tail, ok := protocol.SplitID(id)
	if !ok {
		return id
	}
	h, known := c.handlers.Get(scheme)
	if !known || !h.HasBrowsableRoot() {
		return id
	}
	if tail != "" && strings.HasSuffix(tail, "/") {
		tail = strings.TrimSuffix(tail, "/")
		return scheme + "://" + tail
	}
	return id
}

// Put installs value under id, after canonicalization. Any existing
// unpinned entry at the same canonical key is replaced.
func (c *Cache) Put(id string, value storable.Storable) {
	key := c.canonicalize(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.value = value
		return
	}
	c.entries[key] = &entry{value: value}
}

// GetFn is the cache-miss materializer a caller supplies to Get: it is
// invoked at most once per call with the lock released, mirroring
// fs/cache's GetFn(ctx, path) (fs.Fs, error) shape so concurrent
// Get calls for the same key don't serialize behind handler I/O.
type GetFn func(ctx context.Context) (storable.Storable, error)

// Get returns the cached storable at id, canonicalizing first, calling
// fn to materialize it on a miss and caching the result. fn is never
// called while the cache's own lock is held.
func (c *Cache) Get(ctx context.Context, id string, fn GetFn) (storable.Storable, error) {
	key := c.canonicalize(id)

	c.mu.RLock()
	if e, ok := c.entries[key]; ok {
		c.mu.RUnlock()
		return e.value, nil
	}
	c.mu.RUnlock()

	value, err := fn(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e.value, nil
	}
	c.entries[key] = &entry{value: value}
	return value, nil
}

// Pin increments id's pin count, preventing Clear from evicting it
// (ClearConfig still drops it). Grounded on cache.PinUntilFinalized in
// backend/archive/archive.go; no package in this module pins entries
// itself, so pinning is left to callers.
func (c *Cache) Pin(id string) {
	key := c.canonicalize(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.pinned++
	}
}

// Unpin decrements id's pin count.
func (c *Cache) Unpin(id string) {
	key := c.canonicalize(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && e.pinned > 0 {
		e.pinned--
	}
}

// Clear evicts every unpinned entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if e.pinned == 0 {
			delete(c.entries, key)
		}
	}
}

// ClearConfig evicts every entry whose key starts with scheme's root,
// i.e. everything belonging to a scheme being unmounted, pinned or not
// (spec §4.B unmount always drops the scheme's cache entries outright).
func (c *Cache) ClearConfig(scheme string) {
	prefix := scheme + "://"
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key == prefix || strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
}

// Entries returns every canonical key currently cached, for
// diagnostics and tests.
func (c *Cache) Entries() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.entries))
	for key := range c.entries {
		out = append(out, key)
	}
	return out
}

// Resolve is the cache's primary entry point (spec §4.D): given any
// ID (scheme-form or internal-form native path), it returns the
// materialized storable, consulting the cache first, then the
// responsible protocol handler, then falling back to a direct
// filesystem probe for internal-form IDs.
func (c *Cache) Resolve(ctx context.Context, id string) (storable.Storable, error) {
	return c.Get(ctx, id, func(ctx context.Context) (storable.Storable, error) {
		return c.materialize(ctx, id)
	})
}

func (c *Cache) materialize(ctx context.Context, id string) (storable.Storable, error) {
	scheme, tail, ok := protocol.SplitID(id)
	if !ok {
		if f, found := local.ProbeDirectory(id); found {
			return f, nil
		}
		if f, found := local.ProbeFile(id); found {
			return f, nil
		}
		return nil, storageerr.Newf("registry.Resolve", storageerr.NotFound, "no such local path %q", id)
	}

	h, known := c.handlers.Get(scheme)
	if !known {
		return nil, storageerr.Newf("registry.Resolve", storageerr.UnknownScheme, "no handler registered for scheme %q", scheme)
	}

	if tail == "" {
		bh, isBrowsable := h.(protocol.BrowsableHandler)
		if !isBrowsable {
			return nil, storageerr.Newf("registry.Resolve", storageerr.NavigationRequired, "scheme %q has no browsable root; a resource ID is required", scheme)
		}
		return bh.CreateRoot(ctx, protocol.RootURI(scheme))
	}

	if rh, isResource := h.(protocol.ResourceHandler); isResource {
		return rh.CreateResource(ctx, id)
	}

	if _, isBrowsable := h.(protocol.BrowsableHandler); !isBrowsable {
		return nil, storageerr.Newf("registry.Resolve", storageerr.Unsupported, "scheme %q supports neither browsing nor direct resource access", scheme)
	}

	// A browsable scheme's non-root suffix that missed the cache has
	// not been reached by prior navigation: spec §4.D step 6 and §9's
	// resolved open question both require NavigationRequired here
	// rather than silently materializing a deep path. Callers must
	// start at create_root and walk down via Children, Put-ing each
	// step so later direct lookups of the same ID hit the cache.
	return nil, storageerr.Newf("registry.Resolve", storageerr.NavigationRequired,
		"%q is not yet registered; start at %s and navigate to %q", id, protocol.RootURI(scheme), tail)
}
