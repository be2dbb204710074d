// Package protocol defines the Protocol Handler contract (spec §4.A)
// and the process-wide scheme registry built-in handlers and mounts
// share a namespace in, in the style of the teacher's fs.RegInfo /
// fs.Register pair: the process entry point registers each backend's
// handler explicitly at startup, and callers look schemes up by name
// rather than importing concrete backend types.
package protocol

import (
	"context"
	"strings"
	"sync"

	"github.com/owlcore-storage/storagefs/storable"
	"github.com/owlcore-storage/storagefs/storageerr"
)

// Handler is the capability set every scheme owner implements (spec
// §4.A). A Handler is either Browsable (see BrowsableHandler) or
// resource-only (see ResourceHandler); most handlers implement exactly
// one of the two extra interfaces below in addition to Handler.
type Handler interface {
	// Scheme is the prefix this handler owns, without "://".
	Scheme() string
	// HasBrowsableRoot reports whether CreateRoot is meaningful for
	// this handler. Constant per handler type.
	HasBrowsableRoot() bool
	// CreateChildID coins the ID of a child named childName under
	// parentID, using whatever ID shape this scheme uses internally.
	CreateChildID(parentID, childName string) string
	// NeedsRegistration advises the Storable Cache whether this
	// handler lazily registers its own cache entries on access (true)
	// or expects the cache to materialize and store on its behalf
	// (false, the common case).
	NeedsRegistration(id string) bool
	// DriveInfo returns information about the backing store rooted at
	// rootURI, or nil if this handler has no browsable root.
	DriveInfo(ctx context.Context, rootURI string) (*storable.DriveInfo, error)
}

// BrowsableHandler additionally exposes a single root folder that
// resources under the scheme are reached from by navigation.
type BrowsableHandler interface {
	Handler
	// CreateRoot materializes the folder at scheme://.
	CreateRoot(ctx context.Context, rootURI string) (storable.Folder, error)
}

// ResourceHandler is implemented by schemes with no browsable root:
// every scheme://tail addresses an individually materialized
// resource, e.g. http(s), immutable-cid, mutable-name.
type ResourceHandler interface {
	Handler
	// CreateResource materializes the storable named by resourceURI
	// directly, without requiring prior navigation.
	CreateResource(ctx context.Context, resourceURI string) (storable.Storable, error)
}

// Registry is the process-wide map from scheme to Handler. Built-in
// schemes are fixed at construction (spec invariant 2) and may never
// be shadowed by a later mount; mount schemes share the same map so a
// single lookup serves both.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	builtin  map[string]bool
}

// NewRegistry returns an empty registry. Built-in handlers are
// installed by calling RegisterBuiltin once per handler at startup.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		builtin:  make(map[string]bool),
	}
}

// RegisterBuiltin installs a fixed, non-shadowable handler. Intended
// for use only during process startup.
func (r *Registry) RegisterBuiltin(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Scheme()] = h
	r.builtin[h.Scheme()] = true
}

// Register installs a mount handler for scheme. It fails with
// InvalidArgument if scheme is a built-in, and with Conflict if it is
// already registered as a mount, satisfying invariants 1 and 2.
func (r *Registry) Register(h Handler) error {
	scheme := h.Scheme()
	if err := ValidateScheme(scheme); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.builtin[scheme] {
		return storageerr.Newf("protocol.Register", storageerr.InvalidArgument, "scheme %q is a built-in and cannot be shadowed", scheme)
	}
	if _, exists := r.handlers[scheme]; exists {
		return storageerr.Newf("protocol.Register", storageerr.Conflict, "scheme %q is already registered", scheme)
	}
	r.handlers[scheme] = h
	return nil
}

// Unregister removes a mount handler. It is a no-op (returns false)
// for unknown or built-in schemes.
func (r *Registry) Unregister(scheme string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.builtin[scheme] {
		return false
	}
	if _, exists := r.handlers[scheme]; !exists {
		return false
	}
	delete(r.handlers, scheme)
	return true
}

// Rekey atomically moves the handler registered under oldScheme to
// newScheme, used by mount rename. It fails with Conflict if newScheme
// is already taken, InvalidArgument if oldScheme is a built-in, or
// NotFound if oldScheme is not registered. The handler itself is moved
// as-is: its own Scheme() is not changed.
func (r *Registry) Rekey(oldScheme, newScheme string) error {
	if err := ValidateScheme(newScheme); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.builtin[oldScheme] {
		return storageerr.Newf("protocol.Rekey", storageerr.InvalidArgument, "%q is a built-in scheme and cannot be renamed", oldScheme)
	}
	h, exists := r.handlers[oldScheme]
	if !exists {
		return storageerr.Newf("protocol.Rekey", storageerr.NotFound, "scheme %q is not registered", oldScheme)
	}
	if _, taken := r.handlers[newScheme]; taken {
		return storageerr.Newf("protocol.Rekey", storageerr.Conflict, "scheme %q is already registered", newScheme)
	}
	delete(r.handlers, oldScheme)
	r.handlers[newScheme] = h
	return nil
}

// Get returns the handler for scheme, if any.
func (r *Registry) Get(scheme string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[scheme]
	return h, ok
}

// IsBuiltin reports whether scheme is a fixed built-in (not a mount).
func (r *Registry) IsBuiltin(scheme string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.builtin[scheme]
}

// Schemes lists every known scheme, built-in and mounted, for use in
// UnknownScheme and NavigationRequired error messages.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for s := range r.handlers {
		out = append(out, s)
	}
	return out
}

// NativeRootProvider is implemented by browsable built-in handlers
// whose root corresponds to a native identity distinct from their own
// "scheme://" form (spec §4.C: "a root whose native ID is / allows
// mfs://…"). A handler whose storables already carry their native
// form as their own ID (e.g. local-file, whose folder IDs are OS
// paths already) has no need to implement this.
type NativeRootProvider interface {
	Handler
	// NativeRootID returns the native-form ID substitution should
	// treat this handler's root as standing for.
	NativeRootID() string
}

// BrowsableSchemes returns the scheme of every registered handler
// whose HasBrowsableRoot reports true. Used by alias.Engine.BindBuiltinRoots to find built-in
// roots to consider in native→alias substitution.
func (r *Registry) BrowsableSchemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for s, h := range r.handlers {
		if h.HasBrowsableRoot() {
			out = append(out, s)
		}
	}
	return out
}

// ValidateScheme enforces the naming rules shared by mount() and
// rename(): non-empty, no "/", "\", or "://".
func ValidateScheme(scheme string) error {
	if scheme == "" {
		return storageerr.New("protocol.ValidateScheme", storageerr.InvalidArgument, "scheme must not be empty")
	}
	if strings.ContainsAny(scheme, `/\`) || strings.Contains(scheme, "://") {
		return storageerr.Newf("protocol.ValidateScheme", storageerr.InvalidArgument, "scheme %q must not contain '/', '\\', or '://'", scheme)
	}
	return nil
}

// SplitID splits a storable ID into (scheme, tail, ok). ok is false
// for internal-form IDs with no recognizable "scheme://" prefix.
func SplitID(id string) (scheme, tail string, ok bool) {
	idx := strings.Index(id, "://")
	if idx <= 0 {
		return "", "", false
	}
	return id[:idx], id[idx+3:], true
}

// RootURI returns the canonical root URI for scheme.
func RootURI(scheme string) string {
	return scheme + "://"
}

// IsRoot reports whether id is exactly "scheme://" for some scheme.
func IsRoot(id string) bool {
	scheme, tail, ok := SplitID(id)
	return ok && tail == "" && scheme != ""
}
