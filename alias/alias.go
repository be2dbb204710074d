// Package alias implements the bidirectional alias ↔ native-ID
// substitution engine (spec §4.C): every mount binds a scheme prefix
// to an existing storable's ID, and from then on either form may be
// used to address anything under that storable. It is grounded on
// the teacher's backend/combine adjustment type (backend/combine/combine.go),
// which does the same prefix-swap trick for path strings; this
// package generalizes the same "longest matching prefix, then chop or
// splice" idea to opaque IDs that are not necessarily path-shaped
// (CIDs, hashes, URLs), and adds recursion to a fixed point for
// chained mounts plus a depth cap the path-only teacher code never
// needed.
package alias

import (
	"strings"
	"sync"

	"github.com/owlcore-storage/storagefs/protocol"
	"github.com/owlcore-storage/storagefs/protocol/local"
	"github.com/owlcore-storage/storagefs/storageerr"
)

// MaxDepth bounds alias resolution recursion (spec §4.C). A chain of
// mounts longer than this fails closed with AliasDepthExceeded rather
// than looping forever if mount bookkeeping is ever inconsistent.
const MaxDepth = 10

// mapping is one scheme's binding to the native ID its root stands
// for, mirroring backend/combine's adjustment{root, mountpoint} pair
// but over arbitrary opaque strings instead of "/"-joined paths.
type mapping struct {
	scheme     string
	originalID string
}

// Engine holds every live scheme→originalID binding and answers
// substitution queries in both directions.
type Engine struct {
	mu       sync.RWMutex
	byScheme map[string]mapping
}

// NewEngine returns an empty engine.
func NewEngine() *Engine {
	return &Engine{byScheme: make(map[string]mapping)}
}

// Put installs or replaces the binding for scheme. Called by the
// Mount Registry on mount/restore and by Rename to repoint a scheme.
func (e *Engine) Put(scheme, originalID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.byScheme[scheme] = mapping{scheme: scheme, originalID: originalID}
}

// Remove drops scheme's binding. Called on unmount.
func (e *Engine) Remove(scheme string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.byScheme, scheme)
}

// Rekey moves scheme's binding to newScheme, used by Rename so the
// mapping survives a scheme rename atomically with the Registry's own
// Rekey.
func (e *Engine) Rekey(scheme, newScheme string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.byScheme[scheme]
	if !ok {
		return
	}
	delete(e.byScheme, scheme)
	m.scheme = newScheme
	e.byScheme[newScheme] = m
}

// BindBuiltinRoots installs a native-root binding for every registered
// browsable handler that exposes one via protocol.NativeRootProvider
// (spec §4.C: "Also consider browsable built-in roots once their
// roots are materialized"). Call this once after built-in handlers are
// registered, before serving any alias lookups; it is safe to call
// again after registering further built-ins.
func (e *Engine) BindBuiltinRoots(handlers *protocol.Registry) {
	for _, scheme := range handlers.BrowsableSchemes() {
		h, ok := handlers.Get(scheme)
		if !ok {
			continue
		}
		if np, ok := h.(protocol.NativeRootProvider); ok {
			e.Put(scheme, np.NativeRootID())
		}
	}
}

// longestNativeMatch finds the mapping whose originalID is the
// longest prefix of id, the alias-direction counterpart of
// backend/combine's do(): among several mounts whose roots could both
// match, the most specific (longest) one wins.
func (e *Engine) longestNativeMatch(id string) (mapping, string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var best mapping
	var bestRest string
	found := false
	for _, m := range e.byScheme {
		rest, ok := chopPrefix(id, m.originalID)
		if !ok {
			continue
		}
		if !found || len(m.originalID) > len(best.originalID) {
			best, bestRest, found = m, rest, true
		}
	}
	return best, bestRest, found
}

// chopPrefix reports whether id is prefix or prefix+"/"+rest,
// mirroring adjustment.do's exact-match-or-slash-boundary rule so a
// mount root of "mfs://a" matches "mfs://a" and "mfs://a/b" but not
// "mfs://ab".
func chopPrefix(id, prefix string) (rest string, ok bool) {
	if id == prefix {
		return "", true
	}
	if local.EndsInSeparator(prefix) {
		if strings.HasPrefix(id, prefix) {
			return id[len(prefix):], true
		}
		return "", false
	}
	if strings.HasPrefix(id, prefix+"/") {
		return id[len(prefix)+1:], true
	}
	return "", false
}

// join splices rest onto prefix, inserting a "/" separator iff prefix
// does not already end in a separator and rest is non-empty (spec
// §4.C), so a mount whose originalID already ends in "/" never
// produces a doubled separator.
func join(prefix, rest string) string {
	if rest == "" {
		return prefix
	}
	if local.EndsInSeparator(prefix) {
		return prefix + rest
	}
	return prefix + "/" + rest
}

// ToAlias rewrites a native-form ID into its most specific known alias
// form, recursing to a fixed point so a native ID nested under a chain
// of mounts comes out expressed through the innermost (most specific)
// mount, same as a repeated adjustment.do pass. If no mapping's
// originalID is a prefix of id, id is returned unchanged: plenty of
// native IDs have no alias at all.
func (e *Engine) ToAlias(id string) string {
	cur := id
	for depth := 0; depth < MaxDepth; depth++ {
		m, rest, ok := e.longestNativeMatch(cur)
		if !ok {
			return cur
		}
		next := join(m.scheme+"://", rest)
		if next == cur {
			return cur
		}
		cur = next
	}
	return cur
}

// ToNative resolves an alias-form ID down to its underlying native ID,
// following chained mounts until no scheme prefix matches a known
// binding. Returns AliasDepthExceeded if resolution doesn't reach a
// fixed point within MaxDepth steps, the failure mode a mount-rename
// cycle or otherwise corrupted mount table would produce.
func (e *Engine) ToNative(id string) (string, error) {
	cur := id
	for depth := 0; depth < MaxDepth; depth++ {
		scheme, tail, ok := splitScheme(cur)
		if !ok {
			return cur, nil
		}
		e.mu.RLock()
		m, bound := e.byScheme[scheme]
		e.mu.RUnlock()
		if !bound {
			return cur, nil
		}
		next := join(m.originalID, tail)
		if next == cur {
			return cur, nil
		}
		cur = next
	}
	return "", storageerr.Newf("alias.ToNative", storageerr.AliasDepthExceeded, "alias resolution for %q did not converge within %d steps", id, MaxDepth)
}

// ResolveAliasesInText rewrites every alias-scheme occurrence found
// inside an arbitrary string (e.g. a display string or an embedded
// reference) to native form, leaving everything else untouched. Unlike
// ToNative it does not require the whole string to be a single ID; it
// scans for "scheme://" occurrences and resolves each independently.
func (e *Engine) ResolveAliasesInText(text string) string {
	e.mu.RLock()
	schemes := make([]string, 0, len(e.byScheme))
	for s := range e.byScheme {
		schemes = append(schemes, s)
	}
	e.mu.RUnlock()

	var b strings.Builder
	i := 0
	for i < len(text) {
		matched := false
		for _, scheme := range schemes {
			prefix := scheme + "://"
			if strings.HasPrefix(text[i:], prefix) {
				end := i + len(prefix)
				for end < len(text) && !isBoundary(text[end]) {
					end++
				}
				resolved, err := e.ToNative(text[i:end])
				if err != nil {
					resolved = text[i:end]
				}
				b.WriteString(resolved)
				i = end
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(text[i])
			i++
		}
	}
	return b.String()
}

func isBoundary(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '"', '\'', ')', ']', '}', ',':
		return true
	default:
		return false
	}
}

func splitScheme(id string) (scheme, tail string, ok bool) {
	idx := strings.Index(id, "://")
	if idx <= 0 {
		return "", "", false
	}
	return id[:idx], id[idx+3:], true
}
