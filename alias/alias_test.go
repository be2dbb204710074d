package alias

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/owlcore-storage/storagefs/protocol"
	"github.com/owlcore-storage/storagefs/protocol/memory"
	"github.com/owlcore-storage/storagefs/protocol/mfs"
	"github.com/owlcore-storage/storagefs/storageerr"
)

func TestToAliasAndToNativeRoundTrip(t *testing.T) {
	e := NewEngine()
	e.Put("skills", "mfs://owlcore.skills")

	native := "mfs://owlcore.skills/pkg/main.go"
	got := e.ToAlias(native)
	assert.Equal(t, "skills://pkg/main.go", got)

	back, err := e.ToNative(got)
	require.NoError(t, err)
	assert.Equal(t, native, back)
}

func TestToAliasExactRoot(t *testing.T) {
	e := NewEngine()
	e.Put("skills", "mfs://owlcore.skills")
	assert.Equal(t, "skills://", e.ToAlias("mfs://owlcore.skills"))
}

func TestToAliasNoMatch(t *testing.T) {
	e := NewEngine()
	e.Put("skills", "mfs://owlcore.skills")
	assert.Equal(t, "mfs://unrelated/path", e.ToAlias("mfs://unrelated/path"))
}

func TestToAliasPrefersMostSpecificMount(t *testing.T) {
	e := NewEngine()
	e.Put("outer", "mfs://owlcore")
	e.Put("inner", "mfs://owlcore.skills")
	assert.Equal(t, "inner://pkg", e.ToAlias("mfs://owlcore.skills/pkg"))
}

func TestToAliasChainedMounts(t *testing.T) {
	e := NewEngine()
	e.Put("a", "mfs://owlcore")
	e.Put("b", "a://skills")
	assert.Equal(t, "b://main.go", e.ToAlias("mfs://owlcore/skills/main.go"))
}

func TestToNativeChainedMounts(t *testing.T) {
	e := NewEngine()
	e.Put("a", "mfs://owlcore")
	e.Put("b", "a://skills")
	native, err := e.ToNative("b://main.go")
	require.NoError(t, err)
	assert.Equal(t, "mfs://owlcore/skills/main.go", native)
}

func TestToNativeUnboundSchemePassesThrough(t *testing.T) {
	e := NewEngine()
	got, err := e.ToNative("http://example.com/file")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/file", got)
}

func TestToNativeCycleExceedsMaxDepth(t *testing.T) {
	e := NewEngine()
	e.Put("a", "b://x")
	e.Put("b", "a://x")
	_, err := e.ToNative("a://x")
	require.Error(t, err)
	kind, ok := storageerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, storageerr.AliasDepthExceeded, kind)
}

func TestRemoveDropsBinding(t *testing.T) {
	e := NewEngine()
	e.Put("skills", "mfs://owlcore.skills")
	e.Remove("skills")
	assert.Equal(t, "mfs://owlcore.skills/x", e.ToAlias("mfs://owlcore.skills/x"))
}

func TestRekeyMovesBinding(t *testing.T) {
	e := NewEngine()
	e.Put("skills", "mfs://owlcore.skills")
	e.Rekey("skills", "renamed")
	assert.Equal(t, "renamed://x", e.ToAlias("mfs://owlcore.skills/x"))
}

// TestChainedMountResolutionThroughBuiltinRoot reproduces spec.md §8
// scenario 1 end to end: the built-in mfs:// root's native ID is "/",
// skills:// is mounted on mfs://owlcore.skills/, and tasks:// is
// mounted on skills://pending/. resolve_alias_to_full must bottom out
// at the bare path, and substitute_with_alias must invert it back to
// the innermost mount's alias form.
func TestChainedMountResolutionThroughBuiltinRoot(t *testing.T) {
	handlers := protocol.NewRegistry()
	handlers.RegisterBuiltin(mfs.New())

	e := NewEngine()
	e.BindBuiltinRoots(handlers)
	e.Put("skills", "mfs://owlcore.skills/")
	e.Put("tasks", "skills://pending/")

	native, err := e.ToNative("tasks://today.txt")
	require.NoError(t, err)
	assert.Equal(t, "/owlcore.skills/pending/today.txt", native)

	assert.Equal(t, "tasks://today.txt", e.ToAlias("/owlcore.skills/pending/today.txt"))
}

func TestBindBuiltinRootsSkipsHandlersWithoutNativeRoot(t *testing.T) {
	handlers := protocol.NewRegistry()
	handlers.RegisterBuiltin(mfs.New())
	handlers.RegisterBuiltin(memory.New())

	e := NewEngine()
	e.BindBuiltinRoots(handlers)

	// mfs is bound ("/"); re-binding is idempotent and doesn't panic
	// or duplicate entries for handlers with no NativeRootID.
	e.BindBuiltinRoots(handlers)
	assert.Equal(t, "mfs://x", e.ToAlias("/x"))

	// memory has no NativeRootID, so its scheme stays unbound.
	got, err := e.ToNative("memory://x")
	require.NoError(t, err)
	assert.Equal(t, "memory://x", got)
}

func TestResolveAliasesInText(t *testing.T) {
	e := NewEngine()
	e.Put("skills", "mfs://owlcore.skills")
	text := "see skills://pkg/main.go for details"
	assert.Equal(t, "see mfs://owlcore.skills/pkg/main.go for details", e.ResolveAliasesInText(text))
}
