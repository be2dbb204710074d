package protocol

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/owlcore-storage/storagefs/storable"
	"github.com/owlcore-storage/storagefs/storageerr"
)

type stubHandler struct {
	scheme    string
	browsable bool
}

func (s *stubHandler) Scheme() string               { return s.scheme }
func (s *stubHandler) HasBrowsableRoot() bool        { return s.browsable }
func (s *stubHandler) NeedsRegistration(string) bool { return false }
func (s *stubHandler) CreateChildID(parentID, childName string) string {
	return parentID + childName
}
func (s *stubHandler) DriveInfo(ctx context.Context, rootURI string) (*storable.DriveInfo, error) {
	return nil, nil
}

func TestRegisterBuiltinCannotBeShadowed(t *testing.T) {
	r := NewRegistry()
	r.RegisterBuiltin(&stubHandler{scheme: "mfs", browsable: true})

	err := r.Register(&stubHandler{scheme: "mfs"})
	require.Error(t, err)
	kind, ok := storageerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, storageerr.InvalidArgument, kind)
}

func TestRegisterRejectsDuplicateMountScheme(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubHandler{scheme: "skills"}))
	err := r.Register(&stubHandler{scheme: "skills"})
	require.Error(t, err)
}

func TestUnregisterRefusesBuiltin(t *testing.T) {
	r := NewRegistry()
	r.RegisterBuiltin(&stubHandler{scheme: "local-file"})
	assert.False(t, r.Unregister("local-file"))
	_, exists := r.Get("local-file")
	assert.True(t, exists)
}

func TestUnregisterRemovesMount(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubHandler{scheme: "skills"}))
	assert.True(t, r.Unregister("skills"))
	_, exists := r.Get("skills")
	assert.False(t, exists)
}

func TestRekeyMovesHandlerToNewScheme(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubHandler{scheme: "old"}))
	require.NoError(t, r.Rekey("old", "new"))

	_, exists := r.Get("old")
	assert.False(t, exists)
	h, exists := r.Get("new")
	require.True(t, exists)
	// Rekey moves the registered handler as-is; it does not rename it.
	assert.Equal(t, "old", h.Scheme())
}

func TestRekeyRejectsBuiltin(t *testing.T) {
	r := NewRegistry()
	r.RegisterBuiltin(&stubHandler{scheme: "mfs"})
	err := r.Rekey("mfs", "renamed")
	require.Error(t, err)
	kind, ok := storageerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, storageerr.InvalidArgument, kind)
}

func TestRekeyRejectsTakenNewScheme(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubHandler{scheme: "a"}))
	require.NoError(t, r.Register(&stubHandler{scheme: "b"}))
	err := r.Rekey("a", "b")
	require.Error(t, err)
	kind, ok := storageerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, storageerr.Conflict, kind)
}

func TestBrowsableSchemesFiltersResourceOnly(t *testing.T) {
	r := NewRegistry()
	r.RegisterBuiltin(&stubHandler{scheme: "mfs", browsable: true})
	r.RegisterBuiltin(&stubHandler{scheme: "http", browsable: false})

	schemes := r.BrowsableSchemes()
	assert.Contains(t, schemes, "mfs")
	assert.NotContains(t, schemes, "http")
}

func TestValidateSchemeRejectsSeparators(t *testing.T) {
	assert.Error(t, ValidateScheme(""))
	assert.Error(t, ValidateScheme("a/b"))
	assert.Error(t, ValidateScheme("a://b"))
	assert.NoError(t, ValidateScheme("skills"))
}

func TestSplitID(t *testing.T) {
	scheme, tail, ok := SplitID("mfs://owlcore/skills")
	require.True(t, ok)
	assert.Equal(t, "mfs", scheme)
	assert.Equal(t, "owlcore/skills", tail)

	_, _, ok = SplitID("/plain/path")
	assert.False(t, ok)
}

func TestIsRoot(t *testing.T) {
	assert.True(t, IsRoot("mfs://"))
	assert.False(t, IsRoot("mfs://tail"))
	assert.False(t, IsRoot("/plain/path"))
}
