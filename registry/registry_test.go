package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/owlcore-storage/storagefs/protocol"
	"github.com/owlcore-storage/storagefs/protocol/mfs"
	"github.com/owlcore-storage/storagefs/storable"
	"github.com/owlcore-storage/storagefs/storageerr"
)

type fakeStorable struct{ id string }

func (f *fakeStorable) ID() string   { return f.id }
func (f *fakeStorable) Name() string { return f.id }

func newTestCache() (*protocol.Registry, *Cache) {
	handlers := protocol.NewRegistry()
	handlers.RegisterBuiltin(mfs.New())
	return handlers, New(handlers)
}

func TestPutCanonicalizesTrailingSlash(t *testing.T) {
	_, c := newTestCache()

	f := &fakeStorable{id: "mfs://alien"}
	c.Put("mfs://alien/", f)

	got, err := c.Get(context.Background(), "mfs://alien", func(ctx context.Context) (storable.Storable, error) {
		t.Fatal("should not miss: entry was stored under the canonicalized key")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Same(t, storable.Storable(f), got)
}

func TestGetMaterializesOnMissOnce(t *testing.T) {
	_, c := newTestCache()

	calls := 0
	fn := func(ctx context.Context) (storable.Storable, error) {
		calls++
		return &fakeStorable{id: "mfs://fresh"}, nil
	}

	first, err := c.Get(context.Background(), "mfs://fresh", fn)
	require.NoError(t, err)
	second, err := c.Get(context.Background(), "mfs://fresh", fn)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Same(t, first, second)
}

func TestPinPreventsClear(t *testing.T) {
	_, c := newTestCache()

	f := &fakeStorable{id: "mfs://pinned"}
	c.Put("mfs://pinned", f)
	c.Pin("mfs://pinned")
	c.Clear()

	assert.Contains(t, c.Entries(), "mfs://pinned")

	c.Unpin("mfs://pinned")
	c.Clear()
	assert.NotContains(t, c.Entries(), "mfs://pinned")
}

func TestClearConfigDropsSchemeEvenIfPinned(t *testing.T) {
	_, c := newTestCache()

	f := &fakeStorable{id: "mfs://pinned"}
	c.Put("mfs://pinned", f)
	c.Pin("mfs://pinned")
	c.ClearConfig("mfs")

	assert.NotContains(t, c.Entries(), "mfs://pinned")
}

func TestResolveMaterializesBrowsableRoot(t *testing.T) {
	_, c := newTestCache()

	ctx := context.Background()
	root, err := c.Resolve(ctx, "mfs://")
	require.NoError(t, err)
	assert.Equal(t, "mfs://", root.ID())
}

func TestResolveUnknownSchemeFails(t *testing.T) {
	_, c := newTestCache()

	_, err := c.Resolve(context.Background(), "bogus://thing")
	require.Error(t, err)
}

// TestResolveDeepUnseenBrowsableIDFailsNavigationRequired reproduces
// spec.md §8 scenario 6: an un-navigated deep ID under a browsable
// scheme must fail NavigationRequired naming the root and the
// relative suffix, not silently materialize by walking the tree.
func TestResolveDeepUnseenBrowsableIDFailsNavigationRequired(t *testing.T) {
	_, c := newTestCache()

	_, err := c.Resolve(context.Background(), "mfs://deeply/nested/file")
	require.Error(t, err)

	kind, ok := storageerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, storageerr.NavigationRequired, kind)
	assert.Contains(t, err.Error(), "mfs://")
	assert.Contains(t, err.Error(), "deeply/nested/file")
}

// TestResolveHitsCacheOnceSeen confirms the other half of "not yet
// seen": once a deep ID has been registered (e.g. by a caller that
// walked down via Children and Put each step), a later Resolve of the
// exact same ID is a cache hit rather than a NavigationRequired
// failure.
func TestResolveHitsCacheOnceSeen(t *testing.T) {
	_, c := newTestCache()

	seen := &fakeStorable{id: "mfs://deeply/nested/file"}
	c.Put("mfs://deeply/nested/file", seen)

	got, err := c.Resolve(context.Background(), "mfs://deeply/nested/file")
	require.NoError(t, err)
	assert.Same(t, storable.Storable(seen), got)
}
