package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempSettingsPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "settings.json")
}

func TestGetPersistentStartsEmpty(t *testing.T) {
	s, err := GetPersistent(tempSettingsPath(t))
	require.NoError(t, err)
	assert.Empty(t, s.Mounts())
}

func TestPutThenReloadRoundTrips(t *testing.T) {
	path := tempSettingsPath(t)
	s, err := GetPersistent(path)
	require.NoError(t, err)

	entry := MountEntry{
		ProtocolScheme:     "skills",
		OriginalStorableID: "mfs://owlcore.skills",
		MountName:          "Skills",
		CreatedAt:          time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		MountType:          MountTypeFolder,
	}
	require.NoError(t, s.Put(entry))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"skills"`)

	var reloaded document
	require.NoError(t, unmarshalDocument(raw, &reloaded))
	require.Len(t, reloaded.Mounts, 1)
	assert.Equal(t, "mfs://owlcore.skills", reloaded.Mounts[0].OriginalStorableID)
}

func TestPutReplacesSameScheme(t *testing.T) {
	s, err := GetPersistent(tempSettingsPath(t))
	require.NoError(t, err)

	require.NoError(t, s.Put(MountEntry{ProtocolScheme: "a", MountName: "first"}))
	require.NoError(t, s.Put(MountEntry{ProtocolScheme: "a", MountName: "second"}))

	mounts := s.Mounts()
	require.Len(t, mounts, 1)
	assert.Equal(t, "second", mounts[0].MountName)
}

func TestRemoveDropsEntry(t *testing.T) {
	s, err := GetPersistent(tempSettingsPath(t))
	require.NoError(t, err)
	require.NoError(t, s.Put(MountEntry{ProtocolScheme: "a"}))
	require.NoError(t, s.Remove("a"))
	assert.Empty(t, s.Mounts())
}

func TestRenameUpdatesSchemeAndDependents(t *testing.T) {
	s, err := GetPersistent(tempSettingsPath(t))
	require.NoError(t, err)
	require.NoError(t, s.Put(MountEntry{ProtocolScheme: "a"}))
	require.NoError(t, s.Put(MountEntry{ProtocolScheme: "b", DependsOn: []string{"a"}}))

	require.NoError(t, s.Rename("a", "renamed"))

	mounts := s.Mounts()
	found := map[string]MountEntry{}
	for _, m := range mounts {
		found[m.ProtocolScheme] = m
	}
	_, hasOld := found["a"]
	assert.False(t, hasOld)
	assert.Contains(t, found["b"].DependsOn, "renamed")
}

func TestMigratesDictFormMountsToList(t *testing.T) {
	raw := []byte(`{
		"Mounts": {
			"a": {"ProtocolScheme": "a", "OriginalFolderId": "mfs://a", "MountName": "A"}
		}
	}`)
	migrated, err := migrate(raw)
	require.NoError(t, err)

	var doc document
	require.NoError(t, unmarshalDocument(migrated, &doc))
	require.Len(t, doc.Mounts, 1)
	assert.Equal(t, "a", doc.Mounts[0].ProtocolScheme)
	assert.Equal(t, "mfs://a", doc.Mounts[0].OriginalStorableID)
}

func TestMigratesOriginalFolderIdFieldRename(t *testing.T) {
	raw := []byte(`{"Mounts": [{"ProtocolScheme": "a", "OriginalFolderId": "mfs://a"}]}`)
	migrated, err := migrate(raw)
	require.NoError(t, err)

	var doc document
	require.NoError(t, unmarshalDocument(migrated, &doc))
	require.Len(t, doc.Mounts, 1)
	assert.Equal(t, "mfs://a", doc.Mounts[0].OriginalStorableID)
}

func unmarshalDocument(raw []byte, doc *document) error {
	return json.Unmarshal(raw, doc)
}
