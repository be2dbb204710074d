// Package settings persists the mount table (spec §6's "Persisted
// settings file") as one JSON file per process installation, with
// schema migration for two known prior shapes: the original
// dict-keyed-by-scheme encoding of Mounts (migrated to a list), and
// the "OriginalFolderId" field rename to "OriginalStorableId". It is
// grounded on the teacher's backend/cache/storage_persistent.go
// singleton-by-path pattern (GetPersistent/boltMap/boltMapMx), but
// this module's DOMAIN STACK section explicitly drops go.etcd.io/bbolt
// in favor of plain encoding/json plus an atomic rename: the mount
// table is small, human-diffable configuration rather than a chunk
// cache needing transactional random access, so a JSON document with
// its own migration logic fits better than a KV store.
package settings

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/owlcore-storage/storagefs/storageerr"
)

// MountType distinguishes a folder mount from an archive-file mount
// (spec §4.B step 2).
type MountType string

const (
	MountTypeFolder MountType = "Folder"
	MountTypeFile   MountType = "File"
)

// MountEntry is one persisted mount, matching spec §6's settings file
// schema field-for-field.
type MountEntry struct {
	ProtocolScheme     string    `json:"ProtocolScheme"`
	OriginalStorableID string    `json:"OriginalStorableId"`
	MountName          string    `json:"MountName"`
	CreatedAt          time.Time `json:"CreatedAt"`
	DependsOn          []string  `json:"DependsOn"`
	MountType          MountType `json:"MountType"`
}

type document struct {
	Mounts []MountEntry `json:"Mounts"`
}

// Store is a single JSON-backed settings file. One Store exists per
// path for the process lifetime, the same singleton-by-path
// guarantee GetPersistent gives callers of storage_persistent.go.
type Store struct {
	mu   sync.Mutex
	path string
	doc  document
}

var (
	instances   = make(map[string]*Store)
	instancesMx sync.Mutex
)

// GetPersistent returns the Store for path, loading it from disk (and
// migrating it if needed) on first access, and reusing the same
// instance for every subsequent call with the same path — this
// process's analogue of boltMap/GetPersistent.
func GetPersistent(path string) (*Store, error) {
	instancesMx.Lock()
	defer instancesMx.Unlock()
	if s, ok := instances[path]; ok {
		return s, nil
	}
	s := &Store{path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	instances[path] = s
	return s, nil
}

// load reads path, migrating its contents if it is in a prior schema
// shape, or starts an empty document if path does not exist yet.
func (s *Store) load() error {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.doc = document{}
		return nil
	}
	if err != nil {
		return storageerr.Wrap("settings.load", storageerr.Io, err, "read settings file")
	}
	migrated, err := migrate(raw)
	if err != nil {
		return storageerr.Wrap("settings.load", storageerr.Io, err, "migrate settings file")
	}
	var doc document
	if err := json.Unmarshal(migrated, &doc); err != nil {
		return storageerr.Wrap("settings.load", storageerr.Io, err, "parse settings file")
	}
	s.doc = doc
	return nil
}

// migrate rewrites raw into the current schema if it matches a known
// prior shape:
//
//  1. "Mounts" as a JSON object keyed by scheme rather than a list —
//     the original encoding before mounts needed a stable creation
//     order for dependency-ordered restoration.
//  2. Each mount entry's field named "OriginalFolderId" rather than
//     "OriginalStorableId" — renamed once mounts stopped being
//     exclusively folders.
func migrate(raw []byte) ([]byte, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, err
	}
	mountsRaw, ok := top["Mounts"]
	if !ok {
		return raw, nil
	}

	trimmed := bytes.TrimSpace(mountsRaw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var byScheme map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &byScheme); err != nil {
			return nil, errors.Wrap(err, "migrate dict-form Mounts")
		}
		list := make([]json.RawMessage, 0, len(byScheme))
		for _, v := range byScheme {
			list = append(list, v)
		}
		encoded, err := json.Marshal(list)
		if err != nil {
			return nil, err
		}
		top["Mounts"] = encoded
	}

	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(top["Mounts"], &entries); err != nil {
		return nil, errors.Wrap(err, "parse Mounts entries for migration")
	}
	for _, entry := range entries {
		if old, ok := entry["OriginalFolderId"]; ok {
			if _, hasNew := entry["OriginalStorableId"]; !hasNew {
				entry["OriginalStorableId"] = old
			}
			delete(entry, "OriginalFolderId")
		}
	}
	rewritten, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}
	top["Mounts"] = rewritten

	return json.Marshal(top)
}

// save writes the current document to path atomically: write to a
// temp file in the same directory, then rename over the destination,
// so a crash mid-write never leaves a half-written settings file.
func (s *Store) save() error {
	encoded, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return storageerr.Wrap("settings.save", storageerr.Io, err, "encode settings")
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return storageerr.Wrap("settings.save", storageerr.Io, err, "create settings directory")
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.tmp")
	if err != nil {
		return storageerr.Wrap("settings.save", storageerr.Io, err, "create temp settings file")
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(encoded); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return storageerr.Wrap("settings.save", storageerr.Io, err, "write temp settings file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return storageerr.Wrap("settings.save", storageerr.Io, err, "close temp settings file")
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return storageerr.Wrap("settings.save", storageerr.Io, err, "rename temp settings file into place")
	}
	return nil
}

// Mounts returns a snapshot of every persisted mount entry.
func (s *Store) Mounts() []MountEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MountEntry, len(s.doc.Mounts))
	copy(out, s.doc.Mounts)
	return out
}

// Put installs entry, replacing any existing entry for the same
// scheme (spec §9's resolved design note: mount() removes prior
// persisted entries for the same scheme before adding the new one),
// and persists the change immediately.
func (s *Store) Put(entry MountEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	filtered := s.doc.Mounts[:0:0]
	for _, e := range s.doc.Mounts {
		if e.ProtocolScheme != entry.ProtocolScheme {
			filtered = append(filtered, e)
		}
	}
	s.doc.Mounts = append(filtered, entry)
	return s.save()
}

// Remove drops scheme's persisted entry, if any, and persists the
// change.
func (s *Store) Remove(scheme string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	filtered := s.doc.Mounts[:0:0]
	for _, e := range s.doc.Mounts {
		if e.ProtocolScheme != scheme {
			filtered = append(filtered, e)
		}
	}
	s.doc.Mounts = filtered
	return s.save()
}

// Rename repoints oldScheme's entry (and any DependsOn reference to
// it) to newScheme, and persists the change.
func (s *Store) Rename(oldScheme, newScheme string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.doc.Mounts {
		if s.doc.Mounts[i].ProtocolScheme == oldScheme {
			s.doc.Mounts[i].ProtocolScheme = newScheme
		}
		for j, dep := range s.doc.Mounts[i].DependsOn {
			if dep == oldScheme {
				s.doc.Mounts[i].DependsOn[j] = newScheme
			}
		}
	}
	return s.save()
}
