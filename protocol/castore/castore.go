// Package castore defines the narrow interface the immutable-cid and
// mutable-name protocol handlers need from a content-addressed store
// client. Spec §1 explicitly lists "the ... content-addressed store
// client" among external collaborators out of scope for this module,
// so this package only specifies the boundary (grounded on the same
// client/transport split the teacher uses for http.Fs, whose actual
// *http.Client is likewise an injected collaborator rather than
// something the backend package implements itself) plus a small
// in-memory Store good enough to exercise cidproto/nameproto without
// a real backing service.
package castore

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/owlcore-storage/storagefs/storageerr"
)

// Entry is what a Store reports about a stored object.
type Entry struct {
	Size    int64
	ModTime time.Time
}

// Store is the client boundary immutable-cid and mutable-name read
// through. A real implementation talks to whatever content-addressed
// backing service the deployment uses; InMemory below is a
// self-contained stand-in.
type Store interface {
	// Stat returns metadata for key, NotFound if it doesn't exist.
	Stat(ctx context.Context, key string) (Entry, error)
	// Open returns a reader for key's content.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Put stores content under key, overwriting any prior value.
	// cidproto never calls it; nameproto uses it to repoint a name to
	// new content.
	Put(ctx context.Context, key string, content []byte) error
}

// InMemory is a process-lifetime Store backed by a mutex-protected
// map, the same shape as the teacher's backend/memory bucket map.
type InMemory struct {
	mu      sync.RWMutex
	objects map[string]inMemoryObject
}

type inMemoryObject struct {
	data    []byte
	modTime time.Time
}

// NewInMemory returns an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{objects: make(map[string]inMemoryObject)}
}

func (s *InMemory) Stat(ctx context.Context, key string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return Entry{}, storageerr.Newf("castore.Stat", storageerr.NotFound, "no object for key %q", key)
	}
	return Entry{Size: int64(len(obj.data)), ModTime: obj.modTime}, nil
}

func (s *InMemory) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, storageerr.Newf("castore.Open", storageerr.NotFound, "no object for key %q", key)
	}
	return io.NopCloser(byteReader(obj.data)), nil
}

func (s *InMemory) Put(ctx context.Context, key string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(content))
	copy(cp, content)
	s.objects[key] = inMemoryObject{data: cp, modTime: time.Now()}
	return nil
}

func byteReader(b []byte) *sliceReader { return &sliceReader{data: b} }

type sliceReader struct {
	data []byte
	pos  int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

var _ Store = (*InMemory)(nil)
