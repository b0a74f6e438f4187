// Package mem provides an in-memory objectstore.Store, used as the default
// test harness backend throughout this engine: a simple mutex-guarded map
// exposed through the same adapter interface every other backend
// implements.
package mem

import (
	"context"
	"crypto/sha256"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dot-do/deltalake-sub003/errs"
	"github.com/dot-do/deltalake-sub003/objectstore"
)

type entry struct {
	data     []byte
	modified time.Time
	tag      objectstore.VersionTag
}

// Store is an in-memory, single-process objectstore.Store.
type Store struct {
	mu      sync.RWMutex
	objects map[string]entry
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{objects: map[string]entry{}}
}

func tagOf(data []byte) objectstore.VersionTag {
	sum := sha256.Sum256(data)
	return sum[:]
}

func (s *Store) Read(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.objects[path]
	if !ok {
		return nil, notFound(path)
	}
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, nil
}

func (s *Store) ReadRange(ctx context.Context, path string, start, end int64) ([]byte, error) {
	data, err := s.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	if start < 0 {
		start = 0
	}
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	if start > end {
		start = end
	}
	return data[start:end], nil
}

func (s *Store) Write(_ context.Context, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.objects[path] = entry{data: cp, modified: time.Now(), tag: tagOf(cp)}
	return nil
}

func (s *Store) WriteIfAbsent(_ context.Context, path string, data []byte, expected objectstore.VersionTag) (objectstore.VersionTag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.objects[path]

	if expected == nil {
		if exists {
			return nil, &objectstore.VersionMismatchError{Path: path, Observed: existing.tag}
		}
	} else {
		if !exists || string(existing.tag) != string(expected) {
			var observed objectstore.VersionTag
			if exists {
				observed = existing.tag
			}
			return nil, &objectstore.VersionMismatchError{Path: path, Observed: observed}
		}
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	tag := tagOf(cp)
	s.objects[path] = entry{data: cp, modified: time.Now(), tag: tag}
	return tag, nil
}

func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for path := range s.objects {
		if strings.HasPrefix(path, prefix) {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) Stat(_ context.Context, path string) (*objectstore.Stat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.objects[path]
	if !ok {
		return nil, nil
	}
	return &objectstore.Stat{Size: int64(len(e.data)), LastModified: e.modified}, nil
}

func (s *Store) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, path)
	return nil
}

func notFound(path string) error {
	return errs.New(errs.NotFound, "no object at %s", path)
}
