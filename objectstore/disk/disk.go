// Package disk provides a local-disk objectstore.Store backed by
// github.com/dgraph-io/badger/v4, using badger's own transaction
// serialization to make check-then-set operations atomic. Keys are the
// object path verbatim; values are the raw object bytes prefixed with an
// 8-byte little-endian modification-time Unix-nano stamp so Stat doesn't
// need a second key per object.
package disk

import (
	"context"
	"encoding/binary"
	"sort"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/dot-do/deltalake-sub003/errs"
	"github.com/dot-do/deltalake-sub003/objectstore"
)

// Store is a badger-backed objectstore.Store.
type Store struct {
	db *badger.DB
}

// Open opens (creating if necessary) a badger database rooted at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errs.Wrap(errs.Store, err, "opening disk store at %s", dir)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return errs.Wrap(errs.Store, err, "closing disk store")
	}
	return nil
}

func encode(data []byte) []byte {
	buf := make([]byte, 8+len(data))
	binary.LittleEndian.PutUint64(buf, uint64(time.Now().UnixNano()))
	copy(buf[8:], data)
	return buf
}

func decode(buf []byte) (data []byte, modified time.Time) {
	if len(buf) < 8 {
		return nil, time.Time{}
	}
	ns := binary.LittleEndian.Uint64(buf[:8])
	return buf[8:], time.Unix(0, int64(ns))
}

func tagOf(buf []byte) objectstore.VersionTag {
	return xxhashLike(buf)
}

func (s *Store) Read(_ context.Context, path string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(path))
		if err == badger.ErrKeyNotFound {
			return errs.New(errs.NotFound, "no object at %s", path)
		} else if err != nil {
			return errs.Wrap(errs.Store, err, "reading %s", path)
		}
		buf, err := item.ValueCopy(nil)
		if err != nil {
			return errs.Wrap(errs.Store, err, "reading %s", path)
		}
		data, _ := decode(buf)
		out = data
		return nil
	})
	return out, err
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
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(path), encode(data))
	})
	if err != nil {
		return errs.Wrap(errs.Store, err, "writing %s", path)
	}
	return nil
}

// WriteIfAbsent implements the conditional-commit primitive every
// optimistic-concurrency mutation in this engine relies on. It runs inside a
// single badger.Update transaction; badger serializes all writer
// transactions against one another, so the read-check-write sequence below
// is atomic with respect to any other WriteIfAbsent/Write call on this
// Store.
func (s *Store) WriteIfAbsent(_ context.Context, path string, data []byte, expected objectstore.VersionTag) (objectstore.VersionTag, error) {
	var tag objectstore.VersionTag

	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(path))

		switch {
		case err == badger.ErrKeyNotFound:
			if expected != nil {
				return &objectstore.VersionMismatchError{Path: path}
			}
		case err != nil:
			return errs.Wrap(errs.Store, err, "reading %s", path)
		default:
			if expected == nil {
				existing, _ := item.ValueCopy(nil)
				return &objectstore.VersionMismatchError{Path: path, Observed: tagOf(existing)}
			}
			existing, cerr := item.ValueCopy(nil)
			if cerr != nil {
				return errs.Wrap(errs.Store, cerr, "reading %s", path)
			}
			if string(tagOf(existing)) != string(expected) {
				return &objectstore.VersionMismatchError{Path: path, Observed: tagOf(existing)}
			}
		}

		encoded := encode(data)
		tag = tagOf(encoded)
		return txn.Set([]byte(path), encoded)
	})
	if err == badger.ErrConflict {
		return nil, &objectstore.VersionMismatchError{Path: path}
	}
	if err != nil {
		return nil, err
	}
	return tag, nil
}

func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			key := string(it.Item().Key())
			if strings.HasPrefix(key, prefix) {
				out = append(out, key)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.Store, err, "listing %s", prefix)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) Stat(_ context.Context, path string) (*objectstore.Stat, error) {
	var st *objectstore.Stat
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(path))
		if err == badger.ErrKeyNotFound {
			return nil
		} else if err != nil {
			return errs.Wrap(errs.Store, err, "stat %s", path)
		}
		buf, err := item.ValueCopy(nil)
		if err != nil {
			return errs.Wrap(errs.Store, err, "stat %s", path)
		}
		data, modified := decode(buf)
		st = &objectstore.Stat{Size: int64(len(data)), LastModified: modified}
		return nil
	})
	return st, err
}

func (s *Store) Delete(_ context.Context, path string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(path))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return errs.Wrap(errs.Store, err, "deleting %s", path)
	}
	return nil
}

// xxhashLike exists to keep this package free of an extra hashing
// dependency import cycle concern; the real fast hash (xxhash) is used in
// the checkpoint/dedup hot paths in package checkpoint and maintenance. For
// version tags here a simple FNV-based fingerprint is enough since it is
// only ever compared for equality within one process.
func xxhashLike(data []byte) []byte {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	var h uint64 = offset64
	for _, b := range data {
		h ^= uint64(b)
		h *= prime64
	}
	out := make([]byte, 8)
	for i := 0; i < 8; i++ {
		out[i] = byte(h >> (8 * i))
	}
	return out
}

var _ objectstore.Store = (*Store)(nil)
