package mem

import (
	"context"
	"testing"

	"github.com/dot-do/deltalake-sub003/errs"
	"github.com/dot-do/deltalake-sub003/objectstore"
)

func TestWriteIfAbsentCreateOnce(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.WriteIfAbsent(ctx, "a", []byte("1"), nil); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := s.WriteIfAbsent(ctx, "a", []byte("2"), nil); err == nil {
		t.Fatalf("expected second create-if-absent to fail")
	}
}

func TestWriteIfAbsentConditionalOnTag(t *testing.T) {
	ctx := context.Background()
	s := New()

	tag, err := s.WriteIfAbsent(ctx, "a", []byte("1"), nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.WriteIfAbsent(ctx, "a", []byte("2"), tag); err != nil {
		t.Fatalf("expected conditional update with matching tag to succeed: %v", err)
	}
	if _, err := s.WriteIfAbsent(ctx, "a", []byte("3"), tag); err == nil {
		t.Fatalf("expected stale tag to be rejected")
	}
}

func TestReadMissingIsNotFound(t *testing.T) {
	s := New()
	_, err := s.Read(context.Background(), "missing")
	if !errs.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestStatMissingReturnsNilNotError(t *testing.T) {
	s := New()
	st, err := s.Stat(context.Background(), "missing")
	if err != nil {
		t.Fatalf("stat on missing path must not error, got %v", err)
	}
	if st != nil {
		t.Fatalf("expected nil stat for missing path")
	}
}

func TestDeleteMissingIsSuccess(t *testing.T) {
	s := New()
	if err := s.Delete(context.Background(), "missing"); err != nil {
		t.Fatalf("delete of missing path must succeed, got %v", err)
	}
}

func TestListPrefix(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Write(ctx, "t/_delta_log/a.json", []byte("x"))
	_ = s.Write(ctx, "t/_delta_log/b.json", []byte("y"))
	_ = s.Write(ctx, "t/part-1.parquet", []byte("z"))

	paths, err := s.List(ctx, "t/_delta_log/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 log entries, got %v", paths)
	}
}

var _ objectstore.Store = (*Store)(nil)
