package disk

import (
	"context"
	"testing"
)

func TestWriteIfAbsentRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if _, err := s.WriteIfAbsent(ctx, "_delta_log/00000000000000000000.json", []byte("{}"), nil); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := s.WriteIfAbsent(ctx, "_delta_log/00000000000000000000.json", []byte("{}"), nil); err == nil {
		t.Fatalf("expected second create-if-absent at the same path to fail")
	}

	got, err := s.Read(ctx, "_delta_log/00000000000000000000.json")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "{}" {
		t.Fatalf("unexpected content: %s", got)
	}
}

func TestListAndDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	_ = s.Write(ctx, "t/_delta_log/00000000000000000000.json", []byte("a"))
	_ = s.Write(ctx, "t/_delta_log/00000000000000000001.json", []byte("b"))

	paths, err := s.List(ctx, "t/_delta_log/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %v", paths)
	}

	if err := s.Delete(ctx, "t/_delta_log/00000000000000000000.json"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "t/_delta_log/does-not-exist.json"); err != nil {
		t.Fatalf("deleting a missing path must succeed, got %v", err)
	}
}
