package memcodec

import (
	"testing"

	"github.com/dot-do/deltalake-sub003/codec"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := New()
	cols := []codec.Column{
		{Name: "id", Values: []any{"1", "2", "3"}},
		{Name: "n", Values: []any{float64(10), nil, float64(30)}},
	}
	buf, err := c.Encode(cols, codec.EncodeOptions{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	rows, err := c.Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0]["id"] != "1" {
		t.Fatalf("unexpected row 0: %v", rows[0])
	}
}

func TestRowGroupStatsComputesMinMaxNull(t *testing.T) {
	c := New()
	cols := []codec.Column{
		{Name: "n", Values: []any{float64(5), float64(1), nil, float64(9)}},
	}
	buf, err := c.Encode(cols, codec.EncodeOptions{RowGroupSize: 4})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	stats, err := c.RowGroupStats(buf)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("expected 1 row group, got %d", len(stats))
	}
	cs := stats[0].Columns["n"]
	if cs.Min != float64(1) || cs.Max != float64(9) || cs.NullCount != 1 {
		t.Fatalf("unexpected stats: %+v", cs)
	}
}

func TestEncodeSplitsRowGroups(t *testing.T) {
	c := New()
	cols := []codec.Column{{Name: "id", Values: []any{"a", "b", "c", "d", "e"}}}
	buf, err := c.Encode(cols, codec.EncodeOptions{RowGroupSize: 2})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	stats, err := c.RowGroupStats(buf)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(stats) != 3 {
		t.Fatalf("expected 3 row groups (2,2,1), got %d", len(stats))
	}
}

func TestDecodeColumnsProjects(t *testing.T) {
	c := New()
	cols := []codec.Column{
		{Name: "id", Values: []any{"1"}},
		{Name: "n", Values: []any{float64(1)}},
	}
	buf, _ := c.Encode(cols, codec.EncodeOptions{})
	rows, err := c.DecodeColumns(buf, []string{"id"})
	if err != nil {
		t.Fatalf("decode columns: %v", err)
	}
	if _, ok := rows[0]["n"]; ok {
		t.Fatalf("expected n to be projected out")
	}
	if rows[0]["id"] != "1" {
		t.Fatalf("expected id to survive projection")
	}
}
