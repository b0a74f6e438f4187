// Package memcodec is a reference codec.Codec implementation used by this
// engine's own tests to exercise the write/read pipeline end to end without
// depending on a real Parquet implementation.
//
// The wire format is intentionally simple: a JSON array of row groups, each
// row group a JSON object {"stats": RowGroupStats, "rows": []map[string]any}.
// It is not bit-compatible with anything; it exists to give the pipeline
// something concrete to encode to and decode from.
package memcodec

import (
	"encoding/json"
	"fmt"

	"github.com/dot-do/deltalake-sub003/codec"
)

// Codec is the reference in-memory/JSON codec.Codec.
type Codec struct{}

// New returns a reference Codec.
func New() *Codec { return &Codec{} }

type rowGroup struct {
	Stats codec.RowGroupStats `json:"stats"`
	Rows  []map[string]any    `json:"rows"`
}

// Encode groups columns into row groups of opts.RowGroupSize rows (or one
// row group if unset), computing min/max/nullCount per column per group.
func (Codec) Encode(columns []codec.Column, opts codec.EncodeOptions) ([]byte, error) {
	if len(columns) == 0 {
		return json.Marshal([]rowGroup{})
	}
	numRows := len(columns[0].Values)
	for _, c := range columns {
		if len(c.Values) != numRows {
			return nil, fmt.Errorf("memcodec: column %s has %d values, want %d", c.Name, len(c.Values), numRows)
		}
	}

	groupSize := opts.RowGroupSize
	if groupSize <= 0 {
		groupSize = numRows
		if groupSize == 0 {
			groupSize = 1
		}
	}

	var groups []rowGroup
	for start := 0; start < numRows; start += groupSize {
		end := start + groupSize
		if end > numRows {
			end = numRows
		}
		rg := rowGroup{
			Stats: codec.RowGroupStats{RowCount: int64(end - start), Columns: map[string]codec.ColumnStats{}},
			Rows:  make([]map[string]any, 0, end-start),
		}
		for r := start; r < end; r++ {
			row := map[string]any{}
			for _, c := range columns {
				row[c.Name] = c.Values[r]
			}
			rg.Rows = append(rg.Rows, row)
		}
		for _, c := range columns {
			rg.Stats.Columns[c.Name] = columnStats(c.Values[start:end])
		}
		groups = append(groups, rg)
	}
	return json.Marshal(groups)
}

func columnStats(values []any) codec.ColumnStats {
	var stats codec.ColumnStats
	first := true
	for _, v := range values {
		if v == nil {
			stats.NullCount++
			continue
		}
		if first {
			stats.Min, stats.Max = v, v
			first = false
			continue
		}
		if less(v, stats.Min) {
			stats.Min = v
		}
		if less(stats.Max, v) {
			stats.Max = v
		}
	}
	return stats
}

// less provides a best-effort ordering across the JSON-decoded scalar types
// this reference codec deals in (float64, string, bool). It is intentionally
// conservative: incomparable pairs are treated as unordered (returns false
// both ways), matching the "cannot skip" safe default used elsewhere.
func less(a, b any) bool {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			return av < bv
		}
	case string:
		if bv, ok := b.(string); ok {
			return av < bv
		}
	case bool:
		if bv, ok := b.(bool); ok {
			return !av && bv
		}
	}
	return false
}

func (Codec) Decode(buf []byte) ([]map[string]any, error) {
	groups, err := decodeGroups(buf)
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	for _, g := range groups {
		rows = append(rows, g.Rows...)
	}
	return rows, nil
}

func (c Codec) DecodeColumns(buf []byte, columns []string) ([]map[string]any, error) {
	rows, err := c.Decode(buf)
	if err != nil {
		return nil, err
	}
	want := map[string]bool{}
	for _, name := range columns {
		want[name] = true
	}
	projected := make([]map[string]any, len(rows))
	for i, row := range rows {
		out := map[string]any{}
		for k, v := range row {
			if want[k] {
				out[k] = v
			}
		}
		projected[i] = out
	}
	return projected, nil
}

func (Codec) RowGroupStats(buf []byte) ([]codec.RowGroupStats, error) {
	groups, err := decodeGroups(buf)
	if err != nil {
		return nil, err
	}
	out := make([]codec.RowGroupStats, len(groups))
	for i, g := range groups {
		out[i] = g.Stats
	}
	return out, nil
}

func decodeGroups(buf []byte) ([]rowGroup, error) {
	var groups []rowGroup
	if err := json.Unmarshal(buf, &groups); err != nil {
		return nil, fmt.Errorf("memcodec: decode: %w", err)
	}
	return groups, nil
}

var _ codec.Codec = (*Codec)(nil)
