// Package codec defines the columnar file codec adapter contract. The real
// codec (e.g. a Parquet encoder/decoder) is an external collaborator, out
// of scope for this engine; this package specifies only the interface and
// the row-group statistics shape that the query pruning layer (package
// filter) consumes.
package codec

// Column is a single named, typed column of values, in row order. Values are
// plain Go scalars (the JSON-decoded shapes: string, float64, bool, nil) so
// the codec need not know this engine's Go types.
type Column struct {
	Name   string
	Values []any // concrete element type matches the column's logical type
}

// RowGroupStats describes one row group's per-column zone map, used by the
// pruning layer (package filter) to skip row groups without decoding them.
type RowGroupStats struct {
	RowCount int64
	Columns  map[string]ColumnStats
}

// ColumnStats is the min/max/null-count zone map for one column within one
// row group.
type ColumnStats struct {
	Min       any
	Max       any
	NullCount int64
}

// EncodeOptions carries codec-specific knobs (e.g. target row-group size,
// compression). The table core passes these through without interpreting
// them.
type EncodeOptions struct {
	RowGroupSize int
	Compression  string
}

// Codec encodes a set of typed columns to a self-describing byte buffer and
// decodes that buffer back to rows or typed columns with page metadata.
type Codec interface {
	// Encode serializes columns (which must all have the same row count)
	// into a single self-describing byte buffer.
	Encode(columns []Column, opts EncodeOptions) ([]byte, error)

	// Decode parses buf into a row-oriented view: one map per row, keyed
	// by column name.
	Decode(buf []byte) ([]map[string]any, error)

	// DecodeColumns parses buf but only materializes the named columns,
	// for projection pushdown.
	DecodeColumns(buf []byte, columns []string) ([]map[string]any, error)

	// RowGroupStats returns the zone map for every row group in buf, if
	// the codec tracks them. A codec that does not track statistics
	// returns (nil, nil); callers must treat that as "cannot skip".
	RowGroupStats(buf []byte) ([]RowGroupStats, error)
}
