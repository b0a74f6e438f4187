// Package cdc derives the change-data feed: a per-row stream of
// insert/update/delete records reconstructed from the transaction log,
// enabled per table via the `delta.enableChangeDataFeed` configuration
// property. The feed is an iterator over log actions with a filter/map
// step that reads the associated data files, rather than an eagerly
// materialized list.
package cdc

import (
	"context"
	"fmt"
	"sort"

	"github.com/dot-do/deltalake-sub003/action"
	"github.com/dot-do/deltalake-sub003/errs"
	"github.com/dot-do/deltalake-sub003/table"
)

// ConfigKey is the table configuration property that enables CDC.
const ConfigKey = "delta.enableChangeDataFeed"

// Enabled reports whether tbl's current metadata has the change-data feed
// turned on.
func Enabled(tbl *table.Table) bool {
	snap := tbl.Snapshot()
	return snap != nil && snap.MetaData.Configuration[ConfigKey] == "true"
}

// ChangeType identifies the kind of row-level change a Record describes.
type ChangeType string

const (
	Insert          ChangeType = "insert"
	UpdatePreimage  ChangeType = "update_preimage"
	UpdatePostimage ChangeType = "update_postimage"
	Delete          ChangeType = "delete"
)

// Record is one row-level change, carrying the row's column values
// alongside the three change-metadata fields. These three
// fields are never present on rows returned by Table.Query: this engine
// derives the feed directly from log actions rather than annotating data
// files with change-tracking columns, so there is nothing to strip on the
// ordinary read path.
type Record struct {
	ChangeType      ChangeType
	CommitVersion   int64
	CommitTimestamp int64
	Row             map[string]any
}

// ScanOptions bounds a Scan by committed version (inclusive on both ends).
type ScanOptions struct {
	FromVersion int64
	ToVersion   int64
	// PrimaryKey, when set, lets Scan pair a commit's removed and added
	// rows that share a key into update_preimage/update_postimage pairs
	// instead of reporting them as unrelated delete/insert pairs. Unset
	// means every removed row is a delete and every added row is an
	// insert -- correct for plain appends/overwrites, and the safe
	// default when no key is known to correlate rows across a rewrite.
	PrimaryKey []string
}

// Scan derives change records for every commit in [FromVersion, ToVersion],
// in commit order and row order within a commit.
func Scan(ctx context.Context, tbl *table.Table, opts ScanOptions) ([]Record, error) {
	if !Enabled(tbl) {
		return nil, errs.New(errs.Validation, "change data feed is not enabled on this table")
	}
	if opts.ToVersion < opts.FromVersion {
		return nil, errs.New(errs.Validation, "toVersion %d is before fromVersion %d", opts.ToVersion, opts.FromVersion)
	}

	var out []Record
	for v := opts.FromVersion; v <= opts.ToVersion; v++ {
		records, err := changesForVersion(ctx, tbl, v, opts.PrimaryKey)
		if err != nil {
			return nil, errs.WithOp(err, "Scan", tbl.Root(), v)
		}
		out = append(out, records...)
	}
	return out, nil
}

// ScanByTimeRange derives change records for every commit whose CommitInfo
// timestamp falls within [fromMillis, toMillis], scanning from version 0
// since this engine keeps no separate timestamp index.
func ScanByTimeRange(ctx context.Context, tbl *table.Table, fromMillis, toMillis int64) ([]Record, error) {
	if !Enabled(tbl) {
		return nil, errs.New(errs.Validation, "change data feed is not enabled on this table")
	}
	snap := tbl.Snapshot()
	if snap == nil {
		return nil, errs.New(errs.Validation, "table has not been opened")
	}

	var out []Record
	for v := int64(0); v <= snap.Version; v++ {
		commitRecords, err := tbl.Actions(ctx, v)
		if err != nil {
			return nil, errs.WithOp(err, "ScanByTimeRange", tbl.Root(), v)
		}
		ts := commitTimestamp(commitRecords)
		if ts < fromMillis || ts > toMillis {
			continue
		}
		changes, err := changesForVersion(ctx, tbl, v, nil)
		if err != nil {
			return nil, errs.WithOp(err, "ScanByTimeRange", tbl.Root(), v)
		}
		out = append(out, changes...)
	}
	return out, nil
}

// Cursor is a lazy, restartable iterator over the change feed, yielding one
// Record per call to Next. It holds no open file handles between calls: a
// Cursor can be constructed from any starting version, serialized as a
// plain version number, and resumed later by constructing a fresh Cursor
// with that number.
type Cursor struct {
	tbl         *table.Table
	primaryKey  []string
	nextVersion int64

	buffer []Record
	pos    int
}

// NewCursor returns a Cursor that will yield changes starting at
// fromVersion (inclusive).
func NewCursor(tbl *table.Table, fromVersion int64, primaryKey []string) *Cursor {
	return &Cursor{tbl: tbl, primaryKey: primaryKey, nextVersion: fromVersion}
}

// Position returns the version the cursor will resume from on the next
// call to Next after its internal buffer is exhausted; callers persist
// this to restart a subscription later.
func (c *Cursor) Position() int64 {
	return c.nextVersion
}

// Next returns the next change record, or ok=false once the cursor has
// caught up to the table's latest committed version.
func (c *Cursor) Next(ctx context.Context) (Record, bool, error) {
	if !Enabled(c.tbl) {
		return Record{}, false, errs.New(errs.Validation, "change data feed is not enabled on this table")
	}
	for c.pos >= len(c.buffer) {
		snap := c.tbl.Snapshot()
		if snap == nil {
			return Record{}, false, errs.New(errs.Validation, "table has not been opened")
		}
		if c.nextVersion > snap.Version {
			return Record{}, false, nil
		}
		records, err := changesForVersion(ctx, c.tbl, c.nextVersion, c.primaryKey)
		if err != nil {
			return Record{}, false, errs.WithOp(err, "Next", c.tbl.Root(), c.nextVersion)
		}
		c.buffer = records
		c.pos = 0
		c.nextVersion++
	}
	r := c.buffer[c.pos]
	c.pos++
	return r, true, nil
}

func commitTimestamp(records []action.Record) int64 {
	for _, r := range records {
		if r.CommitInfo != nil {
			return r.CommitInfo.Timestamp
		}
	}
	return 0
}

func changesForVersion(ctx context.Context, tbl *table.Table, v int64, primaryKey []string) ([]Record, error) {
	records, err := tbl.Actions(ctx, v)
	if err != nil {
		return nil, err
	}
	ts := commitTimestamp(records)

	var addedRows, removedRows []map[string]any
	for _, r := range records {
		switch {
		case r.Add != nil && r.Add.DataChange:
			rows, err := readRows(ctx, tbl, r.Add.Path)
			if err != nil {
				return nil, err
			}
			addedRows = append(addedRows, rows...)
		case r.Remove != nil && r.Remove.DataChange:
			rows, err := readRows(ctx, tbl, r.Remove.Path)
			if err != nil {
				return nil, err
			}
			removedRows = append(removedRows, rows...)
		}
	}

	var out []Record
	if len(primaryKey) > 0 {
		matchedAdd := make([]bool, len(addedRows))
		matchedRemove := make([]bool, len(removedRows))
		addByKey := map[string][]int{}
		for i, row := range addedRows {
			k := keyOf(row, primaryKey)
			addByKey[k] = append(addByKey[k], i)
		}
		for ri, row := range removedRows {
			k := keyOf(row, primaryKey)
			candidates := addByKey[k]
			for _, ai := range candidates {
				if !matchedAdd[ai] {
					matchedRemove[ri] = true
					matchedAdd[ai] = true
					out = append(out,
						Record{ChangeType: UpdatePreimage, CommitVersion: v, CommitTimestamp: ts, Row: row},
						Record{ChangeType: UpdatePostimage, CommitVersion: v, CommitTimestamp: ts, Row: addedRows[ai]},
					)
					break
				}
			}
		}
		for i, row := range addedRows {
			if !matchedAdd[i] {
				out = append(out, Record{ChangeType: Insert, CommitVersion: v, CommitTimestamp: ts, Row: row})
			}
		}
		for i, row := range removedRows {
			if !matchedRemove[i] {
				out = append(out, Record{ChangeType: Delete, CommitVersion: v, CommitTimestamp: ts, Row: row})
			}
		}
		return out, nil
	}

	for _, row := range removedRows {
		out = append(out, Record{ChangeType: Delete, CommitVersion: v, CommitTimestamp: ts, Row: row})
	}
	for _, row := range addedRows {
		out = append(out, Record{ChangeType: Insert, CommitVersion: v, CommitTimestamp: ts, Row: row})
	}
	return out, nil
}

func readRows(ctx context.Context, tbl *table.Table, relPath string) ([]map[string]any, error) {
	full := joinPath(tbl.Root(), relPath)
	buf, err := tbl.Store().Read(ctx, full)
	if err != nil {
		return nil, err
	}
	return tbl.Codec().Decode(buf)
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	if dir[len(dir)-1] == '/' {
		return dir + name
	}
	return dir + "/" + name
}

func keyOf(row map[string]any, cols []string) string {
	sorted := make([]string, len(cols))
	copy(sorted, cols)
	sort.Strings(sorted)
	key := ""
	for _, c := range sorted {
		v, ok := row[c]
		if !ok || v == nil {
			key += "\x00"
		} else {
			key += fmt.Sprintf("%v", v)
		}
		key += "\x1f"
	}
	return key
}
