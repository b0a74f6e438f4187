// Package table implements the engine's core orchestration: the write path,
// the query path, Refresh/History, conditional commit with
// concurrency-conflict retry, and checkpoint triggering. A Table is a single
// coordinating object wrapping reads and writes to a pluggable object store
// and codec, with an explicit commit step.
package table

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dot-do/deltalake-sub003/action"
	"github.com/dot-do/deltalake-sub003/checkpoint"
	"github.com/dot-do/deltalake-sub003/codec"
	"github.com/dot-do/deltalake-sub003/deletionvector"
	"github.com/dot-do/deltalake-sub003/deltalog"
	"github.com/dot-do/deltalake-sub003/errs"
	"github.com/dot-do/deltalake-sub003/filter"
	"github.com/dot-do/deltalake-sub003/logging"
	"github.com/dot-do/deltalake-sub003/metrics"
	"github.com/dot-do/deltalake-sub003/objectstore"
	"github.com/dot-do/deltalake-sub003/partition"
	"github.com/dot-do/deltalake-sub003/schema"
	"github.com/dot-do/deltalake-sub003/snapshot"
)

// maxCommitAttempts bounds how many times Write retries a conditional
// commit after losing a race to a concurrent writer.
const maxCommitAttempts = 10

// tracer emits spans around the commit and replay paths. A caller who never
// configures a TracerProvider gets OpenTelemetry's no-op implementation for
// free.
var tracer = otel.Tracer("github.com/dot-do/deltalake-sub003/table")

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Mode selects the write semantics of a Write call.
type Mode string

const (
	ModeAppend    Mode = "append"
	ModeOverwrite Mode = "overwrite"
)

// Options configures a Table.
type Options struct {
	Logger             logging.Logger
	Metrics            metrics.Metrics
	CheckpointInterval int64 // 0 disables automatic checkpointing
	SnapshotCacheSize  int   // 0 uses a small default
}

// Table is the engine's per-table handle: every operation on a table goes
// through one of these, parameterized entirely over an objectstore.Store
// and codec.Codec supplied by the caller.
type Table struct {
	store objectstore.Store
	codec codec.Codec
	root  string

	logger  logging.Logger
	metrics metrics.Metrics

	checkpointInterval int64
	checkpointWriter   *checkpoint.Writer

	mu      sync.Mutex
	current *snapshot.Snapshot

	snapshotCache *lru.Cache[int64, *snapshot.Snapshot]
}

func logDir(root string) string { return joinPath(root, "_delta_log") }

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	if dir[len(dir)-1] == '/' {
		return dir + name
	}
	return dir + "/" + name
}

// Create initializes a brand-new table at root with the given schema and
// partition columns, writing version 0 (protocol + metaData).
func Create(ctx context.Context, store objectstore.Store, c codec.Codec, root string, st schema.StructType, partitionColumns []string, config map[string]string, opts Options) (*Table, error) {
	tbl, err := newTable(store, c, root, opts)
	if err != nil {
		return nil, err
	}

	schemaJSON := schema.ToJSONValue(st)
	schemaBytes, err := json.Marshal(schemaJSON)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "marshalling initial schema")
	}

	records := []action.Record{
		{Protocol: &action.Protocol{MinReaderVersion: 1, MinWriterVersion: minWriterVersionFor(config)}},
		{MetaData: &action.MetaData{
			ID:               uuid.New().String(),
			Format:           action.FormatSpec{Provider: "parquet"},
			SchemaString:     string(schemaBytes),
			PartitionColumns: append([]string(nil), partitionColumns...),
			Configuration:    config,
		}},
		{CommitInfo: &action.CommitInfo{Operation: "CREATE TABLE", IsBlindAppend: true}},
	}
	if err := tbl.commitAt(ctx, 0, nil, records); err != nil {
		return nil, errs.WithOp(err, "Create", root, 0)
	}
	if err := tbl.Refresh(ctx); err != nil {
		return nil, err
	}
	return tbl, nil
}

// minWriterVersionFor derives the writer protocol version a newly created
// table needs: 1 unless a configuration property requiring a newer writer
// (column mapping, deletion vectors, change data feed) is enabled.
func minWriterVersionFor(config map[string]string) int {
	if config["delta.columnMapping.mode"] == "name" || config["delta.columnMapping.mode"] == "id" {
		return 2
	}
	if config["delta.enableDeletionVectors"] == "true" {
		return 2
	}
	if config["delta.enableChangeDataFeed"] == "true" {
		return 2
	}
	return 1
}

// Open attaches to an existing table at root and loads its latest
// snapshot.
func Open(ctx context.Context, store objectstore.Store, c codec.Codec, root string, opts Options) (*Table, error) {
	tbl, err := newTable(store, c, root, opts)
	if err != nil {
		return nil, err
	}
	if err := tbl.Refresh(ctx); err != nil {
		return nil, err
	}
	return tbl, nil
}

func newTable(store objectstore.Store, c codec.Codec, root string, opts Options) (*Table, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	size := opts.SnapshotCacheSize
	if size <= 0 {
		size = 8
	}
	cache, err := lru.New[int64, *snapshot.Snapshot](size)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "constructing snapshot cache")
	}
	return &Table{
		store:              store,
		codec:              c,
		root:               root,
		logger:             logger,
		metrics:            m,
		checkpointInterval: opts.CheckpointInterval,
		checkpointWriter:   &checkpoint.Writer{Codec: c, Store: store},
		snapshotCache:      cache,
	}, nil
}

// Snapshot returns the currently cached snapshot (as of the last Refresh
// or Write); callers that need strict read-your-writes semantics across
// processes should call Refresh first.
func (t *Table) Snapshot() *snapshot.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Refresh rebuilds the table's current snapshot from the latest committed
// version in the log.
func (t *Table) Refresh(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "table.Refresh", trace.WithAttributes(attribute.String("table.root", t.root)))
	var err error
	defer func() { endSpan(span, err) }()

	timer := t.metrics.Timer(metrics.SnapshotReplay)
	timer.Start()
	defer timer.Stop()

	src := &logSource{table: t}
	snap, buildErr := snapshot.Build(ctx, src, src, snapshot.Options{UseLatest: true, Logger: t.logger})
	if buildErr != nil {
		err = errs.WithOp(buildErr, "Refresh", t.root, 0)
		return err
	}
	t.mu.Lock()
	t.current = snap
	t.mu.Unlock()
	t.snapshotCache.Add(snap.Version, snap)
	span.SetAttributes(attribute.Int64("table.version", snap.Version))
	return nil
}

// History returns up to limit CommitInfo records, most recent first,
// starting from the current snapshot's version. limit <= 0 means unbounded.
func (t *Table) History(ctx context.Context, limit int) ([]action.CommitInfo, error) {
	snap := t.Snapshot()
	if snap == nil {
		return nil, errs.New(errs.Validation, "table has not been opened")
	}
	var out []action.CommitInfo
	for v := snap.Version; v >= 0; v-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		records, err := t.readCommit(ctx, v)
		if err != nil {
			if errs.IsNotFound(err) {
				break
			}
			return nil, errs.WithOp(err, "History", t.root, v)
		}
		for _, r := range records {
			if r.CommitInfo != nil {
				out = append(out, *r.CommitInfo)
			}
		}
	}
	return out, nil
}

// WriteOptions configures a Write call.
type WriteOptions struct {
	Operation string
	Mode      Mode
	// PartitionPredicates scopes an overwrite to the matching partitions
	// only; empty means "overwrite the entire table" when Mode is
	// ModeOverwrite.
	PartitionPredicates []partition.Predicate
}

// Write appends (or overwrites) rows, encoding them into one data file per
// partition via the table's codec, and commits the resulting Add/Remove
// actions with optimistic-concurrency retry.
func (t *Table) Write(ctx context.Context, rows []map[string]any, opts WriteOptions) (version int64, err error) {
	ctx, span := tracer.Start(ctx, "table.Write", trace.WithAttributes(
		attribute.String("table.root", t.root),
		attribute.String("table.write.mode", string(opts.Mode)),
		attribute.Int("table.write.row_count", len(rows)),
	))
	defer func() { endSpan(span, err) }()

	timer := t.metrics.Timer(metrics.WriteCommit)
	timer.Start()
	defer timer.Stop()

	if opts.Mode == "" {
		opts.Mode = ModeAppend
	}

	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		snap := t.Snapshot()
		if snap == nil {
			if err := t.Refresh(ctx); err != nil {
				return 0, err
			}
			snap = t.Snapshot()
		}

		if opts.Mode != ModeAppend && snap.MetaData.Configuration["delta.appendOnly"] == "true" {
			return 0, errs.New(errs.Validation, "table has delta.appendOnly=true, cannot perform a %s write", opts.Mode)
		}

		records, err := t.buildWriteRecords(ctx, snap, rows, opts)
		if err != nil {
			return 0, err
		}

		nextVersion := snap.Version + 1
		err = t.commitAt(ctx, nextVersion, prevTagFor(snap), records)
		if err == nil {
			if err := t.Refresh(ctx); err != nil {
				return 0, err
			}
			t.maybeCheckpoint(ctx, nextVersion)
			return nextVersion, nil
		}
		if !errs.IsConcurrencyConflict(err) {
			return 0, errs.WithOp(err, "Write", t.root, nextVersion)
		}
		t.metrics.Counter(metrics.ConcurrencyRetry).Incr()
		t.logger.Warn("lost conditional commit race, retrying", "attempt", attempt, "version", nextVersion)
		if err := t.Refresh(ctx); err != nil {
			return 0, err
		}
	}
	return 0, errs.New(errs.ConcurrencyConflict, "exceeded %d commit attempts for table %s", maxCommitAttempts, t.root)
}

// Actions returns the raw action records committed at version v. It is
// exposed for packages that need direct log access beyond the reconciled
// snapshot view (package cdc's per-commit change derivation).
func (t *Table) Actions(ctx context.Context, v int64) ([]action.Record, error) {
	return t.readCommit(ctx, v)
}

// Store returns the table's underlying object store. Maintenance
// operations (package maintenance) need direct data-file access that the
// row-oriented Write/Query surface doesn't expose.
func (t *Table) Store() objectstore.Store { return t.store }

// Codec returns the table's codec, for the same reason as Store.
func (t *Table) Codec() codec.Codec { return t.codec }

// Root returns the table's root path.
func (t *Table) Root() string { return t.root }

// LogDir returns the table's transaction-log directory path.
func (t *Table) LogDir() string { return logDir(t.root) }

// CommitRecords attempts a single conditional commit of records immediately
// following snap's version: read a snapshot, stage outputs, attempt
// exactly one conditional commit. Unlike
// Write, it never retries -- a caller that loses the race is expected to
// purge any data files it staged and surface the conflict.
func (t *Table) CommitRecords(ctx context.Context, snap *snapshot.Snapshot, records []action.Record) (int64, error) {
	next := snap.Version + 1
	if err := t.commitAt(ctx, next, prevTagFor(snap), records); err != nil {
		return 0, err
	}
	if err := t.Refresh(ctx); err != nil {
		return 0, err
	}
	t.maybeCheckpoint(ctx, next)
	return next, nil
}

// prevTagFor is a placeholder for a future store-side optimistic tag; the
// actual conditional commit today relies purely on WriteIfAbsent(nil, ...)
// at the next version path, since a commit's filename already encodes the
// only version that can ever legally occupy it.
func prevTagFor(*snapshot.Snapshot) objectstore.VersionTag { return nil }

func (t *Table) buildWriteRecords(ctx context.Context, snap *snapshot.Snapshot, rows []map[string]any, opts WriteOptions) ([]action.Record, error) {
	var records []action.Record

	if opts.Mode == ModeOverwrite {
		for _, fe := range snap.ActiveFiles() {
			if len(opts.PartitionPredicates) > 0 && !matchesAllPredicates(fe, opts.PartitionPredicates) {
				continue
			}
			records = append(records, action.Record{Remove: &action.Remove{
				Path:              fe.Add.Path,
				DeletionTimestamp: nowMillis(),
				DataChange:        true,
			}})
		}
	}

	groups := groupRowsByPartition(snap.MetaData.PartitionColumns, rows)
	for key, group := range groups {
		cols := columnsFromRows(group.rows)
		buf, err := t.codec.Encode(cols, codec.EncodeOptions{})
		if err != nil {
			return nil, errs.Wrap(errs.Internal, err, "encoding write batch for partition %q", key)
		}
		stats, err := t.codec.RowGroupStats(buf)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, err, "computing stats for partition %q", key)
		}
		path := dataFilePath(t.root, snap.MetaData.PartitionColumns, group.values)
		if _, err := t.store.WriteIfAbsent(ctx, path, buf, nil); err != nil {
			return nil, errs.Wrap(errs.Store, err, "writing data file %s", path)
		}
		records = append(records, action.Record{Add: &action.Add{
			Path:             relativeToRoot(t.root, path),
			Size:             int64(len(buf)),
			ModificationTime: nowMillis(),
			DataChange:       true,
			PartitionValues:  stringifyPartitionValues(group.values),
			Stats:            aggregateStats(stats),
		}})
	}

	records = append(records, action.Record{CommitInfo: &action.CommitInfo{
		Timestamp:     nowMillis(),
		Operation:     opts.Operation,
		IsBlindAppend: opts.Mode == ModeAppend,
	}})
	return records, nil
}

func matchesAllPredicates(fe snapshot.FileEntry, preds []partition.Predicate) bool {
	values := make(map[string]*string, len(fe.Add.PartitionValues))
	for k, v := range fe.Add.PartitionValues {
		vv := v
		values[k] = &vv
	}
	for _, p := range preds {
		if !p.Matches(values) {
			return false
		}
	}
	return true
}

type rowGroup struct {
	values map[string]*string
	rows   []map[string]any
}

func groupRowsByPartition(partitionColumns []string, rows []map[string]any) map[string]*rowGroup {
	groups := map[string]*rowGroup{}
	for _, row := range rows {
		values := map[string]*string{}
		for _, col := range partitionColumns {
			if v, ok := row[col]; ok && v != nil {
				s := fmt.Sprintf("%v", v)
				values[col] = &s
			} else {
				values[col] = nil
			}
		}
		key := partition.GroupKey(partitionColumns, values)
		g, ok := groups[key]
		if !ok {
			g = &rowGroup{values: values}
			groups[key] = g
		}
		g.rows = append(g.rows, row)
	}
	if len(groups) == 0 {
		groups[""] = &rowGroup{values: map[string]*string{}}
	}
	return groups
}

func columnsFromRows(rows []map[string]any) []codec.Column {
	names := map[string]bool{}
	var order []string
	for _, r := range rows {
		for k := range r {
			if !names[k] {
				names[k] = true
				order = append(order, k)
			}
		}
	}
	cols := make([]codec.Column, len(order))
	for i, name := range order {
		values := make([]any, len(rows))
		for j, r := range rows {
			values[j] = r[name]
		}
		cols[i] = codec.Column{Name: name, Values: values}
	}
	return cols
}

func stringifyPartitionValues(values map[string]*string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := map[string]string{}
	for k, v := range values {
		if v != nil {
			out[k] = *v
		}
	}
	return out
}

func aggregateStats(groups []codec.RowGroupStats) *action.FileStats {
	fs := &action.FileStats{MinValues: map[string]any{}, MaxValues: map[string]any{}, NullCount: map[string]int64{}}
	for _, g := range groups {
		fs.NumRecords += g.RowCount
		for col, cs := range g.Columns {
			fs.NullCount[col] += cs.NullCount
			if cs.Min != nil {
				if cur, ok := fs.MinValues[col]; !ok || lessAny(cs.Min, cur) {
					fs.MinValues[col] = cs.Min
				}
			}
			if cs.Max != nil {
				if cur, ok := fs.MaxValues[col]; !ok || lessAny(cur, cs.Max) {
					fs.MaxValues[col] = cs.Max
				}
			}
		}
	}
	return fs
}

func lessAny(a, b any) bool {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok {
		return af < bf
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as < bs
	}
	return false
}

func dataFilePath(root string, partitionColumns []string, values map[string]*string) string {
	prefix := partition.EncodePath(partitionColumns, values)
	name := "part-" + uuid.New().String() + ".data"
	if prefix == "" {
		return joinPath(root, name)
	}
	return joinPath(root, prefix+"/"+name)
}

func nowMillis() int64 { return time.Now().UnixMilli() }

func relativeToRoot(root, path string) string {
	prefix := root
	if prefix != "" && prefix[len(prefix)-1] != '/' {
		prefix += "/"
	}
	if len(path) > len(prefix) && path[:len(prefix)] == prefix {
		return path[len(prefix):]
	}
	return path
}

// Query evaluates node over the table's active files at the current
// snapshot, applying partition pruning, zone-map skipping, deletion-vector
// masking, and finally row-level evaluation, in that order.
func (t *Table) Query(ctx context.Context, node filter.Node) (result []map[string]any, err error) {
	ctx, span := tracer.Start(ctx, "table.Query", trace.WithAttributes(attribute.String("table.root", t.root)))
	defer func() { endSpan(span, err) }()

	timer := t.metrics.Timer(metrics.QueryEval)
	timer.Start()
	defer timer.Stop()

	snap := t.Snapshot()
	if snap == nil {
		err = errs.New(errs.Validation, "table has not been opened")
		return nil, err
	}

	var out []map[string]any
	for _, fe := range snap.ActiveFiles() {
		if node != nil {
			partValues := make(map[string]*string, len(fe.Add.PartitionValues))
			for k, v := range fe.Add.PartitionValues {
				vv := v
				partValues[k] = &vv
			}
			if preds, ok := filter.ExtractPartitionPredicates(node, snap.MetaData.PartitionColumns); ok {
				skip := false
				for _, p := range preds {
					want, isString := p.Value.(string)
					if p.Op != filter.Eq || !isString {
						continue
					}
					pp := partition.Predicate{Column: p.Path, Op: partition.OpEq, Value: &want}
					if !pp.Matches(partValues) {
						skip = true
						break
					}
				}
				if skip {
					continue
				}
			}
		}

		path := joinPath(t.root, fe.Add.Path)
		buf, err := t.store.Read(ctx, path)
		if err != nil {
			return nil, errs.WithOp(err, "Query", path, snap.Version)
		}

		if node != nil {
			if stats, err := t.codec.RowGroupStats(buf); err == nil && allGroupsSkippable(node, stats) {
				continue
			}
		}

		rows, err := t.codec.Decode(buf)
		if err != nil {
			return nil, errs.WithOp(err, "Query", path, snap.Version)
		}

		var dv *deletionvector.Bitmap
		if fe.Add.DeletionVector != nil {
			dv, err = deletionvector.Resolve(ctx, t.store, t.root, fe.Add.DeletionVector)
			if err != nil {
				return nil, errs.WithOp(err, "Query", path, snap.Version)
			}
		}

		for i, row := range rows {
			if dv.Contains(int64(i)) {
				continue
			}
			if node != nil && !filter.Eval(node, row) {
				continue
			}
			out = append(out, row)
		}
	}
	span.SetAttributes(attribute.Int("table.query.row_count", len(out)))
	return out, nil
}

func allGroupsSkippable(node filter.Node, stats []codec.RowGroupStats) bool {
	for _, s := range stats {
		if !filter.CanSkip(node, s) {
			return false
		}
	}
	return len(stats) > 0
}

// maybeCheckpoint writes a checkpoint at version v if the configured
// interval says this is a checkpoint boundary. Failures are logged, not
// returned: a missed checkpoint never corrupts the table, it only costs a
// future reader a longer replay.
func (t *Table) maybeCheckpoint(ctx context.Context, v int64) {
	if !checkpoint.ShouldCheckpoint(v, t.checkpointInterval) {
		return
	}
	timer := t.metrics.Timer(metrics.CheckpointWrite)
	timer.Start()
	defer timer.Stop()

	snap := t.Snapshot()
	if snap == nil || snap.Version != v {
		return
	}
	if _, err := t.checkpointWriter.Write(ctx, logDir(t.root), snap); err != nil {
		t.logger.Warn("checkpoint write failed, will retry at next interval", "version", v, "error", err.Error())
	}
}

// commitAt attempts the conditional commit of records at version v.
func (t *Table) commitAt(ctx context.Context, v int64, expected objectstore.VersionTag, records []action.Record) (err error) {
	ctx, span := tracer.Start(ctx, "table.commitAt", trace.WithAttributes(
		attribute.String("table.root", t.root),
		attribute.Int64("table.version", v),
	))
	defer func() { endSpan(span, err) }()

	buf, err := deltalog.Serialize(records)
	if err != nil {
		err = errs.WithOp(err, "commitAt", t.root, v)
		return err
	}
	path, pathErr := deltalog.CommitPath(logDir(t.root), v)
	if pathErr != nil {
		err = errs.WithOp(pathErr, "commitAt", t.root, v)
		return err
	}
	if _, writeErr := t.store.WriteIfAbsent(ctx, path, buf, expected); writeErr != nil {
		if _, ok := writeErr.(*objectstore.VersionMismatchError); ok {
			err = errs.NewConcurrencyConflict(v, -1)
			return err
		}
		err = errs.Wrap(errs.Store, writeErr, "committing version %d", v)
		return err
	}
	return nil
}

func (t *Table) readCommit(ctx context.Context, v int64) ([]action.Record, error) {
	path, err := deltalog.CommitPath(logDir(t.root), v)
	if err != nil {
		return nil, err
	}
	buf, err := t.store.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	return deltalog.Parse(buf)
}

// logSource adapts Table's store into snapshot.CommitSource and
// snapshot.CheckpointSource.
type logSource struct {
	table *Table
}

func (s *logSource) Actions(ctx context.Context, v int64) ([]action.Record, error) {
	return s.table.readCommit(ctx, v)
}

func (s *logSource) LatestVersion(ctx context.Context) (int64, error) {
	prefix := logDir(s.table.root) + "/"
	paths, err := s.table.store.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	var latest int64 = -1
	for _, p := range paths {
		v, err := deltalog.ParseVersion(p)
		if err != nil {
			continue
		}
		if v > latest {
			latest = v
		}
	}
	if latest < 0 {
		return 0, errs.New(errs.NotFound, "no commits found under %s", prefix)
	}
	return latest, nil
}

func (s *logSource) LastCheckpoint(ctx context.Context, upTo int64) (int64, map[string]snapshot.FileEntry, action.MetaData, action.Protocol, bool) {
	ptrPath := joinPath(logDir(s.table.root), "_last_checkpoint")
	buf, err := s.table.store.Read(ctx, ptrPath)
	if err != nil {
		return 0, nil, action.MetaData{}, action.Protocol{}, false
	}
	var ptr checkpoint.Pointer
	if err := json.Unmarshal(buf, &ptr); err != nil || ptr.Version > upTo {
		return 0, nil, action.MetaData{}, action.Protocol{}, false
	}
	snap, err := checkpoint.Read(ctx, s.table.store, s.table.codec, logDir(s.table.root), ptr)
	if err != nil {
		s.table.logger.Warn("checkpoint unreadable, falling back to full replay", "version", ptr.Version, "error", err.Error())
		return 0, nil, action.MetaData{}, action.Protocol{}, false
	}
	return snap.Version, snap.Files, snap.MetaData, snap.Protocol, true
}
