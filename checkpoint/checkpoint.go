// Package checkpoint writes and reads columnar snapshots of the reconciled
// table state, so readers can skip replaying the full transaction log from
// version 0. A checkpoint periodically captures a full "manifest + data"
// snapshot of accumulated state rather than replaying every historical
// commit, splitting across multiple parts once the file set grows large.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/dot-do/deltalake-sub003/action"
	"github.com/dot-do/deltalake-sub003/codec"
	"github.com/dot-do/deltalake-sub003/errs"
	"github.com/dot-do/deltalake-sub003/objectstore"
	"github.com/dot-do/deltalake-sub003/snapshot"
)

// DefaultInterval is the number of commits between automatic checkpoints.
const DefaultInterval = 10

// maxActionsPerPart sets how many parts a checkpoint is split into (one per
// maxActionsPerPart action rows, rounded up). Rows are assigned to parts by
// hash, so an individual part can hold more rows than this.
const maxActionsPerPart = 50_000

// ShouldCheckpoint reports whether version v is a checkpoint boundary for
// the given interval (interval <= 0 disables automatic checkpointing).
func ShouldCheckpoint(v int64, interval int64) bool {
	if interval <= 0 {
		return false
	}
	return v > 0 && v%interval == 0
}

// Pointer is the contents of the table's _last_checkpoint file: a pointer
// to the most recent checkpoint's version and part count, so readers don't
// need to list the log directory to find it.
type Pointer struct {
	Version int64 `json:"version"`
	Size    int64 `json:"size"`
	Parts   int   `json:"parts,omitempty"`
}

// row is the flattened, codec-encodable shape of one action, discriminated
// by Kind. Encoding every action kind through one shared column set (rather
// than five per-kind files) keeps the part-splitting logic in Write simple.
type row struct {
	Kind    action.Kind     `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Writer produces checkpoint files for a snapshot.
type Writer struct {
	Codec codec.Codec
	Store objectstore.Store
}

// Write serializes the snapshot's reconciled file set plus its current
// MetaData/Protocol into one or more checkpoint part files under logDir,
// splitting by maxActionsPerPart, and updates _last_checkpoint to point at
// the newest one. It returns the number of parts written.
func (w *Writer) Write(ctx context.Context, logDir string, snap *snapshot.Snapshot) (int, error) {
	rows := buildRows(snap)

	numParts := (len(rows) + maxActionsPerPart - 1) / maxActionsPerPart
	if numParts == 0 {
		numParts = 1
	}

	// Deterministic assignment of rows to parts by hashing the row's
	// payload, so re-running Write for the same snapshot (e.g. after a
	// retry) produces byte-identical parts.
	buckets := make([][]row, numParts)
	for _, r := range rows {
		idx := partIndex(r, numParts)
		buckets[idx] = append(buckets[idx], r)
	}

	var totalSize int64
	for i, bucket := range buckets {
		buf, err := encodeRows(w.Codec, bucket)
		if err != nil {
			return 0, errs.Wrap(errs.Internal, err, "encoding checkpoint part %d", i)
		}
		path := partPath(logDir, snap.Version, i+1, numParts)
		if err := w.Store.Write(ctx, path, buf); err != nil {
			return 0, errs.WithOp(err, "Write", path, snap.Version)
		}
		totalSize += int64(len(buf))
	}

	ptr := Pointer{Version: snap.Version, Size: totalSize, Parts: numParts}
	if numParts == 1 {
		ptr.Parts = 0
	}
	ptrBuf, err := json.Marshal(ptr)
	if err != nil {
		return 0, errs.Wrap(errs.Internal, err, "marshalling _last_checkpoint")
	}
	lastCheckpointPath := joinPath(logDir, "_last_checkpoint")
	if err := w.Store.Write(ctx, lastCheckpointPath, ptrBuf); err != nil {
		return 0, errs.WithOp(err, "Write", lastCheckpointPath, snap.Version)
	}
	return numParts, nil
}

// Read reconciles a snapshot.Snapshot directly from a checkpoint's part
// files, without replaying any log commits. Callers typically combine this
// with replaying commits after ptr.Version (see package snapshot).
func Read(ctx context.Context, store objectstore.Store, dec codec.Codec, logDir string, ptr Pointer) (*snapshot.Snapshot, error) {
	parts := ptr.Parts
	if parts == 0 {
		parts = 1
	}
	snap := &snapshot.Snapshot{
		Version:    ptr.Version,
		Files:      map[string]snapshot.FileEntry{},
		Tombstones: map[string]action.Remove{},
	}
	for i := 1; i <= parts; i++ {
		path := partPath(logDir, ptr.Version, i, ptr.Parts)
		buf, err := store.Read(ctx, path)
		if err != nil {
			return nil, errs.WithOp(err, "Read", path, ptr.Version)
		}
		rows, err := decodeRows(dec, buf)
		if err != nil {
			return nil, errs.WithOp(err, "Read", path, ptr.Version)
		}
		for _, r := range rows {
			if err := applyRow(snap, r); err != nil {
				return nil, errs.WithOp(err, "Read", path, ptr.Version)
			}
		}
	}
	return snap, nil
}

func buildRows(snap *snapshot.Snapshot) []row {
	var rows []row
	for _, fe := range snap.ActiveFiles() {
		payload, _ := json.Marshal(fe.Add)
		rows = append(rows, row{Kind: action.KindAdd, Payload: payload})
	}
	if snap.MetaData.ID != "" {
		payload, _ := json.Marshal(snap.MetaData)
		rows = append(rows, row{Kind: action.KindMetaData, Payload: payload})
	}
	if snap.Protocol.MinReaderVersion > 0 {
		payload, _ := json.Marshal(snap.Protocol)
		rows = append(rows, row{Kind: action.KindProtocol, Payload: payload})
	}
	return rows
}

func applyRow(snap *snapshot.Snapshot, r row) error {
	switch r.Kind {
	case action.KindAdd:
		var a action.Add
		if err := json.Unmarshal(r.Payload, &a); err != nil {
			return errs.Wrap(errs.MalformedData, err, "decoding checkpoint add row")
		}
		snap.Files[a.Path] = snapshot.FileEntry{Add: a, AddedAt: snap.Version}
	case action.KindMetaData:
		if err := json.Unmarshal(r.Payload, &snap.MetaData); err != nil {
			return errs.Wrap(errs.MalformedData, err, "decoding checkpoint metaData row")
		}
	case action.KindProtocol:
		if err := json.Unmarshal(r.Payload, &snap.Protocol); err != nil {
			return errs.Wrap(errs.MalformedData, err, "decoding checkpoint protocol row")
		}
	default:
		return errs.New(errs.MalformedData, "checkpoint row has unsupported kind %q", r.Kind)
	}
	return nil
}

func partIndex(r row, numParts int) int {
	if numParts <= 1 {
		return 0
	}
	h := xxhash.Sum64(r.Payload)
	return int(h % uint64(numParts))
}

func encodeRows(c codec.Codec, rows []row) ([]byte, error) {
	kinds := make([]any, len(rows))
	payloads := make([]any, len(rows))
	for i, r := range rows {
		kinds[i] = string(r.Kind)
		payloads[i] = string(r.Payload)
	}
	cols := []codec.Column{
		{Name: "kind", Values: kinds},
		{Name: "payload", Values: payloads},
	}
	return c.Encode(cols, codec.EncodeOptions{})
}

func decodeRows(c codec.Codec, buf []byte) ([]row, error) {
	decoded, err := c.Decode(buf)
	if err != nil {
		return nil, err
	}
	rows := make([]row, 0, len(decoded))
	for _, m := range decoded {
		kindStr, _ := m["kind"].(string)
		payloadStr, _ := m["payload"].(string)
		rows = append(rows, row{Kind: action.Kind(kindStr), Payload: json.RawMessage(payloadStr)})
	}
	return rows, nil
}

func partPath(logDir string, version int64, part, totalParts int) string {
	stem := fmt.Sprintf("%020d", version)
	if totalParts <= 1 {
		return joinPath(logDir, stem+".checkpoint.parquet")
	}
	return joinPath(logDir, fmt.Sprintf("%s.checkpoint.%010d.%010d.parquet", stem, part, totalParts))
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

// Retention decides which checkpoints to keep during log maintenance:
// keep the K most recent, optionally bounded by a maximum age.
type Retention struct {
	KeepCount int
	MaxAgeNS  int64 // 0 disables the age bound
}

// Expired returns the versions of checkpoints that Retention permits
// deleting, given all known checkpoint versions (ascending) and their
// creation timestamps (same length, same order). The newest KeepCount
// checkpoints are always retained regardless of age.
func Expired(versions []int64, createdAtNS []int64, now int64, r Retention) []int64 {
	if len(versions) != len(createdAtNS) {
		return nil
	}
	type entry struct {
		version int64
		created int64
	}
	entries := make([]entry, len(versions))
	for i := range versions {
		entries[i] = entry{versions[i], createdAtNS[i]}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].version < entries[j].version })

	keep := r.KeepCount
	if keep < 0 {
		keep = 0
	}
	cutoff := len(entries) - keep
	var expired []int64
	for i, e := range entries {
		if i >= cutoff {
			continue
		}
		if r.MaxAgeNS > 0 && now-e.created < r.MaxAgeNS {
			continue
		}
		expired = append(expired, e.version)
	}
	return expired
}
