// Package snapshot builds the reconciled table state as of a given version
// by replaying the transaction log, optionally seeded from a checkpoint: a
// versioned, reconciled view built by folding a sequence of commits in
// order.
package snapshot

import (
	"context"
	"sort"

	"github.com/dot-do/deltalake-sub003/action"
	"github.com/dot-do/deltalake-sub003/errs"
	"github.com/dot-do/deltalake-sub003/logging"
)

// FileEntry is the reconciled state of one data file as of a snapshot's
// version: the most recent Add for that path, not yet retracted by a later
// Remove.
type FileEntry struct {
	Add     action.Add
	AddedAt int64 // version at which this entry's Add was committed
}

// Snapshot is the reconciled, queryable state of a table at one version.
type Snapshot struct {
	Version    int64
	MetaData   action.MetaData
	Protocol   action.Protocol
	Files      map[string]FileEntry // keyed by Add.Path
	Tombstones map[string]action.Remove
}

// CommitSource yields the action records committed at a given version, so
// Build doesn't need to know how the log is physically stored.
type CommitSource interface {
	// Actions returns the actions committed at version v, or a NotFound
	// error if no commit exists at that version.
	Actions(ctx context.Context, v int64) ([]action.Record, error)
	// LatestVersion returns the highest committed version known to the log.
	LatestVersion(ctx context.Context) (int64, error)
}

// CheckpointSource optionally supplies a pre-reconciled starting point so
// Build doesn't have to replay from version 0.
type CheckpointSource interface {
	// LastCheckpoint returns the most recent checkpoint at or before
	// upTo, or ok=false if none exists or it is unreadable.
	LastCheckpoint(ctx context.Context, upTo int64) (version int64, files map[string]FileEntry, meta action.MetaData, proto action.Protocol, ok bool)
}

// GapError indicates the log is missing one or more contiguous versions
// between the checkpoint (or version 0) and the target, making a complete
// replay impossible.
type GapError struct {
	From, To int64
}

func (e *GapError) Error() string {
	return errs.New(errs.MalformedData, "transaction log has a gap between versions %d and %d", e.From, e.To).Error()
}

// Options controls how Build reconciles a snapshot.
type Options struct {
	// TargetVersion pins the snapshot to a specific version. Zero pins
	// version 0; set UseLatest to resolve the latest version instead.
	TargetVersion int64
	// UseLatest, when true, ignores TargetVersion and resolves the
	// latest committed version via CommitSource.LatestVersion.
	UseLatest bool
	Logger    logging.Logger
}

// Build reconciles a Snapshot at the requested version by optionally
// seeding from a checkpoint and then replaying every subsequent commit in
// order, folding Add/Remove pairs into the final file set.
func Build(ctx context.Context, log CommitSource, ckpt CheckpointSource, opts Options) (*Snapshot, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}

	target := opts.TargetVersion
	if opts.UseLatest {
		v, err := log.LatestVersion(ctx)
		if err != nil {
			return nil, errs.WithOp(err, "Build", "", 0)
		}
		target = v
	}

	snap := &Snapshot{
		Files:      map[string]FileEntry{},
		Tombstones: map[string]action.Remove{},
	}
	startVersion := int64(0)

	if ckpt != nil {
		if v, files, meta, proto, ok := ckpt.LastCheckpoint(ctx, target); ok {
			if v > target {
				logger.Warn("checkpoint version exceeds target, ignoring checkpoint", "checkpointVersion", v, "target", target)
			} else {
				snap.Version = v
				snap.MetaData = meta
				snap.Protocol = proto
				for p, f := range files {
					snap.Files[p] = f
				}
				startVersion = v + 1
			}
		}
	}

	for v := startVersion; v <= target; v++ {
		records, err := log.Actions(ctx, v)
		if err != nil {
			if errs.IsNotFound(err) {
				return nil, &GapError{From: startVersion, To: target}
			}
			return nil, errs.WithOp(err, "Build", "", v)
		}
		applyCommit(snap, v, records)
	}

	snap.Version = target
	return snap, nil
}

// applyCommit folds one commit's actions into the accumulating snapshot. A
// path's final state within the commit is decided by whichever of its
// add/remove records came last in the commit's record order -- a path may be
// both removed and re-added in the same commit, and a later add must win
// over an earlier remove (and vice versa).
func applyCommit(snap *Snapshot, version int64, records []action.Record) {
	type pathOp struct {
		add      *action.Add
		remove   *action.Remove
		lastKind byte // 'a' or 'r', whichever record index was seen last
	}
	byPath := map[string]*pathOp{}
	order := []string{}

	get := func(path string) *pathOp {
		if op, ok := byPath[path]; ok {
			return op
		}
		op := &pathOp{}
		byPath[path] = op
		order = append(order, path)
		return op
	}

	for _, r := range records {
		switch {
		case r.Add != nil:
			op := get(r.Add.Path)
			op.add = r.Add
			op.lastKind = 'a'
		case r.Remove != nil:
			op := get(r.Remove.Path)
			op.remove = r.Remove
			op.lastKind = 'r'
		case r.MetaData != nil:
			snap.MetaData = *r.MetaData
		case r.Protocol != nil:
			snap.Protocol = *r.Protocol
		}
	}

	sort.Strings(order)
	for _, path := range order {
		op := byPath[path]
		switch op.lastKind {
		case 'a':
			snap.Files[path] = FileEntry{Add: *op.add, AddedAt: version}
			delete(snap.Tombstones, path)
		case 'r':
			delete(snap.Files, path)
			snap.Tombstones[path] = *op.remove
		}
	}
}

// ActiveFiles returns the reconciled set of live Add entries, sorted by
// path for deterministic iteration.
func (s *Snapshot) ActiveFiles() []FileEntry {
	paths := make([]string, 0, len(s.Files))
	for p := range s.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	out := make([]FileEntry, len(paths))
	for i, p := range paths {
		out[i] = s.Files[p]
	}
	return out
}
