// Package objectstore defines the object-store adapter contract every
// higher layer of the engine is parameterized over, plus the
// VersionMismatchError a lost conditional write returns. The interface is a
// small set of context-aware methods the caller's own backend satisfies;
// the engine never assumes a concrete backend.
package objectstore

import (
	"context"
	"time"
)

// VersionTag identifies the expected prior state of a path for a
// conditional write. A nil tag means "the path must not exist".
type VersionTag = []byte

// Stat describes a path's size and modification time.
type Stat struct {
	Size         int64
	LastModified time.Time
}

// Store is the object-store adapter contract. All higher layers (the
// transaction log codec, the snapshot builder, the checkpoint engine, the
// table core) are parameterized over this interface; they never touch a
// concrete backend directly.
type Store interface {
	// Read returns the full contents of path, or a NotFound error.
	Read(ctx context.Context, path string) ([]byte, error)

	// ReadRange returns bytes [start, end) of path.
	ReadRange(ctx context.Context, path string, start, end int64) ([]byte, error)

	// Write unconditionally writes bytes to path, replacing any existing
	// content.
	Write(ctx context.Context, path string, data []byte) error

	// WriteIfAbsent conditionally writes bytes to path: if expected is
	// nil, the write only succeeds when path does not yet exist; if
	// expected is non-nil, the write only succeeds if the path's current
	// version tag equals expected. On a lost race it returns a
	// *VersionMismatchError carrying the observed tag.
	WriteIfAbsent(ctx context.Context, path string, data []byte, expected VersionTag) (VersionTag, error)

	// List returns every path with the given prefix, in no particular
	// order; callers sort if order matters.
	List(ctx context.Context, prefix string) ([]string, error)

	// Stat returns metadata about path, or (nil, nil) if it does not
	// exist — stat never raises NotFound.
	Stat(ctx context.Context, path string) (*Stat, error)

	// Delete removes path. Deleting a path that does not exist is a
	// successful no-op.
	Delete(ctx context.Context, path string) error
}

// VersionMismatchError is returned by WriteIfAbsent when the conditional
// write lost a race against a concurrent writer.
type VersionMismatchError struct {
	Path     string
	Observed VersionTag
}

func (e *VersionMismatchError) Error() string {
	return "objectstore: version mismatch at " + e.Path
}
