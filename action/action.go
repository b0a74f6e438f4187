// Package action defines the closed set of transaction-log action kinds as
// a sealed sum type, plus their field-level validation. Each action record
// carries one discriminated top-level key (add, remove, metaData, protocol,
// commitInfo), modeled as small, explicitly-validated structs rather than a
// single loosely-typed map.
package action

import (
	"fmt"

	"github.com/dot-do/deltalake-sub003/errs"
)

// Kind identifies which of the five action variants a Record carries.
type Kind string

const (
	KindAdd        Kind = "add"
	KindRemove     Kind = "remove"
	KindMetaData   Kind = "metaData"
	KindProtocol   Kind = "protocol"
	KindCommitInfo Kind = "commitInfo"
)

// DeletionVectorStorageType enumerates where a deletion vector's bitmap
// bytes live.
type DeletionVectorStorageType string

const (
	DVInline DeletionVectorStorageType = "i"
	DVUUID   DeletionVectorStorageType = "u"
	DVPath   DeletionVectorStorageType = "p"
)

// DeletionVectorDescriptor is the optional deletion-vector pointer carried
// on an Add action.
type DeletionVectorDescriptor struct {
	StorageType    DeletionVectorStorageType `json:"storageType"`
	PathOrInlineDv string                    `json:"pathOrInlineDv"`
	Offset         *int64                    `json:"offset,omitempty"`
	SizeInBytes    int64                     `json:"sizeInBytes"`
	Cardinality    int64                     `json:"cardinality"`
}

// FileStats is the optional per-file column statistics carried on an Add
// action.
type FileStats struct {
	NumRecords int64            `json:"numRecords"`
	MinValues  map[string]any   `json:"minValues,omitempty"`
	MaxValues  map[string]any   `json:"maxValues,omitempty"`
	NullCount  map[string]int64 `json:"nullCount,omitempty"`
}

// Add declares a file as part of the table state.
type Add struct {
	Path             string                    `json:"path"`
	Size             int64                     `json:"size"`
	ModificationTime int64                     `json:"modificationTime"`
	DataChange       bool                      `json:"dataChange"`
	PartitionValues  map[string]string         `json:"partitionValues,omitempty"`
	Stats            *FileStats                `json:"stats,omitempty"`
	DeletionVector   *DeletionVectorDescriptor `json:"deletionVector,omitempty"`
	Tags             map[string]string         `json:"tags,omitempty"`
}

// Remove retracts a previously added file.
type Remove struct {
	Path              string `json:"path"`
	DeletionTimestamp int64  `json:"deletionTimestamp"`
	DataChange        bool   `json:"dataChange"`
}

// MetaData defines or redefines table metadata.
type MetaData struct {
	ID               string            `json:"id"`
	Format           FormatSpec        `json:"format"`
	SchemaString     string            `json:"schemaString"`
	PartitionColumns []string          `json:"partitionColumns"`
	Configuration    map[string]string `json:"configuration,omitempty"`
	CreatedTime      int64             `json:"createdTime,omitempty"`
}

// FormatSpec names the data-file format provider.
type FormatSpec struct {
	Provider string `json:"provider"`
}

// Protocol advertises the minimum reader/writer capability required to
// operate on the table.
type Protocol struct {
	MinReaderVersion int `json:"minReaderVersion"`
	MinWriterVersion int `json:"minWriterVersion"`
}

// CommitInfo is a descriptive, non-state-bearing record.
type CommitInfo struct {
	Timestamp     int64          `json:"timestamp"`
	Operation     string         `json:"operation"`
	IsBlindAppend bool           `json:"isBlindAppend,omitempty"`
	OperationMetrics map[string]any `json:"operationMetrics,omitempty"`
}

// Record is one line of the transaction log: exactly one of its fields is
// non-nil, discriminated by Kind(). This mirrors the protocol's own
// single-top-level-key-per-line encoding (package deltalog handles the JSON
// shape); Record is the in-memory sealed sum type the rest of the engine
// operates on.
type Record struct {
	Add        *Add        `json:"add,omitempty"`
	Remove     *Remove     `json:"remove,omitempty"`
	MetaData   *MetaData   `json:"metaData,omitempty"`
	Protocol   *Protocol   `json:"protocol,omitempty"`
	CommitInfo *CommitInfo `json:"commitInfo,omitempty"`
}

// Kind returns which variant this Record carries, or "" if none is set.
// When more than one is set (Validate rejects that case) it returns the
// first of add, remove, metaData, protocol, commitInfo that is set.
func (r Record) Kind() Kind {
	switch {
	case r.Add != nil:
		return KindAdd
	case r.Remove != nil:
		return KindRemove
	case r.MetaData != nil:
		return KindMetaData
	case r.Protocol != nil:
		return KindProtocol
	case r.CommitInfo != nil:
		return KindCommitInfo
	default:
		return ""
	}
}

// Validate checks field-well-formedness. It does not check cross-action
// invariants; those require surrounding commit/log context and are checked
// by package snapshot and the table core.
func (r Record) Validate() error {
	set := 0
	for _, present := range []bool{r.Add != nil, r.Remove != nil, r.MetaData != nil, r.Protocol != nil, r.CommitInfo != nil} {
		if present {
			set++
		}
	}
	if set == 0 {
		return errs.New(errs.MalformedData, "action record carries no recognized kind")
	}
	if set > 1 {
		return errs.New(errs.MalformedData, "action record carries more than one kind")
	}

	switch {
	case r.Add != nil:
		return validateAdd(r.Add)
	case r.Remove != nil:
		return validateRemove(r.Remove)
	case r.MetaData != nil:
		return validateMetaData(r.MetaData)
	case r.Protocol != nil:
		return validateProtocol(r.Protocol)
	case r.CommitInfo != nil:
		return validateCommitInfo(r.CommitInfo)
	}
	return nil
}

func malformed(kind Kind, field, reason string) error {
	return errs.New(errs.MalformedData, "malformed %s action: field %q %s", kind, field, reason)
}

func validateAdd(a *Add) error {
	if a.Path == "" {
		return malformed(KindAdd, "path", "must be non-empty")
	}
	if err := validateRelativePath(KindAdd, a.Path); err != nil {
		return err
	}
	if a.Size < 0 {
		return malformed(KindAdd, "size", "must be >= 0")
	}
	if a.ModificationTime < 0 {
		return malformed(KindAdd, "modificationTime", "must be >= 0")
	}
	if a.Stats != nil {
		if a.Stats.NumRecords < 0 {
			return malformed(KindAdd, "stats.numRecords", "must be >= 0")
		}
		for col, n := range a.Stats.NullCount {
			if n < 0 || n > a.Stats.NumRecords {
				return malformed(KindAdd, fmt.Sprintf("stats.nullCount[%s]", col), "must be between 0 and numRecords")
			}
		}
	}
	if dv := a.DeletionVector; dv != nil {
		switch dv.StorageType {
		case DVInline, DVUUID, DVPath:
		default:
			return malformed(KindAdd, "deletionVector.storageType", "must be one of i, u, p")
		}
		if dv.SizeInBytes < 0 {
			return malformed(KindAdd, "deletionVector.sizeInBytes", "must be >= 0")
		}
		if dv.Cardinality < 0 {
			return malformed(KindAdd, "deletionVector.cardinality", "must be >= 0")
		}
	}
	return nil
}

func validateRemove(r *Remove) error {
	if r.Path == "" {
		return malformed(KindRemove, "path", "must be non-empty")
	}
	if err := validateRelativePath(KindRemove, r.Path); err != nil {
		return err
	}
	if r.DeletionTimestamp < 0 {
		return malformed(KindRemove, "deletionTimestamp", "must be >= 0")
	}
	return nil
}

func validateMetaData(m *MetaData) error {
	if m.ID == "" {
		return malformed(KindMetaData, "id", "must be non-empty")
	}
	if m.Format.Provider == "" {
		return malformed(KindMetaData, "format.provider", "must be non-empty")
	}
	if m.PartitionColumns == nil {
		return malformed(KindMetaData, "partitionColumns", "must be present (possibly empty)")
	}
	return nil
}

func validateProtocol(p *Protocol) error {
	if p.MinReaderVersion < 1 {
		return malformed(KindProtocol, "minReaderVersion", "must be >= 1")
	}
	if p.MinWriterVersion < 1 {
		return malformed(KindProtocol, "minWriterVersion", "must be >= 1")
	}
	return nil
}

func validateCommitInfo(c *CommitInfo) error {
	if c.Timestamp < 0 {
		return malformed(KindCommitInfo, "timestamp", "must be >= 0")
	}
	if c.Operation == "" {
		return malformed(KindCommitInfo, "operation", "must be non-empty")
	}
	return nil
}

func validateRelativePath(kind Kind, path string) error {
	if len(path) > 0 && path[0] == '/' {
		return malformed(kind, "path", "must not have a leading /")
	}
	for i := 0; i+1 < len(path); i++ {
		if path[i] == '.' && path[i+1] == '.' {
			if (i == 0 || path[i-1] == '/') && (i+2 == len(path) || path[i+2] == '/') {
				return malformed(kind, "path", "must not contain ..")
			}
		}
	}
	return nil
}
