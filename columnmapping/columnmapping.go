// Package columnmapping implements physical/logical column name mapping:
// when delta.columnMapping.mode is "name" or "id", a schema field's on-disk
// physical name and ID diverge from its logical (reader-facing) name, so
// column renames don't require rewriting data. The mapping metadata is
// carried alongside each field in schema.Field.Metadata.
package columnmapping

import (
	"strconv"

	"github.com/dot-do/deltalake-sub003/errs"
	"github.com/dot-do/deltalake-sub003/schema"
)

// Mode is the column-mapping mode advertised in table configuration under
// the key "delta.columnMapping.mode".
type Mode string

const (
	ModeNone Mode = "none"
	ModeName Mode = "name"
	ModeID   Mode = "id"
)

const (
	physicalNameKey = "delta.columnMapping.physicalName"
	fieldIDKey      = "delta.columnMapping.id"
)

// ParseMode validates a configuration value against the closed set of
// modes this engine understands.
func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case ModeNone, ModeName, ModeID, "":
		if raw == "" {
			return ModeNone, nil
		}
		return Mode(raw), nil
	default:
		return "", errs.New(errs.Validation, "unsupported delta.columnMapping.mode %q", raw)
	}
}

// PhysicalName returns the on-disk column name for f under mode: the
// logical name when mode is ModeNone, or the field's recorded physical
// name/ID-derived name otherwise.
func PhysicalName(mode Mode, f schema.Field) (string, error) {
	switch mode {
	case ModeNone, "":
		return f.Name, nil
	case ModeName:
		if name, ok := f.Metadata[physicalNameKey].(string); ok && name != "" {
			return name, nil
		}
		return "", errs.New(errs.MalformedData, "field %q missing required physicalName metadata under column mapping mode %q", f.Name, mode)
	case ModeID:
		switch id := f.Metadata[fieldIDKey].(type) {
		case string:
			if id != "" {
				return "col-" + id, nil
			}
		case float64:
			return "col-" + strconv.FormatInt(int64(id), 10), nil
		}
		return "", errs.New(errs.MalformedData, "field %q missing required id metadata under column mapping mode %q", f.Name, mode)
	default:
		return "", errs.New(errs.Validation, "unsupported column mapping mode %q", mode)
	}
}

// BuildPhysicalSchema returns a copy of st with every field's Metadata
// stamped with a physicalName/id consistent with mode, assigning fresh
// sequential IDs to fields that don't already carry one. It is used when
// enabling column mapping on a table that didn't previously have it.
func BuildPhysicalSchema(mode Mode, st schema.StructType, nextID func() int) schema.StructType {
	out := schema.StructType{Fields: make([]schema.Field, len(st.Fields))}
	for i, f := range st.Fields {
		nf := f
		meta := map[string]any{}
		for k, v := range f.Metadata {
			meta[k] = v
		}
		switch mode {
		case ModeName:
			if _, ok := meta[physicalNameKey]; !ok {
				meta[physicalNameKey] = "col-" + f.Name
			}
		case ModeID:
			if _, ok := meta[fieldIDKey]; !ok {
				meta[fieldIDKey] = float64(nextID())
			}
		}
		nf.Metadata = meta
		out.Fields[i] = nf
	}
	return out
}

// LogicalToPhysical builds a map from every field's logical name to its
// physical name under mode, failing if any field cannot be resolved.
func LogicalToPhysical(mode Mode, st schema.StructType) (map[string]string, error) {
	out := make(map[string]string, len(st.Fields))
	for _, f := range st.Fields {
		phys, err := PhysicalName(mode, f)
		if err != nil {
			return nil, err
		}
		out[f.Name] = phys
	}
	return out, nil
}
