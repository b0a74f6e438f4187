// Package partition implements Hive-style partition-path encoding and
// value-based pruning as small, independently testable pure functions; the
// encoding scheme itself follows Hive's `col=value` path convention.
package partition

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/dot-do/deltalake-sub003/errs"
)

// NullPartitionValue is the sentinel Hive uses to encode a null partition
// value in a path segment.
const NullPartitionValue = "__HIVE_DEFAULT_PARTITION__"

// EncodeValue renders a single partition column's value as the string that
// appears (escaped) in the directory path. A nil value (represented here by
// isNull=true) encodes to the Hive default-partition sentinel.
func EncodeValue(value string, isNull bool) string {
	if isNull {
		return NullPartitionValue
	}
	return escapePathSegment(value)
}

// escapePathSegment percent-encodes every byte outside [A-Za-z0-9_.-], the
// Hive-safe character set, leaving ordinary identifiers and dates untouched.
func escapePathSegment(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '_' || c == '-' || c == '.':
		return true
	}
	return false
}

// EncodePath renders the Hive-style relative directory prefix for a row's
// partition values, in the table's declared partition-column order, e.g.
// "year=2024/month=01".
func EncodePath(partitionColumns []string, values map[string]*string) string {
	segs := make([]string, 0, len(partitionColumns))
	for _, col := range partitionColumns {
		v := values[col]
		var encoded string
		if v == nil {
			encoded = NullPartitionValue
		} else {
			encoded = escapePathSegment(*v)
		}
		segs = append(segs, col+"="+encoded)
	}
	return strings.Join(segs, "/")
}

// DecodePath parses a Hive-style partition path prefix back into a
// column->value map, following the same column order it was encoded with.
func DecodePath(partitionColumns []string, path string) (map[string]*string, error) {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	out := map[string]*string{}
	for i, col := range partitionColumns {
		if i >= len(segs) {
			return nil, errs.New(errs.MalformedData, "partition path %q has fewer segments than declared columns", path)
		}
		seg := segs[i]
		prefix := col + "="
		if !strings.HasPrefix(seg, prefix) {
			return nil, errs.New(errs.MalformedData, "partition path segment %q does not match column %q", seg, col)
		}
		raw := seg[len(prefix):]
		if raw == NullPartitionValue {
			out[col] = nil
			continue
		}
		decoded, err := url.QueryUnescape(raw)
		if err != nil {
			return nil, errs.Wrap(errs.MalformedData, err, "decoding partition segment %q", seg)
		}
		out[col] = &decoded
	}
	return out, nil
}

// GroupKey deterministically serializes a row's partition values into a map
// key usable to bucket rows by partition during a write.
func GroupKey(partitionColumns []string, values map[string]*string) string {
	cols := append([]string(nil), partitionColumns...)
	sort.Strings(cols)
	var b strings.Builder
	for i, col := range cols {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		b.WriteString(col)
		b.WriteByte('=')
		if v := values[col]; v != nil {
			b.WriteString(*v)
		} else {
			b.WriteString(NullPartitionValue)
		}
	}
	return b.String()
}

// Predicate is a single equality/inequality test on one partition column,
// used to prune files whose partitionValues can already decide the
// predicate without reading data.
type Predicate struct {
	Column string
	Op     Op
	Value  *string // nil means IS NULL
}

// Op enumerates the comparison operators partition pruning supports.
type Op string

const (
	OpEq  Op = "eq"
	OpNeq Op = "neq"
)

// Matches reports whether the given stored partition values satisfy p.
func (p Predicate) Matches(values map[string]*string) bool {
	v, present := values[p.Column]
	switch p.Op {
	case OpEq:
		if p.Value == nil {
			return present && v == nil
		}
		return present && v != nil && *v == *p.Value
	case OpNeq:
		if p.Value == nil {
			return present && v != nil
		}
		return !present || v == nil || *v != *p.Value
	default:
		return true
	}
}

// Prune filters files down to those whose partitionValues satisfy every
// predicate, without inspecting file contents.
func Prune(files []map[string]*string, predicates []Predicate) []int {
	var kept []int
	for i, values := range files {
		ok := true
		for _, p := range predicates {
			if !p.Matches(values) {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, i)
		}
	}
	return kept
}
