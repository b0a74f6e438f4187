// Package filter implements the document-style filter language used by
// query predicates: an AST, a small tree-walking row evaluator over a
// closed set of node kinds with documented null/NaN semantics, a pushdown
// converter to column-level comparisons, and zone-map-based row-group
// skipping.
package filter

import (
	"math"
	"regexp"
	"sort"

	"github.com/dot-do/deltalake-sub003/codec"
)

// Op is a comparison operator usable in a Field predicate.
type Op string

const (
	Eq      Op = "eq"
	Ne      Op = "ne"
	Lt      Op = "lt"
	Lte     Op = "lte"
	Gt      Op = "gt"
	Gte     Op = "gte"
	In      Op = "in"
	Nin     Op = "nin"
	Between Op = "between"
	IsNull  Op = "isNull"
	Exists  Op = "exists"
	Regex   Op = "regex"
)

// Node is the filter AST's sealed interface: Field, And, Or, Nor, Not.
type Node interface {
	isNode()
}

// FieldPredicate tests a single column against Value (or Values, for In and
// Between).
type FieldPredicate struct {
	Path   string
	Op     Op
	Value  any
	Values []any // used by In (any length) and Between ([low, high])
}

func (FieldPredicate) isNode() {}

// And is true iff every child is true.
type And struct{ Children []Node }

func (And) isNode() {}

// Or is true iff at least one child is true.
type Or struct{ Children []Node }

func (Or) isNode() {}

// Nor is true iff every child is false (logical NOR across all children).
type Nor struct{ Children []Node }

func (Nor) isNode() {}

// Not negates a single child.
type Not struct{ Child Node }

func (Not) isNode() {}

// Eval evaluates node against one row. Null/NaN semantics:
//   - A comparison against a missing or null field value is false for
//     every operator except Eq against a nil Value, Exists, and In when
//     Values contains nil -- matching SQL's three-valued-logic collapse to
//     false rather than propagating an "unknown" state, with those three
//     carve-outs for the operators whose whole purpose is to test
//     null/absence.
//   - Exists tests key presence in the row, independent of whether the
//     stored value is nil; IsNull tests null-or-absence.
//   - Regex against a non-string value is false.
//   - A NaN field value is false under every operator, and a NaN operand
//     is never equal to, less than or greater than anything, itself
//     included (so Eq(NaN, NaN) and Eq(5, NaN) are false), matching IEEE
//     754 NaN semantics.
//   - And/Or/Nor short-circuit left to right.
func Eval(node Node, row map[string]any) bool {
	switch n := node.(type) {
	case FieldPredicate:
		return evalField(n, row)
	case And:
		for _, c := range n.Children {
			if !Eval(c, row) {
				return false
			}
		}
		return true
	case Or:
		for _, c := range n.Children {
			if Eval(c, row) {
				return true
			}
		}
		return false
	case Nor:
		for _, c := range n.Children {
			if Eval(c, row) {
				return false
			}
		}
		return true
	case Not:
		return !Eval(n.Child, row)
	default:
		return false
	}
}

func evalField(p FieldPredicate, row map[string]any) bool {
	v, present := row[p.Path]

	if p.Op == Exists {
		want := true
		if b, ok := p.Value.(bool); ok {
			want = b
		}
		return present == want
	}
	if p.Op == IsNull {
		return !present || v == nil
	}

	if !present || v == nil {
		switch p.Op {
		case Eq:
			return p.Value == nil
		case In:
			for _, want := range p.Values {
				if want == nil {
					return true
				}
			}
			return false
		default:
			return false
		}
	}
	if isNaN(v) {
		return false
	}
	switch p.Op {
	case Eq:
		return compareEq(v, p.Value)
	case Ne:
		return !compareEq(v, p.Value)
	case Lt:
		c, ok := compare(v, p.Value)
		return ok && c < 0
	case Lte:
		c, ok := compare(v, p.Value)
		return ok && c <= 0
	case Gt:
		c, ok := compare(v, p.Value)
		return ok && c > 0
	case Gte:
		c, ok := compare(v, p.Value)
		return ok && c >= 0
	case In:
		for _, want := range p.Values {
			if compareEq(v, want) {
				return true
			}
		}
		return false
	case Nin:
		for _, want := range p.Values {
			if compareEq(v, want) {
				return false
			}
		}
		return true
	case Between:
		if len(p.Values) != 2 {
			return false
		}
		lo, loOK := compare(v, p.Values[0])
		hi, hiOK := compare(v, p.Values[1])
		return loOK && hiOK && lo >= 0 && hi <= 0
	case Regex:
		s, ok := v.(string)
		if !ok {
			return false
		}
		pattern, ok := p.Value.(string)
		if !ok {
			return false
		}
		matched, err := regexp.MatchString(pattern, s)
		return err == nil && matched
	default:
		return false
	}
}

func isNaN(v any) bool {
	switch f := v.(type) {
	case float64:
		return math.IsNaN(f)
	case float32:
		return math.IsNaN(float64(f))
	}
	return false
}

func compareEq(a, b any) bool {
	c, ok := compare(a, b)
	return ok && c == 0
}

// compare orders two scalar values of the same dynamic kind. It returns
// ok=false for incomparable pairs (e.g. string vs number), which callers
// treat as "predicate does not match" rather than an error.
func compare(a, b any) (int, bool) {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		if math.IsNaN(af) || math.IsNaN(bf) {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch {
		case as < bs:
			return -1, true
		case as > bs:
			return 1, true
		default:
			return 0, true
		}
	}
	ab, aok := a.(bool)
	bb, bok := b.(bool)
	if aok && bok {
		if ab == bb {
			return 0, true
		}
		if !ab && bb {
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// --- Pushdown / zone-map pruning ---

// CanSkip reports whether a row group's zone map proves that no row in it
// can satisfy node, allowing the reader to skip decoding it entirely. A
// predicate kind this function does not know how to reason about
// conservatively returns false (never skip on uncertainty).
func CanSkip(node Node, stats codec.RowGroupStats) bool {
	switch n := node.(type) {
	case FieldPredicate:
		return fieldCanSkip(n, stats)
	case And:
		for _, c := range n.Children {
			if CanSkip(c, stats) {
				return true
			}
		}
		return false
	case Or:
		for _, c := range n.Children {
			if !CanSkip(c, stats) {
				return false
			}
		}
		return len(n.Children) > 0
	case Not:
		// Negation of a prunable predicate is not itself safely prunable
		// in general (e.g. NOT(x > 10) over a group where some rows are
		// <=10 cannot be skipped just because the group's max is small).
		return false
	default:
		return false
	}
}

func fieldCanSkip(p FieldPredicate, stats codec.RowGroupStats) bool {
	cs, ok := stats.Columns[p.Path]
	if !ok {
		return false
	}
	if cs.NullCount == stats.RowCount {
		// Every row is null here, so skip unless Eval matches a null value.
		switch p.Op {
		case IsNull, Exists:
			return false
		case Eq:
			return p.Value != nil
		case In:
			for _, want := range p.Values {
				if want == nil {
					return false
				}
			}
		}
		return true
	}
	if cs.Min == nil || cs.Max == nil {
		return false
	}
	switch p.Op {
	case Eq:
		loCmp, loOK := compare(p.Value, cs.Min)
		hiCmp, hiOK := compare(p.Value, cs.Max)
		return loOK && hiOK && (loCmp < 0 || hiCmp > 0)
	case Lt:
		c, ok := compare(cs.Min, p.Value)
		return ok && c >= 0
	case Lte:
		c, ok := compare(cs.Min, p.Value)
		return ok && c > 0
	case Gt:
		c, ok := compare(cs.Max, p.Value)
		return ok && c <= 0
	case Gte:
		c, ok := compare(cs.Max, p.Value)
		return ok && c < 0
	case Between:
		if len(p.Values) != 2 {
			return false
		}
		hiCmp, hiOK := compare(cs.Max, p.Values[0])
		loCmp, loOK := compare(cs.Min, p.Values[1])
		return (hiOK && hiCmp < 0) || (loOK && loCmp > 0)
	default:
		return false
	}
}

// ExtractPartitionPredicates walks node and returns the FieldPredicate
// leaves whose Path is one of the table's partition columns, so the
// partition-pruning layer can evaluate them without a data read. The
// remaining predicate still needs full evaluation against decoded data.
// Leaves on non-partition columns inside an And are skipped; a predicate
// containing Or, Nor or Not is reported via ok=false (conservative: do not
// partially apply across Or/Nor/Not).
func ExtractPartitionPredicates(node Node, partitionColumns []string) (preds []FieldPredicate, ok bool) {
	isPartitionCol := map[string]bool{}
	for _, c := range partitionColumns {
		isPartitionCol[c] = true
	}
	var walk func(n Node) bool
	walk = func(n Node) bool {
		switch v := n.(type) {
		case FieldPredicate:
			if isPartitionCol[v.Path] {
				preds = append(preds, v)
			}
			return true
		case And:
			for _, c := range v.Children {
				if !walk(c) {
					return false
				}
			}
			return true
		default:
			return false
		}
	}
	if !walk(node) {
		return nil, false
	}
	sort.Slice(preds, func(i, j int) bool { return preds[i].Path < preds[j].Path })
	return preds, true
}
