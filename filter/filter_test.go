package filter

import (
	"math"
	"testing"

	"github.com/dot-do/deltalake-sub003/codec"
)

func TestEvalFieldEq(t *testing.T) {
	row := map[string]any{"n": float64(5)}
	if !Eval(FieldPredicate{Path: "n", Op: Eq, Value: float64(5)}, row) {
		t.Fatalf("expected eq to match")
	}
	if Eval(FieldPredicate{Path: "n", Op: Eq, Value: float64(6)}, row) {
		t.Fatalf("expected eq to not match")
	}
}

func TestEvalNullFieldIsFalseExceptIsNull(t *testing.T) {
	row := map[string]any{"n": nil}
	if Eval(FieldPredicate{Path: "n", Op: Eq, Value: float64(5)}, row) {
		t.Fatalf("expected eq against null to be false")
	}
	if !Eval(FieldPredicate{Path: "n", Op: IsNull}, row) {
		t.Fatalf("expected isNull to match a null value")
	}
}

func TestEvalMissingFieldIsFalse(t *testing.T) {
	row := map[string]any{}
	if Eval(FieldPredicate{Path: "n", Op: Eq, Value: float64(5)}, row) {
		t.Fatalf("expected eq against missing field to be false")
	}
}

func TestEvalNaNIsAlwaysFalse(t *testing.T) {
	row := map[string]any{"n": math.NaN()}
	if Eval(FieldPredicate{Path: "n", Op: Eq, Value: math.NaN()}, row) {
		t.Fatalf("expected NaN == NaN to be false")
	}
	if Eval(FieldPredicate{Path: "n", Op: Gte, Value: float64(0)}, row) {
		t.Fatalf("expected NaN comparisons to be false")
	}
}

func TestAndIsFalseWhenAnyChildIsFalse(t *testing.T) {
	row := map[string]any{"a": float64(1)}
	node := And{Children: []Node{
		FieldPredicate{Path: "a", Op: Eq, Value: float64(2)},
		FieldPredicate{Path: "missing", Op: Eq, Value: nil},
	}}
	if Eval(node, row) {
		t.Fatalf("expected And to be false")
	}
}

func TestOrMatchesAnyChild(t *testing.T) {
	row := map[string]any{"a": float64(1)}
	node := Or{Children: []Node{
		FieldPredicate{Path: "a", Op: Eq, Value: float64(2)},
		FieldPredicate{Path: "a", Op: Eq, Value: float64(1)},
	}}
	if !Eval(node, row) {
		t.Fatalf("expected Or to match")
	}
}

func TestNorIsTrueOnlyWhenAllChildrenFalse(t *testing.T) {
	row := map[string]any{"a": float64(1)}
	allFalse := Nor{Children: []Node{
		FieldPredicate{Path: "a", Op: Eq, Value: float64(2)},
	}}
	if !Eval(allFalse, row) {
		t.Fatalf("expected Nor to be true when all children false")
	}
	oneTrue := Nor{Children: []Node{
		FieldPredicate{Path: "a", Op: Eq, Value: float64(1)},
	}}
	if Eval(oneTrue, row) {
		t.Fatalf("expected Nor to be false when a child matches")
	}
}

func TestNotNegates(t *testing.T) {
	row := map[string]any{"a": float64(1)}
	node := Not{Child: FieldPredicate{Path: "a", Op: Eq, Value: float64(1)}}
	if Eval(node, row) {
		t.Fatalf("expected Not to negate a true child")
	}
}

func TestNinExcludesListedValues(t *testing.T) {
	row := map[string]any{"n": float64(5)}
	if Eval(FieldPredicate{Path: "n", Op: Nin, Values: []any{float64(5), float64(6)}}, row) {
		t.Fatalf("expected nin to be false when the value is in the list")
	}
	if !Eval(FieldPredicate{Path: "n", Op: Nin, Values: []any{float64(6), float64(7)}}, row) {
		t.Fatalf("expected nin to be true when the value is not in the list")
	}
}

func TestNinAgainstNullFieldIsFalse(t *testing.T) {
	row := map[string]any{"n": nil}
	if Eval(FieldPredicate{Path: "n", Op: Nin, Values: []any{float64(1)}}, row) {
		t.Fatalf("expected nin against a null field to be false, not true")
	}
}

func TestExistsTestsKeyPresenceNotNullness(t *testing.T) {
	row := map[string]any{"n": nil}
	if !Eval(FieldPredicate{Path: "n", Op: Exists, Value: true}, row) {
		t.Fatalf("expected exists:true to match a present-but-null field")
	}
	if Eval(FieldPredicate{Path: "missing", Op: Exists, Value: true}, row) {
		t.Fatalf("expected exists:true to not match an absent field")
	}
	if !Eval(FieldPredicate{Path: "missing", Op: Exists, Value: false}, row) {
		t.Fatalf("expected exists:false to match an absent field")
	}
	if Eval(FieldPredicate{Path: "n", Op: Exists, Value: false}, row) {
		t.Fatalf("expected exists:false to not match a present-but-null field")
	}
}

func TestEqNullMatchesNullOrAbsentField(t *testing.T) {
	nullRow := map[string]any{"n": nil}
	if !Eval(FieldPredicate{Path: "n", Op: Eq, Value: nil}, nullRow) {
		t.Fatalf("expected eq:null to match a null field")
	}
	missingRow := map[string]any{}
	if !Eval(FieldPredicate{Path: "n", Op: Eq, Value: nil}, missingRow) {
		t.Fatalf("expected eq:null to match an absent field")
	}
}

func TestInWithNullInListMatchesNullOrAbsentField(t *testing.T) {
	row := map[string]any{"n": nil}
	if !Eval(FieldPredicate{Path: "n", Op: In, Values: []any{nil, float64(1)}}, row) {
		t.Fatalf("expected in to match a null field when the list contains null")
	}
	if Eval(FieldPredicate{Path: "n", Op: In, Values: []any{float64(1)}}, row) {
		t.Fatalf("expected in to not match a null field when the list has no null")
	}
}

func TestRegexMatchesStringValues(t *testing.T) {
	row := map[string]any{"s": "hello-world"}
	if !Eval(FieldPredicate{Path: "s", Op: Regex, Value: "^hello-"}, row) {
		t.Fatalf("expected regex to match")
	}
	if Eval(FieldPredicate{Path: "s", Op: Regex, Value: "^world"}, row) {
		t.Fatalf("expected regex to not match")
	}
}

func TestRegexAgainstNonStringValueIsFalse(t *testing.T) {
	row := map[string]any{"n": float64(5)}
	if Eval(FieldPredicate{Path: "n", Op: Regex, Value: "5"}, row) {
		t.Fatalf("expected regex against a non-string value to be false")
	}
}

func TestBetweenIsInclusive(t *testing.T) {
	row := map[string]any{"n": float64(5)}
	node := FieldPredicate{Path: "n", Op: Between, Values: []any{float64(5), float64(10)}}
	if !Eval(node, row) {
		t.Fatalf("expected between to include its lower bound")
	}
}

func TestCanSkipAllNullsExceptIsNullPredicate(t *testing.T) {
	stats := codec.RowGroupStats{RowCount: 10, Columns: map[string]codec.ColumnStats{
		"n": {NullCount: 10},
	}}
	if !CanSkip(FieldPredicate{Path: "n", Op: Eq, Value: float64(1)}, stats) {
		t.Fatalf("expected all-null column to allow skip for eq")
	}
	if CanSkip(FieldPredicate{Path: "n", Op: IsNull}, stats) {
		t.Fatalf("expected isNull predicate to never allow skip on all-null group")
	}
}

func TestCanSkipEqOutsideMinMaxRange(t *testing.T) {
	stats := codec.RowGroupStats{RowCount: 10, Columns: map[string]codec.ColumnStats{
		"n": {Min: float64(10), Max: float64(20)},
	}}
	if !CanSkip(FieldPredicate{Path: "n", Op: Eq, Value: float64(5)}, stats) {
		t.Fatalf("expected skip when eq value is below min")
	}
	if CanSkip(FieldPredicate{Path: "n", Op: Eq, Value: float64(15)}, stats) {
		t.Fatalf("expected no skip when eq value is within range")
	}
}

func TestCanSkipGtAboveMax(t *testing.T) {
	stats := codec.RowGroupStats{RowCount: 10, Columns: map[string]codec.ColumnStats{
		"n": {Min: float64(1), Max: float64(10)},
	}}
	if !CanSkip(FieldPredicate{Path: "n", Op: Gt, Value: float64(10)}, stats) {
		t.Fatalf("expected skip when gt threshold equals max")
	}
}

func TestCanSkipOrRequiresAllChildrenSkippable(t *testing.T) {
	stats := codec.RowGroupStats{RowCount: 10, Columns: map[string]codec.ColumnStats{
		"n": {Min: float64(10), Max: float64(20)},
		"m": {Min: float64(0), Max: float64(1)},
	}}
	node := Or{Children: []Node{
		FieldPredicate{Path: "n", Op: Eq, Value: float64(5)},
		FieldPredicate{Path: "m", Op: Eq, Value: float64(0)},
	}}
	if CanSkip(node, stats) {
		t.Fatalf("expected no skip since one Or child cannot be proven unsatisfiable")
	}
}

func TestExtractPartitionPredicatesSeparatesConjuncts(t *testing.T) {
	node := And{Children: []Node{
		FieldPredicate{Path: "year", Op: Eq, Value: "2024"},
		FieldPredicate{Path: "amount", Op: Gt, Value: float64(10)},
	}}
	preds, ok := ExtractPartitionPredicates(node, []string{"year"})
	if !ok {
		t.Fatalf("expected extraction to succeed for a conjunction")
	}
	if len(preds) != 1 || preds[0].Path != "year" {
		t.Fatalf("expected only the year predicate, got %+v", preds)
	}
}

func TestExtractPartitionPredicatesRejectsOr(t *testing.T) {
	node := Or{Children: []Node{
		FieldPredicate{Path: "year", Op: Eq, Value: "2024"},
	}}
	_, ok := ExtractPartitionPredicates(node, []string{"year"})
	if ok {
		t.Fatalf("expected Or to be reported as non-extractable")
	}
}
