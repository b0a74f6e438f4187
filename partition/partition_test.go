package partition

import "testing"

func strp(s string) *string { return &s }

func TestEncodePathEscapesAndOrdersColumns(t *testing.T) {
	p := EncodePath([]string{"year", "month"}, map[string]*string{
		"year":  strp("2024"),
		"month": strp("01"),
	})
	if p != "year=2024/month=01" {
		t.Fatalf("unexpected path: %q", p)
	}
}

func TestEncodePathEscapesSpecialChars(t *testing.T) {
	p := EncodePath([]string{"name"}, map[string]*string{"name": strp("a/b c")})
	if p != "name=a%2Fb%20c" {
		t.Fatalf("unexpected escaping: %q", p)
	}
}

func TestEncodePathNullSentinel(t *testing.T) {
	p := EncodePath([]string{"region"}, map[string]*string{"region": nil})
	if p != "region="+NullPartitionValue {
		t.Fatalf("unexpected null encoding: %q", p)
	}
}

func TestDecodePathRoundTrips(t *testing.T) {
	values := map[string]*string{"year": strp("2024"), "month": strp("01")}
	p := EncodePath([]string{"year", "month"}, values)
	back, err := DecodePath([]string{"year", "month"}, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *back["year"] != "2024" || *back["month"] != "01" {
		t.Fatalf("unexpected round trip: %+v", back)
	}
}

func TestDecodePathRejectsMismatchedColumn(t *testing.T) {
	if _, err := DecodePath([]string{"year"}, "month=01"); err == nil {
		t.Fatalf("expected error for mismatched column")
	}
}

func TestDecodePathNullSentinelRoundTrips(t *testing.T) {
	back, err := DecodePath([]string{"region"}, "region="+NullPartitionValue)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if back["region"] != nil {
		t.Fatalf("expected nil for null sentinel")
	}
}

func TestGroupKeyIsOrderIndependent(t *testing.T) {
	a := GroupKey([]string{"year", "month"}, map[string]*string{"year": strp("2024"), "month": strp("01")})
	b := GroupKey([]string{"month", "year"}, map[string]*string{"year": strp("2024"), "month": strp("01")})
	if a != b {
		t.Fatalf("expected order-independent key, got %q vs %q", a, b)
	}
}

func TestPruneFiltersByEquality(t *testing.T) {
	files := []map[string]*string{
		{"year": strp("2023")},
		{"year": strp("2024")},
		{"year": strp("2024")},
	}
	kept := Prune(files, []Predicate{{Column: "year", Op: OpEq, Value: strp("2024")}})
	if len(kept) != 2 || kept[0] != 1 || kept[1] != 2 {
		t.Fatalf("unexpected prune result: %v", kept)
	}
}

func TestPruneHandlesIsNull(t *testing.T) {
	files := []map[string]*string{
		{"region": nil},
		{"region": strp("us")},
	}
	kept := Prune(files, []Predicate{{Column: "region", Op: OpEq, Value: nil}})
	if len(kept) != 1 || kept[0] != 0 {
		t.Fatalf("expected only the null row, got %v", kept)
	}
}
