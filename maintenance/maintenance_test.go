package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/dot-do/deltalake-sub003/codec/memcodec"
	"github.com/dot-do/deltalake-sub003/objectstore/mem"
	"github.com/dot-do/deltalake-sub003/schema"
	"github.com/dot-do/deltalake-sub003/table"
)

func testSchema() schema.StructType {
	return schema.StructType{Fields: []schema.Field{
		{Name: "id", Type: schema.String},
		{Name: "amount", Type: schema.Double, Nullable: true},
		{Name: "region", Type: schema.String, Nullable: true},
	}}
}

func newTestTable(t *testing.T, partitionColumns []string) *table.Table {
	t.Helper()
	ctx := context.Background()
	store := mem.New()
	c := memcodec.New()
	tbl, err := table.Create(ctx, store, c, "t", testSchema(), partitionColumns, nil, table.Options{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return tbl
}

func TestCompactMergesSmallFilesWithinPartition(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t, []string{"region"})

	for i := 0; i < 3; i++ {
		if _, err := tbl.Write(ctx, []map[string]any{{"id": string(rune('a' + i)), "region": "us"}}, table.WriteOptions{Operation: "WRITE"}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	metrics, err := Compact(ctx, tbl, CompactionOptions{
		TargetFileSize:        1 << 20,
		MinFilesForCompaction: 2,
		Strategy:              StrategyBinPacking,
		VerifyIntegrity:       true,
	})
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if metrics.FilesCompacted != 3 || metrics.FilesProduced != 1 {
		t.Fatalf("unexpected compaction metrics: %+v", metrics)
	}
	if metrics.Version <= 0 {
		t.Fatalf("expected a new committed version, got %d", metrics.Version)
	}

	got, err := tbl.Query(ctx, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected compaction to preserve all 3 rows, got %d", len(got))
	}
}

func TestCompactSkipsFilesAboveTarget(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t, nil)
	for i := 0; i < 2; i++ {
		if _, err := tbl.Write(ctx, []map[string]any{{"id": string(rune('a' + i))}}, table.WriteOptions{Operation: "WRITE"}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	metrics, err := Compact(ctx, tbl, CompactionOptions{TargetFileSize: 1, MinFilesForCompaction: 2})
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if metrics.FilesSkippedLargeEnough != 2 {
		t.Fatalf("expected both files to be skipped as already large enough, got %+v", metrics)
	}
	if metrics.Version != -1 {
		t.Fatalf("expected no commit when nothing was compacted, got version %d", metrics.Version)
	}
}

func TestCompactDryRunMakesNoChanges(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t, nil)
	for i := 0; i < 2; i++ {
		if _, err := tbl.Write(ctx, []map[string]any{{"id": string(rune('a' + i))}}, table.WriteOptions{Operation: "WRITE"}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	before := tbl.Snapshot().Version

	metrics, err := Compact(ctx, tbl, CompactionOptions{TargetFileSize: 1 << 20, MinFilesForCompaction: 2, DryRun: true})
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if metrics.FilesCompacted != 2 {
		t.Fatalf("expected dry run to still report would-be compaction, got %+v", metrics)
	}
	if metrics.Version != -1 {
		t.Fatalf("expected dry run not to commit, got version %d", metrics.Version)
	}
	if tbl.Snapshot().Version != before {
		t.Fatalf("expected dry run to leave the table version unchanged")
	}
}

func TestDeduplicateKeepsLatestByOrderColumn(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t, nil)
	if _, err := tbl.Write(ctx, []map[string]any{{"id": "1", "amount": float64(10)}}, table.WriteOptions{Operation: "WRITE"}); err != nil {
		t.Fatalf("write 1: %v", err)
	}
	if _, err := tbl.Write(ctx, []map[string]any{{"id": "1", "amount": float64(99)}}, table.WriteOptions{Operation: "WRITE"}); err != nil {
		t.Fatalf("write 2: %v", err)
	}

	metrics, err := Deduplicate(ctx, tbl, DeduplicationOptions{
		PrimaryKey:    []string{"id"},
		KeepStrategy:  KeepLatest,
		OrderByColumn: "amount",
	})
	if err != nil {
		t.Fatalf("deduplicate: %v", err)
	}
	if metrics.RowsRemoved != 1 {
		t.Fatalf("expected 1 row removed, got %+v", metrics)
	}

	got, err := tbl.Query(ctx, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0]["amount"] != float64(99) {
		t.Fatalf("expected the row with the greatest amount to survive, got %+v", got)
	}
}

func TestDeduplicateExactDuplicates(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t, nil)
	if _, err := tbl.Write(ctx, []map[string]any{{"id": "1", "amount": float64(5)}}, table.WriteOptions{Operation: "WRITE"}); err != nil {
		t.Fatalf("write 1: %v", err)
	}
	if _, err := tbl.Write(ctx, []map[string]any{{"id": "1", "amount": float64(5)}}, table.WriteOptions{Operation: "WRITE"}); err != nil {
		t.Fatalf("write 2: %v", err)
	}

	metrics, err := Deduplicate(ctx, tbl, DeduplicationOptions{ExactDuplicates: true, KeepStrategy: KeepFirst})
	if err != nil {
		t.Fatalf("deduplicate: %v", err)
	}
	if metrics.RowsRemoved != 1 {
		t.Fatalf("expected exact-duplicate row to be removed, got %+v", metrics)
	}
}

func TestZOrderPreservesRowCount(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t, nil)
	rows := []map[string]any{
		{"id": "1", "amount": float64(1)},
		{"id": "2", "amount": float64(50)},
		{"id": "3", "amount": float64(25)},
	}
	if _, err := tbl.Write(ctx, rows, table.WriteOptions{Operation: "WRITE"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	metrics, err := ZOrder(ctx, tbl, ZOrderOptions{Columns: []string{"amount"}})
	if err != nil {
		t.Fatalf("zorder: %v", err)
	}
	if metrics.RowsProcessed != 3 {
		t.Fatalf("expected 3 rows processed, got %+v", metrics)
	}
	if metrics.Version <= 0 {
		t.Fatalf("expected a new committed version, got %d", metrics.Version)
	}

	got, err := tbl.Query(ctx, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected z-order to preserve row count, got %d", len(got))
	}
}

func TestVacuumRejectsSubMinimumRetention(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t, nil)
	_, err := Vacuum(ctx, tbl, VacuumOptions{RetentionHours: 0.5})
	if err == nil {
		t.Fatalf("expected a retention violation for a sub-hour retention window")
	}
}

func TestVacuumRespectsRetentionThenDeletesAfterAdvance(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t, nil)
	if _, err := tbl.Write(ctx, []map[string]any{{"id": "1"}}, table.WriteOptions{Operation: "WRITE"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := tbl.Write(ctx, []map[string]any{{"id": "2"}}, table.WriteOptions{Operation: "WRITE", Mode: table.ModeOverwrite}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	immediate, err := Vacuum(ctx, tbl, VacuumOptions{RetentionHours: 168, Now: time.Now()})
	if err != nil {
		t.Fatalf("vacuum: %v", err)
	}
	if immediate.FilesDeleted != 0 {
		t.Fatalf("expected no files deleted within the retention window, got %+v", immediate)
	}
	if immediate.FilesRetained == 0 {
		t.Fatalf("expected the removed file to be retained, got %+v", immediate)
	}

	later, err := Vacuum(ctx, tbl, VacuumOptions{RetentionHours: 168, Now: time.Now().Add(169 * time.Hour)})
	if err != nil {
		t.Fatalf("vacuum later: %v", err)
	}
	if later.FilesDeleted != 1 {
		t.Fatalf("expected exactly 1 file deleted after the retention window passed, got %+v", later)
	}
}

func TestVacuumDryRunReturnsCandidatesWithoutDeleting(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t, nil)
	if _, err := tbl.Write(ctx, []map[string]any{{"id": "1"}}, table.WriteOptions{Operation: "WRITE"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := tbl.Write(ctx, []map[string]any{{"id": "2"}}, table.WriteOptions{Operation: "WRITE", Mode: table.ModeOverwrite}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	metrics, err := Vacuum(ctx, tbl, VacuumOptions{RetentionHours: 1, DryRun: true, Now: time.Now().Add(2 * time.Hour)})
	if err != nil {
		t.Fatalf("vacuum: %v", err)
	}
	if len(metrics.CandidatePaths) != 1 {
		t.Fatalf("expected 1 candidate path, got %+v", metrics.CandidatePaths)
	}
	if metrics.FilesDeleted != 0 {
		t.Fatalf("expected dry run to delete nothing, got %+v", metrics)
	}
}
