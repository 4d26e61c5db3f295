package syncd

import (
	"context"
	"fmt"
	"testing"

	"bitbucket.org/ideiasys/ecomsync_backend/models"
)

func TestLogs_ListFiltersAndClampsLimit(t *testing.T) {
	logs := NewLogs(testAppDB(t), testLogger())
	ctx := context.Background()

	for i := 0; i < 150; i++ {
		err := logs.Append(ctx, LogEntry{
			StoreId:  "store-1",
			SyncType: models.SyncTypeCatalog,
			Action:   "create",
			Status:   models.SyncStatusSuccess,
			Message:  fmt.Sprintf("entry %d", i),
		})
		if err != nil {
			t.Fatalf("append entry %d: %v", i, err)
		}
	}
	err := logs.Append(ctx, LogEntry{
		StoreId:  "store-2",
		SyncType: models.SyncTypeOrders,
		Action:   "import",
		Status:   models.SyncStatusError,
		Message:  "boom",
	})
	if err != nil {
		t.Fatalf("append error entry: %v", err)
	}

	entries, total, err := logs.List(ctx, LogFilters{StoreId: "store-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 150 {
		t.Fatalf("expected total 150 for store-1, got %d", total)
	}
	if len(entries) != 100 {
		t.Fatalf("default page size must clamp to 100, got %d", len(entries))
	}

	errEntries, total, err := logs.List(ctx, LogFilters{Status: models.SyncStatusError})
	if err != nil {
		t.Fatalf("list errors: %v", err)
	}
	if total != 1 || len(errEntries) != 1 || errEntries[0].StoreId != "store-2" {
		t.Fatalf("expected the single error entry, got %d (total %d)", len(errEntries), total)
	}
}

func TestLogs_DetailsAreSerialized(t *testing.T) {
	logs := NewLogs(testAppDB(t), testLogger())
	ctx := context.Background()

	err := logs.Append(ctx, LogEntry{
		StoreId:  "store-1",
		SyncType: models.SyncTypeCatalog,
		Action:   "sync",
		Status:   models.SyncStatusWarning,
		Message:  "partial",
		Details:  map[string]int{"synced": 3, "failed": 1},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, _, err := logs.List(ctx, LogFilters{StoreId: "store-1"})
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one entry, got %d (err %v)", len(entries), err)
	}
	if len(entries[0].DetailsJSON) == 0 {
		t.Fatal("expected details to persist as JSON")
	}
}

func TestJobs_LastSuccessAt(t *testing.T) {
	jobs := NewJobs(testAppDB(t), testLogger())
	ctx := context.Background()

	when, err := jobs.LastSuccessAt(ctx, "store-1", models.SyncTypeCatalog)
	if err != nil {
		t.Fatalf("last success with no jobs: %v", err)
	}
	if when != nil {
		t.Fatal("expected nil with no successful runs")
	}

	failed, _ := jobs.Create(ctx, "store-1", models.SyncTypeCatalog, models.SyncTriggeredCron)
	jobs.Finish(ctx, failed.ID, models.JobStatusFailed, 0, 1, "boom")

	when, err = jobs.LastSuccessAt(ctx, "store-1", models.SyncTypeCatalog)
	if err != nil || when != nil {
		t.Fatalf("failed runs must not count as success, got %v (err %v)", when, err)
	}

	ok, _ := jobs.Create(ctx, "store-1", models.SyncTypeCatalog, models.SyncTriggeredCron)
	jobs.Finish(ctx, ok.ID, models.JobStatusSuccess, 5, 0, "done")

	when, err = jobs.LastSuccessAt(ctx, "store-1", models.SyncTypeCatalog)
	if err != nil {
		t.Fatalf("last success: %v", err)
	}
	if when == nil {
		t.Fatal("expected a timestamp after a successful run")
	}
}
