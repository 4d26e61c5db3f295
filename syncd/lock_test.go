package syncd

import (
	"context"
	"errors"
	"testing"
	"time"

	"bitbucket.org/ideiasys/ecomsync_backend/models"
)

func TestAcquire_MutualExclusion(t *testing.T) {
	m := NewLockManager(testAppDB(t), testLogger())
	ctx := context.Background()

	lease, acquired, err := m.Acquire(ctx, "store-1", models.SyncTypeCatalog)
	if err != nil || !acquired {
		t.Fatalf("first acquire should succeed: acquired=%v err=%v", acquired, err)
	}

	_, again, err := m.Acquire(ctx, "store-1", models.SyncTypeCatalog)
	if err != nil {
		t.Fatalf("held lock must not be an error: %v", err)
	}
	if again {
		t.Fatal("second acquire on a held lock must fail")
	}

	// A different sync type for the same store is an independent key.
	_, other, err := m.Acquire(ctx, "store-1", models.SyncTypeStock)
	if err != nil || !other {
		t.Fatalf("different sync type should acquire: acquired=%v err=%v", other, err)
	}

	lease.ReleaseIfHeld(ctx)
	_, after, err := m.Acquire(ctx, "store-1", models.SyncTypeCatalog)
	if err != nil || !after {
		t.Fatalf("acquire after release should succeed: acquired=%v err=%v", after, err)
	}
}

func TestAcquire_ReclaimsExpiredLock(t *testing.T) {
	db := testAppDB(t)
	m := NewLockManager(db, testLogger())
	ctx := context.Background()

	stale := models.SyncLock{
		StoreId:   "store-1",
		SyncType:  models.SyncTypeCatalog,
		HolderId:  "crashed-holder",
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	if err := db.Create(&stale).Error; err != nil {
		t.Fatalf("seed stale lock: %v", err)
	}

	lease, acquired, err := m.Acquire(ctx, "store-1", models.SyncTypeCatalog)
	if err != nil || !acquired {
		t.Fatalf("expired lock must be reclaimable: acquired=%v err=%v", acquired, err)
	}
	if lease.HolderId == "crashed-holder" {
		t.Fatal("expected a fresh holder id")
	}
}

func TestRenew_FailsAfterTakeover(t *testing.T) {
	db := testAppDB(t)
	m := NewLockManager(db, testLogger())
	ctx := context.Background()

	lease, acquired, err := m.Acquire(ctx, "store-1", models.SyncTypeCatalog)
	if err != nil || !acquired {
		t.Fatalf("acquire: acquired=%v err=%v", acquired, err)
	}

	if err := lease.Renew(ctx); err != nil {
		t.Fatalf("renew while held should succeed: %v", err)
	}

	// Simulate a takeover after expiry: the row now belongs to another holder.
	if err := db.Model(&models.SyncLock{}).
		Where("store_id = ? AND sync_type = ?", "store-1", models.SyncTypeCatalog).
		Update("holder_id", "new-holder").Error; err != nil {
		t.Fatalf("reassign lock: %v", err)
	}

	if err := lease.Renew(ctx); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost after takeover, got %v", err)
	}
}

func TestReleaseIfHeld_NeverDeletesAnotherHolder(t *testing.T) {
	db := testAppDB(t)
	m := NewLockManager(db, testLogger())
	ctx := context.Background()

	lease, _, err := m.Acquire(ctx, "store-1", models.SyncTypeCatalog)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if err := db.Model(&models.SyncLock{}).
		Where("store_id = ? AND sync_type = ?", "store-1", models.SyncTypeCatalog).
		Update("holder_id", "new-holder").Error; err != nil {
		t.Fatalf("reassign lock: %v", err)
	}

	lease.ReleaseIfHeld(ctx)

	var count int64
	db.Model(&models.SyncLock{}).
		Where("store_id = ? AND sync_type = ?", "store-1", models.SyncTypeCatalog).
		Count(&count)
	if count != 1 {
		t.Fatal("a stale release must not delete the new holder's lock")
	}
}
