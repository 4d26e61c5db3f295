package syncd

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/ideiasys/ecomsync_backend/models"
	"bitbucket.org/ideiasys/ecomsync_backend/utils"
)

const defaultLockTTL = 30 * time.Minute

// ErrLeaseLost is returned by Renew when the lease row no longer
// belongs to this holder.
var ErrLeaseLost = errors.New("sync lease lost")

// Lease is a held sync lock. It is fenced by holder id: Renew and
// ReleaseIfHeld only act on the row while this holder still owns it, so
// a stale release can never delete a newer holder's lock.
type Lease struct {
	StoreId   string
	SyncType  string
	HolderId  string
	ExpiresAt time.Time

	manager *LockManager
}

// LockManager hands out time-bounded (store, sync type) leases backed
// by sync_lock rows. The unique index on (store_id, sync_type) is the
// exclusion primitive: acquiring is an insert, and losing the insert
// race means the lock is held by someone else.
type LockManager struct {
	db     *gorm.DB
	logger *logrus.Logger
	ttl    time.Duration
}

func NewLockManager(db *gorm.DB, log *logrus.Logger) *LockManager {
	return &LockManager{db: db, logger: log, ttl: defaultLockTTL}
}

// Acquire tries to take the lease for (storeId, syncType). A held lock
// is not an error: the caller gets (nil, false, nil) and skips.
func (m *LockManager) Acquire(ctx context.Context, storeId string, syncType string) (*Lease, bool, error) {
	// Purge the lazily expired row first so a crashed holder does not
	// block the key past its TTL.
	err := m.db.WithContext(ctx).
		Where("store_id = ? AND sync_type = ? AND expires_at < ?", storeId, syncType, time.Now()).
		Delete(&models.SyncLock{}).Error
	if err != nil {
		return nil, false, err
	}

	row := models.SyncLock{
		StoreId:   storeId,
		SyncType:  syncType,
		HolderId:  uuid.NewString(),
		ExpiresAt: time.Now().Add(m.ttl),
	}
	if err := m.db.WithContext(ctx).Create(&row).Error; err != nil {
		if utils.IsDuplicateKeyError(err) {
			m.logger.WithFields(logrus.Fields{
				"module":    "syncd",
				"store_id":  storeId,
				"sync_type": syncType,
			}).Warn("sync lock already held")
			return nil, false, nil
		}
		return nil, false, err
	}

	m.logger.WithFields(logrus.Fields{
		"module":    "syncd",
		"store_id":  storeId,
		"sync_type": syncType,
		"holder_id": row.HolderId,
	}).Info("sync lock acquired")

	return &Lease{
		StoreId:   storeId,
		SyncType:  syncType,
		HolderId:  row.HolderId,
		ExpiresAt: row.ExpiresAt,
		manager:   m,
	}, true, nil
}

// Renew extends the lease by a full TTL. Failing to renew means another
// holder took over after this lease expired mid-run.
func (l *Lease) Renew(ctx context.Context) error {
	expiresAt := time.Now().Add(l.manager.ttl)
	res := l.manager.db.WithContext(ctx).
		Model(&models.SyncLock{}).
		Where("store_id = ? AND sync_type = ? AND holder_id = ?", l.StoreId, l.SyncType, l.HolderId).
		Update("expires_at", expiresAt)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLeaseLost
	}
	l.ExpiresAt = expiresAt
	return nil
}

// ReleaseIfHeld deletes the lock row only while this holder owns it.
// Best-effort: a failure is logged, not propagated, since the TTL will
// reclaim the row anyway.
func (l *Lease) ReleaseIfHeld(ctx context.Context) {
	res := l.manager.db.WithContext(ctx).
		Where("store_id = ? AND sync_type = ? AND holder_id = ?", l.StoreId, l.SyncType, l.HolderId).
		Delete(&models.SyncLock{})
	if res.Error != nil {
		l.manager.logger.WithFields(logrus.Fields{
			"module":    "syncd",
			"store_id":  l.StoreId,
			"sync_type": l.SyncType,
		}).WithError(res.Error).Warn("could not release sync lock")
		return
	}
	if res.RowsAffected > 0 {
		l.manager.logger.WithFields(logrus.Fields{
			"module":    "syncd",
			"store_id":  l.StoreId,
			"sync_type": l.SyncType,
		}).Info("sync lock released")
	}
}
