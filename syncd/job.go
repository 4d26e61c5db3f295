package syncd

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/ideiasys/ecomsync_backend/models"
)

// Jobs persists sync runs so triggers become enqueue-and-poll: the HTTP
// caller gets the job id back immediately and polls while the run
// proceeds in the background.
type Jobs struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewJobs(db *gorm.DB, log *logrus.Logger) *Jobs {
	return &Jobs{db: db, logger: log}
}

func (j *Jobs) Create(ctx context.Context, storeId string, syncType string, triggeredBy string) (*models.SyncJob, error) {
	job := models.SyncJob{
		StoreId:     storeId,
		SyncType:    syncType,
		Status:      models.JobStatusQueued,
		TriggeredBy: triggeredBy,
	}
	if err := j.db.WithContext(ctx).Create(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (j *Jobs) Get(ctx context.Context, id uint) (*models.SyncJob, error) {
	var job models.SyncJob
	err := j.db.WithContext(ctx).Take(&job, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

func (j *Jobs) MarkRunning(ctx context.Context, id uint) error {
	now := time.Now()
	return j.db.WithContext(ctx).
		Model(&models.SyncJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.JobStatusRunning,
			"started_at": now,
		}).Error
}

// Finish closes the job with its rollup status and counters.
func (j *Jobs) Finish(ctx context.Context, id uint, status string, synced int, errorCount int, message string) {
	now := time.Now()
	var job models.SyncJob
	if err := j.db.WithContext(ctx).Take(&job, id).Error; err != nil {
		j.logger.WithField("module", "syncd").WithError(err).Warn("could not load job to finish")
		return
	}

	durationMs := int64(0)
	if job.StartedAt != nil {
		durationMs = now.Sub(*job.StartedAt).Milliseconds()
	}
	err := j.db.WithContext(ctx).
		Model(&models.SyncJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":         status,
			"records_synced": synced,
			"error_count":    errorCount,
			"message":        message,
			"finished_at":    now,
			"duration_ms":    durationMs,
		}).Error
	if err != nil {
		j.logger.WithField("module", "syncd").WithError(err).Warn("could not finish job")
	}
}

// LastSuccessAt returns when the last fully successful run of this
// (store, sync type) finished, nil when there has never been one.
func (j *Jobs) LastSuccessAt(ctx context.Context, storeId string, syncType string) (*time.Time, error) {
	var job models.SyncJob
	err := j.db.WithContext(ctx).
		Where("store_id = ? AND sync_type = ? AND status = ?", storeId, syncType, models.JobStatusSuccess).
		Order("finished_at DESC").
		Take(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return job.FinishedAt, nil
}

// ListRecent returns the newest jobs for the dashboard.
func (j *Jobs) ListRecent(ctx context.Context, storeId string, limit int) ([]models.SyncJob, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := j.db.WithContext(ctx).Model(&models.SyncJob{})
	if storeId != "" {
		query = query.Where("store_id = ?", storeId)
	}
	var jobs []models.SyncJob
	err := query.Order("created_at DESC").Limit(limit).Find(&jobs).Error
	return jobs, err
}
