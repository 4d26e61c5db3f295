package syncd

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/ideiasys/ecomsync_backend/models"
)

// LogEntry is one sync audit event before persistence.
type LogEntry struct {
	StoreId    string
	SyncType   string
	Action     string
	EntityType string
	EntityId   string
	Status     string
	Message    string
	Details    interface{}
}

// LogFilters narrows and pages the log listing.
type LogFilters struct {
	StoreId  string
	SyncType string
	Status   string
	Limit    int
	Page     int
}

// Logs appends to and reads the persisted sync audit trail.
type Logs struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewLogs(db *gorm.DB, log *logrus.Logger) *Logs {
	return &Logs{db: db, logger: log}
}

// Append writes one audit row and mirrors it to the process log at a
// level matching the entry status.
func (l *Logs) Append(ctx context.Context, entry LogEntry) error {
	row := models.SyncLog{
		StoreId:    entry.StoreId,
		SyncType:   entry.SyncType,
		Action:     entry.Action,
		EntityType: entry.EntityType,
		EntityId:   entry.EntityId,
		Status:     entry.Status,
		Message:    entry.Message,
	}
	if entry.Details != nil {
		if raw, err := json.Marshal(entry.Details); err == nil {
			row.DetailsJSON = raw
		}
	}

	fields := logrus.Fields{
		"module":    "syncd",
		"store_id":  entry.StoreId,
		"sync_type": entry.SyncType,
		"entity_id": entry.EntityId,
	}
	switch entry.Status {
	case models.SyncStatusError:
		l.logger.WithFields(fields).Error(entry.Message)
	case models.SyncStatusWarning:
		l.logger.WithFields(fields).Warn(entry.Message)
	default:
		l.logger.WithFields(fields).Info(entry.Message)
	}

	return l.db.WithContext(ctx).Create(&row).Error
}

// AppendBestEffort swallows persistence failures; used where the audit
// write must never mask the original error (the app DB may itself be
// the thing that is down).
func (l *Logs) AppendBestEffort(ctx context.Context, entry LogEntry) {
	if err := l.Append(ctx, entry); err != nil {
		l.logger.WithField("module", "syncd").WithError(err).Debug("could not persist sync log entry")
	}
}

// List returns a page of log rows, newest first, with the total count.
func (l *Logs) List(ctx context.Context, filters LogFilters) ([]models.SyncLog, int64, error) {
	query := l.db.WithContext(ctx).Model(&models.SyncLog{})
	if filters.StoreId != "" {
		query = query.Where("store_id = ?", filters.StoreId)
	}
	if filters.SyncType != "" {
		query = query.Where("sync_type = ?", filters.SyncType)
	}
	if filters.Status != "" {
		query = query.Where("status = ?", filters.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filters.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := 0
	if filters.Page > 1 {
		offset = (filters.Page - 1) * limit
	}

	var rows []models.SyncLog
	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
