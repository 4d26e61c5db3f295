package syncd

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/ideiasys/ecomsync_backend/models"
	"bitbucket.org/ideiasys/ecomsync_backend/utils"
)

// MappingService persists the ERP-id to platform-id correspondence.
// Pure upsert-by-natural-key storage; the decision logic (create vs
// update) lives in the adapters that consult it.
type MappingService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewMappingService(db *gorm.DB, log *logrus.Logger) *MappingService {
	return &MappingService{db: db, logger: log}
}

// GetPlatformId returns the mapped platform id, empty when unmapped.
func (s *MappingService) GetPlatformId(ctx context.Context, storeId string, entityType string, erpId string, platform string) (string, error) {
	var mapping models.SyncMapping
	err := s.db.WithContext(ctx).
		Where("store_id = ? AND entity_type = ? AND erp_id = ? AND platform = ?",
			storeId, entityType, erpId, platform).
		Take(&mapping).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return mapping.PlatformId, nil
}

// SetMapping upserts by the natural key.
func (s *MappingService) SetMapping(ctx context.Context, storeId string, entityType string, erpId string, platform string, platformId string) error {
	update := func() error {
		return s.db.WithContext(ctx).
			Model(&models.SyncMapping{}).
			Where("store_id = ? AND entity_type = ? AND erp_id = ? AND platform = ?",
				storeId, entityType, erpId, platform).
			Update("platform_id", platformId).Error
	}

	var existing models.SyncMapping
	err := s.db.WithContext(ctx).
		Where("store_id = ? AND entity_type = ? AND erp_id = ? AND platform = ?",
			storeId, entityType, erpId, platform).
		Take(&existing).Error
	if err == nil {
		return update()
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	mapping := models.SyncMapping{
		StoreId:    storeId,
		EntityType: entityType,
		ErpId:      erpId,
		Platform:   platform,
		PlatformId: platformId,
	}
	err = s.db.WithContext(ctx).Create(&mapping).Error
	if utils.IsDuplicateKeyError(err) {
		// Lost the insert race; the row exists now, overwrite it.
		return update()
	}
	return err
}

func (s *MappingService) RemoveMapping(ctx context.Context, storeId string, entityType string, erpId string, platform string) error {
	err := s.db.WithContext(ctx).
		Where("store_id = ? AND entity_type = ? AND erp_id = ? AND platform = ?",
			storeId, entityType, erpId, platform).
		Delete(&models.SyncMapping{}).Error
	if err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"module":      "syncd",
		"store_id":    storeId,
		"entity_type": entityType,
		"erp_id":      erpId,
	}).Info("mapping removed")
	return nil
}
