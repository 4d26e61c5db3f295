package platform

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/ideiasys/ecomsync_backend/models"
	"bitbucket.org/ideiasys/ecomsync_backend/utils"
)

// tokenSafetyMargin is subtracted from the stored expiry so a token is
// never handed out moments before the platform rejects it.
const tokenSafetyMargin = 5 * time.Minute

// TokenManager caches platform tokens in the app database, one row per
// (store, platform). The resolution order is reuse, refresh, re-login;
// a total failure yields ok=false rather than an error so callers
// report "authentication failed" without unwrapping.
type TokenManager struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewTokenManager(db *gorm.DB, log *logrus.Logger) *TokenManager {
	return &TokenManager{db: db, logger: log}
}

// GetValidToken returns a usable access token for the store's platform.
func (m *TokenManager) GetValidToken(ctx context.Context, storeId string, platform string, auth AuthAdapter, credentials Credentials) (string, bool) {
	record, err := m.find(ctx, storeId, platform)
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"module":   "platform",
			"store_id": storeId,
			"platform": platform,
		}).WithError(err).Error("error loading platform token")
		return "", false
	}

	if record != nil && tokenUsable(record.AccessToken, record.ExpiresAt) {
		return record.AccessToken, true
	}

	if auth == nil {
		return "", false
	}

	if record != nil && tokenUsable(record.RefreshToken, record.RefreshExpiresAt) {
		m.logger.WithFields(logrus.Fields{
			"module":   "platform",
			"store_id": storeId,
			"platform": platform,
		}).Info("token expired, attempting refresh")
		if data, err := auth.Refresh(ctx, record.RefreshToken); err == nil {
			if err := m.save(ctx, storeId, platform, data); err != nil {
				m.logger.WithError(err).Error("error saving refreshed token")
				return "", false
			}
			return data.AccessToken, true
		} else {
			m.logger.WithFields(logrus.Fields{
				"module":   "platform",
				"store_id": storeId,
				"platform": platform,
			}).WithError(err).Warn("refresh failed, performing new login")
		}
	}

	data, err := auth.Login(ctx, credentials)
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"module":   "platform",
			"store_id": storeId,
			"platform": platform,
		}).WithError(err).Error("platform login failed")
		return "", false
	}
	if err := m.save(ctx, storeId, platform, data); err != nil {
		m.logger.WithError(err).Error("error saving platform token")
		return "", false
	}
	return data.AccessToken, true
}

// Invalidate expires the stored access token so the next resolution
// refreshes or re-logs in. Used after a platform 401.
func (m *TokenManager) Invalidate(ctx context.Context, storeId string, platform string) {
	err := m.db.WithContext(ctx).
		Model(&models.PlatformToken{}).
		Where("store_id = ? AND platform = ?", storeId, platform).
		Update("expires_at", time.Unix(0, 0)).Error
	if err != nil {
		m.logger.WithError(err).Warn("error invalidating platform token")
	}
}

// Delete removes the token row entirely (logout / store removal).
func (m *TokenManager) Delete(ctx context.Context, storeId string, platform string) error {
	return m.db.WithContext(ctx).
		Where("store_id = ? AND platform = ?", storeId, platform).
		Delete(&models.PlatformToken{}).Error
}

func (m *TokenManager) find(ctx context.Context, storeId string, platform string) (*models.PlatformToken, error) {
	var record models.PlatformToken
	err := m.db.WithContext(ctx).
		Where("store_id = ? AND platform = ?", storeId, platform).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (m *TokenManager) save(ctx context.Context, storeId string, platform string, data *TokenData) error {
	now := time.Now()
	expiresAt := now.Add(time.Duration(data.ExpiresIn) * time.Second)
	refreshExpiresAt := now.Add(time.Duration(data.RefreshExpiresIn) * time.Second)

	existing, err := m.find(ctx, storeId, platform)
	if err != nil {
		return err
	}
	if existing != nil {
		existing.AccessToken = data.AccessToken
		existing.RefreshToken = data.RefreshToken
		existing.ExpiresAt = expiresAt
		existing.RefreshExpiresAt = refreshExpiresAt
		existing.TokenType = data.TokenType
		return m.db.WithContext(ctx).Save(existing).Error
	}

	record := models.PlatformToken{
		StoreId:          storeId,
		Platform:         platform,
		AccessToken:      data.AccessToken,
		RefreshToken:     data.RefreshToken,
		ExpiresAt:        expiresAt,
		RefreshExpiresAt: refreshExpiresAt,
		TokenType:        data.TokenType,
	}
	err = m.db.WithContext(ctx).Create(&record).Error
	if utils.IsDuplicateKeyError(err) {
		// Concurrent save won the insert; overwrite its values.
		return m.db.WithContext(ctx).
			Model(&models.PlatformToken{}).
			Where("store_id = ? AND platform = ?", storeId, platform).
			Updates(map[string]interface{}{
				"access_token":       data.AccessToken,
				"refresh_token":      data.RefreshToken,
				"expires_at":         expiresAt,
				"refresh_expires_at": refreshExpiresAt,
				"token_type":         data.TokenType,
			}).Error
	}
	return err
}

func tokenUsable(token string, expiresAt time.Time) bool {
	if token == "" || expiresAt.IsZero() {
		return false
	}
	return time.Now().Before(expiresAt.Add(-tokenSafetyMargin))
}
