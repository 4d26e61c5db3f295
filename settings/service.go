package settings

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"bitbucket.org/ideiasys/ecomsync_backend/models"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	KeyErpDbHost     = "ERP_DB_HOST"
	KeyErpDbPort     = "ERP_DB_PORT"
	KeyErpDbUser     = "ERP_DB_USER"
	KeyErpDbPassword = "ERP_DB_PASSWORD"
	KeyErpDbName     = "ERP_DB_NAME"
	KeySessionSecret = "SESSION_SECRET"
)

const maskedValue = "********"

var ErrSessionSecretMissing = errors.New("SESSION_SECRET not found in settings database")

// ErpDbConfig is the connection target for the operator's ERP database.
type ErpDbConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// Service is the persisted key/value configuration store. Secret-classed
// values are masked on read and never logged in plaintext.
type Service struct {
	db       *gorm.DB
	logger   *logrus.Logger
	validate *validator.Validate
}

func NewService(db *gorm.DB, logger *logrus.Logger) *Service {
	return &Service{
		db:       db,
		logger:   logger,
		validate: validator.New(),
	}
}

// EnsureDefaults seeds the ERP connection settings and a random session
// secret at boot when absent. Existing values are never overwritten.
func (s *Service) EnsureDefaults(ctx context.Context) error {
	defaults := []models.Setting{
		{Key: KeyErpDbHost, Value: "localhost"},
		{Key: KeyErpDbPort, Value: "3306"},
		{Key: KeyErpDbUser, Value: "root"},
		{Key: KeyErpDbPassword, Value: ""},
		{Key: KeyErpDbName, Value: "ideiaerp"},
		{Key: KeySessionSecret, Value: randomSecret()},
	}

	for _, def := range defaults {
		var existing models.Setting
		err := s.db.WithContext(ctx).Where("setting_key = ?", def.Key).Take(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := s.db.WithContext(ctx).Create(&def).Error; err != nil {
			return err
		}
		s.logger.WithFields(logrus.Fields{"key": def.Key}).Debug("created default setting")
	}

	s.logger.Info("settings defaults ensured")
	return nil
}

// GetAll returns every setting ordered by key, with secret values masked.
func (s *Service) GetAll(ctx context.Context) ([]models.Setting, error) {
	var list []models.Setting
	if err := s.db.WithContext(ctx).Order("setting_key ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	for i := range list {
		if IsSecretKey(list[i].Key) && list[i].Value != "" {
			list[i].Value = maskedValue
		}
	}
	return list, nil
}

// GetByKey returns one setting with secrets masked, or nil when absent.
func (s *Service) GetByKey(ctx context.Context, key string) (*models.Setting, error) {
	setting, err := s.getRaw(ctx, key)
	if err != nil || setting == nil {
		return nil, err
	}
	if IsSecretKey(setting.Key) && setting.Value != "" {
		masked := *setting
		masked.Value = maskedValue
		return &masked, nil
	}
	return setting, nil
}

// Set validates and upserts a setting.
func (s *Service) Set(ctx context.Context, key string, value string) (*models.Setting, error) {
	if err := s.validateSetting(key, value); err != nil {
		return nil, err
	}

	setting, err := s.getRaw(ctx, key)
	if err != nil {
		return nil, err
	}
	if setting == nil {
		setting = &models.Setting{Key: key, Value: value}
		if err := s.db.WithContext(ctx).Create(setting).Error; err != nil {
			return nil, err
		}
	} else {
		setting.Value = value
		if err := s.db.WithContext(ctx).Model(setting).Update("value", value).Error; err != nil {
			return nil, err
		}
	}

	logged := value
	if IsSecretKey(key) {
		logged = maskedValue
	}
	s.logger.WithFields(logrus.Fields{"key": key, "value": logged}).Info("setting updated")
	return setting, nil
}

// Delete removes a setting, reporting whether a row existed.
func (s *Service) Delete(ctx context.Context, key string) (bool, error) {
	res := s.db.WithContext(ctx).Where("setting_key = ?", key).Delete(&models.Setting{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// GetErpDbConfig assembles the ERP connection target from settings.
// Errors when any required key is absent or empty.
func (s *Service) GetErpDbConfig(ctx context.Context) (ErpDbConfig, error) {
	var list []models.Setting
	if err := s.db.WithContext(ctx).Where("setting_key LIKE ?", "ERP_DB_%").Find(&list).Error; err != nil {
		return ErpDbConfig{}, err
	}

	values := map[string]string{}
	for _, setting := range list {
		values[setting.Key] = setting.Value
	}

	missing := []string{}
	for _, key := range []string{KeyErpDbHost, KeyErpDbPort, KeyErpDbUser, KeyErpDbPassword, KeyErpDbName} {
		if strings.TrimSpace(values[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return ErpDbConfig{}, fmt.Errorf("ERP database configuration incomplete, missing: %s", strings.Join(missing, ", "))
	}

	port, err := strconv.Atoi(strings.TrimSpace(values[KeyErpDbPort]))
	if err != nil {
		return ErpDbConfig{}, fmt.Errorf("%s is not a number: %q", KeyErpDbPort, values[KeyErpDbPort])
	}

	return ErpDbConfig{
		Host:     values[KeyErpDbHost],
		Port:     port,
		User:     values[KeyErpDbUser],
		Password: values[KeyErpDbPassword],
		Database: values[KeyErpDbName],
	}, nil
}

// GetSessionSecret fails instead of falling back to a default secret.
func (s *Service) GetSessionSecret(ctx context.Context) (string, error) {
	setting, err := s.getRaw(ctx, KeySessionSecret)
	if err != nil {
		return "", err
	}
	if setting == nil || setting.Value == "" {
		return "", ErrSessionSecretMissing
	}
	return setting.Value, nil
}

func (s *Service) getRaw(ctx context.Context, key string) (*models.Setting, error) {
	var setting models.Setting
	err := s.db.WithContext(ctx).Where("setting_key = ?", key).Take(&setting).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &setting, nil
}

func (s *Service) validateSetting(key string, value string) error {
	if key != KeyErpDbPassword {
		if err := s.validate.Var(value, "required"); err != nil {
			return fmt.Errorf("setting %s cannot be empty", key)
		}
	}

	if key == KeyErpDbPort {
		port, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%s must be a number", KeyErpDbPort)
		}
		if err := s.validate.Var(port, "min=1,max=65535"); err != nil {
			return fmt.Errorf("%s must be between 1 and 65535", KeyErpDbPort)
		}
	}

	return nil
}

// IsSecretKey reports whether the setting's value must be masked on read.
func IsSecretKey(key string) bool {
	switch key {
	case KeyErpDbPassword, KeySessionSecret:
		return true
	}
	return false
}

// IsErpDbKey reports whether changing the setting requires an ERP reconnect.
func IsErpDbKey(key string) bool {
	return strings.HasPrefix(key, "ERP_DB_")
}

func randomSecret() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return hex.EncodeToString([]byte("ecomsync-fallback-secret"))
	}
	return hex.EncodeToString(buf)
}
