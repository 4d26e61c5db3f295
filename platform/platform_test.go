package platform

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"bitbucket.org/ideiasys/ecomsync_backend/models"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testAppDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap test db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.PlatformToken{}, &models.SyncMapping{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

// fakeAuth counts network round trips so token reuse can be asserted.
type fakeAuth struct {
	mu           sync.Mutex
	loginCalls   int
	refreshCalls int
	loginData    *TokenData
	refreshData  *TokenData
	loginErr     error
	refreshErr   error
}

func (f *fakeAuth) Login(context.Context, Credentials) (*TokenData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	if f.loginData != nil {
		return f.loginData, nil
	}
	return &TokenData{AccessToken: "login-token", ExpiresIn: 3600, TokenType: "Bearer"}, nil
}

func (f *fakeAuth) Refresh(context.Context, string) (*TokenData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	if f.refreshData != nil {
		return f.refreshData, nil
	}
	return &TokenData{AccessToken: "refreshed-token", ExpiresIn: 3600, TokenType: "Bearer"}, nil
}

// fakeMappings is an in-memory MappingStore; failures are injectable to
// exercise the orphan-mapping path.
type fakeMappings struct {
	mu       sync.Mutex
	data     map[string]string
	setErrs  int
	setCalls int
}

func newFakeMappings() *fakeMappings {
	return &fakeMappings{data: map[string]string{}}
}

func mappingKey(storeId, entityType, erpId, platform string) string {
	return storeId + "|" + entityType + "|" + erpId + "|" + platform
}

func (f *fakeMappings) GetPlatformId(_ context.Context, storeId, entityType, erpId, platform string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[mappingKey(storeId, entityType, erpId, platform)], nil
}

func (f *fakeMappings) SetMapping(_ context.Context, storeId, entityType, erpId, platform, platformId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls++
	if f.setErrs > 0 {
		f.setErrs--
		return errors.New("mapping table locked")
	}
	f.data[mappingKey(storeId, entityType, erpId, platform)] = platformId
	return nil
}
