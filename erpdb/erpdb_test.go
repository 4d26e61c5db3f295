package erpdb

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"bitbucket.org/ideiasys/ecomsync_backend/settings"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type staticConfig struct {
	cfg settings.ErpDbConfig
	err error
}

func (s staticConfig) GetErpDbConfig(context.Context) (settings.ErpDbConfig, error) {
	return s.cfg, s.err
}

// sqliteOpener dials an in-memory database shaped like the ERP schema.
// A single connection keeps every query on the same :memory: instance.
func sqliteOpener(settings.ErpDbConfig) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&Store{},
		&Product{},
		&Category{},
		&Brand{},
		&ProductCharacteristic{},
		&ProductPrice{},
		&ProductStock{},
		&User{},
		&SessionToken{},
	)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func testProvider(t *testing.T) (*Provider, *gorm.DB) {
	t.Helper()
	p := NewProvider(staticConfig{}, testLogger(), WithOpener(sqliteOpener))
	db, err := p.DB(context.Background())
	if err != nil {
		t.Fatalf("open test erp db: %v", err)
	}
	t.Cleanup(p.Disconnect)
	return p, db
}

func strPtr(s string) *string { return &s }
