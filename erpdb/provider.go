package erpdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bitbucket.org/ideiasys/ecomsync_backend/settings"
)

const (
	defaultRetryDelay     = 5 * time.Second
	defaultMaxOpenConns   = 10
	defaultConnectTimeout = 10 * time.Second
)

// ConfigSource yields the current ERP connection target. Implemented by
// settings.Service; tests substitute a fixture.
type ConfigSource interface {
	GetErpDbConfig(ctx context.Context) (settings.ErpDbConfig, error)
}

// OpenFunc dials an ERP database handle for the given target.
type OpenFunc func(cfg settings.ErpDbConfig) (*gorm.DB, error)

// PoolStats is a point-in-time snapshot of the ERP connection pool.
type PoolStats struct {
	Total   int   `json:"total"`
	Active  int   `json:"active"`
	Idle    int   `json:"idle"`
	Waiting int64 `json:"waiting"`
}

// Provider owns the single shared connection to the operator's ERP
// database. The connection is dialed lazily on first use and attempts
// are throttled so a dead server does not get hammered on every request.
type Provider struct {
	config ConfigSource
	logger *logrus.Logger
	open   OpenFunc

	mu            sync.Mutex
	db            *gorm.DB
	connecting    bool
	lastAttempt   time.Time
	retryDelay    time.Duration
	lastWaitCount int64
}

type ProviderOption func(*Provider)

// WithOpener replaces the dial function, used by tests to point the
// provider at an in-memory database.
func WithOpener(open OpenFunc) ProviderOption {
	return func(p *Provider) { p.open = open }
}

func WithRetryDelay(d time.Duration) ProviderOption {
	return func(p *Provider) { p.retryDelay = d }
}

func NewProvider(config ConfigSource, log *logrus.Logger, opts ...ProviderOption) *Provider {
	p := &Provider{
		config:     config,
		logger:     log,
		open:       openMySQL,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EnsureConnection dials the ERP database if no handle is live yet.
// Concurrent callers never stack connection attempts: while one dial is
// in flight, or within the throttle window after a failure, callers get
// an UnavailableError immediately.
func (p *Provider) EnsureConnection(ctx context.Context) error {
	p.mu.Lock()
	if p.db != nil {
		p.mu.Unlock()
		return nil
	}
	if p.connecting {
		p.mu.Unlock()
		return NewUnavailableError("connection attempt already in progress", nil)
	}
	if !p.lastAttempt.IsZero() && time.Since(p.lastAttempt) < p.retryDelay {
		p.mu.Unlock()
		return NewUnavailableError(
			fmt.Sprintf("last attempt failed less than %s ago", p.retryDelay), nil)
	}
	p.connecting = true
	p.lastAttempt = time.Now()
	p.mu.Unlock()

	cfg, err := p.config.GetErpDbConfig(ctx)
	if err != nil {
		p.finishAttempt(nil)
		return NewUnavailableError("connection settings incomplete", err)
	}

	handle, err := p.open(cfg)
	if err != nil {
		p.finishAttempt(nil)
		p.logger.WithFields(logrus.Fields{
			"module": "erpdb",
			"host":   cfg.Host,
			"port":   cfg.Port,
		}).WithError(err).Error("ERP database connection failed")
		return NewUnavailableError("dial failed", err)
	}

	p.finishAttempt(handle)
	p.logger.WithFields(logrus.Fields{
		"module":   "erpdb",
		"host":     cfg.Host,
		"port":     cfg.Port,
		"database": cfg.Database,
	}).Info("ERP database connected")
	return nil
}

func (p *Provider) finishAttempt(handle *gorm.DB) {
	p.mu.Lock()
	p.connecting = false
	p.db = handle
	p.mu.Unlock()
}

// DB returns the live handle, dialing first if needed.
func (p *Provider) DB(ctx context.Context) (*gorm.DB, error) {
	if err := p.EnsureConnection(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil, NewUnavailableError("no live connection", nil)
	}
	return p.db, nil
}

func (p *Provider) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.db != nil
}

// Reconnect drops the current handle and dials again with fresh
// settings, bypassing the failure throttle. Called after ERP connection
// settings change.
func (p *Provider) Reconnect(ctx context.Context) error {
	p.Disconnect()
	p.mu.Lock()
	p.lastAttempt = time.Time{}
	p.mu.Unlock()
	return p.EnsureConnection(ctx)
}

// Disconnect closes the handle if one is live. Safe to call repeatedly.
func (p *Provider) Disconnect() {
	p.mu.Lock()
	handle := p.db
	p.db = nil
	p.lastWaitCount = 0
	p.mu.Unlock()

	if handle == nil {
		return
	}
	if sqlDB, err := handle.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			p.logger.WithField("module", "erpdb").WithError(err).Warn("error closing ERP connection")
		}
	}
}

// PoolStats reports pool usage for the current handle, nil when
// disconnected. Waiting is the number of waits since the previous call.
func (p *Provider) PoolStats() *PoolStats {
	p.mu.Lock()
	handle := p.db
	p.mu.Unlock()
	if handle == nil {
		return nil
	}
	sqlDB, err := handle.DB()
	if err != nil {
		return nil
	}
	stats := sqlDB.Stats()

	p.mu.Lock()
	waiting := stats.WaitCount - p.lastWaitCount
	p.lastWaitCount = stats.WaitCount
	p.mu.Unlock()

	return &PoolStats{
		Total:   stats.OpenConnections,
		Active:  stats.InUse,
		Idle:    stats.Idle,
		Waiting: waiting,
	}
}

func openMySQL(cfg settings.ErpDbConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, defaultConnectTimeout)

	handle, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := handle.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(defaultMaxOpenConns)
	sqlDB.SetMaxIdleConns(defaultMaxOpenConns / 2)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return handle, nil
}
