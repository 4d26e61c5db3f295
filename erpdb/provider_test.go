package erpdb

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"bitbucket.org/ideiasys/ecomsync_backend/settings"
)

func TestProvider_SettingsErrorreportsUnavailable(t *testing.T) {
	p := NewProvider(staticConfig{err: errors.New("ERP database configuration incomplete, missing: ERP_DB_HOST")},
		testLogger(), WithOpener(sqliteOpener))

	err := p.EnsureConnection(context.Background())
	if err == nil {
		t.Fatal("expected an error when settings are incomplete")
	}
	if !IsUnavailable(err) {
		t.Fatalf("expected UnavailableError, got %T: %v", err, err)
	}
	if p.IsConnected() {
		t.Fatal("provider should not report connected")
	}
}

func TestProvider_ThrottlesFailedAttempts(t *testing.T) {
	dials := 0
	failing := func(settings.ErpDbConfig) (*gorm.DB, error) {
		dials++
		return nil, errors.New("connection refused")
	}
	p := NewProvider(staticConfig{}, testLogger(),
		WithOpener(failing), WithRetryDelay(time.Hour))

	if err := p.EnsureConnection(context.Background()); !IsUnavailable(err) {
		t.Fatalf("expected UnavailableError on dial failure, got %v", err)
	}
	if dials != 1 {
		t.Fatalf("expected 1 dial, got %d", dials)
	}

	// Within the retry window the provider must not dial again.
	if err := p.EnsureConnection(context.Background()); !IsUnavailable(err) {
		t.Fatalf("expected UnavailableError inside throttle window, got %v", err)
	}
	if dials != 1 {
		t.Fatalf("expected throttled attempt to skip the dial, got %d dials", dials)
	}
}

func TestProvider_ReconnectBypassesThrottle(t *testing.T) {
	dials := 0
	flaky := func(cfg settings.ErpDbConfig) (*gorm.DB, error) {
		dials++
		if dials == 1 {
			return nil, errors.New("connection refused")
		}
		return sqliteOpener(cfg)
	}
	p := NewProvider(staticConfig{}, testLogger(),
		WithOpener(flaky), WithRetryDelay(time.Hour))

	if err := p.EnsureConnection(context.Background()); err == nil {
		t.Fatal("expected first dial to fail")
	}
	if err := p.Reconnect(context.Background()); err != nil {
		t.Fatalf("reconnect should bypass the throttle: %v", err)
	}
	if !p.IsConnected() {
		t.Fatal("provider should report connected after reconnect")
	}
	if dials != 2 {
		t.Fatalf("expected 2 dials, got %d", dials)
	}
	p.Disconnect()
}

func TestProvider_DBDialsLazilyAndReusesHandle(t *testing.T) {
	dials := 0
	opener := func(cfg settings.ErpDbConfig) (*gorm.DB, error) {
		dials++
		return sqliteOpener(cfg)
	}
	p := NewProvider(staticConfig{}, testLogger(), WithOpener(opener))
	t.Cleanup(p.Disconnect)

	first, err := p.DB(context.Background())
	if err != nil {
		t.Fatalf("first DB call: %v", err)
	}
	second, err := p.DB(context.Background())
	if err != nil {
		t.Fatalf("second DB call: %v", err)
	}
	if first != second {
		t.Fatal("expected the same handle on repeated calls")
	}
	if dials != 1 {
		t.Fatalf("expected a single dial, got %d", dials)
	}

	stats := p.PoolStats()
	if stats == nil {
		t.Fatal("expected pool stats while connected")
	}

	p.Disconnect()
	if p.PoolStats() != nil {
		t.Fatal("expected nil pool stats after disconnect")
	}
}
