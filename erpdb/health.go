package erpdb

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultCheckInterval = 5 * time.Minute

// HealthStatus is the last observation of the ERP connection.
type HealthStatus struct {
	Connected bool       `json:"connected"`
	Pool      *PoolStats `json:"pool,omitempty"`
	Warnings  []string   `json:"warnings,omitempty"`
	CheckedAt time.Time  `json:"checked_at"`
}

type poolSource interface {
	IsConnected() bool
	PoolStats() *PoolStats
}

// HealthMonitor samples the ERP connection pool on a fixed interval and
// logs warnings when it looks unhealthy. Start and Stop are idempotent.
type HealthMonitor struct {
	provider poolSource
	logger   *logrus.Logger
	interval time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
	last    *HealthStatus
}

func NewHealthMonitor(provider poolSource, log *logrus.Logger, interval time.Duration) *HealthMonitor {
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &HealthMonitor{provider: provider, logger: log, interval: interval}
}

func (m *HealthMonitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stop, m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		m.CheckHealth()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.CheckHealth()
			case <-stop:
				return
			}
		}
	}()
}

func (m *HealthMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	done := m.done
	m.mu.Unlock()
	<-done
}

// CheckHealth samples the pool now and records the observation.
func (m *HealthMonitor) CheckHealth() HealthStatus {
	status := HealthStatus{
		Connected: m.provider.IsConnected(),
		CheckedAt: time.Now(),
	}
	if !status.Connected {
		status.Warnings = append(status.Warnings, "ERP database is not connected")
	} else {
		status.Pool = m.provider.PoolStats()
		if pool := status.Pool; pool != nil {
			if pool.Total > 0 && float64(pool.Active)/float64(pool.Total) > 0.8 {
				status.Warnings = append(status.Warnings, "ERP connection pool over 80% utilized")
			}
			if pool.Waiting > 0 {
				status.Warnings = append(status.Warnings, "requests waited for an ERP connection since last check")
			}
		}
	}

	for _, warning := range status.Warnings {
		m.logger.WithField("module", "erpdb").Warn(warning)
	}

	m.mu.Lock()
	m.last = &status
	m.mu.Unlock()
	return status
}

// LastStatus returns the most recent observation, nil before the first
// check has run.
func (m *HealthMonitor) LastStatus() *HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil
	}
	copied := *m.last
	return &copied
}
