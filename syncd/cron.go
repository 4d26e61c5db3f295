package syncd

import (
	"context"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"bitbucket.org/ideiasys/ecomsync_backend/models"
	"bitbucket.org/ideiasys/ecomsync_backend/utils"
)

// TriggerStatus describes one scheduled sync trigger for the dashboard.
type TriggerStatus struct {
	Scheduled bool   `json:"scheduled"`
	Schedule  string `json:"schedule"`
	Running   bool   `json:"running"`
}

// CronDriver fires the batch sync triggers on their schedules. A short
// redislock per trigger keeps two replicas from firing the same batch
// at the same moment; without redis the dedup degrades to in-process
// only, which the store-level lease still covers.
type CronDriver struct {
	orchestrator *Orchestrator
	locker       *redislock.Client
	logger       *logrus.Logger
	cron         *cron.Cron

	mu        sync.Mutex
	schedules map[string]string
	running   map[string]bool
}

func NewCronDriver(orchestrator *Orchestrator, locker *redislock.Client, log *logrus.Logger) *CronDriver {
	return &CronDriver{
		orchestrator: orchestrator,
		locker:       locker,
		logger:       log,
		cron:         cron.New(),
		schedules:    map[string]string{},
		running:      map[string]bool{},
	}
}

// Start registers the four sync schedules from env and begins firing.
func (d *CronDriver) Start() error {
	triggers := []struct {
		syncType string
		envKey   string
		def      string
	}{
		{models.SyncTypeCatalog, "CRON_SYNC_PRODUCTS", "0 */6 * * *"},
		{models.SyncTypePrices, "CRON_SYNC_PRICES", "0 */2 * * *"},
		{models.SyncTypeStock, "CRON_SYNC_STOCK", "*/15 * * * *"},
		{models.SyncTypeOrders, "CRON_SYNC_ORDERS", "*/5 * * * *"},
	}

	for _, trigger := range triggers {
		syncType := trigger.syncType
		schedule := utils.StringFromEnv(trigger.envKey, trigger.def)
		if _, err := d.cron.AddFunc(schedule, func() { d.fire(syncType) }); err != nil {
			return err
		}
		d.mu.Lock()
		d.schedules[syncType] = schedule
		d.mu.Unlock()
	}

	d.cron.Start()
	d.logger.WithFields(logrus.Fields{
		"module":    "syncd",
		"schedules": d.Status(),
	}).Info("cron jobs configured")
	return nil
}

// Stop halts the scheduler and waits for a firing trigger to return.
func (d *CronDriver) Stop() {
	<-d.cron.Stop().Done()
}

// RunNow fires one trigger immediately, for the debug endpoint.
func (d *CronDriver) RunNow(syncType string) error {
	if !models.ValidSyncType(syncType) {
		return ErrUnknownSyncType
	}
	d.fire(syncType)
	return nil
}

func (d *CronDriver) fire(syncType string) {
	ctx := context.Background()

	if d.locker != nil {
		lock, err := d.locker.Obtain(ctx, "cron:sync:"+syncType, 30*time.Second, nil)
		if err == redislock.ErrNotObtained {
			d.logger.WithFields(logrus.Fields{
				"module":    "syncd",
				"sync_type": syncType,
			}).Debug("another replica fired this trigger, skipping")
			return
		}
		if err == nil {
			defer lock.Release(ctx)
		}
		// A redis error falls through: the store-level lease still
		// guarantees mutual exclusion per store.
	}

	d.setRunning(syncType, true)
	defer d.setRunning(syncType, false)

	d.logger.WithFields(logrus.Fields{
		"module":    "syncd",
		"sync_type": syncType,
	}).Info("cron trigger fired")

	if err := d.orchestrator.RunSyncAll(ctx, syncType, models.SyncTriggeredCron); err != nil {
		d.logger.WithFields(logrus.Fields{
			"module":    "syncd",
			"sync_type": syncType,
		}).WithError(err).Error("cron sync sweep failed")
	}
}

func (d *CronDriver) setRunning(syncType string, value bool) {
	d.mu.Lock()
	d.running[syncType] = value
	d.mu.Unlock()
}

// Status reports every registered trigger.
func (d *CronDriver) Status() map[string]TriggerStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	status := make(map[string]TriggerStatus, len(d.schedules))
	for syncType, schedule := range d.schedules {
		status[syncType] = TriggerStatus{
			Scheduled: true,
			Schedule:  schedule,
			Running:   d.running[syncType],
		}
	}
	return status
}
