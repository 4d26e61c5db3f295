package syncd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"bitbucket.org/ideiasys/ecomsync_backend/erpdb"
	"bitbucket.org/ideiasys/ecomsync_backend/models"
	"bitbucket.org/ideiasys/ecomsync_backend/platform"
)

const leaseRenewInterval = 10 * time.Minute

var ErrUnknownSyncType = errors.New("unknown sync type")

// AdapterSource builds the platform adapter for a store. Implemented by
// platform.Factory; tests substitute a fake.
type AdapterSource interface {
	ForStore(store *erpdb.Store) (platform.Adapter, error)
}

// Orchestrator composes the lock manager, the ERP catalog, the platform
// adapters and the audit services into per-store sync runs. Batch runs
// are lease-protected; single-entity manual syncs bypass the lock.
type Orchestrator struct {
	locks    *LockManager
	mappings *MappingService
	logs     *Logs
	jobs     *Jobs
	catalog  *erpdb.Catalog
	adapters AdapterSource
	logger   *logrus.Logger

	renewEvery time.Duration
}

func NewOrchestrator(
	locks *LockManager,
	mappings *MappingService,
	logs *Logs,
	jobs *Jobs,
	catalog *erpdb.Catalog,
	adapters AdapterSource,
	log *logrus.Logger,
) *Orchestrator {
	return &Orchestrator{
		locks:      locks,
		mappings:   mappings,
		logs:       logs,
		jobs:       jobs,
		catalog:    catalog,
		adapters:   adapters,
		logger:     log,
		renewEvery: leaseRenewInterval,
	}
}

// RunSync enqueues a batch run for one store and executes it in the
// background. The caller polls the returned job for progress.
func (o *Orchestrator) RunSync(ctx context.Context, storeId string, syncType string, force bool, triggeredBy string) (*models.SyncJob, error) {
	if !models.ValidSyncType(syncType) {
		return nil, ErrUnknownSyncType
	}
	job, err := o.jobs.Create(ctx, storeId, syncType, triggeredBy)
	if err != nil {
		return nil, err
	}

	go o.runJob(context.Background(), job, force)
	return job, nil
}

// RunSyncAll iterates every active store sequentially for one sync
// type. One store's failure never stops the remaining stores.
func (o *Orchestrator) RunSyncAll(ctx context.Context, syncType string, triggeredBy string) error {
	if !models.ValidSyncType(syncType) {
		return ErrUnknownSyncType
	}

	stores, err := o.catalog.ListStores(ctx)
	if err != nil {
		if erpdb.IsConnectionError(err) {
			o.logger.WithField("module", "syncd").Error(erpdb.FormatConnectionError(err, syncType))
		} else {
			o.logger.WithField("module", "syncd").WithError(err).Error("could not list stores for sync")
		}
		return err
	}
	if len(stores) == 0 {
		o.logger.WithFields(logrus.Fields{
			"module":    "syncd",
			"sync_type": syncType,
		}).Warn("no active stores to sync")
		return nil
	}

	for _, store := range stores {
		job, err := o.jobs.Create(ctx, store.Id, syncType, triggeredBy)
		if err != nil {
			o.logger.WithField("module", "syncd").WithError(err).Error("could not create sync job")
			continue
		}
		o.runJob(ctx, job, false)
	}
	return nil
}

// runJob is the lease-protected state machine for one (store, type) run:
// lock, execute, log, rollup, release.
func (o *Orchestrator) runJob(ctx context.Context, job *models.SyncJob, force bool) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.WithFields(logrus.Fields{
				"module":    "syncd",
				"store_id":  job.StoreId,
				"sync_type": job.SyncType,
			}).Errorf("sync run panicked: %v", r)
			o.jobs.Finish(ctx, job.ID, models.JobStatusFailed, 0, 0, fmt.Sprintf("sync run panicked: %v", r))
		}
	}()

	lease, acquired, err := o.locks.Acquire(ctx, job.StoreId, job.SyncType)
	if err != nil {
		o.jobs.Finish(ctx, job.ID, models.JobStatusFailed, 0, 0, fmt.Sprintf("could not acquire sync lock: %v", err))
		return
	}
	if !acquired {
		o.logger.WithFields(logrus.Fields{
			"module":    "syncd",
			"store_id":  job.StoreId,
			"sync_type": job.SyncType,
		}).Warn("sync already in progress, skipping")
		o.jobs.Finish(ctx, job.ID, models.JobStatusFailed, 0, 0, "sync already in progress for this store")
		return
	}
	defer lease.ReleaseIfHeld(ctx)

	// Long catalog runs outlive a static TTL; renew the lease while the
	// run is alive so a second trigger cannot steal the key mid-run.
	done := make(chan struct{})
	defer close(done)
	go o.keepLeaseAlive(ctx, lease, done)

	if err := o.jobs.MarkRunning(ctx, job.ID); err != nil {
		o.logger.WithField("module", "syncd").WithError(err).Warn("could not mark job running")
	}

	started := time.Now()
	result, err := o.execute(ctx, job.StoreId, job.SyncType, force)
	if err != nil {
		message := err.Error()
		if erpdb.IsConnectionError(err) {
			message = erpdb.FormatConnectionError(err, job.SyncType)
			o.logger.WithField("module", "syncd").Error(message)
		} else {
			o.logger.WithFields(logrus.Fields{
				"module":    "syncd",
				"store_id":  job.StoreId,
				"sync_type": job.SyncType,
			}).WithError(err).Error("sync run failed")
		}
		o.logs.AppendBestEffort(ctx, LogEntry{
			StoreId:  job.StoreId,
			SyncType: job.SyncType,
			Action:   "sync",
			Status:   models.SyncStatusError,
			Message:  message,
		})
		o.jobs.Finish(ctx, job.ID, models.JobStatusFailed, result.synced, result.failed, message)
		return
	}

	status := models.JobStatusSuccess
	logStatus := models.SyncStatusSuccess
	switch {
	case result.failed > 0 && result.synced > 0:
		status = models.JobStatusPartial
		logStatus = models.SyncStatusWarning
	case result.failed > 0:
		status = models.JobStatusFailed
		logStatus = models.SyncStatusError
	}
	message := fmt.Sprintf("sync %s completed: %d synced, %d failed in %s",
		job.SyncType, result.synced, result.failed, time.Since(started).Round(time.Millisecond))

	o.logs.AppendBestEffort(ctx, LogEntry{
		StoreId:  job.StoreId,
		SyncType: job.SyncType,
		Action:   "sync",
		Status:   logStatus,
		Message:  message,
		Details:  map[string]int{"synced": result.synced, "failed": result.failed, "total": result.total},
	})
	o.jobs.Finish(ctx, job.ID, status, result.synced, result.failed, message)
}

func (o *Orchestrator) keepLeaseAlive(ctx context.Context, lease *Lease, done <-chan struct{}) {
	ticker := time.NewTicker(o.renewEvery)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := lease.Renew(ctx); err != nil {
				o.logger.WithFields(logrus.Fields{
					"module":    "syncd",
					"store_id":  lease.StoreId,
					"sync_type": lease.SyncType,
				}).WithError(err).Error("could not renew sync lease")
				return
			}
		}
	}
}

type runResult struct {
	synced int
	failed int
	total  int
}

func (o *Orchestrator) execute(ctx context.Context, storeId string, syncType string, force bool) (runResult, error) {
	store, adapter, err := o.storeAdapter(ctx, storeId)
	if err != nil {
		return runResult{}, err
	}

	switch syncType {
	case models.SyncTypeCatalog:
		return o.syncCatalog(ctx, store, adapter, force)
	case models.SyncTypePrices:
		return o.syncPrices(ctx, store, adapter)
	case models.SyncTypeStock:
		return o.syncStock(ctx, store, adapter)
	case models.SyncTypeOrders:
		return o.syncOrders(ctx, store, adapter)
	}
	return runResult{}, ErrUnknownSyncType
}

func (o *Orchestrator) storeAdapter(ctx context.Context, storeId string) (*erpdb.Store, platform.Adapter, error) {
	store, err := o.catalog.GetStore(ctx, storeId)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, fmt.Errorf("store %s not found or inactive", storeId)
	}
	if store.BaseUrl == nil || *store.BaseUrl == "" {
		return nil, nil, fmt.Errorf("store %s has no urlbase configured", storeId)
	}
	if store.ApiKey == nil || *store.ApiKey == "" {
		return nil, nil, fmt.Errorf("store %s has no apikey configured", storeId)
	}

	adapter, err := o.adapters.ForStore(store)
	if err != nil {
		return nil, nil, err
	}
	return store, adapter, nil
}

// syncCatalog pushes eligible products to the platform, one adapter
// call per product, sequentially. A forced run sends everything; a
// scheduled run only products modified since the last successful run.
func (o *Orchestrator) syncCatalog(ctx context.Context, store *erpdb.Store, adapter platform.Adapter, force bool) (runResult, error) {
	var since *time.Time
	if !force {
		lastSuccess, err := o.jobs.LastSuccessAt(ctx, store.Id, models.SyncTypeCatalog)
		if err == nil {
			since = lastSuccess
		}
	}

	products, err := o.catalog.ProductsNeedingSync(ctx, store.Id, since)
	if err != nil {
		return runResult{}, err
	}

	o.logger.WithFields(logrus.Fields{
		"module":   "syncd",
		"store_id": store.Id,
		"count":    len(products),
	}).Info("starting catalog sync")

	result := runResult{total: len(products)}
	for _, record := range products {
		dto := productDTO(record)
		platformId, err := adapter.CreateProduct(ctx, dto)
		if err != nil {
			result.failed++
			o.logs.AppendBestEffort(ctx, LogEntry{
				StoreId:    store.Id,
				SyncType:   models.SyncTypeCatalog,
				Action:     "create",
				EntityType: models.EntityTypeProduct,
				EntityId:   record.Product.Id,
				Status:     models.SyncStatusError,
				Message:    err.Error(),
			})
			continue
		}
		result.synced++
		o.logger.WithFields(logrus.Fields{
			"module":      "syncd",
			"store_id":    store.Id,
			"produto_id":  record.Product.Id,
			"platform_id": platformId,
		}).Debug("product synced")
	}
	return result, nil
}

// syncPrices pushes the resolved price for every mapped product.
// Unmapped products are skipped with a warning; they belong to the next
// catalog run, not this one.
func (o *Orchestrator) syncPrices(ctx context.Context, store *erpdb.Store, adapter platform.Adapter) (runResult, error) {
	return o.syncMappedField(ctx, store, adapter, models.SyncTypePrices,
		func(ctx context.Context, platformId string, record erpdb.ProductSyncData) error {
			return adapter.SyncPrice(ctx, platformId, record.Price)
		})
}

// syncStock pushes the stock quantity for every mapped product.
func (o *Orchestrator) syncStock(ctx context.Context, store *erpdb.Store, adapter platform.Adapter) (runResult, error) {
	return o.syncMappedField(ctx, store, adapter, models.SyncTypeStock,
		func(ctx context.Context, platformId string, record erpdb.ProductSyncData) error {
			return adapter.SyncStock(ctx, platformId, record.Stock)
		})
}

func (o *Orchestrator) syncMappedField(
	ctx context.Context,
	store *erpdb.Store,
	adapter platform.Adapter,
	syncType string,
	push func(ctx context.Context, platformId string, record erpdb.ProductSyncData) error,
) (runResult, error) {
	products, err := o.catalog.EligibleProducts(ctx, store.Id)
	if err != nil {
		return runResult{}, err
	}

	platformName := storePlatform(store)
	result := runResult{total: len(products)}
	for _, record := range products {
		platformId, err := o.mappings.GetPlatformId(ctx, store.Id, models.EntityTypeProduct, record.Product.Id, platformName)
		if err != nil {
			return result, err
		}
		if platformId == "" {
			o.logger.WithFields(logrus.Fields{
				"module":     "syncd",
				"store_id":   store.Id,
				"produto_id": record.Product.Id,
			}).Warn("product has no platform mapping yet, skipping")
			continue
		}
		if err := push(ctx, platformId, record); err != nil {
			result.failed++
			o.logs.AppendBestEffort(ctx, LogEntry{
				StoreId:    store.Id,
				SyncType:   syncType,
				Action:     "update",
				EntityType: models.EntityTypeProduct,
				EntityId:   record.Product.Id,
				Status:     models.SyncStatusError,
				Message:    err.Error(),
			})
			continue
		}
		result.synced++
	}
	return result, nil
}

// syncOrders pulls new orders from the platform since the last
// successful run and records them in the audit trail.
func (o *Orchestrator) syncOrders(ctx context.Context, store *erpdb.Store, adapter platform.Adapter) (runResult, error) {
	since, err := o.jobs.LastSuccessAt(ctx, store.Id, models.SyncTypeOrders)
	if err != nil {
		return runResult{}, err
	}

	orders, err := adapter.GetOrders(ctx, platform.OrderFilters{Since: since})
	if err != nil {
		return runResult{}, err
	}

	result := runResult{total: len(orders)}
	for _, order := range orders {
		o.logs.AppendBestEffort(ctx, LogEntry{
			StoreId:    store.Id,
			SyncType:   models.SyncTypeOrders,
			Action:     "import",
			EntityType: models.EntityTypeOrder,
			EntityId:   order.OrderId,
			Status:     models.SyncStatusSuccess,
			Message:    fmt.Sprintf("order %s received (%s %s)", order.OrderId, order.Total, order.Currency),
			Details:    order,
		})
		result.synced++
	}
	return result, nil
}

// SyncProductById pushes one product immediately, bypassing the store
// lock. Manual, operator-driven path.
func (o *Orchestrator) SyncProductById(ctx context.Context, storeId string, productId string) (string, error) {
	store, adapter, err := o.storeAdapter(ctx, storeId)
	if err != nil {
		return "", err
	}

	record, err := o.catalog.GetProductById(ctx, storeId, productId)
	if err != nil {
		return "", err
	}
	if record == nil {
		return "", fmt.Errorf("product %s is not eligible for store %s", productId, storeId)
	}

	platformId, err := adapter.CreateProduct(ctx, productDTO(*record))
	if err != nil {
		o.logs.AppendBestEffort(ctx, LogEntry{
			StoreId:    store.Id,
			SyncType:   models.SyncTypeCatalog,
			Action:     "create",
			EntityType: models.EntityTypeProduct,
			EntityId:   productId,
			Status:     models.SyncStatusError,
			Message:    err.Error(),
		})
		return "", err
	}

	o.logs.AppendBestEffort(ctx, LogEntry{
		StoreId:    store.Id,
		SyncType:   models.SyncTypeCatalog,
		Action:     "create",
		EntityType: models.EntityTypeProduct,
		EntityId:   productId,
		Status:     models.SyncStatusSuccess,
		Message:    fmt.Sprintf("product synced manually (platform id %s)", platformId),
	})
	return platformId, nil
}

// SyncOrderById fetches one order immediately, bypassing the store lock.
func (o *Orchestrator) SyncOrderById(ctx context.Context, storeId string, orderId string) (*platform.OrderDTO, error) {
	store, adapter, err := o.storeAdapter(ctx, storeId)
	if err != nil {
		return nil, err
	}

	order, err := adapter.GetOrderById(ctx, orderId)
	if err != nil {
		return nil, err
	}

	o.logs.AppendBestEffort(ctx, LogEntry{
		StoreId:    store.Id,
		SyncType:   models.SyncTypeOrders,
		Action:     "import",
		EntityType: models.EntityTypeOrder,
		EntityId:   order.OrderId,
		Status:     models.SyncStatusSuccess,
		Message:    fmt.Sprintf("order %s fetched manually", order.OrderId),
		Details:    order,
	})
	return order, nil
}

func productDTO(record erpdb.ProductSyncData) platform.ProductDTO {
	dto := platform.ProductDTO{
		ErpId: record.Product.Id,
		Name:  "Sem nome",
		Price: record.Price,
		Stock: record.Stock,
	}
	if record.Product.Name != nil && *record.Product.Name != "" {
		dto.Name = *record.Product.Name
	}
	if record.Product.LongWebText != nil && *record.Product.LongWebText != "" {
		dto.Description = *record.Product.LongWebText
	} else if record.Product.ShortWebText != nil {
		dto.Description = *record.Product.ShortWebText
	}
	if record.Product.Code != nil {
		dto.Code = *record.Product.Code
	}
	if record.Category != nil && record.Category.Name != nil {
		dto.Category = *record.Category.Name
	}
	if record.Brand != nil && record.Brand.Name != nil {
		dto.Brand = *record.Brand.Name
	}
	return dto
}

func storePlatform(store *erpdb.Store) string {
	if store.PlatformName != nil {
		return platform.Normalize(*store.PlatformName)
	}
	return models.PlatformOpenCart
}
