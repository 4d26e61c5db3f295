package syncd

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"bitbucket.org/ideiasys/ecomsync_backend/erpdb"
	"bitbucket.org/ideiasys/ecomsync_backend/models"
	"bitbucket.org/ideiasys/ecomsync_backend/platform"
	"bitbucket.org/ideiasys/ecomsync_backend/settings"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func openMemoryDB(t *testing.T, migrate func(*gorm.DB) error) *gorm.DB {
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
	if err := migrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func testAppDB(t *testing.T) *gorm.DB {
	return openMemoryDB(t, func(db *gorm.DB) error {
		return db.AutoMigrate(
			&models.SyncLock{},
			&models.SyncMapping{},
			&models.SyncLog{},
			&models.SyncJob{},
		)
	})
}

type fixedErpConfig struct{}

func (fixedErpConfig) GetErpDbConfig(context.Context) (settings.ErpDbConfig, error) {
	return settings.ErpDbConfig{}, nil
}

// testErpProvider opens an in-memory database shaped like the ERP
// schema and wraps it in a provider the catalog can use.
func testErpProvider(t *testing.T) (*erpdb.Provider, *gorm.DB) {
	t.Helper()
	db := openMemoryDB(t, func(db *gorm.DB) error {
		return db.AutoMigrate(
			&erpdb.Store{},
			&erpdb.Product{},
			&erpdb.Category{},
			&erpdb.Brand{},
			&erpdb.ProductCharacteristic{},
			&erpdb.ProductPrice{},
			&erpdb.ProductStock{},
		)
	})
	provider := erpdb.NewProvider(fixedErpConfig{}, testLogger(),
		erpdb.WithOpener(func(settings.ErpDbConfig) (*gorm.DB, error) { return db, nil }))
	if _, err := provider.DB(context.Background()); err != nil {
		t.Fatalf("wrap erp handle: %v", err)
	}
	return provider, db
}

func strPtr(s string) *string { return &s }

func seedErpStore(t *testing.T, db *gorm.DB, id string) {
	t.Helper()
	store := erpdb.Store{
		Id:               id,
		CompanyId:        strPtr("company-1"),
		Name:             strPtr("Loja " + id),
		BaseUrl:          strPtr("https://shop.example.com"),
		ApiUser:          strPtr("sync"),
		ApiKey:           strPtr("key"),
		PlatformName:     strPtr("OpenCart"),
		StockId:          strPtr("stock-1"),
		PriceListId:      strPtr("pricelist-1"),
		CharacteristicId: strPtr("car-1"),
	}
	if err := db.Create(&store).Error; err != nil {
		t.Fatalf("seed store: %v", err)
	}
}

func seedErpProduct(t *testing.T, db *gorm.DB, id string, updatedAt *time.Time) {
	t.Helper()
	product := erpdb.Product{
		Id:        id,
		CompanyId: "company-1",
		Name:      strPtr("Produto " + id),
		UpdatedAt: updatedAt,
	}
	if err := db.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	link := erpdb.ProductCharacteristic{
		Id:               "link-" + id,
		ProductId:        id,
		CharacteristicId: "car-1",
	}
	if err := db.Create(&link).Error; err != nil {
		t.Fatalf("seed link: %v", err)
	}
}

var errProductRejected = errors.New("platform rejected the product")

// fakeAdapter records calls; CreateProduct can be made to block or fail
// per product id.
type fakeAdapter struct {
	mu          sync.Mutex
	created     []string
	prices      []string
	stocks      []string
	failIds     map[string]bool
	blockCh     chan struct{}
	inCall      chan struct{}
	orders      []platform.OrderDTO
	inCallClose sync.Once
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{failIds: map[string]bool{}}
}

func (f *fakeAdapter) CreateProduct(_ context.Context, data platform.ProductDTO) (string, error) {
	if f.inCall != nil {
		f.inCallClose.Do(func() { close(f.inCall) })
	}
	if f.blockCh != nil {
		<-f.blockCh
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIds[data.ErpId] {
		return "", errProductRejected
	}
	f.created = append(f.created, data.ErpId)
	return "oc-" + data.ErpId, nil
}

func (f *fakeAdapter) UpdateProduct(context.Context, string, platform.ProductDTO) error { return nil }

func (f *fakeAdapter) SyncStock(_ context.Context, platformId string, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stocks = append(f.stocks, platformId)
	return nil
}

func (f *fakeAdapter) SyncPrice(_ context.Context, platformId string, _ decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices = append(f.prices, platformId)
	return nil
}

func (f *fakeAdapter) GetOrders(context.Context, platform.OrderFilters) ([]platform.OrderDTO, error) {
	return f.orders, nil
}

func (f *fakeAdapter) GetOrderById(_ context.Context, orderId string) (*platform.OrderDTO, error) {
	return &platform.OrderDTO{OrderId: orderId, Total: decimal.NewFromInt(10), Currency: "BRL"}, nil
}

func (f *fakeAdapter) CheckHealth(context.Context) platform.Health {
	return platform.Health{OK: true, CheckedAt: time.Now()}
}

func (f *fakeAdapter) createdIds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.created))
	copy(out, f.created)
	return out
}

type fakeFactory struct {
	adapter platform.Adapter
}

func (f *fakeFactory) ForStore(*erpdb.Store) (platform.Adapter, error) {
	return f.adapter, nil
}

// testOrchestrator assembles the full stack on in-memory databases.
func testOrchestrator(t *testing.T, adapter platform.Adapter) (*Orchestrator, *Jobs, *Logs, *MappingService, *gorm.DB) {
	t.Helper()
	appDB := testAppDB(t)
	provider, erpDB := testErpProvider(t)

	catalog := erpdb.NewCatalog(provider, testLogger())
	mappings := NewMappingService(appDB, testLogger())
	logs := NewLogs(appDB, testLogger())
	jobs := NewJobs(appDB, testLogger())
	locks := NewLockManager(appDB, testLogger())

	o := NewOrchestrator(locks, mappings, logs, jobs, catalog, &fakeFactory{adapter: adapter}, testLogger())
	return o, jobs, logs, mappings, erpDB
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
