package erpdb

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func seedStore(t *testing.T, db *gorm.DB, characteristicId string) Store {
	t.Helper()
	store := Store{
		Id:           "store-1",
		CompanyId:    strPtr("company-1"),
		Name:         strPtr("Loja Principal"),
		BaseUrl:      strPtr("https://shop.example.com"),
		ApiKey:       strPtr("key"),
		PlatformName: strPtr("OpenCart"),
		StockId:      strPtr("stock-1"),
		PriceListId:  strPtr("pricelist-1"),
	}
	if characteristicId != "" {
		store.CharacteristicId = strPtr(characteristicId)
	}
	if err := db.Create(&store).Error; err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return store
}

func seedProduct(t *testing.T, db *gorm.DB, id string, characteristicId string, updatedAt *time.Time) {
	t.Helper()
	product := Product{
		Id:        id,
		CompanyId: "company-1",
		Name:      strPtr("Produto " + id),
		UpdatedAt: updatedAt,
	}
	if err := db.Create(&product).Error; err != nil {
		t.Fatalf("seed product %s: %v", id, err)
	}
	if characteristicId != "" {
		link := ProductCharacteristic{
			Id:               "link-" + id,
			ProductId:        id,
			CharacteristicId: characteristicId,
		}
		if err := db.Create(&link).Error; err != nil {
			t.Fatalf("seed characteristic link %s: %v", id, err)
		}
	}
}

func TestEligibleProducts_NoCharacteristicConfigured(t *testing.T) {
	provider, db := testProvider(t)
	seedStore(t, db, "")
	seedProduct(t, db, "prod-1", "car-1", nil)

	catalog := NewCatalog(provider, testLogger())

	products, err := catalog.EligibleProducts(context.Background(), "store-1")
	if err != nil {
		t.Fatalf("expected no error for an unconfigured store, got %v", err)
	}
	if len(products) != 0 {
		t.Fatalf("expected an empty catalog, got %d products", len(products))
	}
}

func TestEligibleProducts_MissingPriceAndStockDefaultToZero(t *testing.T) {
	provider, db := testProvider(t)
	seedStore(t, db, "car-1")
	seedProduct(t, db, "prod-1", "car-1", nil)

	catalog := NewCatalog(provider, testLogger())
	products, err := catalog.EligibleProducts(context.Background(), "store-1")
	if err != nil {
		t.Fatalf("eligible products: %v", err)
	}
	if len(products) != 1 {
		t.Fatalf("expected 1 product, got %d", len(products))
	}
	if !products[0].Price.IsZero() {
		t.Fatalf("expected zero price, got %s", products[0].Price)
	}
	if products[0].Stock != 0 {
		t.Fatalf("expected zero stock, got %d", products[0].Stock)
	}
}

func TestEligibleProducts_FinalPriceWinsOverSalePrice(t *testing.T) {
	provider, db := testProvider(t)
	seedStore(t, db, "car-1")
	seedProduct(t, db, "prod-1", "car-1", nil)
	seedProduct(t, db, "prod-2", "car-1", nil)

	prices := []ProductPrice{
		{
			Id:          "price-1",
			ProductId:   "prod-1",
			PriceListId: "pricelist-1",
			SalePrice:   decimal.NewNullDecimal(decimal.NewFromFloat(10)),
			FinalPrice:  decimal.NewNullDecimal(decimal.NewFromFloat(12.5)),
		},
		{
			Id:          "price-2",
			ProductId:   "prod-2",
			PriceListId: "pricelist-1",
			SalePrice:   decimal.NewNullDecimal(decimal.NewFromFloat(33)),
		},
	}
	for i := range prices {
		if err := db.Create(&prices[i]).Error; err != nil {
			t.Fatalf("seed price: %v", err)
		}
	}
	stock := ProductStock{
		StockId:   "stock-1",
		CompanyId: "company-1",
		ProductId: "prod-1",
		Quantity:  decimal.NewNullDecimal(decimal.NewFromInt(7)),
	}
	if err := db.Create(&stock).Error; err != nil {
		t.Fatalf("seed stock: %v", err)
	}

	catalog := NewCatalog(provider, testLogger())
	products, err := catalog.EligibleProducts(context.Background(), "store-1")
	if err != nil {
		t.Fatalf("eligible products: %v", err)
	}

	byId := map[string]ProductSyncData{}
	for _, p := range products {
		byId[p.Product.Id] = p
	}
	if got := byId["prod-1"].Price.String(); got != "12.5" {
		t.Fatalf("expected precofinal 12.5 for prod-1, got %s", got)
	}
	if byId["prod-1"].Stock != 7 {
		t.Fatalf("expected stock 7 for prod-1, got %d", byId["prod-1"].Stock)
	}
	if got := byId["prod-2"].Price.String(); got != "33" {
		t.Fatalf("expected precovenda 33 for prod-2, got %s", got)
	}
}

func TestProductsNeedingSync_NullTimestampAlwaysIncluded(t *testing.T) {
	provider, db := testProvider(t)
	seedStore(t, db, "car-1")

	since := time.Now()
	old := since.Add(-48 * time.Hour)
	fresh := since.Add(time.Hour)
	seedProduct(t, db, "prod-never", "car-1", nil)
	seedProduct(t, db, "prod-old", "car-1", &old)
	seedProduct(t, db, "prod-fresh", "car-1", &fresh)

	catalog := NewCatalog(provider, testLogger())
	products, err := catalog.ProductsNeedingSync(context.Background(), "store-1", &since)
	if err != nil {
		t.Fatalf("products needing sync: %v", err)
	}

	got := map[string]bool{}
	for _, p := range products {
		got[p.Product.Id] = true
	}
	if !got["prod-never"] {
		t.Fatal("product without dataalterado must be included")
	}
	if got["prod-old"] {
		t.Fatal("product modified before the cutoff must be excluded")
	}
	if !got["prod-fresh"] {
		t.Fatal("product modified after the cutoff must be included")
	}

	all, err := catalog.ProductsNeedingSync(context.Background(), "store-1", nil)
	if err != nil {
		t.Fatalf("products needing sync without cutoff: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("nil cutoff must include everything, got %d of 3", len(all))
	}
}

func TestGetProductById_RequiresCharacteristicLink(t *testing.T) {
	provider, db := testProvider(t)
	seedStore(t, db, "car-1")
	seedProduct(t, db, "prod-linked", "car-1", nil)
	seedProduct(t, db, "prod-unlinked", "", nil)

	catalog := NewCatalog(provider, testLogger())

	linked, err := catalog.GetProductById(context.Background(), "store-1", "prod-linked")
	if err != nil {
		t.Fatalf("get linked product: %v", err)
	}
	if linked == nil {
		t.Fatal("expected the linked product to resolve")
	}

	unlinked, err := catalog.GetProductById(context.Background(), "store-1", "prod-unlinked")
	if err != nil {
		t.Fatalf("get unlinked product: %v", err)
	}
	if unlinked != nil {
		t.Fatal("expected nil for a product without the store characteristic")
	}
}

