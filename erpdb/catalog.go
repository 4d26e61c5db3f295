package erpdb

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ProductSyncData bundles a product with the price and stock resolved
// for one specific store.
type ProductSyncData struct {
	Product  Product
	Category *Category
	Brand    *Brand
	Price    decimal.Decimal
	Stock    int64
}

// Catalog answers read queries against the ERP product tables. Every
// query starts from lojavirtual: the store row decides which price
// list, stock location and characteristic tag apply.
type Catalog struct {
	provider *Provider
	logger   *logrus.Logger
}

func NewCatalog(provider *Provider, log *logrus.Logger) *Catalog {
	return &Catalog{provider: provider, logger: log}
}

// GetStore loads a non-deleted store row, nil when absent.
func (c *Catalog) GetStore(ctx context.Context, storeId string) (*Store, error) {
	db, err := c.provider.DB(ctx)
	if err != nil {
		return nil, err
	}

	var store Store
	err = db.WithContext(ctx).
		Where("lojavirtual_id = ?", storeId).
		Where("flagexcluido = 0 OR flagexcluido IS NULL").
		Take(&store).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.logger.WithFields(logrus.Fields{
				"module":   "erpdb",
				"store_id": storeId,
			}).Warn("store not found or inactive")
			return nil, nil
		}
		return nil, err
	}
	return &store, nil
}

// ListStores returns every active store, for the scheduled sync sweep.
func (c *Catalog) ListStores(ctx context.Context) ([]Store, error) {
	db, err := c.provider.DB(ctx)
	if err != nil {
		return nil, err
	}

	var stores []Store
	err = db.WithContext(ctx).
		Where("flagexcluido = 0 OR flagexcluido IS NULL").
		Order("nome ASC").
		Find(&stores).Error
	if err != nil {
		return nil, err
	}
	return stores, nil
}

// EligibleProducts returns the products carrying the store's
// characteristic tag, each enriched with price and stock. A store with
// no tag configured has an empty catalog, which is not an error.
func (c *Catalog) EligibleProducts(ctx context.Context, storeId string) ([]ProductSyncData, error) {
	store, err := c.GetStore(ctx, storeId)
	if err != nil {
		return nil, err
	}
	if store == nil || store.CharacteristicId == nil || *store.CharacteristicId == "" {
		c.logger.WithFields(logrus.Fields{
			"module":   "erpdb",
			"store_id": storeId,
		}).Warn("store has no product characteristic configured")
		return []ProductSyncData{}, nil
	}

	db, err := c.provider.DB(ctx)
	if err != nil {
		return nil, err
	}

	var links []ProductCharacteristic
	err = db.WithContext(ctx).
		Where("caracteristicaproduto_id = ?", *store.CharacteristicId).
		Where("flagexcluido = 0").
		Find(&links).Error
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return []ProductSyncData{}, nil
	}

	ids := make([]string, 0, len(links))
	for _, link := range links {
		if link.ProductId != "" {
			ids = append(ids, link.ProductId)
		}
	}

	var products []Product
	err = db.WithContext(ctx).
		Where("produto_id IN ?", ids).
		Where("flagexcluido = 0").
		Find(&products).Error
	if err != nil {
		return nil, err
	}

	result := make([]ProductSyncData, 0, len(products))
	for _, product := range products {
		data, err := c.enrich(ctx, db, store, product)
		if err != nil {
			return nil, err
		}
		result = append(result, data)
	}
	return result, nil
}

// GetProductById resolves one product for a store, nil when the product
// is deleted or does not carry the store's characteristic tag.
func (c *Catalog) GetProductById(ctx context.Context, storeId string, productId string) (*ProductSyncData, error) {
	store, err := c.GetStore(ctx, storeId)
	if err != nil {
		return nil, err
	}
	if store == nil || store.CharacteristicId == nil || *store.CharacteristicId == "" {
		return nil, nil
	}

	db, err := c.provider.DB(ctx)
	if err != nil {
		return nil, err
	}

	var link ProductCharacteristic
	err = db.WithContext(ctx).
		Where("produto_id = ?", productId).
		Where("caracteristicaproduto_id = ?", *store.CharacteristicId).
		Where("flagexcluido = 0").
		Take(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.logger.WithFields(logrus.Fields{
				"module":     "erpdb",
				"store_id":   storeId,
				"product_id": productId,
			}).Warn("product does not carry the store characteristic")
			return nil, nil
		}
		return nil, err
	}

	var product Product
	err = db.WithContext(ctx).
		Where("produto_id = ?", productId).
		Where("flagexcluido = 0").
		Take(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	data, err := c.enrich(ctx, db, store, product)
	if err != nil {
		return nil, err
	}
	return &data, nil
}

// ProductsNeedingSync filters eligible products by dataalterado.
// Products without a modification timestamp are always included; they
// have never been synced.
func (c *Catalog) ProductsNeedingSync(ctx context.Context, storeId string, since *time.Time) ([]ProductSyncData, error) {
	all, err := c.EligibleProducts(ctx, storeId)
	if err != nil {
		return nil, err
	}
	if since == nil {
		return all, nil
	}

	filtered := make([]ProductSyncData, 0, len(all))
	for _, item := range all {
		if item.Product.UpdatedAt == nil || !item.Product.UpdatedAt.Before(*since) {
			filtered = append(filtered, item)
		}
	}
	return filtered, nil
}

// enrich resolves price and stock for one product. A missing price or
// stock row defaults to zero rather than excluding the product.
func (c *Catalog) enrich(ctx context.Context, db *gorm.DB, store *Store, product Product) (ProductSyncData, error) {
	data := ProductSyncData{Product: product, Price: decimal.Zero}

	if store.PriceListId != nil && *store.PriceListId != "" {
		var price ProductPrice
		err := db.WithContext(ctx).
			Where("produto_id = ?", product.Id).
			Where("tabelapreco_id = ?", *store.PriceListId).
			Where("flagexcluido = 0 OR flagexcluido IS NULL").
			Take(&price).Error
		switch {
		case err == nil:
			// precofinal wins when set to a nonzero value, precovenda otherwise.
			if price.FinalPrice.Valid && !price.FinalPrice.Decimal.IsZero() {
				data.Price = price.FinalPrice.Decimal
			} else if price.SalePrice.Valid {
				data.Price = price.SalePrice.Decimal
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return data, err
		}
	}

	if store.StockId != nil && *store.StockId != "" && store.CompanyId != nil && *store.CompanyId != "" {
		var stock ProductStock
		err := db.WithContext(ctx).
			Where("produto_id = ?", product.Id).
			Where("estoque_id = ?", *store.StockId).
			Where("empresa_id = ?", *store.CompanyId).
			Take(&stock).Error
		switch {
		case err == nil:
			if stock.Quantity.Valid {
				data.Stock = stock.Quantity.Decimal.IntPart()
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return data, err
		}
	}

	if product.CategoryId != nil && *product.CategoryId != "" {
		var category Category
		if err := db.WithContext(ctx).Where("categoria_id = ?", *product.CategoryId).Take(&category).Error; err == nil {
			data.Category = &category
		}
	}
	if product.BrandId != nil && *product.BrandId != "" {
		var brand Brand
		if err := db.WithContext(ctx).Where("marca_id = ?", *product.BrandId).Take(&brand).Error; err == nil {
			data.Brand = &brand
		}
	}

	return data, nil
}
