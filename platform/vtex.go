package platform

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var ErrVtexNotImplemented = errors.New("vtex adapter not implemented")

// VtexAdapter reserves the VTEX slot behind the same interface. Every
// operation reports not-implemented until the integration lands.
type VtexAdapter struct {
	baseUrl string
	apiKey  string
	logger  *logrus.Logger
}

func NewVtexAdapter(config Config, log *logrus.Logger) (*VtexAdapter, error) {
	if strings.TrimSpace(config.BaseUrl) == "" {
		return nil, errors.New("vtex baseUrl is required")
	}
	if strings.TrimSpace(config.ApiKey) == "" {
		return nil, errors.New("vtex apiKey is required")
	}
	return &VtexAdapter{
		baseUrl: strings.TrimRight(config.BaseUrl, "/"),
		apiKey:  config.ApiKey,
		logger:  log,
	}, nil
}

func (a *VtexAdapter) notImplemented(operation string) error {
	a.logger.WithFields(logrus.Fields{
		"module":    "platform",
		"operation": operation,
	}).Warn("vtex adapter not implemented yet")
	return ErrVtexNotImplemented
}

func (a *VtexAdapter) CreateProduct(ctx context.Context, data ProductDTO) (string, error) {
	return "", a.notImplemented("CreateProduct")
}

func (a *VtexAdapter) UpdateProduct(ctx context.Context, platformId string, data ProductDTO) error {
	return a.notImplemented("UpdateProduct")
}

func (a *VtexAdapter) SyncStock(ctx context.Context, platformId string, quantity int64) error {
	return a.notImplemented("SyncStock")
}

func (a *VtexAdapter) SyncPrice(ctx context.Context, platformId string, price decimal.Decimal) error {
	return a.notImplemented("SyncPrice")
}

func (a *VtexAdapter) GetOrders(ctx context.Context, filters OrderFilters) ([]OrderDTO, error) {
	return nil, a.notImplemented("GetOrders")
}

func (a *VtexAdapter) GetOrderById(ctx context.Context, orderId string) (*OrderDTO, error) {
	return nil, a.notImplemented("GetOrderById")
}

func (a *VtexAdapter) CheckHealth(ctx context.Context) Health {
	return Health{OK: false, Message: ErrVtexNotImplemented.Error(), CheckedAt: time.Now()}
}
