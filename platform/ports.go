package platform

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Config carries the connection details for one store's platform,
// sourced from the ERP lojavirtual row.
type Config struct {
	BaseUrl         string
	ApiKey          string
	ApiUser         string
	LoginEndpoint   string
	RefreshEndpoint string
}

// Credentials for the platform login call. For OpenCart these come from
// the store's apiuser/apikey pair.
type Credentials struct {
	Username string
	Password string
}

// TokenData is the normalized token envelope every auth adapter returns.
type TokenData struct {
	AccessToken      string
	RefreshToken     string
	ExpiresIn        int64
	RefreshExpiresIn int64
	TokenType        string
}

// ProductDTO is the canonical product shape crossing the adapter
// boundary. JSON names keep the ERP's Portuguese vocabulary; the wire
// translation into each platform's own format is the adapter's job.
type ProductDTO struct {
	ErpId       string          `json:"produto_id"`
	Name        string          `json:"nome"`
	Description string          `json:"descricao,omitempty"`
	Code        string          `json:"codigo,omitempty"`
	Price       decimal.Decimal `json:"preco"`
	Stock       int64           `json:"estoque"`
	Category    string          `json:"categoria,omitempty"`
	Brand       string          `json:"marca,omitempty"`
}

type CustomerDTO struct {
	Name  string `json:"nome"`
	Email string `json:"email"`
	Phone string `json:"telefone,omitempty"`
}

type AddressDTO struct {
	Street     string `json:"rua"`
	Number     string `json:"numero,omitempty"`
	Complement string `json:"complemento,omitempty"`
	District   string `json:"bairro"`
	City       string `json:"cidade"`
	State      string `json:"estado"`
	ZipCode    string `json:"cep"`
	Country    string `json:"pais,omitempty"`
}

type OrderItemDTO struct {
	ProductId string          `json:"product_id"`
	Sku       string          `json:"sku"`
	Name      string          `json:"nome"`
	Quantity  int64           `json:"quantidade"`
	Price     decimal.Decimal `json:"preco"`
}

type OrderDTO struct {
	OrderId         string          `json:"order_id"`
	Status          string          `json:"status"`
	Total           decimal.Decimal `json:"total"`
	Currency        string          `json:"currency"`
	Customer        CustomerDTO     `json:"customer"`
	Items           []OrderItemDTO  `json:"items"`
	ShippingAddress *AddressDTO     `json:"shipping_address,omitempty"`
	BillingAddress  *AddressDTO     `json:"billing_address,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type OrderFilters struct {
	Status string
	Since  *time.Time
	Limit  int
	Page   int
}

// Health is the outcome of an adapter connectivity probe.
type Health struct {
	OK        bool      `json:"ok"`
	Message   string    `json:"message,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// AuthAdapter is implemented per platform to obtain and renew tokens.
type AuthAdapter interface {
	Login(ctx context.Context, credentials Credentials) (*TokenData, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenData, error)
}

// Adapter is the uniform surface the orchestrator drives, regardless of
// which commerce platform sits behind it.
type Adapter interface {
	CreateProduct(ctx context.Context, data ProductDTO) (string, error)
	UpdateProduct(ctx context.Context, platformId string, data ProductDTO) error
	SyncStock(ctx context.Context, platformId string, quantity int64) error
	SyncPrice(ctx context.Context, platformId string, price decimal.Decimal) error
	GetOrders(ctx context.Context, filters OrderFilters) ([]OrderDTO, error)
	GetOrderById(ctx context.Context, orderId string) (*OrderDTO, error)
	CheckHealth(ctx context.Context) Health
}

// MappingStore is the slice of the mapping service the adapters need to
// keep create idempotent.
type MappingStore interface {
	GetPlatformId(ctx context.Context, storeId string, entityType string, erpId string, platform string) (string, error)
	SetMapping(ctx context.Context, storeId string, entityType string, erpId string, platform string, platformId string) error
}
