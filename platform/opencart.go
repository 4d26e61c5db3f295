package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"bitbucket.org/ideiasys/ecomsync_backend/models"
)

const openCartDateLayout = "2006-01-02 15:04:05"

var errUnauthorized = errors.New("opencart rejected the access token")

// OpenCartAdapter talks to an OpenCart store through its REST admin API.
// A 401 invalidates the cached token and the request is retried exactly
// once with a fresh one; a second 401 is surfaced as-is.
type OpenCartAdapter struct {
	baseUrl     string
	apiKey      string
	storeId     string
	http        *http.Client
	logger      *logrus.Logger
	tokens      *TokenManager
	auth        AuthAdapter
	credentials Credentials
	mappings    MappingStore
}

func NewOpenCartAdapter(
	config Config,
	tokens *TokenManager,
	auth AuthAdapter,
	mappings MappingStore,
	storeId string,
	log *logrus.Logger,
) (*OpenCartAdapter, error) {
	if strings.TrimSpace(config.BaseUrl) == "" {
		return nil, errors.New("opencart baseUrl is required")
	}
	if strings.TrimSpace(config.ApiKey) == "" {
		return nil, errors.New("opencart apiKey is required")
	}
	return &OpenCartAdapter{
		baseUrl:     strings.TrimRight(config.BaseUrl, "/"),
		apiKey:      config.ApiKey,
		storeId:     storeId,
		http:        &http.Client{Timeout: 30 * time.Second},
		logger:      log,
		tokens:      tokens,
		auth:        auth,
		credentials: Credentials{Username: config.ApiUser, Password: config.ApiKey},
		mappings:    mappings,
	}, nil
}

// CreateProduct is idempotent per ERP product: an existing mapping turns
// the call into an update of the already-created platform product.
func (a *OpenCartAdapter) CreateProduct(ctx context.Context, data ProductDTO) (string, error) {
	if a.mappings != nil && data.ErpId != "" {
		platformId, err := a.mappings.GetPlatformId(ctx, a.storeId, models.EntityTypeProduct, data.ErpId, models.PlatformOpenCart)
		if err != nil {
			return "", fmt.Errorf("mapping lookup failed: %w", err)
		}
		if platformId != "" {
			if err := a.UpdateProduct(ctx, platformId, data); err != nil {
				return "", err
			}
			return platformId, nil
		}
	}

	a.logger.WithFields(logrus.Fields{
		"module":   "platform",
		"store_id": a.storeId,
		"nome":     data.Name,
	}).Info("creating product in opencart")

	body, err := a.request(ctx, http.MethodPost, "/api/rest/products", nil, openCartProductPayload(data, true))
	if err != nil {
		return "", err
	}

	var created struct {
		ProductId json.Number `json:"product_id"`
		Data      struct {
			ProductId json.Number `json:"product_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("opencart create response unreadable: %w", err)
	}
	platformId := created.ProductId.String()
	if platformId == "" || platformId == "0" {
		platformId = created.Data.ProductId.String()
	}
	if platformId == "" || platformId == "0" {
		return "", errors.New("opencart create response missing product_id")
	}

	if a.mappings != nil && data.ErpId != "" {
		err := a.mappings.SetMapping(ctx, a.storeId, models.EntityTypeProduct, data.ErpId, models.PlatformOpenCart, platformId)
		if err != nil {
			// One corrective retry before reporting the orphan; the product
			// already exists on the platform and must not be recreated.
			retryErr := a.mappings.SetMapping(ctx, a.storeId, models.EntityTypeProduct, data.ErpId, models.PlatformOpenCart, platformId)
			if retryErr != nil {
				a.logger.WithFields(logrus.Fields{
					"module":      "platform",
					"store_id":    a.storeId,
					"erp_id":      data.ErpId,
					"platform_id": platformId,
				}).WithError(retryErr).Error("mapping write failed after create")
				return platformId, fmt.Errorf("product created in opencart (id %s) but mapping write failed: %w", platformId, retryErr)
			}
		}
	}

	return platformId, nil
}

func (a *OpenCartAdapter) UpdateProduct(ctx context.Context, platformId string, data ProductDTO) error {
	a.logger.WithFields(logrus.Fields{
		"module":      "platform",
		"store_id":    a.storeId,
		"platform_id": platformId,
		"nome":        data.Name,
	}).Info("updating product in opencart")

	_, err := a.request(ctx, http.MethodPut, "/api/rest/products/"+platformId, nil, openCartProductPayload(data, false))
	return err
}

func (a *OpenCartAdapter) SyncStock(ctx context.Context, platformId string, quantity int64) error {
	_, err := a.request(ctx, http.MethodPatch, "/api/rest/products/"+platformId, nil,
		map[string]interface{}{"quantity": quantity})
	return err
}

func (a *OpenCartAdapter) SyncPrice(ctx context.Context, platformId string, price decimal.Decimal) error {
	_, err := a.request(ctx, http.MethodPatch, "/api/rest/products/"+platformId, nil,
		map[string]interface{}{"price": price})
	return err
}

func (a *OpenCartAdapter) GetOrders(ctx context.Context, filters OrderFilters) ([]OrderDTO, error) {
	params := url.Values{}
	if filters.Status != "" {
		params.Set("status", filters.Status)
	}
	if filters.Since != nil {
		params.Set("date_added", filters.Since.Format(openCartDateLayout))
	}
	if filters.Limit > 0 {
		params.Set("limit", strconv.Itoa(filters.Limit))
	}
	if filters.Page > 0 {
		params.Set("page", strconv.Itoa(filters.Page))
	}

	body, err := a.request(ctx, http.MethodGet, "/api/rest/orders", params, nil)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Orders []openCartOrder `json:"orders"`
		Data   []openCartOrder `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("opencart orders response unreadable: %w", err)
	}
	wire := parsed.Orders
	if len(wire) == 0 {
		wire = parsed.Data
	}

	orders := make([]OrderDTO, 0, len(wire))
	for _, order := range wire {
		orders = append(orders, order.toDTO())
	}
	return orders, nil
}

func (a *OpenCartAdapter) GetOrderById(ctx context.Context, orderId string) (*OrderDTO, error) {
	body, err := a.request(ctx, http.MethodGet, "/api/rest/orders/"+orderId, nil, nil)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Order *openCartOrder `json:"order"`
		Data  *openCartOrder `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("opencart order response unreadable: %w", err)
	}
	wire := parsed.Order
	if wire == nil {
		wire = parsed.Data
	}
	if wire == nil {
		return nil, fmt.Errorf("order %s not found in opencart", orderId)
	}

	dto := wire.toDTO()
	return &dto, nil
}

// CheckHealth probes the store by attempting a login under a short
// timeout. It reports rather than fails: a dead store is a status, not
// an error.
func (a *OpenCartAdapter) CheckHealth(ctx context.Context) Health {
	status := Health{CheckedAt: time.Now()}
	if a.auth == nil {
		status.Message = "authentication not configured"
		return status
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := a.auth.Login(probeCtx, a.credentials); err != nil {
		status.Message = err.Error()
		return status
	}
	status.OK = true
	return status
}

// request performs one authenticated call, retrying once on 401 with a
// freshly resolved token.
func (a *OpenCartAdapter) request(ctx context.Context, method string, path string, params url.Values, payload interface{}) ([]byte, error) {
	body, err := a.do(ctx, method, path, params, payload)
	if !errors.Is(err, errUnauthorized) {
		return body, err
	}

	a.logger.WithFields(logrus.Fields{
		"module":   "platform",
		"store_id": a.storeId,
		"path":     path,
	}).Warn("opencart returned 401, refreshing token and retrying once")
	a.tokens.Invalidate(ctx, a.storeId, models.PlatformOpenCart)

	body, err = a.do(ctx, method, path, params, payload)
	if errors.Is(err, errUnauthorized) {
		return nil, fmt.Errorf("opencart authentication failed after token refresh: %w", err)
	}
	return body, err
}

func (a *OpenCartAdapter) do(ctx context.Context, method string, path string, params url.Values, payload interface{}) ([]byte, error) {
	endpoint := a.baseUrl + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}

	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Oc-Restadmin-Id", a.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.tokens != nil && a.auth != nil {
		token, ok := a.tokens.GetValidToken(ctx, a.storeId, models.PlatformOpenCart, a.auth, a.credentials)
		if !ok {
			return nil, errors.New("could not obtain opencart access token")
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, errUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("opencart api error %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

// openCartProductPayload renders the canonical DTO into OpenCart's wire
// format. Descriptions live in a locale-keyed product_description block;
// locale 1 is the store default.
func openCartProductPayload(data ProductDTO, includeStatus bool) map[string]interface{} {
	payload := map[string]interface{}{
		"model":    data.Code,
		"price":    data.Price,
		"quantity": data.Stock,
		"product_description": map[string]interface{}{
			"1": map[string]interface{}{
				"name":        data.Name,
				"description": data.Description,
				"meta_title":  data.Name,
			},
		},
	}
	if includeStatus {
		payload["status"] = 1
	}
	if data.Brand != "" {
		payload["manufacturer"] = data.Brand
	}
	if data.Category != "" {
		payload["category"] = []string{data.Category}
	}
	return payload
}

type openCartOrder struct {
	OrderId      json.Number             `json:"order_id"`
	Status       string                  `json:"status"`
	Total        json.Number             `json:"total"`
	CurrencyCode string                  `json:"currency_code"`
	Firstname    string                  `json:"firstname"`
	Lastname     string                  `json:"lastname"`
	Email        string                  `json:"email"`
	Telephone    string                  `json:"telephone"`
	DateAdded    string                  `json:"date_added"`
	DateModified string                  `json:"date_modified"`
	Products     []openCartOrderProduct  `json:"products"`
	Shipping     *openCartOrderAddress   `json:"shipping_address"`
	Payment      *openCartOrderAddress   `json:"payment_address"`
}

type openCartOrderProduct struct {
	ProductId json.Number `json:"product_id"`
	Model     string      `json:"model"`
	Name      string      `json:"name"`
	Quantity  json.Number `json:"quantity"`
	Price     json.Number `json:"price"`
}

type openCartOrderAddress struct {
	Address1 string `json:"address_1"`
	Address2 string `json:"address_2"`
	City     string `json:"city"`
	Zone     string `json:"zone"`
	Postcode string `json:"postcode"`
	Country  string `json:"country"`
}

func (o openCartOrder) toDTO() OrderDTO {
	dto := OrderDTO{
		OrderId:  o.OrderId.String(),
		Status:   o.Status,
		Total:    parseDecimal(o.Total),
		Currency: o.CurrencyCode,
		Customer: CustomerDTO{
			Name:  strings.TrimSpace(o.Firstname + " " + o.Lastname),
			Email: o.Email,
			Phone: o.Telephone,
		},
	}
	if t, err := time.Parse(openCartDateLayout, o.DateAdded); err == nil {
		dto.CreatedAt = t
	}
	if t, err := time.Parse(openCartDateLayout, o.DateModified); err == nil {
		dto.UpdatedAt = t
	}
	for _, item := range o.Products {
		quantity, _ := item.Quantity.Int64()
		dto.Items = append(dto.Items, OrderItemDTO{
			ProductId: item.ProductId.String(),
			Sku:       item.Model,
			Name:      item.Name,
			Quantity:  quantity,
			Price:     parseDecimal(item.Price),
		})
	}
	dto.ShippingAddress = o.Shipping.toDTO()
	dto.BillingAddress = o.Payment.toDTO()
	return dto
}

func (a *openCartOrderAddress) toDTO() *AddressDTO {
	if a == nil {
		return nil
	}
	return &AddressDTO{
		Street:     a.Address1,
		Complement: a.Address2,
		City:       a.City,
		State:      a.Zone,
		ZipCode:    a.Postcode,
		Country:    a.Country,
	}
}

func parseDecimal(n json.Number) decimal.Decimal {
	if d, err := decimal.NewFromString(n.String()); err == nil {
		return d
	}
	return decimal.Zero
}
