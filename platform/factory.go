package platform

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"bitbucket.org/ideiasys/ecomsync_backend/erpdb"
	"bitbucket.org/ideiasys/ecomsync_backend/models"
)

// Factory builds the adapter for a store from its ERP configuration row.
type Factory struct {
	tokens   *TokenManager
	mappings MappingStore
	logger   *logrus.Logger
}

func NewFactory(tokens *TokenManager, mappings MappingStore, log *logrus.Logger) *Factory {
	return &Factory{tokens: tokens, mappings: mappings, logger: log}
}

// Normalize maps the free-text plataforma_nome column onto a known
// platform identifier. Unrecognized and empty values default to
// OpenCart, the platform the ERP shipped with before the column
// existed.
func Normalize(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if strings.Contains(normalized, "vtex") {
		return models.PlatformVtex
	}
	return models.PlatformOpenCart
}

// ForStore resolves the store's platform and wires the matching adapter.
func (f *Factory) ForStore(store *erpdb.Store) (Adapter, error) {
	config := configFromStore(store)
	platform := models.PlatformOpenCart
	if store.PlatformName != nil {
		platform = Normalize(*store.PlatformName)
	}

	switch platform {
	case models.PlatformOpenCart:
		var auth AuthAdapter
		if config.ApiUser != "" && config.ApiKey != "" {
			authAdapter, err := NewOpenCartAuthAdapter(config, f.logger)
			if err != nil {
				return nil, err
			}
			auth = authAdapter
		}
		return NewOpenCartAdapter(config, f.tokens, auth, f.mappings, store.Id, f.logger)
	case models.PlatformVtex:
		return NewVtexAdapter(config, f.logger)
	default:
		f.logger.WithFields(logrus.Fields{
			"module":   "platform",
			"store_id": store.Id,
			"platform": platform,
		}).Error("unknown platform")
		return nil, fmt.Errorf("platform %s not supported", platform)
	}
}

func configFromStore(store *erpdb.Store) Config {
	config := Config{}
	if store.BaseUrl != nil {
		config.BaseUrl = *store.BaseUrl
	}
	if store.ApiKey != nil {
		config.ApiKey = *store.ApiKey
	}
	if store.ApiUser != nil {
		config.ApiUser = *store.ApiUser
	}
	return config
}
