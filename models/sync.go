package models

import "time"

const (
	PlatformOpenCart = "opencart"
	PlatformVtex     = "vtex"
)

const (
	SyncTypeCatalog = "catalog"
	SyncTypePrices  = "prices"
	SyncTypeStock   = "stock"
	SyncTypeOrders  = "orders"
)

const (
	SyncStatusSuccess = "success"
	SyncStatusError   = "error"
	SyncStatusWarning = "warning"
)

const (
	JobStatusQueued  = "queued"
	JobStatusRunning = "running"
	JobStatusSuccess = "success"
	JobStatusPartial = "partial"
	JobStatusFailed  = "failed"
)

const (
	SyncTriggeredManual = "manual"
	SyncTriggeredCron   = "cron"
)

const (
	EntityTypeProduct = "product"
	EntityTypeOrder   = "order"
)

func ValidSyncType(t string) bool {
	switch t {
	case SyncTypeCatalog, SyncTypePrices, SyncTypeStock, SyncTypeOrders:
		return true
	}
	return false
}

// SyncLock is a time-bounded mutual-exclusion row for one (store, sync type)
// pair. The unique index is the exclusion primitive: acquiring is an insert,
// and a duplicate-key failure means the lock is held.
type SyncLock struct {
	ID        uint      `gorm:"primary_key" json:"id"`
	StoreId   string    `gorm:"uniqueIndex:idx_sync_lock,priority:1;size:36;not null" json:"store_id"`
	SyncType  string    `gorm:"uniqueIndex:idx_sync_lock,priority:2;size:20;not null" json:"sync_type"`
	HolderId  string    `gorm:"size:64;not null" json:"holder_id"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// PlatformToken caches the access/refresh token pair issued by a commerce
// platform for one store. Updated in place on refresh or re-login.
type PlatformToken struct {
	ID               uint      `gorm:"primary_key" json:"id"`
	StoreId          string    `gorm:"uniqueIndex:idx_platform_token,priority:1;size:36;not null" json:"store_id"`
	Platform         string    `gorm:"uniqueIndex:idx_platform_token,priority:2;size:50;not null" json:"platform"`
	AccessToken      string    `gorm:"type:text;not null" json:"-"`
	RefreshToken     string    `gorm:"type:text" json:"-"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	TokenType        string    `gorm:"size:20" json:"token_type"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// SyncMapping is the idempotence ledger: the persisted correspondence
// between an ERP entity id and its platform-side id, scoped per store and
// entity type. Its presence decides update-vs-create.
type SyncMapping struct {
	ID         uint      `gorm:"primary_key" json:"id"`
	StoreId    string    `gorm:"uniqueIndex:idx_sync_mapping,priority:1;size:36;not null" json:"store_id"`
	EntityType string    `gorm:"uniqueIndex:idx_sync_mapping,priority:2;size:50;not null" json:"entity_type"`
	ErpId      string    `gorm:"uniqueIndex:idx_sync_mapping,priority:3;size:128;not null" json:"erp_id"`
	Platform   string    `gorm:"uniqueIndex:idx_sync_mapping,priority:4;size:50;not null" json:"platform"`
	PlatformId string    `gorm:"size:128;not null" json:"platform_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// SyncLog is the append-only audit record read by the dashboard.
type SyncLog struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	StoreId     string    `gorm:"index;size:36;not null" json:"store_id"`
	SyncType    string    `gorm:"size:20;not null" json:"sync_type"`
	Action      string    `gorm:"size:50;not null" json:"action"`
	EntityType  string    `gorm:"size:50" json:"entity_type"`
	EntityId    string    `gorm:"size:128" json:"entity_id"`
	Status      string    `gorm:"size:20;not null" json:"status"`
	Message     string    `gorm:"type:text" json:"message"`
	DetailsJSON []byte    `gorm:"type:json" json:"details"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// SyncJob turns fire-and-forget sync triggers into enqueue-and-poll: HTTP
// callers receive the job id and poll its status while the run proceeds.
type SyncJob struct {
	ID            uint       `gorm:"primary_key" json:"id"`
	StoreId       string     `gorm:"index;size:36;not null" json:"store_id"`
	SyncType      string     `gorm:"size:20;not null" json:"sync_type"`
	Status        string     `gorm:"size:20;not null" json:"status"`
	TriggeredBy   string     `gorm:"size:20" json:"triggered_by"`
	RecordsSynced int        `json:"records_synced"`
	ErrorCount    int        `json:"error_count"`
	Message       string     `gorm:"type:text" json:"message"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	DurationMs    int64      `json:"duration_ms"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
