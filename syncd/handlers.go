package syncd

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"bitbucket.org/ideiasys/ecomsync_backend/config"
	"bitbucket.org/ideiasys/ecomsync_backend/erpdb"
	"bitbucket.org/ideiasys/ecomsync_backend/middlewares"
	"bitbucket.org/ideiasys/ecomsync_backend/models"
	"bitbucket.org/ideiasys/ecomsync_backend/settings"
	"bitbucket.org/ideiasys/ecomsync_backend/utils"
)

// Handlers wires the HTTP surface to the sync services.
type Handlers struct {
	Sessions     *erpdb.Sessions
	Settings     *settings.Service
	Provider     *erpdb.Provider
	Monitor      *erpdb.HealthMonitor
	Catalog      *erpdb.Catalog
	Orchestrator *Orchestrator
	Jobs         *Jobs
	Logs         *Logs
	Cron         *CronDriver
	Logger       *logrus.Logger
}

// Register mounts all API routes. Auth endpoints are public, everything
// else sits behind the session middleware.
func (h *Handlers) Register(router *gin.Engine) {
	api := router.Group("/api")

	auth := api.Group("/auth")
	auth.POST("/login", h.login)
	auth.POST("/refresh", h.refresh)

	protected := api.Group("")
	protected.Use(middlewares.SessionMiddleware(h.Sessions))

	protected.POST("/auth/logout", h.logout)
	protected.GET("/auth/me", h.me)

	protected.GET("/settings", h.listSettings)
	protected.GET("/settings/connection", h.connectionStatus)
	protected.POST("/settings/connection/test", h.testConnection)
	protected.GET("/settings/:key", h.getSetting)
	protected.PUT("/settings/:key", h.putSetting)
	protected.DELETE("/settings/:key", h.deleteSetting)

	protected.GET("/sync/status", h.syncStatus)
	protected.GET("/sync/logs", h.syncLogs)
	protected.GET("/sync/jobs", h.listJobs)
	protected.GET("/sync/jobs/:id", h.getJob)
	protected.POST("/sync/all/:type", h.runSyncAll)
	protected.POST("/sync/:type", h.runSync)

	protected.GET("/stores", h.listStores)
	protected.GET("/products", h.listProducts)
	protected.POST("/products/:id/sync", h.syncProduct)
	protected.POST("/orders/:id/sync", h.syncOrder)
}

func respondOk(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "error": gin.H{"message": message}})
}

func respondErrorCode(c *gin.Context, status int, message string, code string) {
	c.JSON(status, gin.H{"success": false, "error": gin.H{"message": message, "code": code}})
}

// respondInternal maps ERP availability errors to 503 and hides every
// other internal detail behind a generic message.
func (h *Handlers) respondInternal(c *gin.Context, err error, action string) {
	if erpdb.IsUnavailable(err) {
		respondErrorCode(c, http.StatusServiceUnavailable, "ERP database unavailable", "ERP_DB_UNAVAILABLE")
		return
	}
	h.Logger.WithFields(logrus.Fields{"error": err.Error(), "action": action}).Error("request failed")
	respondError(c, http.StatusInternalServerError, "could not "+action)
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"senha" binding:"required"`
}

func (h *Handlers) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "email and senha are required")
		return
	}

	ctx := c.Request.Context()
	user, err := h.Sessions.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, erpdb.ErrInvalidCredentials):
			respondError(c, http.StatusUnauthorized, "invalid email or password")
		case errors.Is(err, erpdb.ErrNotPrivileged):
			respondError(c, http.StatusForbidden, "user does not have access privileges")
		default:
			h.respondInternal(c, err, "authenticate")
		}
		return
	}

	session, err := h.Sessions.CreateSession(ctx, user, c.ClientIP())
	if err != nil {
		h.respondInternal(c, err, "create session")
		return
	}

	c.Header("Authorization", "Bearer "+session.Token)
	respondOk(c, http.StatusOK, gin.H{
		"usuario": gin.H{
			"usuario_id": session.UserId,
			"nome":       session.UserName,
			"email":      session.UserEmail,
		},
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"expiresAt":    session.ExpiresAt,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

func (h *Handlers) refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "refreshToken is required")
		return
	}

	session, err := h.Sessions.RefreshSession(c.Request.Context(), req.RefreshToken, c.ClientIP())
	if err != nil {
		if errors.Is(err, erpdb.ErrInvalidCredentials) {
			respondError(c, http.StatusUnauthorized, "invalid or expired refresh token")
			return
		}
		h.respondInternal(c, err, "refresh session")
		return
	}

	c.Header("Authorization", "Bearer "+session.Token)
	respondOk(c, http.StatusOK, gin.H{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"expiresAt":    session.ExpiresAt,
	})
}

func (h *Handlers) logout(c *gin.Context) {
	token, _ := utils.GetTokenFromContext(c.Request.Context())
	if token == "" {
		respondError(c, http.StatusUnauthorized, "authentication required")
		return
	}

	revoked, err := h.Sessions.RevokeToken(c.Request.Context(), token)
	if err != nil {
		h.respondInternal(c, err, "revoke session")
		return
	}
	_ = config.RemoveRedisKey("Session:" + token)

	respondOk(c, http.StatusOK, gin.H{"revoked": revoked})
}

func (h *Handlers) me(c *gin.Context) {
	token, _ := utils.GetTokenFromContext(c.Request.Context())
	user, err := h.Sessions.ValidateToken(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, erpdb.ErrInvalidCredentials) {
			respondError(c, http.StatusUnauthorized, "invalid or expired session")
			return
		}
		h.respondInternal(c, err, "load session user")
		return
	}

	email := ""
	if user.Email != nil {
		email = *user.Email
	}
	respondOk(c, http.StatusOK, gin.H{
		"usuario_id": user.Id,
		"nome":       user.Name,
		"email":      email,
	})
}

func (h *Handlers) listSettings(c *gin.Context) {
	list, err := h.Settings.GetAll(c.Request.Context())
	if err != nil {
		h.respondInternal(c, err, "list settings")
		return
	}
	respondOk(c, http.StatusOK, list)
}

func (h *Handlers) getSetting(c *gin.Context) {
	setting, err := h.Settings.GetByKey(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.respondInternal(c, err, "read setting")
		return
	}
	if setting == nil {
		respondError(c, http.StatusNotFound, "setting not found")
		return
	}
	respondOk(c, http.StatusOK, setting)
}

type settingRequest struct {
	Value *string `json:"value" binding:"required"`
}

func (h *Handlers) putSetting(c *gin.Context) {
	var req settingRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Value == nil {
		respondError(c, http.StatusBadRequest, "value is required")
		return
	}

	key := c.Param("key")
	setting, err := h.Settings.Set(c.Request.Context(), key, *req.Value)
	if err != nil {
		if erpdb.IsUnavailable(err) {
			h.respondInternal(c, err, "update setting")
			return
		}
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	// Connection settings take effect immediately. A failed reconnect is
	// reported in the response but does not roll the setting back.
	reconnected := false
	if settings.IsErpDbKey(key) {
		if err := h.Provider.Reconnect(c.Request.Context()); err != nil {
			h.Logger.WithFields(logrus.Fields{"key": key, "error": err.Error()}).
				Warn("ERP reconnect after setting change failed")
		} else {
			reconnected = true
		}
	}

	out := setting
	if settings.IsSecretKey(key) {
		masked, mErr := h.Settings.GetByKey(c.Request.Context(), key)
		if mErr == nil && masked != nil {
			out = masked
		}
	}
	respondOk(c, http.StatusOK, gin.H{"setting": out, "reconnected": reconnected})
}

func (h *Handlers) deleteSetting(c *gin.Context) {
	key := c.Param("key")
	if key == settings.KeySessionSecret {
		respondError(c, http.StatusBadRequest, "SESSION_SECRET cannot be deleted")
		return
	}

	existed, err := h.Settings.Delete(c.Request.Context(), key)
	if err != nil {
		h.respondInternal(c, err, "delete setting")
		return
	}
	if !existed {
		respondError(c, http.StatusNotFound, "setting not found")
		return
	}
	respondOk(c, http.StatusOK, gin.H{"deleted": true})
}

func (h *Handlers) connectionStatus(c *gin.Context) {
	status := h.Monitor.LastStatus()
	if status == nil {
		fresh := h.Monitor.CheckHealth()
		status = &fresh
	}
	respondOk(c, http.StatusOK, status)
}

// testConnection forces a fresh connect attempt with current settings
// instead of reporting the cached monitor state.
func (h *Handlers) testConnection(c *gin.Context) {
	start := time.Now()
	err := h.Provider.Reconnect(c.Request.Context())
	elapsed := time.Since(start)

	if err != nil {
		respondOk(c, http.StatusOK, gin.H{
			"connected":  false,
			"latency_ms": elapsed.Milliseconds(),
			"error":      err.Error(),
		})
		return
	}
	respondOk(c, http.StatusOK, gin.H{
		"connected":  true,
		"latency_ms": elapsed.Milliseconds(),
		"pool":       h.Provider.PoolStats(),
	})
}

func (h *Handlers) runSync(c *gin.Context) {
	syncType := c.Param("type")
	storeId := c.Query("store_id")
	if storeId == "" {
		respondError(c, http.StatusBadRequest, "store_id query parameter is required")
		return
	}
	force := c.Query("force") == "true" || c.Query("force") == "1"

	job, err := h.Orchestrator.RunSync(c.Request.Context(), storeId, syncType, force, models.SyncTriggeredManual)
	if err != nil {
		if errors.Is(err, ErrUnknownSyncType) {
			respondError(c, http.StatusBadRequest, "unknown sync type: "+syncType)
			return
		}
		h.respondInternal(c, err, "start sync")
		return
	}
	respondOk(c, http.StatusAccepted, job)
}

func (h *Handlers) runSyncAll(c *gin.Context) {
	syncType := c.Param("type")
	if !models.ValidSyncType(syncType) {
		respondError(c, http.StatusBadRequest, "unknown sync type: "+syncType)
		return
	}
	if err := h.Cron.RunNow(syncType); err != nil {
		h.respondInternal(c, err, "start sync for all stores")
		return
	}
	respondOk(c, http.StatusAccepted, gin.H{"sync_type": syncType, "started": true})
}

func (h *Handlers) getJob(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		respondError(c, http.StatusBadRequest, "job id must be a number")
		return
	}

	job, err := h.Jobs.Get(c.Request.Context(), uint(id))
	if err != nil {
		h.respondInternal(c, err, "read sync job")
		return
	}
	if job == nil {
		respondError(c, http.StatusNotFound, "sync job not found")
		return
	}
	respondOk(c, http.StatusOK, job)
}

func (h *Handlers) listJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	jobs, err := h.Jobs.ListRecent(c.Request.Context(), c.Query("store_id"), limit)
	if err != nil {
		h.respondInternal(c, err, "list sync jobs")
		return
	}
	respondOk(c, http.StatusOK, jobs)
}

func (h *Handlers) syncStatus(c *gin.Context) {
	respondOk(c, http.StatusOK, gin.H{
		"erp_connected": h.Provider.IsConnected(),
		"triggers":      h.Cron.Status(),
	})
}

func (h *Handlers) syncLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	page, _ := strconv.Atoi(c.Query("page"))

	entries, total, err := h.Logs.List(c.Request.Context(), LogFilters{
		StoreId:  c.Query("store_id"),
		SyncType: c.Query("sync_type"),
		Status:   c.Query("status"),
		Limit:    limit,
		Page:     page,
	})
	if err != nil {
		h.respondInternal(c, err, "list sync logs")
		return
	}
	respondOk(c, http.StatusOK, gin.H{"logs": entries, "total": total})
}

func (h *Handlers) listStores(c *gin.Context) {
	stores, err := h.Catalog.ListStores(c.Request.Context())
	if err != nil {
		h.respondInternal(c, err, "list stores")
		return
	}
	respondOk(c, http.StatusOK, stores)
}

func (h *Handlers) listProducts(c *gin.Context) {
	storeId := c.Query("store_id")
	if storeId == "" {
		respondError(c, http.StatusBadRequest, "store_id query parameter is required")
		return
	}

	products, err := h.Catalog.EligibleProducts(c.Request.Context(), storeId)
	if err != nil {
		h.respondInternal(c, err, "list products")
		return
	}
	respondOk(c, http.StatusOK, gin.H{"products": products, "total": len(products)})
}

func (h *Handlers) syncProduct(c *gin.Context) {
	storeId := c.Query("store_id")
	if storeId == "" {
		respondError(c, http.StatusBadRequest, "store_id query parameter is required")
		return
	}

	platformId, err := h.Orchestrator.SyncProductById(c.Request.Context(), storeId, c.Param("id"))
	if err != nil {
		if erpdb.IsUnavailable(err) {
			h.respondInternal(c, err, "sync product")
			return
		}
		respondError(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondOk(c, http.StatusOK, gin.H{"platform_id": platformId})
}

func (h *Handlers) syncOrder(c *gin.Context) {
	storeId := c.Query("store_id")
	if storeId == "" {
		respondError(c, http.StatusBadRequest, "store_id query parameter is required")
		return
	}

	order, err := h.Orchestrator.SyncOrderById(c.Request.Context(), storeId, c.Param("id"))
	if err != nil {
		if erpdb.IsUnavailable(err) {
			h.respondInternal(c, err, "sync order")
			return
		}
		respondError(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondOk(c, http.StatusOK, order)
}
