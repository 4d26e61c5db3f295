package middlewares

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"bitbucket.org/ideiasys/ecomsync_backend/config"
	"bitbucket.org/ideiasys/ecomsync_backend/erpdb"
	"bitbucket.org/ideiasys/ecomsync_backend/utils"
)

const sessionCacheTTL = 60 * time.Second

// SessionMiddleware authenticates requests with the bearer token issued
// at login. Validation hits the ERP session table; a short redis cache
// in front keeps the ERP out of the hot path. Cache absence only means
// a DB validation, never a rejection.
func SessionMiddleware(sessions *erpdb.Sessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   gin.H{"message": "authentication required"},
			})
			c.Abort()
			return
		}

		username, cached, err := config.GetRedisValue("Session:" + token)
		if err != nil || !cached {
			user, err := sessions.ValidateToken(c.Request.Context(), token)
			if err != nil {
				if erpdb.IsUnavailable(err) {
					c.JSON(http.StatusServiceUnavailable, gin.H{
						"success": false,
						"error":   gin.H{"message": "ERP database unavailable", "code": "ERP_DB_UNAVAILABLE"},
					})
				} else if errors.Is(err, erpdb.ErrInvalidCredentials) {
					c.JSON(http.StatusUnauthorized, gin.H{
						"success": false,
						"error":   gin.H{"message": "invalid or expired session"},
					})
				} else {
					c.JSON(http.StatusInternalServerError, gin.H{
						"success": false,
						"error":   gin.H{"message": "could not validate session"},
					})
				}
				c.Abort()
				return
			}
			username = user.Name
			_ = config.SetRedisValue("Session:"+token, username, sessionCacheTTL)
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetUsernameInContext(ctx, username)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
