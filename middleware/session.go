package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"salonsite/api/utils"
)

const (
	SessionCookieName = "sessionid"
	sessionMaxAge     = 14 * 24 * time.Hour
)

// Sessions exposes the browser's session key to later stages. Sessions are
// materialized lazily: a request without a valid cookie gets one issued on
// its response, but its own context carries no session key.
func Sessions(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key, err := c.Cookie(SessionCookieName); err == nil && utils.ValidSessionKey(key) {
			c.Set(ContextSessionKeyKey, key)
			c.Next()
			return
		}

		key, err := utils.GenerateSessionKey()
		if err != nil {
			logger.Error("Failed to issue session key", zap.Error(err))
			c.Next()
			return
		}

		http.SetCookie(c.Writer, &http.Cookie{
			Name:     SessionCookieName,
			Value:    key,
			Path:     "/",
			MaxAge:   int(sessionMaxAge / time.Second),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		c.Next()
	}
}
