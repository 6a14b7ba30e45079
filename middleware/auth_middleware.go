package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"salonsite/api/utils"
)

const (
	AuthCookieName   = "jwt_token"
	ServiceKeyHeader = "X-API-KEY"
)

// Authenticate resolves the caller's identity from the jwt_token cookie or a
// bearer token. It never rejects: requests without a valid token continue
// anonymously. A configured service key grants admin access without a user.
func Authenticate(tokens *utils.TokenManager, serviceKey string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if serviceKey != "" {
			if key := c.GetHeader(ServiceKeyHeader); key != "" &&
				subtle.ConstantTimeCompare([]byte(key), []byte(serviceKey)) == 1 {
				c.Set(ContextIsAdminKey, true)
				c.Next()
				return
			}
		}

		tokenString := bearerOrCookie(c)
		if tokenString == "" {
			c.Next()
			return
		}

		claims, err := tokens.ValidateJWT(tokenString)
		if err != nil {
			logger.Debug("Ignoring invalid token", zap.Error(err))
			c.Next()
			return
		}

		c.Set(ContextUserIDKey, claims.UserID)
		c.Set(ContextUserEmailKey, claims.Email)
		c.Set(ContextIsAdminKey, claims.IsAdmin)
		c.Next()
	}
}

// AuthRequired rejects anonymous callers with 401.
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if UserIDFromContext(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: No valid token provided"})
			return
		}
		c.Next()
	}
}

// AdminRequired rejects every non-admin caller, anonymous ones included,
// with 403.
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "You do not have permission to perform this action."})
			return
		}
		c.Next()
	}
}

func bearerOrCookie(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := c.Cookie(AuthCookieName); err == nil {
		return cookie
	}
	return ""
}
