package middleware

import "github.com/gin-gonic/gin"

// Context keys set by Authenticate and Sessions and read by later stages.
const (
	ContextUserIDKey     = "user_id"
	ContextUserEmailKey  = "user_email"
	ContextIsAdminKey    = "is_admin"
	ContextSessionKeyKey = "session_key"
)

// UserIDFromContext returns the authenticated user id, or nil for anonymous
// requests and service-key callers.
func UserIDFromContext(c *gin.Context) *int64 {
	v, ok := c.Get(ContextUserIDKey)
	if !ok {
		return nil
	}
	id, ok := v.(int64)
	if !ok {
		return nil
	}
	return &id
}

// SessionKeyFromContext returns the session key materialized before this
// request, or nil.
func SessionKeyFromContext(c *gin.Context) *string {
	key := c.GetString(ContextSessionKeyKey)
	if key == "" {
		return nil
	}
	return &key
}

func IsAdmin(c *gin.Context) bool {
	return c.GetBool(ContextIsAdminKey)
}
