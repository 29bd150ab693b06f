package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// Identity headers set by the upstream gateway.
const (
	HeaderUserID   = "X-User-ID"
	HeaderTimezone = "X-Timezone"

	userIDKey  = "userID"
	maxUserLen = 64
)

// Identity copies the caller's X-User-ID into the Gin context under
// "userID". Blank or over-long values are ignored; handlers that need an
// identity reject the request themselves. Install it before Logger and the
// rate limiter so both can key on the user.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if uid := strings.TrimSpace(c.GetHeader(HeaderUserID)); uid != "" && len(uid) <= maxUserLen {
			c.Set(userIDKey, uid)
		}
		c.Next()
	}
}

// UserID returns the identity stored by Identity, or "".
func UserID(c *gin.Context) string {
	if v, ok := c.Get(userIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
