package security

import "github.com/gin-gonic/gin"

// ContextKeyUserID is the gin context key UserIDMiddleware stores the
// caller's identity under.
const ContextKeyUserID = "userID"

const defaultUserID = "anonymous"

// UserIDMiddleware extracts the caller's identity from X-User-Id. There is
// no verification here: authentication is an external collaborator, not a
// core concern. Requests without the header are attributed to "anonymous".
func UserIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-Id")
		if userID == "" {
			userID = defaultUserID
		}
		c.Set(ContextKeyUserID, userID)
		c.Next()
	}
}

// GetUserID returns the caller's identity set by UserIDMiddleware.
func GetUserID(c *gin.Context) string {
	if v := c.GetString(ContextKeyUserID); v != "" {
		return v
	}
	return defaultUserID
}
