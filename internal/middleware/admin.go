package middleware

import (
	"gold_tally/internal/utils" // Role names
	"net/http"                  // HTTP status codes

	"github.com/gin-gonic/gin" // Gin web framework
)

// RequireRole lets the request through when the token carries one of roles
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get(CtxRole) // Get role from context
		// Check if role exists in context
		if !exists {
			// If not, abort with unauthorized status
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		for _, r := range roles {
			if role == r {
				c.Next() // Role matches, proceed
				return
			}
		}
		// No role matched, abort with forbidden status
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient role"})
	}
}

// AdminOnlyMiddleware checks the admin role carried by the token
func AdminOnlyMiddleware() gin.HandlerFunc {
	return RequireRole(utils.RoleAdmin)
}
