package middleware

import (
	"net/http"
	"strings"

	"storagedesk/config"
	"storagedesk/internal/auth"

	"github.com/gin-gonic/gin"
)

// AuthRequired validates the staff JWT and sets staff_id, email and role in
// the context. The token comes from the Authorization header or, for clients
// that cannot set headers, the token query parameter. An empty access secret
// disables the check.
func AuthRequired(cfg *config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg == nil || cfg.AccessSecret == "" {
			c.Next()
			return
		}
		token := c.Query("token")
		if header := c.GetHeader("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
				return
			}
			token = parts[1]
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		claims, err := auth.ParseAccessToken(cfg, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Set("staff_id", claims.StaffID)
		c.Set("email", claims.Email)
		c.Set("role", claims.Role)
		c.Set("claims", claims)
		c.Next()
	}
}

// RequireRole checks that the authenticated staff member has one of the
// allowed roles. Requests that passed AuthRequired with auth disabled carry no
// role and are let through.
func RequireRole(cfg *config.JWTConfig, allowed ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg == nil || cfg.AccessSecret == "" {
			c.Next()
			return
		}
		role, exists := c.Get("role")
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		r, _ := role.(string)
		for _, a := range allowed {
			if r == a {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}

// GetStaffID returns the authenticated staff id, or 0 when auth is disabled.
func GetStaffID(c *gin.Context) uint {
	v, _ := c.Get("staff_id")
	if v == nil {
		return 0
	}
	return v.(uint)
}
