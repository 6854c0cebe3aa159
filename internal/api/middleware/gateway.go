package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GatewayAuth trusts caller info from gateway headers (X-User-ID, X-User-Role).
// This is used when the API runs behind an authenticating gateway
// which handles token validation and billing checks.
//
// When AUTH_MODE=gateway, the API trusts these headers unconditionally.
// This should ONLY be used in the hosted environment with proper network isolation.
func GatewayAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := c.GetHeader("X-User-ID")
		if owner == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "Authentication required",
				"message": "Missing X-User-ID header from gateway",
			})
			return
		}

		setCaller(c, owner, c.GetHeader("X-User-Role"))

		if email := c.GetHeader("X-User-Email"); email != "" {
			c.Set("user_email", email)
		}

		c.Next()
	}
}
