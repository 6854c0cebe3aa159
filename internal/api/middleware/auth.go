package middleware

import (
	"log"
	"net/http"

	"github.com/Conceptual-Machines/magda-variations/internal/config"
	"github.com/Conceptual-Machines/magda-variations/internal/models"
	"github.com/gin-gonic/gin"
)

const (
	ownerKey = "owner"
	roleKey  = "role"
)

// Auth picks the authentication middleware for cfg.AuthMode.
func Auth(cfg *config.Config) gin.HandlerFunc {
	switch {
	case cfg.IsGatewayMode():
		log.Println("🔐 Auth mode: gateway (trusting X-User-* headers)")
		return GatewayAuth()
	case cfg.IsJWTMode():
		if cfg.JWTSecret == "" {
			log.Println("⚠️  AUTH_MODE=jwt but JWT_SECRET is empty, every request will be rejected")
		}
		log.Println("🔐 Auth mode: jwt")
		return JWTAuth(cfg.JWTSecret)
	default:
		log.Println("🔓 Auth mode: none")
		return NoAuth()
	}
}

func setCaller(c *gin.Context, owner, role string) {
	c.Set(ownerKey, owner)
	c.Set(roleKey, role)
	// logger.WithContext reads user_id
	c.Set("user_id", owner)
}

// GetOwner returns the authenticated caller
func GetOwner(c *gin.Context) (string, bool) {
	owner := c.GetString(ownerKey)
	return owner, owner != ""
}

// GetRole returns the caller's role, empty when unknown
func GetRole(c *gin.Context) string {
	return c.GetString(roleKey)
}

// AdminRequired ensures the caller has the admin role
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetOwner(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		if GetRole(c) != models.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}

		c.Next()
	}
}
