package middleware

import (
	"github.com/gin-gonic/gin"
)

// AnonymousOwner is the owner assigned when AUTH_MODE=none.
const AnonymousOwner = "anonymous"

// NoAuth is a pass-through middleware for when AUTH_MODE=none.
// It allows all requests without authentication.
func NoAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		setCaller(c, AnonymousOwner, "")
		c.Next()
	}
}
