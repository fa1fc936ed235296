package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/auth"
)

// Context keys set by AuthMiddleware.
const (
	ContextProfileID = "profile_id"
	ContextPiUID     = "pi_uid"
)

type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

// AuthMiddleware requires a DropLink session token issued by POST /auth/pi.
func AuthMiddleware(parser TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		parts := strings.Fields(c.GetHeader("Authorization"))
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "missing or invalid authorization header"})
			return
		}

		claims, err := parser.Parse(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid session token"})
			return
		}

		c.Set(ContextProfileID, claims.Subject)
		c.Set(ContextPiUID, claims.PiUID)
		c.Next()
	}
}
