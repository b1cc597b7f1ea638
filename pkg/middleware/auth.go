package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/stagepass/session-service/internal/sessions"
	"github.com/stagepass/session-service/pkg/logger"
)

// ClaimsKey is the gin context key holding the verified token claims.
const ClaimsKey = "claims"

// Verifier is the minimal interface the middleware depends on
type Verifier interface {
	Verify(ctx context.Context, raw string) (map[string]interface{}, error)
}

// requestToken reads a Bearer token, falling back to the mirrored session cookie.
func requestToken(c *gin.Context) (string, bool) {
	if auth := c.GetHeader("Authorization"); auth != "" {
		token, ok := strings.CutPrefix(auth, "Bearer ")
		token = strings.TrimSpace(token)
		return token, ok && token != ""
	}
	if token, err := c.Cookie(sessions.CookieName); err == nil && token != "" {
		return token, true
	}
	return "", false
}

// SessionAuth verifies the caller's ID token and rejects tokens revoked at
// sign-out. Claims are stored under ClaimsKey.
func SessionAuth(ver Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := requestToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid Authorization header"})
			return
		}

		revoked, err := sessions.IsRevoked(c.Request.Context(), token)
		if err != nil {
			logger.Warnf("revocation lookup failed: %v", err)
		}
		if revoked {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token revoked"})
			return
		}

		claims, err := ver.Verify(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "details": err.Error()})
			return
		}
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}
